package notifier

import (
	"context"

	"go.uber.org/zap"
)

// WebhookChannel posts an Escalation as JSON to any HTTP endpoint
type WebhookChannel struct {
	sender *httpSender
}

// NewWebhookChannel creates a generic webhook channel
func NewWebhookChannel(url string, logger *zap.Logger, opts ...HTTPOption) *WebhookChannel {
	return &WebhookChannel{
		sender: newHTTPSender("webhook", url, logger, opts),
	}
}

// Name implements Channel
func (c *WebhookChannel) Name() string {
	return "webhook"
}

// Publish implements Notifier
func (c *WebhookChannel) Publish(ctx context.Context, message string) error {
	return c.sender.send(ctx, newEscalation(message))
}
