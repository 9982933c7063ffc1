package notifier

import (
	"context"

	"go.uber.org/zap"
)

// TeamsChannel posts escalations to a Microsoft Teams incoming webhook
type TeamsChannel struct {
	sender *httpSender
}

// TeamsMessage represents a Microsoft Teams message card
type TeamsMessage struct {
	Type       string `json:"@type"`
	Context    string `json:"@context"`
	Summary    string `json:"summary"`
	ThemeColor string `json:"themeColor,omitempty"`
	Title      string `json:"title,omitempty"`
	Text       string `json:"text,omitempty"`
}

// NewTeamsChannel creates a Teams channel for webhookURL
func NewTeamsChannel(webhookURL string, logger *zap.Logger, opts ...HTTPOption) *TeamsChannel {
	return &TeamsChannel{
		sender: newHTTPSender("teams", webhookURL, logger, opts),
	}
}

// Name implements Channel
func (c *TeamsChannel) Name() string {
	return "teams"
}

// Publish implements Notifier
func (c *TeamsChannel) Publish(ctx context.Context, message string) error {
	return c.sender.send(ctx, TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		Summary:    "Pipeline remediation gave up",
		ThemeColor: "d13438",
		Title:      "Pipeline remediation gave up",
		Text:       message,
	})
}
