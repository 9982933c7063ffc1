// Package notifier delivers escalation messages to a human-facing channel.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/config"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/metrics"
)

// Notifier publishes an escalation message
type Notifier interface {
	Publish(ctx context.Context, message string) error
}

// Channel is a Notifier that knows its own type name
type Channel interface {
	Notifier
	Name() string
}

// Escalation is the structured payload sent by JSON channels
type Escalation struct {
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const sourceName = "pipeline-doctor"

func newEscalation(message string) Escalation {
	return Escalation{
		Source:    sourceName,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// New builds the channel selected by cfg. conn is only used by the nats channel.
func New(cfg config.NotifyConfig, logger *zap.Logger, conn *nats.Conn) (Channel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	switch cfg.Type {
	case config.NotifyTypeLog, "":
		return NewLogChannel(logger), nil
	case config.NotifyTypeSlack:
		return NewSlackChannel(cfg.Target, logger, WithTimeout(timeout)), nil
	case config.NotifyTypeTeams:
		return NewTeamsChannel(cfg.Target, logger, WithTimeout(timeout)), nil
	case config.NotifyTypeWebhook:
		return NewWebhookChannel(cfg.Target, logger, WithTimeout(timeout)), nil
	case config.NotifyTypeNATS:
		if conn == nil {
			return nil, fmt.Errorf("nats notification channel requires a NATS connection")
		}
		return NewNATSChannel(conn, cfg.Target, logger), nil
	}

	return nil, fmt.Errorf("unsupported notification type: %s", cfg.Type)
}

// Counted records a delivery metric for every publish on channel
type Counted struct {
	channel Channel
	metrics *metrics.Metrics
}

// WithMetrics wraps channel with delivery counters
func WithMetrics(channel Channel, m *metrics.Metrics) *Counted {
	return &Counted{channel: channel, metrics: m}
}

// Name implements Channel
func (c *Counted) Name() string {
	return c.channel.Name()
}

// Publish implements Notifier
func (c *Counted) Publish(ctx context.Context, message string) error {
	err := c.channel.Publish(ctx, message)
	c.metrics.RecordNotification(c.channel.Name(), err == nil)
	return err
}
