package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/errors"
)

// NATSChannel publishes escalations on a NATS subject
type NATSChannel struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSChannel creates a channel publishing on subject
func NewNATSChannel(conn *nats.Conn, subject string, logger *zap.Logger) *NATSChannel {
	return &NATSChannel{
		conn:    conn,
		subject: subject,
		logger:  logger,
	}
}

// Name implements Channel
func (c *NATSChannel) Name() string {
	return "nats"
}

// Publish implements Notifier. It flushes so a dead connection surfaces as an error.
func (c *NATSChannel) Publish(ctx context.Context, message string) error {
	data, err := json.Marshal(newEscalation(message))
	if err != nil {
		return errors.NewNotificationError("nats", "failed to marshal escalation").WithCause(err)
	}

	if err := c.conn.Publish(c.subject, data); err != nil {
		return errors.NewNotificationError("nats", fmt.Sprintf("failed to publish on %s", c.subject)).WithCause(err)
	}
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return errors.NewNotificationError("nats", fmt.Sprintf("failed to flush %s", c.subject)).WithCause(err)
	}

	c.logger.Info("Published escalation",
		zap.String("channel", "nats"),
		zap.String("subject", c.subject))
	return nil
}
