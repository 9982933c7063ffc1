package notifier

import (
	"context"

	"go.uber.org/zap"
)

// LogChannel only writes escalations to the structured log
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel creates a log-only channel
func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

// Name implements Channel
func (c *LogChannel) Name() string {
	return "log"
}

// Publish implements Notifier
func (c *LogChannel) Publish(ctx context.Context, message string) error {
	c.logger.Warn("Escalation", zap.String("message", message))
	return nil
}
