package notifier

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SlackChannel posts escalations to a Slack incoming webhook
type SlackChannel struct {
	sender *httpSender
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string `json:"color,omitempty"`
	Title     string `json:"title,omitempty"`
	Text      string `json:"text,omitempty"`
	Footer    string `json:"footer,omitempty"`
	Timestamp int64  `json:"ts,omitempty"`
}

// NewSlackChannel creates a Slack channel for webhookURL
func NewSlackChannel(webhookURL string, logger *zap.Logger, opts ...HTTPOption) *SlackChannel {
	return &SlackChannel{
		sender: newHTTPSender("slack", webhookURL, logger, opts),
	}
}

// Name implements Channel
func (c *SlackChannel) Name() string {
	return "slack"
}

// Publish implements Notifier
func (c *SlackChannel) Publish(ctx context.Context, message string) error {
	return c.sender.send(ctx, buildSlackMessage(message))
}

func buildSlackMessage(message string) SlackMessage {
	return SlackMessage{
		Text:      ":rotating_light: Pipeline remediation gave up",
		Username:  sourceName,
		IconEmoji: ":ambulance:",
		Attachments: []SlackAttachment{{
			Color:     "danger",
			Title:     "Unhealed failure",
			Text:      message,
			Footer:    sourceName,
			Timestamp: time.Now().Unix(),
		}},
	}
}
