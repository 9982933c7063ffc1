package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/errors"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/resilience"
)

// HTTPOption configures the webhook based channels
type HTTPOption func(*httpSender)

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(s *httpSender) { s.client.Timeout = timeout }
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *httpSender) { s.client = client }
}

// WithRetryConfig replaces the delivery retry policy
func WithRetryConfig(config resilience.RetryConfig) HTTPOption {
	return func(s *httpSender) { s.retrier = resilience.NewRetrier(config) }
}

// httpSender posts JSON to a webhook with retries
type httpSender struct {
	channel string
	url     string
	client  *http.Client
	retrier *resilience.Retrier
	logger  *zap.Logger
}

func newHTTPSender(channel, url string, logger *zap.Logger, opts []HTTPOption) *httpSender {
	s := &httpSender{
		channel: channel,
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		retrier: resilience.NewRetrier(resilience.DefaultRetryConfig()),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *httpSender) send(ctx context.Context, payload interface{}) error {
	if s.url == "" {
		return errors.NewNotificationError(s.channel, fmt.Sprintf("%s webhook URL not configured", s.channel))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.NewNotificationError(s.channel, fmt.Sprintf("failed to marshal %s message", s.channel)).WithCause(err)
	}

	err = s.retrier.Execute(ctx, func(ctx context.Context) error {
		return s.post(ctx, body)
	})
	if err != nil {
		s.logger.Error("Failed to deliver escalation",
			zap.String("channel", s.channel),
			zap.String("webhook_url", maskWebhookURL(s.url)),
			zap.Error(err))
		return errors.NewNotificationError(s.channel, fmt.Sprintf("failed to deliver %s message", s.channel)).WithCause(err)
	}

	s.logger.Info("Successfully sent escalation",
		zap.String("channel", s.channel),
		zap.String("webhook_url", maskWebhookURL(s.url)))
	return nil
}

// post classifies failures so the retrier only repeats transient ones
func (s *httpSender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return errors.NewValidationError("failed to create request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			return errors.NewTimeoutError(s.channel + " webhook").WithCause(err)
		}
		return errors.NewExternalError(s.channel, "request failed").WithCause(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		rateErr := errors.NewRateLimitError(fmt.Sprintf("%s webhook returned status %d", s.channel, resp.StatusCode))
		if after := resp.Header.Get("Retry-After"); after != "" {
			rateErr = rateErr.WithDetail(resilience.RetryAfterDetail, after)
		}
		return rateErr
	case resp.StatusCode >= 500:
		return errors.NewExternalError(s.channel, fmt.Sprintf("%s webhook returned status %d", s.channel, resp.StatusCode))
	default:
		return errors.NewValidationError(fmt.Sprintf("%s webhook returned status %d", s.channel, resp.StatusCode))
	}
}

// maskWebhookURL masks the webhook URL for logging
func maskWebhookURL(url string) string {
	if len(url) < 20 {
		return "***"
	}
	return url[:20] + "***"
}
