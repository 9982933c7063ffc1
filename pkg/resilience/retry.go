package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/errors"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/logging"
)

// RetryAfterDetail is the AppError detail a caller sets, in whole seconds,
// when the upstream told it how long to wait
const RetryAfterDetail = "retry_after"

// RetryConfig is the retry policy for one kind of outbound call
type RetryConfig struct {
	// MaxAttempts counts the first call
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// BackoffMultiplier grows the delay after each failed attempt
	BackoffMultiplier float64
	// Jitter adds up to 10% to each delay
	Jitter bool
	// RetryableErrors decides whether an error is worth another attempt
	RetryableErrors func(error) bool
	// OnRetry observes each scheduled retry
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig fits webhook delivery: three quick attempts inside a few seconds
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors treats timeouts, upstream failures and rate limiting as transient.
// Caller mistakes and an open circuit are final.
func DefaultRetryableErrors(err error) bool {
	if err == nil || IsCircuitBreakerError(err) {
		return false
	}

	switch errors.GetType(err) {
	case errors.ErrorTypeValidation, errors.ErrorTypeAuthentication, errors.ErrorTypeNotFound:
		return false
	default:
		return true
	}
}

// Retrier runs an operation until it succeeds, fails permanently or runs out of attempts
type Retrier struct {
	config RetryConfig
	logger *logging.Logger
}

// NewRetrier fills zero fields of config with working values
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.RetryableErrors == nil {
		config.RetryableErrors = DefaultRetryableErrors
	}

	return &Retrier{config: config, logger: logging.GetLogger()}
}

// Execute calls operation until it succeeds. The last error is returned wrapped
// once attempts run out; a permanent error is returned as is.
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) error) error {
	delay := r.config.InitialDelay

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Debug("Operation recovered", "attempt", attempt)
			}
			return nil
		}

		if !r.config.RetryableErrors(err) {
			return err
		}
		if attempt >= r.config.MaxAttempts {
			r.logger.WithError(err).WithField("attempts", attempt).Warn("Giving up after retries")
			return fmt.Errorf("operation failed after %d attempts: %w", attempt, err)
		}

		wait := r.wait(delay, err)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, wait)
		}
		r.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   wait.String(),
			"error":   err.Error(),
		}).Debug("Retrying operation")

		if err := sleep(ctx, wait); err != nil {
			return err
		}
		delay = time.Duration(float64(delay) * r.config.BackoffMultiplier)
	}
}

// wait is the capped backoff, stretched to an upstream Retry-After hint
func (r *Retrier) wait(delay time.Duration, err error) time.Duration {
	if hint, ok := retryAfter(err); ok && hint > delay {
		delay = hint
	}
	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	if r.config.Jitter {
		delay += time.Duration(rand.Float64() * 0.1 * float64(delay))
	}
	return delay
}

func retryAfter(err error) (time.Duration, bool) {
	appErr, ok := errors.As(err)
	if !ok {
		return 0, false
	}
	seconds, convErr := strconv.Atoi(appErr.Details[RetryAfterDetail])
	if convErr != nil || seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
