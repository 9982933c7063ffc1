package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	appErrors "github.com/NikhilSetiya/pipeline-doctor/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) RetryConfig {
	config := DefaultRetryConfig()
	config.MaxAttempts = attempts
	config.InitialDelay = 5 * time.Millisecond
	config.Jitter = false
	return config
}

// failing returns an operation that fails with err until it has been called succeedOn times
func failing(err error, succeedOn int, calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		if succeedOn > 0 && *calls >= succeedOn {
			return nil
		}
		return err
	}
}

func TestRetrier_Execute(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		succeedOn int
		calls     int
		wantErr   string
		wantType  appErrors.ErrorType
	}{
		{name: "first attempt succeeds", err: nil, succeedOn: 1, calls: 1},
		{name: "gateway errors are retried", err: appErrors.NewExternalError("slack", "502 bad gateway"), succeedOn: 3, calls: 3},
		{
			name:     "attempts run out",
			err:      appErrors.NewTimeoutError("webhook post"),
			calls:    3,
			wantErr:  "operation failed after 3 attempts",
			wantType: appErrors.ErrorTypeTimeout,
		},
		{
			name:     "rejected payload is final",
			err:      appErrors.NewValidationError("webhook rejected payload"),
			calls:    1,
			wantErr:  "webhook rejected payload",
			wantType: appErrors.ErrorTypeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := NewRetrier(fastConfig(3)).Execute(context.Background(), failing(tt.err, tt.succeedOn, &calls))

			assert.Equal(t, tt.calls, calls)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, appErrors.IsType(err, tt.wantType))
		})
	}
}

func TestRetrier_ContextCancellation(t *testing.T) {
	config := fastConfig(5)
	config.InitialDelay = 100 * time.Millisecond
	retrier := NewRetrier(config)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	err := retrier.Execute(ctx, func(ctx context.Context) error {
		attempts++
		return appErrors.NewTimeoutError("webhook post")
	})

	require.Error(t, err)
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_CustomRetryableErrors(t *testing.T) {
	config := fastConfig(3)
	config.RetryableErrors = func(err error) bool {
		return err.Error() == "retryable"
	}
	retrier := NewRetrier(config)

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("retryable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	attempts = 0
	err = retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("not retryable")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_ExponentialBackoff(t *testing.T) {
	var delays []time.Duration
	config := RetryConfig{
		MaxAttempts:       4,
		InitialDelay:      10 * time.Millisecond,
		MaxDelay:          25 * time.Millisecond,
		BackoffMultiplier: 2.0,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		},
	}

	_ = NewRetrier(config).Execute(context.Background(), func(ctx context.Context) error {
		return appErrors.NewTimeoutError("webhook post")
	})

	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		25 * time.Millisecond,
	}, delays)
}

func TestDefaultRetryableErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"timeout error", appErrors.NewTimeoutError("timeout"), true},
		{"external error", appErrors.NewExternalError("service", "error"), true},
		{"rate limit error", appErrors.NewRateLimitError("slow down"), true},
		{"validation error", appErrors.NewValidationError("validation"), false},
		{"authentication error", appErrors.NewAuthenticationError("auth"), false},
		{"not found error", appErrors.NewNotFoundError("resource"), false},
		{"internal error", appErrors.NewInternalError("internal"), true},
		{"plain error", errors.New("connection reset"), true},
		{"circuit breaker error", &CircuitBreakerError{Name: "test", State: StateOpen}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, DefaultRetryableErrors(tt.err))
		})
	}
}

func TestRetrier_HonorsRetryAfter(t *testing.T) {
	retrier := NewRetrier(RetryConfig{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     1500 * time.Millisecond,
	})

	tests := []struct {
		name     string
		after    string
		expected time.Duration
	}{
		{"hint stretches the delay", "1", time.Second},
		{"hint is capped", "30", 1500 * time.Millisecond},
		{"http date is ignored", "Wed, 21 Oct 2015 07:28:00 GMT", time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := appErrors.NewRateLimitError("slack returned 429").WithDetail(RetryAfterDetail, tt.after)
			assert.Equal(t, tt.expected, retrier.wait(time.Millisecond, err))
		})
	}
}
