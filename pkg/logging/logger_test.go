package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	logger, err := NewLogger(&Config{
		Level:       level,
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(t, err)
	logger.SetOutput(&buf)
	return logger, &buf
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				Level:       "info",
				Format:      "json",
				Output:      "stdout",
				ServiceName: "test-service",
				Version:     "1.0.0",
			},
		},
		{
			name:   "text format",
			config: &Config{Level: "warn", Format: "text", Output: "stderr"},
		},
		{
			name:    "invalid log level",
			config:  &Config{Level: "invalid", Format: "json", Output: "stdout"},
			wantErr: true,
		},
		{
			name:    "invalid format",
			config:  &Config{Level: "info", Format: "invalid", Output: "stdout"},
			wantErr: true,
		},
		{
			name:   "nil config uses defaults",
			config: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	ctx := WithCorrelationID(context.Background(), "corr-1")
	ctx = WithEventID(ctx, "evt-1")
	ctx = WithIdentity(ctx, "build:b1")

	logger.WithContext(ctx).Info("test message")

	entry := decodeEntry(t, buf)
	assert.Equal(t, "corr-1", entry["correlation_id"])
	assert.Equal(t, "evt-1", entry["event_id"])
	assert.Equal(t, "build:b1", entry["identity"])
	assert.Equal(t, "test-service", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.Equal(t, "test message", entry["message"])
}

func TestLogger_LogRequest(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	logger.LogRequest(context.Background(), "POST", "/api/v1/events", "test-agent", "127.0.0.1", 200, 100*time.Millisecond)

	entry := decodeEntry(t, buf)
	assert.Equal(t, "POST", entry["http_method"])
	assert.Equal(t, "/api/v1/events", entry["http_path"])
	assert.Equal(t, float64(200), entry["http_status"])
	assert.Equal(t, float64(100), entry["response_time_ms"])
}

func TestLogger_LogIncidentEvent(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	logger.LogIncidentEvent(context.Background(), "remediated", "build:b1", logrus.Fields{
		"action":      "RETRY",
		"retry_count": 1,
	})

	entry := decodeEntry(t, buf)
	assert.Equal(t, "remediated", entry["event"])
	assert.Equal(t, "build:b1", entry["identity"])
	assert.Equal(t, "RETRY", entry["action"])
	assert.Equal(t, float64(1), entry["retry_count"])
}

func TestLogger_LogError(t *testing.T) {
	logger, buf := newTestLogger(t, "debug")

	logger.LogError(context.Background(), assert.AnError, "processing failed", logrus.Fields{
		"component": "controller",
	})

	entry := decodeEntry(t, buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "processing failed", entry["message"])
	assert.Equal(t, assert.AnError.Error(), entry["error"])
	assert.Equal(t, "controller", entry["component"])
	assert.NotEmpty(t, entry["stack_trace"])
}

func TestLogger_KeyValueHelpers(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	logger.Info("escalated", "identity", "build:b1", "retry_count", 2, "dangling")

	entry := decodeEntry(t, buf)
	assert.Equal(t, "escalated", entry["message"])
	assert.Equal(t, "build:b1", entry["identity"])
	assert.Equal(t, float64(2), entry["retry_count"])
	assert.NotContains(t, entry, "dangling")
}

func TestGetCorrelationID(t *testing.T) {
	assert.Equal(t, "", GetCorrelationID(context.Background()))

	ctx := WithCorrelationID(context.Background(), "abc")
	assert.Equal(t, "abc", GetCorrelationID(ctx))
}
