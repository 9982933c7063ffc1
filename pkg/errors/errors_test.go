package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := NewStoreError("get", "failed to read incident")
	assert.Equal(t, "STORE_ERROR: failed to read incident", err.Error())

	err.WithCause(stderrors.New("connection refused"))
	assert.Equal(t, "STORE_ERROR: failed to read incident (caused by: connection refused)", err.Error())
	assert.Equal(t, "get", err.Details["operation"])
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		wantType ErrorType
		wantCode string
	}{
		{"store", NewStoreError("put", "x"), ErrorTypeStore, "STORE_ERROR"},
		{"execution", NewExecutionError("RETRY", "x"), ErrorTypeExecution, "EXECUTION_ERROR"},
		{"classification", NewClassificationError("x"), ErrorTypeClassification, "CLASSIFICATION_ERROR"},
		{"notification", NewNotificationError("slack", "x"), ErrorTypeNotification, "NOTIFICATION_ERROR"},
		{"not found", NewNotFoundError("incident"), ErrorTypeNotFound, "NOT_FOUND"},
		{"external", NewExternalError("github", "x"), ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.False(t, tt.err.Timestamp.IsZero())
		})
	}
}

func TestIsType_WalksWrappedErrors(t *testing.T) {
	base := NewExecutionError("RETRY", "start build failed")
	wrapped := fmt.Errorf("handle event: %w", base)

	assert.True(t, IsType(wrapped, ErrorTypeExecution))
	assert.False(t, IsType(wrapped, ErrorTypeStore))
	assert.Equal(t, "EXECUTION_ERROR", GetCode(wrapped))
	assert.Equal(t, ErrorTypeExecution, GetType(wrapped))
}

func TestIsType_PlainError(t *testing.T) {
	plain := stderrors.New("boom")

	assert.False(t, IsType(plain, ErrorTypeInternal))
	assert.Equal(t, "UNKNOWN_ERROR", GetCode(plain))
	assert.Equal(t, ErrorTypeInternal, GetType(plain))
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := NewNotificationError("teams", "delivery failed").WithCause(cause)

	assert.True(t, stderrors.Is(err, cause))
}
