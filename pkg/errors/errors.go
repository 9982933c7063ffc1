// Package errors is the doctor's error taxonomy. Each AppError carries a type
// that callers branch on (the HTTP layer maps it to a status, the retrier to
// a retry decision) and details that travel into logs and API responses.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType classifies an AppError
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeInternal       ErrorType = "internal"
	ErrorTypeExternal       ErrorType = "external"
	ErrorTypeTimeout        ErrorType = "timeout"

	// ErrorTypeStore means the incident store could not be read or written
	ErrorTypeStore          ErrorType = "store"
	// ErrorTypeExecution means an orchestration call made by a remediation failed
	ErrorTypeExecution      ErrorType = "execution"
	ErrorTypeClassification ErrorType = "classification"
	// ErrorTypeNotification means an escalation could not be delivered
	ErrorTypeNotification   ErrorType = "notification"
)

// codes are the machine-readable codes returned to API clients
var codes = map[ErrorType]string{
	ErrorTypeValidation:     "VALIDATION_ERROR",
	ErrorTypeAuthentication: "AUTHENTICATION_ERROR",
	ErrorTypeNotFound:       "NOT_FOUND",
	ErrorTypeRateLimit:      "RATE_LIMIT_EXCEEDED",
	ErrorTypeInternal:       "INTERNAL_ERROR",
	ErrorTypeExternal:       "EXTERNAL_SERVICE_ERROR",
	ErrorTypeTimeout:        "TIMEOUT",
	ErrorTypeStore:          "STORE_ERROR",
	ErrorTypeExecution:      "EXECUTION_ERROR",
	ErrorTypeClassification: "CLASSIFICATION_ERROR",
	ErrorTypeNotification:   "NOTIFICATION_ERROR",
}

// AppError is a typed error with string details
type AppError struct {
	Type      ErrorType         `json:"type"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

func (e *AppError) Error() string {
	msg := e.Code + ": " + e.Message
	if e.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Cause)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates an error with an explicit code
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   map[string]string{},
		Timestamp: time.Now(),
	}
}

func newTyped(t ErrorType, message string) *AppError {
	return NewAppError(t, codes[t], message)
}

// WithCause records the underlying error; it is returned by Unwrap
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = map[string]string{}
	}
	e.Details[key] = value
	return e
}

func NewValidationError(message string) *AppError {
	return newTyped(ErrorTypeValidation, message)
}

func NewAuthenticationError(message string) *AppError {
	return newTyped(ErrorTypeAuthentication, message)
}

// NewNotFoundError reports that resource does not exist, e.g. "incident build:b1"
func NewNotFoundError(resource string) *AppError {
	return newTyped(ErrorTypeNotFound, resource+" not found")
}

func NewRateLimitError(message string) *AppError {
	return newTyped(ErrorTypeRateLimit, message)
}

func NewInternalError(message string) *AppError {
	return newTyped(ErrorTypeInternal, message)
}

func NewExternalError(service, message string) *AppError {
	return newTyped(ErrorTypeExternal, message).WithDetail("service", service)
}

func NewTimeoutError(operation string) *AppError {
	return newTyped(ErrorTypeTimeout, operation+" timed out")
}

// NewStoreError reports a failed incident store operation (get, put, migrate)
func NewStoreError(operation, message string) *AppError {
	return newTyped(ErrorTypeStore, message).WithDetail("operation", operation)
}

// NewExecutionError reports a failed orchestration call made while applying action
func NewExecutionError(action, message string) *AppError {
	return newTyped(ErrorTypeExecution, message).WithDetail("action", action)
}

func NewClassificationError(message string) *AppError {
	return newTyped(ErrorTypeClassification, message)
}

// NewNotificationError reports an escalation that channel failed to deliver
func NewNotificationError(channel, message string) *AppError {
	return newTyped(ErrorTypeNotification, message).WithDetail("channel", channel)
}

// As returns the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	ok := stderrors.As(err, &appErr)
	return appErr, ok
}

// IsType reports whether err's chain holds an AppError of errorType
func IsType(err error, errorType ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == errorType
}

// GetCode returns the AppError code, or UNKNOWN_ERROR for other errors
func GetCode(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the AppError type; other errors count as internal
func GetType(err error) ErrorType {
	if appErr, ok := As(err); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}
