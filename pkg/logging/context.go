package logging

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey names a correlation value stored on a context
type ContextKey string

const (
	CorrelationIDKey ContextKey = "correlation_id"
	RequestIDKey     ContextKey = "request_id"
	// EventIDKey holds the id of the inbound failure event
	EventIDKey       ContextKey = "event_id"
	// IdentityKey holds the incident identity being worked on
	IdentityKey      ContextKey = "identity"
	TraceIDKey       ContextKey = "trace_id"
	SpanIDKey        ContextKey = "span_id"
)

// contextKeys are copied onto every entry made by WithContext
var contextKeys = []ContextKey{
	CorrelationIDKey,
	RequestIDKey,
	EventIDKey,
	IdentityKey,
	TraceIDKey,
	SpanIDKey,
}

func NewCorrelationID() string {
	return uuid.NewString()
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func WithEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, EventIDKey, id)
}

func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

func WithSpanID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SpanIDKey, id)
}

// GetCorrelationID returns the correlation id on ctx, or ""
func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(CorrelationIDKey).(string)
	return id
}
