package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/logging"
)

func TestNewTracingService_Disabled(t *testing.T) {
	ts, err := NewTracingService(&Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := ts.StartEventSpan(context.Background(), "build", "build:b1")
	defer span.End()

	assert.False(t, span.SpanContext().IsValid())
	assert.Equal(t, ctx, WithTraceContext(ctx))
	assert.NoError(t, ts.Shutdown(context.Background()))
}

func TestWithTraceContext(t *testing.T) {
	provider := sdktrace.NewTracerProvider()
	defer provider.Shutdown(context.Background())

	ts := &TracingService{tracer: provider.Tracer("test"), enabled: true, provider: provider}
	ctx, span := ts.StartStoreSpan(context.Background(), "postgres", "get", "incidents")
	defer span.End()

	ctx = WithTraceContext(ctx)
	assert.Equal(t, span.SpanContext().TraceID().String(), ctx.Value(logging.TraceIDKey))
	assert.Equal(t, span.SpanContext().SpanID().String(), ctx.Value(logging.SpanIDKey))
}

func TestTracingMiddleware_PropagatesTraceHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	provider := sdktrace.NewTracerProvider()
	defer provider.Shutdown(context.Background())
	ts := &TracingService{tracer: provider.Tracer("test"), enabled: true, provider: provider}

	var seen trace.SpanContext
	router := gin.New()
	router.Use(ts.TracingMiddleware())
	router.POST("/api/v1/events", func(c *gin.Context) {
		seen = trace.SpanContextFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/events", nil))

	assert.True(t, seen.IsValid())
	assert.Equal(t, http.StatusOK, w.Code)
}
