// Package tracing exports OpenTelemetry spans to Jaeger. Spans cover inbound
// HTTP requests, the handling of one failure event, each remediation call and
// each incident store operation. A disabled service hands out no-op spans.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/NikhilSetiya/pipeline-doctor"

// Config for the Jaeger exporter
type Config struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
	Enabled        bool    `json:"enabled"`
}

// TracingService starts the doctor's spans
type TracingService struct {
	tracer   trace.Tracer
	enabled  bool
	provider *sdktrace.TracerProvider
}

// NewTracingService installs a batching Jaeger pipeline as the global
// provider. With tracing disabled (or a nil config) nothing is exported.
func NewTracingService(config *Config) (*TracingService, error) {
	if config == nil || !config.Enabled {
		return NewNoop(), nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.JaegerEndpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(config.ServiceName),
		semconv.ServiceVersionKey.String(config.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(config.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SamplingRate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingService{
		tracer:   provider.Tracer(instrumentationName),
		enabled:  true,
		provider: provider,
	}, nil
}

// NewNoop returns a service whose spans are never recorded
func NewNoop() *TracingService {
	return &TracingService{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}
}

// Shutdown flushes buffered spans
func (ts *TracingService) Shutdown(ctx context.Context) error {
	if ts.provider == nil {
		return nil
	}
	return ts.provider.Shutdown(ctx)
}

// StartHTTPSpan starts the server span for one request
func (ts *TracingService) StartHTTPSpan(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return ts.tracer.Start(ctx, method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

// StartEventSpan starts the span covering one failure event from lookup to escalation
func (ts *TracingService) StartEventSpan(ctx context.Context, sourceKind, identity string) (context.Context, trace.Span) {
	return ts.tracer.Start(ctx, "incident.handle",
		trace.WithAttributes(
			attribute.String("incident.source_kind", sourceKind),
			attribute.String("incident.identity", identity),
		),
	)
}

// StartRemediationSpan starts a client span for the orchestration calls of one action
func (ts *TracingService) StartRemediationSpan(ctx context.Context, action string) (context.Context, trace.Span) {
	return ts.tracer.Start(ctx, "remediation."+action,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("remediation.action", action)),
	)
}

// storeSystems maps a store backend to its semantic db.system attribute
var storeSystems = map[string]attribute.KeyValue{
	"postgres": semconv.DBSystemPostgreSQL,
	"mysql":    semconv.DBSystemMySQL,
	"redis":    semconv.DBSystemRedis,
}

// StartStoreSpan starts a client span for one incident store operation.
// location is the table, or the key prefix for Redis.
func (ts *TracingService) StartStoreSpan(ctx context.Context, backend, operation, location string) (context.Context, trace.Span) {
	system, ok := storeSystems[backend]
	if !ok {
		system = attribute.String("db.system", backend)
	}
	return ts.tracer.Start(ctx, "store."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			system,
			semconv.DBOperationKey.String(operation),
			attribute.String("incident.store.location", location),
		),
	)
}

// RecordError marks span failed with err
func (ts *TracingService) RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
