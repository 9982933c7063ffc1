package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event outcomes
const (
	OutcomeRemediated = "remediated"
	OutcomeEscalated  = "escalated"
	OutcomeIgnored    = "ignored"
	OutcomeMalformed  = "malformed"
	OutcomeFailed     = "failed"
)

// Metrics are the doctor's Prometheus collectors. A nil *Metrics, or one
// built with Enabled false, records nothing.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	EventsTotal           *prometheus.CounterVec
	RemediationsTotal     *prometheus.CounterVec
	RemediationDuration   *prometheus.HistogramVec
	EscalationsTotal      prometheus.Counter
	NotificationsTotal    *prometheus.CounterVec
	StoreOperationLatency *prometheus.HistogramVec

	ErrorsTotal *prometheus.CounterVec
	PanicsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// Config selects the metric name prefix and registry
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`

	// Registry defaults to the process-wide Prometheus registry
	Registry *prometheus.Registry `json:"-"`
}

func DefaultConfig() *Config {
	return &Config{Namespace: "pipeline_doctor", Enabled: true}
}

// factory builds collectors under one namespace and remembers them for registration
type factory struct {
	namespace, subsystem string
	collectors           []prometheus.Collector
}

func (f *factory) counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: f.namespace, Subsystem: f.subsystem, Name: name, Help: help,
	})
	f.collectors = append(f.collectors, c)
	return c
}

func (f *factory) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: f.namespace, Subsystem: f.subsystem, Name: name, Help: help,
	}, labels)
	f.collectors = append(f.collectors, c)
	return c
}

func (f *factory) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: f.namespace, Subsystem: f.subsystem, Name: name, Help: help,
	}, labels)
	f.collectors = append(f.collectors, g)
	return g
}

func (f *factory) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: f.namespace, Subsystem: f.subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
	f.collectors = append(f.collectors, h)
	return h
}

// NewMetrics creates and registers every collector. Registering twice on the
// same registry panics, so tests pass their own Registry.
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return &Metrics{}
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if config.Registry != nil {
		registerer, gatherer = config.Registry, config.Registry
	}

	f := &factory{namespace: config.Namespace, subsystem: config.Subsystem}
	m := &Metrics{
		HTTPRequestsTotal: f.counterVec("http_requests_total",
			"HTTP requests served", "method", "path", "status_code"),
		HTTPRequestDuration: f.histogramVec("http_request_duration_seconds",
			"HTTP request latency", prometheus.DefBuckets, "method", "path", "status_code"),
		HTTPRequestsInFlight: f.gaugeVec("http_requests_in_flight",
			"HTTP requests being served", "method", "path"),

		EventsTotal: f.counterVec("events_total",
			"Inbound pipeline events by source kind and outcome", "source_kind", "outcome"),
		RemediationsTotal: f.counterVec("remediations_total",
			"Remediation actions applied", "action", "result"),
		RemediationDuration: f.histogramVec("remediation_duration_seconds",
			"Time spent applying a remediation action, including backoff",
			[]float64{0.1, 0.5, 1, 5, 15, 30, 60, 120}, "action"),
		EscalationsTotal: f.counter("escalations_total",
			"Incidents escalated after the retry budget ran out"),
		NotificationsTotal: f.counterVec("notifications_total",
			"Escalation deliveries by channel", "channel", "result"),
		StoreOperationLatency: f.histogramVec("store_operation_duration_seconds",
			"Incident store operation latency",
			[]float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}, "backend", "operation"),

		ErrorsTotal: f.counterVec("errors_total",
			"Errors by component and error type", "component", "error_type"),
		PanicsTotal: f.counterVec("panics_total",
			"Recovered panics", "component"),

		gatherer: gatherer,
	}
	registerer.MustRegister(f.collectors...)
	return m
}

func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.HTTPRequestsTotal == nil {
		return
	}

	status := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordEvent counts an inbound event by source kind and outcome
func (m *Metrics) RecordEvent(sourceKind, outcome string) {
	if m == nil || m.EventsTotal == nil {
		return
	}

	if sourceKind == "" {
		sourceKind = "unknown"
	}
	m.EventsTotal.WithLabelValues(sourceKind, outcome).Inc()
}

// RecordRemediation records one applied action
func (m *Metrics) RecordRemediation(action string, success bool, duration time.Duration) {
	if m == nil || m.RemediationsTotal == nil {
		return
	}

	m.RemediationsTotal.WithLabelValues(action, resultLabel(success)).Inc()
	m.RemediationDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordEscalation counts an escalation
func (m *Metrics) RecordEscalation() {
	if m == nil || m.EscalationsTotal == nil {
		return
	}

	m.EscalationsTotal.Inc()
}

// RecordNotification records a delivery attempt on a channel
func (m *Metrics) RecordNotification(channel string, success bool) {
	if m == nil || m.NotificationsTotal == nil {
		return
	}

	m.NotificationsTotal.WithLabelValues(channel, resultLabel(success)).Inc()
}

// RecordStoreOperation records incident store latency
func (m *Metrics) RecordStoreOperation(backend, operation string, duration time.Duration) {
	if m == nil || m.StoreOperationLatency == nil {
		return
	}

	m.StoreOperationLatency.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordError counts an error by component and AppError type
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil || m.ErrorsTotal == nil {
		return
	}

	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordPanic counts a panic recovered in component
func (m *Metrics) RecordPanic(component string) {
	if m == nil || m.PanicsTotal == nil {
		return
	}

	m.PanicsTotal.WithLabelValues(component).Inc()
}

// PrometheusMiddleware records every request under its route template, so
// /incidents/build:b1 and /incidents/build:b2 share one series
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		method, route := c.Request.Method, c.FullPath()
		if m != nil && m.HTTPRequestsInFlight != nil {
			inFlight := m.HTTPRequestsInFlight.WithLabelValues(method, route)
			inFlight.Inc()
			defer inFlight.Dec()
		}

		start := time.Now()
		c.Next()
		m.RecordHTTPRequest(method, route, c.Writer.Status(), time.Since(start))
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
