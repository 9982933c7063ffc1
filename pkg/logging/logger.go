// Package logging is the doctor's structured logger: logrus with service and
// version stamped on every entry, plus the correlation values carried on a
// context while an event is processed.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus. The key/value helpers (Info, Warn, Error, Debug) shadow
// the logrus printf-style methods of the same name.
type Logger struct {
	*logrus.Logger
	serviceName string
	version     string
}

// Config selects the level, format and destination of log output
type Config struct {
	Level       string `json:"level"`
	Format      string `json:"format"` // json or text
	Output      string `json:"output"` // stdout, stderr or a file path
	ServiceName string `json:"service_name"`
	Version     string `json:"version"`
}

func defaultConfig() *Config {
	return &Config{
		Level:       "info",
		Format:      "json",
		Output:      "stdout",
		ServiceName: "pipeline-doctor",
		Version:     "unknown",
	}
}

func formatter(format string) (logrus.Formatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
				logrus.FieldKeyFunc: "function",
			},
		}, nil
	case "text":
		return &logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true}, nil
	}
	return nil, fmt.Errorf("unsupported log format: %s", format)
}

func output(dest string) (io.Writer, error) {
	switch strings.ToLower(dest) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	file, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// NewLogger builds a logger from config; nil means JSON at info on stdout
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = defaultConfig()
	}

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	f, err := formatter(config.Format)
	if err != nil {
		return nil, err
	}
	w, err := output(config.Output)
	if err != nil {
		return nil, err
	}

	base := logrus.New()
	base.SetLevel(level)
	base.SetFormatter(f)
	base.SetOutput(w)
	base.SetReportCaller(true)

	return &Logger{Logger: base, serviceName: config.ServiceName, version: config.Version}, nil
}

func (l *Logger) base() logrus.Fields {
	return logrus.Fields{"service": l.serviceName, "version": l.version}
}

// WithContext returns an entry carrying every correlation value set on ctx
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	fields := l.base()
	for _, key := range contextKeys {
		if value := ctx.Value(key); value != nil {
			fields[string(key)] = value
		}
	}
	return l.Logger.WithFields(fields)
}

// WithFields returns an entry carrying fields plus service and version
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	merged := l.base()
	for k, v := range fields {
		merged[k] = v
	}
	return l.Logger.WithFields(merged)
}

func errorFields(err error) logrus.Fields {
	return logrus.Fields{"error": err.Error(), "error_type": fmt.Sprintf("%T", err)}
}

// WithError returns an entry describing err
func (l *Logger) WithError(err error) *logrus.Entry {
	if err == nil {
		return l.WithFields(nil)
	}
	return l.WithFields(errorFields(err))
}

// LogRequest writes the access log line for one HTTP request
func (l *Logger) LogRequest(ctx context.Context, method, path, userAgent, clientIP string, statusCode int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"http_method":      method,
		"http_path":        path,
		"http_status":      statusCode,
		"user_agent":       userAgent,
		"client_ip":        clientIP,
		"response_time_ms": duration.Milliseconds(),
	}).Info("HTTP request processed")
}

// LogIncidentEvent records one step in an incident's life: remediated,
// escalated, suppressed and so on
func (l *Logger) LogIncidentEvent(ctx context.Context, event, identity string, fields logrus.Fields) {
	l.WithContext(ctx).
		WithFields(logrus.Fields{"event": event, "identity": identity}).
		WithFields(fields).
		Info("Incident event")
}

// LogError logs err at error level. At debug level the goroutine stack is attached.
func (l *Logger) LogError(ctx context.Context, err error, message string, fields logrus.Fields) {
	entry := l.WithContext(ctx)
	if err != nil {
		entry = entry.WithFields(errorFields(err))
	}
	entry = entry.WithFields(fields)
	if l.IsLevelEnabled(logrus.DebugLevel) {
		entry = entry.WithField("stack_trace", stack())
	}
	entry.Error(message)
}

// LogPanic logs a value recovered from a panic with the stack that raised it
func (l *Logger) LogPanic(ctx context.Context, recovered interface{}, message string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"panic":       recovered,
		"stack_trace": stack(),
	}).Error(message)
}

func stack() string {
	buf := make([]byte, 4096)
	return string(buf[:runtime.Stack(buf, false)])
}

// SetOutput redirects the logger, typically to a buffer in tests
func (l *Logger) SetOutput(w io.Writer) {
	l.Logger.SetOutput(w)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.WithFields(pairs(keysAndValues)).Info(msg)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.WithFields(pairs(keysAndValues)).Warn(msg)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.WithFields(pairs(keysAndValues)).Error(msg)
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.WithFields(pairs(keysAndValues)).Debug(msg)
}

// pairs turns alternating keys and values into fields, dropping a trailing key
func pairs(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

var globalLogger = mustDefault()

func mustDefault() *Logger {
	l, err := NewLogger(nil)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default logger: %v", err))
	}
	return l
}

// GetLogger returns the process-wide logger
func GetLogger() *Logger {
	return globalLogger
}

// SetGlobalLogger replaces the process-wide logger; nil is ignored
func SetGlobalLogger(logger *Logger) {
	if logger != nil {
		globalLogger = logger
	}
}
