// Package app assembles the doctor's components from configuration. Both the
// HTTP service and the NATS consumer run the same controller built here.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/NikhilSetiya/pipeline-doctor/internal/classifier"
	"github.com/NikhilSetiya/pipeline-doctor/internal/controller"
	"github.com/NikhilSetiya/pipeline-doctor/internal/incident"
	"github.com/NikhilSetiya/pipeline-doctor/internal/ingest"
	"github.com/NikhilSetiya/pipeline-doctor/internal/notifier"
	"github.com/NikhilSetiya/pipeline-doctor/internal/orchestration/github"
	"github.com/NikhilSetiya/pipeline-doctor/internal/remediation"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/config"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/health"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/logging"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/metrics"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/tracing"
)

// Version is reported by the binaries and the tracing resource
const Version = "1.0.0"

// Options tweak what Build connects
type Options struct {
	// ServiceName names the process in logs, traces and the NATS connection
	ServiceName string
	// NeedNATS forces a NATS connection even when the notifier does not use one
	NeedNATS bool
}

// App holds the wired components of one process
type App struct {
	Config     *config.Config
	Logger     *logging.Logger
	ZapLogger  *zap.Logger
	Metrics    *metrics.Metrics
	Tracing    *tracing.TracingService
	Health     *health.Service
	Backend    *incident.Backend
	Store      incident.Store
	NATS       *nats.Conn
	Controller *controller.Controller
}

// NewLogger builds the logrus logger described by cfg and installs it globally
func NewLogger(cfg *config.Config, service string) (*logging.Logger, error) {
	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: service,
		Version:     Version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logging.SetGlobalLogger(logger)
	return logger, nil
}

// NewZapLogger builds the zap logger used by notification channels
func NewZapLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if strings.EqualFold(cfg.Logging.Format, "text") {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if level, err := zap.ParseAtomicLevel(cfg.Logging.Level); err == nil {
		zcfg.Level = level
	}
	return zcfg.Build()
}

// Build connects every component. On error nothing is left open.
func Build(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	if a.Logger, err = NewLogger(cfg, opts.ServiceName); err != nil {
		return nil, err
	}
	if a.ZapLogger, err = NewZapLogger(cfg); err != nil {
		return nil, fmt.Errorf("failed to create notifier logger: %w", err)
	}

	a.Metrics = metrics.NewMetrics(metrics.DefaultConfig())

	a.Tracing, err = tracing.NewTracingService(&tracing.Config{
		ServiceName:    opts.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Tracing.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a.Health = health.NewService(a.Logger, health.DefaultConfig())

	if a.Backend, err = incident.Open(cfg); err != nil {
		return nil, fmt.Errorf("failed to open incident store: %w", err)
	}
	a.Store = incident.Instrument(a.Backend.Store, a.Backend.Name, cfg.Store.Location, a.Metrics, a.Tracing)
	if a.Backend.Checker != nil {
		a.Health.RegisterChecker("store", a.Backend.Checker)
	}

	if opts.NeedNATS || cfg.Notify.Type == config.NotifyTypeNATS {
		if a.NATS, err = ingest.Connect(cfg.NATS, opts.ServiceName, a.Logger); err != nil {
			return nil, err
		}
		a.Health.RegisterChecker("nats", health.NewNATSChecker(a.NATS, "nats"))
	}

	gh, err := github.NewClient(ctx, cfg.GitHub, github.WithLogger(a.Logger))
	if err != nil {
		return nil, err
	}
	a.Health.RegisterChecker("github", gh.HealthChecker())

	executor := remediation.NewExecutor(gh, gh, remediation.Config{
		TimeoutCeilingMinutes: cfg.Doctor.TimeoutCeilingMinutes,
		BackoffDelay:          cfg.Doctor.BackoffDelay,
	},
		remediation.WithLogger(a.Logger),
		remediation.WithMetrics(a.Metrics),
		remediation.WithTracing(a.Tracing),
	)

	channel, err := notifier.New(cfg.Notify, a.ZapLogger, a.NATS)
	if err != nil {
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}

	a.Controller, err = controller.New(controller.Dependencies{
		Store:      a.Store,
		Classifier: classifier.New(),
		Remediator: executor,
		Notifier:   notifier.WithMetrics(channel, a.Metrics),
		Config: &controller.Config{
			MaxRetries:                cfg.Doctor.MaxRetries,
			SuppressRepeatEscalations: cfg.Doctor.SuppressRepeatEscalations,
		},
		Logger:  a.Logger,
		Metrics: a.Metrics,
		Tracing: a.Tracing,
	})
	if err != nil {
		return nil, err
	}

	a.Logger.Info("Components initialized",
		"store_backend", a.Backend.Name,
		"notify_type", channel.Name(),
		"max_retries", cfg.Doctor.MaxRetries)
	return a, nil
}

// Close releases connections in reverse order of Build
func (a *App) Close(ctx context.Context) {
	if a.NATS != nil {
		a.NATS.Close()
	}
	if a.Backend != nil {
		if err := a.Backend.Close(); err != nil && a.Logger != nil {
			a.Logger.Warn("Failed to close incident store", "error", err.Error())
		}
	}
	if a.Tracing != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.Tracing.Shutdown(shutdownCtx); err != nil && a.Logger != nil {
			a.Logger.Warn("Failed to flush traces", "error", err.Error())
		}
	}
	if a.ZapLogger != nil {
		_ = a.ZapLogger.Sync()
	}
}
