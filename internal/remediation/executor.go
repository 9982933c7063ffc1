// Package remediation applies remediation actions through the build and
// pipeline orchestration APIs.
package remediation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/errors"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/logging"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/metrics"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/tracing"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/types"
)

// RetryTokenKey is the override added to every re-triggered build so each
// start request is distinct
const RetryTokenKey = "DOCTOR_RETRY_TOKEN"

// RetryMode selects which part of a stage is re-run
type RetryMode string

const (
	RetryModeFailedActions RetryMode = "FAILED_ACTIONS"
)

// Defaults
const (
	DefaultTimeoutCeilingMinutes = 60
	DefaultBackoffDelay          = 30 * time.Second
)

// BuildAPI is the build orchestration service
type BuildAPI interface {
	Describe(ctx context.Context, buildID string) (*types.BuildInfo, error)
	UpdateTimeout(ctx context.Context, projectName string, minutes int) error
	Start(ctx context.Context, projectName string, overrides map[string]string) error
}

// PipelineAPI is the pipeline orchestration service
type PipelineAPI interface {
	RetryStage(ctx context.Context, pipelineName, executionID, stageName string, mode RetryMode) error
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Config holds the remediation policy knobs
type Config struct {
	TimeoutCeilingMinutes int
	BackoffDelay          time.Duration
}

// Executor applies actions. Re-triggers are fire-and-forget: Apply returns once
// the orchestration API accepted the request.
type Executor struct {
	builds    BuildAPI
	pipelines PipelineAPI
	config    Config

	sleep   Sleeper
	now     func() time.Time
	logger  *logging.Logger
	metrics *metrics.Metrics
	tracing *tracing.TracingService
}

// Option configures an Executor
type Option func(*Executor)

// WithSleeper replaces the backoff timer
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) { e.sleep = s }
}

// WithClock replaces the clock used for retry tokens
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithTracing sets the tracer
func WithTracing(ts *tracing.TracingService) Option {
	return func(e *Executor) { e.tracing = ts }
}

// NewExecutor creates an executor. A non-positive ceiling or a negative backoff falls back to the default.
func NewExecutor(builds BuildAPI, pipelines PipelineAPI, config Config, opts ...Option) *Executor {
	if config.TimeoutCeilingMinutes <= 0 {
		config.TimeoutCeilingMinutes = DefaultTimeoutCeilingMinutes
	}
	if config.BackoffDelay < 0 {
		config.BackoffDelay = DefaultBackoffDelay
	}

	e := &Executor{
		builds:    builds,
		pipelines: pipelines,
		config:    config,
		sleep:     sleepContext,
		now:       time.Now,
		logger:    logging.GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracing == nil {
		e.tracing = tracing.NewNoop()
	}
	return e
}

// Describe fetches build details for classification
func (e *Executor) Describe(ctx context.Context, buildID string) (*types.BuildInfo, error) {
	if e.builds == nil {
		return nil, errors.NewExecutionError("DESCRIBE", "no build API configured")
	}

	info, err := e.builds.Describe(ctx, buildID)
	if err != nil {
		return nil, errors.NewExecutionError("DESCRIBE", fmt.Sprintf("failed to describe build %s", buildID)).
			WithCause(err)
	}
	return info, nil
}

// Apply performs action against target
func (e *Executor) Apply(ctx context.Context, action types.Action, target types.Target) error {
	ctx, span := e.tracing.StartRemediationSpan(ctx, string(action))
	defer span.End()

	start := time.Now()
	err := e.apply(ctx, action, target)
	e.metrics.RecordRemediation(string(action), err == nil, time.Since(start))

	fields := logrus.Fields{
		"action":      string(action),
		"source_kind": string(target.SourceKind),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		e.tracing.RecordError(span, err)
		e.logger.LogError(ctx, err, "remediation failed", fields)
		return err
	}

	e.logger.WithContext(ctx).WithFields(fields).Info("remediation applied")
	return nil
}

func (e *Executor) apply(ctx context.Context, action types.Action, target types.Target) error {
	switch action {
	case types.ActionRetry:
		return e.retrigger(ctx, action, target)

	case types.ActionBumpTimeoutAndRetry:
		if err := e.requireBuild(action, target); err != nil {
			return err
		}
		if err := e.builds.UpdateTimeout(ctx, target.ProjectName, e.config.TimeoutCeilingMinutes); err != nil {
			return errors.NewExecutionError(string(action),
				fmt.Sprintf("failed to raise timeout of %s to %d minutes", target.ProjectName, e.config.TimeoutCeilingMinutes)).
				WithCause(err)
		}
		return e.retrigger(ctx, action, target)

	case types.ActionBackoffAndRetry:
		if err := e.requireBuild(action, target); err != nil {
			return err
		}
		if err := e.sleep(ctx, e.config.BackoffDelay); err != nil {
			return errors.NewExecutionError(string(action), "backoff interrupted").WithCause(err)
		}
		return e.retrigger(ctx, action, target)

	case types.ActionRetryStage:
		if e.pipelines == nil {
			return errors.NewExecutionError(string(action), "no pipeline API configured")
		}
		if target.Pipeline == "" || target.ExecutionID == "" || target.Stage == "" {
			return errors.NewExecutionError(string(action), "stage target is incomplete")
		}
		if err := e.pipelines.RetryStage(ctx, target.Pipeline, target.ExecutionID, target.Stage, RetryModeFailedActions); err != nil {
			return errors.NewExecutionError(string(action),
				fmt.Sprintf("failed to retry stage %s of %s", target.Stage, target.Pipeline)).
				WithCause(err)
		}
		return nil
	}

	return errors.NewExecutionError(string(action), fmt.Sprintf("%s is not a remediation action", action))
}

func (e *Executor) requireBuild(action types.Action, target types.Target) error {
	if e.builds == nil {
		return errors.NewExecutionError(string(action), "no build API configured")
	}
	if target.ProjectName == "" {
		return errors.NewExecutionError(string(action), fmt.Sprintf("project of build %s is unknown", target.BuildID))
	}
	return nil
}

func (e *Executor) retrigger(ctx context.Context, action types.Action, target types.Target) error {
	if err := e.requireBuild(action, target); err != nil {
		return err
	}

	overrides := map[string]string{
		RetryTokenKey: strconv.FormatInt(e.now().UnixNano(), 10),
	}
	if err := e.builds.Start(ctx, target.ProjectName, overrides); err != nil {
		return errors.NewExecutionError(string(action), fmt.Sprintf("failed to start %s", target.ProjectName)).
			WithCause(err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
