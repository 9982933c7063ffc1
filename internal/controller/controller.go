// Package controller drives one failure event through the incident state machine:
// load the incident, spend retry budget on a remediation or escalate once the
// budget is gone, then persist the new state.
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/pipeline-doctor/internal/classifier"
	"github.com/NikhilSetiya/pipeline-doctor/internal/incident"
	"github.com/NikhilSetiya/pipeline-doctor/internal/notifier"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/errors"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/logging"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/metrics"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/tracing"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/types"
)

// DefaultMaxRetries is the retry budget per incident
const DefaultMaxRetries = 2

// Remediator applies remediation actions. *remediation.Executor implements it.
type Remediator interface {
	Describe(ctx context.Context, buildID string) (*types.BuildInfo, error)
	Apply(ctx context.Context, action types.Action, target types.Target) error
}

// Config contains the controller policy
type Config struct {
	MaxRetries int `json:"max_retries"`
	// SuppressRepeatEscalations skips the publish for incidents already UNHEALED
	SuppressRepeatEscalations bool `json:"suppress_repeat_escalations"`
}

// DefaultConfig returns the default controller policy
func DefaultConfig() *Config {
	return &Config{MaxRetries: DefaultMaxRetries}
}

// Dependencies are the collaborators of a Controller. Logger, Metrics,
// Tracing and Now are optional.
type Dependencies struct {
	Store      incident.Store
	Classifier classifier.Classifier
	Remediator Remediator
	Notifier   notifier.Notifier
	Config     *Config

	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Tracing *tracing.TracingService
	Now     func() time.Time
}

// Outcome describes what happened to an event
type Outcome struct {
	Identity   string               `json:"identity"`
	Action     types.Action         `json:"action"`
	RetryCount int                  `json:"retry_count"`
	Status     types.IncidentStatus `json:"status"`
	Escalated  bool                 `json:"escalated"`
	Suppressed bool                 `json:"suppressed,omitempty"`
}

// Controller is the incident controller
type Controller struct {
	store      incident.Store
	classifier classifier.Classifier
	remediator Remediator
	notifier   notifier.Notifier
	config     *Config

	logger  *logging.Logger
	metrics *metrics.Metrics
	tracing *tracing.TracingService
	now     func() time.Time
}

// New creates a controller
func New(deps Dependencies) (*Controller, error) {
	if deps.Store == nil {
		return nil, errors.NewValidationError("controller requires an incident store")
	}
	if deps.Remediator == nil {
		return nil, errors.NewValidationError("controller requires a remediator")
	}
	if deps.Notifier == nil {
		return nil, errors.NewValidationError("controller requires a notifier")
	}

	// A zero budget escalates on the first event
	cfg := DefaultConfig()
	if deps.Config != nil {
		if deps.Config.MaxRetries < 0 {
			return nil, errors.NewValidationError("max retries must not be negative")
		}
		copied := *deps.Config
		cfg = &copied
	}

	c := &Controller{
		store:      deps.Store,
		classifier: deps.Classifier,
		remediator: deps.Remediator,
		notifier:   deps.Notifier,
		config:     cfg,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		tracing:    deps.Tracing,
		now:        deps.Now,
	}

	if c.classifier == nil {
		c.classifier = classifier.New()
	}
	if c.logger == nil {
		c.logger = logging.GetLogger()
	}
	if c.tracing == nil {
		c.tracing = tracing.NewNoop()
	}
	if c.now == nil {
		c.now = time.Now
	}

	return c, nil
}

// HandleEvent processes one failure event.
//
// Store read, describe, remediation and notification failures are returned
// without writing anything, so a redelivery of the same event retries from the
// same retry count.
func (c *Controller) HandleEvent(ctx context.Context, event types.FailureEvent) (*Outcome, error) {
	identity := event.Identity()

	ctx = logging.WithIdentity(ctx, identity)
	if event.ID != "" {
		ctx = logging.WithEventID(ctx, event.ID)
	}
	ctx, span := c.tracing.StartEventSpan(ctx, string(event.SourceKind), identity)
	defer span.End()
	ctx = tracing.WithTraceContext(ctx)

	outcome, err := c.handle(ctx, event, identity)
	if err != nil {
		c.tracing.RecordError(span, err)
		c.metrics.RecordEvent(string(event.SourceKind), metrics.OutcomeFailed)
		c.metrics.RecordError("controller", string(errors.GetType(err)))
		c.logger.LogError(ctx, err, "failed to process event", logrus.Fields{
			"source_kind": string(event.SourceKind),
			"status_code": event.StatusCode,
		})
		return nil, err
	}

	result := metrics.OutcomeRemediated
	if outcome.Escalated || outcome.Suppressed {
		result = metrics.OutcomeEscalated
	}
	c.metrics.RecordEvent(string(event.SourceKind), result)

	return outcome, nil
}

func (c *Controller) handle(ctx context.Context, event types.FailureEvent, identity string) (*Outcome, error) {
	current, err := c.store.Get(ctx, identity)
	if incident.IsNotFound(err) {
		current = types.NewIncident(identity)
	} else if err != nil {
		return nil, err
	}

	if current.RetryCount >= c.config.MaxRetries {
		return c.escalate(ctx, event, current)
	}

	return c.remediate(ctx, event, current)
}

func (c *Controller) escalate(ctx context.Context, event types.FailureEvent, current *types.Incident) (*Outcome, error) {
	outcome := &Outcome{
		Identity:   current.Identity,
		Action:     types.ActionGaveUp,
		RetryCount: current.RetryCount,
		Status:     types.IncidentStatusUnhealed,
	}

	if c.config.SuppressRepeatEscalations && current.Status.IsTerminal() {
		outcome.Suppressed = true
		c.logger.LogIncidentEvent(ctx, "escalation_suppressed", current.Identity, logrus.Fields{
			"retry_count": current.RetryCount,
		})
	} else {
		message := EscalationMessage(event, current.RetryCount)
		if err := c.notifier.Publish(ctx, message); err != nil {
			return nil, err
		}
		outcome.Escalated = true
		c.metrics.RecordEscalation()
		c.logger.LogIncidentEvent(ctx, "escalated", current.Identity, logrus.Fields{
			"retry_count": current.RetryCount,
			"max_retries": c.config.MaxRetries,
		})
	}

	if err := c.store.Put(ctx, &types.Incident{
		Identity:    current.Identity,
		RetryCount:  current.RetryCount,
		LastAction:  types.ActionGaveUp,
		Status:      types.IncidentStatusUnhealed,
		LastUpdated: c.now().UTC(),
	}); err != nil {
		return nil, err
	}

	return outcome, nil
}

func (c *Controller) remediate(ctx context.Context, event types.FailureEvent, current *types.Incident) (*Outcome, error) {
	action := types.ActionRetryStage

	if event.SourceKind != types.SourceKindPipelineStage {
		info, err := c.remediator.Describe(ctx, event.BuildID)
		if err != nil {
			return nil, err
		}
		event.RawDetail = info.DiagnosticBlob
		if info.ProjectName != "" {
			event.ProjectName = info.ProjectName
		}
		action = c.classifier.Classify(event)
	}

	c.logger.LogIncidentEvent(ctx, "remediating", current.Identity, logrus.Fields{
		"action":      string(action),
		"retry_count": current.RetryCount,
	})

	if err := c.remediator.Apply(ctx, action, event.Target()); err != nil {
		return nil, err
	}

	next := &types.Incident{
		Identity:    current.Identity,
		RetryCount:  current.RetryCount + 1,
		LastAction:  action,
		Status:      types.IncidentStatusRetrying,
		LastUpdated: c.now().UTC(),
	}
	if err := c.store.Put(ctx, next); err != nil {
		return nil, err
	}

	return &Outcome{
		Identity:   next.Identity,
		Action:     action,
		RetryCount: next.RetryCount,
		Status:     next.Status,
	}, nil
}

// EscalationMessage renders the human readable escalation for an exhausted incident
func EscalationMessage(event types.FailureEvent, retryCount int) string {
	return fmt.Sprintf("Pipeline doctor gave up on %s after %d retries (incident %s, status %s)",
		event.ResourceRef(), retryCount, event.Identity(), event.StatusCode)
}
