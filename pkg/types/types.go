package types

import (
	"fmt"
	"time"
)

// SourceKind identifies which family of failure notification an event came from
type SourceKind string

const (
	SourceKindBuild         SourceKind = "build"
	SourceKindPipelineStage SourceKind = "pipeline-stage"
)

// Action is a remediation action, or the terminal GAVE_UP marker
type Action string

const (
	ActionRetry               Action = "RETRY"
	ActionBumpTimeoutAndRetry Action = "BUMP_TIMEOUT_AND_RETRY"
	ActionBackoffAndRetry     Action = "BACKOFF_AND_RETRY"
	ActionRetryStage          Action = "RETRY_STAGE"

	// ActionGaveUp is recorded as the last action once the retry budget is spent.
	// It is never executed.
	ActionGaveUp Action = "GAVE_UP"
)

// IsRemediation reports whether the action can be applied by the executor
func (a Action) IsRemediation() bool {
	switch a {
	case ActionRetry, ActionBumpTimeoutAndRetry, ActionBackoffAndRetry, ActionRetryStage:
		return true
	}
	return false
}

// IncidentStatus represents the lifecycle state of an incident
type IncidentStatus string

const (
	IncidentStatusRetrying IncidentStatus = "RETRYING"
	IncidentStatusUnhealed IncidentStatus = "UNHEALED"
)

// IsTerminal reports whether no further remediation may happen in this status
func (s IncidentStatus) IsTerminal() bool {
	return s == IncidentStatusUnhealed
}

// Incident is the persisted retry/status record for one recurring failure locus
type Incident struct {
	Identity    string         `json:"identity" db:"identity"`
	RetryCount  int            `json:"retry_count" db:"retry_count"`
	LastAction  Action         `json:"last_action" db:"last_action"`
	Status      IncidentStatus `json:"status" db:"status"`
	LastUpdated time.Time      `json:"last_updated" db:"last_updated"`
}

// NewIncident returns the zero-state incident used for identities never seen before
func NewIncident(identity string) *Incident {
	return &Incident{Identity: identity}
}

// FailureEvent is the normalized view of an inbound failure notification
type FailureEvent struct {
	ID          string     `json:"id,omitempty"`
	SourceKind  SourceKind `json:"source_kind"`
	BuildID     string     `json:"build_id,omitempty"`
	ProjectName string     `json:"project_name,omitempty"`
	Pipeline    string     `json:"pipeline,omitempty"`
	ExecutionID string     `json:"execution_id,omitempty"`
	Stage       string     `json:"stage,omitempty"`
	Action      string     `json:"action,omitempty"`
	StatusCode  string     `json:"status_code"`
	RawDetail   string     `json:"raw_detail,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
}

// Identity derives the incident key for the event.
// Builds are keyed by build id, stage failures by pipeline, execution and stage.
func (e FailureEvent) Identity() string {
	switch e.SourceKind {
	case SourceKindPipelineStage:
		return fmt.Sprintf("pipeline:%s:%s:%s", e.Pipeline, e.ExecutionID, e.Stage)
	default:
		return fmt.Sprintf("build:%s", e.BuildID)
	}
}

// ResourceRef returns a human readable reference to the failed unit of work
func (e FailureEvent) ResourceRef() string {
	if e.SourceKind == SourceKindPipelineStage {
		return fmt.Sprintf("pipeline %s (execution %s, stage %s)", e.Pipeline, e.ExecutionID, e.Stage)
	}
	return fmt.Sprintf("build %s", e.BuildID)
}

// Target returns the remediation target described by the event
func (e FailureEvent) Target() Target {
	return Target{
		SourceKind:  e.SourceKind,
		BuildID:     e.BuildID,
		ProjectName: e.ProjectName,
		Pipeline:    e.Pipeline,
		ExecutionID: e.ExecutionID,
		Stage:       e.Stage,
	}
}

// Target is the unit of work a remediation action is applied to
type Target struct {
	SourceKind  SourceKind `json:"source_kind"`
	BuildID     string     `json:"build_id,omitempty"`
	ProjectName string     `json:"project_name,omitempty"`
	Pipeline    string     `json:"pipeline,omitempty"`
	ExecutionID string     `json:"execution_id,omitempty"`
	Stage       string     `json:"stage,omitempty"`
}

// BuildInfo is what the build orchestration API reports about a build
type BuildInfo struct {
	BuildID        string `json:"build_id"`
	ProjectName    string `json:"project_name"`
	DiagnosticBlob string `json:"diagnostic_blob"`
}
