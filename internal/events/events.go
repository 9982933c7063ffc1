// Package events turns event bus envelopes into normalized failure events.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/errors"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/types"
)

// Notification families recognized in the envelope's detail-type
const (
	DetailTypeBuildStateChange  = "Build State Change"
	DetailTypeActionStateChange = "Action Execution State Change"
)

// Envelope is the tagged event bus message
type Envelope struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	DetailType string          `json:"detail-type"`
	Time       *time.Time      `json:"time,omitempty"`
	Detail     json.RawMessage `json:"detail"`
}

// BuildDetail is the detail of a build state change
type BuildDetail struct {
	BuildID     string `json:"build-id"`
	BuildStatus string `json:"build-status"`
	ProjectName string `json:"project-name"`
}

// ActionDetail is the detail of a pipeline action execution state change
type ActionDetail struct {
	Pipeline    string `json:"pipeline"`
	ExecutionID string `json:"execution-id"`
	Stage       string `json:"stage"`
	Action      string `json:"action"`
	State       string `json:"state"`
}

var buildFailureStatuses = map[string]bool{
	"FAILED":    true,
	"FAULT":     true,
	"TIMED_OUT": true,
}

const actionFailureState = "FAILED"

// Result is the outcome of normalizing one envelope.
// Event is nil when the envelope is not a failure the doctor acts on.
type Result struct {
	Envelope Envelope
	Event    *types.FailureEvent
	Reason   string
}

// Ignored reports whether the envelope should be acknowledged without processing
func (r *Result) Ignored() bool {
	return r.Event == nil
}

// Parse decodes and normalizes a raw envelope. Malformed input returns a validation error.
func Parse(payload []byte) (*Result, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.NewValidationError("event envelope is not valid JSON").WithCause(err)
	}
	return Normalize(env)
}

// Normalize filters non-failure envelopes and maps failures to a FailureEvent
func Normalize(env Envelope) (*Result, error) {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}

	receivedAt := time.Now().UTC()
	if env.Time != nil {
		receivedAt = env.Time.UTC()
	}

	switch {
	case strings.Contains(env.DetailType, DetailTypeBuildStateChange):
		return normalizeBuild(env, receivedAt)
	case strings.Contains(env.DetailType, DetailTypeActionStateChange):
		return normalizeAction(env, receivedAt)
	}

	return &Result{Envelope: env, Reason: fmt.Sprintf("unrecognized detail-type %q", env.DetailType)}, nil
}

func normalizeBuild(env Envelope, receivedAt time.Time) (*Result, error) {
	var detail BuildDetail
	if err := decodeDetail(env, &detail); err != nil {
		return nil, err
	}

	if !buildFailureStatuses[detail.BuildStatus] {
		return &Result{Envelope: env, Reason: fmt.Sprintf("build status %q is not a failure", detail.BuildStatus)}, nil
	}
	if detail.BuildID == "" {
		return nil, errors.NewValidationError("build event is missing build-id").
			WithDetail("event_id", env.ID)
	}

	return &Result{
		Envelope: env,
		Event: &types.FailureEvent{
			ID:          env.ID,
			SourceKind:  types.SourceKindBuild,
			BuildID:     detail.BuildID,
			ProjectName: detail.ProjectName,
			StatusCode:  detail.BuildStatus,
			RawDetail:   string(env.Detail),
			ReceivedAt:  receivedAt,
		},
	}, nil
}

func normalizeAction(env Envelope, receivedAt time.Time) (*Result, error) {
	var detail ActionDetail
	if err := decodeDetail(env, &detail); err != nil {
		return nil, err
	}

	if detail.State != actionFailureState {
		return &Result{Envelope: env, Reason: fmt.Sprintf("action state %q is not a failure", detail.State)}, nil
	}
	if detail.Pipeline == "" || detail.ExecutionID == "" || detail.Stage == "" {
		return nil, errors.NewValidationError("action event needs pipeline, execution-id and stage").
			WithDetail("event_id", env.ID)
	}

	return &Result{
		Envelope: env,
		Event: &types.FailureEvent{
			ID:          env.ID,
			SourceKind:  types.SourceKindPipelineStage,
			Pipeline:    detail.Pipeline,
			ExecutionID: detail.ExecutionID,
			Stage:       detail.Stage,
			Action:      detail.Action,
			StatusCode:  detail.State,
			RawDetail:   string(env.Detail),
			ReceivedAt:  receivedAt,
		},
	}, nil
}

func decodeDetail(env Envelope, v interface{}) error {
	if len(env.Detail) == 0 {
		return errors.NewValidationError(fmt.Sprintf("%s event has no detail", env.DetailType)).
			WithDetail("event_id", env.ID)
	}
	if err := json.Unmarshal(env.Detail, v); err != nil {
		return errors.NewValidationError(fmt.Sprintf("%s detail is malformed", env.DetailType)).
			WithDetail("event_id", env.ID).
			WithCause(err)
	}
	return nil
}

// UnknownSourceKind labels envelopes that never became a failure event
const UnknownSourceKind = "unknown"
