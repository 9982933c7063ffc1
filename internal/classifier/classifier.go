// Package classifier maps a failure event to the remediation action to apply.
package classifier

import (
	"strings"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/types"
)

// Default diagnostic markers
const (
	DefaultTimeoutMarker   = "TIMED_OUT"
	DefaultRateLimitMarker = "rate exceeded"
)

// Classifier decides which action to take for a failure event
type Classifier interface {
	Classify(event types.FailureEvent) types.Action
}

// TextClassifier picks an action by scanning the event's diagnostic text.
//
// Rules are evaluated in order and the last match wins:
// a stage failure always retries the stage; a build starts at RETRY,
// TimeoutMarker (case-sensitive) upgrades it to BUMP_TIMEOUT_AND_RETRY and
// RateLimitMarker (case-insensitive) upgrades it to BACKOFF_AND_RETRY.
type TextClassifier struct {
	TimeoutMarker   string
	RateLimitMarker string
}

// New returns a TextClassifier with the default markers
func New() *TextClassifier {
	return &TextClassifier{
		TimeoutMarker:   DefaultTimeoutMarker,
		RateLimitMarker: DefaultRateLimitMarker,
	}
}

// Classify implements Classifier. It is total: every event maps to a remediation.
func (c *TextClassifier) Classify(event types.FailureEvent) types.Action {
	if event.SourceKind == types.SourceKindPipelineStage {
		return types.ActionRetryStage
	}

	action := types.ActionRetry

	if c.TimeoutMarker != "" && strings.Contains(event.RawDetail, c.TimeoutMarker) {
		action = types.ActionBumpTimeoutAndRetry
	}

	if c.RateLimitMarker != "" &&
		strings.Contains(strings.ToLower(event.RawDetail), strings.ToLower(c.RateLimitMarker)) {
		action = types.ActionBackoffAndRetry
	}

	return action
}

// Func adapts an ordinary function to the Classifier interface
type Func func(event types.FailureEvent) types.Action

// Classify implements Classifier
func (f Func) Classify(event types.FailureEvent) types.Action {
	return f(event)
}
