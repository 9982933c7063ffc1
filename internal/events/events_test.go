package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/errors"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/types"
)

func TestParse_BuildFailure(t *testing.T) {
	payload := []byte(`{
		"id": "evt-1",
		"source": "ci.builds",
		"detail-type": "Build State Change",
		"time": "2026-10-01T12:00:00Z",
		"detail": {"build-id": "b1", "build-status": "FAILED", "project-name": "app"}
	}`)

	result, err := Parse(payload)
	require.NoError(t, err)
	require.False(t, result.Ignored())

	event := result.Event
	assert.Equal(t, "evt-1", event.ID)
	assert.Equal(t, types.SourceKindBuild, event.SourceKind)
	assert.Equal(t, "b1", event.BuildID)
	assert.Equal(t, "app", event.ProjectName)
	assert.Equal(t, "FAILED", event.StatusCode)
	assert.Equal(t, "build:b1", event.Identity())
	assert.Contains(t, event.RawDetail, `"build-id": "b1"`)
	assert.Equal(t, 2026, event.ReceivedAt.Year())
}

func TestParse_StageFailure(t *testing.T) {
	payload := []byte(`{
		"id": "evt-2",
		"detail-type": "CodePipeline Action Execution State Change",
		"detail": {"pipeline": "p1", "execution-id": "e1", "stage": "Build", "action": "Compile", "state": "FAILED"}
	}`)

	result, err := Parse(payload)
	require.NoError(t, err)
	require.False(t, result.Ignored())

	event := result.Event
	assert.Equal(t, types.SourceKindPipelineStage, event.SourceKind)
	assert.Equal(t, "pipeline:p1:e1:Build", event.Identity())
	assert.Equal(t, "Compile", event.Action)
	assert.Equal(t, event.Target(), types.Target{
		SourceKind:  types.SourceKindPipelineStage,
		Pipeline:    "p1",
		ExecutionID: "e1",
		Stage:       "Build",
	})
}

func TestParse_Ignored(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"build succeeded", `{"detail-type":"Build State Change","detail":{"build-id":"b1","build-status":"SUCCEEDED"}}`},
		{"build in progress", `{"detail-type":"Build State Change","detail":{"build-id":"b1","build-status":"IN_PROGRESS"}}`},
		{"action succeeded", `{"detail-type":"Action Execution State Change","detail":{"pipeline":"p1","execution-id":"e1","stage":"Build","state":"SUCCEEDED"}}`},
		{"unknown family", `{"detail-type":"Deployment State Change","detail":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Parse([]byte(tt.payload))
			require.NoError(t, err)
			assert.True(t, result.Ignored())
			assert.NotEmpty(t, result.Reason)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `not json`},
		{"missing detail", `{"detail-type":"Build State Change"}`},
		{"detail wrong shape", `{"detail-type":"Build State Change","detail":"oops"}`},
		{"missing build id", `{"detail-type":"Build State Change","detail":{"build-status":"FAILED"}}`},
		{"incomplete stage", `{"detail-type":"Action Execution State Change","detail":{"pipeline":"p1","state":"FAILED"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Parse([]byte(tt.payload))
			assert.Nil(t, result)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		})
	}
}

func TestNormalize_AssignsID(t *testing.T) {
	result, err := Normalize(Envelope{
		DetailType: DetailTypeBuildStateChange,
		Detail:     []byte(`{"build-id":"b2","build-status":"TIMED_OUT"}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Event.ID)
	assert.Equal(t, "TIMED_OUT", result.Event.StatusCode)
}
