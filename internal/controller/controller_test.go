package controller

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/pipeline-doctor/internal/incident"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/errors"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/metrics"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/types"
)

// MockRemediator is a mock implementation of Remediator
type MockRemediator struct {
	mock.Mock
}

func (m *MockRemediator) Describe(ctx context.Context, buildID string) (*types.BuildInfo, error) {
	args := m.Called(ctx, buildID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.BuildInfo), args.Error(1)
}

func (m *MockRemediator) Apply(ctx context.Context, action types.Action, target types.Target) error {
	args := m.Called(ctx, action, target)
	return args.Error(0)
}

// MockNotifier is a mock implementation of notifier.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Publish(ctx context.Context, message string) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

// failingStore fails every read
type failingStore struct {
	incident.Store
}

func (failingStore) Get(ctx context.Context, identity string) (*types.Incident, error) {
	return nil, errors.NewStoreError("get", "store unreachable")
}

var fixedNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store      *incident.MemoryStore
	remediator *MockRemediator
	notifier   *MockNotifier
	metrics    *metrics.Metrics
	controller *Controller
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	t.Helper()

	f := &fixture{
		store:      incident.NewMemoryStore(),
		remediator: new(MockRemediator),
		notifier:   new(MockNotifier),
		metrics: metrics.NewMetrics(&metrics.Config{
			Namespace: "test",
			Enabled:   true,
			Registry:  prometheus.NewRegistry(),
		}),
	}

	c, err := New(Dependencies{
		Store:      f.store,
		Remediator: f.remediator,
		Notifier:   f.notifier,
		Config:     cfg,
		Metrics:    f.metrics,
		Now:        func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	f.controller = c
	return f
}

func buildEvent(buildID string) types.FailureEvent {
	return types.FailureEvent{
		ID:         "evt-" + buildID,
		SourceKind: types.SourceKindBuild,
		BuildID:    buildID,
		StatusCode: "FAILED",
	}
}

func stageEvent() types.FailureEvent {
	return types.FailureEvent{
		SourceKind:  types.SourceKindPipelineStage,
		Pipeline:    "p1",
		ExecutionID: "e1",
		Stage:       "Build",
		StatusCode:  "FAILED",
	}
}

func stored(t *testing.T, store incident.Store, identity string) *types.Incident {
	t.Helper()
	inc, err := store.Get(context.Background(), identity)
	require.NoError(t, err)
	return inc
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Dependencies{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = New(Dependencies{Store: incident.NewMemoryStore()})
	assert.Error(t, err)

	_, err = New(Dependencies{Store: incident.NewMemoryStore(), Remediator: new(MockRemediator)})
	assert.Error(t, err)
}

func TestNew_ConfigHandling(t *testing.T) {
	deps := Dependencies{
		Store:      incident.NewMemoryStore(),
		Remediator: new(MockRemediator),
		Notifier:   new(MockNotifier),
	}

	c, err := New(deps)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRetries, c.config.MaxRetries)

	cfg := &Config{MaxRetries: 0}
	deps.Config = cfg
	c, err = New(deps)
	require.NoError(t, err)
	assert.Equal(t, 0, c.config.MaxRetries)
	assert.NotSame(t, cfg, c.config)

	deps.Config = &Config{MaxRetries: -1}
	_, err = New(deps)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestHandleEvent_ZeroBudgetEscalatesImmediately(t *testing.T) {
	f := newFixture(t, &Config{MaxRetries: 0})
	f.notifier.On("Publish", mock.Anything, mock.AnythingOfType("string")).Return(nil).Once()

	outcome, err := f.controller.HandleEvent(context.Background(), buildEvent("b0"))
	require.NoError(t, err)
	assert.True(t, outcome.Escalated)
	assert.Equal(t, types.ActionGaveUp, outcome.Action)
	assert.Equal(t, 0, outcome.RetryCount)

	inc := stored(t, f.store, "build:b0")
	assert.Equal(t, types.IncidentStatusUnhealed, inc.Status)
	assert.Equal(t, 0, inc.RetryCount)
	f.remediator.AssertNotCalled(t, "Describe", mock.Anything, mock.Anything)
	f.remediator.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertExpectations(t)
}

func TestHandleEvent_ScenarioA_BuildExhaustsBudget(t *testing.T) {
	f := newFixture(t, &Config{MaxRetries: 2})
	ctx := context.Background()
	event := buildEvent("b1")
	target := types.Target{SourceKind: types.SourceKindBuild, BuildID: "b1", ProjectName: "app"}

	f.remediator.On("Describe", mock.Anything, "b1").
		Return(&types.BuildInfo{BuildID: "b1", ProjectName: "app", DiagnosticBlob: `{"phase":"BUILD","status":"FAILED"}`}, nil)
	f.remediator.On("Apply", mock.Anything, types.ActionRetry, target).Return(nil).Twice()

	outcome, err := f.controller.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, types.ActionRetry, outcome.Action)
	assert.Equal(t, 1, outcome.RetryCount)
	inc := stored(t, f.store, "build:b1")
	assert.Equal(t, 1, inc.RetryCount)
	assert.Equal(t, types.IncidentStatusRetrying, inc.Status)
	assert.Equal(t, types.ActionRetry, inc.LastAction)
	assert.Equal(t, fixedNow, inc.LastUpdated)

	outcome, err = f.controller.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.RetryCount)
	assert.Equal(t, 2, stored(t, f.store, "build:b1").RetryCount)

	var message string
	f.notifier.On("Publish", mock.Anything, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { message = args.String(1) }).
		Return(nil).Once()

	outcome, err = f.controller.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.True(t, outcome.Escalated)
	assert.Equal(t, types.ActionGaveUp, outcome.Action)
	assert.Contains(t, message, "b1")
	assert.Contains(t, message, "2")

	inc = stored(t, f.store, "build:b1")
	assert.Equal(t, 2, inc.RetryCount)
	assert.Equal(t, types.IncidentStatusUnhealed, inc.Status)
	assert.Equal(t, types.ActionGaveUp, inc.LastAction)

	f.remediator.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.EscalationsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.EventsTotal.WithLabelValues("build", metrics.OutcomeRemediated)))
}

func TestHandleEvent_ScenarioB_StageRetry(t *testing.T) {
	f := newFixture(t, nil)
	event := stageEvent()

	f.remediator.On("Apply", mock.Anything, types.ActionRetryStage, types.Target{
		SourceKind:  types.SourceKindPipelineStage,
		Pipeline:    "p1",
		ExecutionID: "e1",
		Stage:       "Build",
	}).Return(nil).Once()

	outcome, err := f.controller.HandleEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, types.ActionRetryStage, outcome.Action)

	inc := stored(t, f.store, "pipeline:p1:e1:Build")
	assert.Equal(t, 1, inc.RetryCount)
	assert.Equal(t, types.IncidentStatusRetrying, inc.Status)
	assert.Equal(t, types.ActionRetryStage, inc.LastAction)

	f.remediator.AssertNotCalled(t, "Describe", mock.Anything, mock.Anything)
	f.remediator.AssertExpectations(t)
}

func TestHandleEvent_ScenarioC_ExecutorFailureKeepsBudget(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	event := buildEvent("b2")
	outage := errors.NewExecutionError(string(types.ActionRetry), "orchestration API unavailable")

	f.remediator.On("Describe", mock.Anything, "b2").
		Return(&types.BuildInfo{ProjectName: "app"}, nil)
	f.remediator.On("Apply", mock.Anything, types.ActionRetry, mock.Anything).Return(outage).Twice()

	for i := 0; i < 2; i++ {
		outcome, err := f.controller.HandleEvent(ctx, event)
		assert.Nil(t, outcome)
		assert.ErrorIs(t, err, outage)

		_, err = f.store.Get(ctx, "build:b2")
		assert.True(t, incident.IsNotFound(err), "failed attempt must not write state")
	}

	assert.Equal(t, 0, f.store.Len())
	f.remediator.AssertExpectations(t)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.EventsTotal.WithLabelValues("build", metrics.OutcomeFailed)))
}

func TestHandleEvent_ClassifiesDescribedDiagnostics(t *testing.T) {
	tests := []struct {
		name   string
		blob   string
		action types.Action
	}{
		{"plain failure", `{"status":"FAILED"}`, types.ActionRetry},
		{"timeout", `{"jobs":[{"conclusion":"TIMED_OUT"}]}`, types.ActionBumpTimeoutAndRetry},
		{"timeout and throttling", `{"status":"TIMED_OUT","message":"Rate Exceeded"}`, types.ActionBackoffAndRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.remediator.On("Describe", mock.Anything, "b3").
				Return(&types.BuildInfo{ProjectName: "app", DiagnosticBlob: tt.blob}, nil)
			f.remediator.On("Apply", mock.Anything, tt.action, mock.Anything).Return(nil).Once()

			outcome, err := f.controller.HandleEvent(context.Background(), buildEvent("b3"))
			require.NoError(t, err)
			assert.Equal(t, tt.action, outcome.Action)
			f.remediator.AssertExpectations(t)
		})
	}
}

func TestHandleEvent_TerminalIdempotence(t *testing.T) {
	f := newFixture(t, &Config{MaxRetries: 2})
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, &types.Incident{
		Identity:   "build:b4",
		RetryCount: 2,
		LastAction: types.ActionGaveUp,
		Status:     types.IncidentStatusUnhealed,
	}))

	f.notifier.On("Publish", mock.Anything, mock.Anything).Return(nil).Times(3)

	for i := 0; i < 3; i++ {
		outcome, err := f.controller.HandleEvent(ctx, buildEvent("b4"))
		require.NoError(t, err)
		assert.True(t, outcome.Escalated)
		assert.Equal(t, 2, stored(t, f.store, "build:b4").RetryCount)
	}

	f.remediator.AssertNotCalled(t, "Describe", mock.Anything, mock.Anything)
	f.remediator.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertExpectations(t)
}

func TestHandleEvent_SuppressRepeatEscalations(t *testing.T) {
	f := newFixture(t, &Config{MaxRetries: 1, SuppressRepeatEscalations: true})
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, &types.Incident{
		Identity:   "build:b5",
		RetryCount: 1,
		LastAction: types.ActionRetry,
		Status:     types.IncidentStatusRetrying,
	}))

	f.notifier.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	first, err := f.controller.HandleEvent(ctx, buildEvent("b5"))
	require.NoError(t, err)
	assert.True(t, first.Escalated)

	second, err := f.controller.HandleEvent(ctx, buildEvent("b5"))
	require.NoError(t, err)
	assert.False(t, second.Escalated)
	assert.True(t, second.Suppressed)

	inc := stored(t, f.store, "build:b5")
	assert.Equal(t, types.IncidentStatusUnhealed, inc.Status)
	assert.Equal(t, 1, inc.RetryCount)
	f.notifier.AssertExpectations(t)
}

func TestHandleEvent_NotificationFailureSkipsWrite(t *testing.T) {
	f := newFixture(t, &Config{MaxRetries: 1})
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, &types.Incident{
		Identity:   "build:b6",
		RetryCount: 1,
		LastAction: types.ActionRetry,
		Status:     types.IncidentStatusRetrying,
	}))

	f.notifier.On("Publish", mock.Anything, mock.Anything).
		Return(errors.NewNotificationError("slack", "webhook down")).Once()

	_, err := f.controller.HandleEvent(ctx, buildEvent("b6"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotification))

	inc := stored(t, f.store, "build:b6")
	assert.Equal(t, types.IncidentStatusRetrying, inc.Status)
	assert.Equal(t, types.ActionRetry, inc.LastAction)
}

func TestHandleEvent_DescribeFailurePropagates(t *testing.T) {
	f := newFixture(t, nil)
	f.remediator.On("Describe", mock.Anything, "b7").
		Return(nil, errors.NewExecutionError("DESCRIBE", "not found"))

	_, err := f.controller.HandleEvent(context.Background(), buildEvent("b7"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeExecution))
	assert.Equal(t, 0, f.store.Len())
	f.remediator.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleEvent_StoreReadFailurePropagates(t *testing.T) {
	remediator := new(MockRemediator)
	c, err := New(Dependencies{
		Store:      failingStore{},
		Remediator: remediator,
		Notifier:   new(MockNotifier),
	})
	require.NoError(t, err)

	_, err = c.HandleEvent(context.Background(), buildEvent("b8"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeStore))
	remediator.AssertNotCalled(t, "Describe", mock.Anything, mock.Anything)
}

func TestHandleEvent_MonotonicRetryCount(t *testing.T) {
	f := newFixture(t, &Config{MaxRetries: 5})
	ctx := context.Background()

	f.remediator.On("Describe", mock.Anything, "b9").Return(&types.BuildInfo{ProjectName: "app"}, nil)
	f.remediator.On("Apply", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.notifier.On("Publish", mock.Anything, mock.Anything).Return(nil)

	previous := 0
	for i := 0; i < 8; i++ {
		_, err := f.controller.HandleEvent(ctx, buildEvent("b9"))
		require.NoError(t, err)

		count := stored(t, f.store, "build:b9").RetryCount
		assert.GreaterOrEqual(t, count, previous)
		assert.LessOrEqual(t, count, 5)
		previous = count
	}

	f.remediator.AssertNumberOfCalls(t, "Apply", 5)
	f.notifier.AssertNumberOfCalls(t, "Publish", 3)
}

func TestEscalationMessage(t *testing.T) {
	msg := EscalationMessage(stageEvent(), 2)
	assert.Contains(t, msg, "pipeline p1")
	assert.Contains(t, msg, "stage Build")
	assert.Contains(t, msg, "after 2 retries")
	assert.Contains(t, msg, "pipeline:p1:e1:Build")
}
