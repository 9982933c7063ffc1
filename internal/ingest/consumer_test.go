package ingest

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/NikhilSetiya/pipeline-doctor/internal/controller"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/config"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/errors"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/metrics"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/types"
)

const stageFailure = `{"id":"evt-9","detail-type":"Action Execution State Change","detail":{"pipeline":"org/app","execution-id":"42","stage":"Build","state":"FAILED"}}`

// MockProcessor is a mock implementation of EventProcessor
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) HandleEvent(ctx context.Context, event types.FailureEvent) (*controller.Outcome, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*controller.Outcome), args.Error(1)
}

// fakeMessage records how it was settled
type fakeMessage struct {
	data    []byte
	settled []string
}

func (m *fakeMessage) Data() []byte { return m.data }
func (m *fakeMessage) Ack() error   { m.settled = append(m.settled, "ack"); return nil }
func (m *fakeMessage) Nak() error   { m.settled = append(m.settled, "nak"); return nil }
func (m *fakeMessage) Term() error  { m.settled = append(m.settled, "term"); return nil }

func newTestConsumer(processor EventProcessor) (*Consumer, *metrics.Metrics) {
	m := metrics.NewMetrics(&metrics.Config{Namespace: "test", Enabled: true, Registry: prometheus.NewRegistry()})
	return NewConsumer(nil, config.NATSConfig{Subject: "doctor.events"}, processor, nil, m), m
}

func TestHandle_Dispositions(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		setup    func(p *MockProcessor)
		expected Disposition
	}{
		{
			name:    "processed event is acked",
			payload: stageFailure,
			setup: func(p *MockProcessor) {
				p.On("HandleEvent", mock.Anything, mock.MatchedBy(func(e types.FailureEvent) bool {
					return e.Identity() == "pipeline:org/app:42:Build"
				})).Return(&controller.Outcome{Identity: "pipeline:org/app:42:Build", Action: types.ActionRetryStage, RetryCount: 1}, nil)
			},
			expected: Ack,
		},
		{
			name:    "processing error is nacked for redelivery",
			payload: stageFailure,
			setup: func(p *MockProcessor) {
				p.On("HandleEvent", mock.Anything, mock.Anything).
					Return(nil, errors.NewExecutionError("RETRY_STAGE", "api down"))
			},
			expected: Nak,
		},
		{
			name:     "non failure is acked without processing",
			payload:  `{"detail-type":"Action Execution State Change","detail":{"pipeline":"p","execution-id":"1","stage":"Build","state":"SUCCEEDED"}}`,
			setup:    func(p *MockProcessor) {},
			expected: Ack,
		},
		{
			name:     "malformed payload is terminated",
			payload:  `{{`,
			setup:    func(p *MockProcessor) {},
			expected: Term,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := new(MockProcessor)
			tt.setup(processor)
			consumer, _ := newTestConsumer(processor)
			msg := &fakeMessage{data: []byte(tt.payload)}

			got := consumer.Handle(context.Background(), msg)

			assert.Equal(t, tt.expected, got)
			assert.Equal(t, []string{tt.expected.String()}, msg.settled)
			processor.AssertExpectations(t)
		})
	}
}

func TestProcess_RecordsFilteredEvents(t *testing.T) {
	consumer, m := newTestConsumer(new(MockProcessor))
	ctx := context.Background()

	consumer.Process(ctx, []byte(`not json`))
	consumer.Process(ctx, []byte(`{"detail-type":"Deployment State Change","detail":{}}`))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsTotal.WithLabelValues("unknown", metrics.OutcomeMalformed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsTotal.WithLabelValues("unknown", metrics.OutcomeIgnored)))
}

func TestDispositionString(t *testing.T) {
	assert.Equal(t, "ack", Ack.String())
	assert.Equal(t, "nak", Nak.String())
	assert.Equal(t, "term", Term.String())
	assert.Equal(t, "unknown", Disposition(9).String())
}
