package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/pipeline-doctor/internal/controller"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/config"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/types"
)

// startJetStream starts an embedded NATS server with JetStream enabled
func startJetStream(t *testing.T) *natsserver.Server {
	t.Helper()

	server, err := natsserver.NewServer(&natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

// recordingProcessor remembers the identities it handled
type recordingProcessor struct {
	mu         sync.Mutex
	identities []string
}

func (p *recordingProcessor) HandleEvent(ctx context.Context, event types.FailureEvent) (*controller.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identities = append(p.identities, event.Identity())
	return &controller.Outcome{Identity: event.Identity(), Action: types.ActionRetryStage, RetryCount: 1}, nil
}

func (p *recordingProcessor) handled() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.identities...)
}

func stageFailureFor(execution string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt-%s","detail-type":"Action Execution State Change","detail":{"pipeline":"org/app","execution-id":"%s","stage":"Build","state":"FAILED"}}`, execution, execution))
}

func runInBackground(consumer *Consumer) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()
	return cancel, done
}

func stop(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestRun_ResumesAfterRestart(t *testing.T) {
	server := startJetStream(t)
	conn, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer conn.Close()

	js, err := conn.JetStream()
	require.NoError(t, err)

	cfg := config.NATSConfig{
		Stream:     "TEST_EVENTS",
		Subject:    "test.events.failure",
		Durable:    "doctor-test",
		AckWait:    5 * time.Second,
		MaxDeliver: 3,
	}
	processor := &recordingProcessor{}
	consumer := NewConsumer(conn, cfg, processor, nil, nil)
	require.NoError(t, consumer.ensureStream(js))

	_, err = js.Publish(cfg.Subject, stageFailureFor("1"))
	require.NoError(t, err)

	cancel, done := runInBackground(consumer)
	require.Eventually(t, func() bool { return len(processor.handled()) == 1 }, 5*time.Second, 20*time.Millisecond)
	stop(t, cancel, done)

	info, err := js.ConsumerInfo(cfg.Stream, cfg.Durable)
	require.NoError(t, err, "durable must survive shutdown")
	assert.Equal(t, 0, info.NumAckPending)
	require.Eventually(t, func() bool {
		info, err := js.ConsumerInfo(cfg.Stream, cfg.Durable)
		return err == nil && !info.PushBound
	}, 5*time.Second, 20*time.Millisecond)

	_, err = js.Publish(cfg.Subject, stageFailureFor("2"))
	require.NoError(t, err)

	restarted := NewConsumer(conn, cfg, processor, nil, nil)
	cancel, done = runInBackground(restarted)
	require.Eventually(t, func() bool { return len(processor.handled()) == 2 }, 5*time.Second, 20*time.Millisecond)
	stop(t, cancel, done)

	assert.Equal(t, []string{
		"pipeline:org/app:1:Build",
		"pipeline:org/app:2:Build",
	}, processor.handled())
}

func TestDispatch_ReleasesMessagesWhileClosing(t *testing.T) {
	processor := new(MockProcessor)
	consumer, _ := newTestConsumer(processor)
	consumer.closing = true
	msg := &fakeMessage{data: []byte(stageFailure)}

	consumer.dispatch(context.Background(), msg)
	consumer.wg.Wait()

	assert.Equal(t, []string{"nak"}, msg.settled)
	processor.AssertNotCalled(t, "HandleEvent", mock.Anything, mock.Anything)
}
