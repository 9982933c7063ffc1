// Package ingest feeds failure events from a NATS JetStream stream into the
// incident controller.
package ingest

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/pipeline-doctor/internal/controller"
	"github.com/NikhilSetiya/pipeline-doctor/internal/events"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/config"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/logging"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/metrics"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/types"
)

// EventProcessor handles one normalized failure event. *controller.Controller implements it.
type EventProcessor interface {
	HandleEvent(ctx context.Context, event types.FailureEvent) (*controller.Outcome, error)
}

// Disposition is what the consumer tells JetStream about a message
type Disposition int

const (
	// Ack removes the message: it was processed or is not actionable
	Ack Disposition = iota
	// Nak asks for redelivery after a processing error
	Nak
	// Term drops a message that can never be processed
	Term
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Nak:
		return "nak"
	case Term:
		return "term"
	default:
		return "unknown"
	}
}

// Message is the part of a JetStream message the consumer uses
type Message interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

type jsMessage struct {
	msg *nats.Msg
}

func (m jsMessage) Data() []byte { return m.msg.Data }
func (m jsMessage) Ack() error   { return m.msg.Ack() }
func (m jsMessage) Nak() error   { return m.msg.Nak() }
func (m jsMessage) Term() error  { return m.msg.Term() }

const (
	deliverPrefix       = "_DOCTOR.deliver."
	defaultDrainTimeout = 30 * time.Second
)

// Consumer is a durable JetStream push consumer with manual acks
type Consumer struct {
	conn         *nats.Conn
	cfg          config.NATSConfig
	processor    EventProcessor
	logger       *logging.Logger
	metrics      *metrics.Metrics
	drainTimeout time.Duration

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewConsumer creates a consumer reading cfg.Subject
func NewConsumer(conn *nats.Conn, cfg config.NATSConfig, processor EventProcessor, logger *logging.Logger, m *metrics.Metrics) *Consumer {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Consumer{
		conn:         conn,
		cfg:          cfg,
		processor:    processor,
		logger:       logger,
		metrics:      m,
		drainTimeout: defaultDrainTimeout,
	}
}

// Connect opens a NATS connection that logs its connection state changes
func Connect(cfg config.NATSConfig, name string, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(10*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// Run binds to the durable consumer and processes messages until ctx is
// cancelled. Shutdown drains the subscription, waits for in-flight events and
// leaves the durable in place so the next run resumes after the last ack.
func (c *Consumer) Run(ctx context.Context) error {
	js, err := c.conn.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := c.ensureStream(js); err != nil {
		return err
	}
	if err := c.ensureConsumer(js); err != nil {
		return err
	}

	c.mu.Lock()
	c.closing = false
	c.mu.Unlock()

	sub, err := js.Subscribe(c.cfg.Subject, func(msg *nats.Msg) {
		c.dispatch(ctx, jsMessage{msg: msg})
	},
		nats.Bind(c.cfg.Stream, c.cfg.Durable),
		nats.ManualAck(),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.cfg.Subject, err)
	}

	c.logger.Info("Consuming events",
		"stream", c.cfg.Stream,
		"subject", c.cfg.Subject,
		"durable", c.cfg.Durable)

	<-ctx.Done()

	c.drain(sub)
	c.wg.Wait()
	return nil
}

// dispatch hands msg to a worker unless the consumer is shutting down, in
// which case the message is left for redelivery.
func (c *Consumer) dispatch(ctx context.Context, msg Message) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		if err := msg.Nak(); err != nil {
			c.logger.Debug("Failed to release message during shutdown", "error", err.Error())
		}
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.Handle(context.WithoutCancel(ctx), msg)
	}()
}

// drain waits for buffered callbacks to finish before closing the gate.
// Drain is asynchronous, so the subscription stays valid until the last
// callback has returned.
func (c *Consumer) drain(sub *nats.Subscription) {
	if err := sub.Drain(); err != nil {
		c.logger.Warn("Failed to drain subscription", "error", err.Error())
	}

	deadline := time.Now().Add(c.drainTimeout)
	for sub.IsValid() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sub.IsValid() {
		c.logger.Warn("Subscription drain timed out", "timeout", c.drainTimeout.String())
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrBadSubscription) {
			c.logger.Warn("Failed to unsubscribe", "error", err.Error())
		}
	}

	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
}

func (c *Consumer) ensureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(c.cfg.Stream)
	if err == nil {
		return nil
	}
	if !stderrors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", c.cfg.Stream, err)
	}

	if _, err := js.AddStream(&nats.StreamConfig{
		Name:     c.cfg.Stream,
		Subjects: []string{c.cfg.Subject},
		Storage:  nats.FileStorage,
	}); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", c.cfg.Stream, err)
	}
	c.logger.Info("Created stream", "stream", c.cfg.Stream, "subject", c.cfg.Subject)
	return nil
}

// ensureConsumer creates the durable once. An existing durable is reused as
// is, keeping its ack floor.
func (c *Consumer) ensureConsumer(js nats.JetStreamContext) error {
	_, err := js.ConsumerInfo(c.cfg.Stream, c.cfg.Durable)
	if err == nil {
		return nil
	}
	if !stderrors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("failed to look up consumer %s: %w", c.cfg.Durable, err)
	}

	if _, err := js.AddConsumer(c.cfg.Stream, &nats.ConsumerConfig{
		Durable:        c.cfg.Durable,
		DeliverSubject: deliverPrefix + c.cfg.Durable,
		DeliverPolicy:  nats.DeliverAllPolicy,
		AckPolicy:      nats.AckExplicitPolicy,
		AckWait:        c.cfg.AckWait,
		MaxDeliver:     c.cfg.MaxDeliver,
		FilterSubject:  c.cfg.Subject,
	}); err != nil {
		return fmt.Errorf("failed to create consumer %s: %w", c.cfg.Durable, err)
	}
	c.logger.Info("Created durable consumer", "stream", c.cfg.Stream, "durable", c.cfg.Durable)
	return nil
}

// Handle processes msg and settles it with JetStream
func (c *Consumer) Handle(ctx context.Context, msg Message) Disposition {
	disposition := c.Process(ctx, msg.Data())

	var err error
	switch disposition {
	case Ack:
		err = msg.Ack()
	case Nak:
		err = msg.Nak()
	case Term:
		err = msg.Term()
	}
	if err != nil {
		c.logger.Warn("Failed to settle message", "disposition", disposition.String(), "error", err.Error())
	}
	return disposition
}

// Process runs one payload through normalization and the processor
func (c *Consumer) Process(ctx context.Context, data []byte) Disposition {
	ctx = logging.WithCorrelationID(ctx, logging.NewCorrelationID())

	result, err := events.Parse(data)
	if err != nil {
		c.metrics.RecordEvent(events.UnknownSourceKind, metrics.OutcomeMalformed)
		c.logger.LogError(ctx, err, "Dropping malformed event", logrus.Fields{"bytes": len(data)})
		return Term
	}

	if result.Ignored() {
		c.metrics.RecordEvent(events.UnknownSourceKind, metrics.OutcomeIgnored)
		c.logger.WithContext(ctx).WithFields(logrus.Fields{
			"event_id": result.Envelope.ID,
			"reason":   result.Reason,
		}).Debug("Ignoring event")
		return Ack
	}

	outcome, err := c.processor.HandleEvent(ctx, *result.Event)
	if err != nil {
		c.logger.WithContext(ctx).WithField("event_id", result.Envelope.ID).
			Warn("Event processing failed, requesting redelivery")
		return Nak
	}

	c.logger.WithContext(ctx).WithFields(logrus.Fields{
		"identity":    outcome.Identity,
		"action":      string(outcome.Action),
		"retry_count": outcome.RetryCount,
		"escalated":   outcome.Escalated,
	}).Info("Event processed")
	return Ack
}
