// Package incident persists the retry and status record kept for every
// failure identity.
package incident

import (
	"context"
	"time"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/errors"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/metrics"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/tracing"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/types"
)

// Store reads and writes incident records keyed by identity.
// Put is an unconditional overwrite; concurrent writers for one identity race
// and the last one wins.
type Store interface {
	// Get returns a not_found AppError when no record exists
	Get(ctx context.Context, identity string) (*types.Incident, error)
	Put(ctx context.Context, incident *types.Incident) error
}

// IsNotFound reports whether err means the identity has no record yet
func IsNotFound(err error) bool {
	return errors.IsType(err, errors.ErrorTypeNotFound)
}

func notFound(identity string) error {
	return errors.NewNotFoundError("incident").WithDetail("identity", identity)
}

func storeError(operation, identity, message string, cause error) error {
	return errors.NewStoreError(operation, message).
		WithDetail("identity", identity).
		WithCause(cause)
}

// InstrumentedStore records latency and spans around another Store
type InstrumentedStore struct {
	store    Store
	backend  string
	location string
	metrics  *metrics.Metrics
	tracing  *tracing.TracingService
}

// Instrument wraps store with metrics and tracing. Either may be nil.
func Instrument(store Store, backend, location string, m *metrics.Metrics, ts *tracing.TracingService) *InstrumentedStore {
	if ts == nil {
		ts = tracing.NewNoop()
	}
	return &InstrumentedStore{
		store:    store,
		backend:  backend,
		location: location,
		metrics:  m,
		tracing:  ts,
	}
}

// Get implements Store
func (s *InstrumentedStore) Get(ctx context.Context, identity string) (*types.Incident, error) {
	ctx, span := s.tracing.StartStoreSpan(ctx, s.backend, "get", s.location)
	defer span.End()

	start := time.Now()
	incident, err := s.store.Get(ctx, identity)
	s.metrics.RecordStoreOperation(s.backend, "get", time.Since(start))

	if err != nil && !IsNotFound(err) {
		s.tracing.RecordError(span, err)
		s.metrics.RecordError("store", string(errors.GetType(err)))
	}
	return incident, err
}

// Put implements Store
func (s *InstrumentedStore) Put(ctx context.Context, incident *types.Incident) error {
	ctx, span := s.tracing.StartStoreSpan(ctx, s.backend, "put", s.location)
	defer span.End()

	start := time.Now()
	err := s.store.Put(ctx, incident)
	s.metrics.RecordStoreOperation(s.backend, "put", time.Since(start))

	if err != nil {
		s.tracing.RecordError(span, err)
		s.metrics.RecordError("store", string(errors.GetType(err)))
	}
	return err
}
