package incident

import (
	"context"
	"sync"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/types"
)

// MemoryStore keeps incidents in process memory
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[string]types.Incident
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		incidents: make(map[string]types.Incident),
	}
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, identity string) (*types.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	incident, ok := s.incidents[identity]
	if !ok {
		return nil, notFound(identity)
	}
	return &incident, nil
}

// Put implements Store
func (s *MemoryStore) Put(ctx context.Context, incident *types.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.incidents[incident.Identity] = *incident
	return nil
}

// Len returns the number of stored incidents
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.incidents)
}
