package incident

import (
	"context"
	"strconv"
	"time"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/types"
)

// Hash fields of a Redis incident record
const (
	fieldRetryCount  = "retry_count"
	fieldLastAction  = "last_action"
	fieldStatus      = "status"
	fieldLastUpdated = "last_updated"
)

// HashClient reads and writes Redis hashes. *database.RedisClient implements it.
type HashClient interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, values ...interface{}) error
}

// RedisStore keeps one hash per identity at <prefix>:<identity>
type RedisStore struct {
	client HashClient
	prefix string
}

// NewRedisStore creates a Redis backed store
func NewRedisStore(client HashClient, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) key(identity string) string {
	return s.prefix + ":" + identity
}

// Get implements Store
func (s *RedisStore) Get(ctx context.Context, identity string) (*types.Incident, error) {
	fields, err := s.client.HGetAll(ctx, s.key(identity))
	if err != nil {
		return nil, storeError("get", identity, "failed to read incident", err)
	}
	if len(fields) == 0 {
		return nil, notFound(identity)
	}

	incident := &types.Incident{
		Identity:   identity,
		LastAction: types.Action(fields[fieldLastAction]),
		Status:     types.IncidentStatus(fields[fieldStatus]),
	}

	if raw := fields[fieldRetryCount]; raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil {
			return nil, storeError("get", identity, "incident has a malformed retry count", err)
		}
		incident.RetryCount = count
	}

	if raw := fields[fieldLastUpdated]; raw != "" {
		updated, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, storeError("get", identity, "incident has a malformed timestamp", err)
		}
		incident.LastUpdated = updated
	}

	return incident, nil
}

// Put implements Store
func (s *RedisStore) Put(ctx context.Context, incident *types.Incident) error {
	err := s.client.HSet(ctx, s.key(incident.Identity),
		fieldRetryCount, strconv.Itoa(incident.RetryCount),
		fieldLastAction, string(incident.LastAction),
		fieldStatus, string(incident.Status),
		fieldLastUpdated, incident.LastUpdated.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return storeError("put", incident.Identity, "failed to write incident", err)
	}
	return nil
}
