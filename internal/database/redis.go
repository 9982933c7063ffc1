package database

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/config"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/errors"
)

// RedisClient is the connection behind the Redis incident store. The API
// rate limiter shares its pool.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient connects and pings; an unreachable server is an error
func NewRedisClient(cfg *config.RedisConfig) (*RedisClient, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("Redis configuration is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
		MaxRetries:      3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewStoreError("connect", "redis is unreachable").WithCause(err)
	}
	return &RedisClient{client: client}, nil
}

// NewRedisClientFromClient wraps an existing go-redis client
func NewRedisClientFromClient(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

func (r *RedisClient) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// Health pings the server; used by the readiness probe
func (r *RedisClient) Health(ctx context.Context) error {
	if r.client == nil {
		return errors.NewStoreError("ping", "redis client is nil")
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.NewStoreError("ping", "redis health check failed").WithCause(err)
	}
	return nil
}

// Client exposes the go-redis client for callers that need raw commands
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

func (r *RedisClient) Stats() *redis.PoolStats {
	return r.client.PoolStats()
}

// HSet writes hash fields given as alternating names and values
func (r *RedisClient) HSet(ctx context.Context, key string, values ...interface{}) error {
	if err := r.client.HSet(ctx, key, values...).Err(); err != nil {
		return errors.NewStoreError("hset", "failed to write hash").WithCause(err)
	}
	return nil
}

// HGetAll reads a hash. A missing key yields an empty map.
func (r *RedisClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, errors.NewStoreError("hgetall", "failed to read hash").WithCause(err)
	}
	return fields, nil
}

// Del removes keys and reports how many existed
func (r *RedisClient) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, errors.NewStoreError("del", "failed to delete keys").WithCause(err)
	}
	return n, nil
}
