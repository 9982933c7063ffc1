package health

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// probe times fn and stamps the check it fills in
func probe(ctx context.Context, name string, fn func(ctx context.Context, check *Check) *Check) *Check {
	start := time.Now()
	check := fn(ctx, &Check{Name: name, Timestamp: start})
	check.Duration = time.Since(start)
	return check
}

// SQLPinger is implemented by *database.DB
type SQLPinger interface {
	Health(ctx context.Context) error
	Stats() sql.DBStats
}

// DatabaseChecker probes a SQL incident store
type DatabaseChecker struct {
	db   SQLPinger
	name string
}

func NewDatabaseChecker(db SQLPinger, name string) *DatabaseChecker {
	return &DatabaseChecker{db: db, name: name}
}

// Check pings the database. More than 80% of the pool in use is degraded.
func (dc *DatabaseChecker) Check(ctx context.Context) *Check {
	return probe(ctx, dc.name, func(ctx context.Context, check *Check) *Check {
		if dc.db == nil {
			return check.fail("database connection is nil")
		}
		if err := dc.db.Health(ctx); err != nil {
			return check.fail(err.Error())
		}

		stats := dc.db.Stats()
		check.Metadata = map[string]string{
			"open_connections": strconv.Itoa(stats.OpenConnections),
			"in_use":           strconv.Itoa(stats.InUse),
			"max_connections":  strconv.Itoa(stats.MaxOpenConnections),
		}
		check.Status, check.Message = StatusHealthy, "incident store reachable"
		if limit := stats.MaxOpenConnections; limit > 0 && stats.InUse*5 > limit*4 {
			check.Status, check.Message = StatusDegraded, "connection pool nearly exhausted"
		}
		return check
	})
}

// RedisPinger is implemented by *database.RedisClient
type RedisPinger interface {
	Health(ctx context.Context) error
	Stats() *redis.PoolStats
}

// RedisChecker probes the Redis incident store
type RedisChecker struct {
	redis RedisPinger
	name  string
}

func NewRedisChecker(redis RedisPinger, name string) *RedisChecker {
	return &RedisChecker{redis: redis, name: name}
}

func (rc *RedisChecker) Check(ctx context.Context) *Check {
	return probe(ctx, rc.name, func(ctx context.Context, check *Check) *Check {
		if rc.redis == nil {
			return check.fail("redis connection is nil")
		}
		if err := rc.redis.Health(ctx); err != nil {
			return check.fail(err.Error())
		}

		stats := rc.redis.Stats()
		check.Metadata = map[string]string{
			"total_connections": strconv.FormatUint(uint64(stats.TotalConns), 10),
			"idle_connections":  strconv.FormatUint(uint64(stats.IdleConns), 10),
			"timeouts":          strconv.FormatUint(uint64(stats.Timeouts), 10),
		}
		check.Status, check.Message = StatusHealthy, "incident store reachable"
		return check
	})
}

// NATSChecker reports the connection state of the event bus client
type NATSChecker struct {
	conn *nats.Conn
	name string
}

func NewNATSChecker(conn *nats.Conn, name string) *NATSChecker {
	return &NATSChecker{conn: conn, name: name}
}

// Check is healthy when connected and degraded while reconnecting
func (nc *NATSChecker) Check(ctx context.Context) *Check {
	return probe(ctx, nc.name, func(_ context.Context, check *Check) *Check {
		if nc.conn == nil {
			return check.fail("nats connection is nil")
		}

		status := nc.conn.Status()
		check.Metadata = map[string]string{
			"status":     status.String(),
			"server":     nc.conn.ConnectedUrlRedacted(),
			"reconnects": strconv.FormatUint(nc.conn.Stats().Reconnects, 10),
		}
		switch status {
		case nats.CONNECTED:
			check.Status, check.Message = StatusHealthy, "connected"
		case nats.RECONNECTING, nats.CONNECTING:
			check.Status, check.Message = StatusDegraded, "reconnecting"
		default:
			check.fail(fmt.Sprintf("nats connection is %s", status))
		}
		return check
	})
}

// CustomChecker adapts a function into a Checker
type CustomChecker struct {
	name     string
	checkFn  func(ctx context.Context) (Status, string, error)
	metadata map[string]string
}

// NewCustomChecker wraps checkFn. An error from checkFn always reports unhealthy.
func NewCustomChecker(name string, checkFn func(ctx context.Context) (Status, string, error)) *CustomChecker {
	return &CustomChecker{name: name, checkFn: checkFn}
}

// WithMetadata attaches static metadata to every check result
func (cc *CustomChecker) WithMetadata(metadata map[string]string) *CustomChecker {
	cc.metadata = metadata
	return cc
}

func (cc *CustomChecker) Check(ctx context.Context) *Check {
	return probe(ctx, cc.name, func(ctx context.Context, check *Check) *Check {
		check.Metadata = cc.metadata
		status, message, err := cc.checkFn(ctx)
		check.Status, check.Message = status, message
		if err != nil {
			check.fail(err.Error())
		}
		return check
	})
}
