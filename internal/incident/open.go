package incident

import (
	"fmt"

	"github.com/NikhilSetiya/pipeline-doctor/internal/database"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/config"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/health"
)

// Backend is an opened store plus what the binaries need around it
type Backend struct {
	Store   Store
	Name    string
	Checker health.Checker
	// Redis is set for the redis backend so other components can share the pool
	Redis   *database.RedisClient
	closer  func() error
}

// Close releases the backend's connections
func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

// Open connects the backend selected by cfg.Store.Backend
func Open(cfg *config.Config) (*Backend, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		return &Backend{
			Store:   NewMemoryStore(),
			Name:    config.StoreBackendMemory,
			Checker: nil,
		}, nil

	case config.StoreBackendRedis:
		client, err := database.NewRedisClient(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Store:   NewRedisStore(client, cfg.Store.Location),
			Name:    config.StoreBackendRedis,
			Checker: health.NewRedisChecker(client, "redis"),
			Redis:   client,
			closer:  client.Close,
		}, nil

	case config.StoreBackendPostgres, config.StoreBackendMySQL:
		db, err := database.New(&cfg.Database, cfg.Store.Backend)
		if err != nil {
			return nil, err
		}
		store, err := NewSQLStore(db, cfg.Store.Location)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &Backend{
			Store:   store,
			Name:    cfg.Store.Backend,
			Checker: health.NewDatabaseChecker(db, cfg.Store.Backend),
			closer:  db.Close,
		}, nil
	}

	return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
}
