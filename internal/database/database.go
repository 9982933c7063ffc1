// Package database opens the connections behind the SQL and Redis incident
// stores and runs the SQL schema migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/config"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/errors"
)

// Supported SQL drivers; the names double as STORE_BACKEND values
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second
)

// DB is a pooled sqlx handle for one driver
type DB struct {
	*sqlx.DB
	driver string
}

var dsnBuilders = map[string]func(cfg *config.DatabaseConfig) string{
	DriverPostgres: func(cfg *config.DatabaseConfig) string {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode, int(connectTimeout.Seconds()))
	},
	DriverMySQL: func(cfg *config.DatabaseConfig) string {
		mc := mysql.NewConfig()
		mc.User, mc.Passwd = cfg.User, cfg.Password
		mc.Net, mc.Addr = "tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		mc.DBName = cfg.Name
		// incident timestamps are stored and read back in UTC
		mc.ParseTime, mc.Loc = true, time.UTC
		mc.Timeout = connectTimeout
		return mc.FormatDSN()
	},
}

// DSN returns the connection string for driver
func DSN(cfg *config.DatabaseConfig, driver string) (string, error) {
	build, ok := dsnBuilders[driver]
	if !ok {
		return "", errors.NewValidationError("unsupported database driver: " + driver)
	}
	return build(cfg), nil
}

// open connects and pings, closing the handle again if the ping fails
func open(cfg *config.DatabaseConfig, driver string) (*sql.DB, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("database configuration is required")
	}
	dsn, err := DSN(cfg, driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.NewStoreError("connect", "failed to open database").WithCause(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.NewStoreError("connect", fmt.Sprintf("%s is unreachable", driver)).WithCause(err)
	}
	return db, nil
}

// New opens a pool sized from cfg
func New(cfg *config.DatabaseConfig, driver string) (*DB, error) {
	raw, err := open(cfg, driver)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(cfg.MaxOpenConns)
	raw.SetMaxIdleConns(cfg.MaxIdleConns)
	raw.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	raw.SetConnMaxIdleTime(10 * time.Minute)

	return &DB{DB: sqlx.NewDb(raw, driver), driver: driver}, nil
}

func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	return db.DB.Close()
}

// Health pings the database; used by the readiness probe
func (db *DB) Health(ctx context.Context) error {
	if db.DB == nil {
		return errors.NewStoreError("ping", "database connection is nil")
	}
	if err := db.PingContext(ctx); err != nil {
		return errors.NewStoreError("ping", "database health check failed").WithCause(err)
	}
	return nil
}

// Driver returns DriverPostgres or DriverMySQL
func (db *DB) Driver() string {
	return db.driver
}

func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}
