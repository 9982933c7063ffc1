package database

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/config"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/errors"
)

var migrationDrivers = map[string]func(*sql.DB) (migratedb.Driver, error){
	DriverPostgres: func(db *sql.DB) (migratedb.Driver, error) {
		return migratepg.WithInstance(db, &migratepg.Config{})
	},
	DriverMySQL: func(db *sql.DB) (migratedb.Driver, error) {
		return migratemysql.WithInstance(db, &migratemysql.Config{})
	},
}

// Migrator applies the incident table schema kept under <root>/<driver>
type Migrator struct {
	migrate *migrate.Migrate
}

// NewMigrator connects to the database and loads the migration files for
// driver. root defaults to "migrations".
func NewMigrator(cfg *config.DatabaseConfig, driver, root string) (*Migrator, error) {
	newDriver, ok := migrationDrivers[driver]
	if !ok {
		return nil, errors.NewValidationError("no migrations for driver: " + driver)
	}
	if root == "" {
		root = "migrations"
	}
	dir, err := filepath.Abs(filepath.Join(root, driver))
	if err != nil {
		return nil, errors.NewValidationError("invalid migrations path").WithCause(err)
	}

	db, err := open(cfg, driver)
	if err != nil {
		return nil, err
	}
	instance, err := newDriver(db)
	if err != nil {
		db.Close()
		return nil, migrationError("init", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, driver, instance)
	if err != nil {
		db.Close()
		return nil, migrationError("load "+dir, err)
	}
	return &Migrator{migrate: m}, nil
}

func migrationError(op string, err error) error {
	return errors.NewStoreError("migrate", fmt.Sprintf("migration %s failed", op)).WithCause(err)
}

// ignoreNoChange treats an already up-to-date schema as success
func ignoreNoChange(op string, err error) error {
	if err == nil || stderrors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return migrationError(op, err)
}

// Close releases the source and the database connection
func (m *Migrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	return stderrors.Join(srcErr, dbErr)
}

// Up applies every pending migration
func (m *Migrator) Up() error {
	return ignoreNoChange("up", m.migrate.Up())
}

// Down reverts every applied migration
func (m *Migrator) Down() error {
	return ignoreNoChange("down", m.migrate.Down())
}

// Steps applies n migrations, or reverts -n when n is negative
func (m *Migrator) Steps(n int) error {
	return ignoreNoChange(fmt.Sprintf("steps %d", n), m.migrate.Steps(n))
}

// Version returns the applied version; 0 means no migration has run
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = m.migrate.Version()
	if stderrors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, migrationError("version", err)
	}
	return version, dirty, nil
}

// Force records version as applied without running anything, to recover from
// a dirty state
func (m *Migrator) Force(version int) error {
	if err := m.migrate.Force(version); err != nil {
		return migrationError(fmt.Sprintf("force %d", version), err)
	}
	return nil
}
