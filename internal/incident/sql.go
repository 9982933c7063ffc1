package incident

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/NikhilSetiya/pipeline-doctor/internal/database"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/types"
)

// sqlDB is the part of *database.DB the store uses
type sqlDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Rebind(query string) string
	DriverName() string
}

// SQLStore keeps incidents in a Postgres or MySQL table
type SQLStore struct {
	db          sqlDB
	selectQuery string
	upsertQuery string
}

// NewSQLStore creates a store over table. The table name must already be validated
// as a plain identifier since it is interpolated into the statements.
func NewSQLStore(db *database.DB, table string) (*SQLStore, error) {
	return newSQLStore(db, table)
}

func newSQLStore(db sqlDB, table string) (*SQLStore, error) {
	var upsert string
	switch db.DriverName() {
	case database.DriverPostgres:
		upsert = fmt.Sprintf(`INSERT INTO %s (identity, retry_count, last_action, status, last_updated)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (identity) DO UPDATE SET
	retry_count = EXCLUDED.retry_count,
	last_action = EXCLUDED.last_action,
	status = EXCLUDED.status,
	last_updated = EXCLUDED.last_updated`, table)
	case database.DriverMySQL:
		upsert = fmt.Sprintf(`INSERT INTO %s (identity, retry_count, last_action, status, last_updated)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
	retry_count = VALUES(retry_count),
	last_action = VALUES(last_action),
	status = VALUES(status),
	last_updated = VALUES(last_updated)`, table)
	default:
		return nil, fmt.Errorf("unsupported incident store driver: %s", db.DriverName())
	}

	selectQuery := fmt.Sprintf(
		`SELECT identity, retry_count, last_action, status, last_updated FROM %s WHERE identity = ?`, table)

	return &SQLStore{
		db:          db,
		selectQuery: db.Rebind(selectQuery),
		upsertQuery: db.Rebind(upsert),
	}, nil
}

// Get implements Store
func (s *SQLStore) Get(ctx context.Context, identity string) (*types.Incident, error) {
	var incident types.Incident
	if err := s.db.GetContext(ctx, &incident, s.selectQuery, identity); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, notFound(identity)
		}
		return nil, storeError("get", identity, "failed to read incident", err)
	}
	return &incident, nil
}

// Put implements Store
func (s *SQLStore) Put(ctx context.Context, incident *types.Incident) error {
	_, err := s.db.ExecContext(ctx, s.upsertQuery,
		incident.Identity,
		incident.RetryCount,
		string(incident.LastAction),
		string(incident.Status),
		incident.LastUpdated.UTC(),
	)
	if err != nil {
		return storeError("put", incident.Identity, "failed to write incident", err)
	}
	return nil
}
