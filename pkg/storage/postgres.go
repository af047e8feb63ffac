package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/cuemby/sessionsync/pkg/types"
	"github.com/lib/pq"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS session_records (
		id TEXT PRIMARY KEY,
		remote_session_id TEXT UNIQUE,
		owner_id TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		connection_type TEXT NOT NULL DEFAULT 'web',
		phone TEXT NOT NULL DEFAULT '',
		profile_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		connected_at TIMESTAMPTZ,
		disconnected_at TIMESTAMPTZ,
		last_synced_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS session_records_type_idx ON session_records (connection_type)`,
	`CREATE INDEX IF NOT EXISTS session_records_owner_idx ON session_records (owner_id)`,
	`CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		phone TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS contacts_phone_idx ON contacts (phone)`,
	`CREATE TABLE IF NOT EXISTS sync_logs (
		id BIGSERIAL PRIMARY KEY,
		cycle_id TEXT NOT NULL,
		status TEXT NOT NULL,
		result TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// PostgresStore implements Store on PostgreSQL through lib/pq
type PostgresStore struct {
	*sqlStore
}

var _ Store = (*PostgresStore)(nil)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// NewPostgresStore connects to dsn and creates the tables if missing.
// An unreachable database is reported as a configuration error.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	return newPostgresStore(ctx, dsn, sql.Open)
}

func newPostgresStore(ctx context.Context, dsn string, openDB sqlOpenFunc) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, &types.ConfigurationError{Field: "store.dsn", Reason: "postgres dsn is empty"}
	}
	db, err := openDB("postgres", dsn)
	if err != nil {
		return nil, &types.ConfigurationError{Field: "store.dsn", Reason: err.Error()}
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := applySchema(ctx, db, postgresSchema); err != nil {
		_ = db.Close()
		return nil, &types.ConfigurationError{Field: "store.dsn", Reason: err.Error()}
	}

	return &PostgresStore{sqlStore: &sqlStore{
		db: db,
		dialect: dialect{
			name:              "postgres",
			positional:        true,
			isUniqueViolation: isPostgresUniqueViolation,
		},
		now: time.Now,
	}}, nil
}

func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
