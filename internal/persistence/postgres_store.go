package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresSessionStore is a SessionStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresSessionStore struct {
	sqlStore
}

// NewPostgresSessionStore initializes the required schema in the given
// database and returns a new PostgresSessionStore.
func NewPostgresSessionStore(db *sql.DB) (*PostgresSessionStore, error) {
	s := &PostgresSessionStore{sqlStore{db: db, numbered: true, now: time.Now}}
	if err := s.initSchema(context.Background(), postgresSchema); err != nil {
		return nil, storageErr("init_schema", err)
	}
	return s, nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS workflow_sessions (
		session_id     TEXT PRIMARY KEY,
		workflow_name  TEXT NOT NULL,
		workflow_token TEXT NOT NULL UNIQUE,
		current_step   TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL DEFAULT 'in_progress',
		step_data      TEXT NOT NULL,
		metadata       TEXT NOT NULL,
		created_at     BIGINT NOT NULL,
		updated_at     BIGINT NOT NULL,
		version        BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_sessions_name_status ON workflow_sessions(workflow_name, status)`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_sessions_created_at ON workflow_sessions(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_sessions_updated_at ON workflow_sessions(updated_at)`,
}
