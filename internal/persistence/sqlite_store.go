package persistence

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// SQLiteBusyTimeout is how long, in milliseconds, a connection opened by
// OpenSQLite waits on a locked database before failing with SQLITE_BUSY.
const SQLiteBusyTimeout = 5000

// OpenSQLite opens the SQLite database at path for use with
// NewSQLiteSessionStore. File databases get a busy timeout and WAL
// journaling; ":memory:" is used as is. The pool is limited to one
// connection, so writers in this process queue instead of racing for the
// file lock. The "sqlite" driver must be registered by the caller.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		return path
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(" + strconv.Itoa(SQLiteBusyTimeout) + ")&_pragma=journal_mode(WAL)"
}

// SQLiteSessionStore is a SessionStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteSessionStore struct {
	sqlStore
}

// NewSQLiteSessionStore initializes the required schema in the given
// database and returns a new SQLiteSessionStore.
//
// Concurrent sessions write concurrently, so a file database must either
// be limited to one open connection or carry busy_timeout and WAL pragmas.
// Without them parallel Saves fail with SQLITE_BUSY. OpenSQLite does both.
func NewSQLiteSessionStore(db *sql.DB) (*SQLiteSessionStore, error) {
	s := &SQLiteSessionStore{sqlStore{db: db, now: time.Now}}
	if err := s.initSchema(context.Background(), sqliteSchema); err != nil {
		return nil, storageErr("init_schema", err)
	}
	return s, nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS workflow_sessions (
		session_id     TEXT PRIMARY KEY,
		workflow_name  TEXT NOT NULL,
		workflow_token TEXT NOT NULL UNIQUE,
		current_step   TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL DEFAULT 'in_progress',
		step_data      TEXT NOT NULL,
		metadata       TEXT NOT NULL,
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL,
		version        INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_sessions_name_status ON workflow_sessions(workflow_name, status)`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_sessions_created_at ON workflow_sessions(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_sessions_updated_at ON workflow_sessions(updated_at)`,
}
