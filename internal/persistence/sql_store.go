package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/petrijr/hexflow/pkg/api"
)

const sessionColumns = `session_id, workflow_name, workflow_token, current_step, status,
	step_data, metadata, created_at, updated_at, version`

// sqlStore implements SessionStore on top of database/sql. The SQLite and
// Postgres stores differ only in schema DDL and placeholder syntax.
type sqlStore struct {
	db       *sql.DB
	numbered bool // use $1, $2... instead of ?
	now      Clock
}

func (s *sqlStore) q(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) initSchema(ctx context.Context, statements []string) error {
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) Create(ctx context.Context, workflowName, token string, opts ...RecordOption) (*api.SessionRecord, error) {
	rec := newRecord(workflowName, token, s.now(), opts)
	rec.Version = 1

	row, err := encodeRow(rec)
	if err != nil {
		return nil, storageErr("create", err)
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO workflow_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		row.SessionID,
		row.WorkflowName,
		row.WorkflowToken,
		row.CurrentStep,
		row.Status,
		string(row.StepData),
		string(row.Metadata),
		row.CreatedAt,
		row.UpdatedAt,
		row.Version,
	)
	if err != nil {
		return nil, storageErr("create", err)
	}
	return rec, nil
}

func (s *sqlStore) Get(ctx context.Context, sessionID string) (*api.SessionRecord, error) {
	rec, err := s.getOne(ctx, `SELECT `+sessionColumns+` FROM workflow_sessions WHERE session_id = ?`, sessionID)
	return rec, storageErr("get", err)
}

func (s *sqlStore) GetByToken(ctx context.Context, token string) (*api.SessionRecord, error) {
	rec, err := s.getOne(ctx, `SELECT `+sessionColumns+` FROM workflow_sessions WHERE workflow_token = ?`, token)
	return rec, storageErr("get_by_token", err)
}

func (s *sqlStore) getOne(ctx context.Context, query string, arg string) (*api.SessionRecord, error) {
	rec, err := scanSession(s.db.QueryRowContext(ctx, s.q(query), arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrSessionNotFound
	}
	return rec, err
}

func (s *sqlStore) Save(ctx context.Context, rec *api.SessionRecord) error {
	updatedAt := s.now()
	next := *rec
	next.UpdatedAt = updatedAt
	next.Version = rec.Version + 1

	row, err := encodeRow(&next)
	if err != nil {
		return storageErr("save", err)
	}

	// The upsert only overwrites a row still carrying the version the caller
	// read; otherwise nothing is affected and the save is a conflict.
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO workflow_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			workflow_name  = excluded.workflow_name,
			workflow_token = excluded.workflow_token,
			current_step   = excluded.current_step,
			status         = excluded.status,
			step_data      = excluded.step_data,
			metadata       = excluded.metadata,
			updated_at     = excluded.updated_at,
			version        = excluded.version
		WHERE workflow_sessions.version = ?`),
		row.SessionID,
		row.WorkflowName,
		row.WorkflowToken,
		row.CurrentStep,
		row.Status,
		string(row.StepData),
		string(row.Metadata),
		row.CreatedAt,
		row.UpdatedAt,
		row.Version,
		rec.Version,
	)
	if err != nil {
		return storageErr("save", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("save", err)
	}
	if affected == 0 {
		return api.ErrVersionConflict
	}

	rec.UpdatedAt = updatedAt
	rec.Version = next.Version
	return nil
}

func (s *sqlStore) Delete(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM workflow_sessions WHERE session_id = ?`), sessionID)
	if err != nil {
		return storageErr("delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete", err)
	}
	if affected == 0 {
		return api.ErrSessionNotFound
	}
	return nil
}

func (s *sqlStore) List(ctx context.Context, filter api.SessionFilter) ([]*api.SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM workflow_sessions`
	var args []any
	var clauses []string

	if filter.WorkflowName != "" {
		clauses = append(clauses, "workflow_name = ?")
		args = append(args, filter.WorkflowName)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC, session_id ASC"

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer rows.Close()

	sessions := []*api.SessionRecord{}
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, storageErr("list", err)
		}
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", err)
	}
	return sessions, nil
}

func (s *sqlStore) Expire(ctx context.Context, maxAgeDays int) (int, error) {
	limit := cutoff(s.now(), maxAgeDays)
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM workflow_sessions WHERE created_at < ?`), limit.UnixNano())
	if err != nil {
		return 0, storageErr("expire", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("expire", err)
	}
	return int(affected), nil
}

func (s *sqlStore) Stats(ctx context.Context) (api.SessionStats, error) {
	stats := newStats()

	byStatus, err := s.countBy(ctx, "status")
	if err != nil {
		return stats, storageErr("stats", err)
	}
	for status, n := range byStatus {
		stats.StatusCounts[api.Status(status)] = n
		stats.TotalSessions += n
	}

	byWorkflow, err := s.countBy(ctx, "workflow_name")
	if err != nil {
		return stats, storageErr("stats", err)
	}
	stats.WorkflowCounts = byWorkflow
	return stats, nil
}

// countBy groups sessions by column, which must be a trusted column name.
func (s *sqlStore) countBy(ctx context.Context, column string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM workflow_sessions GROUP BY `+column)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(sc rowScanner) (*api.SessionRecord, error) {
	var row sessionRow
	var stepData, metadata string
	if err := sc.Scan(
		&row.SessionID,
		&row.WorkflowName,
		&row.WorkflowToken,
		&row.CurrentStep,
		&row.Status,
		&stepData,
		&metadata,
		&row.CreatedAt,
		&row.UpdatedAt,
		&row.Version,
	); err != nil {
		return nil, err
	}
	row.StepData = []byte(stepData)
	row.Metadata = []byte(metadata)
	return decodeRow(row)
}
