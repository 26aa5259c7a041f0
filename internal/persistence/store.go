package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/hexflow/pkg/api"
)

// DefaultRetentionDays is how long sessions are kept before Expire removes them.
const DefaultRetentionDays = 30

// SessionStore is durable, keyed storage for workflow sessions.
//
// Every method is safe for concurrent use. Get, GetByToken and Delete return
// api.ErrSessionNotFound for unknown keys; Save returns api.ErrVersionConflict
// when the record was saved by someone else since it was read. Any other
// failure is an *api.StorageError.
type SessionStore interface {
	// Create persists a new in-progress session. token may be empty, in which
	// case one is generated. opts are applied before the record is written.
	Create(ctx context.Context, workflowName, token string, opts ...RecordOption) (*api.SessionRecord, error)
	Get(ctx context.Context, sessionID string) (*api.SessionRecord, error)
	GetByToken(ctx context.Context, token string) (*api.SessionRecord, error)
	// Save inserts or overwrites rec. On success rec.UpdatedAt is refreshed
	// and rec.Version reflects the stored version.
	Save(ctx context.Context, rec *api.SessionRecord) error
	Delete(ctx context.Context, sessionID string) error
	// List returns matching sessions, most recently updated first.
	List(ctx context.Context, filter api.SessionFilter) ([]*api.SessionRecord, error)
	// Expire deletes sessions created more than maxAgeDays ago and returns
	// how many were removed.
	Expire(ctx context.Context, maxAgeDays int) (int, error)
	Stats(ctx context.Context) (api.SessionStats, error)
}

// Clock returns the current time. Stores use it for timestamps so tests can
// pin time.
type Clock func() time.Time

// NewSessionID returns a fresh internal session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// NewWorkflowToken returns a fresh browser-facing token: "WF-" followed by the
// 32 upper-case hex digits of a random UUID.
func NewWorkflowToken() string {
	id := uuid.New()
	return "WF-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
}

// RecordOption customizes a record before Create writes it.
type RecordOption func(*api.SessionRecord)

// AtStep positions a new record on step within a workflow of total steps.
func AtStep(step string, total int) RecordOption {
	return func(rec *api.SessionRecord) {
		rec.CurrentStep = step
		rec.SetTotalSteps(total)
	}
}

// newRecord builds the record Create persists.
func newRecord(workflowName, token string, now time.Time, opts []RecordOption) *api.SessionRecord {
	if token == "" {
		token = NewWorkflowToken()
	}
	rec := api.NewSessionRecord(NewSessionID(), token, workflowName, now)
	for _, opt := range opts {
		opt(rec)
	}
	return rec
}

// storageErr wraps err as an *api.StorageError, leaving nil and the store's
// sentinel errors untouched.
func storageErr(op string, err error) error {
	if err == nil ||
		errors.Is(err, api.ErrSessionNotFound) ||
		errors.Is(err, api.ErrVersionConflict) ||
		api.IsStorageError(err) {
		return err
	}
	return &api.StorageError{Op: op, Err: err}
}

func cutoff(now time.Time, maxAgeDays int) time.Time {
	return now.Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
}

func newStats() api.SessionStats {
	return api.SessionStats{
		StatusCounts:   make(map[api.Status]int),
		WorkflowCounts: make(map[string]int),
	}
}
