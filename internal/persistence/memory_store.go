package persistence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/hexflow/pkg/api"
)

var errTokenInUse = errors.New("workflow token already in use")

// InMemoryStore is a simple, goroutine-safe SessionStore backed by maps.
// It is not durable and is meant for tests and single-process demos.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*api.SessionRecord
	byToken  map[string]string
	now      Clock
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*api.SessionRecord),
		byToken:  make(map[string]string),
		now:      time.Now,
	}
}

func (s *InMemoryStore) Create(ctx context.Context, workflowName, token string, opts ...RecordOption) (*api.SessionRecord, error) {
	rec := newRecord(workflowName, token, s.now(), opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byToken[rec.WorkflowToken]; taken {
		return nil, storageErr("create", errTokenInUse)
	}
	rec.Version = 1
	s.sessions[rec.SessionID] = rec.Clone()
	s.byToken[rec.WorkflowToken] = rec.SessionID
	return rec, nil
}

func (s *InMemoryStore) Get(ctx context.Context, sessionID string) (*api.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, api.ErrSessionNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemoryStore) GetByToken(ctx context.Context, token string) (*api.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[token]
	if !ok {
		return nil, api.ErrSessionNotFound
	}
	return s.sessions[id].Clone(), nil
}

func (s *InMemoryStore) Save(ctx context.Context, rec *api.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[rec.SessionID]
	if ok && existing.Version != rec.Version {
		return api.ErrVersionConflict
	}
	if owner, taken := s.byToken[rec.WorkflowToken]; taken && owner != rec.SessionID {
		return storageErr("save", errTokenInUse)
	}
	if ok && existing.WorkflowToken != rec.WorkflowToken {
		delete(s.byToken, existing.WorkflowToken)
	}

	rec.UpdatedAt = s.now()
	rec.Version++
	s.sessions[rec.SessionID] = rec.Clone()
	s.byToken[rec.WorkflowToken] = rec.SessionID
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return api.ErrSessionNotFound
	}
	delete(s.byToken, rec.WorkflowToken)
	delete(s.sessions, sessionID)
	return nil
}

func (s *InMemoryStore) List(ctx context.Context, filter api.SessionFilter) ([]*api.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*api.SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		if matches(rec, filter) {
			result = append(result, rec.Clone())
		}
	}
	sortByUpdatedDesc(result)
	return result, nil
}

func (s *InMemoryStore) Expire(ctx context.Context, maxAgeDays int) (int, error) {
	limit := cutoff(s.now(), maxAgeDays)

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, rec := range s.sessions {
		if rec.CreatedAt.Before(limit) {
			delete(s.byToken, rec.WorkflowToken)
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *InMemoryStore) Stats(ctx context.Context) (api.SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := newStats()
	for _, rec := range s.sessions {
		stats.TotalSessions++
		stats.StatusCounts[rec.Status]++
		stats.WorkflowCounts[rec.WorkflowName]++
	}
	return stats, nil
}

// sortByUpdatedDesc orders sessions most recently updated first, falling back
// to session id so equal timestamps still sort deterministically.
func sortByUpdatedDesc(recs []*api.SessionRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].UpdatedAt.Equal(recs[j].UpdatedAt) {
			return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
		}
		return recs[i].SessionID < recs[j].SessionID
	})
}
