package persistence

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/petrijr/hexflow/pkg/api"
)

// StoreSuite is the behaviour every SessionStore backend must share. Backend
// test files run it with their own constructor.
type StoreSuite struct {
	suite.Suite

	// newStore returns an empty store. It is called before every test.
	newStore func() SessionStore

	store SessionStore
	clock *fakeClock
	ctx   context.Context
}

var base = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func setClock(store SessionStore, now Clock) {
	switch s := store.(type) {
	case *InMemoryStore:
		s.now = now
	case *SQLiteSessionStore:
		s.now = now
	case *PostgresSessionStore:
		s.now = now
	case *RedisSessionStore:
		s.now = now
	case *MongoSessionStore:
		s.now = now
	}
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore()
	s.clock = &fakeClock{t: base}
	setClock(s.store, s.clock.Now)
}

func (s *StoreSuite) TestCreateAssignsIdentity() {
	rec, err := s.store.Create(s.ctx, "library-card", "")
	s.Require().NoError(err)

	s.NotEmpty(rec.SessionID)
	s.True(strings.HasPrefix(rec.WorkflowToken, "WF-"), "token %q", rec.WorkflowToken)
	s.Len(rec.WorkflowToken, 35)
	s.Equal("library-card", rec.WorkflowName)
	s.Equal(api.StatusInProgress, rec.Status)
	s.Equal(int64(1), rec.Version)
	s.True(base.Equal(rec.CreatedAt))
	s.True(base.Equal(rec.UpdatedAt))
	s.Empty(rec.StepData)
	s.Empty(rec.Metadata.CompletedSteps)
}

func (s *StoreSuite) TestGetAndGetByToken() {
	created, err := s.store.Create(s.ctx, "wf", "WF-FIXED")
	s.Require().NoError(err)

	byID, err := s.store.Get(s.ctx, created.SessionID)
	s.Require().NoError(err)
	s.Equal(created.SessionID, byID.SessionID)
	s.Equal("WF-FIXED", byID.WorkflowToken)
	s.Equal(int64(1), byID.Version)

	byToken, err := s.store.GetByToken(s.ctx, "WF-FIXED")
	s.Require().NoError(err)
	s.Equal(created.SessionID, byToken.SessionID)
	s.True(created.CreatedAt.Equal(byToken.CreatedAt))
}

func (s *StoreSuite) TestUnknownKeysAreNotFound() {
	_, err := s.store.Get(s.ctx, "missing")
	s.ErrorIs(err, api.ErrSessionNotFound)

	_, err = s.store.GetByToken(s.ctx, "WF-MISSING")
	s.ErrorIs(err, api.ErrSessionNotFound)

	s.ErrorIs(s.store.Delete(s.ctx, "missing"), api.ErrSessionNotFound)
}

func (s *StoreSuite) TestCreateRejectsDuplicateToken() {
	_, err := s.store.Create(s.ctx, "wf", "WF-DUP")
	s.Require().NoError(err)

	_, err = s.store.Create(s.ctx, "wf", "WF-DUP")
	s.Require().Error(err)
	s.True(api.IsStorageError(err), "expected storage error, got %v", err)
}

func (s *StoreSuite) TestSavePersistsStepData() {
	rec, err := s.store.Create(s.ctx, "wf", "")
	s.Require().NoError(err)

	rec.SetTotalSteps(3)
	rec.SetStepData("A", api.StepData{
		"name": api.Scalar("Alice"),
		"tags": api.List("x", "y"),
	})
	rec.SetStepData("B", api.StepData{})
	rec.CurrentStep = "C"
	rec.AddMetadata("source", "test")

	s.clock.Advance(time.Minute)
	s.Require().NoError(s.store.Save(s.ctx, rec))
	s.Equal(int64(2), rec.Version)
	s.True(base.Add(time.Minute).Equal(rec.UpdatedAt))

	got, err := s.store.GetByToken(s.ctx, rec.WorkflowToken)
	s.Require().NoError(err)

	s.Equal("C", got.CurrentStep)
	s.Equal(int64(2), got.Version)
	s.True(base.Equal(got.CreatedAt))
	s.True(base.Add(time.Minute).Equal(got.UpdatedAt))
	s.Equal([]string{"A", "B"}, got.Metadata.CompletedSteps)
	s.Require().NotNil(got.Metadata.TotalSteps)
	s.Equal(3, *got.Metadata.TotalSteps)
	s.InDelta(66.67, got.Metadata.ProgressPercentage, 0.01)
	s.Equal("test", got.Metadata.Extra["source"])

	a, ok := got.Step("A")
	s.Require().True(ok)
	s.True(a["name"].Equal(api.Scalar("Alice")))
	s.True(a["tags"].IsList())
	s.Equal([]string{"x", "y"}, a["tags"].Values())

	b, ok := got.Step("B")
	s.True(ok)
	s.Empty(b)
}

func (s *StoreSuite) TestSaveCompletedSession() {
	rec, err := s.store.Create(s.ctx, "wf", "")
	s.Require().NoError(err)

	rec.SetStatus(api.StatusCompleted)
	s.Require().NoError(s.store.Save(s.ctx, rec))

	got, err := s.store.Get(s.ctx, rec.SessionID)
	s.Require().NoError(err)
	s.Equal(api.StatusCompleted, got.Status)
	s.Require().NotNil(got.Metadata.CompletedAt)
	s.True(rec.Metadata.CompletedAt.Equal(*got.Metadata.CompletedAt))
	s.Equal(100.0, got.Metadata.ProgressPercentage)
}

func (s *StoreSuite) TestSaveRejectsStaleVersion() {
	rec, err := s.store.Create(s.ctx, "wf", "")
	s.Require().NoError(err)

	first, err := s.store.Get(s.ctx, rec.SessionID)
	s.Require().NoError(err)
	second, err := s.store.Get(s.ctx, rec.SessionID)
	s.Require().NoError(err)

	first.CurrentStep = "B"
	s.Require().NoError(s.store.Save(s.ctx, first))

	second.CurrentStep = "C"
	err = s.store.Save(s.ctx, second)
	s.ErrorIs(err, api.ErrVersionConflict)
	s.Equal(int64(1), second.Version, "failed save must not bump the caller's version")

	got, err := s.store.Get(s.ctx, rec.SessionID)
	s.Require().NoError(err)
	s.Equal("B", got.CurrentStep)
}

func (s *StoreSuite) TestSaveInsertsUnknownRecord() {
	rec := api.NewSessionRecord("manual-1", "WF-MANUAL", "wf", base)
	s.Require().NoError(s.store.Save(s.ctx, rec))

	got, err := s.store.GetByToken(s.ctx, "WF-MANUAL")
	s.Require().NoError(err)
	s.Equal("manual-1", got.SessionID)
	s.Equal(rec.Version, got.Version)
}

func (s *StoreSuite) TestSaveRejectsTokenOfAnotherSession() {
	a, err := s.store.Create(s.ctx, "wf", "WF-OWNED")
	s.Require().NoError(err)
	b, err := s.store.Create(s.ctx, "wf", "")
	s.Require().NoError(err)

	b.WorkflowToken = a.WorkflowToken
	err = s.store.Save(s.ctx, b)
	s.Require().Error(err)
	s.False(errors.Is(err, api.ErrVersionConflict), "got %v", err)
	s.True(api.IsStorageError(err), "expected storage error, got %v", err)

	stray := api.NewSessionRecord("manual-2", a.WorkflowToken, "wf", base)
	err = s.store.Save(s.ctx, stray)
	s.Require().Error(err)
	s.False(errors.Is(err, api.ErrVersionConflict), "got %v", err)
	s.True(api.IsStorageError(err), "expected storage error, got %v", err)

	owner, err := s.store.GetByToken(s.ctx, a.WorkflowToken)
	s.Require().NoError(err)
	s.Equal(a.SessionID, owner.SessionID)
}

func (s *StoreSuite) TestDelete() {
	rec, err := s.store.Create(s.ctx, "wf", "")
	s.Require().NoError(err)

	s.Require().NoError(s.store.Delete(s.ctx, rec.SessionID))

	_, err = s.store.Get(s.ctx, rec.SessionID)
	s.ErrorIs(err, api.ErrSessionNotFound)
	_, err = s.store.GetByToken(s.ctx, rec.WorkflowToken)
	s.ErrorIs(err, api.ErrSessionNotFound)

	// The token is free again.
	_, err = s.store.Create(s.ctx, "wf", rec.WorkflowToken)
	s.NoError(err)
}

func (s *StoreSuite) TestListFiltersAndOrders() {
	a, err := s.store.Create(s.ctx, "alpha", "")
	s.Require().NoError(err)
	s.clock.Advance(time.Minute)
	b, err := s.store.Create(s.ctx, "alpha", "")
	s.Require().NoError(err)
	s.clock.Advance(time.Minute)
	c, err := s.store.Create(s.ctx, "beta", "")
	s.Require().NoError(err)

	s.clock.Advance(time.Minute)
	a.SetStatus(api.StatusCompleted)
	s.Require().NoError(s.store.Save(s.ctx, a))

	all, err := s.store.List(s.ctx, api.SessionFilter{})
	s.Require().NoError(err)
	s.Equal([]string{a.SessionID, c.SessionID, b.SessionID}, ids(all))

	alpha, err := s.store.List(s.ctx, api.SessionFilter{WorkflowName: "alpha"})
	s.Require().NoError(err)
	s.Equal([]string{a.SessionID, b.SessionID}, ids(alpha))

	open, err := s.store.List(s.ctx, api.SessionFilter{Status: api.StatusInProgress})
	s.Require().NoError(err)
	s.Equal([]string{c.SessionID, b.SessionID}, ids(open))

	done, err := s.store.List(s.ctx, api.SessionFilter{WorkflowName: "alpha", Status: api.StatusCompleted})
	s.Require().NoError(err)
	s.Equal([]string{a.SessionID}, ids(done))

	none, err := s.store.List(s.ctx, api.SessionFilter{WorkflowName: "gamma"})
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *StoreSuite) TestExpireRemovesOldSessions() {
	s.clock.Set(base.Add(-40 * 24 * time.Hour))
	old, err := s.store.Create(s.ctx, "wf", "")
	s.Require().NoError(err)

	s.clock.Set(base.Add(-10 * 24 * time.Hour))
	recent, err := s.store.Create(s.ctx, "wf", "")
	s.Require().NoError(err)

	s.clock.Set(base)
	n, err := s.store.Expire(s.ctx, DefaultRetentionDays)
	s.Require().NoError(err)
	s.Equal(1, n)

	_, err = s.store.Get(s.ctx, old.SessionID)
	s.ErrorIs(err, api.ErrSessionNotFound)
	_, err = s.store.GetByToken(s.ctx, old.WorkflowToken)
	s.ErrorIs(err, api.ErrSessionNotFound)

	_, err = s.store.Get(s.ctx, recent.SessionID)
	s.NoError(err)

	n, err = s.store.Expire(s.ctx, DefaultRetentionDays)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *StoreSuite) TestStats() {
	for i := 0; i < 3; i++ {
		_, err := s.store.Create(s.ctx, "alpha", "")
		s.Require().NoError(err)
	}
	done, err := s.store.Create(s.ctx, "beta", "")
	s.Require().NoError(err)
	done.SetStatus(api.StatusCompleted)
	s.Require().NoError(s.store.Save(s.ctx, done))

	stats, err := s.store.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(4, stats.TotalSessions)
	s.Equal(3, stats.StatusCounts[api.StatusInProgress])
	s.Equal(1, stats.StatusCounts[api.StatusCompleted])
	s.Equal(map[string]int{"alpha": 3, "beta": 1}, stats.WorkflowCounts)
}

func (s *StoreSuite) TestConcurrentSavesOneWins() {
	rec, err := s.store.Create(s.ctx, "wf", "")
	s.Require().NoError(err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		stale, err := s.store.Get(s.ctx, rec.SessionID)
		s.Require().NoError(err)
		wg.Add(1)
		go func(i int, r *api.SessionRecord) {
			defer wg.Done()
			r.SetStepData("A", api.StepData{"n": api.Scalar(string(rune('a' + i)))})
			errs[i] = s.store.Save(s.ctx, r)
		}(i, stale)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, api.ErrVersionConflict):
		default:
			s.Failf("unexpected save error", "%v", err)
		}
	}
	s.Equal(1, wins)

	got, err := s.store.Get(s.ctx, rec.SessionID)
	s.Require().NoError(err)
	s.Equal(int64(2), got.Version)
}

func ids(recs []*api.SessionRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.SessionID
	}
	return out
}
