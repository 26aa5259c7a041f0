package router

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/hexflow/internal/persistence"
	"github.com/petrijr/hexflow/pkg/api"
)

func threeStepGraph() *api.WorkflowGraph {
	return &api.WorkflowGraph{
		Name: "three-step",
		Apps: []api.App{
			{Name: "A", Port: 5001, EntryPoint: true},
			{Name: "B", Port: 5002},
			{Name: "C", Port: 5003},
		},
		Flow: []api.Edge{
			{From: "A", To: "B", Trigger: "submit"},
			{From: "B", To: "C", Trigger: "submit"},
		},
		DataMappings: []api.DataMapping{
			{From: "A", To: "B", Fields: api.Fields("field1")},
			{From: "B", To: "C", Fields: api.Wildcard()},
		},
	}
}

type fixture struct {
	router  api.Router
	store   *persistence.InMemoryStore
	metrics *api.BasicMetrics
}

func newFixture(g *api.WorkflowGraph) fixture {
	store := persistence.NewInMemoryStore()
	metrics := &api.BasicMetrics{}
	return fixture{
		router:  New(Config{Graph: g, Store: store, Observer: metrics}),
		store:   store,
		metrics: metrics,
	}
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestStartPositionsSessionAtEntry(t *testing.T) {
	f := newFixture(threeStepGraph())
	ctx := context.Background()

	tr, err := f.router.Start(ctx)
	require.NoError(t, err)

	rec := tr.Session
	require.Equal(t, "A", rec.CurrentStep)
	require.Equal(t, "A", tr.Target)
	require.Equal(t, api.StatusInProgress, rec.Status)
	require.Empty(t, rec.StepData)
	require.Equal(t, "three-step", rec.WorkflowName)
	require.NotNil(t, rec.Metadata.TotalSteps)
	require.Equal(t, 3, *rec.Metadata.TotalSteps)
	require.Equal(t, "http://localhost:5001?workflow_token="+rec.WorkflowToken, tr.RedirectURL)

	stored, err := f.store.GetByToken(ctx, rec.WorkflowToken)
	require.NoError(t, err)
	require.Equal(t, "A", stored.CurrentStep)
	require.Equal(t, int64(1), f.metrics.Snapshot().SessionsStarted)
}

func TestStartUsesConfiguredStepAddress(t *testing.T) {
	r := New(Config{
		Graph:      threeStepGraph(),
		Store:      persistence.NewInMemoryStore(),
		StepHost:   "steps.internal",
		StepScheme: "https",
	})
	tr, err := r.Start(context.Background())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(tr.RedirectURL, "https://steps.internal:5001?workflow_token=WF-"), tr.RedirectURL)
}

func TestStartFailures(t *testing.T) {
	ctx := context.Background()

	_, err := New(Config{Store: persistence.NewInMemoryStore()}).Start(ctx)
	require.ErrorIs(t, err, api.ErrNoWorkflowLoaded)

	g := threeStepGraph()
	g.Apps[0].EntryPoint = false
	f := newFixture(g)
	_, err = f.router.Start(ctx)
	require.ErrorIs(t, err, api.ErrNoEntryPoint)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.TotalSessions)
	require.Equal(t, int64(1), f.metrics.Snapshot().Failures)
}

func TestAdvanceEndToEnd(t *testing.T) {
	f := newFixture(threeStepGraph())
	ctx := context.Background()

	start, err := f.router.Start(ctx)
	require.NoError(t, err)
	token := start.Session.WorkflowToken

	toB, err := f.router.Advance(ctx, api.AdvanceRequest{
		From:  "A",
		Token: token,
		Data:  api.StepData{"field1": api.Scalar("v1")},
	})
	require.NoError(t, err)
	require.Equal(t, "B", toB.Target)
	u := mustParse(t, toB.RedirectURL)
	require.Equal(t, "localhost:5002", u.Host)
	require.Equal(t, token, u.Query().Get("workflow_token"))
	require.Equal(t, "v1", u.Query().Get("field1"))

	toC, err := f.router.Advance(ctx, api.AdvanceRequest{
		From:  "B",
		Token: token,
		Data:  api.StepData{"field2": api.Scalar("v2")},
	})
	require.NoError(t, err)
	require.Equal(t, "C", toC.Target)
	require.Equal(t, "http://localhost:5003?workflow_token="+token+"&field1=v1&field2=v2", toC.RedirectURL)

	done, err := f.router.Advance(ctx, api.AdvanceRequest{From: "C", Token: token})
	require.NoError(t, err)
	require.True(t, done.Completed)
	require.Empty(t, done.RedirectURL)

	rec, err := f.store.GetByToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, rec.Status)
	require.Equal(t, map[string]api.StepData{
		"A": {"field1": api.Scalar("v1")},
		"B": {"field2": api.Scalar("v2")},
		"C": {},
	}, rec.StepData)
	require.Equal(t, 100.0, rec.Metadata.ProgressPercentage)
	require.NotNil(t, rec.Metadata.CompletedAt)

	snap := f.metrics.Snapshot()
	require.Equal(t, int64(2), snap.Transitions)
	require.Equal(t, int64(1), snap.SessionsCompleted)
	require.Equal(t, int64(0), snap.OpenSessions)
}

func TestAdvanceResubmitIsIdempotent(t *testing.T) {
	f := newFixture(threeStepGraph())
	ctx := context.Background()

	start, err := f.router.Start(ctx)
	require.NoError(t, err)
	req := api.AdvanceRequest{
		From:  "A",
		Token: start.Session.WorkflowToken,
		Data:  api.StepData{"field1": api.Scalar("v1")},
	}

	first, err := f.router.Advance(ctx, req)
	require.NoError(t, err)
	second, err := f.router.Advance(ctx, req)
	require.NoError(t, err)

	require.Equal(t, first.RedirectURL, second.RedirectURL)
	require.Equal(t, first.Session.StepData, second.Session.StepData)
	require.Equal(t, []string{"A"}, second.Session.Metadata.CompletedSteps)
	require.Equal(t, "B", second.Session.CurrentStep)
}

func TestAdvanceWithoutDataKeepsEarlierSubmission(t *testing.T) {
	f := newFixture(threeStepGraph())
	ctx := context.Background()

	start, err := f.router.Start(ctx)
	require.NoError(t, err)
	token := start.Session.WorkflowToken

	_, err = f.router.Advance(ctx, api.AdvanceRequest{From: "A", Token: token, Data: api.StepData{"field1": api.Scalar("v1")}})
	require.NoError(t, err)
	tr, err := f.router.Advance(ctx, api.AdvanceRequest{From: "A", Token: token})
	require.NoError(t, err)

	data, ok := tr.Session.Step("A")
	require.True(t, ok)
	require.True(t, data["field1"].Equal(api.Scalar("v1")))
}

func TestAdvanceTerminalStep(t *testing.T) {
	g := &api.WorkflowGraph{
		Name: "single",
		Apps: []api.App{{Name: "only", Port: 6000, EntryPoint: true}},
	}
	f := newFixture(g)
	ctx := context.Background()

	start, err := f.router.Start(ctx)
	require.NoError(t, err)

	tr, err := f.router.Advance(ctx, api.AdvanceRequest{
		From:  "only",
		Token: start.Session.WorkflowToken,
		Data:  api.StepData{"x": api.Scalar("1")},
	})
	require.NoError(t, err)
	require.True(t, tr.Completed)
	require.Equal(t, api.StatusCompleted, tr.Session.Status)
	require.Equal(t, "only", tr.Session.CurrentStep)
}

func TestAdvanceValidation(t *testing.T) {
	f := newFixture(threeStepGraph())
	ctx := context.Background()

	_, err := f.router.Advance(ctx, api.AdvanceRequest{Token: "WF-X"})
	require.ErrorIs(t, err, api.ErrMissingParameter)
	require.Contains(t, err.Error(), "from")

	_, err = f.router.Advance(ctx, api.AdvanceRequest{From: "A"})
	require.ErrorIs(t, err, api.ErrMissingParameter)
	require.Contains(t, err.Error(), "workflow_token")

	_, err = New(Config{Store: f.store}).Advance(ctx, api.AdvanceRequest{From: "A", Token: "WF-X"})
	require.ErrorIs(t, err, api.ErrNoWorkflowLoaded)
}

func TestAdvanceUnknownTokenCreatesNothing(t *testing.T) {
	f := newFixture(threeStepGraph())
	ctx := context.Background()

	_, err := f.router.Advance(ctx, api.AdvanceRequest{
		From:  "A",
		Token: "WF-00000000000000000000000000000000",
		Data:  api.StepData{"field1": api.Scalar("v1")},
	})
	require.ErrorIs(t, err, api.ErrSessionNotFound)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.TotalSessions)
}

func TestAdvanceUnknownTarget(t *testing.T) {
	g := threeStepGraph()
	g.Flow[0].To = "ghost"
	f := newFixture(g)
	ctx := context.Background()

	start, err := f.router.Start(ctx)
	require.NoError(t, err)

	_, err = f.router.Advance(ctx, api.AdvanceRequest{
		From:  "A",
		Token: start.Session.WorkflowToken,
		Data:  api.StepData{"field1": api.Scalar("v1")},
	})
	require.ErrorIs(t, err, api.ErrUnknownApp)
	require.Contains(t, err.Error(), "ghost")

	rec, err := f.store.GetByToken(ctx, start.Session.WorkflowToken)
	require.NoError(t, err)
	require.Equal(t, "A", rec.CurrentStep)
	require.Empty(t, rec.StepData)
}

func TestAdvanceStaleConcurrentSave(t *testing.T) {
	store := persistence.NewInMemoryStore()
	g := threeStepGraph()
	r := New(Config{Graph: g, Store: store})
	ctx := context.Background()

	start, err := r.Start(ctx)
	require.NoError(t, err)

	// Another writer saves the session between our read and our write.
	racer := &racingStore{SessionStore: store}
	r = New(Config{Graph: g, Store: racer})
	_, err = r.Advance(ctx, api.AdvanceRequest{From: "A", Token: start.Session.WorkflowToken})
	require.ErrorIs(t, err, api.ErrVersionConflict)
}

// racingStore saves a concurrent modification right after every read.
type racingStore struct {
	persistence.SessionStore
}

func (s *racingStore) GetByToken(ctx context.Context, token string) (*api.SessionRecord, error) {
	rec, err := s.SessionStore.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	other := rec.Clone()
	other.AddMetadata("touched", "yes")
	if err := s.SessionStore.Save(ctx, other); err != nil {
		return nil, errors.Join(errors.New("racing save"), err)
	}
	return rec, nil
}

func TestAdvanceReactivatesAbandonedSession(t *testing.T) {
	f := newFixture(threeStepGraph())
	ctx := context.Background()

	start, err := f.router.Start(ctx)
	require.NoError(t, err)
	rec := start.Session
	rec.SetStatus(api.StatusAbandoned)
	require.NoError(t, f.store.Save(ctx, rec))

	tr, err := f.router.Advance(ctx, api.AdvanceRequest{From: "A", Token: rec.WorkflowToken})
	require.NoError(t, err)
	require.Equal(t, api.StatusInProgress, tr.Session.Status)
}

func TestAdvanceFromEarlierStepReopensCompletedSession(t *testing.T) {
	f := newFixture(threeStepGraph())
	ctx := context.Background()

	start, err := f.router.Start(ctx)
	require.NoError(t, err)
	token := start.Session.WorkflowToken
	for _, step := range []string{"A", "B", "C"} {
		_, err = f.router.Advance(ctx, api.AdvanceRequest{From: step, Token: token})
		require.NoError(t, err)
	}
	done, err := f.store.GetByToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, done.Status)

	tr, err := f.router.Advance(ctx, api.AdvanceRequest{From: "B", Token: token})
	require.NoError(t, err)
	require.False(t, tr.Completed)
	require.Equal(t, "C", tr.Target)

	stored, err := f.store.GetByToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, api.StatusInProgress, stored.Status)
	require.Nil(t, stored.Metadata.CompletedAt)
	require.Equal(t, "C", stored.CurrentStep)
	require.NotEmpty(t, stored.Metadata.Extra["reopened_at"])

	tr, err = f.router.Advance(ctx, api.AdvanceRequest{From: "C", Token: token})
	require.NoError(t, err)
	require.True(t, tr.Completed)
	require.NotNil(t, tr.Session.Metadata.CompletedAt)
	require.Equal(t, int64(1), f.metrics.Snapshot().SessionsCompleted)
	require.Zero(t, f.metrics.Snapshot().OpenSessions)
}

// saveCountingStore counts Save calls and fails all of them.
type saveCountingStore struct {
	persistence.SessionStore
	saves int
}

func (s *saveCountingStore) Save(ctx context.Context, rec *api.SessionRecord) error {
	s.saves++
	return errors.New("disk full")
}

func TestStartWritesPositionedRecordOnce(t *testing.T) {
	store := &saveCountingStore{SessionStore: persistence.NewInMemoryStore()}
	r := New(Config{Graph: threeStepGraph(), Store: store})
	ctx := context.Background()

	tr, err := r.Start(ctx)
	require.NoError(t, err)
	require.Zero(t, store.saves)

	stored, err := store.GetByToken(ctx, tr.Session.WorkflowToken)
	require.NoError(t, err)
	require.Equal(t, "A", stored.CurrentStep)
	require.NotNil(t, stored.Metadata.TotalSteps)
	require.Equal(t, 3, *stored.Metadata.TotalSteps)
	require.Equal(t, int64(1), stored.Version)
}

func TestDescribe(t *testing.T) {
	_, err := New(Config{Store: persistence.NewInMemoryStore()}).Describe()
	require.ErrorIs(t, err, api.ErrNoWorkflowLoaded)

	summary, err := NewInMemoryRouter(threeStepGraph()).Describe()
	require.NoError(t, err)
	require.Equal(t, "three-step", summary.Name)
	require.Len(t, summary.Apps, 3)
	require.Len(t, summary.Flow, 2)
}

func TestSessionLookup(t *testing.T) {
	f := newFixture(threeStepGraph())
	ctx := context.Background()

	start, err := f.router.Start(ctx)
	require.NoError(t, err)

	rec, err := f.router.Session(ctx, start.Session.WorkflowToken)
	require.NoError(t, err)
	require.Equal(t, start.Session.SessionID, rec.SessionID)

	_, err = f.router.Session(ctx, "WF-NOPE")
	require.ErrorIs(t, err, api.ErrSessionNotFound)

	_, err = f.router.Session(ctx, "")
	require.ErrorIs(t, err, api.ErrMissingParameter)
}
