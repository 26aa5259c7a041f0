// Package router coordinates workflow sessions across step applications:
// it starts sessions at the entry application, records what each step
// submits and decides where the browser goes next.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/petrijr/hexflow/internal/persistence"
	"github.com/petrijr/hexflow/pkg/api"
)

const (
	DefaultStepHost   = "localhost"
	DefaultStepScheme = "http"
)

// reopenedKey marks, in the session metadata, when a completed session was
// sent back to an earlier step.
const reopenedKey = "reopened_at"

// Config describes how to construct a Router.
type Config struct {
	// Graph is the loaded workflow. A nil graph yields a router whose
	// operations fail with api.ErrNoWorkflowLoaded.
	Graph *api.WorkflowGraph
	Store persistence.SessionStore

	Observer api.Observer

	// StepHost and StepScheme address the step applications in redirect
	// URLs. They default to "localhost" and "http".
	StepHost   string
	StepScheme string
}

type routerImpl struct {
	graph    *api.WorkflowGraph
	store    persistence.SessionStore
	observer api.Observer
	host     string
	scheme   string
}

// Ensure routerImpl implements api.Router.
var _ api.Router = (*routerImpl)(nil)

// New returns a Router over cfg.Store.
func New(cfg Config) api.Router {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	host := cfg.StepHost
	if host == "" {
		host = DefaultStepHost
	}
	scheme := cfg.StepScheme
	if scheme == "" {
		scheme = DefaultStepScheme
	}
	return &routerImpl{
		graph:    cfg.Graph,
		store:    cfg.Store,
		observer: obs,
		host:     host,
		scheme:   scheme,
	}
}

// NewInMemoryRouter returns a Router for g backed by an in-memory store.
func NewInMemoryRouter(g *api.WorkflowGraph) api.Router {
	return New(Config{Graph: g, Store: persistence.NewInMemoryStore()})
}

func (r *routerImpl) Start(ctx context.Context) (*api.Transition, error) {
	if r.graph == nil {
		return nil, r.fail(ctx, "start", "", "", api.ErrNoWorkflowLoaded)
	}
	entry, ok := r.graph.EntryPoint()
	if !ok {
		return nil, r.fail(ctx, "start", "", "", api.ErrNoEntryPoint)
	}

	rec, err := r.store.Create(ctx, r.graph.Name, "", persistence.AtStep(entry.Name, len(r.graph.Apps)))
	if err != nil {
		return nil, r.fail(ctx, "start", "", "", err)
	}

	r.observer.OnSessionStarted(ctx, rec)
	return &api.Transition{
		Session:     rec,
		Target:      entry.Name,
		RedirectURL: stepURL(r.scheme, r.host, entry.Port, rec.WorkflowToken, nil),
	}, nil
}

func (r *routerImpl) Advance(ctx context.Context, req api.AdvanceRequest) (*api.Transition, error) {
	if r.graph == nil {
		return nil, r.fail(ctx, "advance", req.From, req.Token, api.ErrNoWorkflowLoaded)
	}
	if req.From == "" {
		return nil, r.fail(ctx, "advance", req.From, req.Token, fmt.Errorf("%w: from", api.ErrMissingParameter))
	}
	if req.Token == "" {
		return nil, r.fail(ctx, "advance", req.From, req.Token, fmt.Errorf("%w: workflow_token", api.ErrMissingParameter))
	}

	rec, err := r.store.GetByToken(ctx, req.Token)
	if err != nil {
		return nil, r.fail(ctx, "advance", req.From, req.Token, err)
	}

	recorded := false
	if len(req.Data) > 0 {
		rec.SetStepData(req.From, req.Data)
		recorded = true
	} else if _, seen := rec.Step(req.From); !seen {
		// Mark the step visited without clobbering anything captured earlier.
		rec.SetStepData(req.From, api.StepData{})
		recorded = true
	}
	if rec.Status == api.StatusAbandoned {
		rec.SetStatus(api.StatusInProgress)
	}

	next, ok := r.graph.NextStep(req.From)
	if !ok {
		alreadyDone := rec.Status == api.StatusCompleted || rec.Metadata.Extra[reopenedKey] != ""
		rec.SetStatus(api.StatusCompleted)
		if err := r.store.Save(ctx, rec); err != nil {
			return nil, r.fail(ctx, "advance", req.From, req.Token, err)
		}
		if recorded {
			r.observer.OnStepRecorded(ctx, rec, req.From)
		}
		if !alreadyDone {
			r.observer.OnSessionCompleted(ctx, rec)
		}
		return &api.Transition{Session: rec, Completed: true}, nil
	}

	port, ok := r.graph.AppPort(next)
	if !ok {
		return nil, r.fail(ctx, "advance", req.From, req.Token, &api.UnknownAppError{App: next})
	}

	if rec.Status == api.StatusCompleted {
		// Revisiting an earlier step reopens the session. It is counted as
		// completed only once.
		rec.SetStatus(api.StatusInProgress)
		rec.AddMetadata(reopenedKey, rec.UpdatedAt.UTC().Format(time.RFC3339))
	}
	forwarded := forwardFields(r.graph, rec, req.From, next)
	rec.CurrentStep = next
	if err := r.store.Save(ctx, rec); err != nil {
		return nil, r.fail(ctx, "advance", req.From, req.Token, err)
	}

	if recorded {
		r.observer.OnStepRecorded(ctx, rec, req.From)
	}
	r.observer.OnTransition(ctx, rec, req.From, next)
	return &api.Transition{
		Session:     rec,
		Target:      next,
		RedirectURL: stepURL(r.scheme, r.host, port, rec.WorkflowToken, forwarded),
		Forwarded:   forwarded,
	}, nil
}

func (r *routerImpl) Describe() (api.GraphSummary, error) {
	if r.graph == nil {
		return api.GraphSummary{}, api.ErrNoWorkflowLoaded
	}
	return r.graph.Summary(), nil
}

func (r *routerImpl) Session(ctx context.Context, token string) (*api.SessionRecord, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: workflow_token", api.ErrMissingParameter)
	}
	return r.store.GetByToken(ctx, token)
}

func (r *routerImpl) fail(ctx context.Context, op, from, token string, err error) error {
	r.observer.OnFailure(ctx, op, from, token, err)
	return err
}
