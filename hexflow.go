package hexflow

import (
	"context"
	"database/sql"
	"io"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/hexflow/internal/definition"
	"github.com/petrijr/hexflow/internal/httpapi"
	"github.com/petrijr/hexflow/internal/persistence"
	"github.com/petrijr/hexflow/internal/router"
	"github.com/petrijr/hexflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Router               = api.Router
	AdvanceRequest       = api.AdvanceRequest
	Transition           = api.Transition
	WorkflowGraph        = api.WorkflowGraph
	GraphSummary         = api.GraphSummary
	App                  = api.App
	Edge                 = api.Edge
	DataMapping          = api.DataMapping
	FieldSelector        = api.FieldSelector
	Field                = api.Field
	FieldValue           = api.FieldValue
	StepData             = api.StepData
	SessionRecord        = api.SessionRecord
	SessionFilter        = api.SessionFilter
	SessionStats         = api.SessionStats
	Status               = api.Status
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	// SessionStore persists workflow sessions.
	SessionStore = persistence.SessionStore
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	Wildcard             = api.Wildcard
	Fields               = api.Fields
	Scalar               = api.Scalar
	List                 = api.List
)

// Re-export status values for convenience.

const (
	StatusInProgress = api.StatusInProgress
	StatusProcessing = api.StatusProcessing
	StatusCompleted  = api.StatusCompleted
	StatusAbandoned  = api.StatusAbandoned
)

// Re-export sentinel errors.

var (
	ErrNoWorkflowLoaded = api.ErrNoWorkflowLoaded
	ErrNoEntryPoint     = api.ErrNoEntryPoint
	ErrMissingParameter = api.ErrMissingParameter
	ErrUnknownApp       = api.ErrUnknownApp
	ErrSessionNotFound  = api.ErrSessionNotFound
	ErrVersionConflict  = api.ErrVersionConflict
	ErrNoDefinition     = definition.ErrNoDefinition
)

// Workflow definitions

// LoadWorkflow finds and parses the *.dag definition in dir.
func LoadWorkflow(dir string) (*WorkflowGraph, error) {
	g, _, err := definition.Load(dir)
	return g, err
}

// ParseWorkflow parses a definition from r.
func ParseWorkflow(r io.Reader) (*WorkflowGraph, error) {
	return definition.Parse(r)
}

// Session stores
// These wrap internal/persistence so external callers never need to import
// internal packages.

// NewInMemoryStore returns a non-durable store, best for tests.
func NewInMemoryStore() SessionStore {
	return persistence.NewInMemoryStore()
}

// OpenSQLite opens a SQLite database tuned for concurrent sessions. Import
// a "sqlite" driver such as modernc.org/sqlite alongside it.
func OpenSQLite(path string) (*sql.DB, error) {
	return persistence.OpenSQLite(path)
}

// NewSQLiteStore returns a store persisting sessions in a SQLite database.
// Open db with OpenSQLite, or limit it to one connection, when sessions are
// written concurrently.
func NewSQLiteStore(db *sql.DB) (SessionStore, error) {
	return persistence.NewSQLiteSessionStore(db)
}

// NewPostgresStore returns a store persisting sessions in PostgreSQL.
func NewPostgresStore(db *sql.DB) (SessionStore, error) {
	return persistence.NewPostgresSessionStore(db)
}

// NewRedisStore returns a store persisting sessions in Redis under the
// "hexflow:" key prefix.
func NewRedisStore(client *redis.Client) SessionStore {
	return persistence.NewRedisSessionStore(client, "")
}

// NewMongoStore returns a store persisting sessions in the
// hexflow.workflow_sessions collection.
func NewMongoStore(ctx context.Context, client *mongo.Client) (SessionStore, error) {
	return persistence.NewMongoSessionStore(ctx, client, "", "")
}

// Routers

// NewRouter returns a Router for g persisting sessions in store.
func NewRouter(g *WorkflowGraph, store SessionStore) Router {
	return router.New(router.Config{Graph: g, Store: store})
}

// NewRouterWithObserver returns a Router reporting lifecycle events to obs.
func NewRouterWithObserver(g *WorkflowGraph, store SessionStore, obs Observer) Router {
	return router.New(router.Config{Graph: g, Store: store, Observer: obs})
}

// NewInMemoryRouter returns a Router for g backed by an in-memory store.
func NewInMemoryRouter(g *WorkflowGraph) Router {
	return router.NewInMemoryRouter(g)
}

// Handler returns the HTTP surface (/start, /next, /dag, /status, ...) for r.
// store may be nil, in which case /stats only reports what it can.
func Handler(r Router, store SessionStore, logger zerolog.Logger) http.Handler {
	return httpapi.NewEngine(httpapi.Options{
		Router: r,
		Store:  store,
		Cookie: true,
		Logger: logger,
	})
}
