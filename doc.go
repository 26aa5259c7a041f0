// Package hexflow routes a browser through a workflow of independent
// micro-frontend step applications.
//
// A workflow is declared in a YAML definition file (*.dag) listing the step
// applications, the transitions between them and which captured fields are
// handed from one step to the next. hexflow keeps one session per browser
// journey, identified by an opaque workflow token that travels in the
// query string of every redirect.
//
// # Core Concepts
//
//  1. WorkflowGraph: the parsed definition, read-only once loaded.
//  2. SessionStore: persists SessionRecords (in-memory, SQLite, Postgres,
//     Redis or MongoDB).
//  3. Router: starts sessions, records step submissions and decides where
//     the browser goes next.
//
// # Flow
//
// The browser calls /start, which creates a session and redirects to the
// entry application with ?workflow_token=T. When a step application is
// done it redirects (or posts) back to /next with from=<app>,
// workflow_token=T and its form fields. The router stores the fields under
// the step's name, follows the first transition leaving that step, and
// redirects to the next application with the fields selected by the
// matching data mapping appended to the URL. A step with no outgoing
// transition completes the session.
//
// # Concurrency
//
// Stores use optimistic versioning. Two concurrent submissions for the
// same session cannot both win; the loser receives ErrVersionConflict
// (HTTP 409) and resubmits.
//
// # Usage
//
//	g, err := hexflow.LoadWorkflow("./workflows/library-card")
//	if err != nil {
//		log.Fatal(err)
//	}
//	r := hexflow.NewRouter(g, hexflow.NewInMemoryStore())
//	http.ListenAndServe(":8000", hexflow.Handler(r, nil, zerolog.Nop()))
//
// The hexflow command wraps the same pieces with configuration, logging,
// metrics and a maintenance janitor.
package hexflow
