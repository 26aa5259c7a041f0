// Package api contains the core types shared by the hexflow router, its
// session stores and the step applications that talk to it.
//
// Most users interact with the higher-level hexflow package, which re-exports
// selected types and constructors from this package. The api package is
// intended for custom stores, observers and integrations.
//
// # Workflow Graphs
//
// A WorkflowGraph is the parsed form of a workflow definition: the step
// applications (each with a port, one flagged as entry point), the ordered
// flow edges between them and the data mappings that decide which captured
// fields are forwarded across a transition.
//
// Graphs are loaded once at start-up and never mutated, so a single graph is
// shared by every concurrent request.
//
// # Sessions
//
// A SessionRecord tracks one user's journey through a workflow. It is keyed
// internally by SessionID and externally by WorkflowToken, the opaque value
// that travels through every redirect and form submission.
//
// Step data is recorded per step and overwritten when the same step is
// submitted again. Derived metadata (visited steps, progress, completion
// time) is recomputed on every update.
//
// Each record carries a Version. Stores bump it on every Save and reject a
// Save whose Version is stale with ErrVersionConflict, which turns a
// double-submitted form into an explicit conflict instead of a silent
// last-write-wins.
//
// # Routing
//
// The Router interface is the control-flow engine: Start creates a session at
// the entry application, Advance records a step's data and decides the next
// hop, Describe exposes the graph. Routers report what they do to an Observer;
// LoggingObserver and BasicMetrics are provided and can be combined with
// NewCompositeObserver.
package api
