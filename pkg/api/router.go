package api

import "context"

// AdvanceRequest is a step application's submission to the router.
type AdvanceRequest struct {
	// From names the step application that is handing control back.
	From string
	// Token is the workflow token echoed by the step application.
	Token string
	// Data holds the fields captured by the step. Empty means nothing was submitted.
	Data StepData
}

// Transition is the outcome of Start or Advance.
type Transition struct {
	Session *SessionRecord

	// Completed is true when the workflow reached a step with no outgoing edge.
	// RedirectURL and Target are empty in that case.
	Completed bool

	// Target is the step application the browser is sent to next.
	Target      string
	RedirectURL string

	// Forwarded lists the fields handed to Target, in the order they were
	// appended to RedirectURL after the workflow token.
	Forwarded []Field
}

// Router coordinates sessions across the step applications of one workflow.
type Router interface {
	// Start creates a session positioned at the entry application.
	Start(ctx context.Context) (*Transition, error)

	// Advance records the submitted step data and moves the session to the
	// next application, or completes it when none follows.
	Advance(ctx context.Context, req AdvanceRequest) (*Transition, error)

	// Describe returns the loaded workflow graph.
	Describe() (GraphSummary, error)

	// Session looks up a session by workflow token without modifying it.
	Session(ctx context.Context, token string) (*SessionRecord, error)
}
