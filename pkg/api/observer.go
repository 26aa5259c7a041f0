package api

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Observer receives callbacks from the router for logging and metrics.
//
// Implementations should be fast and non-blocking; they run on the request
// path of every /start and /next call.
type Observer interface {
	// OnSessionStarted is called once a new session has been persisted.
	OnSessionStarted(ctx context.Context, rec *SessionRecord)

	// OnStepRecorded is called after submitted data was stored against step.
	OnStepRecorded(ctx context.Context, rec *SessionRecord, step string)

	// OnTransition is called after the session moved from one app to the next.
	OnTransition(ctx context.Context, rec *SessionRecord, from, to string)

	// OnSessionCompleted is called when a session reaches StatusCompleted.
	OnSessionCompleted(ctx context.Context, rec *SessionRecord)

	// OnFailure is called whenever Start or Advance returns an error.
	// op is "start" or "advance"; from and token may be empty.
	OnFailure(ctx context.Context, op, from, token string, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnSessionStarted(ctx context.Context, rec *SessionRecord)            {}
func (NoopObserver) OnStepRecorded(ctx context.Context, rec *SessionRecord, step string) {}
func (NoopObserver) OnTransition(ctx context.Context, rec *SessionRecord, from, to string) {
}
func (NoopObserver) OnSessionCompleted(ctx context.Context, rec *SessionRecord) {}
func (NoopObserver) OnFailure(ctx context.Context, op, from, token string, err error) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnSessionStarted(ctx context.Context, rec *SessionRecord) {
	for _, o := range c.observers {
		o.OnSessionStarted(ctx, rec)
	}
}

func (c *CompositeObserver) OnStepRecorded(ctx context.Context, rec *SessionRecord, step string) {
	for _, o := range c.observers {
		o.OnStepRecorded(ctx, rec, step)
	}
}

func (c *CompositeObserver) OnTransition(ctx context.Context, rec *SessionRecord, from, to string) {
	for _, o := range c.observers {
		o.OnTransition(ctx, rec, from, to)
	}
}

func (c *CompositeObserver) OnSessionCompleted(ctx context.Context, rec *SessionRecord) {
	for _, o := range c.observers {
		o.OnSessionCompleted(ctx, rec)
	}
}

func (c *CompositeObserver) OnFailure(ctx context.Context, op, from, token string, err error) {
	for _, o := range c.observers {
		o.OnFailure(ctx, op, from, token, err)
	}
}

// LoggingObserver writes structured logs using zerolog.
type LoggingObserver struct {
	Logger zerolog.Logger
}

// NewLoggingObserver creates an Observer that logs session lifecycle events
// to logger.
func NewLoggingObserver(logger zerolog.Logger) Observer {
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnSessionStarted(ctx context.Context, rec *SessionRecord) {
	o.Logger.Info().
		Str("workflow", rec.WorkflowName).
		Str("token", rec.WorkflowToken).
		Str("step", rec.CurrentStep).
		Msg("session_started")
}

func (o *LoggingObserver) OnStepRecorded(ctx context.Context, rec *SessionRecord, step string) {
	o.Logger.Debug().
		Str("workflow", rec.WorkflowName).
		Str("token", rec.WorkflowToken).
		Str("step", step).
		Int("fields", len(rec.StepData[step])).
		Msg("step_recorded")
}

func (o *LoggingObserver) OnTransition(ctx context.Context, rec *SessionRecord, from, to string) {
	o.Logger.Info().
		Str("workflow", rec.WorkflowName).
		Str("token", rec.WorkflowToken).
		Str("from", from).
		Str("to", to).
		Msg("session_transition")
}

func (o *LoggingObserver) OnSessionCompleted(ctx context.Context, rec *SessionRecord) {
	o.Logger.Info().
		Str("workflow", rec.WorkflowName).
		Str("token", rec.WorkflowToken).
		Msg("session_completed")
}

func (o *LoggingObserver) OnFailure(ctx context.Context, op, from, token string, err error) {
	ev := o.Logger.Warn()
	if IsStorageError(err) {
		ev = o.Logger.Error()
	}
	ev.Str("op", op).
		Str("from", from).
		Str("token", token).
		Err(err).
		Msg("router_failure")
}

// BasicMetrics collects simple counters about router activity.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	sessionsStarted   atomic.Int64
	sessionsCompleted atomic.Int64
	stepsRecorded     atomic.Int64
	transitions       atomic.Int64
	failures          atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	SessionsStarted   int64 `json:"sessions_started"`
	SessionsCompleted int64 `json:"sessions_completed"`
	OpenSessions      int64 `json:"open_sessions"`
	StepsRecorded     int64 `json:"steps_recorded"`
	Transitions       int64 `json:"transitions"`
	Failures          int64 `json:"failures"`
}

func (m *BasicMetrics) OnSessionStarted(ctx context.Context, rec *SessionRecord) {
	m.sessionsStarted.Add(1)
}

func (m *BasicMetrics) OnStepRecorded(ctx context.Context, rec *SessionRecord, step string) {
	m.stepsRecorded.Add(1)
}

func (m *BasicMetrics) OnTransition(ctx context.Context, rec *SessionRecord, from, to string) {
	m.transitions.Add(1)
}

func (m *BasicMetrics) OnSessionCompleted(ctx context.Context, rec *SessionRecord) {
	m.sessionsCompleted.Add(1)
}

func (m *BasicMetrics) OnFailure(ctx context.Context, op, from, token string, err error) {
	m.failures.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.sessionsStarted.Load()
	completed := m.sessionsCompleted.Load()
	return BasicMetricsSnapshot{
		SessionsStarted:   started,
		SessionsCompleted: completed,
		OpenSessions:      started - completed,
		StepsRecorded:     m.stepsRecorded.Load(),
		Transitions:       m.transitions.Load(),
		Failures:          m.failures.Load(),
	}
}
