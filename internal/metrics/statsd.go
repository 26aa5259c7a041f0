// Package metrics publishes router activity to a DogStatsD agent.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rs/zerolog/log"

	"github.com/petrijr/hexflow/pkg/api"
)

const (
	SessionStarted   = "session.started"
	SessionCompleted = "session.completed"
	SessionDuration  = "session.duration"
	StepRecorded     = "step.recorded"
	Transition       = "session.transition"
	Failure          = "router.failure"
)

// full sampling
const sampleRate = 1.0

// Client is the subset of *statsd.Client the observer uses.
type Client interface {
	Incr(name string, tags []string, rate float64) error
	Timing(name string, value time.Duration, tags []string, rate float64) error
}

// StatsdObserver implements api.Observer by emitting DogStatsD metrics.
type StatsdObserver struct {
	client Client
}

var _ api.Observer = (*StatsdObserver)(nil)

// NewStatsdObserver wraps an existing client.
func NewStatsdObserver(client Client) *StatsdObserver {
	return &StatsdObserver{client: client}
}

// Dial connects to the agent at addr (e.g. "localhost:8125"). Metric names
// are prefixed with "hexflow." and carry globalTags.
func Dial(addr string, globalTags ...string) (*StatsdObserver, *statsd.Client, error) {
	client, err := statsd.New(addr,
		statsd.WithNamespace("hexflow."),
		statsd.WithTags(globalTags),
	)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("addr", addr).Strs("tags", globalTags).Msg("statsd client initialized")
	return NewStatsdObserver(client), client, nil
}

func (o *StatsdObserver) incr(name string, tags ...string) {
	if err := o.client.Incr(name, tags, sampleRate); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("statsd incr failed")
	}
}

func (o *StatsdObserver) OnSessionStarted(ctx context.Context, rec *api.SessionRecord) {
	o.incr(SessionStarted, "workflow:"+rec.WorkflowName)
}

func (o *StatsdObserver) OnStepRecorded(ctx context.Context, rec *api.SessionRecord, step string) {
	o.incr(StepRecorded, "workflow:"+rec.WorkflowName, "step:"+step)
}

func (o *StatsdObserver) OnTransition(ctx context.Context, rec *api.SessionRecord, from, to string) {
	o.incr(Transition, "workflow:"+rec.WorkflowName, "from:"+from, "to:"+to)
}

func (o *StatsdObserver) OnSessionCompleted(ctx context.Context, rec *api.SessionRecord) {
	tags := []string{"workflow:" + rec.WorkflowName}
	o.incr(SessionCompleted, tags...)
	if d := rec.UpdatedAt.Sub(rec.CreatedAt); d >= 0 {
		if err := o.client.Timing(SessionDuration, d, tags, sampleRate); err != nil {
			log.Warn().Err(err).Str("metric", SessionDuration).Msg("statsd timing failed")
		}
	}
}

func (o *StatsdObserver) OnFailure(ctx context.Context, op, from, token string, err error) {
	o.incr(Failure, "op:"+op, "reason:"+Reason(err))
}

// Reason classifies a router error into a low-cardinality tag value.
func Reason(err error) string {
	switch {
	case errors.Is(err, api.ErrNoWorkflowLoaded):
		return "no_workflow"
	case errors.Is(err, api.ErrNoEntryPoint):
		return "no_entry_point"
	case errors.Is(err, api.ErrMissingParameter):
		return "missing_parameter"
	case errors.Is(err, api.ErrUnknownApp):
		return "unknown_app"
	case errors.Is(err, api.ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, api.ErrVersionConflict):
		return "conflict"
	case api.IsStorageError(err):
		return "storage"
	default:
		return "other"
	}
}
