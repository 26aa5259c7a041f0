package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/petrijr/hexflow/internal/persistence"
	"github.com/petrijr/hexflow/pkg/api"
)

// DefaultInterval is used by Run when Config.Interval is not positive.
const DefaultInterval = time.Hour

// Config controls what a Janitor cleans up.
type Config struct {
	// RetentionDays removes sessions created more than this many days ago.
	// Zero or negative disables expiry.
	RetentionDays int
	// AbandonAfter marks in-progress sessions idle for longer than this as
	// abandoned. Zero disables the abandon pass.
	AbandonAfter time.Duration
	// Interval between passes in Run.
	Interval time.Duration
}

// Result reports what a single pass changed.
type Result struct {
	Expired   int
	Abandoned int
	// Skipped counts sessions that were modified concurrently and left alone.
	Skipped int
}

// Janitor periodically expires and abandons sessions in a SessionStore.
type Janitor struct {
	store  persistence.SessionStore
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewJanitor creates a Janitor over store.
func NewJanitor(store persistence.SessionStore, cfg Config, logger zerolog.Logger) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Janitor{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// RunOnce performs one expire pass followed by one abandon pass.
func (j *Janitor) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	if j.cfg.RetentionDays > 0 {
		n, err := j.store.Expire(ctx, j.cfg.RetentionDays)
		res.Expired = n
		if err != nil {
			return res, err
		}
	}

	if j.cfg.AbandonAfter > 0 {
		abandoned, skipped, err := j.abandonIdle(ctx)
		res.Abandoned = abandoned
		res.Skipped = skipped
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (j *Janitor) abandonIdle(ctx context.Context) (abandoned, skipped int, err error) {
	sessions, err := j.store.List(ctx, api.SessionFilter{Status: api.StatusInProgress})
	if err != nil {
		return 0, 0, err
	}

	limit := j.now().Add(-j.cfg.AbandonAfter)
	for _, rec := range sessions {
		if !rec.UpdatedAt.Before(limit) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return abandoned, skipped, err
		}

		rec.SetStatus(api.StatusAbandoned)
		err := j.store.Save(ctx, rec)
		switch {
		case err == nil:
			abandoned++
		case errors.Is(err, api.ErrVersionConflict):
			skipped++
		default:
			return abandoned, skipped, err
		}
	}
	return abandoned, skipped, nil
}

// Run calls RunOnce immediately and then every Config.Interval until ctx is
// done. Pass failures are logged and do not stop the loop.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		j.pass(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (j *Janitor) pass(ctx context.Context) {
	start := j.now()
	res, err := j.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		j.logger.Error().Err(err).Msg("janitor pass failed")
		return
	}
	j.logger.Info().
		Int("expired", res.Expired).
		Int("abandoned", res.Abandoned).
		Int("skipped", res.Skipped).
		Dur("took", j.now().Sub(start)).
		Msg("janitor pass finished")
}
