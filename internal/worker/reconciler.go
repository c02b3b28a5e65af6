package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/bsos-ops/bsos/backend/internal/models"
)

// BackfillRequester enqueues invoice backfills.
type BackfillRequester interface {
	RequestInvoiceBackfill(ctx context.Context, since time.Time) (*models.Job, error)
}

// Reconciler periodically enqueues an invoice backfill covering the last
// lookback window. Webhooks that never arrived are picked up this way.
type Reconciler struct {
	requester BackfillRequester
	interval  time.Duration
	lookback  time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

func NewReconciler(requester BackfillRequester, interval, lookback time.Duration, logger zerolog.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Hour
	}
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &Reconciler{
		requester: requester,
		interval:  interval,
		lookback:  lookback,
		now:       time.Now,
		logger:    logger.With().Str("component", "reconciler").Logger(),
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info().Dur("interval", r.interval).Dur("lookback", r.lookback).Msg("starting invoice reconciler")

	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	since := r.now().Add(-r.lookback)
	job, err := r.requester.RequestInvoiceBackfill(ctx, since)
	if err != nil {
		r.logger.Error().Err(err).Msg("could not enqueue invoice backfill")
		return
	}
	r.logger.Info().Int64("job_id", job.ID).Time("since", since).Msg("enqueued invoice backfill")
}
