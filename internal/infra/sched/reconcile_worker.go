package sched

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/znomio18-svg/backend-api/internal/domain"
	"github.com/znomio18-svg/backend-api/internal/domain/model"
	"github.com/znomio18-svg/backend-api/internal/domain/ports/adapter"
	"github.com/znomio18-svg/backend-api/internal/infra/metrics"
	"github.com/znomio18-svg/backend-api/internal/usecase"
)

const (
	reconcileLockKey = "payment:reconcile:lock"
	reconcileLockTTL = 55 * time.Second
	reconcileBatch   = 100

	// itemPacing spaces gateway calls inside one sweep so a large backlog
	// does not hammer the provider.
	itemPacing = 200 * time.Millisecond

	// warn thresholds for one sweep
	maxErrWarnCount = 5
	maxErrWarnRate  = 0.5
)

// reconcileService is the slice of the payment use case the sweeper needs.
type reconcileService interface {
	ListDueForReconciliation(ctx context.Context, limit int) ([]*model.Payment, error)
	CheckAndReconcile(ctx context.Context, p *model.Payment, source model.ReconcileSource) (*usecase.ReconcileResult, error)
}

// ReconcileWorker periodically sweeps pending gateway payments that are due
// for another settlement check. A redis lock keeps concurrent instances from
// double-sweeping; ownership is re-probed before every item because the lock
// TTL is shorter than a worst-case sweep.
type ReconcileWorker struct {
	payments reconcileService
	locker   adapter.Locker
	interval time.Duration
	log      *zerolog.Logger
}

func NewReconcileWorker(payments reconcileService, locker adapter.Locker, interval time.Duration, logger *zerolog.Logger) *ReconcileWorker {
	wLog := logger.With().Str("component", "ReconcileWorker").Logger()
	return &ReconcileWorker{payments: payments, locker: locker, interval: interval, log: &wLog}
}

// Run blocks until ctx is done, sweeping once per interval.
func (w *ReconcileWorker) Run(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("reconcile worker started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("reconcile worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

type sweepStats struct {
	checked  int
	settled  int
	deferred int
	errors   int
}

func (w *ReconcileWorker) sweep(ctx context.Context) {
	token := uuid.NewString()
	ok, err := w.locker.TryLock(ctx, reconcileLockKey, token, reconcileLockTTL)
	if err != nil {
		w.log.Error().Err(err).Msg("lock acquire failed")
		metrics.IncSweeperRun("lock_error")
		return
	}
	if !ok {
		w.log.Debug().Msg("sweep skipped, lock held elsewhere")
		metrics.IncSweeperRun("lock_held")
		return
	}
	defer func() {
		if err := w.locker.Unlock(ctx, reconcileLockKey, token); err != nil {
			w.log.Warn().Err(err).Msg("lock release failed")
		}
	}()

	start := time.Now()
	stats := w.processDue(ctx, token)
	elapsed := time.Since(start)

	metrics.IncSweeperRun("completed")
	metrics.ObserveSweeperRun(elapsed.Seconds())

	ev := w.log.Info()
	if stats.errors > maxErrWarnCount ||
		(stats.checked > 0 && float64(stats.errors)/float64(stats.checked) > maxErrWarnRate) {
		ev = w.log.Warn()
	}
	ev.Int("checked", stats.checked).
		Int("settled", stats.settled).
		Int("deferred", stats.deferred).
		Int("errors", stats.errors).
		Dur("elapsed", elapsed).
		Msg("reconcile sweep finished")
}

func (w *ReconcileWorker) processDue(ctx context.Context, token string) sweepStats {
	var stats sweepStats

	due, err := w.payments.ListDueForReconciliation(ctx, reconcileBatch)
	if err != nil {
		w.log.Error().Err(err).Msg("due payment query failed")
		stats.errors++
		return stats
	}

	for i, p := range due {
		if ctx.Err() != nil {
			return stats
		}
		// A lost lock means another instance may already be sweeping the
		// same payments. Stop rather than double-check them.
		owned, err := w.locker.IsOwner(ctx, reconcileLockKey, token)
		if err != nil || !owned {
			w.log.Warn().Int("remaining", len(due)-i).Msg("lock ownership lost mid-sweep, aborting")
			metrics.IncSweeperRun("lock_lost")
			return stats
		}

		stats.checked++
		res, err := w.payments.CheckAndReconcile(ctx, p, model.ReconcileSourceCron)
		switch {
		case errors.Is(err, domain.ErrGatewayUnavailable):
			// Provider down; the rest of the batch would fail the same way.
			w.log.Warn().Str("payment_id", p.ID).Msg("gateway unavailable, aborting sweep")
			stats.errors++
			return stats
		case err != nil:
			w.log.Error().Err(err).Str("payment_id", p.ID).Msg("reconcile failed")
			stats.errors++
		case res.Action == usecase.ReconcileSettled:
			stats.settled++
		case res.Action == usecase.ReconcileDeferred:
			stats.deferred++
		}

		if i < len(due)-1 {
			select {
			case <-ctx.Done():
				return stats
			case <-time.After(itemPacing):
			}
		}
	}
	return stats
}
