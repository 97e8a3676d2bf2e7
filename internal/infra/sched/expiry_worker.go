package sched

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/znomio18-svg/backend-api/internal/domain/ports/adapter"
)

const (
	expiryLockKey = "payment:expire:lock"
	expiryLockTTL = 55 * time.Minute
)

type paymentExpirer interface {
	ExpireOldPayments(ctx context.Context) (int64, error)
}

type subscriptionExpirer interface {
	ExpireFinished(ctx context.Context) (int64, error)
}

// ExpiryWorker hourly closes stale pending payments and finished
// subscriptions. Both are single bulk statements, so no gateway pacing or
// per-item ownership probing is needed here.
type ExpiryWorker struct {
	payments paymentExpirer
	subs     subscriptionExpirer
	locker   adapter.Locker
	interval time.Duration
	log      *zerolog.Logger
}

func NewExpiryWorker(payments paymentExpirer, subs subscriptionExpirer, locker adapter.Locker, interval time.Duration, logger *zerolog.Logger) *ExpiryWorker {
	wLog := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{payments: payments, subs: subs, locker: locker, interval: interval, log: &wLog}
}

// Run blocks until ctx is done.
func (w *ExpiryWorker) Run(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("expiry worker started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("expiry worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	token := uuid.NewString()
	ok, err := w.locker.TryLock(ctx, expiryLockKey, token, expiryLockTTL)
	if err != nil {
		w.log.Error().Err(err).Msg("lock acquire failed")
		return
	}
	if !ok {
		w.log.Debug().Msg("expiry sweep skipped, lock held elsewhere")
		return
	}
	defer func() {
		if err := w.locker.Unlock(ctx, expiryLockKey, token); err != nil {
			w.log.Warn().Err(err).Msg("lock release failed")
		}
	}()

	if _, err := w.payments.ExpireOldPayments(ctx); err != nil {
		w.log.Error().Err(err).Msg("payment expiry failed")
	}
	if _, err := w.subs.ExpireFinished(ctx); err != nil {
		w.log.Error().Err(err).Msg("subscription expiry failed")
	}
}
