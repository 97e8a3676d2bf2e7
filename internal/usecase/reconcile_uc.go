package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"github.com/znomio18-svg/backend-api/internal/domain"
	"github.com/znomio18-svg/backend-api/internal/domain/model"
	"github.com/znomio18-svg/backend-api/internal/domain/ports/adapter"
	"github.com/znomio18-svg/backend-api/internal/domain/ports/repository"
	"github.com/znomio18-svg/backend-api/internal/infra/logging"
	"github.com/znomio18-svg/backend-api/internal/infra/metrics"
)

// ReconcileAction is the outcome of one reconciliation pass.
type ReconcileAction string

const (
	ReconcileSettled        ReconcileAction = "settled"
	ReconcileDeferred       ReconcileAction = "deferred"
	ReconcileAlreadySettled ReconcileAction = "already_settled"
	ReconcileSkipped        ReconcileAction = "skipped"
)

type ReconcileResult struct {
	Action  ReconcileAction
	Reason  string
	Payment *model.Payment
}

const (
	maxConflictRetries  = 3
	conflictRetryBase   = 50 * time.Millisecond
	conflictRetryJitter = 50 * time.Millisecond
)

// ReconcileUseCase settles pending payments against a gateway snapshot. Every
// trigger (webhook, user poll, cron sweep, manual confirm) funnels into the
// same transaction so concurrent triggers for one invoice serialize on the
// payment row lock and at most one of them settles.
type ReconcileUseCase struct {
	txm       repository.TransactionManager
	payments  repository.PaymentRepository
	plans     repository.SubscriptionPlanRepository
	movies    repository.MovieRepository
	users     repository.UserRepository
	subs      repository.SubscriptionRepository
	purchases repository.MoviePurchaseRepository
	notifier  adapter.NotificationSender
	log       *zerolog.Logger

	// test seams
	sleep func(ctx context.Context, d time.Duration) error
	spawn func(f func())
}

func NewReconcileUseCase(
	txm repository.TransactionManager,
	payments repository.PaymentRepository,
	plans repository.SubscriptionPlanRepository,
	movies repository.MovieRepository,
	users repository.UserRepository,
	subs repository.SubscriptionRepository,
	purchases repository.MoviePurchaseRepository,
	notifier adapter.NotificationSender,
	logger *zerolog.Logger,
) *ReconcileUseCase {
	ucLog := logger.With().Str("component", "ReconcileUseCase").Logger()
	return &ReconcileUseCase{
		txm:       txm,
		payments:  payments,
		plans:     plans,
		movies:    movies,
		users:     users,
		subs:      subs,
		purchases: purchases,
		notifier:  notifier,
		log:       &ucLog,
		sleep:     sleepCtx,
		spawn:     func(f func()) { go f() },
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reconcile applies one gateway snapshot to the payment identified by
// invoiceCode. It re-reads the payment under a row lock, decides settle or
// defer, and commits both the payment transition and the entitlement grant in
// the same transaction. Transient conflicts retry up to three times with
// jittered backoff; if the row was settled by a concurrent trigger the result
// is already_settled, never an error.
func (u *ReconcileUseCase) Reconcile(ctx context.Context, invoiceCode string, snapshot *adapter.PaymentCheck, source model.ReconcileSource, rawPayload []byte) (*ReconcileResult, error) {
	if snapshot == nil {
		return nil, domain.ErrInvalidArgument
	}
	log := logging.With(ctx, u.log)

	if rawPayload == nil {
		rawPayload, _ = json.Marshal(snapshot)
	}

	var res *ReconcileResult
	for attempt := 0; ; attempt++ {
		res = &ReconcileResult{}
		err := u.txm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
			return u.reconcileLocked(ctx, tx, invoiceCode, snapshot, source, rawPayload, res)
		})
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrTxConflict) {
			return nil, err
		}
		if attempt >= maxConflictRetries {
			// Lost the race for good. If the winner settled the payment the
			// caller's intent is satisfied, so report that instead of failing.
			if p, rerr := u.payments.FindByInvoiceCode(ctx, nil, invoiceCode); rerr == nil && p.Status == model.PaymentStatusPaid {
				log.Info().Str("invoice_code", invoiceCode).Msg("payment settled by concurrent trigger")
				metrics.IncReconcile(string(ReconcileAlreadySettled), string(source))
				return &ReconcileResult{Action: ReconcileAlreadySettled, Reason: "settled concurrently", Payment: p}, nil
			}
			return nil, err
		}
		metrics.IncReconcileConflictRetry()
		log.Warn().Str("invoice_code", invoiceCode).Int("attempt", attempt+1).Msg("reconcile conflict, retrying")
		if werr := u.sleep(ctx, conflictBackoff(attempt)); werr != nil {
			return nil, werr
		}
	}

	metrics.IncReconcile(string(res.Action), string(source))
	switch res.Action {
	case ReconcileSettled:
		log.Info().Str("invoice_code", invoiceCode).Str("payment_id", res.Payment.ID).Str("source", string(source)).Msg("payment settled")
		metrics.IncPayment(string(model.PaymentStatusPaid), string(res.Payment.Method))
		metrics.AddPaymentRevenue(string(res.Payment.Method), res.Payment.Amount)
		u.spawn(func() { u.sendConfirmation(res.Payment) })
	case ReconcileDeferred:
		log.Info().Str("invoice_code", invoiceCode).Int("attempts", res.Payment.ReconcileAttempts).Str("reason", res.Reason).Msg("payment not settled, deferred")
	}
	return res, nil
}

// conflictBackoff is 50ms doubled per attempt with +/-50ms of jitter.
func conflictBackoff(attempt int) time.Duration {
	d := conflictRetryBase * (1 << attempt)
	d += time.Duration(rand.Int63n(int64(2*conflictRetryJitter))) - conflictRetryJitter
	if d < 0 {
		d = 0
	}
	return d
}

func (u *ReconcileUseCase) reconcileLocked(ctx context.Context, tx repository.Tx, invoiceCode string, snapshot *adapter.PaymentCheck, source model.ReconcileSource, rawPayload []byte, res *ReconcileResult) error {
	p, err := u.payments.FindByInvoiceCode(ctx, tx, invoiceCode)
	if err != nil {
		return err
	}

	switch {
	case p.Status == model.PaymentStatusPaid:
		*res = ReconcileResult{Action: ReconcileAlreadySettled, Reason: "payment already settled", Payment: p}
		return nil
	case p.Status != model.PaymentStatusPending:
		*res = ReconcileResult{Action: ReconcileSkipped, Reason: fmt.Sprintf("payment is %s", p.Status), Payment: p}
		return nil
	case p.Method != model.PaymentMethodQPay:
		*res = ReconcileResult{Action: ReconcileSkipped, Reason: "not a gateway payment", Payment: p}
		return nil
	}

	now := time.Now()
	attempts := p.ReconcileAttempts + 1

	paidRow := snapshot.PaidRow()
	if snapshot.Count > 0 && snapshot.PaidAmount >= p.Amount && paidRow != nil {
		var qpayPaymentID *string
		if paidRow.PaymentID != "" {
			id := paidRow.PaymentID
			qpayPaymentID = &id
		}
		if err := u.payments.MarkPaid(ctx, tx, p.ID, qpayPaymentID, rawPayload, now, source, attempts); err != nil {
			return err
		}
		if err := u.GrantEntitlement(ctx, tx, p); err != nil {
			return err
		}
		src := source
		p.Status = model.PaymentStatusPaid
		p.QPayPaymentID = qpayPaymentID
		p.RawPayload = rawPayload
		p.PaidAt = &now
		p.ReconcileAttempts = attempts
		p.LastReconcileAt = &now
		p.ReconcileSource = &src
		*res = ReconcileResult{Action: ReconcileSettled, Reason: "gateway reports paid", Payment: p}
		return nil
	}

	next := model.NextReconcileTime(attempts, now)
	if err := u.payments.RecordReconcileAttempt(ctx, tx, p.ID, attempts, now, next, rawPayload, source); err != nil {
		return err
	}
	src := source
	p.ReconcileAttempts = attempts
	p.LastReconcileAt = &now
	p.NextReconcileAt = next
	p.ReconcileSource = &src
	p.RawPayload = rawPayload

	reason := "gateway reports no payment"
	if snapshot.Count > 0 && snapshot.PaidAmount < p.Amount {
		reason = fmt.Sprintf("partial payment: %d of %d", snapshot.PaidAmount, p.Amount)
	} else if snapshot.Count > 0 && paidRow == nil {
		reason = "no settled payment row"
	}
	if next == nil {
		reason += "; attempt limit reached, needs manual review"
	}
	*res = ReconcileResult{Action: ReconcileDeferred, Reason: reason, Payment: p}
	return nil
}

// GrantEntitlement creates the access the payment bought, inside the caller's
// transaction: an active subscription for plan payments, a movie purchase for
// movie payments. A duplicate purchase row means a previous settlement already
// granted it and counts as success.
func (u *ReconcileUseCase) GrantEntitlement(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	switch {
	case p.PlanID != nil:
		plan, err := u.plans.FindByID(ctx, tx, *p.PlanID)
		if err != nil {
			return fmt.Errorf("load plan %s: %w", *p.PlanID, err)
		}
		sub, err := model.NewSubscription(uuid.NewString(), p.UserID, p.ID, plan)
		if err != nil {
			return err
		}
		return u.subs.Create(ctx, tx, sub)
	case p.MovieID != nil:
		err := u.purchases.Create(ctx, tx, &model.MoviePurchase{
			ID:        uuid.NewString(),
			UserID:    p.UserID,
			MovieID:   *p.MovieID,
			PaymentID: p.ID,
			CreatedAt: time.Now(),
		})
		if errors.Is(err, domain.ErrAlreadyExists) {
			u.log.Debug().Str("payment_id", p.ID).Msg("movie already unlocked, grant is a no-op")
			return nil
		}
		return err
	default:
		return domain.ErrInvalidArgument
	}
}

// sendConfirmation runs after commit. Delivery failures are logged only; the
// settlement already happened.
func (u *ReconcileUseCase) sendConfirmation(p *model.Payment) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user, err := u.users.FindByID(ctx, nil, p.UserID)
	if err != nil {
		u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("confirmation mail skipped, user lookup failed")
		return
	}

	var itemName string
	var expiresAt *time.Time
	switch {
	case p.PlanID != nil:
		plan, err := u.plans.FindByID(ctx, nil, *p.PlanID)
		if err != nil {
			u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("confirmation mail skipped, plan lookup failed")
			return
		}
		itemName = plan.Name
		if sub, err := u.subs.FindActiveByUser(ctx, nil, p.UserID, time.Now()); err == nil {
			expiresAt = &sub.EndDate
		}
	case p.MovieID != nil:
		movie, err := u.movies.FindByID(ctx, nil, *p.MovieID)
		if err != nil {
			u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("confirmation mail skipped, movie lookup failed")
			return
		}
		itemName = movie.Title
	}

	if err := u.notifier.SendPaymentConfirmation(ctx, user.Email, user.Name, itemName, p.Amount, expiresAt); err != nil {
		u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("confirmation mail failed")
	}
}
