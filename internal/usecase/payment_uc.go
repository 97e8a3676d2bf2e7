package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/znomio18-svg/backend-api/internal/config"
	"github.com/znomio18-svg/backend-api/internal/domain"
	"github.com/znomio18-svg/backend-api/internal/domain/model"
	"github.com/znomio18-svg/backend-api/internal/domain/ports/adapter"
	"github.com/znomio18-svg/backend-api/internal/domain/ports/repository"
	"github.com/znomio18-svg/backend-api/internal/infra/logging"
	"github.com/znomio18-svg/backend-api/internal/infra/metrics"
)

const (
	// pendingReuseWindow keeps a repeat "buy" click from minting a second
	// invoice while the first is still payable.
	pendingReuseWindow = 30 * time.Minute

	// pendingMaxAge is how long a pending payment stays payable before the
	// expiry sweep closes it.
	pendingMaxAge = 30 * time.Minute

	// reconcileLookback bounds the sweep to recent payments; anything older
	// is the expiry sweep's problem.
	reconcileLookback = 24 * time.Hour
)

// PaymentUseCase drives the payment lifecycle: creation on either channel,
// lookups, poll and webhook triggers into the reconcile engine, and the
// manual bank-transfer review flow.
type PaymentUseCase struct {
	txm        repository.TransactionManager
	payments   repository.PaymentRepository
	plans      repository.SubscriptionPlanRepository
	movies     repository.MovieRepository
	users      repository.UserRepository
	accounts   repository.BankAccountRepository
	subs       repository.SubscriptionRepository
	purchases  repository.MoviePurchaseRepository
	gateway    adapter.PaymentGateway
	notifier   adapter.NotificationSender
	reconciler *ReconcileUseCase
	qpayCfg    config.QPayConfig
	adminEmail string
	log        *zerolog.Logger
}

func NewPaymentUseCase(
	txm repository.TransactionManager,
	payments repository.PaymentRepository,
	plans repository.SubscriptionPlanRepository,
	movies repository.MovieRepository,
	users repository.UserRepository,
	accounts repository.BankAccountRepository,
	subs repository.SubscriptionRepository,
	purchases repository.MoviePurchaseRepository,
	gateway adapter.PaymentGateway,
	notifier adapter.NotificationSender,
	reconciler *ReconcileUseCase,
	qpayCfg config.QPayConfig,
	adminEmail string,
	logger *zerolog.Logger,
) *PaymentUseCase {
	ucLog := logger.With().Str("component", "PaymentUseCase").Logger()
	return &PaymentUseCase{
		txm:        txm,
		payments:   payments,
		plans:      plans,
		movies:     movies,
		users:      users,
		accounts:   accounts,
		subs:       subs,
		purchases:  purchases,
		gateway:    gateway,
		notifier:   notifier,
		reconciler: reconciler,
		qpayCfg:    qpayCfg,
		adminEmail: adminEmail,
		log:        &ucLog,
	}
}

type CreatePaymentInput struct {
	UserID        string
	PlanID        *string
	MovieID       *string
	Method        model.PaymentMethod
	BankAccountID *string
}

// CreatePayment creates a pending payment for a plan or a movie. A still
// payable pending payment for the same user, target and channel is returned
// as-is instead of minting a new invoice.
func (u *PaymentUseCase) CreatePayment(ctx context.Context, in CreatePaymentInput) (*model.Payment, error) {
	log := logging.With(ctx, u.log)

	if in.UserID == "" || (in.PlanID == nil) == (in.MovieID == nil) {
		return nil, domain.ErrInvalidArgument
	}
	if in.Method != model.PaymentMethodQPay && in.Method != model.PaymentMethodBankTransfer {
		return nil, domain.ErrInvalidArgument
	}

	amount, description, err := u.resolveTarget(ctx, in)
	if err != nil {
		return nil, err
	}

	notBefore := time.Now().Add(-pendingReuseWindow)
	if existing, err := u.payments.FindReusablePending(ctx, nil, in.UserID, in.PlanID, in.MovieID, in.Method, notBefore); err == nil {
		log.Debug().Str("payment_id", existing.ID).Msg("reusing pending payment")
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	p := &model.Payment{
		ID:          uuid.NewString(),
		InvoiceCode: "INV-" + ulid.Make().String(),
		UserID:      in.UserID,
		PlanID:      in.PlanID,
		MovieID:     in.MovieID,
		Amount:      amount,
		Method:      in.Method,
		Status:      model.PaymentStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	switch in.Method {
	case model.PaymentMethodQPay:
		inv, err := u.gateway.CreateInvoice(ctx, p.InvoiceCode, amount, description, u.qpayCfg.CallbackURL+"?invoice="+p.InvoiceCode)
		if err != nil {
			return nil, err
		}
		p.QPayInvoiceID = &inv.InvoiceID
		p.QPayQRText = inv.QRText
		p.QPayQRImage = inv.QRImage
		p.QPayDeeplinks = inv.Deeplinks
	case model.PaymentMethodBankTransfer:
		if in.BankAccountID == nil {
			return nil, domain.ErrInvalidArgument
		}
		account, err := u.accounts.FindByID(ctx, nil, *in.BankAccountID)
		if err != nil {
			return nil, err
		}
		if !account.IsActive {
			return nil, domain.ErrInvalidArgument
		}
		p.BankAccountID = in.BankAccountID
		p.TransferRef = "SK" + ulid.Make().String()
	}

	if err := u.payments.Create(ctx, nil, p); err != nil {
		return nil, err
	}
	metrics.IncPayment(string(model.PaymentStatusPending), string(p.Method))
	log.Info().Str("payment_id", p.ID).Str("invoice_code", p.InvoiceCode).Str("method", string(p.Method)).Int64("amount", amount).Msg("payment created")
	return p, nil
}

// resolveTarget applies the purchase pre-checks and prices the payment.
func (u *PaymentUseCase) resolveTarget(ctx context.Context, in CreatePaymentInput) (int64, string, error) {
	if in.PlanID != nil {
		plan, err := u.plans.FindByID(ctx, nil, *in.PlanID)
		if err != nil {
			return 0, "", err
		}
		if !plan.IsActive {
			return 0, "", domain.ErrPlanUnavailable
		}
		if _, err := u.subs.FindActiveByUser(ctx, nil, in.UserID, time.Now()); err == nil {
			return 0, "", domain.ErrActiveSubscription
		} else if !errors.Is(err, domain.ErrNotFound) {
			return 0, "", err
		}
		return plan.Price, plan.Name, nil
	}

	movie, err := u.movies.FindByID(ctx, nil, *in.MovieID)
	if err != nil {
		return 0, "", err
	}
	if !movie.IsPublished || movie.Price <= 0 {
		return 0, "", domain.ErrMovieNotPurchasable
	}
	owned, err := u.purchases.Exists(ctx, nil, in.UserID, *in.MovieID)
	if err != nil {
		return 0, "", err
	}
	if owned {
		return 0, "", domain.ErrMovieAlreadyPurchased
	}
	return movie.Price, movie.Title, nil
}

// GetPayment returns a payment scoped to its owner.
func (u *PaymentUseCase) GetPayment(ctx context.Context, userID, paymentID string) (*model.Payment, error) {
	p, err := u.payments.FindByID(ctx, nil, paymentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

// CheckPayment is the user-initiated poll: fetch a fresh gateway snapshot and
// feed it to the reconcile engine. Non-pending payments return their current
// state without a gateway call.
func (u *PaymentUseCase) CheckPayment(ctx context.Context, userID, paymentID string) (*ReconcileResult, error) {
	p, err := u.GetPayment(ctx, userID, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PaymentStatusPending {
		return shortCircuitResult(p), nil
	}
	return u.CheckAndReconcile(ctx, p, model.ReconcileSourcePolling)
}

// CheckAndReconcile fetches a gateway snapshot for a pending gateway payment
// and runs the reconcile engine. The sweeper and the poll path share it.
func (u *PaymentUseCase) CheckAndReconcile(ctx context.Context, p *model.Payment, source model.ReconcileSource) (*ReconcileResult, error) {
	if p.Method != model.PaymentMethodQPay || p.QPayInvoiceID == nil {
		return nil, domain.ErrWrongPaymentChannel
	}
	snapshot, err := u.gateway.CheckPayment(ctx, *p.QPayInvoiceID)
	if err != nil {
		return nil, err
	}
	return u.reconciler.Reconcile(ctx, p.InvoiceCode, snapshot, source, nil)
}

// HandleWebhook processes a gateway callback for an invoice reference. The
// raw body is stored on the payment for audit. Unknown invoices are reported
// as skipped so the gateway stops retrying the delivery.
func (u *PaymentUseCase) HandleWebhook(ctx context.Context, invoiceCode string, rawBody []byte) (*ReconcileResult, error) {
	log := logging.With(ctx, u.log)

	p, err := u.payments.FindByInvoiceCode(ctx, nil, invoiceCode)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Str("invoice_code", invoiceCode).Msg("webhook for unknown invoice")
		metrics.IncReconcile(string(ReconcileSkipped), string(model.ReconcileSourceWebhook))
		return &ReconcileResult{Action: ReconcileSkipped, Reason: "unknown invoice"}, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Status != model.PaymentStatusPending {
		return shortCircuitResult(p), nil
	}
	if p.Method != model.PaymentMethodQPay || p.QPayInvoiceID == nil {
		return &ReconcileResult{Action: ReconcileSkipped, Reason: "not a gateway payment", Payment: p}, nil
	}

	// The callback body is advisory. Settlement only trusts a fresh snapshot
	// from the gateway's check endpoint.
	snapshot, err := u.gateway.CheckPayment(ctx, *p.QPayInvoiceID)
	if err != nil {
		return nil, err
	}
	return u.reconciler.Reconcile(ctx, invoiceCode, snapshot, model.ReconcileSourceWebhook, rawBody)
}

func shortCircuitResult(p *model.Payment) *ReconcileResult {
	if p.Status == model.PaymentStatusPaid {
		return &ReconcileResult{Action: ReconcileAlreadySettled, Reason: "payment already settled", Payment: p}
	}
	return &ReconcileResult{Action: ReconcileSkipped, Reason: "payment is " + string(p.Status), Payment: p}
}

// ListDueForReconciliation selects the sweep candidates: pending gateway
// payments under the attempt ceiling, due now, created within the lookback.
func (u *PaymentUseCase) ListDueForReconciliation(ctx context.Context, limit int) ([]*model.Payment, error) {
	now := time.Now()
	return u.payments.ListDueForReconciliation(ctx, nil, now, now.Add(-reconcileLookback), limit)
}

// ExpireOldPayments closes pending payments older than the payable window.
func (u *PaymentUseCase) ExpireOldPayments(ctx context.Context) (int64, error) {
	n, err := u.payments.ExpirePending(ctx, nil, time.Now().Add(-pendingMaxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.AddPaymentsExpired(n)
		u.log.Info().Int64("count", n).Msg("expired stale pending payments")
	}
	return n, nil
}

// ListBankAccounts returns the active destination accounts for manual
// transfers, in display order.
func (u *PaymentUseCase) ListBankAccounts(ctx context.Context) ([]*model.BankAccount, error) {
	return u.accounts.ListActive(ctx, nil)
}

// NotifyTransferPaid records that the user declared a manual transfer and
// mails the admin for review.
func (u *PaymentUseCase) NotifyTransferPaid(ctx context.Context, userID, paymentID string) (*model.Payment, error) {
	log := logging.With(ctx, u.log)

	p, err := u.GetPayment(ctx, userID, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Method != model.PaymentMethodBankTransfer {
		return nil, domain.ErrWrongPaymentChannel
	}
	if p.Status != model.PaymentStatusPending {
		return nil, domain.ErrPaymentNotPending
	}

	now := time.Now()
	if err := u.payments.SetUserNotified(ctx, nil, p.ID, now); err != nil {
		return nil, err
	}
	p.UserNotifiedAt = &now
	log.Info().Str("payment_id", p.ID).Str("transfer_ref", p.TransferRef).Msg("bank transfer declared paid")

	u.reconciler.spawn(func() { u.sendTransferNotice(p) })
	return p, nil
}

func (u *PaymentUseCase) sendTransferNotice(p *model.Payment) {
	if u.adminEmail == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user, err := u.users.FindByID(ctx, nil, p.UserID)
	if err != nil {
		u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("transfer notice skipped, user lookup failed")
		return
	}
	itemName := "subscription"
	if p.PlanID != nil {
		if plan, err := u.plans.FindByID(ctx, nil, *p.PlanID); err == nil {
			itemName = plan.Name
		}
	} else if p.MovieID != nil {
		itemName = "movie"
		if movie, err := u.movies.FindByID(ctx, nil, *p.MovieID); err == nil {
			itemName = movie.Title
		}
	}
	if err := u.notifier.SendBankTransferNotice(ctx, u.adminEmail, user.Name, user.Email, itemName, p.Amount, p.TransferRef, p.ID); err != nil {
		u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("transfer notice mail failed")
	}
}

// ConfirmBankTransfer settles a declared manual transfer after admin review.
// The payment transition and the entitlement grant share one transaction,
// like gateway settlements.
func (u *PaymentUseCase) ConfirmBankTransfer(ctx context.Context, paymentID string) (*ReconcileResult, error) {
	log := logging.With(ctx, u.log)

	res := &ReconcileResult{}
	err := u.txm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == model.PaymentStatusPaid {
			*res = *shortCircuitResult(p)
			return nil
		}
		if p.Status != model.PaymentStatusPending {
			return domain.ErrPaymentNotPending
		}
		if p.Method != model.PaymentMethodBankTransfer {
			return domain.ErrWrongPaymentChannel
		}

		now := time.Now()
		raw, _ := json.Marshal(map[string]string{"resolution": "confirmed", "transfer_ref": p.TransferRef})
		attempts := p.ReconcileAttempts + 1
		if err := u.payments.MarkPaid(ctx, tx, p.ID, nil, raw, now, model.ReconcileSourceManual, attempts); err != nil {
			return err
		}
		if err := u.reconciler.GrantEntitlement(ctx, tx, p); err != nil {
			return err
		}
		src := model.ReconcileSourceManual
		p.Status = model.PaymentStatusPaid
		p.PaidAt = &now
		p.RawPayload = raw
		p.ReconcileAttempts = attempts
		p.ReconcileSource = &src
		*res = ReconcileResult{Action: ReconcileSettled, Reason: "confirmed by admin", Payment: p}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Action == ReconcileSettled {
		log.Info().Str("payment_id", paymentID).Msg("bank transfer confirmed")
		metrics.IncReconcile(string(ReconcileSettled), string(model.ReconcileSourceManual))
		metrics.IncPayment(string(model.PaymentStatusPaid), string(res.Payment.Method))
		metrics.AddPaymentRevenue(string(res.Payment.Method), res.Payment.Amount)
		u.reconciler.spawn(func() { u.reconciler.sendConfirmation(res.Payment) })
	}
	return res, nil
}

// RejectBankTransfer fails a declared manual transfer. The reason lands in
// the raw payload for audit.
func (u *PaymentUseCase) RejectBankTransfer(ctx context.Context, paymentID, reason string) (*model.Payment, error) {
	log := logging.With(ctx, u.log)

	var rejected *model.Payment
	err := u.txm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != model.PaymentStatusPending {
			return domain.ErrPaymentNotPending
		}
		if p.Method != model.PaymentMethodBankTransfer {
			return domain.ErrWrongPaymentChannel
		}
		raw, _ := json.Marshal(map[string]string{"resolution": "rejected", "reason": reason})
		if err := u.payments.UpdateStatus(ctx, tx, p.ID, model.PaymentStatusFailed, raw); err != nil {
			return err
		}
		p.Status = model.PaymentStatusFailed
		p.RawPayload = raw
		rejected = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncPayment(string(model.PaymentStatusFailed), string(rejected.Method))
	log.Info().Str("payment_id", paymentID).Str("reason", reason).Msg("bank transfer rejected")
	return rejected, nil
}
