package repository

import (
	"context"
	"time"

	"github.com/znomio18-svg/backend-api/internal/domain/model"
)

// PaymentRepository is the durable record of payment intents. FindByInvoiceCode
// takes a row lock when called with a transaction handle, which is what
// serializes concurrent settlement attempts for the same payment.
type PaymentRepository interface {
	Create(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByInvoiceCode(ctx context.Context, tx Tx, invoiceCode string) (*model.Payment, error)

	// FindReusablePending returns a still-fresh pending payment for the same
	// user, target and channel, if one exists.
	FindReusablePending(ctx context.Context, tx Tx, userID string, planID, movieID *string, method model.PaymentMethod, notBefore time.Time) (*model.Payment, error)

	// MarkPaid settles the payment: status, gateway payment id, raw payload,
	// timestamps, source, and the incremented attempt counter, in one write.
	MarkPaid(ctx context.Context, tx Tx, id string, qpayPaymentID *string, rawPayload []byte, paidAt time.Time, source model.ReconcileSource, attempts int) error

	// RecordReconcileAttempt persists a failed settlement check: attempt
	// counter, last/next attempt timestamps and the snapshot for audit.
	RecordReconcileAttempt(ctx context.Context, tx Tx, id string, attempts int, lastAt time.Time, nextAt *time.Time, rawPayload []byte, source model.ReconcileSource) error

	UpdateStatus(ctx context.Context, tx Tx, id string, status model.PaymentStatus, rawPayload []byte) error
	SetUserNotified(ctx context.Context, tx Tx, id string, at time.Time) error

	// ListDueForReconciliation selects pending gateway payments below the
	// attempt ceiling whose next attempt is unset or due, created after
	// `createdAfter` (older ones are the expiry sweep's problem).
	ListDueForReconciliation(ctx context.Context, tx Tx, now time.Time, createdAfter time.Time, limit int) ([]*model.Payment, error)

	// ExpirePending bulk-moves pending payments created before the cutoff to
	// expired, returning how many rows changed.
	ExpirePending(ctx context.Context, tx Tx, olderThan time.Time) (int64, error)
}
