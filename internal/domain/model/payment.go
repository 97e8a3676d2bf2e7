package model

import (
	"time"

	"github.com/znomio18-svg/backend-api/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending" // invoice created; awaiting settlement
	PaymentStatusPaid    PaymentStatus = "paid"    // settled; entitlement granted
	PaymentStatusFailed  PaymentStatus = "failed"  // rejected manually or definitively failed
	PaymentStatusExpired PaymentStatus = "expired" // pending too long; swept by the expiry job
)

type PaymentMethod string

const (
	PaymentMethodQPay         PaymentMethod = "qpay"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

// ReconcileSource records which trigger last mutated a payment.
type ReconcileSource string

const (
	ReconcileSourceWebhook ReconcileSource = "webhook"
	ReconcileSourcePolling ReconcileSource = "polling"
	ReconcileSourceCron    ReconcileSource = "cron"
	ReconcileSourceManual  ReconcileSource = "manual"
)

// MaxReconcileAttempts is the ceiling after which a payment falls out of
// automatic reconciliation and waits for manual resolution.
const MaxReconcileAttempts = 5

// backoffScheduleMinutes is indexed by attempt count; attempt 1 stays
// immediately eligible, later attempts back off up to an hour.
var backoffScheduleMinutes = []int{0, 1, 5, 15, 60}

// Payment records a payment intent against either a subscription plan or a
// single movie. Rows are append-only: status transitions update the same row
// and nothing is ever deleted.
type Payment struct {
	ID          string // UUID
	InvoiceCode string // externally visible reference, unique and immutable
	UserID      string // UUID

	// Exactly one of PlanID / MovieID is set.
	PlanID  *string
	MovieID *string

	Amount int64 // minor currency units (MNT)
	Method PaymentMethod
	Status PaymentStatus

	// QPay-side identifiers; nil for bank transfers.
	QPayInvoiceID *string
	QPayPaymentID *string // set only on settlement
	QPayQRText    string
	QPayQRImage   string
	QPayDeeplinks []Deeplink

	// Bank transfer details; empty for gateway payments.
	BankAccountID  *string
	TransferRef    string
	UserNotifiedAt *time.Time

	RawPayload []byte // last-seen gateway payload, stored opaque for audit

	PaidAt *time.Time

	// Reconciliation bookkeeping.
	ReconcileAttempts int
	LastReconcileAt   *time.Time
	NextReconcileAt   *time.Time // nil: not yet attempted, or exhausted
	ReconcileSource   *ReconcileSource

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Deeplink struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Logo        string `json:"logo"`
	Link        string `json:"link"`
}

// Validate checks the creation-time invariants.
func (p *Payment) Validate() error {
	if p.ID == "" || p.InvoiceCode == "" || p.UserID == "" || p.Amount <= 0 {
		return domain.ErrInvalidArgument
	}
	if (p.PlanID == nil) == (p.MovieID == nil) {
		return domain.ErrInvalidArgument // exactly one target
	}
	return nil
}

// NextReconcileTime computes when a still-pending payment becomes due again.
// Returns nil at or beyond the attempt ceiling: the payment is then no longer
// auto-selected and needs manual intervention.
func NextReconcileTime(attempts int, now time.Time) *time.Time {
	if attempts >= MaxReconcileAttempts {
		return nil
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffScheduleMinutes) {
		idx = len(backoffScheduleMinutes) - 1
	}
	next := now.Add(time.Duration(backoffScheduleMinutes[idx]) * time.Minute)
	return &next
}
