package adapter

import (
	"context"

	"github.com/znomio18-svg/backend-api/internal/domain/model"
)

// Invoice is the provider-side result of creating an invoice.
type Invoice struct {
	InvoiceID string
	QRText    string
	QRImage   string
	Deeplinks []model.Deeplink
}

// PaymentCheck is the gateway's authoritative view of an invoice. A payment
// settles when a PAID row exists and PaidAmount covers the local amount.
type PaymentCheck struct {
	Count      int
	PaidAmount int64
	Rows       []PaymentCheckRow
}

type PaymentCheckRow struct {
	PaymentID       string
	PaymentStatus   string
	PaymentAmount   int64
	PaymentCurrency string
	PaymentWallet   string
	TransactionType string
}

// PaidRow returns the first row the gateway marks paid, or nil.
func (c *PaymentCheck) PaidRow() *PaymentCheckRow {
	for i := range c.Rows {
		if c.Rows[i].PaymentStatus == "PAID" {
			return &c.Rows[i]
		}
	}
	return nil
}

// PaymentGateway is the hex port for the external payment provider. The
// implementation owns authentication, token refresh and retry/backoff; callers
// only ever see domain.ErrGatewayUnavailable when the provider stays down.
type PaymentGateway interface {
	Name() string

	CreateInvoice(ctx context.Context, invoiceCode string, amount int64, description, callbackURL string) (*Invoice, error)
	CheckPayment(ctx context.Context, invoiceID string) (*PaymentCheck, error)
	CancelInvoice(ctx context.Context, invoiceID string) error

	// VerifyWebhookSignature reports whether the inbound body matches the
	// shared-secret HMAC. With no secret configured it returns true (explicit
	// degraded mode); with a secret, a missing signature fails.
	VerifyWebhookSignature(rawBody []byte, signature string) bool
}
