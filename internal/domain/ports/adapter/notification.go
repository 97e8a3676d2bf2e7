package adapter

import (
	"context"
	"time"
)

// NotificationSender delivers best-effort mails. Failures are logged by the
// caller and never propagate into payment state.
type NotificationSender interface {
	// SendPaymentConfirmation confirms a settled payment. expiresAt is set for
	// subscription purchases, nil for movie unlocks.
	SendPaymentConfirmation(ctx context.Context, email, name, itemName string, amount int64, expiresAt *time.Time) error

	// SendBankTransferNotice tells the admin a user declared a manual transfer.
	SendBankTransferNotice(ctx context.Context, adminEmail, userName, userEmail, itemName string, amount int64, transferRef, paymentID string) error
}
