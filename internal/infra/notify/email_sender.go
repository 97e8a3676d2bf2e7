package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/znomio18-svg/backend-api/internal/config"
	"github.com/znomio18-svg/backend-api/internal/domain/ports/adapter"
)

var _ adapter.NotificationSender = (*EmailSender)(nil)

// EmailSender delivers payment mails over plain SMTP. Sends are best effort;
// the caller logs failures and never couples payment state to delivery.
type EmailSender struct {
	cfg config.SMTPConfig
	log *zerolog.Logger

	// send is a test seam over smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailSender(cfg config.SMTPConfig, logger *zerolog.Logger) *EmailSender {
	sLog := logger.With().Str("component", "EmailSender").Logger()
	return &EmailSender{cfg: cfg, log: &sLog, send: smtp.SendMail}
}

func (s *EmailSender) SendPaymentConfirmation(ctx context.Context, email, name, itemName string, amount int64, expiresAt *time.Time) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\r\n\r\n", name)
	fmt.Fprintf(&b, "Your payment of %d MNT for %q was received.\r\n", amount, itemName)
	if expiresAt != nil {
		fmt.Fprintf(&b, "Your subscription is active until %s.\r\n", expiresAt.Format("2006-01-02"))
	} else {
		b.WriteString("The movie is now available in your library.\r\n")
	}
	b.WriteString("\r\nEnjoy watching!\r\n")
	return s.deliver(ctx, email, "Payment confirmed", b.String())
}

func (s *EmailSender) SendBankTransferNotice(ctx context.Context, adminEmail, userName, userEmail, itemName string, amount int64, transferRef, paymentID string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <%s> declared a bank transfer.\r\n\r\n", userName, userEmail)
	fmt.Fprintf(&b, "Item: %s\r\nAmount: %d MNT\r\nReference: %s\r\nPayment: %s\r\n", itemName, amount, transferRef, paymentID)
	b.WriteString("\r\nReview and confirm it in the admin panel.\r\n")
	return s.deliver(ctx, adminEmail, "Bank transfer awaiting review", b.String())
}

func (s *EmailSender) deliver(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s",
		s.cfg.From, to, subject, body)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.From, s.cfg.Password, s.cfg.Host)
	if err := s.send(addr, auth, s.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	s.log.Debug().Str("to", to).Str("subject", subject).Msg("mail sent")
	return nil
}

// NoopSender is used when SMTP is not configured. It logs what would have
// been sent so local runs stay observable.
type NoopSender struct {
	log *zerolog.Logger
}

func NewNoopSender(logger *zerolog.Logger) *NoopSender {
	nLog := logger.With().Str("component", "NoopSender").Logger()
	return &NoopSender{log: &nLog}
}

var _ adapter.NotificationSender = (*NoopSender)(nil)

func (s *NoopSender) SendPaymentConfirmation(_ context.Context, email, _, itemName string, amount int64, _ *time.Time) error {
	s.log.Info().Str("to", email).Str("item", itemName).Int64("amount", amount).Msg("skipping payment confirmation mail, smtp not configured")
	return nil
}

func (s *NoopSender) SendBankTransferNotice(_ context.Context, adminEmail, _, _, itemName string, amount int64, transferRef, _ string) error {
	s.log.Info().Str("to", adminEmail).Str("item", itemName).Int64("amount", amount).Str("ref", transferRef).Msg("skipping bank transfer mail, smtp not configured")
	return nil
}
