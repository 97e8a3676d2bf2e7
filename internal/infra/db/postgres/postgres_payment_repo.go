package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/znomio18-svg/backend-api/internal/domain"
	"github.com/znomio18-svg/backend-api/internal/domain/model"
	"github.com/znomio18-svg/backend-api/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentCols = `id, invoice_code, user_id, plan_id, movie_id, amount, method, status,
  qpay_invoice_id, qpay_payment_id, qpay_qr_text, qpay_qr_image, qpay_deeplinks,
  bank_account_id, transfer_ref, user_notified_at, raw_payload, paid_at,
  reconcile_attempts, last_reconcile_at, next_reconcile_at, reconcile_source,
  created_at, updated_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	var deeplinksRaw []byte
	if err := row.Scan(
		&p.ID, &p.InvoiceCode, &p.UserID, &p.PlanID, &p.MovieID, &p.Amount, &p.Method, &p.Status,
		&p.QPayInvoiceID, &p.QPayPaymentID, &p.QPayQRText, &p.QPayQRImage, &deeplinksRaw,
		&p.BankAccountID, &p.TransferRef, &p.UserNotifiedAt, &p.RawPayload, &p.PaidAt,
		&p.ReconcileAttempts, &p.LastReconcileAt, &p.NextReconcileAt, &p.ReconcileSource,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if len(deeplinksRaw) > 0 {
		if err := json.Unmarshal(deeplinksRaw, &p.QPayDeeplinks); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return p, nil
}

func (r *paymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (
  id, invoice_code, user_id, plan_id, movie_id, amount, method, status,
  qpay_invoice_id, qpay_qr_text, qpay_qr_image, qpay_deeplinks,
  bank_account_id, transfer_ref, reconcile_attempts, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17);`

	var deeplinksRaw []byte
	if len(p.QPayDeeplinks) > 0 {
		var err error
		if deeplinksRaw, err = json.Marshal(p.QPayDeeplinks); err != nil {
			return domain.ErrInvalidArgument
		}
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.InvoiceCode, p.UserID, p.PlanID, p.MovieID, p.Amount, p.Method, p.Status,
		p.QPayInvoiceID, p.QPayQRText, p.QPayQRImage, deeplinksRaw,
		p.BankAccountID, p.TransferRef, p.ReconcileAttempts, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := `SELECT ` + paymentCols + ` FROM payments WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

// FindByInvoiceCode takes a row lock when called inside a transaction; this
// is what totally orders concurrent settlement attempts for one payment.
func (r *paymentRepo) FindByInvoiceCode(ctx context.Context, tx repository.Tx, invoiceCode string) (*model.Payment, error) {
	q := `SELECT ` + paymentCols + ` FROM payments WHERE invoice_code=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", invoiceCode)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindReusablePending(ctx context.Context, tx repository.Tx, userID string, planID, movieID *string, method model.PaymentMethod, notBefore time.Time) (*model.Payment, error) {
	const q = `SELECT ` + paymentCols + ` FROM payments
 WHERE user_id=$1 AND status='pending' AND method=$2
   AND plan_id IS NOT DISTINCT FROM $3 AND movie_id IS NOT DISTINCT FROM $4
   AND created_at > $5
 ORDER BY created_at DESC LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID, method, planID, movieID, notBefore)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) MarkPaid(ctx context.Context, tx repository.Tx, id string, qpayPaymentID *string, rawPayload []byte, paidAt time.Time, source model.ReconcileSource, attempts int) error {
	const q = `
UPDATE payments
   SET status='paid',
       qpay_payment_id=COALESCE($2, qpay_payment_id),
       raw_payload=$3,
       paid_at=$4,
       reconcile_source=$5,
       reconcile_attempts=$6,
       last_reconcile_at=$4,
       next_reconcile_at=NULL,
       updated_at=NOW()
 WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, qpayPaymentID, rawPayload, paidAt, source, attempts)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext || IsSerializationFailure(err) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) RecordReconcileAttempt(ctx context.Context, tx repository.Tx, id string, attempts int, lastAt time.Time, nextAt *time.Time, rawPayload []byte, source model.ReconcileSource) error {
	const q = `
UPDATE payments
   SET reconcile_attempts=$2,
       last_reconcile_at=$3,
       next_reconcile_at=$4,
       raw_payload=COALESCE($5, raw_payload),
       reconcile_source=$6,
       updated_at=NOW()
 WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, attempts, lastAt, nextAt, rawPayload, source)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext || IsSerializationFailure(err) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus, rawPayload []byte) error {
	const q = `UPDATE payments SET status=$2, raw_payload=COALESCE($3, raw_payload), updated_at=NOW() WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, status, rawPayload)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) SetUserNotified(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	const q = `UPDATE payments SET user_notified_at=$2, updated_at=NOW() WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, at)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) ListDueForReconciliation(ctx context.Context, tx repository.Tx, now time.Time, createdAfter time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentCols + ` FROM payments
 WHERE status='pending'
   AND method='qpay'
   AND reconcile_attempts < $1
   AND (next_reconcile_at IS NULL OR next_reconcile_at <= $2)
   AND created_at > $3
 ORDER BY created_at ASC LIMIT $4;`
	rows, err := queryRows(ctx, r.pool, tx, q, model.MaxReconcileAttempts, now, createdAfter, limit)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *paymentRepo) ExpirePending(ctx context.Context, tx repository.Tx, olderThan time.Time) (int64, error) {
	const q = `UPDATE payments SET status='expired', updated_at=NOW() WHERE status='pending' AND created_at < $1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, olderThan)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return 0, err
		}
		return 0, domain.ErrOperationFailed
	}
	return cmd.RowsAffected(), nil
}
