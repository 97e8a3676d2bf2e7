package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/znomio18-svg/backend-api/internal/domain"
	"github.com/znomio18-svg/backend-api/internal/domain/model"
	"github.com/znomio18-svg/backend-api/internal/domain/ports/repository"
)

var _ repository.BankAccountRepository = (*bankAccountRepo)(nil)

type bankAccountRepo struct{ pool *pgxpool.Pool }

func NewBankAccountRepo(pool *pgxpool.Pool) *bankAccountRepo {
	return &bankAccountRepo{pool: pool}
}

const bankAccountCols = `id, bank_name, account_number, account_holder, is_active, sort_order, created_at`

func (r *bankAccountRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.BankAccount, error) {
	const q = `SELECT ` + bankAccountCols + ` FROM bank_accounts WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanBankAccount(row)
}

func (r *bankAccountRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.BankAccount, error) {
	const q = `SELECT ` + bankAccountCols + ` FROM bank_accounts WHERE is_active ORDER BY sort_order ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.BankAccount
	for rows.Next() {
		a, err := scanBankAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *bankAccountRepo) Save(ctx context.Context, tx repository.Tx, a *model.BankAccount) error {
	const q = `
INSERT INTO bank_accounts (` + bankAccountCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET bank_name=$2, account_number=$3, account_holder=$4, is_active=$5, sort_order=$6;`
	_, err := execSQL(ctx, r.pool, tx, q, a.ID, a.BankName, a.AccountNumber, a.AccountHolder, a.IsActive, a.SortOrder, a.CreatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func scanBankAccount(row pgx.Row) (*model.BankAccount, error) {
	a := &model.BankAccount{}
	if err := row.Scan(&a.ID, &a.BankName, &a.AccountNumber, &a.AccountHolder, &a.IsActive, &a.SortOrder, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return a, nil
}
