package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/znomio18-svg/backend-api/internal/domain"
	"github.com/znomio18-svg/backend-api/internal/domain/model"
	"github.com/znomio18-svg/backend-api/internal/domain/ports/repository"
)

var _ repository.GatewayTokenRepository = (*gatewayTokenRepo)(nil)

type gatewayTokenRepo struct{ pool *pgxpool.Pool }

func NewGatewayTokenRepo(pool *pgxpool.Pool) *gatewayTokenRepo {
	return &gatewayTokenRepo{pool: pool}
}

func (r *gatewayTokenRepo) Save(ctx context.Context, tx repository.Tx, t *model.GatewayToken) error {
	const q = `
INSERT INTO gateway_tokens (id, access_token, refresh_token, expires_at, created_at)
VALUES ($1,$2,$3,$4,$5);`
	_, err := execSQL(ctx, r.pool, tx, q, t.ID, t.AccessToken, t.RefreshToken, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *gatewayTokenRepo) FindLatest(ctx context.Context, tx repository.Tx) (*model.GatewayToken, error) {
	const q = `SELECT id, access_token, refresh_token, expires_at, created_at
 FROM gateway_tokens ORDER BY created_at DESC LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	t := &model.GatewayToken{}
	if err := row.Scan(&t.ID, &t.AccessToken, &t.RefreshToken, &t.ExpiresAt, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return t, nil
}

func (r *gatewayTokenRepo) InvalidateAll(ctx context.Context, tx repository.Tx, now time.Time) error {
	const q = `UPDATE gateway_tokens SET expires_at=to_timestamp(0) WHERE expires_at > $1;`
	_, err := execSQL(ctx, r.pool, tx, q, now)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}
