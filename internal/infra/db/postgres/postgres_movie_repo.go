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

var _ repository.MovieRepository = (*movieRepo)(nil)

type movieRepo struct{ pool *pgxpool.Pool }

func NewMovieRepo(pool *pgxpool.Pool) *movieRepo {
	return &movieRepo{pool: pool}
}

func (r *movieRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Movie, error) {
	const q = `SELECT id, title, price, is_published, created_at FROM movies WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	m := &model.Movie{}
	if err := row.Scan(&m.ID, &m.Title, &m.Price, &m.IsPublished, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return m, nil
}

func (r *movieRepo) Save(ctx context.Context, tx repository.Tx, m *model.Movie) error {
	const q = `
INSERT INTO movies (id, title, price, is_published, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET title=$2, price=$3, is_published=$4;`
	_, err := execSQL(ctx, r.pool, tx, q, m.ID, m.Title, m.Price, m.IsPublished, m.CreatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

var _ repository.MoviePurchaseRepository = (*moviePurchaseRepo)(nil)

type moviePurchaseRepo struct{ pool *pgxpool.Pool }

func NewMoviePurchaseRepo(pool *pgxpool.Pool) *moviePurchaseRepo {
	return &moviePurchaseRepo{pool: pool}
}

// Create inserts the unlock row. A duplicate (user_id, movie_id) comes back as
// domain.ErrAlreadyExists so the entitlement grantor can treat it as success.
func (r *moviePurchaseRepo) Create(ctx context.Context, tx repository.Tx, p *model.MoviePurchase) error {
	const q = `
INSERT INTO movie_purchases (id, user_id, movie_id, payment_id, created_at)
VALUES ($1,$2,$3,$4,$5);`
	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.UserID, p.MovieID, p.PaymentID, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext || IsSerializationFailure(err) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *moviePurchaseRepo) Exists(ctx context.Context, tx repository.Tx, userID, movieID string) (bool, error) {
	n, err := r.CountByUserAndMovie(ctx, tx, userID, movieID)
	return n > 0, err
}

func (r *moviePurchaseRepo) CountByUserAndMovie(ctx context.Context, tx repository.Tx, userID, movieID string) (int, error) {
	const q = `SELECT COUNT(*) FROM movie_purchases WHERE user_id=$1 AND movie_id=$2;`
	row, err := pickRow(ctx, r.pool, tx, q, userID, movieID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}
