package repository

import (
	"context"
	"time"

	"github.com/znomio18-svg/backend-api/internal/domain/model"
)

type SubscriptionRepository interface {
	Create(ctx context.Context, tx Tx, s *model.Subscription) error
	FindActiveByUser(ctx context.Context, tx Tx, userID string, now time.Time) (*model.Subscription, error)
	CountByUserAndPlan(ctx context.Context, tx Tx, userID, planID string) (int, error)

	// ExpireFinished moves active subscriptions whose end date passed to
	// expired, returning how many rows changed.
	ExpireFinished(ctx context.Context, tx Tx, now time.Time) (int64, error)
}

// MoviePurchaseRepository backs the one-time unlock entitlement. Create must
// map a duplicate (user_id, movie_id) to domain.ErrAlreadyExists so the
// grantor can treat it as success.
type MoviePurchaseRepository interface {
	Create(ctx context.Context, tx Tx, p *model.MoviePurchase) error
	Exists(ctx context.Context, tx Tx, userID, movieID string) (bool, error)
	CountByUserAndMovie(ctx context.Context, tx Tx, userID, movieID string) (int, error)
}
