package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/znomio18-svg/backend-api/internal/domain/model"
	"github.com/znomio18-svg/backend-api/internal/domain/ports/repository"
	"github.com/znomio18-svg/backend-api/internal/infra/metrics"
)

// SubscriptionUseCase covers the slice of the subscription lifecycle the
// payment service owns: answering "is this user subscribed" and expiring
// finished subscriptions.
type SubscriptionUseCase struct {
	subs repository.SubscriptionRepository
	log  *zerolog.Logger
}

func NewSubscriptionUseCase(subs repository.SubscriptionRepository, logger *zerolog.Logger) *SubscriptionUseCase {
	ucLog := logger.With().Str("component", "SubscriptionUseCase").Logger()
	return &SubscriptionUseCase{subs: subs, log: &ucLog}
}

func (u *SubscriptionUseCase) ActiveSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	return u.subs.FindActiveByUser(ctx, nil, userID, time.Now())
}

// ExpireFinished moves subscriptions past their end date to expired.
func (u *SubscriptionUseCase) ExpireFinished(ctx context.Context) (int64, error) {
	n, err := u.subs.ExpireFinished(ctx, nil, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.AddSubscriptionsExpired(n)
		u.log.Info().Int64("count", n).Msg("expired finished subscriptions")
	}
	return n, nil
}
