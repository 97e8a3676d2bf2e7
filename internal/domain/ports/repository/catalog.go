package repository

import (
	"context"

	"github.com/znomio18-svg/backend-api/internal/domain/model"
)

type SubscriptionPlanRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.SubscriptionPlan, error)
	Save(ctx context.Context, tx Tx, p *model.SubscriptionPlan) error
}

type MovieRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Movie, error)
	Save(ctx context.Context, tx Tx, m *model.Movie) error
}

type UserRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	Save(ctx context.Context, tx Tx, u *model.User) error
}

type BankAccountRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.BankAccount, error)
	ListActive(ctx context.Context, tx Tx) ([]*model.BankAccount, error)
	Save(ctx context.Context, tx Tx, a *model.BankAccount) error
}
