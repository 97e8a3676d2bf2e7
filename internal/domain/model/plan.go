package model

import (
	"time"

	"github.com/znomio18-svg/backend-api/internal/domain"
)

// SubscriptionPlan represents a purchasable plan with a fixed duration and
// price in MNT minor units.
type SubscriptionPlan struct {
	ID           string
	Name         string
	DurationDays int
	Price        int64
	IsActive     bool
	CreatedAt    time.Time
}

func (p *SubscriptionPlan) IsZero() bool { return p == nil || p.ID == "" }

// NewSubscriptionPlan validates and constructs a plan.
func NewSubscriptionPlan(id, name string, durationDays int, price int64) (*SubscriptionPlan, error) {
	if id == "" || name == "" || durationDays <= 0 || price <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &SubscriptionPlan{
		ID:           id,
		Name:         name,
		DurationDays: durationDays,
		Price:        price,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}, nil
}
