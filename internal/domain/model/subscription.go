package model

import (
	"time"

	"github.com/znomio18-svg/backend-api/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription is the time-boxed access grant produced by a settled
// subscription payment.
type Subscription struct {
	ID        string // UUID
	UserID    string
	PlanID    string
	PaymentID string
	StartDate time.Time
	EndDate   time.Time
	Status    SubscriptionStatus
	CreatedAt time.Time
}

// NewSubscription starts an active subscription now, ending after the plan's
// duration.
func NewSubscription(id, userID, paymentID string, plan *SubscriptionPlan) (*Subscription, error) {
	if id == "" || userID == "" || plan.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Subscription{
		ID:        id,
		UserID:    userID,
		PlanID:    plan.ID,
		PaymentID: paymentID,
		StartDate: now,
		EndDate:   now.Add(time.Duration(plan.DurationDays) * 24 * time.Hour),
		Status:    SubscriptionStatusActive,
		CreatedAt: now,
	}, nil
}
