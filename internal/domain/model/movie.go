package model

import "time"

// Movie is the minimal projection of the catalog this service needs: enough
// to price a purchase and name it in notifications.
type Movie struct {
	ID          string // UUID
	Title       string
	Price       int64 // 0 means not individually purchasable
	IsPublished bool
	CreatedAt   time.Time
}

// MoviePurchase is the one-time unlock produced by a settled movie payment.
// (user_id, movie_id) is unique: a second grant attempt observes the existing
// row and treats it as success.
type MoviePurchase struct {
	ID        string // UUID
	UserID    string
	MovieID   string
	PaymentID string
	CreatedAt time.Time
}
