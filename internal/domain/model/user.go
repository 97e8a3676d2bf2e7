package model

import "time"

// User is the minimal projection needed for payments and notifications.
type User struct {
	ID        string // UUID
	Name      string
	Email     string
	CreatedAt time.Time
}
