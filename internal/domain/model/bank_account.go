package model

import "time"

// BankAccount is a destination account shown to users paying by manual
// transfer.
type BankAccount struct {
	ID            string // UUID
	BankName      string
	AccountNumber string
	AccountHolder string
	IsActive      bool
	SortOrder     int
	CreatedAt     time.Time
}
