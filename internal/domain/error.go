package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Payment errors
	ErrPaymentNotPending     = errors.New("payment is not pending")
	ErrWrongPaymentChannel   = errors.New("wrong payment channel for this operation")
	ErrActiveSubscription    = errors.New("user already has an active subscription")
	ErrMovieAlreadyPurchased = errors.New("movie already purchased")
	ErrMovieNotPurchasable   = errors.New("movie is not available for individual purchase")
	ErrPlanUnavailable       = errors.New("subscription plan is not available")

	// ErrGatewayUnavailable is the single user-facing error surfaced when the
	// payment gateway keeps failing after all retries. Details stay in logs.
	ErrGatewayUnavailable = errors.New("payment service temporarily unavailable, please try again later")

	// ErrLockNotAcquired signals another instance already holds an advisory lock.
	ErrLockNotAcquired = errors.New("advisory lock held by another instance")

	// ErrTxConflict marks a transient transaction conflict (serialization
	// failure, deadlock, lock timeout) that is safe to retry.
	ErrTxConflict = errors.New("transaction conflict")
)
