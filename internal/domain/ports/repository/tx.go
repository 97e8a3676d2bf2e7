package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle. The concrete type is infra-defined
// (pgx.Tx for Postgres); repositories accept nil for the non-transactional
// path and may use the handle to take row locks (SELECT ... FOR UPDATE).
type Tx interface{}

// TransactionManager executes a function within a database transaction,
// passing the handle through `tx`. A returned error rolls back; otherwise the
// transaction commits. Keeping this as a port means use cases never touch
// pool or driver types directly.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
