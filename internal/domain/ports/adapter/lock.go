package adapter

import (
	"context"
	"time"
)

// Locker is a cooperative cross-instance mutual exclusion primitive. It is
// advisory: losing a lock mid-run wastes work but never corrupts data, so
// holders are expected to probe IsOwner before expensive steps and stop when
// ownership is gone.
type Locker interface {
	// TryLock attempts a single set-if-absent acquire. ok=false means another
	// holder owns the key.
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (ok bool, err error)
	// IsOwner reports whether the stored value still matches token.
	IsOwner(ctx context.Context, key, token string) (bool, error)
	// Unlock releases only if the stored value still matches token
	// (compare-and-delete), so an expired holder never deletes a newer lock.
	Unlock(ctx context.Context, key, token string) error
}
