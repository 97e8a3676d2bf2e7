package repository

import (
	"context"
	"time"

	"github.com/znomio18-svg/backend-api/internal/domain/model"
)

// GatewayTokenRepository is the durable fallback behind the redis token cache.
type GatewayTokenRepository interface {
	Save(ctx context.Context, tx Tx, t *model.GatewayToken) error
	FindLatest(ctx context.Context, tx Tx) (*model.GatewayToken, error)
	// InvalidateAll marks every unexpired token as expired, used when the
	// gateway rejects a cached token.
	InvalidateAll(ctx context.Context, tx Tx, now time.Time) error
}
