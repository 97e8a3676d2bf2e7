package model

import "time"

// GatewayToken is the durable fallback for the QPay access token. The fast
// path is the redis cache; this row survives cache flushes and restarts.
type GatewayToken struct {
	ID           string // UUID
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

func (t *GatewayToken) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && t.ExpiresAt.After(now)
}
