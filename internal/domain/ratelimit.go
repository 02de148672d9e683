package domain

import (
	"context"
	"time"
)

type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter guards the peer-facing routes. Keys are per route and per calling node.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitDecision, error)
}

func PeerRateLimitKey(route, nodeRID string) string {
	if nodeRID == "" {
		nodeRID = "anonymous"
	}
	return "peer:" + nodeRID + ":route:" + route
}
