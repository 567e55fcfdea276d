// Package security holds the Redis-backed request rate limiter shared by the
// control surface's admin routes.
package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces a fixed-window request budget per caller. It fails
// open: a missing or unreachable Redis never blocks a request.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter builds a limiter allowing limit requests per window.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{client: client, limit: limit, window: window}
}

// Allow records one request for (scope, id) and reports whether the caller
// is still inside its budget for the current window.
func (rl *RateLimiter) Allow(ctx context.Context, scope, id string) error {
	if rl.client == nil {
		return nil
	}

	key := fmt.Sprintf("rate_limit:%s:%s", scope, id)

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		// Redis unavailable: fail open.
		return nil
	}
	if count == 1 {
		rl.client.Expire(ctx, key, rl.window)
	}
	if int(count) > rl.limit {
		return fmt.Errorf("rate limit exceeded: %d/%d requests in %v", count, rl.limit, rl.window)
	}
	return nil
}

// Remaining reports how many requests are left in the current window.
func (rl *RateLimiter) Remaining(ctx context.Context, scope, id string) int {
	if rl.client == nil {
		return rl.limit
	}
	key := fmt.Sprintf("rate_limit:%s:%s", scope, id)
	count, err := rl.client.Get(ctx, key).Int()
	if err != nil {
		return rl.limit
	}
	if count >= rl.limit {
		return 0
	}
	return rl.limit - count
}
