package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rl := NewRateLimiter(client, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Allow(ctx, "admin", "10.0.0.1"), "request %d should be allowed", i+1)
	}
	require.Error(t, rl.Allow(ctx, "admin", "10.0.0.1"), "fourth request should be rejected")

	// A different caller has its own budget.
	require.NoError(t, rl.Allow(ctx, "admin", "10.0.0.2"))

	// Window expiry resets the budget.
	mr.FastForward(2 * time.Minute)
	require.NoError(t, rl.Allow(ctx, "admin", "10.0.0.1"))
}

func TestRateLimiter_Remaining(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rl := NewRateLimiter(client, 5, time.Minute)
	ctx := context.Background()

	require.Equal(t, 5, rl.Remaining(ctx, "admin", "10.0.0.9"))
	require.NoError(t, rl.Allow(ctx, "admin", "10.0.0.9"))
	require.Equal(t, 4, rl.Remaining(ctx, "admin", "10.0.0.9"))
}

func TestRateLimiter_NoRedis(t *testing.T) {
	rl := NewRateLimiter(nil, 1, time.Minute)
	ctx := context.Background()

	// Fail open without a Redis client, no matter how many calls.
	for i := 0; i < 10; i++ {
		require.NoError(t, rl.Allow(ctx, "admin", "10.0.0.1"))
	}
	require.Equal(t, 1, rl.Remaining(ctx, "admin", "10.0.0.1"))
}
