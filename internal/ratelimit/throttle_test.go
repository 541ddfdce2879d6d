package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestThrottleCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	throttle := NewThrottle(client, 2, 1, time.Minute)

	allowed, remaining, err := throttle.Allow(ctx, "acme-properties")
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, float64(1), remaining)

	allowed, _, err = throttle.Allow(ctx, "acme-properties")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = throttle.Allow(ctx, "acme-properties")
	require.NoError(t, err)
	require.False(t, allowed, "bucket drained")

	// Budgets are per tenant.
	allowed, _, err = throttle.Allow(ctx, "other-mgmt-co")
	require.NoError(t, err)
	require.True(t, allowed)

	// Refill cannot be exercised with miniredis: the script takes its
	// clock from Go's time.Now, not Redis.
}
