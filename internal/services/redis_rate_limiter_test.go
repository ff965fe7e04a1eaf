package services

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/otpdesk/internal/clock"
	"github.com/BradenHooton/otpdesk/internal/models"
)

func setupRedisLimiter(t *testing.T, clk clock.Clock) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	l := NewRedisRateLimiter(client, RateLimit{MaxAttempts: 3, Window: 3600 * time.Second}, nil, clk, nil, discardLogger())
	return l, mr
}

func TestRedisRateLimiter_FourthCallIsLimited(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	l, _ := setupRedisLimiter(t, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(ctx, "user-1", ActionLogin))
		clk.Advance(time.Second)
	}
	err := l.Allow(ctx, "user-1", ActionLogin)
	assert.True(t, errors.Is(err, models.ErrRateLimited))
}

func TestRedisRateLimiter_RejectedAttemptIsWithdrawn(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	l, mr := setupRedisLimiter(t, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(ctx, "user-1", ActionLogin))
	}
	require.Error(t, l.Allow(ctx, "user-1", ActionLogin))

	members, err := mr.ZMembers(redisRateKey("user-1", ActionLogin))
	require.NoError(t, err)
	assert.Len(t, members, 3)
}

func TestRedisRateLimiter_AllowsAfterWindowElapses(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	l, _ := setupRedisLimiter(t, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(ctx, "user-1", ActionLogin))
	}
	require.Error(t, l.Allow(ctx, "user-1", ActionLogin))

	clk.Advance(3601 * time.Second)
	assert.NoError(t, l.Allow(ctx, "user-1", ActionLogin))
}

func TestRedisRateLimiter_Reset(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	l, mr := setupRedisLimiter(t, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(ctx, "user-1", ActionLogin))
	}
	require.NoError(t, l.Allow(ctx, "user-1", ActionOTP))
	require.NoError(t, l.Allow(ctx, "user-2", ActionLogin))

	require.NoError(t, l.Reset(ctx, "user-1"))
	assert.False(t, mr.Exists(redisRateKey("user-1", ActionLogin)))
	assert.False(t, mr.Exists(redisRateKey("user-1", ActionOTP)))
	assert.True(t, mr.Exists(redisRateKey("user-2", ActionLogin)))
	assert.NoError(t, l.Allow(ctx, "user-1", ActionLogin))
}

func TestRedisRateLimiter_SetsExpiry(t *testing.T) {
	l, mr := setupRedisLimiter(t, clock.NewFake(time.Unix(1_700_000_000, 0)))
	require.NoError(t, l.Allow(context.Background(), "user-1", ActionLogin))

	ttl := mr.TTL(redisRateKey("user-1", ActionLogin))
	assert.Equal(t, 3600*time.Second, ttl)
}

func TestRedisRateLimiter_ResetTreatsGlobCharactersLiterally(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	l, mr := setupRedisLimiter(t, clk)
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "victim", ActionLogin))
	require.NoError(t, l.Allow(ctx, "v*", ActionLogin))

	require.NoError(t, l.Reset(ctx, "*"))
	require.NoError(t, l.Reset(ctx, "v*"))
	assert.True(t, mr.Exists(redisRateKey("victim", ActionLogin)))
	assert.False(t, mr.Exists(redisRateKey("v*", ActionLogin)))
}
