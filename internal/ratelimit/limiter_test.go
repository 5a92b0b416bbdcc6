package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCapacityPlusOneDenied(t *testing.T) {
	limiter := NewInMemory(20, time.Minute)

	for i := 0; i < 20; i++ {
		d := limiter.Check("203.0.113.7")
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 20-(i+1), d.Remaining)
	}

	d := limiter.Check("203.0.113.7")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 20, d.Limit)
	assert.False(t, d.ResetAt.IsZero())
}

func TestInMemoryWindowRollOver(t *testing.T) {
	limiter := NewInMemory(2, 30*time.Millisecond)

	limiter.Check("ip")
	limiter.Check("ip")
	assert.False(t, limiter.Check("ip").Allowed)

	time.Sleep(40 * time.Millisecond)

	d := limiter.Check("ip")
	assert.True(t, d.Allowed, "first request after resetAt must open a fresh window")
	assert.Equal(t, 1, d.Remaining)
}

func TestInMemoryKeysAreIndependent(t *testing.T) {
	limiter := NewInMemory(1, time.Minute)

	assert.True(t, limiter.Check("a").Allowed)
	assert.False(t, limiter.Check("a").Allowed)
	assert.True(t, limiter.Check("b").Allowed)
}

func TestSweepDropsExpiredWindows(t *testing.T) {
	limiter := NewInMemory(5, 10*time.Millisecond)
	for i := 0; i < 8; i++ {
		limiter.Check(fmt.Sprintf("ip-%d", i))
	}
	require.Equal(t, 8, limiter.size())

	time.Sleep(20 * time.Millisecond)
	limiter.sweep(time.Now().UTC())
	assert.Equal(t, 0, limiter.size())
}

func TestRedisLimiter(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewRedis(client, 3, time.Minute)

	for i := 0; i < 3; i++ {
		require.True(t, limiter.Check("ip").Allowed)
	}
	d := limiter.Check("ip")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestRedisLimiterFallsBackWhenUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	client := redis.NewClient(&redis.Options{Addr: addr})
	limiter := NewRedis(client, 1, time.Minute)

	assert.True(t, limiter.Check("ip").Allowed)
	assert.False(t, limiter.Check("ip").Allowed, "fallback window must still enforce the limit")
}
