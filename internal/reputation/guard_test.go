package reputation

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T, threshold int64) *Guard {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewGuard(client, threshold, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestUnknownIPNotBlocked(t *testing.T) {
	g := newTestGuard(t, 3)
	v, err := g.CheckStatus(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, v.Blocked)
}

func TestAttemptsIncrementByExactlyOne(t *testing.T) {
	g := newTestGuard(t, 10)
	ctx := context.Background()

	require.NoError(t, g.RegisterSuspiciousAttempt(ctx, "203.0.113.7", "invalid license key"))

	rec, err := g.Record(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Attempts)
	assert.False(t, rec.IsBlocked)
}

func TestThresholdBlocksPermanently(t *testing.T) {
	g := newTestGuard(t, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, g.RegisterSuspiciousAttempt(ctx, "203.0.113.7", "invalid license key"))
		v, err := g.CheckStatus(ctx, "203.0.113.7")
		require.NoError(t, err)
		assert.False(t, v.Blocked, "attempt %d must not block yet", i+1)
	}

	require.NoError(t, g.RegisterSuspiciousAttempt(ctx, "203.0.113.7", "invalid license key"))

	v, err := g.CheckStatus(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, v.Blocked)
	assert.Equal(t, "invalid license key", v.Reason)

	rec, err := g.Record(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Attempts)
	assert.True(t, rec.IsBlocked)
}

func TestGlobalBlockListBlocksIndependently(t *testing.T) {
	g := newTestGuard(t, 100)
	ctx := context.Background()

	require.NoError(t, g.AddToGlobalBlockList(ctx, "198.51.100.9"))

	v, err := g.CheckStatus(ctx, "198.51.100.9")
	require.NoError(t, err)
	assert.True(t, v.Blocked)
	assert.Equal(t, "globally blocked", v.Reason)
}
