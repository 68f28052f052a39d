package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1: one token every 100ms.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://api.lib.social/api/manga?page=1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://api.lib.social/api/manga?page=2"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_DifferentHosts(t *testing.T) {
	t.Parallel()

	l := New(PerMinute(1))
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond, "host b must not wait on host a")
}

func TestLimiter_CanceledContext(t *testing.T) {
	t.Parallel()

	l := New(PerMinute(1))
	require.NoError(t, l.Wait(context.Background(), "https://a.example/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://a.example/"))
}

func TestLimiter_Unlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "://bad url"))
	}
}

func TestPerMinute(t *testing.T) {
	t.Parallel()

	cfg := PerMinute(30)
	require.InDelta(t, 0.5, cfg.DefaultRPS, 1e-9)
	require.Equal(t, 1, cfg.DefaultBurst)
}
