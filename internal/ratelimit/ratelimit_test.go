package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracecut/internal/config"
	"tracecut/internal/store"
)

func testLimiter(limit int, window time.Duration) (*Limiter, *store.MemoryStore) {
	st := store.NewMemoryStore()
	l := New(st, config.RateLimitConfig{Enabled: true, Window: window, Limit: limit})
	return l, st
}

func TestLimiterAllowsWithinBudget(t *testing.T) {
	l, _ := testLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "status", "caller", "dev_abc12345")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 2-i, res.Remaining)
	}
}

func TestLimiterRejectsOverBudget(t *testing.T) {
	l, _ := testLimiter(2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "status", "caller", "dev_abc12345")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := l.Allow(ctx, "status", "caller", "dev_abc12345")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestLimiterIsolatesCallersAndDevices(t *testing.T) {
	l, _ := testLimiter(1, time.Minute)
	ctx := context.Background()

	res, err := l.Allow(ctx, "status", "caller-a", "dev_abc12345")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	// Different caller, same device: its own window.
	res, err = l.Allow(ctx, "status", "caller-b", "dev_abc12345")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// Same caller, different device: its own window.
	res, err = l.Allow(ctx, "status", "caller-a", "dev_xyz98765")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// Same caller and device exhausted.
	res, err = l.Allow(ctx, "status", "caller-a", "dev_abc12345")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestLimiterWindowResets(t *testing.T) {
	st := store.NewMemoryStore()
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return current })
	l := New(st, config.RateLimitConfig{Enabled: true, Window: time.Minute, Limit: 1})
	ctx := context.Background()

	res, err := l.Allow(ctx, "activate", "caller", "dev_abc12345")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Allow(ctx, "activate", "caller", "dev_abc12345")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	current = current.Add(2 * time.Minute)
	res, err = l.Allow(ctx, "activate", "caller", "dev_abc12345")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
