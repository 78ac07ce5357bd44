package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) (*Backend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBackendWithClient(client), mr
}

func TestUsageReportLimiterDeniesAfterBurst(t *testing.T) {
	backend, mr := newTestBackend(t)
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, UsageReportRate: 0.01, UsageReportBurst: 2}}

	limiter, err := NewUsageReportLimiter(backend, cfg)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.AllowKey(ctx, "clk_busy")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := limiter.AllowKey(ctx, "clk_busy")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)

	res, err = limiter.AllowKey(ctx, "clk_other")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	for _, key := range mr.Keys() {
		assert.NotContains(t, key, "clk_busy")
	}
}

func TestUsageReportLimiterDisabled(t *testing.T) {
	limiter, err := NewUsageReportLimiter(nil, config.Config{})
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())

	res, err := limiter.AllowKey(context.Background(), "clk_any")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestUsageReportLimiterRejectsBadConfig(t *testing.T) {
	backend, _ := newTestBackend(t)
	_, err := NewUsageReportLimiter(backend, config.Config{RateLimit: config.RateLimitConfig{Enabled: true}})
	assert.Error(t, err)
}

func TestLockerExcludesSecondHolder(t *testing.T) {
	backend, _ := newTestBackend(t)
	locker := NewReconcileLocker(backend)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "lock:reconcile", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "lock:reconcile", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, locker.Release(ctx, "lock:reconcile", "someone-else"), ErrLockLost)
	_, ok, err = locker.TryLock(ctx, "lock:reconcile", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "lock:reconcile", token))
	_, ok, err = locker.TryLock(ctx, "lock:reconcile", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockerReportsExpiredLease(t *testing.T) {
	backend, mr := newTestBackend(t)
	locker := NewReconcileLocker(backend)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, DefaultReconcileLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, locker.Release(ctx, DefaultReconcileLockKey, token), ErrLockLost)

	_, _, err = locker.TryLock(ctx, "", time.Minute)
	assert.ErrorIs(t, err, ErrEmptyLockKey)
	_, _, err = locker.TryLock(ctx, DefaultReconcileLockKey, 0)
	assert.ErrorIs(t, err, ErrInvalidLockTTL)
}

func TestNilLockerIsSafe(t *testing.T) {
	var locker *Locker
	assert.Nil(t, NewReconcileLocker(nil))
	assert.NoError(t, locker.Release(context.Background(), "k", "t"))
	_, _, err := locker.TryLock(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLockUnavailable)
}
