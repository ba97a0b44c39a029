package cache_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privacyguard/internal/config"
	"privacyguard/internal/domain/models"
	"privacyguard/internal/infrastructure/cache"
	"privacyguard/pkg/logger"
)

func newRedis(t *testing.T, mr *miniredis.Miniredis) *cache.RedisCache {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	c, err := cache.NewRedis(context.Background(), config.RedisConfig{
		Host:      mr.Host(),
		Port:      port,
		KeyPrefix: "pg:",
	}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestAcquireLock_SecondOwnerRefused(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	replicaA := newRedis(t, mr)
	replicaB := newRedis(t, mr)

	ok, err := replicaA.AcquireLock(ctx, "rescan", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = replicaB.AcquireLock(ctx, "rescan", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// B does not own the lock, so its release is a no-op
	require.NoError(t, replicaB.ReleaseLock(ctx, "rescan"))
	assert.True(t, mr.Exists("pg:lock:rescan"))

	require.NoError(t, replicaA.ReleaseLock(ctx, "rescan"))
	assert.False(t, mr.Exists("pg:lock:rescan"))

	ok, err = replicaB.AcquireLock(ctx, "rescan", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseLock_KeepsLockTakenOverAfterExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	replicaA := newRedis(t, mr)
	replicaB := newRedis(t, mr)

	ok, err := replicaA.AcquireLock(ctx, "rescan", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists("pg:lock:rescan"))

	ok, err = replicaB.AcquireLock(ctx, "rescan", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	owner, err := mr.Get("pg:lock:rescan")
	require.NoError(t, err)

	require.NoError(t, replicaA.ReleaseLock(ctx, "rescan"))

	current, err := mr.Get("pg:lock:rescan")
	require.NoError(t, err)
	assert.Equal(t, owner, current)
}

func TestCheckRateLimit_CountsWithinWindow(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := newRedis(t, mr)

	allowed, remaining, reset, err := c.CheckRateLimit(ctx, "key:abc", 2, time.Hour)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(1), remaining)
	assert.True(t, reset.After(time.Now()))

	allowed, remaining, _, err = c.CheckRateLimit(ctx, "key:abc", 2, time.Hour)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(0), remaining)

	allowed, remaining, _, err = c.CheckRateLimit(ctx, "key:abc", 2, time.Hour)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(0), remaining)

	// other clients have their own counter
	allowed, _, _, err = c.CheckRateLimit(ctx, "key:other", 2, time.Hour)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestVerdictCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := newRedis(t, mr)

	_, err := c.GetCachedVerdict(ctx, "abc")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	verdict := &models.MalwareVerdict{Found: true, Malicious: 3, Harmless: 60, Undetected: 7}
	require.NoError(t, c.CacheVerdict(ctx, "abc", verdict, time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("pg:cache:verdict:abc"))

	got, err := c.GetCachedVerdict(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, verdict, got)
	assert.Equal(t, "3/70", got.DetectionRatio())

	mr.FastForward(2 * time.Hour)
	_, err = c.GetCachedVerdict(ctx, "abc")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}
