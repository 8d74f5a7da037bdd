package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/adminsuite/governance-backend/internal/domain/consent"
	"github.com/adminsuite/governance-backend/internal/infrastructure/config"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := Connect(config.RedisConfig{URL: mr.Addr()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestConnect(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client, _ := setupRedis(t)
		assert.NotNil(t, client)
	})

	t.Run("nil logger", func(t *testing.T) {
		_, err := Connect(config.RedisConfig{URL: "localhost:6379"}, nil)
		require.Error(t, err)
	})

	t.Run("missing url", func(t *testing.T) {
		_, err := Connect(config.RedisConfig{}, zaptest.NewLogger(t))
		require.Error(t, err)
	})

	t.Run("unreachable server", func(t *testing.T) {
		_, err := Connect(config.RedisConfig{URL: "127.0.0.1:1"}, zaptest.NewLogger(t))
		require.Error(t, err)
	})
}

func TestConsentCachePutGet(t *testing.T) {
	ctx := context.Background()
	client, mr := setupRedis(t)
	cache := NewConsentCache(client, 5*time.Minute)

	// Cold cache misses cleanly.
	cached, err := cache.Get(ctx, "subj-1", consent.PurposeMarketing)
	require.NoError(t, err)
	assert.Nil(t, cached)

	require.NoError(t, cache.Put(ctx, CachedDecision{
		SubjectID: "subj-1",
		Purpose:   consent.PurposeMarketing,
		Granted:   true,
		Version:   3,
	}))

	cached, err = cache.Get(ctx, "subj-1", consent.PurposeMarketing)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.True(t, cached.Granted)
	assert.Equal(t, 3, cached.Version)
	assert.False(t, cached.CachedAt.IsZero())

	// Entries honor the cache TTL.
	mr.FastForward(6 * time.Minute)
	cached, err = cache.Get(ctx, "subj-1", consent.PurposeMarketing)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestCachedDecisionGrantExpiry(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	assert.True(t, CachedDecision{Granted: true}.GrantedAt(now))
	assert.True(t, CachedDecision{Granted: true, ExpiresAt: &future}.GrantedAt(now))
	// An expired grant reads as not granted even while still cached.
	assert.False(t, CachedDecision{Granted: true, ExpiresAt: &past}.GrantedAt(now))
	assert.False(t, CachedDecision{Granted: false}.GrantedAt(now))
}

func TestConsentCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	client, _ := setupRedis(t)
	cache := NewConsentCache(client, 5*time.Minute)

	for _, purpose := range []consent.Purpose{consent.PurposeMarketing, consent.PurposeAnalytics} {
		require.NoError(t, cache.Put(ctx, CachedDecision{
			SubjectID: "subj-1",
			Purpose:   purpose,
			Granted:   true,
		}))
	}

	require.NoError(t, cache.Invalidate(ctx, "subj-1", consent.PurposeMarketing))

	cached, err := cache.Get(ctx, "subj-1", consent.PurposeMarketing)
	require.NoError(t, err)
	assert.Nil(t, cached)

	cached, err = cache.Get(ctx, "subj-1", consent.PurposeAnalytics)
	require.NoError(t, err)
	assert.NotNil(t, cached)

	require.NoError(t, cache.InvalidateSubject(ctx, "subj-1"))
	cached, err = cache.Get(ctx, "subj-1", consent.PurposeAnalytics)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestLeaderLock(t *testing.T) {
	ctx := context.Background()
	client, mr := setupRedis(t)

	lock := NewLeaderLock(client, "retention-sweep", time.Minute)
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// A rival replica cannot take the held lock.
	rival := NewLeaderLock(client, "retention-sweep", time.Minute)
	ok, err = rival.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	held, err := lock.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, lock.Release(ctx))

	ok, err = rival.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// The expired holder can neither refresh nor release the rival's
	// lock.
	mr.FastForward(2 * time.Minute)
	held, err = rival.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	ok, err = lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, rival.Release(ctx))
	held, err = lock.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestLeaderLockReleaseWithoutAcquire(t *testing.T) {
	ctx := context.Background()
	client, _ := setupRedis(t)

	lock := NewLeaderLock(client, "audit-archive", time.Minute)
	require.NoError(t, lock.Release(ctx))

	held, err := lock.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, held)
}
