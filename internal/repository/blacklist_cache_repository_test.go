package repository_test

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"testing"
	"time"
	"token-keeper/internal/repository"
	"token-keeper/internal/util"
)

func TestBlacklistCache(t *testing.T) {
	rdb, mr := newTestRedis(t)
	cache := repository.NewBlacklistCacheRepository(rdb, util.NewFixedClock(testNow), zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	require.NoError(t, cache.Add(ctx, "a1", testNow.Add(10*time.Minute)))
	assert.Equal(t, 10*time.Minute, mr.TTL("blacklist:a1"))

	hit, err := cache.IsBlacklisted(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, hit)

	miss, err := cache.IsBlacklisted(ctx, "a2")
	require.NoError(t, err)
	assert.False(t, miss)

	mr.FastForward(11 * time.Minute)
	hit, err = cache.IsBlacklisted(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestBlacklistCacheSkipsExpiredTokens(t *testing.T) {
	rdb, mr := newTestRedis(t)
	cache := repository.NewBlacklistCacheRepository(rdb, util.NewFixedClock(testNow), zaptest.NewLogger(t).Sugar())

	require.NoError(t, cache.Add(context.Background(), "a1", testNow.Add(-time.Second)))
	assert.False(t, mr.Exists("blacklist:a1"))
}

func TestBlacklistCacheRemove(t *testing.T) {
	rdb, mr := newTestRedis(t)
	cache := repository.NewBlacklistCacheRepository(rdb, util.NewFixedClock(testNow), zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	require.NoError(t, cache.Add(ctx, "a1", testNow.Add(time.Hour)))
	require.NoError(t, cache.Add(ctx, "a2", testNow.Add(time.Hour)))

	require.NoError(t, cache.Remove(ctx, "a1", "a2", "unknown"))
	assert.False(t, mr.Exists("blacklist:a1"))
	assert.False(t, mr.Exists("blacklist:a2"))
	assert.NoError(t, cache.Remove(ctx))
}

func TestBlacklistCacheUnavailable(t *testing.T) {
	rdb, _ := newTestRedis(t)
	cache := repository.NewBlacklistCacheRepository(rdb, util.NewFixedClock(testNow), zaptest.NewLogger(t).Sugar())
	require.NoError(t, rdb.Client.Close())

	_, err := cache.IsBlacklisted(context.Background(), "a1")
	assert.Error(t, err)
	assert.Error(t, cache.Add(context.Background(), "a1", testNow.Add(time.Hour)))
}
