package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtable-tenant/internal/domain"
)

func setupRedisCache(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewRedisCache(client)
}

func TestRedisCache_RoundTrip(t *testing.T) {
	_, cache := setupRedisCache(t)
	ctx := context.Background()

	cache.Set(ctx, "acme.example.com", &cachedResolution{
		Resolution: &domain.TenantResolution{
			ChannelToken: "ct_acme",
			TenantID:     "tenant-1",
			TenantSlug:   "acme",
			TenantStatus: domain.StatusActive,
		},
	}, time.Minute)

	entry, ok := cache.Get(ctx, "acme.example.com")
	require.True(t, ok)
	assert.False(t, entry.NotFound)
	require.NotNil(t, entry.Resolution)
	assert.Equal(t, "ct_acme", entry.Resolution.ChannelToken)
	assert.Equal(t, domain.StatusActive, entry.Resolution.TenantStatus)
}

func TestRedisCache_NegativeEntry(t *testing.T) {
	_, cache := setupRedisCache(t)
	ctx := context.Background()

	cache.Set(ctx, "ghost.example.com", &cachedResolution{NotFound: true}, 10*time.Second)

	entry, ok := cache.Get(ctx, "ghost.example.com")
	require.True(t, ok)
	assert.True(t, entry.NotFound)
	assert.Nil(t, entry.Resolution)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	mr, cache := setupRedisCache(t)
	ctx := context.Background()

	cache.Set(ctx, "acme.example.com", &cachedResolution{NotFound: true}, time.Minute)
	mr.FastForward(2 * time.Minute)

	_, ok := cache.Get(ctx, "acme.example.com")
	assert.False(t, ok)
}

func TestRedisCache_Delete(t *testing.T) {
	_, cache := setupRedisCache(t)
	ctx := context.Background()

	cache.Set(ctx, "acme.example.com", &cachedResolution{NotFound: true}, time.Minute)
	cache.Delete(ctx, "acme.example.com")
	cache.Delete(ctx, "acme.example.com") // 幂等

	_, ok := cache.Get(ctx, "acme.example.com")
	assert.False(t, ok)
}

func TestRedisCache_FlushOnlyTouchesResolveKeys(t *testing.T) {
	mr, cache := setupRedisCache(t)
	ctx := context.Background()

	cache.Set(ctx, "a.example.com", &cachedResolution{NotFound: true}, time.Minute)
	cache.Set(ctx, "b.example.com", &cachedResolution{NotFound: true}, time.Minute)
	require.NoError(t, mr.Set("session:abc", "keep-me"))

	cache.Flush(ctx)

	_, ok := cache.Get(ctx, "a.example.com")
	assert.False(t, ok)
	_, ok = cache.Get(ctx, "b.example.com")
	assert.False(t, ok)
	assert.True(t, mr.Exists("session:abc"))
}

func TestRedisCache_UnreachableServerIsMiss(t *testing.T) {
	mr, cache := setupRedisCache(t)
	mr.Close()

	_, ok := cache.Get(context.Background(), "acme.example.com")
	assert.False(t, ok)
}
