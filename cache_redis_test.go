package kemudi

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, "", nil), mr
}

func TestRedisCacheSetGet(t *testing.T) {
	cache, _ := newTestRedisCache(t)

	resp := &Response{StatusCode: 200, Body: []byte("hello")}
	cache.Set("key1", resp, time.Minute)

	item, found := cache.Get("key1")
	require.True(t, found)
	require.NotNil(t, item.Response)
	assert.Equal(t, 200, item.Response.StatusCode)
	assert.Equal(t, []byte("hello"), item.Response.Body)
	assert.Equal(t, 5, item.SizeEstimate)

	_, found = cache.Get("missing")
	assert.False(t, found)
}

func TestRedisCacheTTLExpiry(t *testing.T) {
	cache, mr := newTestRedisCache(t)

	cache.Set("key1", &Response{StatusCode: 200}, time.Minute)

	_, found := cache.Get("key1")
	require.True(t, found)

	// Redis owns expiry via the key TTL.
	mr.FastForward(2 * time.Minute)

	_, found = cache.Get("key1")
	assert.False(t, found)
}

func TestRedisCacheDeleteAndClear(t *testing.T) {
	cache, _ := newTestRedisCache(t)

	cache.Set("a", &Response{StatusCode: 200}, time.Minute)
	cache.Set("b", &Response{StatusCode: 200}, time.Minute)
	require.Equal(t, 2, cache.Len())

	cache.Delete("a")
	assert.False(t, cache.Has("a"))
	assert.True(t, cache.Has("b"))

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}

func TestRedisCacheClearScopedToPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	first := NewRedisCache(client, "first:", nil)
	second := NewRedisCache(client, "second:", nil)

	first.Set("key", &Response{StatusCode: 200}, time.Minute)
	second.Set("key", &Response{StatusCode: 200}, time.Minute)

	first.Clear()

	assert.False(t, first.Has("key"))
	assert.True(t, second.Has("key"))
}

func TestRedisCacheDegradesToMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewRedisCache(client, "", NewSimpleLogger())

	cache.Set("key1", &Response{StatusCode: 200}, time.Minute)

	// Backend failures must read as misses, never as errors.
	mr.Close()

	item, found := cache.Get("key1")
	assert.False(t, found)
	assert.Nil(t, item)
	assert.False(t, cache.Has("key1"))
	assert.Equal(t, 0, cache.Len())

	// Writes against the dead backend are dropped silently.
	cache.Set("key2", &Response{StatusCode: 200}, time.Minute)
	cache.Delete("key1")
	cache.Clear()
}

func TestRedisCacheCorruptPayload(t *testing.T) {
	cache, mr := newTestRedisCache(t)

	require.NoError(t, mr.Set("kemudi:cache:bad", "not json"))

	item, found := cache.Get("bad")
	assert.False(t, found)
	assert.Nil(t, item)
}

func TestRedisCacheStats(t *testing.T) {
	cache, _ := newTestRedisCache(t)

	cache.Set("a", &Response{StatusCode: 200}, time.Minute)
	cache.Get("a")
	cache.Get("a")
	cache.Get("missing")

	stats := cache.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Sets)
	assert.Equal(t, 1, stats.Entries)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}
