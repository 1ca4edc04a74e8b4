package kemudi

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCacheEnvelope is the JSON wire form of a cached snapshot. Access
// metadata is carried per entry; the access count is bumped best-effort on
// read and not written back (Redis handles expiry itself via key TTLs).
type redisCacheEnvelope struct {
	Response     *Response     `json:"response"`
	StoredAt     time.Time     `json:"stored_at"`
	TTL          time.Duration `json:"ttl"`
	SizeEstimate int           `json:"size_estimate"`
}

// RedisCache is a CacheStore backed by a Redis key/value instance. It keeps
// the non-blocking contract of the cache layer in spirit: every backend
// failure degrades to a cache miss (logged, never surfaced), and writes that
// fail are dropped silently. Eviction is delegated to Redis (key TTLs plus the
// server's maxmemory policy), so maxEntries does not apply here.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger Logger

	hits   uint64
	misses uint64
	sets   uint64
}

// NewRedisCache wraps an existing Redis client. The prefix namespaces this
// cache's keys; pass a Logger to see degraded operations, or nil for silence.
func NewRedisCache(client *redis.Client, prefix string, logger Logger) *RedisCache {
	if prefix == "" {
		prefix = "kemudi:cache:"
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Get implements CacheStore. Backend errors and undecodable payloads are
// reported as misses.
func (c *RedisCache) Get(key string) (*CacheItem, bool) {
	ctx := context.Background()
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}
	if err != nil {
		c.degraded("get", key, err)
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	var env redisCacheEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.degraded("decode", key, err)
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	atomic.AddUint64(&c.hits, 1)
	return &CacheItem{
		Response:     env.Response,
		StoredAt:     env.StoredAt,
		TTL:          env.TTL,
		LastAccessed: time.Now(),
		AccessCount:  1,
		SizeEstimate: env.SizeEstimate,
	}, true
}

// Set implements CacheStore. Expiry is enforced by Redis itself via the key
// TTL, so a stale read cannot happen even without lazy checks.
func (c *RedisCache) Set(key string, resp *Response, ttl time.Duration) {
	env := redisCacheEnvelope{
		Response:     resp,
		StoredAt:     time.Now(),
		TTL:          ttl,
		SizeEstimate: resp.SizeEstimate(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		c.degraded("encode", key, err)
		return
	}
	if err := c.client.Set(context.Background(), c.prefix+key, data, ttl).Err(); err != nil {
		c.degraded("set", key, err)
		return
	}
	atomic.AddUint64(&c.sets, 1)
}

// Delete implements CacheStore.
func (c *RedisCache) Delete(key string) {
	if err := c.client.Del(context.Background(), c.prefix+key).Err(); err != nil {
		c.degraded("delete", key, err)
	}
}

// Clear implements CacheStore. Only keys under this cache's prefix are
// removed.
func (c *RedisCache) Clear() {
	ctx := context.Background()
	keys, err := c.client.Keys(ctx, c.prefix+"*").Result()
	if err != nil {
		c.degraded("clear", "*", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.degraded("clear", "*", err)
	}
}

// Has implements CacheStore.
func (c *RedisCache) Has(key string) bool {
	n, err := c.client.Exists(context.Background(), c.prefix+key).Result()
	if err != nil {
		c.degraded("has", key, err)
		return false
	}
	return n > 0
}

// Len implements CacheStore. It counts keys under the prefix; on backend
// failure it reports zero.
func (c *RedisCache) Len() int {
	keys, err := c.client.Keys(context.Background(), c.prefix+"*").Result()
	if err != nil {
		c.degraded("len", "*", err)
		return 0
	}
	return len(keys)
}

// Stats implements CacheStore. Per-entry access metadata is not tracked
// server-side; hit/miss counters are local to this client instance.
func (c *RedisCache) Stats() CacheStats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}
	return CacheStats{
		Hits:    hits,
		Misses:  misses,
		Sets:    atomic.LoadUint64(&c.sets),
		Entries: c.Len(),
		HitRate: hitRate,
	}
}

func (c *RedisCache) degraded(op, key string, err error) {
	if c.logger != nil {
		c.logger.Warn("Cache backend degraded to miss", "op", op, "key", key, "error", err.Error())
	}
}
