package kemudi

import (
	"container/list"
	"sort"
	"sync"
	"time"
)

// CacheItem is a stored response snapshot plus its access metadata. Reads
// mutate LastAccessed/AccessCount; the TTL is immutable once set (a later Set
// on the same key fully replaces the item and its metadata).
type CacheItem struct {
	Response     *Response
	StoredAt     time.Time
	TTL          time.Duration
	LastAccessed time.Time
	AccessCount  int64
	SizeEstimate int
}

// Expired reports whether the item's TTL has elapsed at now.
func (it *CacheItem) Expired(now time.Time) bool {
	return now.Sub(it.StoredAt) > it.TTL
}

// CacheStore stores response snapshots keyed by fingerprint with TTL expiry
// and bounded size. It is an optimization layer, never a correctness
// dependency: implementations must not surface storage errors to callers;
// a backend failure degrades to a miss.
type CacheStore interface {
	// Get returns the live item for key, or nil and false on a miss. An
	// expired entry is indistinguishable from a miss and is deleted as a
	// side effect.
	Get(key string) (*CacheItem, bool)
	// Set inserts or fully replaces the entry for key.
	Set(key string, resp *Response, ttl time.Duration)
	Delete(key string)
	Clear()
	// Has reports presence without promoting the entry or touching metadata.
	Has(key string) bool
	Len() int
	Stats() CacheStats
}

// hotKeyLimit bounds how many keys the stats surface reports.
const hotKeyLimit = 5

// memoryCacheEntry is the LRU list payload; the key rides along because
// eviction starts from list nodes.
type memoryCacheEntry struct {
	key  string
	item CacheItem
}

// MemoryCache is a TTL+LRU in-memory CacheStore. A map gives O(1) lookup and a
// doubly-linked list maintains recency order (front = most recently used).
// Expiry is lazy, checked on read; an optional background sweep bounds
// worst-case memory between reads. Safe for concurrent use.
type MemoryCache struct {
	mu         sync.Mutex
	maxEntries int
	items      map[string]*list.Element
	lru        *list.List

	hits        uint64
	misses      uint64
	sets        uint64
	evictions   uint64
	expirations uint64
	memory      int64

	sweepStop chan struct{}
	sweepDone chan struct{}
	closed    bool
}

// NewMemoryCache returns a cache bounded to maxEntries with lazy expiry only.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &MemoryCache{
		maxEntries: maxEntries,
		items:      make(map[string]*list.Element),
		lru:        list.New(),
	}
}

// NewMemoryCacheWithSweep additionally runs a periodic batch sweep that
// removes expired entries. The sweep is owned by the cache; call Close to
// stop it.
func NewMemoryCacheWithSweep(maxEntries int, interval time.Duration) *MemoryCache {
	c := NewMemoryCache(maxEntries)
	if interval > 0 {
		c.sweepStop = make(chan struct{})
		c.sweepDone = make(chan struct{})
		go c.sweepLoop(interval)
	}
	return c
}

// Close stops the background sweep, if any. Safe to call multiple times.
func (c *MemoryCache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	stop := c.sweepStop
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-c.sweepDone
	}
}

// Get implements CacheStore. A hit updates the access metadata and promotes
// the key to the most-recently-used end of the eviction order.
func (c *MemoryCache) Get(key string) (*CacheItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		c.misses++
		return nil, false
	}

	entry := elem.Value.(*memoryCacheEntry)
	now := time.Now()
	if entry.item.Expired(now) {
		c.removeElement(elem)
		c.expirations++
		c.misses++
		return nil, false
	}

	entry.item.LastAccessed = now
	entry.item.AccessCount++
	c.lru.MoveToFront(elem)
	c.hits++

	item := entry.item
	return &item, true
}

// Set implements CacheStore. If the store would exceed maxEntries, the
// least-recently-used entry is evicted first (ties broken by insertion order,
// which the list preserves naturally).
func (c *MemoryCache) Set(key string, resp *Response, ttl time.Duration) {
	now := time.Now()
	item := CacheItem{
		Response:     resp,
		StoredAt:     now,
		TTL:          ttl,
		LastAccessed: now,
		SizeEstimate: resp.SizeEstimate(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		entry := elem.Value.(*memoryCacheEntry)
		c.memory -= int64(entry.item.SizeEstimate)
		entry.item = item
		c.memory += int64(item.SizeEstimate)
		c.lru.MoveToFront(elem)
		c.sets++
		return
	}

	for len(c.items) >= c.maxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.evictions++
	}

	elem := c.lru.PushFront(&memoryCacheEntry{key: key, item: item})
	c.items[key] = elem
	c.memory += int64(item.SizeEstimate)
	c.sets++
}

// Delete implements CacheStore.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, exists := c.items[key]; exists {
		c.removeElement(elem)
	}
}

// Clear implements CacheStore.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.memory = 0
}

// Has implements CacheStore. Expired entries report false but are left for
// Get or the sweep to reap; Has never mutates recency order.
func (c *MemoryCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, exists := c.items[key]
	if !exists {
		return false
	}
	return !elem.Value.(*memoryCacheEntry).item.Expired(time.Now())
}

// Len implements CacheStore.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats implements CacheStore.
func (c *MemoryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	hitRate := 0.0
	if c.hits+c.misses > 0 {
		hitRate = float64(c.hits) / float64(c.hits+c.misses)
	}

	hot := make([]HotKey, 0, len(c.items))
	for key, elem := range c.items {
		hot = append(hot, HotKey{Key: key, AccessCount: elem.Value.(*memoryCacheEntry).item.AccessCount})
	}
	sort.Slice(hot, func(i, j int) bool {
		if hot[i].AccessCount != hot[j].AccessCount {
			return hot[i].AccessCount > hot[j].AccessCount
		}
		return hot[i].Key < hot[j].Key
	})
	if len(hot) > hotKeyLimit {
		hot = hot[:hotKeyLimit]
	}

	return CacheStats{
		Hits:           c.hits,
		Misses:         c.misses,
		Sets:           c.sets,
		Evictions:      c.evictions,
		Expirations:    c.expirations,
		Entries:        len(c.items),
		HitRate:        hitRate,
		MemoryEstimate: c.memory,
		HotKeys:        hot,
	}
}

// removeElement unlinks an entry from both the map and the LRU list.
// Caller holds c.mu.
func (c *MemoryCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*memoryCacheEntry)
	delete(c.items, entry.key)
	c.lru.Remove(elem)
	c.memory -= int64(entry.item.SizeEstimate)
}

func (c *MemoryCache) sweepLoop(interval time.Duration) {
	defer close(c.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.sweepStop:
			return
		}
	}
}

// sweep removes expired entries in one batch pass.
func (c *MemoryCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, elem := range c.items {
		if elem.Value.(*memoryCacheEntry).item.Expired(now) {
			c.removeElement(elem)
			c.expirations++
		}
	}
}
