package cache

import (
	"sync"
	"time"
)

// Cache provides a thread-safe in-memory cache with time-based expiration for
// upstream API responses. It maintains separate stores for title metadata
// (OMDb payloads) and news feeds (GNews payloads), so a news flush never
// evicts title lookups and vice versa.
type Cache struct {
	metadataCache map[string]cacheEntry // OMDb response bodies, keyed by normalized query string
	newsCache     map[string]cacheEntry // GNews response bodies, keyed by feed identifier
	mu            sync.RWMutex
	duration      time.Duration // Expiration duration for each cache entry
	lastClear     time.Time     // When the cache was last fully cleared
}

// cacheEntry represents a single cached item with its payload and insert time.
type cacheEntry struct {
	data      []byte
	timestamp time.Time
}

// NewCache creates a Cache whose entries expire after the given duration.
func NewCache(duration time.Duration) *Cache {
	return &Cache{
		metadataCache: make(map[string]cacheEntry),
		newsCache:     make(map[string]cacheEntry),
		duration:      duration,
		lastClear:     time.Now(),
	}
}

// GetMetadata retrieves a cached OMDb response body by key. Returns false when
// the key is missing or the entry has expired.
func (c *Cache) GetMetadata(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.metadataCache[key]
	if !exists || time.Since(entry.timestamp) > c.duration {
		return nil, false
	}
	return entry.data, true
}

// SetMetadata stores an OMDb response body under the given key.
func (c *Cache) SetMetadata(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metadataCache[key] = cacheEntry{data: value, timestamp: time.Now()}
}

// GetNews retrieves a cached GNews response body by key.
func (c *Cache) GetNews(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.newsCache[key]
	if !exists || time.Since(entry.timestamp) > c.duration {
		return nil, false
	}
	return entry.data, true
}

// SetNews stores a GNews response body under the given key.
func (c *Cache) SetNews(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.newsCache[key] = cacheEntry{data: value, timestamp: time.Now()}
}

// Clear drops every entry in both stores immediately. The admin cache-flush
// endpoint calls this.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metadataCache = make(map[string]cacheEntry)
	c.newsCache = make(map[string]cacheEntry)
	c.lastClear = time.Now()
}

// ClearIfNeeded performs periodic cache clearance if the configured duration
// has elapsed since the last full clear.
func (c *Cache) ClearIfNeeded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastClear) > c.duration {
		c.metadataCache = make(map[string]cacheEntry)
		c.newsCache = make(map[string]cacheEntry)
		c.lastClear = time.Now()
	}
}
