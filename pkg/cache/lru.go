// Package cache provides an in-memory TTL cache used to serve repeated
// reads of endpoints whose payload rarely changes: the tool registry
// listing and job demands, which are immutable once a job is submitted.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	body       []byte
	expiresAt  time.Time
	insertedAt time.Time
}

// TTLCache is a bounded, thread-safe cache of response bodies. Entries
// expire after the configured TTL and are lazily evicted on Get; when
// the cache is full, the entry inserted longest ago makes room.
type TTLCache struct {
	mu      sync.Mutex
	entries map[string]entry
	maxSize int
	ttl     time.Duration
}

// NewTTLCache creates a cache holding at most maxSize entries for ttl each.
func NewTTLCache(maxSize int, ttl time.Duration) *TTLCache {
	if maxSize < 1 {
		maxSize = 1
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &TTLCache{
		entries: make(map[string]entry, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns the cached body for key, or (nil, false) when missing or
// expired. Expired entries are deleted on the spot.
func (c *TTLCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.body, true
}

// Set stores body under key, evicting the oldest entry when full.
func (c *TTLCache) Set(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = entry{
		body:       body,
		expiresAt:  now.Add(c.ttl),
		insertedAt: now,
	}
}

// Invalidate removes one key.
func (c *TTLCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll clears the cache.
func (c *TTLCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry, c.maxSize)
}

// Len reports the current entry count, expired entries included.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TTLCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.insertedAt.Before(oldest) {
			oldestKey = k
			oldest = e.insertedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
