package prwatch

import (
	"sync"
	"time"
)

// DefaultCacheTTL is how long fetched PR lists are served without refetching.
const DefaultCacheTTL = 60 * time.Second

type cacheEntry struct {
	prs       []PullRequestInfo
	fetchedAt time.Time
	expired   bool
}

// Cache holds the last fetched PR list per repository directory.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

// NewCache creates a Cache. A nil now uses the wall clock.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Cache{ttl: ttl, now: now, entries: make(map[string]cacheEntry)}
}

// Fresh returns the entry for key if it was fetched within the TTL.
func (c *Cache) Fresh(key string) ([]PullRequestInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.expired || c.now().Sub(e.fetchedAt) >= c.ttl {
		return nil, false
	}
	return e.prs, true
}

// Last returns the entry for key regardless of age.
func (c *Cache) Last(key string) ([]PullRequestInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e.prs, ok
}

// Put stores prs for key, stamped with the current time.
func (c *Cache) Put(key string, prs []PullRequestInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{prs: prs, fetchedAt: c.now()}
}

// FetchedAt reports when key was last stored.
func (c *Cache) FetchedAt(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e.fetchedAt, ok
}

// Invalidate forces the next lookup of key to refetch. The stale list is
// kept as a fallback for failed fetches.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.expired = true
		c.entries[key] = e
	}
}
