// Package memory provides the default in-process page cache.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/seda-audio/artist-verifier/internal/verify"
)

// Cache is a mutex-guarded map of page entries with per-entry TTL. Entries
// expire passively: they are checked on read and dropped when stale, never
// actively swept.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   verify.Clock
	entries map[string]verify.CacheEntry
}

// New creates a Cache. A non-positive ttl defaults to 24 hours.
func New(ttl time.Duration, clock verify.Clock) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]verify.CacheEntry),
	}
}

// Get returns the entry for the URL if present and unexpired.
func (c *Cache) Get(_ context.Context, url string) (verify.CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[url]
	if !ok {
		return verify.CacheEntry{}, false, nil
	}
	if entry.Expired(c.clock.Now()) {
		delete(c.entries, url)
		return verify.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// Put upserts the page with a fresh TTL from the moment of write.
// Concurrent writers to the same key are last-write-wins.
func (c *Cache) Put(_ context.Context, url string, page verify.Page) error {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = verify.CacheEntry{
		URL:       url,
		HTML:      page.HTML,
		Text:      page.Text,
		CrawledAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	return nil
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
