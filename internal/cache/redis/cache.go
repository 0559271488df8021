// Package redis provides a Redis-backed page cache for multi-instance
// deployments, where the in-process cache would be per-replica.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seda-audio/artist-verifier/internal/verify"
)

const keyPrefix = "verifier:page:"

// Cache stores page entries as JSON values with a server-side TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	clock  verify.Clock
}

// New creates a Cache from a Redis URL. A non-positive ttl defaults to 24
// hours. The connection is pinged before use.
func New(ctx context.Context, redisURL string, ttl time.Duration, clock verify.Clock) (*Cache, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Cache{client: client, ttl: ttl, clock: clock}, nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client *redis.Client, ttl time.Duration, clock verify.Clock) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{client: client, ttl: ttl, clock: clock}
}

// Get returns the entry for the URL if present and unexpired. Redis expires
// keys server-side; the embedded ExpiresAt is still checked for parity with
// the in-process cache.
func (c *Cache) Get(ctx context.Context, url string) (verify.CacheEntry, bool, error) {
	raw, err := c.client.Get(ctx, Key(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		return verify.CacheEntry{}, false, nil
	}
	if err != nil {
		return verify.CacheEntry{}, false, fmt.Errorf("redis get: %w", err)
	}
	var entry verify.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return verify.CacheEntry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	if entry.Expired(c.clock.Now()) {
		return verify.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// Put upserts the page with a fresh TTL from the moment of write.
func (c *Cache) Put(ctx context.Context, url string, page verify.Page) error {
	now := c.clock.Now()
	entry := verify.CacheEntry{
		URL:       url,
		HTML:      page.HTML,
		Text:      page.Text,
		CrawledAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, Key(url), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Key returns the Redis key for a canonical URL.
func Key(url string) string {
	return keyPrefix + url
}
