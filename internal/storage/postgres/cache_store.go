package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/seda-audio/artist-verifier/internal/verify"
)

// CacheStore implements the page cache on the page_cache table:
//
//	url TEXT PRIMARY KEY, html TEXT, body_text TEXT,
//	crawled_at TIMESTAMPTZ, expires_at TIMESTAMPTZ
//
// Expiry is checked on read; rows are never actively swept.
type CacheStore struct {
	pool  Pool
	ttl   time.Duration
	clock verify.Clock
}

// NewCacheStore constructs a CacheStore. A non-positive ttl defaults to 24
// hours.
func NewCacheStore(pool Pool, ttl time.Duration, clock verify.Clock) (*CacheStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CacheStore{pool: pool, ttl: ttl, clock: clock}, nil
}

// Get returns the entry for the URL if present and unexpired.
func (s *CacheStore) Get(ctx context.Context, url string) (verify.CacheEntry, bool, error) {
	query := `SELECT url, html, body_text, crawled_at, expires_at FROM page_cache WHERE url = $1`
	var entry verify.CacheEntry
	err := s.pool.QueryRow(ctx, query, url).Scan(
		&entry.URL,
		&entry.HTML,
		&entry.Text,
		&entry.CrawledAt,
		&entry.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return verify.CacheEntry{}, false, nil
	}
	if err != nil {
		return verify.CacheEntry{}, false, fmt.Errorf("get cache entry: %w", err)
	}
	if entry.Expired(s.clock.Now()) {
		return verify.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// Put upserts the page with a fresh TTL from the moment of write.
func (s *CacheStore) Put(ctx context.Context, url string, page verify.Page) error {
	now := s.clock.Now()
	query := `
INSERT INTO page_cache (url, html, body_text, crawled_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (url) DO UPDATE SET
	html = EXCLUDED.html,
	body_text = EXCLUDED.body_text,
	crawled_at = EXCLUDED.crawled_at,
	expires_at = EXCLUDED.expires_at`
	if _, err := s.pool.Exec(ctx, query, url, page.HTML, page.Text, now, now.Add(s.ttl)); err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}
