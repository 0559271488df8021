package verify

import (
	"context"
	"io"
	"time"
)

// RequestStore persists verification requests.
type RequestStore interface {
	CreateRequest(ctx context.Context, req VerificationRequest) error
	GetRequest(ctx context.Context, id string) (VerificationRequest, error)
	FindPendingByCode(ctx context.Context, userID, claimCode string) (VerificationRequest, error)
	ListByUser(ctx context.Context, userID string) ([]VerificationRequest, error)
	HasActiveRequest(ctx context.Context, userID string) (bool, error)
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)
	MarkSubmitted(ctx context.Context, id, targetURL string) error
	MarkExpired(ctx context.Context, id string) error
	RecordCrawlOutcome(ctx context.Context, id string, status Status, crawlerResponse string, crawledAt time.Time) error
	RecordReview(ctx context.Context, id string, status Status, denialReason string, reviewedAt time.Time) error
}

// ProfileStore persists the artist-profile collaborator record.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (ArtistProfile, error)
	UpsertVerified(ctx context.Context, userID string, verifiedAt time.Time) error
}

// PageCache is the shared read-through cache of fetched pages.
type PageCache interface {
	Get(ctx context.Context, url string) (CacheEntry, bool, error)
	Put(ctx context.Context, url string, page Page) error
}

// Fetcher retrieves a page and returns its markup plus rendered text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// ClaimCrawler runs the crawl-and-match pipeline for one request. It owns
// all terminal persistence for the crawl path; the returned error means the
// crawl could not record its own outcome.
type ClaimCrawler interface {
	VerifyClaim(ctx context.Context, requestID, targetURL, claimCode string) (bool, error)
}

// Publisher pushes outcome events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ArchiveStore writes page snapshots and returns a URI.
type ArchiveStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes digests for snapshot naming and deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
