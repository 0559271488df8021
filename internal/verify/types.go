// Package verify defines the core types and interfaces for the artist
// identity verification workflow.
package verify

import (
	"time"
)

// Status represents the lifecycle state of a verification request.
type Status string

// Request status values persisted in the request store.
const (
	StatusPending       Status = "pending"
	StatusCrawling      Status = "crawling"
	StatusApproved      Status = "approved"
	StatusAwaitingAdmin Status = "awaiting_admin"
	StatusExpired       Status = "expired"
	StatusDenied        Status = "denied"
)

// Active reports whether the status counts against the one-active-request
// rule, i.e. the request still needs automated or human attention.
func (s Status) Active() bool {
	switch s {
	case StatusPending, StatusCrawling, StatusAwaitingAdmin:
		return true
	default:
		return false
	}
}

// Terminal reports whether the request is immutable.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusExpired, StatusDenied:
		return true
	default:
		return false
	}
}

// VerificationRequest is the metadata persisted for each claim attempt.
type VerificationRequest struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	ClaimCode       string     `json:"claim_code"`
	TargetURL       string     `json:"target_url,omitempty"`
	Status          Status     `json:"status"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	CrawledAt       *time.Time `json:"crawled_at,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	DenialReason    string     `json:"denial_reason,omitempty"`
	CrawlerResponse string     `json:"crawler_response,omitempty"`
}

// ArtistProfile is the collaborator record flipped to verified on a
// successful claim match.
type ArtistProfile struct {
	UserID     string     `json:"user_id"`
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// Page is the result returned by a Fetcher implementation. HTML holds the
// raw document markup and Text the rendered text content; some platforms
// surface injected content in only one of the two.
type Page struct {
	URL          string
	HTML         string
	Text         string
	FetchedAt    time.Time
	Duration     time.Duration
	UsedHeadless bool
}

// CacheEntry is one cached page keyed by canonical URL.
type CacheEntry struct {
	URL       string    `json:"url"`
	HTML      string    `json:"html"`
	Text      string    `json:"text"`
	CrawledAt time.Time `json:"crawled_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is stale at the given instant.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// OutcomeEvent is published when a request reaches a post-crawl state.
type OutcomeEvent struct {
	RequestID       string    `json:"request_id"`
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	Matched         bool      `json:"matched"`
	CrawlerResponse string    `json:"crawler_response,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}
