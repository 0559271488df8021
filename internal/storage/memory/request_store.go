// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/seda-audio/artist-verifier/internal/verify"
)

// RequestStore keeps verification requests in a mutex-guarded map.
type RequestStore struct {
	mu       sync.RWMutex
	requests map[string]verify.VerificationRequest
}

// NewRequestStore constructs a RequestStore.
func NewRequestStore() *RequestStore {
	return &RequestStore{
		requests: make(map[string]verify.VerificationRequest),
	}
}

// CreateRequest stores a new request.
func (s *RequestStore) CreateRequest(_ context.Context, req verify.VerificationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("request %s already exists", req.ID)
	}
	s.requests[req.ID] = req
	return nil
}

// GetRequest returns the request by ID.
func (s *RequestStore) GetRequest(_ context.Context, id string) (verify.VerificationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return verify.VerificationRequest{}, verify.ErrNotFound
	}
	return req, nil
}

// FindPendingByCode returns the pending request matching the user and code.
func (s *RequestStore) FindPendingByCode(_ context.Context, userID, claimCode string) (verify.VerificationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, req := range s.requests {
		if req.UserID == userID && req.ClaimCode == claimCode && req.Status == verify.StatusPending {
			return req, nil
		}
	}
	return verify.VerificationRequest{}, verify.ErrNotFound
}

// ListByUser returns the user's requests, newest first.
func (s *RequestStore) ListByUser(_ context.Context, userID string) ([]verify.VerificationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []verify.VerificationRequest
	for _, req := range s.requests {
		if req.UserID == userID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out, nil
}

// HasActiveRequest reports whether the user owns a request in an active
// status.
func (s *RequestStore) HasActiveRequest(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, req := range s.requests {
		if req.UserID == userID && req.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

// CountCreatedSince counts the user's requests created at or after since.
func (s *RequestStore) CountCreatedSince(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, req := range s.requests {
		if req.UserID == userID && !req.SubmittedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// MarkSubmitted records the target URL and moves a pending request to
// crawling.
func (s *RequestStore) MarkSubmitted(_ context.Context, id, targetURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return verify.ErrNotFound
	}
	if req.Status != verify.StatusPending {
		return fmt.Errorf("request %s is %s, not pending", id, req.Status)
	}
	req.TargetURL = targetURL
	req.Status = verify.StatusCrawling
	s.requests[id] = req
	return nil
}

// MarkExpired moves a pending request to expired.
func (s *RequestStore) MarkExpired(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return verify.ErrNotFound
	}
	if req.Status != verify.StatusPending {
		return fmt.Errorf("request %s is %s, not pending", id, req.Status)
	}
	req.Status = verify.StatusExpired
	s.requests[id] = req
	return nil
}

// RecordCrawlOutcome writes the crawl result onto a non-terminal request.
func (s *RequestStore) RecordCrawlOutcome(_ context.Context, id string, status verify.Status, crawlerResponse string, crawledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return verify.ErrNotFound
	}
	if req.Status.Terminal() {
		return fmt.Errorf("request %s is already terminal (%s)", id, req.Status)
	}
	req.Status = status
	req.CrawlerResponse = crawlerResponse
	req.CrawledAt = &crawledAt
	s.requests[id] = req
	return nil
}

// RecordReview applies an admin decision to a request awaiting review.
func (s *RequestStore) RecordReview(_ context.Context, id string, status verify.Status, denialReason string, reviewedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return verify.ErrNotFound
	}
	if req.Status != verify.StatusAwaitingAdmin {
		return fmt.Errorf("request %s is %s, not awaiting_admin", id, req.Status)
	}
	req.Status = status
	req.DenialReason = denialReason
	req.ReviewedAt = &reviewedAt
	s.requests[id] = req
	return nil
}
