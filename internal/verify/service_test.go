package verify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRequestVerification_IssuesPendingRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.service.RequestVerification(context.Background(), "artist-1")
	require.NoError(t, err)

	req := res.Request
	require.Equal(t, StatusPending, req.Status)
	require.Regexp(t, `^SEDA-[A-Z0-9]{8}$`, req.ClaimCode)
	require.Equal(t, f.clock.Now().Add(7*24*time.Hour), req.ExpiresAt)
	require.Contains(t, res.Instructions, req.ClaimCode)

	stored, err := f.store.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, req, stored)
}

func TestRequestVerification_ActiveConflict(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.service.RequestVerification(context.Background(), "artist-1")
	require.NoError(t, err)

	_, err = f.service.RequestVerification(context.Background(), "artist-1")
	require.ErrorIs(t, err, ErrConflict)
}

func TestRequestVerification_RateLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for i := 0; i < 3; i++ {
		res, err := f.service.RequestVerification(context.Background(), "artist-1")
		require.NoError(t, err)
		// Resolve each request so only the quota, not the active-request
		// rule, gates the next one.
		f.store.setStatus(res.Request.ID, StatusDenied)
	}

	_, err := f.service.RequestVerification(context.Background(), "artist-1")
	require.ErrorIs(t, err, ErrRateLimited)
	require.Contains(t, err.Error(), "3 requests per 24 hours")
}

func TestRequestVerification_RateLimitWindowSlides(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for i := 0; i < 3; i++ {
		res, err := f.service.RequestVerification(context.Background(), "artist-1")
		require.NoError(t, err)
		f.store.setStatus(res.Request.ID, StatusDenied)
	}

	f.clock.advance(25 * time.Hour)
	_, err := f.service.RequestVerification(context.Background(), "artist-1")
	require.NoError(t, err)
}

func TestRequestVerification_QuotaIsPerUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.service.RequestVerification(context.Background(), "artist-1")
	require.NoError(t, err)

	_, err = f.service.RequestVerification(context.Background(), "artist-2")
	require.NoError(t, err)
}

func TestSubmitVerification_DispatchesCrawl(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.crawler.matched = true
	res, err := f.service.RequestVerification(context.Background(), "artist-1")
	require.NoError(t, err)

	req, err := f.service.SubmitVerification(context.Background(), "artist-1", res.Request.ClaimCode, "https://artist.bandcamp.com/about")
	require.NoError(t, err)
	require.Equal(t, StatusCrawling, req.Status)
	require.Equal(t, "https://artist.bandcamp.com/about", req.TargetURL)

	f.service.Wait()
	require.Equal(t, 1, f.crawler.calls())
	require.Equal(t, res.Request.ClaimCode, f.crawler.lastCode())

	stored, err := f.store.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, stored.Status)

	events := f.publisher.events()
	require.Len(t, events, 1)
	require.Equal(t, req.ID, events[0].RequestID)
	require.True(t, events[0].Matched)
	require.Equal(t, StatusApproved, events[0].Status)
}

func TestSubmitVerification_UnknownCode(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.service.SubmitVerification(context.Background(), "artist-1", "SEDA-WRONG123", "https://artist.bandcamp.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitVerification_WrongUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.service.RequestVerification(context.Background(), "artist-1")
	require.NoError(t, err)

	_, err = f.service.SubmitVerification(context.Background(), "artist-2", res.Request.ClaimCode, "https://artist.bandcamp.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitVerification_LazyExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.service.RequestVerification(context.Background(), "artist-1")
	require.NoError(t, err)

	f.clock.advance(7*24*time.Hour + time.Minute)
	_, err = f.service.SubmitVerification(context.Background(), "artist-1", res.Request.ClaimCode, "https://artist.bandcamp.com")
	require.ErrorIs(t, err, ErrExpired)

	stored, err := f.store.GetRequest(context.Background(), res.Request.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, stored.Status)
	require.Equal(t, 0, f.crawler.calls())
}

func TestSubmitVerification_InvalidURLKeepsRequestPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.service.RequestVerification(context.Background(), "artist-1")
	require.NoError(t, err)

	_, err = f.service.SubmitVerification(context.Background(), "artist-1", res.Request.ClaimCode, "http://artist.bandcamp.com")
	require.ErrorIs(t, err, ErrInvalidURL)

	stored, err := f.store.GetRequest(context.Background(), res.Request.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
}

func TestSubmitVerification_CrawlerErrorFoldsToAdmin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.crawler.err = errors.New("store unavailable")
	res, err := f.service.RequestVerification(context.Background(), "artist-1")
	require.NoError(t, err)

	_, err = f.service.SubmitVerification(context.Background(), "artist-1", res.Request.ClaimCode, "https://artist.bandcamp.com")
	require.NoError(t, err)
	f.service.Wait()

	stored, err := f.store.GetRequest(context.Background(), res.Request.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingAdmin, stored.Status)
	require.Contains(t, stored.CrawlerResponse, "crawl task failed")
	require.Contains(t, stored.CrawlerResponse, "store unavailable")

	events := f.publisher.events()
	require.Len(t, events, 1)
	require.False(t, events[0].Matched)
}

func TestSubmitVerification_CrawlerPanicFoldsToAdmin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.crawler.panicWith = "nil deref"
	res, err := f.service.RequestVerification(context.Background(), "artist-1")
	require.NoError(t, err)

	_, err = f.service.SubmitVerification(context.Background(), "artist-1", res.Request.ClaimCode, "https://artist.bandcamp.com")
	require.NoError(t, err)
	f.service.Wait()

	stored, err := f.store.GetRequest(context.Background(), res.Request.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingAdmin, stored.Status)
	require.Contains(t, stored.CrawlerResponse, "crawl task panic")
}

func TestGetVerificationStatus_OwnershipEnforced(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.service.RequestVerification(context.Background(), "artist-1")
	require.NoError(t, err)

	_, err = f.service.GetVerificationStatus(context.Background(), "artist-2", res.Request.ID)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := f.service.GetVerificationStatus(context.Background(), "artist-1", res.Request.ID)
	require.NoError(t, err)
	require.Equal(t, res.Request.ID, got.ID)
}

func TestGetUserVerifications_NewestFirst(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first, err := f.service.RequestVerification(context.Background(), "artist-1")
	require.NoError(t, err)
	f.store.setStatus(first.Request.ID, StatusDenied)

	f.clock.advance(time.Hour)
	second, err := f.service.RequestVerification(context.Background(), "artist-1")
	require.NoError(t, err)

	list, err := f.service.GetUserVerifications(context.Background(), "artist-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, second.Request.ID, list[0].ID)
	require.Equal(t, first.Request.ID, list[1].ID)
}

func TestResolveReview_Approve(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.service.RequestVerification(context.Background(), "artist-1")
	require.NoError(t, err)
	f.store.setStatus(res.Request.ID, StatusAwaitingAdmin)

	got, err := f.service.ResolveReview(context.Background(), res.Request.ID, true, "ignored")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got.Status)
	require.Empty(t, got.DenialReason)
	require.NotNil(t, got.ReviewedAt)

	profile, err := f.profiles.GetProfile(context.Background(), "artist-1")
	require.NoError(t, err)
	require.True(t, profile.Verified)
}

func TestResolveReview_Deny(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.service.RequestVerification(context.Background(), "artist-1")
	require.NoError(t, err)
	f.store.setStatus(res.Request.ID, StatusAwaitingAdmin)

	got, err := f.service.ResolveReview(context.Background(), res.Request.ID, false, "code not on page")
	require.NoError(t, err)
	require.Equal(t, StatusDenied, got.Status)
	require.Equal(t, "code not on page", got.DenialReason)

	profile, err := f.profiles.GetProfile(context.Background(), "artist-1")
	require.NoError(t, err)
	require.False(t, profile.Verified)
}

func TestResolveReview_OnlyAwaitingAdmin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.service.RequestVerification(context.Background(), "artist-1")
	require.NoError(t, err)

	_, err = f.service.ResolveReview(context.Background(), res.Request.ID, true, "")
	require.ErrorIs(t, err, ErrNotReviewable)
}

// --- fixture and fakes ---

type fixture struct {
	service   *Service
	store     *fakeRequestStore
	profiles  *fakeProfileStore
	crawler   *stubCrawler
	publisher *capturingPublisher
	clock     *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newFakeRequestStore()
	profiles := &fakeProfileStore{profiles: make(map[string]ArtistProfile)}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	crawler := &stubCrawler{store: store, clock: clock}
	publisher := &capturingPublisher{}
	service := NewService(
		store,
		profiles,
		crawler,
		publisher,
		clock,
		&fakeIDGen{},
		ServiceConfig{},
		zap.NewNop(),
	)
	return &fixture{
		service:   service,
		store:     store,
		profiles:  profiles,
		crawler:   crawler,
		publisher: publisher,
		clock:     clock,
	}
}

type fakeRequestStore struct {
	mu       sync.RWMutex
	requests map[string]VerificationRequest
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{requests: make(map[string]VerificationRequest)}
}

func (s *fakeRequestStore) CreateRequest(_ context.Context, req VerificationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("request %s already exists", req.ID)
	}
	s.requests[req.ID] = req
	return nil
}

func (s *fakeRequestStore) GetRequest(_ context.Context, id string) (VerificationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return VerificationRequest{}, ErrNotFound
	}
	return req, nil
}

func (s *fakeRequestStore) FindPendingByCode(_ context.Context, userID, claimCode string) (VerificationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, req := range s.requests {
		if req.UserID == userID && req.ClaimCode == claimCode && req.Status == StatusPending {
			return req, nil
		}
	}
	return VerificationRequest{}, ErrNotFound
}

func (s *fakeRequestStore) ListByUser(_ context.Context, userID string) ([]VerificationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []VerificationRequest
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

func (s *fakeRequestStore) HasActiveRequest(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, req := range s.requests {
		if req.UserID == userID && req.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeRequestStore) CountCreatedSince(_ context.Context, userID string, since time.Time) (int, error) {
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

func (s *fakeRequestStore) MarkSubmitted(_ context.Context, id, targetURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.TargetURL = targetURL
	req.Status = StatusCrawling
	s.requests[id] = req
	return nil
}

func (s *fakeRequestStore) MarkExpired(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.Status = StatusExpired
	s.requests[id] = req
	return nil
}

func (s *fakeRequestStore) RecordCrawlOutcome(_ context.Context, id string, status Status, crawlerResponse string, crawledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.Status = status
	req.CrawlerResponse = crawlerResponse
	req.CrawledAt = &crawledAt
	s.requests[id] = req
	return nil
}

func (s *fakeRequestStore) RecordReview(_ context.Context, id string, status Status, denialReason string, reviewedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.Status = status
	req.DenialReason = denialReason
	req.ReviewedAt = &reviewedAt
	s.requests[id] = req
	return nil
}

func (s *fakeRequestStore) setStatus(id string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.requests[id]
	req.Status = status
	s.requests[id] = req
}

type fakeProfileStore struct {
	mu       sync.Mutex
	profiles map[string]ArtistProfile
}

func (s *fakeProfileStore) GetProfile(_ context.Context, userID string) (ArtistProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[userID], nil
}

func (s *fakeProfileStore) UpsertVerified(_ context.Context, userID string, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = ArtistProfile{UserID: userID, Verified: true, VerifiedAt: &verifiedAt}
	return nil
}

// stubCrawler mimics the real pipeline's contract: it records its own
// outcome unless configured to fail or panic.
type stubCrawler struct {
	mu        sync.Mutex
	n         int
	code      string
	matched   bool
	err       error
	panicWith string
	store     *fakeRequestStore
	clock     Clock
}

func (c *stubCrawler) VerifyClaim(ctx context.Context, requestID, _, claimCode string) (bool, error) {
	c.mu.Lock()
	c.n++
	c.code = claimCode
	matched, err, panicWith := c.matched, c.err, c.panicWith
	c.mu.Unlock()

	if panicWith != "" {
		panic(panicWith)
	}
	if err != nil {
		return false, err
	}
	status := StatusAwaitingAdmin
	if matched {
		status = StatusApproved
	}
	if recErr := c.store.RecordCrawlOutcome(ctx, requestID, status, "", c.clock.Now()); recErr != nil {
		return false, recErr
	}
	return matched, nil
}

func (c *stubCrawler) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *stubCrawler) lastCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

type capturingPublisher struct {
	mu     sync.Mutex
	topics []string
	seen   []OutcomeEvent
}

func (p *capturingPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if event, ok := payload.(OutcomeEvent); ok {
		p.seen = append(p.seen, event)
	}
	return fmt.Sprintf("msg-%d", len(p.seen)), nil
}

func (p *capturingPublisher) events() []OutcomeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OutcomeEvent, len(p.seen))
	copy(out, p.seen)
	return out
}

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("req-%04d", f.n), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
