package verify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seda-audio/artist-verifier/internal/telemetry"
)

// ServiceConfig controls the verification state machine.
type ServiceConfig struct {
	RateLimitPerDay int
	CodeLength      int
	CodeExpiry      time.Duration
	CrawlBudget     time.Duration
	OutcomeTopic    string
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.RateLimitPerDay <= 0 {
		c.RateLimitPerDay = 3
	}
	if c.CodeLength <= 0 {
		c.CodeLength = 8
	}
	if c.CodeExpiry <= 0 {
		c.CodeExpiry = 7 * 24 * time.Hour
	}
	if c.CrawlBudget <= 0 {
		c.CrawlBudget = 5 * time.Minute
	}
	return c
}

// Service owns the VerificationRequest lifecycle: code issuance, rate
// limiting, submission validation, state transitions, and final approval.
type Service struct {
	requests  RequestStore
	profiles  ProfileStore
	crawler   ClaimCrawler
	publisher Publisher
	clock     Clock
	idGen     IDGenerator
	cfg       ServiceConfig
	logger    *zap.Logger

	crawls sync.WaitGroup
}

// NewService constructs a Service.
func NewService(
	requests RequestStore,
	profiles ProfileStore,
	crawler ClaimCrawler,
	publisher Publisher,
	clock Clock,
	idGen IDGenerator,
	cfg ServiceConfig,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		requests:  requests,
		profiles:  profiles,
		crawler:   crawler,
		publisher: publisher,
		clock:     clock,
		idGen:     idGen,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// RequestResult is returned to the caller of RequestVerification.
type RequestResult struct {
	Request      VerificationRequest
	Instructions string
}

// RequestVerification issues a fresh claim code for the user, enforcing the
// trailing-24h quota and the single-active-request rule. Both checks are
// read-then-write without a transactional guard; concurrent requests from
// the same user can race past them.
func (s *Service) RequestVerification(ctx context.Context, userID string) (RequestResult, error) {
	if userID == "" {
		return RequestResult{}, fmt.Errorf("%w: user id is required", ErrNotFound)
	}
	now := s.clock.Now()

	recent, err := s.requests.CountCreatedSince(ctx, userID, now.Add(-24*time.Hour))
	if err != nil {
		return RequestResult{}, fmt.Errorf("count recent requests: %w", err)
	}
	if recent >= s.cfg.RateLimitPerDay {
		telemetry.CountRequestOutcome("rate_limited")
		return RequestResult{}, fmt.Errorf("%w: at most %d requests per 24 hours", ErrRateLimited, s.cfg.RateLimitPerDay)
	}

	active, err := s.requests.HasActiveRequest(ctx, userID)
	if err != nil {
		return RequestResult{}, fmt.Errorf("check active requests: %w", err)
	}
	if active {
		telemetry.CountRequestOutcome("conflict")
		return RequestResult{}, ErrConflict
	}

	code, err := NewClaimCode(s.cfg.CodeLength)
	if err != nil {
		return RequestResult{}, err
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return RequestResult{}, fmt.Errorf("generate request id: %w", err)
	}

	req := VerificationRequest{
		ID:          id,
		UserID:      userID,
		ClaimCode:   code,
		Status:      StatusPending,
		SubmittedAt: now,
		ExpiresAt:   now.Add(s.cfg.CodeExpiry),
	}
	if err := s.requests.CreateRequest(ctx, req); err != nil {
		return RequestResult{}, fmt.Errorf("create request: %w", err)
	}

	telemetry.CountRequestOutcome("created")
	s.logger.Info("verification request created",
		zap.String("request_id", id),
		zap.String("user_id", userID),
		zap.Time("expires_at", req.ExpiresAt),
	)
	return RequestResult{
		Request:      req,
		Instructions: placementInstructions(code, req.ExpiresAt),
	}, nil
}

func placementInstructions(code string, expiresAt time.Time) string {
	return fmt.Sprintf(
		"Add the code %s somewhere visible on your artist page (bio, about section, or track description), "+
			"then submit the page URL. The code must appear in the page content exactly as shown. "+
			"Submit before %s.",
		code, expiresAt.Format(time.RFC1123),
	)
}

// SubmitVerification records the target URL, transitions the request to
// crawling, and dispatches the crawl as a detached background task. The
// caller gets an immediate acknowledgment; crawl outcomes are observed by
// polling GetVerificationStatus.
func (s *Service) SubmitVerification(ctx context.Context, userID, claimCode, targetURL string) (VerificationRequest, error) {
	req, err := s.requests.FindPendingByCode(ctx, userID, claimCode)
	if err != nil {
		return VerificationRequest{}, err
	}

	now := s.clock.Now()
	if now.After(req.ExpiresAt) {
		if markErr := s.requests.MarkExpired(ctx, req.ID); markErr != nil {
			s.logger.Error("mark expired failed", zap.String("request_id", req.ID), zap.Error(markErr))
		}
		telemetry.CountSubmission("expired")
		return VerificationRequest{}, ErrExpired
	}

	if err := CheckSubmissionURL(targetURL); err != nil {
		telemetry.CountSubmission("invalid_url")
		return VerificationRequest{}, err
	}

	if err := s.requests.MarkSubmitted(ctx, req.ID, targetURL); err != nil {
		return VerificationRequest{}, fmt.Errorf("mark submitted: %w", err)
	}
	req.TargetURL = targetURL
	req.Status = StatusCrawling

	telemetry.CountSubmission("accepted")
	s.logger.Info("verification submitted, dispatching crawl",
		zap.String("request_id", req.ID),
		zap.String("user_id", userID),
		zap.String("target_url", targetURL),
	)
	s.dispatchCrawl(req.ID, req.UserID, targetURL, claimCode)
	return req, nil
}

// dispatchCrawl runs the crawl in a supervised goroutine. Any failure of
// the crawl task itself, including a panic, is folded into awaiting_admin
// on the request row rather than surfaced or dropped.
func (s *Service) dispatchCrawl(requestID, userID, targetURL, claimCode string) {
	s.crawls.Add(1)
	go func() {
		defer s.crawls.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CrawlBudget)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("crawl task panicked",
					zap.String("request_id", requestID),
					zap.Any("panic", r),
				)
				s.foldCrawlFailure(ctx, requestID, userID, fmt.Sprintf("crawl task panic: %v", r))
			}
		}()

		matched, err := s.crawler.VerifyClaim(ctx, requestID, targetURL, claimCode)
		if err != nil {
			s.logger.Error("crawl task failed",
				zap.String("request_id", requestID),
				zap.Error(err),
			)
			s.foldCrawlFailure(ctx, requestID, userID, fmt.Sprintf("crawl task failed: %v", err))
			return
		}
		s.publishOutcome(ctx, requestID, userID, matched)
	}()
}

// Wait blocks until all dispatched crawls have finished. Used during
// graceful shutdown and by tests.
func (s *Service) Wait() {
	s.crawls.Wait()
}

func (s *Service) foldCrawlFailure(ctx context.Context, requestID, userID, reason string) {
	// The crawl budget may already be spent; give persistence its own window.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := s.requests.RecordCrawlOutcome(ctx, requestID, StatusAwaitingAdmin, reason, s.clock.Now()); err != nil {
		s.logger.Error("record crawl failure outcome failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return
	}
	s.publishOutcome(ctx, requestID, userID, false)
}

func (s *Service) publishOutcome(ctx context.Context, requestID, userID string, matched bool) {
	if s.publisher == nil {
		return
	}
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		s.logger.Error("load request for outcome event failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return
	}
	event := OutcomeEvent{
		RequestID:       requestID,
		UserID:          userID,
		Status:          req.Status,
		Matched:         matched,
		CrawlerResponse: req.CrawlerResponse,
		OccurredAt:      s.clock.Now(),
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.OutcomeTopic, event); err != nil {
		s.logger.Warn("publish outcome event failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}

// GetVerificationStatus returns the request if it belongs to the caller.
func (s *Service) GetVerificationStatus(ctx context.Context, userID, requestID string) (VerificationRequest, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return VerificationRequest{}, err
	}
	if req.UserID != userID {
		return VerificationRequest{}, ErrNotFound
	}
	return req, nil
}

// GetUserVerifications lists all requests owned by the user.
func (s *Service) GetUserVerifications(ctx context.Context, userID string) ([]VerificationRequest, error) {
	reqs, err := s.requests.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return reqs, nil
}

// ResolveReview applies an admin decision to a request awaiting review.
// Approval also flips the artist profile to verified.
func (s *Service) ResolveReview(ctx context.Context, requestID string, approve bool, denialReason string) (VerificationRequest, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return VerificationRequest{}, err
	}
	if req.Status != StatusAwaitingAdmin {
		return VerificationRequest{}, fmt.Errorf("%w: status is %s", ErrNotReviewable, req.Status)
	}

	now := s.clock.Now()
	status := StatusDenied
	if approve {
		status = StatusApproved
		denialReason = ""
	}
	if err := s.requests.RecordReview(ctx, requestID, status, denialReason, now); err != nil {
		return VerificationRequest{}, fmt.Errorf("record review: %w", err)
	}
	if approve {
		if err := s.profiles.UpsertVerified(ctx, req.UserID, now); err != nil {
			return VerificationRequest{}, fmt.Errorf("upsert artist profile: %w", err)
		}
	}
	telemetry.CountReview(string(status))
	s.logger.Info("admin review resolved",
		zap.String("request_id", requestID),
		zap.String("status", string(status)),
	)
	return s.requests.GetRequest(ctx, requestID)
}
