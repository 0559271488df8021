// Package crawler implements the crawl-and-match pipeline that confirms an
// artist's claim code on a page they control.
package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seda-audio/artist-verifier/internal/telemetry"
	"github.com/seda-audio/artist-verifier/internal/verify"
)

// Config controls Crawler behavior.
type Config struct {
	MaxRetries         int
	BackoffBase        time.Duration
	ArchivePrefix      string
	ArchiveContentType string
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.ArchiveContentType == "" {
		c.ArchiveContentType = "text/html; charset=utf-8"
	}
	return c
}

// Crawler orchestrates cache lookup, fetch, retry-with-backoff, and claim
// code matching for a single verification request at a time. Retries are
// strictly sequential; different requests may crawl concurrently, each with
// its own fetch attempt.
type Crawler struct {
	requests  verify.RequestStore
	profiles  verify.ProfileStore
	cache     verify.PageCache
	probe     verify.Fetcher
	headless  verify.Fetcher
	validator *Validator
	limiter   *DomainLimiter
	archive   verify.ArchiveStore
	hasher    verify.Hasher
	clock     verify.Clock
	cfg       Config
	logger    *zap.Logger

	// sleep is swapped out by tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Crawler. probe or headless may be nil individually;
// archive, hasher, and limiter are optional.
func New(
	requests verify.RequestStore,
	profiles verify.ProfileStore,
	cache verify.PageCache,
	probe verify.Fetcher,
	headless verify.Fetcher,
	validator *Validator,
	limiter *DomainLimiter,
	archive verify.ArchiveStore,
	hasher verify.Hasher,
	clock verify.Clock,
	cfg Config,
	logger *zap.Logger,
) *Crawler {
	if validator == nil {
		validator = NewValidator(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		requests:  requests,
		profiles:  profiles,
		cache:     cache,
		probe:     probe,
		headless:  headless,
		validator: validator,
		limiter:   limiter,
		archive:   archive,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		sleep:     sleepContext,
	}
}

// VerifyClaim runs the full pipeline for one request and persists the
// terminal outcome. The returned bool reports whether the claim code was
// found; the returned error is non-nil only when the outcome could not be
// recorded (the caller folds that into awaiting_admin).
func (c *Crawler) VerifyClaim(ctx context.Context, requestID, targetURL, claimCode string) (bool, error) {
	telemetry.CrawlStarted()
	defer telemetry.CrawlFinished()

	req, err := c.requests.GetRequest(ctx, requestID)
	if err != nil {
		return false, fmt.Errorf("load request: %w", err)
	}

	canonical, err := c.validator.Validate(targetURL)
	if err != nil {
		// Not retried. The coarse submission check already accepted this
		// URL, so it goes to a human instead of being rejected outright.
		c.logger.Info("target url outside crawl policy, deferring to admin",
			zap.String("request_id", requestID),
			zap.String("target_url", targetURL),
			zap.Error(err),
		)
		return c.finish(ctx, req, false, fmt.Sprintf("url validation: %v", err))
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if entry, ok := c.cacheLookup(ctx, canonical); ok {
			// Cache hits are authoritative for their TTL and never retried.
			matched := containsCode(claimCode, entry.HTML, entry.Text)
			return c.finish(ctx, req, matched, "")
		}

		page, err := c.fetchPage(ctx, canonical, claimCode)
		if err != nil {
			lastErr = err
			telemetry.CountCrawlAttempt("error")
			c.logger.Warn("fetch attempt failed",
				zap.String("request_id", requestID),
				zap.String("url", canonical),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if attempt < c.cfg.MaxRetries {
				if sleepErr := c.sleep(ctx, c.backoff(attempt)); sleepErr != nil {
					lastErr = fmt.Errorf("backoff interrupted: %w", sleepErr)
					break
				}
			}
			continue
		}
		telemetry.CountCrawlAttempt("success")

		c.cachePut(ctx, canonical, page)
		c.archivePage(ctx, requestID, page)

		// A successful fetch without the code is a deterministic negative,
		// not a transient fault, so it is not retried.
		matched := containsCode(claimCode, page.HTML, page.Text)
		return c.finish(ctx, req, matched, "")
	}

	response := fmt.Sprintf("crawl gave up after %d attempts", c.cfg.MaxRetries)
	if lastErr != nil {
		response = fmt.Sprintf("crawl gave up after %d attempts, last error: %v", c.cfg.MaxRetries, lastErr)
	}
	return c.finish(ctx, req, false, response)
}

// backoff returns 2^attempt seconds scaled by the configured base.
func (c *Crawler) backoff(attempt int) time.Duration {
	return c.cfg.BackoffBase * time.Duration(1<<attempt)
}

func (c *Crawler) cacheLookup(ctx context.Context, url string) (verify.CacheEntry, bool) {
	if c.cache == nil {
		return verify.CacheEntry{}, false
	}
	entry, ok, err := c.cache.Get(ctx, url)
	if err != nil {
		telemetry.CountCacheLookup("error")
		c.logger.Warn("cache lookup failed", zap.String("url", url), zap.Error(err))
		return verify.CacheEntry{}, false
	}
	if !ok {
		telemetry.CountCacheLookup("miss")
		return verify.CacheEntry{}, false
	}
	telemetry.CountCacheLookup("hit")
	return entry, true
}

func (c *Crawler) cachePut(ctx context.Context, url string, page verify.Page) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Put(ctx, url, page); err != nil {
		c.logger.Warn("cache write failed", zap.String("url", url), zap.Error(err))
	}
}

// fetchPage performs one live attempt: static probe first, then promotion
// to the headless fetcher when the probe copy lacks the code. Platforms
// that render content client-side only match on the headless pass.
func (c *Crawler) fetchPage(ctx context.Context, url, claimCode string) (verify.Page, error) {
	if c.probe == nil && c.headless == nil {
		return verify.Page{}, fmt.Errorf("no fetcher configured")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, url); err != nil {
			return verify.Page{}, err
		}
	}

	var (
		probePage verify.Page
		probeErr  error
	)
	if c.probe != nil {
		probePage, probeErr = c.probe.Fetch(ctx, url)
		if probeErr == nil {
			telemetry.ObserveFetchDuration("static", probePage.Duration)
			if containsCode(claimCode, probePage.HTML, probePage.Text) {
				return probePage, nil
			}
		}
	} else {
		probeErr = fmt.Errorf("static fetch unavailable")
	}

	if c.headless == nil {
		return probePage, probeErr
	}
	headlessPage, err := c.headless.Fetch(ctx, url)
	if err == nil {
		telemetry.ObserveFetchDuration("headless", headlessPage.Duration)
		return headlessPage, nil
	}
	if probeErr == nil {
		// The static copy succeeded; a failed promotion does not turn a
		// clean fetch into a transient error.
		c.logger.Warn("headless promotion failed, using static copy",
			zap.String("url", url), zap.Error(err))
		return probePage, nil
	}
	return verify.Page{}, err
}

func (c *Crawler) archivePage(ctx context.Context, requestID string, page verify.Page) {
	if c.archive == nil || c.hasher == nil {
		return
	}
	hash, err := c.hasher.Hash([]byte(page.HTML))
	if err != nil {
		c.logger.Warn("hash snapshot failed", zap.String("request_id", requestID), zap.Error(err))
		return
	}
	path := fmt.Sprintf("%s/%s.html", requestID, hash)
	if prefix := strings.Trim(c.cfg.ArchivePrefix, "/"); prefix != "" {
		path = fmt.Sprintf("%s/%s", prefix, path)
	}
	uri, err := c.archive.PutObject(ctx, path, c.cfg.ArchiveContentType, strings.NewReader(page.HTML))
	if err != nil {
		c.logger.Warn("archive snapshot failed", zap.String("request_id", requestID), zap.Error(err))
		return
	}
	c.logger.Debug("page snapshot archived",
		zap.String("request_id", requestID),
		zap.String("uri", uri),
	)
}

// finish writes the terminal crawl outcome and, on a match, flips the
// artist profile to verified.
func (c *Crawler) finish(ctx context.Context, req verify.VerificationRequest, matched bool, response string) (bool, error) {
	now := c.clock.Now()
	status := verify.StatusAwaitingAdmin
	if matched {
		status = verify.StatusApproved
		response = ""
	}
	if err := c.requests.RecordCrawlOutcome(ctx, req.ID, status, response, now); err != nil {
		return matched, fmt.Errorf("record crawl outcome: %w", err)
	}
	if matched {
		if err := c.profiles.UpsertVerified(ctx, req.UserID, now); err != nil {
			return true, fmt.Errorf("upsert artist profile: %w", err)
		}
	}
	telemetry.CountCrawlOutcome(string(status))
	c.logger.Info("crawl finished",
		zap.String("request_id", req.ID),
		zap.String("status", string(status)),
		zap.Bool("matched", matched),
	)
	return matched, nil
}

func containsCode(code string, contents ...string) bool {
	for _, content := range contents {
		if content != "" && strings.Contains(content, code) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
