// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seda-audio/artist-verifier/internal/verify"
)

// Pool is the subset of pgxpool.Pool the stores need; pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// NewPool builds a pgx pool from config.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// RequestStore persists verification requests in the
// verification_requests table:
//
//	id TEXT PRIMARY KEY, user_id TEXT, claim_code TEXT, target_url TEXT,
//	status TEXT, submitted_at TIMESTAMPTZ, expires_at TIMESTAMPTZ,
//	crawled_at TIMESTAMPTZ, reviewed_at TIMESTAMPTZ,
//	denial_reason TEXT, crawler_response TEXT
type RequestStore struct {
	pool Pool
}

// NewRequestStore constructs a RequestStore over the given pool.
func NewRequestStore(pool Pool) (*RequestStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RequestStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *RequestStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const requestColumns = `id, user_id, claim_code, target_url, status, submitted_at, expires_at, crawled_at, reviewed_at, denial_reason, crawler_response`

// CreateRequest inserts a new request row.
func (s *RequestStore) CreateRequest(ctx context.Context, req verify.VerificationRequest) error {
	if req.ID == "" {
		return fmt.Errorf("request id is required")
	}
	query := `
INSERT INTO verification_requests (
	id, user_id, claim_code, target_url, status, submitted_at, expires_at,
	crawled_at, reviewed_at, denial_reason, crawler_response
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := s.pool.Exec(ctx, query,
		req.ID,
		req.UserID,
		req.ClaimCode,
		req.TargetURL,
		string(req.Status),
		req.SubmittedAt,
		req.ExpiresAt,
		req.CrawledAt,
		req.ReviewedAt,
		req.DenialReason,
		req.CrawlerResponse,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// GetRequest returns the request by ID.
func (s *RequestStore) GetRequest(ctx context.Context, id string) (verify.VerificationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM verification_requests WHERE id = $1`
	return s.scanRequest(s.pool.QueryRow(ctx, query, id))
}

// FindPendingByCode returns the pending request matching the user and code.
func (s *RequestStore) FindPendingByCode(ctx context.Context, userID, claimCode string) (verify.VerificationRequest, error) {
	query := `SELECT ` + requestColumns + `
FROM verification_requests
WHERE user_id = $1 AND claim_code = $2 AND status = $3`
	return s.scanRequest(s.pool.QueryRow(ctx, query, userID, claimCode, string(verify.StatusPending)))
}

// ListByUser returns the user's requests, newest first.
func (s *RequestStore) ListByUser(ctx context.Context, userID string) ([]verify.VerificationRequest, error) {
	query := `SELECT ` + requestColumns + `
FROM verification_requests
WHERE user_id = $1
ORDER BY submitted_at DESC`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []verify.VerificationRequest
	for rows.Next() {
		req, err := s.scanRequestRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return out, nil
}

// HasActiveRequest reports whether the user owns a request in an active
// status.
func (s *RequestStore) HasActiveRequest(ctx context.Context, userID string) (bool, error) {
	query := `SELECT EXISTS (
SELECT 1 FROM verification_requests
WHERE user_id = $1 AND status = ANY($2))`
	var exists bool
	statuses := []string{
		string(verify.StatusPending),
		string(verify.StatusCrawling),
		string(verify.StatusAwaitingAdmin),
	}
	if err := s.pool.QueryRow(ctx, query, userID, statuses).Scan(&exists); err != nil {
		return false, fmt.Errorf("check active requests: %w", err)
	}
	return exists, nil
}

// CountCreatedSince counts the user's requests created at or after since.
func (s *RequestStore) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM verification_requests WHERE user_id = $1 AND submitted_at >= $2`
	var count int
	if err := s.pool.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}
	return count, nil
}

// MarkSubmitted records the target URL and moves a pending request to
// crawling.
func (s *RequestStore) MarkSubmitted(ctx context.Context, id, targetURL string) error {
	query := `UPDATE verification_requests SET target_url = $2, status = $3 WHERE id = $1 AND status = $4`
	tag, err := s.pool.Exec(ctx, query, id, targetURL, string(verify.StatusCrawling), string(verify.StatusPending))
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return verify.ErrNotFound
	}
	return nil
}

// MarkExpired moves a pending request to expired.
func (s *RequestStore) MarkExpired(ctx context.Context, id string) error {
	query := `UPDATE verification_requests SET status = $2 WHERE id = $1 AND status = $3`
	tag, err := s.pool.Exec(ctx, query, id, string(verify.StatusExpired), string(verify.StatusPending))
	if err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return verify.ErrNotFound
	}
	return nil
}

// RecordCrawlOutcome writes the crawl result onto a non-terminal request.
func (s *RequestStore) RecordCrawlOutcome(ctx context.Context, id string, status verify.Status, crawlerResponse string, crawledAt time.Time) error {
	query := `UPDATE verification_requests
SET status = $2, crawler_response = $3, crawled_at = $4
WHERE id = $1 AND status NOT IN ($5, $6, $7)`
	tag, err := s.pool.Exec(ctx, query,
		id,
		string(status),
		crawlerResponse,
		crawledAt,
		string(verify.StatusApproved),
		string(verify.StatusExpired),
		string(verify.StatusDenied),
	)
	if err != nil {
		return fmt.Errorf("record crawl outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return verify.ErrNotFound
	}
	return nil
}

// RecordReview applies an admin decision to a request awaiting review.
func (s *RequestStore) RecordReview(ctx context.Context, id string, status verify.Status, denialReason string, reviewedAt time.Time) error {
	query := `UPDATE verification_requests
SET status = $2, denial_reason = $3, reviewed_at = $4
WHERE id = $1 AND status = $5`
	tag, err := s.pool.Exec(ctx, query,
		id,
		string(status),
		denialReason,
		reviewedAt,
		string(verify.StatusAwaitingAdmin),
	)
	if err != nil {
		return fmt.Errorf("record review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return verify.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *RequestStore) scanRequest(row pgx.Row) (verify.VerificationRequest, error) {
	req, err := s.scanRequestRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return verify.VerificationRequest{}, verify.ErrNotFound
	}
	return req, err
}

func (s *RequestStore) scanRequestRow(row rowScanner) (verify.VerificationRequest, error) {
	var (
		req    verify.VerificationRequest
		status string
	)
	err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.ClaimCode,
		&req.TargetURL,
		&status,
		&req.SubmittedAt,
		&req.ExpiresAt,
		&req.CrawledAt,
		&req.ReviewedAt,
		&req.DenialReason,
		&req.CrawlerResponse,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return verify.VerificationRequest{}, err
		}
		return verify.VerificationRequest{}, fmt.Errorf("scan request: %w", err)
	}
	req.Status = verify.Status(status)
	return req, nil
}
