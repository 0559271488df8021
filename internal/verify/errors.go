package verify

import "errors"

// Sentinel errors surfaced synchronously by the verification service.
// Everything that happens inside the detached crawl is recorded on the
// request row instead, never returned to a caller.
var (
	// ErrRateLimited means the user exceeded the daily request quota.
	ErrRateLimited = errors.New("verification request rate limit exceeded")

	// ErrConflict means the user already has an active request.
	ErrConflict = errors.New("an active verification request already exists")

	// ErrNotFound means no request matches the caller and identifiers given.
	ErrNotFound = errors.New("verification request not found")

	// ErrExpired means the claim code passed its submission deadline.
	ErrExpired = errors.New("claim code has expired")

	// ErrInvalidURL means the submitted URL failed validation.
	ErrInvalidURL = errors.New("invalid target url")

	// ErrNotReviewable means an admin decision was attempted on a request
	// that is not awaiting review.
	ErrNotReviewable = errors.New("request is not awaiting admin review")
)
