package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/seda-audio/artist-verifier/internal/verify"
)

// ProfileStore persists artist profiles in the artist_profiles table:
//
//	user_id TEXT PRIMARY KEY, verified BOOLEAN, verified_at TIMESTAMPTZ
type ProfileStore struct {
	pool Pool
}

// NewProfileStore constructs a ProfileStore over the given pool.
func NewProfileStore(pool Pool) (*ProfileStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProfileStore{pool: pool}, nil
}

// GetProfile returns the profile for the user, or ErrNotFound.
func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (verify.ArtistProfile, error) {
	query := `SELECT user_id, verified, verified_at FROM artist_profiles WHERE user_id = $1`
	var profile verify.ArtistProfile
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.Verified,
		&profile.VerifiedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return verify.ArtistProfile{}, verify.ErrNotFound
	}
	if err != nil {
		return verify.ArtistProfile{}, fmt.Errorf("get profile: %w", err)
	}
	return profile, nil
}

// UpsertVerified creates or updates the profile with verified=true.
func (s *ProfileStore) UpsertVerified(ctx context.Context, userID string, verifiedAt time.Time) error {
	query := `
INSERT INTO artist_profiles (user_id, verified, verified_at)
VALUES ($1, TRUE, $2)
ON CONFLICT (user_id) DO UPDATE SET verified = TRUE, verified_at = EXCLUDED.verified_at`
	if _, err := s.pool.Exec(ctx, query, userID, verifiedAt); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
