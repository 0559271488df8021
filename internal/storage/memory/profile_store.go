package memory

import (
	"context"
	"sync"
	"time"

	"github.com/seda-audio/artist-verifier/internal/verify"
)

// ProfileStore keeps artist profiles in-memory.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]verify.ArtistProfile
}

// NewProfileStore constructs a ProfileStore.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		profiles: make(map[string]verify.ArtistProfile),
	}
}

// GetProfile returns the profile for the user, or ErrNotFound.
func (s *ProfileStore) GetProfile(_ context.Context, userID string) (verify.ArtistProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return verify.ArtistProfile{}, verify.ErrNotFound
	}
	return profile, nil
}

// UpsertVerified creates or updates the profile with verified=true.
func (s *ProfileStore) UpsertVerified(_ context.Context, userID string, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = verify.ArtistProfile{
		UserID:     userID,
		Verified:   true,
		VerifiedAt: &verifiedAt,
	}
	return nil
}
