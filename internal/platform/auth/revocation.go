package auth

import (
	"context"
	"time"

	"github.com/clinica/turnos/internal/platform/cache"
)

// RevocationStore tracks token ids ended by logout. Entries live in the
// cache until the token would have expired on its own.
type RevocationStore struct {
	cache cache.Cache
	now   func() time.Time
}

func NewRevocationStore(c cache.Cache) *RevocationStore {
	return &RevocationStore{cache: c, now: time.Now}
}

func revocationKey(jti string) string { return "revoked:" + jti }

// Revoke marks jti as revoked until expiresAt. A zero expiry keeps the
// entry for an hour.
func (s *RevocationStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Hour
	if !expiresAt.IsZero() {
		ttl = expiresAt.Sub(s.now())
	}
	if ttl <= 0 {
		return nil
	}
	return s.cache.Set(ctx, revocationKey(jti), "1", ttl)
}

func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, ok, err := s.cache.Get(ctx, revocationKey(jti))
	return ok, err
}
