package blacklist

import (
	"context"
	"errors"
	"time"

	"github.com/varekai/authgate/kv"
)

// KeyPrefix namespaces blacklist entries in the shared cache.
const KeyPrefix = "jwt:blacklist:"

// minTTL is the floor for blacklist entries. A token expiring within the
// same second must still be stored, never with a zero or negative TTL.
const minTTL = time.Second

const sentinel = "1"

// Store is the revoked-token denylist over a [kv.Cache].
type Store struct {
	cache kv.Cache
}

// NewStore returns a blacklist [Store] backed by the given cache.
func NewStore(cache kv.Cache) *Store {
	return &Store{cache: cache}
}

func key(token string) string {
	return KeyPrefix + token
}

// Add blacklists a token until expiresAt. Blacklisting an already
// expired token is a no-op success: the token is unusable either way.
func (s *Store) Add(ctx context.Context, token string, expiresAt time.Time) error {
	remaining := time.Until(expiresAt)
	if remaining <= 0 {
		return nil
	}
	if remaining < minTTL {
		remaining = minTTL
	}
	return s.cache.Set(ctx, key(token), sentinel, remaining)
}

// Contains reports whether the token has been revoked. A [kv.ErrNotFound]
// from the cache means "not blacklisted"; transport failures propagate so
// the caller can apply its fail-open or fail-closed policy.
func (s *Store) Contains(ctx context.Context, token string) (bool, error) {
	ok, err := s.cache.Exists(ctx, key(token))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// Remove drops a blacklist entry early. Idempotent; used by maintenance
// jobs, never by the request path.
func (s *Store) Remove(ctx context.Context, token string) error {
	return s.cache.Delete(ctx, key(token))
}
