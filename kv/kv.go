package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by [Cache.Get] and [Cache.TTL] when the key
// does not exist or has already expired.
var ErrNotFound = errors.New("kv: key not found")

// ErrUnavailable wraps transport-level failures of the underlying store.
// Callers use errors.Is to distinguish infrastructure outages from
// ordinary misses.
var ErrUnavailable = errors.New("kv: store unavailable")

// Cache is the TTL-aware object store capability required by the
// authentication stack. Implementations must be safe for concurrent use
// and must honor context cancellation on every call.
type Cache interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value at key. A ttl of zero or less stores the key
	// without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Keys enumerates keys matching a glob pattern. O(n) over the
	// keyspace; maintenance use only, never on request hot paths.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// TTL returns the remaining lifetime of key, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Expire resets the lifetime of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
