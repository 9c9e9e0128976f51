// Package kv defines the key-value cache capability consumed by the
// session, blacklist, and token layers, plus the Redis-backed adapter.
//
// # Architecture boundaries
//
// The [Cache] interface is the only storage contract the rest of the
// module depends on: TTL-aware get/set/delete, existence checks, and
// pattern enumeration over single keys. The adapter never exposes the
// underlying Redis client upward, and callers never assume multi-key
// transactions; atomicity is guaranteed per key only.
package kv
