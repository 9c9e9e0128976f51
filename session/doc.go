// Package session owns the server-side login state: creation, lookup
// with lazy expiry reaping, rolling renewal, idempotent destruction, and
// per-user session caps with oldest-first eviction.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model over a
// [kv.Cache]. It does not interpret JWT tokens, evaluate roles or
// permissions, or enforce request-level policy; those belong to the
// token, rbac, and middleware layers.
//
// # Eviction order
//
// The per-user cap evicts by insertion order, not last-active order: a
// long-idle but recently created session can outlive a frequently used
// older one. Switching to least-recently-used would silently change
// user-visible session-termination behavior, so the insertion-order
// policy is kept deliberately.
package session
