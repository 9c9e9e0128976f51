// Package authgate provides the authentication and session subsystem
// for HTTP APIs: JWT access tokens, rotating persisted refresh tokens,
// Redis-backed session lifecycle with per-user caps, token revocation
// through a time-bounded blacklist, and role/permission access control,
// composed into net/http middleware.
//
// The package is designed for concurrent server workloads: [Stack]
// methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authgate is the composition surface. It exposes [Stack], [Builder],
// [Config], and the capability interfaces; the mechanics live in the
// component packages (kv, blacklist, session, token, rbac, middleware,
// audit, janitor), each of which can also be used on its own.
//
// Dependencies are injected explicitly at construction. There is no
// process-wide registry, no dynamic service lookup, and no deferred
// loading of security-relevant code.
package authgate
