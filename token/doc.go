// Package token issues and verifies the signed credentials of the
// authentication stack: short-lived stateless access tokens carrying
// authorization claims, and longer-lived refresh tokens that are also
// persisted server-side so rotation and revocation work by deletion.
//
// # Verification contract
//
// Access token verification re-checks the blacklist on every call, with
// no local caching, so a revocation made by one process is visible to
// every other process on its next check. Refresh token verification
// additionally requires the presented token to exactly match the stored
// value, which covers both expiry-by-eviction and replay of an already
// rotated token.
//
// # Rotation
//
// Refresh rotation is revoke-old then mint-new as two separate store
// operations, deliberately not a transaction: a crash between them can
// force a re-login but can never leave two simultaneously valid refresh
// tokens for one session, because the new token's write supersedes the
// same key.
package token
