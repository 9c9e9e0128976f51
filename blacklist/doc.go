// Package blacklist tracks revoked access tokens until their natural
// expiry. An entry is pure existence: a key with a TTL equal to the
// token's remaining lifetime, so the denylist can never grow without
// bound. The presence check runs on every token verification and is
// never cached; revocation must be visible to all processes on their
// very next check.
package blacklist
