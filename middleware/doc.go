// Package middleware exposes net/http adapters that turn an incoming
// request carrying a bearer credential into a pass/reject decision.
//
// # Request state machine
//
// Every guarded request walks the same path: credential extraction
// (Authorization header, then token query parameter, then cookie),
// access token verification with its mandatory blacklist check, session
// lookup and touch, and role/permission evaluation. Success attaches an
// [AuthContext] to the request; failure writes a structured JSON
// rejection with status 401, 403, or 500.
//
// # Guards
//
// All higher-level forms (RequireAuth, RequireRoles, RequireAdmin,
// RequirePredicate, RequireVerifiedDevice, RequireIPAllowlist, Optional)
// are thin parameterizations of [Auth.Guard], never separate
// implementations.
//
// Optional guards degrade gracefully: a missing or malformed credential
// proceeds with no attached context instead of surfacing an error to a
// route that allows anonymous access.
package middleware
