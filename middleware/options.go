package middleware

import "net/http"

// DefaultCookieName is the cookie consulted when neither the
// Authorization header nor the token query parameter carries a
// credential, and the name used by the login/logout cookie helpers.
const DefaultCookieName = "Authorization"

// Options parameterizes a [Auth.Guard]. The zero value is the strictest
// common case: authentication required, no role or permission
// requirements, session validation on.
type Options struct {
	// Optional inverts the default required-auth behavior: requests
	// without a usable credential proceed with no attached context
	// instead of being rejected.
	Optional bool
	// Roles is evaluated with OR semantics: holding any one suffices.
	Roles []string
	// Permissions is evaluated with AND semantics: all must be held.
	Permissions []string
	// SkipSessionValidation trusts the token alone and never consults
	// the session store.
	SkipSessionValidation bool
	// AllowExpired accepts tokens past their expiry (signature and
	// revocation checks still apply). For token-renewal style routes.
	AllowExpired bool
	// Predicate, when set, must return true for the authenticated
	// context or the request is rejected with 403.
	Predicate func(*AuthContext) bool
	// RequireVerifiedDevice rejects sessions whose device has not
	// completed verification.
	RequireVerifiedDevice bool
	// AllowedIPs restricts the source address to the given IPs or CIDR
	// blocks.
	AllowedIPs []string
	// CookieName overrides [DefaultCookieName].
	CookieName string
}

// RequireAuth requires a valid credential and nothing more.
func (a *Auth) RequireAuth() func(http.Handler) http.Handler {
	return a.Guard(Options{})
}

// Optional authenticates when possible and proceeds anonymously
// otherwise.
func (a *Auth) Optional() func(http.Handler) http.Handler {
	return a.Guard(Options{Optional: true})
}

// RequireRoles requires any one of the given roles.
func (a *Auth) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return a.Guard(Options{Roles: roles})
}

// RequirePermissions requires every one of the given permissions.
func (a *Auth) RequirePermissions(permissions ...string) func(http.Handler) http.Handler {
	return a.Guard(Options{Permissions: permissions})
}

// RequireAdmin requires the admin role.
func (a *Auth) RequireAdmin() func(http.Handler) http.Handler {
	return a.Guard(Options{Roles: []string{"admin"}})
}

// RequirePredicate requires a custom check over the authenticated
// context.
func (a *Auth) RequirePredicate(predicate func(*AuthContext) bool) func(http.Handler) http.Handler {
	return a.Guard(Options{Predicate: predicate})
}

// RequireVerifiedDevice requires a session whose device has been
// verified.
func (a *Auth) RequireVerifiedDevice() func(http.Handler) http.Handler {
	return a.Guard(Options{RequireVerifiedDevice: true})
}

// RequireIPAllowlist requires the request source address to match one of
// the given IPs or CIDR blocks, in addition to authentication.
func (a *Auth) RequireIPAllowlist(allowed ...string) func(http.Handler) http.Handler {
	return a.Guard(Options{AllowedIPs: allowed})
}
