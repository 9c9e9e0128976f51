// Package rbac evaluates role and permission requirements against the
// claims already embedded in an access token. Evaluation is pure: no
// store lookups, no allocation beyond the inputs.
//
// The two default policies are deliberately asymmetric and must not be
// unified: roles use OR semantics (any one required role suffices) while
// permissions use AND semantics (every required permission must be
// held). Inverting either silently changes access decisions.
package rbac

// Authorizer evaluates role and permission requirements. The zero value
// is ready to use.
type Authorizer struct{}

// New returns an [Authorizer].
func New() *Authorizer {
	return &Authorizer{}
}

// HasAnyRole reports whether the user holds at least one of the required
// roles. An empty requirement always passes.
func (a *Authorizer) HasAnyRole(userRoles, requiredRoles []string) bool {
	if len(requiredRoles) == 0 {
		return true
	}
	held := make(map[string]struct{}, len(userRoles))
	for _, role := range userRoles {
		held[role] = struct{}{}
	}
	for _, required := range requiredRoles {
		if _, ok := held[required]; ok {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether the user holds every required
// permission. An empty requirement always passes.
func (a *Authorizer) HasAllPermissions(userPermissions, requiredPermissions []string) bool {
	if len(requiredPermissions) == 0 {
		return true
	}
	held := make(map[string]struct{}, len(userPermissions))
	for _, permission := range userPermissions {
		held[permission] = struct{}{}
	}
	for _, required := range requiredPermissions {
		if _, ok := held[required]; !ok {
			return false
		}
	}
	return true
}
