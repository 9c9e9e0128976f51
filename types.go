package authgate

import (
	"context"

	"github.com/varekai/authgate/rbac"
	"github.com/varekai/authgate/session"
	"github.com/varekai/authgate/token"
)

// TokenIssuer mints credentials. Satisfied by [token.Service].
type TokenIssuer interface {
	CreateAccessToken(input token.AccessTokenInput) (string, error)
	CreateRefreshToken(ctx context.Context, userID, sessionID string) (string, error)
}

// TokenVerifier validates credentials. Satisfied by [token.Service].
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, tokenStr string) (*token.AccessClaims, error)
	VerifyRefreshToken(ctx context.Context, tokenStr string) (*token.RefreshClaims, error)
}

// SessionRepository manages server-side login state. Satisfied by
// [session.Store].
type SessionRepository interface {
	Create(ctx context.Context, userID string, device *session.DeviceInfo, deviceID string) (*session.Session, error)
	Get(ctx context.Context, sessionID string) (*session.Session, error)
	Touch(ctx context.Context, sessionID string) error
	Destroy(ctx context.Context, sessionID string) error
	DestroyAllForUser(ctx context.Context, userID, excludeSessionID string) error
}

// Authorizer evaluates role and permission requirements. Satisfied by
// [rbac.Authorizer].
type Authorizer interface {
	HasAnyRole(userRoles, requiredRoles []string) bool
	HasAllPermissions(userPermissions, requiredPermissions []string) bool
}

// PasswordHasher is the opaque credential-hashing capability supplied by
// the host application. authgate never hashes or verifies passwords
// itself; the interface exists so callers wire their own implementation
// into login flows ahead of [Stack.Login].
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

var (
	_ TokenIssuer       = (*token.Service)(nil)
	_ TokenVerifier     = (*token.Service)(nil)
	_ SessionRepository = (*session.Store)(nil)
	_ Authorizer        = (*rbac.Authorizer)(nil)
)
