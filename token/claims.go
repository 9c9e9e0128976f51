package token

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token type discriminators carried in the "type" claim. A token of the
// wrong type is rejected even when its signature and expiry are valid.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// AccessClaims is the payload of a stateless access token. Authorization
// data (roles, permissions, arbitrary user data) rides inside the token
// so RBAC checks need no extra lookup.
type AccessClaims struct {
	UserID      string         `json:"userId"`
	SessionID   string         `json:"sessionId,omitempty"`
	Roles       []string       `json:"roles,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
	UserData    map[string]any `json:"userData,omitempty"`
	TokenType   string         `json:"type"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. Nonce guarantees
// uniqueness across rotations of the same (user, session) pair; the
// authorization data of the paired access token is deliberately absent
// and must be re-supplied by the caller on refresh.
type RefreshClaims struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	TokenType string `json:"type"`
	Nonce     string `json:"nonce"`
	jwt.RegisteredClaims
}

// Pair bundles the credentials returned by a login or refresh.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// AccessTokenInput is the caller-supplied material for a new access
// token.
type AccessTokenInput struct {
	UserID      string
	SessionID   string
	Roles       []string
	Permissions []string
	UserData    map[string]any
}

// RefreshAuthorization carries the authorization data embedded into the
// new access token during a refresh. Refresh tokens do not store these
// claims, so the call site re-supplies them, typically from a freshly
// read user record or from the old access token's claims. Claims can
// legitimately change between issuances; this is the documented contract,
// not an oversight.
type RefreshAuthorization struct {
	Roles       []string
	Permissions []string
	UserData    map[string]any
}
