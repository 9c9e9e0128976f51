package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/varekai/authgate/rbac"
	"github.com/varekai/authgate/session"
	"github.com/varekai/authgate/token"
)

// TokenVerifier is the slice of the token service the guard needs.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, tokenStr string) (*token.AccessClaims, error)
}

// SessionRepository is the slice of the session store the guard needs.
type SessionRepository interface {
	Get(ctx context.Context, sessionID string) (*session.Session, error)
	Touch(ctx context.Context, sessionID string) error
}

// Authorizer evaluates role and permission requirements.
type Authorizer interface {
	HasAnyRole(userRoles, requiredRoles []string) bool
	HasAllPermissions(userPermissions, requiredPermissions []string) bool
}

// AuthContext is the authenticated request state attached on success.
type AuthContext struct {
	UserID      string
	SessionID   string
	Roles       []string
	Permissions []string
	UserData    map[string]any
	DeviceID    string
	IPAddress   string
	UserAgent   string
}

type authContextKey struct{}

// FromContext returns the [AuthContext] attached by a guard, if any.
func FromContext(ctx context.Context) (*AuthContext, bool) {
	authCtx, ok := ctx.Value(authContextKey{}).(*AuthContext)
	return authCtx, ok
}

// Rejection reason codes written into the error field of the JSON body.
const (
	ReasonNoToken                = "NO_TOKEN"
	ReasonTokenInvalid           = "TOKEN_INVALID"
	ReasonTokenExpired           = "TOKEN_EXPIRED"
	ReasonTokenBlacklisted       = "TOKEN_BLACKLISTED"
	ReasonWrongTokenType         = "WRONG_TOKEN_TYPE"
	ReasonSessionMissing         = "SESSION_MISSING"
	ReasonSessionExpired         = "SESSION_EXPIRED"
	ReasonInsufficientRole       = "INSUFFICIENT_ROLE"
	ReasonInsufficientPermission = "INSUFFICIENT_PERMISSION"
	ReasonDeviceNotVerified      = "DEVICE_NOT_VERIFIED"
	ReasonIPNotAllowed           = "IP_NOT_ALLOWED"
	ReasonStoreUnavailable       = "STORE_UNAVAILABLE"
	ReasonInternal               = "INTERNAL_ERROR"
)

// ErrorResponse is the stable JSON shape of every rejection. No stack
// traces, no secrets.
type ErrorResponse struct {
	Error      string    `json:"error"`
	Message    string    `json:"message"`
	StatusCode int       `json:"statusCode"`
	Timestamp  time.Time `json:"timestamp"`
}

type rejection struct {
	status  int
	reason  string
	message string
}

// Auth builds guards over the token, session, and rbac layers. All
// dependencies are injected once at construction; there is no global
// registry.
type Auth struct {
	tokens     TokenVerifier
	sessions   SessionRepository
	authorizer Authorizer
	log        *logrus.Logger
}

// New constructs an [Auth]. authorizer may be nil, defaulting to
// [rbac.New]; a nil logger falls back to a default logrus logger.
func New(tokens TokenVerifier, sessions SessionRepository, authorizer Authorizer, log *logrus.Logger) *Auth {
	if authorizer == nil {
		authorizer = rbac.New()
	}
	if log == nil {
		log = logrus.New()
	}
	return &Auth{
		tokens:     tokens,
		sessions:   sessions,
		authorizer: authorizer,
		log:        log,
	}
}

// Guard returns middleware running the request state machine with the
// given options. Every higher-level guard is a parameterization of this
// one.
func (a *Auth) Guard(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, rej := a.safeAuthenticate(r, opts)
			if rej != nil {
				a.reject(w, *rej)
				return
			}
			if authCtx != nil {
				r = r.WithContext(context.WithValue(r.Context(), authContextKey{}, authCtx))
			}
			// outside the recovered region: a panic in the downstream
			// handler propagates to the server, never back into the guard
			next.ServeHTTP(w, r)
		})
	}
}

// safeAuthenticate owns the panic recovery for the authentication steps
// only. A panic here degrades to a 500 rejection, or to anonymous
// pass-through under optional auth.
func (a *Auth) safeAuthenticate(r *http.Request, opts Options) (authCtx *AuthContext, rej *rejection) {
	defer func() {
		if v := recover(); v != nil {
			a.log.WithField("panic", v).Error("auth guard panic")
			authCtx = nil
			if opts.Optional {
				rej = nil
				return
			}
			rej = &rejection{http.StatusInternalServerError, ReasonInternal, "authentication failed"}
		}
	}()
	return a.authenticate(r, opts)
}

// authenticate walks steps 1-6 of the state machine. A nil rejection
// with a nil context means "proceed unauthenticated" (optional auth).
func (a *Auth) authenticate(r *http.Request, opts Options) (*AuthContext, *rejection) {
	ctx := r.Context()

	tokenStr, found := extractToken(r, opts.cookieName())
	if !found {
		if opts.Optional {
			return nil, nil
		}
		return nil, &rejection{http.StatusUnauthorized, ReasonNoToken, "authentication required"}
	}

	claims, err := a.tokens.VerifyAccessToken(ctx, tokenStr)
	if err != nil && !(opts.AllowExpired && errors.Is(err, token.ErrExpired)) {
		// optional auth treats a bad credential as no credential
		if opts.Optional {
			return nil, nil
		}
		return nil, verifyRejection(err)
	}

	var sess *session.Session
	if !opts.SkipSessionValidation && claims.SessionID != "" {
		var rej *rejection
		sess, rej = a.validateSession(ctx, claims.SessionID, opts)
		if rej != nil {
			if opts.Optional {
				return nil, nil
			}
			return nil, rej
		}
	}

	authCtx := &AuthContext{
		UserID:      claims.UserID,
		SessionID:   claims.SessionID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		UserData:    claims.UserData,
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
	}
	if sess != nil {
		authCtx.DeviceID = sess.DeviceID
	}

	if !a.authorizer.HasAnyRole(authCtx.Roles, opts.Roles) {
		return nil, &rejection{http.StatusForbidden, ReasonInsufficientRole, "role requirement not met"}
	}
	if !a.authorizer.HasAllPermissions(authCtx.Permissions, opts.Permissions) {
		return nil, &rejection{http.StatusForbidden, ReasonInsufficientPermission, "permission requirement not met"}
	}
	if opts.Predicate != nil && !opts.Predicate(authCtx) {
		return nil, &rejection{http.StatusForbidden, ReasonInsufficientPermission, "request not permitted"}
	}
	if len(opts.AllowedIPs) > 0 && !ipAllowed(authCtx.IPAddress, opts.AllowedIPs) {
		return nil, &rejection{http.StatusForbidden, ReasonIPNotAllowed, "source address not allowed"}
	}

	return authCtx, nil
}

func (a *Auth) validateSession(ctx context.Context, sessionID string, opts Options) (*session.Session, *rejection) {
	sess, err := a.sessions.Get(ctx, sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return nil, &rejection{http.StatusUnauthorized, ReasonSessionMissing, "session not found"}
	case errors.Is(err, session.ErrExpired):
		// the store destroyed the stale record during the lookup
		return nil, &rejection{http.StatusUnauthorized, ReasonSessionExpired, "session expired"}
	case err != nil:
		// the session store is the source of truth for active logins:
		// an unreachable store always fails closed
		a.log.WithError(err).Warn("session lookup failed")
		return nil, &rejection{http.StatusUnauthorized, ReasonStoreUnavailable, "session validation unavailable"}
	}

	if opts.RequireVerifiedDevice && !sess.DeviceVerified {
		return nil, &rejection{http.StatusForbidden, ReasonDeviceNotVerified, "device verification required"}
	}

	if err := a.sessions.Touch(ctx, sessionID); err != nil {
		// activity bookkeeping; never fail the request over it
		a.log.WithError(err).WithField("session_id", sessionID).Warn("session touch failed")
	}
	return sess, nil
}

func verifyRejection(err error) *rejection {
	switch {
	case errors.Is(err, token.ErrBlacklisted):
		return &rejection{http.StatusUnauthorized, ReasonTokenBlacklisted, "token revoked"}
	case errors.Is(err, token.ErrExpired):
		return &rejection{http.StatusUnauthorized, ReasonTokenExpired, "token expired"}
	case errors.Is(err, token.ErrWrongType):
		return &rejection{http.StatusUnauthorized, ReasonWrongTokenType, "wrong token type"}
	case errors.Is(err, token.ErrMalformed):
		return &rejection{http.StatusUnauthorized, ReasonTokenInvalid, "invalid token"}
	default:
		return &rejection{http.StatusInternalServerError, ReasonInternal, "authentication failed"}
	}
}

func (a *Auth) reject(w http.ResponseWriter, rej rejection) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rej.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:      rej.reason,
		Message:    rej.message,
		StatusCode: rej.status,
		Timestamp:  time.Now().UTC(),
	})
}

func (o Options) cookieName() string {
	if o.CookieName != "" {
		return o.CookieName
	}
	return DefaultCookieName
}

// extractToken applies the fixed credential precedence: Authorization
// header, then token query parameter, then cookie. First match wins.
func extractToken(r *http.Request, cookieName string) (string, bool) {
	const bearer = "Bearer "
	if value := r.Header.Get("Authorization"); strings.HasPrefix(value, bearer) && len(value) > len(bearer) {
		return value[len(bearer):], true
	}
	if value := r.URL.Query().Get("token"); value != "" {
		return value, true
	}
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.IndexByte(forwarded, ','); idx >= 0 {
			forwarded = forwarded[:idx]
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipAllowed(addr string, allowed []string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, entry := range allowed {
		if strings.ContainsRune(entry, '/') {
			if _, network, err := net.ParseCIDR(entry); err == nil && network.Contains(ip) {
				return true
			}
			continue
		}
		if other := net.ParseIP(entry); other != nil && other.Equal(ip) {
			return true
		}
	}
	return false
}
