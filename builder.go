package authgate

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/varekai/authgate/audit"
	"github.com/varekai/authgate/blacklist"
	"github.com/varekai/authgate/kv"
	"github.com/varekai/authgate/middleware"
	"github.com/varekai/authgate/rbac"
	"github.com/varekai/authgate/session"
	"github.com/varekai/authgate/token"
)

// Builder wires the token, session, rbac, audit, and middleware layers
// into a [Stack]. Configure it during initialization, call Build once,
// and treat the result as immutable.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	cache  kv.Cache
	log    *logrus.Logger
	sink   audit.Sink

	built bool
}

// New returns a Builder seeded with defaults. At minimum a signing
// secret and a Redis client (or cache) must be supplied before Build.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the builder's configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithSecret sets the HS256 signing key without replacing the rest of
// the configuration.
func (b *Builder) WithSecret(secret []byte) *Builder {
	b.config.Token.Secret = secret
	return b
}

// WithRedis supplies the Redis client backing every store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCache supplies a [kv.Cache] directly, bypassing WithRedis. Meant
// for tests and alternative backends.
func (b *Builder) WithCache(cache kv.Cache) *Builder {
	b.cache = cache
	return b
}

// WithLogger sets the logger shared by every component. Defaults to a
// fresh logrus logger.
func (b *Builder) WithLogger(log *logrus.Logger) *Builder {
	b.log = log
	return b
}

// WithAuditSink sets the delivery target for audit events. Without one,
// events are still persisted to the cache but not dispatched.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.sink = sink
	return b
}

// Build validates the configuration and constructs the [Stack]. Every
// component is created exactly once here and injected by reference;
// there is no global registry and no lazy initialization.
func (b *Builder) Build() (*Stack, error) {
	if b.built {
		return nil, errors.New("authgate: builder already used")
	}
	b.built = true

	cache := b.cache
	if cache == nil {
		if b.redis == nil {
			return nil, ErrMissingRedis
		}
		cache = kv.NewRedis(b.redis)
	}

	if err := b.config.validate(); err != nil {
		return nil, err
	}

	log := b.log
	if log == nil {
		log = logrus.New()
	}

	sink := b.sink
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	dispatcher := audit.NewDispatcher(b.config.Audit, sink)
	recorder := audit.NewRecorder(dispatcher, cache, b.config.AuditRetention, log)

	tokens, err := token.NewService(b.config.Token, cache, blacklist.NewStore(cache), log)
	if err != nil {
		return nil, err
	}
	sessions := session.NewStore(cache, b.config.Session, recorder, log)
	// cap eviction must also kill the evicted session's refresh token
	sessions.WithRefreshRevoker(tokens)
	authorizer := rbac.New()

	return &Stack{
		Tokens:     tokens,
		Sessions:   sessions,
		Authorizer: authorizer,
		Middleware: middleware.New(tokens, sessions, authorizer, log),
		Audit:      recorder,
		log:        log,
		ready:      true,
	}, nil
}

// Stack is the assembled subsystem. The exported fields expose each
// layer for direct use; the methods below orchestrate the common
// login, refresh, and logout flows across layers.
type Stack struct {
	Tokens     *token.Service
	Sessions   *session.Store
	Authorizer *rbac.Authorizer
	Middleware *middleware.Auth
	Audit      *audit.Recorder

	log   *logrus.Logger
	ready bool
}

// LoginInput carries the identity and authorization data of a user who
// has already been authenticated by the caller. The stack does not
// verify credentials; it mints sessions and tokens for identities the
// host application vouches for.
type LoginInput struct {
	UserID      string
	Roles       []string
	Permissions []string
	UserData    map[string]any

	// Device describes the client. When nil, one is synthesized from
	// the IP and user agent attached to ctx, if any.
	Device *session.DeviceInfo
	// DeviceID pins the session to a known device. Empty means a new
	// id is generated when device info is present.
	DeviceID string
}

// Credentials is the result of a successful login.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Session      *session.Session
}

// Login creates a session for the user and mints an access/refresh
// token pair bound to it. Session creation failures abort before any
// token is signed.
func (s *Stack) Login(ctx context.Context, input LoginInput) (*Credentials, error) {
	if !s.ready {
		return nil, ErrNotReady
	}
	if input.UserID == "" {
		return nil, errors.New("authgate: login requires a user id")
	}

	device := input.Device
	if device == nil {
		ip := clientIPFromContext(ctx)
		ua := userAgentFromContext(ctx)
		if ip != "" || ua != "" {
			device = &session.DeviceInfo{IPAddress: ip, UserAgent: ua}
		}
	}

	sess, err := s.Sessions.Create(ctx, input.UserID, device, input.DeviceID)
	if err != nil {
		return nil, err
	}

	access, err := s.Tokens.IssueAccessToken(ctx, token.AccessTokenInput{
		UserID:      input.UserID,
		SessionID:   sess.SessionID,
		Roles:       input.Roles,
		Permissions: input.Permissions,
		UserData:    input.UserData,
	})
	if err != nil {
		return nil, err
	}

	refresh, err := s.Tokens.CreateRefreshToken(ctx, input.UserID, sess.SessionID)
	if err != nil {
		return nil, err
	}

	return &Credentials{AccessToken: access, RefreshToken: refresh, Session: sess}, nil
}

// Refresh exchanges a refresh token for a new token pair and touches
// the backing session so activity tracking stays accurate. auth carries
// the authorization data embedded into the new access token.
func (s *Stack) Refresh(ctx context.Context, refreshToken string, auth token.RefreshAuthorization) (*token.Pair, error) {
	if !s.ready {
		return nil, ErrNotReady
	}

	claims, err := s.Tokens.VerifyRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if _, err := s.Sessions.Get(ctx, claims.SessionID); err != nil {
		return nil, err
	}

	pair, err := s.Tokens.RefreshTokens(ctx, refreshToken, auth)
	if err != nil {
		return nil, err
	}

	if err := s.Sessions.Touch(ctx, claims.SessionID); err != nil {
		s.log.WithError(err).WithField("session_id", claims.SessionID).
			Warn("authgate: session touch after refresh failed")
	}
	return pair, nil
}

// Logout tears down a single session: the access token is blacklisted
// for its remaining lifetime, the session's refresh token is revoked,
// and the session record is destroyed. Expired access tokens are
// accepted so a client can always log out.
func (s *Stack) Logout(ctx context.Context, accessToken string) error {
	if !s.ready {
		return ErrNotReady
	}

	claims, err := s.Tokens.VerifyAccessToken(ctx, accessToken)
	if err != nil && !errors.Is(err, token.ErrExpired) {
		return err
	}

	if err := s.Tokens.BlacklistToken(ctx, accessToken); err != nil && !errors.Is(err, token.ErrNoExpiry) {
		return err
	}
	if claims.SessionID == "" {
		return nil
	}
	if err := s.Tokens.RevokeSessionRefreshToken(ctx, claims.UserID, claims.SessionID); err != nil {
		return err
	}
	return s.Sessions.Destroy(ctx, claims.SessionID)
}

// LogoutAll revokes everything a user holds: all tracked access tokens
// are blacklisted, all refresh tokens are revoked, and every session is
// destroyed.
func (s *Stack) LogoutAll(ctx context.Context, userID string) error {
	if !s.ready {
		return ErrNotReady
	}

	if _, err := s.Tokens.BlacklistUserTokens(ctx, userID); err != nil {
		return err
	}
	if err := s.Tokens.RevokeAllRefreshTokens(ctx, userID); err != nil {
		return err
	}
	return s.Sessions.DestroyAllForUser(ctx, userID, "")
}

// Close drains and stops the audit pipeline. Call once on shutdown.
func (s *Stack) Close() {
	if s.Audit != nil {
		s.Audit.Close()
	}
}
