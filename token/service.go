package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/varekai/authgate/blacklist"
	"github.com/varekai/authgate/kv"
)

var (
	// ErrSigningMisconfigured means the signing secret is absent or
	// unusable. This is a startup-class failure: issuance aborts rather
	// than silently producing unverifiable tokens.
	ErrSigningMisconfigured = errors.New("token signing misconfigured")
	// ErrMalformed covers structurally invalid tokens and signature
	// failures.
	ErrMalformed = errors.New("malformed token")
	// ErrExpired is returned for tokens past their expiry. The parsed
	// claims are still returned alongside it so callers that tolerate
	// expiry (allowExpired routes) can proceed.
	ErrExpired = errors.New("token expired")
	// ErrBlacklisted is returned for revoked tokens whose signature and
	// expiry would otherwise pass.
	ErrBlacklisted = errors.New("token blacklisted")
	// ErrWrongType is returned when an access token is presented where a
	// refresh token is expected, or vice versa.
	ErrWrongType = errors.New("wrong token type")
	// ErrRefreshInvalid covers every expected refresh failure: bad
	// signature, expiry, rotation replay, and missing server-side record.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshCreation is returned when the server-side persistence of
	// a new refresh token fails; the signed token is not returned.
	ErrRefreshCreation = errors.New("refresh token creation failed")
	// ErrNoExpiry is returned when a token offered for blacklisting
	// carries no exp claim to derive the entry TTL from.
	ErrNoExpiry = errors.New("token has no expiry claim")
)

// Cache key prefixes owned by this package.
const (
	refreshKeyPrefix = "refresh:"
	issuedKeyPrefix  = "jwt:issued:"
)

// FailurePolicy decides what a blacklist check does when the store is
// unreachable.
type FailurePolicy int

const (
	// FailOpen treats an unreachable blacklist as "not blacklisted",
	// prioritizing availability. This is the default.
	FailOpen FailurePolicy = iota
	// FailClosed rejects the token when the blacklist cannot be
	// consulted.
	FailClosed
)

// Config holds the signing and lifetime settings of the [Service].
type Config struct {
	// Secret is the HS256 signing key. Required.
	Secret []byte
	// Issuer and Audience are validated on every verify call when set.
	Issuer   string
	Audience string
	// AccessTTL defaults to 1h, RefreshTTL to 168h.
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Leeway tolerates small clock skew during validation.
	Leeway time.Duration
	// DisableRotation keeps the same refresh token across refreshes.
	// Rotation is on by default.
	DisableRotation bool
	// BlacklistPolicy applies when the blacklist store is unreachable
	// during verification. Session lookups are always fail-closed; this
	// knob covers the blacklist check only.
	BlacklistPolicy FailurePolicy
}

// Service issues and verifies access and refresh tokens, orchestrates
// refresh rotation, and delegates revocation checks to the blacklist.
type Service struct {
	cfg       Config
	cache     kv.Cache
	blacklist *blacklist.Store
	log       *logrus.Logger
}

// NewService validates cfg and builds a [Service]. A missing secret is
// [ErrSigningMisconfigured] and is never degraded into a warning.
func NewService(cfg Config, cache kv.Cache, bl *blacklist.Store, log *logrus.Logger) (*Service, error) {
	if log == nil {
		log = logrus.New()
	}
	if len(cfg.Secret) == 0 {
		log.Error("token: signing secret missing, refusing to start")
		return nil, ErrSigningMisconfigured
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.Leeway < 0 {
		return nil, errors.New("token: negative leeway")
	}

	return &Service{
		cfg:       cfg,
		cache:     cache,
		blacklist: bl,
		log:       log,
	}, nil
}

func refreshKey(userID, sessionID string) string {
	return refreshKeyPrefix + userID + ":" + sessionID
}

func issuedKey(userID, tokenID string) string {
	return issuedKeyPrefix + userID + ":" + tokenID
}

// CreateAccessToken signs a short-lived access token embedding the
// input's authorization data. Pure function of input, secret, and clock.
func (s *Service) CreateAccessToken(input AccessTokenInput) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UserID:      input.UserID,
		SessionID:   input.SessionID,
		Roles:       input.Roles,
		Permissions: input.Permissions,
		UserData:    input.UserData,
		TokenType:   TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
			Issuer:    s.cfg.Issuer,
		},
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningMisconfigured, err)
	}
	return signed, nil
}

// IssueAccessToken creates an access token and records it in the user's
// tracked-token set so administrative bulk revocation can find it later.
func (s *Service) IssueAccessToken(ctx context.Context, input AccessTokenInput) (string, error) {
	signed, err := s.CreateAccessToken(input)
	if err != nil {
		return "", err
	}

	// the trailing segment of a JWT is its signature, unique per token
	tokenID := signed[strings.LastIndexByte(signed, '.')+1:]
	if err := s.cache.Set(ctx, issuedKey(input.UserID, tokenID), signed, s.cfg.AccessTTL); err != nil {
		// tracking is bookkeeping, not a security property
		s.log.WithError(err).WithField("user_id", input.UserID).Warn("token: issued-token tracking failed")
	}
	return signed, nil
}

// CreateRefreshToken signs a refresh token with a random nonce and
// persists it under refresh:<userID>:<sessionID>. All-or-nothing: when
// the write fails the signed token is not returned.
func (s *Service) CreateRefreshToken(ctx context.Context, userID, sessionID string) (string, error) {
	now := time.Now()
	claims := RefreshClaims{
		UserID:    userID,
		SessionID: sessionID,
		TokenType: TypeRefresh,
		Nonce:     uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.RefreshTTL)),
			Issuer:    s.cfg.Issuer,
		},
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningMisconfigured, err)
	}

	if err := s.cache.Set(ctx, refreshKey(userID, sessionID), signed, s.cfg.RefreshTTL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshCreation, err)
	}
	return signed, nil
}

func (s *Service) parserOptions() []jwt.ParserOption {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if s.cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(s.cfg.Leeway))
	}
	if s.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.cfg.Issuer))
	}
	if s.cfg.Audience != "" {
		options = append(options, jwt.WithAudience(s.cfg.Audience))
	}
	return options
}

// VerifyAccessToken checks structure, signature, expiry, revocation, and
// token type, in that order. The blacklist is consulted on every call;
// revocation must take effect immediately for all subsequent requests.
//
// An expired but otherwise valid token returns its claims together with
// [ErrExpired] so allowExpired callers can still read them.
func (s *Service) VerifyAccessToken(ctx context.Context, tokenStr string) (*AccessClaims, error) {
	parser := jwt.NewParser(s.parserOptions()...)
	parsed, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, s.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && parsed != nil {
			if claims, ok := parsed.Claims.(*AccessClaims); ok && claims.TokenType == TypeAccess {
				// revocation applies to expired tokens too; allowExpired
				// callers must never accept a blacklisted credential
				if blErr := s.checkBlacklist(ctx, tokenStr); blErr != nil {
					return nil, blErr
				}
				return claims, ErrExpired
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}

	if err := s.checkBlacklist(ctx, tokenStr); err != nil {
		return nil, err
	}

	if claims.TokenType != TypeAccess {
		return nil, ErrWrongType
	}
	return claims, nil
}

// checkBlacklist consults the denylist, applying the configured failure
// policy when the store is unreachable.
func (s *Service) checkBlacklist(ctx context.Context, tokenStr string) error {
	revoked, err := s.blacklist.Contains(ctx, tokenStr)
	if err != nil {
		if s.cfg.BlacklistPolicy == FailClosed {
			return err
		}
		s.log.WithError(err).Warn("token: blacklist unreachable, failing open")
		return nil
	}
	if revoked {
		return ErrBlacklisted
	}
	return nil
}

// VerifyRefreshToken checks signature, expiry, and type, then requires
// the presented token to exactly match the stored value for its
// (user, session) pair. A missing or different stored value is invalid:
// it covers expiry-by-eviction and replay of a rotated token alike.
func (s *Service) VerifyRefreshToken(ctx context.Context, tokenStr string) (*RefreshClaims, error) {
	parser := jwt.NewParser(s.parserOptions()...)
	parsed, err := parser.ParseWithClaims(tokenStr, &RefreshClaims{}, s.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshInvalid, err)
	}

	claims, ok := parsed.Claims.(*RefreshClaims)
	if !ok || !parsed.Valid {
		return nil, ErrRefreshInvalid
	}
	if claims.TokenType != TypeRefresh {
		return nil, fmt.Errorf("%w: %v", ErrRefreshInvalid, ErrWrongType)
	}

	stored, err := s.cache.Get(ctx, refreshKey(claims.UserID, claims.SessionID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrRefreshInvalid
		}
		// refresh state is the source of truth here: always fail closed
		return nil, err
	}
	if stored != tokenStr {
		return nil, ErrRefreshInvalid
	}

	return claims, nil
}

// RefreshTokens exchanges a refresh token for a new access token using
// the caller-supplied authorization data. With rotation enabled (the
// default) the old refresh token is revoked and a fresh one minted; with
// rotation disabled the same refresh token is returned unchanged.
//
// Expected failures return a nil pair with [ErrRefreshInvalid]; the
// caller distinguishes "could not refresh" from "refreshed" by the nil
// result.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string, auth RefreshAuthorization) (*Pair, error) {
	claims, err := s.VerifyRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	accessToken, err := s.IssueAccessToken(ctx, AccessTokenInput{
		UserID:      claims.UserID,
		SessionID:   claims.SessionID,
		Roles:       auth.Roles,
		Permissions: auth.Permissions,
		UserData:    auth.UserData,
	})
	if err != nil {
		return nil, err
	}

	if s.cfg.DisableRotation {
		return &Pair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
	}

	// revoke-old then mint-new; the new write supersedes the same key,
	// so a crash in between forces a re-login but never leaves two
	// valid refresh tokens
	if err := s.cache.Delete(ctx, refreshKey(claims.UserID, claims.SessionID)); err != nil {
		return nil, err
	}
	next, err := s.CreateRefreshToken(ctx, claims.UserID, claims.SessionID)
	if err != nil {
		return nil, err
	}

	return &Pair{AccessToken: accessToken, RefreshToken: next}, nil
}

// BlacklistToken revokes an access token for the remainder of its
// natural lifetime. The token is decoded without signature verification:
// it either already passed verification upstream or is being revoked
// defensively, and only exp matters here. A token with no exp claim is
// [ErrNoExpiry]; an already expired token is a no-op success.
func (s *Service) BlacklistToken(ctx context.Context, tokenStr string) error {
	expiresAt, err := unverifiedExpiry(tokenStr)
	if err != nil {
		return err
	}
	return s.blacklist.Add(ctx, tokenStr, expiresAt)
}

// RevokeRefreshToken deletes the persisted record for the presented
// refresh token. Idempotent.
func (s *Service) RevokeRefreshToken(ctx context.Context, tokenStr string) error {
	claims := &RefreshClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshInvalid, err)
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return ErrRefreshInvalid
	}
	return s.cache.Delete(ctx, refreshKey(claims.UserID, claims.SessionID))
}

// RevokeSessionRefreshToken deletes the persisted refresh token of a
// single session without needing the token string. Idempotent.
func (s *Service) RevokeSessionRefreshToken(ctx context.Context, userID, sessionID string) error {
	if userID == "" || sessionID == "" {
		return ErrRefreshInvalid
	}
	return s.cache.Delete(ctx, refreshKey(userID, sessionID))
}

// RevokeAllRefreshTokens deletes every persisted refresh token of a
// user. Idempotent.
func (s *Service) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	keys, err := s.cache.Keys(ctx, refreshKeyPrefix+userID+":*")
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, keys...)
}

// BlacklistUserTokens blacklists every tracked access token of a user.
// Individual failures are logged and skipped; the batch never aborts.
// Returns the number of tokens blacklisted.
func (s *Service) BlacklistUserTokens(ctx context.Context, userID string) (int, error) {
	keys, err := s.cache.Keys(ctx, issuedKeyPrefix+userID+":*")
	if err != nil {
		return 0, err
	}

	revoked := 0
	for _, key := range keys {
		tokenStr, err := s.cache.Get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			s.log.WithError(err).WithField("key", key).Warn("token: tracked token read failed, skipping")
			continue
		}
		if err := s.BlacklistToken(ctx, tokenStr); err != nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("token: bulk blacklist item failed, skipping")
			continue
		}
		revoked++
	}
	return revoked, nil
}

// Cleanup removes tracked-token entries whose tokens have already
// expired. TTLs normally handle this; the sweep catches entries written
// without one. Maintenance use.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	keys, err := s.cache.Keys(ctx, issuedKeyPrefix+"*")
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		tokenStr, err := s.cache.Get(ctx, key)
		if err != nil {
			continue
		}
		expiresAt, err := unverifiedExpiry(tokenStr)
		if err != nil || time.Now().After(expiresAt) {
			if err := s.cache.Delete(ctx, key); err != nil {
				s.log.WithError(err).WithField("key", key).Warn("token: cleanup delete failed, skipping")
				continue
			}
			removed++
		}
	}
	return removed, nil
}

func (s *Service) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	return s.cfg.Secret, nil
}

func unverifiedExpiry(tokenStr string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	expiresAt, err := claims.GetExpirationTime()
	if err != nil || expiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return expiresAt.Time, nil
}
