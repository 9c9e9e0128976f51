package authgate

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/varekai/authgate/token"
)

// AppConfig is the environment-driven configuration for a process
// hosting the stack: where Redis and the HTTP listener live, plus the
// [Config] for the stack itself.
type AppConfig struct {
	ListenAddr string
	RedisAddr  string
	Auth       Config
}

// LoadConfig reads .env (if present) and the process environment and
// builds an [AppConfig]. Environment variables override .env values.
// Recognized keys:
//
//	AUTH_LISTEN_ADDR       listener address (default :8080)
//	AUTH_REDIS_ADDR        redis address (default localhost:6379)
//	AUTH_JWT_SECRET        HS256 signing key, required
//	AUTH_JWT_ISSUER        iss claim, validated when set
//	AUTH_JWT_AUDIENCE      aud claim, validated when set
//	AUTH_ACCESS_TTL        access token lifetime (default 1h)
//	AUTH_REFRESH_TTL       refresh token lifetime (default 168h)
//	AUTH_ROTATE_REFRESH    rotate refresh tokens on use (default true)
//	AUTH_BLACKLIST_POLICY  "open" or "closed" (default open)
//	AUTH_SESSION_TTL       session lifetime (default 24h)
//	AUTH_MAX_SESSIONS      per-user session cap (default 5)
//	AUTH_ROLLING_SESSIONS  extend sessions on access (default false)
//	AUTH_AUDIT_ENABLED     emit audit events (default true)
func LoadConfig() (*AppConfig, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine, e.g. in CI

	v.AutomaticEnv()

	v.SetDefault("AUTH_LISTEN_ADDR", ":8080")
	v.SetDefault("AUTH_REDIS_ADDR", "localhost:6379")
	v.SetDefault("AUTH_JWT_SECRET", "")
	v.SetDefault("AUTH_JWT_ISSUER", "")
	v.SetDefault("AUTH_JWT_AUDIENCE", "")
	v.SetDefault("AUTH_ACCESS_TTL", "1h")
	v.SetDefault("AUTH_REFRESH_TTL", "168h")
	v.SetDefault("AUTH_ROTATE_REFRESH", true)
	v.SetDefault("AUTH_BLACKLIST_POLICY", "open")
	v.SetDefault("AUTH_SESSION_TTL", "24h")
	v.SetDefault("AUTH_MAX_SESSIONS", 5)
	v.SetDefault("AUTH_ROLLING_SESSIONS", false)
	v.SetDefault("AUTH_AUDIT_ENABLED", true)

	cfg := defaultConfig()

	secret := v.GetString("AUTH_JWT_SECRET")
	if secret == "" {
		return nil, token.ErrSigningMisconfigured
	}
	cfg.Token.Secret = []byte(secret)
	cfg.Token.Issuer = v.GetString("AUTH_JWT_ISSUER")
	cfg.Token.Audience = v.GetString("AUTH_JWT_AUDIENCE")
	cfg.Token.AccessTTL = durationOr(v.GetString("AUTH_ACCESS_TTL"), time.Hour)
	cfg.Token.RefreshTTL = durationOr(v.GetString("AUTH_REFRESH_TTL"), 168*time.Hour)
	cfg.Token.DisableRotation = !v.GetBool("AUTH_ROTATE_REFRESH")

	switch strings.ToLower(v.GetString("AUTH_BLACKLIST_POLICY")) {
	case "open", "":
		cfg.Token.BlacklistPolicy = token.FailOpen
	case "closed":
		cfg.Token.BlacklistPolicy = token.FailClosed
	default:
		return nil, errors.New("authgate: AUTH_BLACKLIST_POLICY must be \"open\" or \"closed\"")
	}

	cfg.Session.TTL = durationOr(v.GetString("AUTH_SESSION_TTL"), 24*time.Hour)
	cfg.Session.MaxPerUser = v.GetInt("AUTH_MAX_SESSIONS")
	cfg.Session.Rolling = v.GetBool("AUTH_ROLLING_SESSIONS")
	cfg.Audit.Enabled = v.GetBool("AUTH_AUDIT_ENABLED")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &AppConfig{
		ListenAddr: v.GetString("AUTH_LISTEN_ADDR"),
		RedisAddr:  v.GetString("AUTH_REDIS_ADDR"),
		Auth:       cfg,
	}, nil
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
