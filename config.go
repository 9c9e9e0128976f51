package authgate

import (
	"errors"
	"time"

	"github.com/varekai/authgate/audit"
	"github.com/varekai/authgate/session"
	"github.com/varekai/authgate/token"
)

// Config aggregates the settings of every component the [Builder]
// constructs. Instances are configured during initialization and then
// treated as immutable.
type Config struct {
	Token   token.Config
	Session session.Config
	Audit   audit.Config
	// AuditRetention bounds how long persisted audit events are kept.
	AuditRetention time.Duration
}

func defaultConfig() Config {
	return Config{
		Token: token.Config{
			AccessTTL:  time.Hour,
			RefreshTTL: 7 * 24 * time.Hour,
			Leeway:     30 * time.Second,
		},
		Session: session.Config{
			TTL:        24 * time.Hour,
			MaxPerUser: 5,
		},
		Audit: audit.Config{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		AuditRetention: audit.DefaultRetention,
	}
}

func (c *Config) validate() error {
	if len(c.Token.Secret) == 0 {
		return token.ErrSigningMisconfigured
	}
	if len(c.Token.Secret) < 32 {
		return errors.New("authgate: signing secret shorter than 32 bytes")
	}
	if c.Token.AccessTTL < 0 || c.Token.RefreshTTL < 0 {
		return errors.New("authgate: negative token TTL")
	}
	if c.Token.AccessTTL > c.Token.RefreshTTL && c.Token.RefreshTTL > 0 {
		return errors.New("authgate: access TTL exceeds refresh TTL")
	}
	if c.Session.TTL < 0 {
		return errors.New("authgate: negative session TTL")
	}
	if c.Session.MaxPerUser < 0 {
		return errors.New("authgate: negative session cap")
	}
	return nil
}
