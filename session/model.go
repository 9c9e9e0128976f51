package session

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"
)

const sessionIDBytes = 32

// DeviceInfo describes the client that opened a session.
type DeviceInfo struct {
	UserAgent string `json:"user_agent,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	Platform  string `json:"platform,omitempty"`
}

// Session is the server-side record binding a user to an active login.
// It is owned exclusively by the [Store]; access tokens reference it by
// SessionID but never own it.
type Session struct {
	SessionID    string      `json:"session_id"`
	UserID       string      `json:"user_id"`
	DeviceID     string      `json:"device_id,omitempty"`
	Device       *DeviceInfo `json:"device,omitempty"`
	// DeviceVerified is set once the client completes an out-of-band
	// device check; guards can require it.
	DeviceVerified bool      `json:"device_verified,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActiveAt   time.Time `json:"last_active_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	IsActive       bool      `json:"is_active"`
}

// Expired reports whether the session's lifetime has passed at the
// given instant.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func encode(s *Session) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decode(raw string) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// newSessionID returns a cryptographically random 256-bit identifier,
// hex encoded.
func newSessionID() (string, error) {
	var raw [sessionIDBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}
