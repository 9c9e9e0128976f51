package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/varekai/authgate/audit"
	"github.com/varekai/authgate/kv"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// ErrExpired is returned when a session exists but its lifetime has
// passed. The stale record is destroyed before this is returned.
var ErrExpired = errors.New("session expired")

// Cache key prefixes. session:user:<userID> holds the ordered list of a
// user's session IDs; the prefixes must not collide, so the record key
// is checked against the index prefix during sweeps.
const (
	keyPrefix       = "session:"
	userIndexPrefix = "session:user:"
)

// Config controls session lifetimes and the per-user cap.
type Config struct {
	// TTL is the session lifetime, and the renewal window when Rolling
	// is set.
	TTL time.Duration
	// MaxPerUser caps concurrently persisted sessions per user.
	// Enforcement is oldest-first eviction, never login rejection.
	// Zero or negative disables the cap.
	MaxPerUser int
	// Rolling extends ExpiresAt on every successful read or touch.
	Rolling bool
}

// RefreshRevoker revokes the refresh token bound to a session. The
// session store calls it when it retires a session on its own (cap
// eviction), so no credential outlives the session it belongs to.
type RefreshRevoker interface {
	RevokeSessionRefreshToken(ctx context.Context, userID, sessionID string) error
}

// Store creates, reads, touches, and destroys user sessions over a
// [kv.Cache]. All methods are safe for concurrent use; index updates are
// read-modify-write without compare-and-swap, so two concurrent logins
// can transiently exceed the cap by one until the next write.
type Store struct {
	cache    kv.Cache
	cfg      Config
	recorder *audit.Recorder
	revoker  RefreshRevoker
	log      *logrus.Logger
}

// NewStore builds a session [Store]. recorder may be nil to disable
// audit emission; a nil logger falls back to a default logrus logger.
func NewStore(cache kv.Cache, cfg Config, recorder *audit.Recorder, log *logrus.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if log == nil {
		log = logrus.New()
	}
	return &Store{
		cache:    cache,
		cfg:      cfg,
		recorder: recorder,
		log:      log,
	}
}

// WithRefreshRevoker attaches the refresh-token revoker. Call during
// initialization, before the store serves traffic.
func (s *Store) WithRefreshRevoker(revoker RefreshRevoker) {
	s.revoker = revoker
}

func sessionKey(sessionID string) string {
	return keyPrefix + sessionID
}

func userIndexKey(userID string) string {
	return userIndexPrefix + userID
}

// Create opens a new session for userID. device and deviceID are
// optional; a device without an ID is assigned a random one. The
// per-user cap is enforced after the write, and a login audit event is
// emitted.
func (s *Store) Create(ctx context.Context, userID string, device *DeviceInfo, deviceID string) (*Session, error) {
	sessionID, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("session id generation: %w", err)
	}
	if deviceID == "" && device != nil {
		deviceID = uuid.NewString()
	}

	now := time.Now()
	sess := &Session{
		SessionID:    sessionID,
		UserID:       userID,
		DeviceID:     deviceID,
		Device:       device,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(s.cfg.TTL),
		IsActive:     true,
	}

	if err := s.persist(ctx, sess, s.cfg.TTL); err != nil {
		return nil, err
	}

	if err := s.enforceUserLimit(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	event := audit.Event{
		EventType: audit.EventLogin,
		UserID:    userID,
		SessionID: sessionID,
		DeviceID:  deviceID,
		Success:   true,
	}
	if device != nil {
		event.IP = device.IPAddress
	}
	s.recorder.Record(ctx, event)

	return sess, nil
}

// Get returns the session for sessionID. An expired session is
// eagerly destroyed and reported as [ErrExpired]; when Rolling is
// enabled, a successful read extends the session's lifetime.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.Expired(time.Now()) {
		if err := s.reapExpired(ctx, sess); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	if s.cfg.Rolling {
		if err := s.extend(ctx, sess); err != nil {
			return nil, err
		}
	}

	return sess, nil
}

// Touch updates LastActiveAt and, when Rolling is enabled, extends
// ExpiresAt together with the cache entry's TTL.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Expired(time.Now()) {
		if err := s.reapExpired(ctx, sess); err != nil {
			return err
		}
		return ErrExpired
	}
	return s.extend(ctx, sess)
}

// Destroy removes the session record and its index entry, and emits a
// logout audit event. Destroying an already-gone session is not an
// error.
func (s *Store) Destroy(ctx context.Context, sessionID string) error {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	if err := s.remove(ctx, sess); err != nil {
		return err
	}

	s.recorder.Record(ctx, audit.Event{
		EventType: audit.EventLogout,
		UserID:    sess.UserID,
		SessionID: sessionID,
		DeviceID:  sess.DeviceID,
		Success:   true,
	})
	return nil
}

// MarkDeviceVerified flags the session's device as verified, preserving
// the entry's remaining TTL.
func (s *Store) MarkDeviceVerified(ctx context.Context, sessionID string) error {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Expired(time.Now()) {
		if err := s.reapExpired(ctx, sess); err != nil {
			return err
		}
		return ErrExpired
	}

	sess.DeviceVerified = true
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.persist(ctx, sess, ttl)
}

// DestroyAllForUser removes every session of a user except an optional
// preserved one ("log out everywhere but here" when excludeSessionID
// is set).
func (s *Store) DestroyAllForUser(ctx context.Context, userID, excludeSessionID string) error {
	ids, err := s.userSessionIDs(ctx, userID)
	if err != nil {
		return err
	}

	kept := ids[:0]
	for _, id := range ids {
		if id == excludeSessionID {
			kept = append(kept, id)
			continue
		}
		if err := s.Destroy(ctx, id); err != nil {
			return err
		}
	}

	return s.writeUserIndex(ctx, userID, kept)
}

// ActiveSessions returns the user's live sessions in creation order.
// Stale index entries are skipped.
func (s *Store) ActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.userSessionIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	sessions := make([]*Session, 0, len(ids))
	now := time.Now()
	for _, id := range ids {
		sess, err := s.load(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if sess.Expired(now) {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// CleanupExpired sweeps every session record, destroying the ones whose
// lifetime has passed but whose cache entry is still present. O(total
// sessions); intended for the maintenance job, never the request path.
// Returns the number of sessions reaped.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	keys, err := s.cache.Keys(ctx, keyPrefix+"*")
	if err != nil {
		return 0, err
	}

	now := time.Now()
	reaped := 0
	for _, key := range keys {
		if strings.HasPrefix(key, userIndexPrefix) {
			continue
		}

		raw, err := s.cache.Get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return reaped, err
		}

		sess, err := decode(raw)
		if err != nil {
			// unreadable record: drop it rather than leak it forever
			s.log.WithField("key", key).Warn("session: dropping corrupt record")
			if err := s.cache.Delete(ctx, key); err != nil {
				return reaped, err
			}
			continue
		}

		if !sess.Expired(now) {
			continue
		}
		if err := s.reapExpired(ctx, sess); err != nil {
			return reaped, err
		}
		reaped++
	}
	return reaped, nil
}

func (s *Store) persist(ctx context.Context, sess *Session, ttl time.Duration) error {
	raw, err := encode(sess)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, sessionKey(sess.SessionID), raw, ttl)
}

func (s *Store) load(ctx context.Context, sessionID string) (*Session, error) {
	raw, err := s.cache.Get(ctx, sessionKey(sessionID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sess, err := decode(raw)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID
	return sess, nil
}

func (s *Store) extend(ctx context.Context, sess *Session) error {
	now := time.Now()
	sess.LastActiveAt = now

	ttl := time.Until(sess.ExpiresAt)
	if s.cfg.Rolling {
		sess.ExpiresAt = now.Add(s.cfg.TTL)
		ttl = s.cfg.TTL
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.persist(ctx, sess, ttl)
}

func (s *Store) remove(ctx context.Context, sess *Session) error {
	ids, err := s.userSessionIDs(ctx, sess.UserID)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, id := range ids {
		if id != sess.SessionID {
			kept = append(kept, id)
		}
	}
	if err := s.writeUserIndex(ctx, sess.UserID, kept); err != nil {
		return err
	}
	return s.cache.Delete(ctx, sessionKey(sess.SessionID))
}

func (s *Store) reapExpired(ctx context.Context, sess *Session) error {
	if err := s.remove(ctx, sess); err != nil {
		return err
	}
	s.recorder.Record(ctx, audit.Event{
		EventType: audit.EventSessionExpired,
		UserID:    sess.UserID,
		SessionID: sess.SessionID,
		DeviceID:  sess.DeviceID,
		Success:   true,
	})
	return nil
}

// enforceUserLimit appends the new session ID to the user's index and
// evicts the oldest entries beyond MaxPerUser. Eviction is strictly
// insertion-ordered (see the package comment).
func (s *Store) enforceUserLimit(ctx context.Context, userID, newSessionID string) error {
	ids, err := s.userSessionIDs(ctx, userID)
	if err != nil {
		return err
	}
	ids = append(ids, newSessionID)

	if s.cfg.MaxPerUser > 0 && len(ids) > s.cfg.MaxPerUser {
		evict := ids[:len(ids)-s.cfg.MaxPerUser]
		ids = ids[len(ids)-s.cfg.MaxPerUser:]

		for _, id := range evict {
			sess, err := s.load(ctx, id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			if err := s.cache.Delete(ctx, sessionKey(id)); err != nil {
				return err
			}
			if s.revoker != nil {
				if err := s.revoker.RevokeSessionRefreshToken(ctx, sess.UserID, id); err != nil {
					s.log.WithError(err).WithField("session_id", id).
						Warn("session: refresh revoke for evicted session failed")
				}
			}
			s.recorder.Record(ctx, audit.Event{
				EventType: audit.EventSessionEvicted,
				UserID:    sess.UserID,
				SessionID: id,
				DeviceID:  sess.DeviceID,
				Success:   true,
				Metadata:  map[string]string{"reason": "session_limit"},
			})
		}
	}

	return s.writeUserIndex(ctx, userID, ids)
}

func (s *Store) userSessionIDs(ctx context.Context, userID string) ([]string, error) {
	raw, err := s.cache.Get(ctx, userIndexKey(userID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("session index corrupt for user %s: %w", userID, err)
	}
	return ids, nil
}

func (s *Store) writeUserIndex(ctx context.Context, userID string, ids []string) error {
	key := userIndexKey(userID)
	if len(ids) == 0 {
		return s.cache.Delete(ctx, key)
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, key, string(data), s.cfg.TTL)
}
