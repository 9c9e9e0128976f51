package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varekai/authgate/audit"
	"github.com/varekai/authgate/kv"
)

func newTestStore(t *testing.T, cfg Config) (*Store, *redis.Client, *audit.ChannelSink) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err, "miniredis start")

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	sink := audit.NewChannelSink(64)
	dispatcher := audit.NewDispatcher(audit.Config{Enabled: true, BufferSize: 64, DropIfFull: true}, sink)
	t.Cleanup(dispatcher.Close)

	cache := kv.NewRedis(rdb)
	recorder := audit.NewRecorder(dispatcher, cache, 0, nil)

	return NewStore(cache, cfg, recorder, nil), rdb, sink
}

func TestLoginLogoutLifecycle(t *testing.T) {
	store, _, _ := newTestStore(t, Config{TTL: time.Hour, MaxPerUser: 5})
	ctx := context.Background()

	created, err := store.Create(ctx, "u1", &DeviceInfo{UserAgent: "ua", IPAddress: "10.0.0.1"}, "")
	require.NoError(t, err)
	require.NotEmpty(t, created.SessionID)
	assert.Len(t, created.SessionID, 64, "session id must be 32 random bytes, hex encoded")
	assert.NotEmpty(t, created.DeviceID, "device info without id gets a generated one")

	got, err := store.Get(ctx, created.SessionID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, "u1", got.UserID)

	require.NoError(t, store.Destroy(ctx, created.SessionID))

	_, err = store.Get(ctx, created.SessionID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDestroyIsIdempotent(t *testing.T) {
	store, rdb, _ := newTestStore(t, Config{TTL: time.Hour})
	ctx := context.Background()

	sess, err := store.Create(ctx, "u1", nil, "")
	require.NoError(t, err)

	require.NoError(t, store.Destroy(ctx, sess.SessionID))
	require.NoError(t, store.Destroy(ctx, sess.SessionID))

	n, err := rdb.Exists(ctx, "session:"+sess.SessionID).Result()
	require.NoError(t, err)
	assert.Zero(t, n, "no trace of the session may remain")

	n, err = rdb.Exists(ctx, "session:user:u1").Result()
	require.NoError(t, err)
	assert.Zero(t, n, "empty index is deleted, not stored")
}

func TestSessionCapEvictsOldestFirst(t *testing.T) {
	const maxSessions = 3
	store, _, _ := newTestStore(t, Config{TTL: time.Hour, MaxPerUser: maxSessions})
	ctx := context.Background()

	var ids []string
	for i := 0; i < maxSessions+2; i++ {
		sess, err := store.Create(ctx, "u1", nil, "")
		require.NoError(t, err)
		ids = append(ids, sess.SessionID)
	}

	active, err := store.ActiveSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, maxSessions)

	var activeIDs []string
	for _, sess := range active {
		activeIDs = append(activeIDs, sess.SessionID)
	}
	assert.Equal(t, ids[len(ids)-maxSessions:], activeIDs,
		"the most recently created sessions survive, in creation order")

	for _, id := range ids[:2] {
		_, err := store.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound, "evicted session must be gone")
	}
}

// overwrite the stored record with a past expiry while the cache entry
// itself is still alive, to exercise the lazy reap path.
func forceExpire(t *testing.T, rdb *redis.Client, sessionID string) {
	t.Helper()
	ctx := context.Background()

	raw, err := rdb.Get(ctx, "session:"+sessionID).Result()
	require.NoError(t, err)

	var sess Session
	require.NoError(t, json.Unmarshal([]byte(raw), &sess))
	sess.ExpiresAt = time.Now().Add(-time.Minute)

	data, err := json.Marshal(&sess)
	require.NoError(t, err)
	require.NoError(t, rdb.Set(ctx, "session:"+sessionID, data, time.Hour).Err())
}

func TestExpiredSessionIsLazilyReaped(t *testing.T) {
	store, rdb, _ := newTestStore(t, Config{TTL: time.Hour})
	ctx := context.Background()

	sess, err := store.Create(ctx, "u1", nil, "")
	require.NoError(t, err)

	forceExpire(t, rdb, sess.SessionID)

	_, err = store.Get(ctx, sess.SessionID)
	assert.ErrorIs(t, err, ErrExpired)

	n, err := rdb.Exists(ctx, "session:"+sess.SessionID).Result()
	require.NoError(t, err)
	assert.Zero(t, n, "the store must no longer hold the key")

	_, err = store.Get(ctx, sess.SessionID)
	assert.ErrorIs(t, err, ErrNotFound, "second read is a plain miss")
}

func TestRollingGetExtendsExpiry(t *testing.T) {
	store, rdb, _ := newTestStore(t, Config{TTL: time.Hour, Rolling: true})
	ctx := context.Background()

	sess, err := store.Create(ctx, "u1", nil, "")
	require.NoError(t, err)
	firstExpiry := sess.ExpiresAt

	time.Sleep(10 * time.Millisecond)

	got, err := store.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.After(firstExpiry), "rolling read must extend expiry")

	ttl, err := rdb.TTL(ctx, "session:"+sess.SessionID).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute, "cache TTL refreshed alongside expiry")
}

func TestTouchUpdatesLastActive(t *testing.T) {
	store, _, _ := newTestStore(t, Config{TTL: time.Hour})
	ctx := context.Background()

	sess, err := store.Create(ctx, "u1", nil, "")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.Touch(ctx, sess.SessionID))

	got, err := store.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.True(t, got.LastActiveAt.After(sess.LastActiveAt))
	assert.Equal(t, sess.ExpiresAt.Unix(), got.ExpiresAt.Unix(),
		"non-rolling touch must not extend expiry")
}

func TestDestroyAllForUserWithExclusion(t *testing.T) {
	store, _, _ := newTestStore(t, Config{TTL: time.Hour, MaxPerUser: 10})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		sess, err := store.Create(ctx, "u1", nil, "")
		require.NoError(t, err)
		ids = append(ids, sess.SessionID)
	}
	keep := ids[2]

	require.NoError(t, store.DestroyAllForUser(ctx, "u1", keep))

	active, err := store.ActiveSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, keep, active[0].SessionID)
}

func TestCleanupExpiredSweep(t *testing.T) {
	store, rdb, _ := newTestStore(t, Config{TTL: time.Hour, MaxPerUser: 10})
	ctx := context.Background()

	live, err := store.Create(ctx, "u1", nil, "")
	require.NoError(t, err)

	stale1, err := store.Create(ctx, "u1", nil, "")
	require.NoError(t, err)
	stale2, err := store.Create(ctx, "u2", nil, "")
	require.NoError(t, err)

	forceExpire(t, rdb, stale1.SessionID)
	forceExpire(t, rdb, stale2.SessionID)

	reaped, err := store.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reaped)

	_, err = store.Get(ctx, live.SessionID)
	assert.NoError(t, err, "live session must survive the sweep")
	_, err = store.Get(ctx, stale1.SessionID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuditEventsEmittedAndPersisted(t *testing.T) {
	store, rdb, sink := newTestStore(t, Config{TTL: time.Hour})
	ctx := context.Background()

	sess, err := store.Create(ctx, "u1", &DeviceInfo{IPAddress: "10.0.0.9"}, "dev-1")
	require.NoError(t, err)
	require.NoError(t, store.Destroy(ctx, sess.SessionID))

	var types []string
	for i := 0; i < 2; i++ {
		select {
		case event := <-sink.Events():
			types = append(types, event.EventType)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for audit events")
		}
	}
	assert.Equal(t, []string{audit.EventLogin, audit.EventLogout}, types)

	keys, err := rdb.Keys(ctx, "auth:event:u1:*").Result()
	require.NoError(t, err)
	assert.Len(t, keys, 2, "events persisted under auth:event keys")

	ttl, err := rdb.TTL(ctx, keys[0]).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 23*time.Hour, "persisted events carry the retention TTL")
}

type recordingRevoker struct {
	revoked []string
}

func (r *recordingRevoker) RevokeSessionRefreshToken(_ context.Context, userID, sessionID string) error {
	r.revoked = append(r.revoked, userID+":"+sessionID)
	return nil
}

func TestEvictionRevokesRefreshToken(t *testing.T) {
	store, _, _ := newTestStore(t, Config{TTL: time.Hour, MaxPerUser: 1})
	revoker := &recordingRevoker{}
	store.WithRefreshRevoker(revoker)
	ctx := context.Background()

	first, err := store.Create(ctx, "u1", nil, "")
	require.NoError(t, err)
	second, err := store.Create(ctx, "u1", nil, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"u1:" + first.SessionID}, revoker.revoked,
		"evicting a session must also revoke its refresh token")

	_, err = store.Get(ctx, second.SessionID)
	assert.NoError(t, err, "the surviving session keeps its credentials")
}
