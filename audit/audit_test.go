package audit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varekai/authgate/kv"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{gate: make(chan struct{})}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

func newTestCache(t *testing.T) kv.Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return kv.NewRedis(rdb)
}

func TestDispatcherDeliversEvents(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	defer d.Close()

	d.Emit(context.Background(), Event{EventType: EventLogin, UserID: "u1"})

	select {
	case ev := <-sink.Events():
		assert.Equal(t, EventLogin, ev.EventType)
		assert.Equal(t, "u1", ev.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestDispatcherDisabledReturnsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	assert.Nil(t, d)

	// every method on the nil dispatcher is a no-op
	d.Emit(context.Background(), Event{EventType: EventLogin})
	assert.Zero(t, d.Dropped())
	d.Close()
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	// First event occupies the worker, second fills the buffer. Keep
	// emitting until at least one is counted as dropped.
	for i := 0; i < 10 && d.Dropped() == 0; i++ {
		d.Emit(context.Background(), Event{EventType: EventLogin})
	}
	assert.NotZero(t, d.Dropped())
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: EventLogin})
	}
	d.Close()

	assert.Equal(t, int64(10), sink.count.Load())
}

func TestDispatcherCloseIdempotent(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, NoOpSink{})
	d.Close()
	d.Close()
}

func TestRecorderPersistsWithRetention(t *testing.T) {
	cache := newTestCache(t)
	r := NewRecorder(nil, cache, time.Hour, nil)
	defer r.Close()

	r.Record(context.Background(), Event{EventType: EventLogin, UserID: "u1", Success: true})

	keys, err := cache.Keys(context.Background(), KeyPrefix+"u1:*")
	require.NoError(t, err)
	require.Len(t, keys, 1)

	ttl, err := cache.TTL(context.Background(), keys[0])
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
}

func TestRecorderUserEvents(t *testing.T) {
	cache := newTestCache(t)
	r := NewRecorder(nil, cache, time.Hour, nil)
	defer r.Close()

	ctx := context.Background()
	r.Record(ctx, Event{EventType: EventLogin, UserID: "u1", Timestamp: time.Now().Add(-time.Minute)})
	r.Record(ctx, Event{EventType: EventLogout, UserID: "u1"})
	r.Record(ctx, Event{EventType: EventLogin, UserID: "u2"})

	events, err := r.UserEvents(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, "u1", ev.UserID)
	}
}

func TestRecorderSkipsAnonymousEvents(t *testing.T) {
	cache := newTestCache(t)
	r := NewRecorder(nil, cache, time.Hour, nil)
	defer r.Close()

	r.Record(context.Background(), Event{EventType: EventTokenRevoked})

	keys, err := cache.Keys(context.Background(), KeyPrefix+"*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), Event{EventType: EventLogin, UserID: "u1"})
	r.Close()
}
