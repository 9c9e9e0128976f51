package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/varekai/authgate/kv"
)

// KeyPrefix namespaces persisted audit events in the shared cache.
const KeyPrefix = "auth:event:"

// DefaultRetention is how long persisted events are kept.
const DefaultRetention = 24 * time.Hour

// Recorder fans an event out to the async dispatcher and persists it in
// the cache under auth:event:<userID>:<epochMillis> with a fixed TTL.
// Persistence is best-effort: a cache failure is logged and swallowed so
// audit plumbing can never fail a login or logout.
type Recorder struct {
	dispatcher *Dispatcher
	cache      kv.Cache
	retention  time.Duration
	log        *logrus.Logger
}

// NewRecorder builds a [Recorder]. dispatcher and cache may each be nil
// to disable that half of the pipeline; a nil logger falls back to a
// default logrus logger.
func NewRecorder(dispatcher *Dispatcher, cache kv.Cache, retention time.Duration, log *logrus.Logger) *Recorder {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if log == nil {
		log = logrus.New()
	}
	return &Recorder{
		dispatcher: dispatcher,
		cache:      cache,
		retention:  retention,
		log:        log,
	}
}

// Record stamps the event and sends it through both halves of the
// pipeline.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if r == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	r.dispatcher.Emit(ctx, event)

	if r.cache == nil || event.UserID == "" {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		r.log.WithError(err).Warn("audit: event marshal failed")
		return
	}

	key := KeyPrefix + event.UserID + ":" + strconv.FormatInt(event.Timestamp.UnixMilli(), 10)
	if err := r.cache.Set(ctx, key, string(data), r.retention); err != nil {
		r.log.WithError(err).WithField("user_id", event.UserID).Warn("audit: event persist failed")
	}
}

// UserEvents loads the persisted events for a user, newest retention
// window only. Maintenance/administrative use.
func (r *Recorder) UserEvents(ctx context.Context, userID string) ([]Event, error) {
	if r == nil || r.cache == nil {
		return nil, nil
	}

	keys, err := r.cache.Keys(ctx, KeyPrefix+userID+":*")
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(keys))
	for _, key := range keys {
		raw, err := r.cache.Get(ctx, key)
		if err != nil {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Close flushes and stops the underlying dispatcher.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.dispatcher.Close()
}
