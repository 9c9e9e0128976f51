// Package janitor runs the periodic maintenance sweeps behind the
// session and token stores. TTLs handle the common case; the sweeps
// catch records that outlived their index entries or were written
// without an expiry.
package janitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSchedule runs the sweeps every 15 minutes.
const DefaultSchedule = "*/15 * * * *"

// Sweeper is a maintenance routine that removes stale records and
// reports how many it removed.
type Sweeper interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// SweeperFunc adapts a function to the [Sweeper] interface.
type SweeperFunc func(ctx context.Context) (int, error)

func (f SweeperFunc) CleanupExpired(ctx context.Context) (int, error) { return f(ctx) }

// Janitor schedules sweeps on a cron timetable. Overlapping runs are
// skipped rather than queued; each sweep is idempotent so a skipped
// run only delays cleanup by one interval.
type Janitor struct {
	cron     *cron.Cron
	sweepers map[string]Sweeper
	timeout  time.Duration
	log      *logrus.Logger

	running atomic.Bool
}

// New builds a Janitor over named sweepers. A nil logger falls back to
// a default logrus logger.
func New(sweepers map[string]Sweeper, log *logrus.Logger) *Janitor {
	if log == nil {
		log = logrus.New()
	}
	return &Janitor{
		cron:     cron.New(),
		sweepers: sweepers,
		timeout:  time.Minute,
		log:      log,
	}
}

// Start schedules the sweeps and starts the cron loop. schedule is a
// standard five-field cron expression; empty means [DefaultSchedule].
func (j *Janitor) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := j.cron.AddFunc(schedule, j.Sweep); err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep runs every registered sweeper once. Safe to call manually; a
// call that overlaps a scheduled run returns immediately.
func (j *Janitor) Sweep() {
	if !j.running.CompareAndSwap(false, true) {
		j.log.Debug("janitor: sweep already in progress, skipping")
		return
	}
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	for name, sweeper := range j.sweepers {
		removed, err := sweeper.CleanupExpired(ctx)
		if err != nil {
			j.log.WithError(err).WithField("sweeper", name).Warn("janitor: sweep failed")
			continue
		}
		if removed > 0 {
			j.log.WithFields(logrus.Fields{"sweeper": name, "removed": removed}).
				Info("janitor: sweep removed stale records")
		}
	}
}
