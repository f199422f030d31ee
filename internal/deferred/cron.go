package deferred

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/satellited/internal/logfields"
)

// CronScheduler runs one-shot callbacks as gocron one-time jobs at absolute
// times and owns the periodic housekeeping jobs.
type CronScheduler struct {
	sched  gocron.Scheduler
	clock  clockwork.Clock
	logger *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewCronScheduler builds a gocron scheduler on clock (real clock when nil).
func NewCronScheduler(clock clockwork.Clock, logger *slog.Logger) (*CronScheduler, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLogger(logger.With("component", "scheduler")),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &CronScheduler{sched: s, clock: clock, logger: logger}, nil
}

// Start begins executing jobs.
func (c *CronScheduler) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.sched.Start()
	c.started = true
}

// Stop shuts the scheduler down and waits for running jobs.
func (c *CronScheduler) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	return c.sched.Shutdown()
}

// Schedule runs fn once after delay.
func (c *CronScheduler) Schedule(delay time.Duration, fn func()) *Handle {
	return c.ScheduleAt(c.clock.Now().Add(delay), fn)
}

// ScheduleAt runs fn once at the given time. Times already past run immediately.
func (c *CronScheduler) ScheduleAt(at time.Time, fn func()) *Handle {
	h := newHandle(at)
	task := gocron.NewTask(func() { h.run(fn) })

	startAt := gocron.OneTimeJobStartDateTime(at)
	if !at.After(c.clock.Now()) {
		startAt = gocron.OneTimeJobStartImmediately()
	}
	job, err := c.sched.NewJob(gocron.OneTimeJob(startAt), task, gocron.WithLimitedRuns(1))
	if errors.Is(err, gocron.ErrOneTimeJobStartDateTimePast) {
		job, err = c.sched.NewJob(gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()), task, gocron.WithLimitedRuns(1))
	}
	if err != nil {
		// Fall back to a plain timer so the callback is never lost.
		c.logger.Warn("one-time job rejected, using timer", logfields.Error(err))
		t := c.clock.AfterFunc(c.clock.Until(at), func() { h.run(fn) })
		h.cancel = func() { t.Stop() }
		return h
	}

	id := job.ID()
	h.cancel = func() { c.remove(id) }
	return h
}

// ScheduleEvery registers a named periodic job.
func (c *CronScheduler) ScheduleEvery(name string, every time.Duration, fn func()) (uuid.UUID, error) {
	if every <= 0 {
		return uuid.Nil, fmt.Errorf("interval must be positive, got %s", every)
	}
	job, err := c.sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("schedule %s: %w", name, err)
	}
	return job.ID(), nil
}

func (c *CronScheduler) remove(id uuid.UUID) {
	if err := c.sched.RemoveJob(id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		c.logger.Debug("remove job", "job_id", id.String(), logfields.Error(err))
	}
}
