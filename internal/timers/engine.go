package timers

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/satellited/internal/deferred"
	"git.home.luguber.info/inful/satellited/internal/events"
	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
	"git.home.luguber.info/inful/satellited/internal/logfields"
	"git.home.luguber.info/inful/satellited/internal/metrics"
	"git.home.luguber.info/inful/satellited/internal/timephrase"
)

const (
	defaultPublishTimeout = 5 * time.Second
	defaultSaveTimeout    = 10 * time.Second
)

// atScheduler is implemented by schedulers that can fire at an absolute time.
type atScheduler interface {
	ScheduleAt(at time.Time, fn func()) *deferred.Handle
}

type entry struct {
	timer  Timer
	handle *deferred.Handle
	gen    uint64
}

// Engine owns the timer set. All methods are safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	saveMu sync.Mutex
	timers map[string]*entry

	store    Store
	sched    deferred.Scheduler
	clock    clockwork.Clock
	bus      *events.Bus
	recorder metrics.Recorder
	logger   *slog.Logger
	newID    func() string

	publishTimeout time.Duration
	started        bool
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c clockwork.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithScheduler sets the scheduler used for expiry. Schedulers that implement
// ScheduleAt are given absolute fire times.
func WithScheduler(s deferred.Scheduler) Option { return func(e *Engine) { e.sched = s } }

// WithBus sets the bus TimerExpired events are published on.
func WithBus(b *events.Bus) Option { return func(e *Engine) { e.bus = b } }

func WithRecorder(r metrics.Recorder) Option { return func(e *Engine) { e.recorder = r } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithIDGenerator(fn func() string) Option { return func(e *Engine) { e.newID = fn } }

// NewEngine creates an engine persisting to store (in memory when nil).
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		timers:         make(map[string]*entry),
		store:          store,
		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = NewMemoryStore()
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.sched == nil {
		e.sched = deferred.NewClockScheduler(e.clock)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	e.recorder = metrics.OrNoop(e.recorder)
	e.logger = e.logger.With("component", "timers")
	return e
}

// AddRequest describes a new timer.
type AddRequest struct {
	Class string
	Owner string
	Info  *timephrase.Info
	// Phrase is the canonical sentence Info was decoded from.
	Phrase string
	Name   string
	Extra  map[string]any
}

// SnoozeRequest moves an existing timer to a new time relative to now.
type SnoozeRequest struct {
	ID    string
	Info  *timephrase.Info
	Extra map[string]any
}

// CancelRequest selects timers to cancel. Exactly one selector is used, in
// the order All, ID, Owner.
type CancelRequest struct {
	ID    string
	Owner string
	All   bool
}

// GetRequest filters Get. Empty fields match everything.
type GetRequest struct {
	ID             string
	Owner          string
	Name           string
	IncludeExpired bool
}

// Result is returned by Add and Snooze.
type Result struct {
	ID       string
	Timer    Timer
	Response string
}

// Add creates and schedules a timer.
func (e *Engine) Add(ctx context.Context, req AddRequest) (Result, error) {
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return Result{}, ferrors.InvalidArgumentError("timer owner is required").Build()
	}
	if req.Info == nil {
		return Result{}, ferrors.InvalidTimeError("no time expression recognised").
			WithContext("sentence", req.Phrase).
			Build()
	}
	now := e.clock.Now()
	fireAt, err := timephrase.Resolve(req.Info, now)
	if err != nil {
		return Result{}, err
	}

	class := strings.ToLower(strings.TrimSpace(req.Class))
	if class == "" {
		class = ClassTimer
	}
	t := Timer{
		ID:        e.newID(),
		Owner:     owner,
		Class:     class,
		Name:      strings.TrimSpace(req.Name),
		FireAt:    fireAt,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.MergeExtra(req.Extra)
	if req.Phrase != "" {
		t.MergeExtra(map[string]any{ExtraSentence: req.Phrase})
	}

	e.mu.Lock()
	ent := &entry{timer: t}
	e.timers[t.ID] = ent
	e.armLocked(ent)
	e.recorder.IncTimerEvent(metrics.TimerCreated)
	e.unlockAndSave(ctx)

	e.logger.Info("Timer set",
		logfields.TimerID(t.ID),
		logfields.TimerClass(t.Class),
		logfields.Device(t.Owner),
		slog.Time("fire_at", t.FireAt))

	return Result{ID: t.ID, Timer: t.Clone(), Response: setResponse(t, req.Info, now)}, nil
}

// Snooze reschedules an active or expired timer relative to now.
func (e *Engine) Snooze(ctx context.Context, req SnoozeRequest) (Result, error) {
	if req.Info == nil {
		return Result{}, ferrors.InvalidTimeError("no time expression recognised").Build()
	}
	now := e.clock.Now()
	fireAt, err := timephrase.Resolve(req.Info, now)
	if err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	ent, ok := e.timers[req.ID]
	if !ok || ent.timer.Status == StatusCancelled {
		e.mu.Unlock()
		return Result{}, notFound(req.ID)
	}
	ent.handle.Cancel()
	ent.timer.FireAt = fireAt
	ent.timer.Status = StatusActive
	ent.timer.UpdatedAt = now
	ent.timer.MergeExtra(req.Extra)
	e.armLocked(ent)
	t := ent.timer.Clone()
	e.recorder.IncTimerEvent(metrics.TimerSnoozed)
	e.unlockAndSave(ctx)

	e.logger.Info("Timer snoozed", logfields.TimerID(t.ID), slog.Time("fire_at", t.FireAt))
	return Result{ID: t.ID, Timer: t, Response: snoozeResponse(t, req.Info, now)}, nil
}

// Cancel removes the selected timers and returns how many were removed.
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) (int, error) {
	if !req.All && req.ID == "" && req.Owner == "" {
		return 0, ferrors.InvalidArgumentError("cancel needs a timer id, an owner or all").Build()
	}

	e.mu.Lock()
	var victims []string
	switch {
	case req.All:
		for id := range e.timers {
			victims = append(victims, id)
		}
	case req.ID != "":
		if _, ok := e.timers[req.ID]; !ok {
			e.mu.Unlock()
			return 0, notFound(req.ID)
		}
		victims = append(victims, req.ID)
	default:
		for id, ent := range e.timers {
			if ent.timer.Owner == req.Owner {
				victims = append(victims, id)
			}
		}
	}
	if len(victims) == 0 {
		e.mu.Unlock()
		return 0, nil
	}
	for _, id := range victims {
		ent := e.timers[id]
		ent.handle.Cancel()
		ent.timer.Status = StatusCancelled
		delete(e.timers, id)
		e.recorder.IncTimerEvent(metrics.TimerCancelled)
		e.logger.Info("Timer cancelled", logfields.TimerID(id), logfields.Device(ent.timer.Owner))
	}
	e.unlockAndSave(ctx)
	return len(victims), nil
}

// Get returns matching timers ordered by fire time.
func (e *Engine) Get(req GetRequest) []Timer {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Timer, 0, len(e.timers))
	for _, ent := range e.timers {
		t := ent.timer
		switch {
		case req.ID != "" && t.ID != req.ID:
			continue
		case req.Owner != "" && t.Owner != req.Owner:
			continue
		case req.Name != "" && !strings.EqualFold(t.Name, req.Name):
			continue
		case t.Status == StatusExpired && !req.IncludeExpired:
			continue
		}
		out = append(out, t.Clone())
	}
	sortByFireAt(out)
	return out
}

// Start loads persisted timers. Past-due active timers expire at once with
// Late set; future ones are rescheduled. Calling Start again is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	loaded, err := e.store.LoadAll(ctx)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "load timers").Build()
	}

	now := e.clock.Now()
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true

	var late []events.TimerExpired
	for _, t := range loaded {
		if t.Status == StatusCancelled {
			continue
		}
		ent := &entry{timer: t.Clone()}
		e.timers[t.ID] = ent
		if t.Status != StatusActive {
			continue
		}
		if !t.FireAt.After(now) {
			ent.timer.Status = StatusExpired
			ent.timer.UpdatedAt = now
			e.recorder.IncTimerEvent(metrics.TimerExpired)
			late = append(late, expiredEvent(ent.timer, now, true))
			continue
		}
		e.armLocked(ent)
	}
	e.logger.Info("Timers loaded", slog.Int("count", len(e.timers)), slog.Int("late", len(late)))
	e.unlockAndSave(ctx)

	for _, evt := range late {
		e.publish(evt)
	}
	return nil
}

// Stop cancels every pending expiry. Records are kept.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ent := range e.timers {
		ent.handle.Cancel()
		ent.handle = nil
	}
	e.started = false
}

// PurgeExpired drops expired timers that expired more than olderThan ago.
func (e *Engine) PurgeExpired(ctx context.Context, olderThan time.Duration) int {
	cutoff := e.clock.Now().Add(-olderThan)

	e.mu.Lock()
	var n int
	for id, ent := range e.timers {
		if ent.timer.Status == StatusExpired && !ent.timer.UpdatedAt.After(cutoff) {
			delete(e.timers, id)
			e.recorder.IncTimerEvent(metrics.TimerPurged)
			n++
		}
	}
	if n == 0 {
		e.mu.Unlock()
		return 0
	}
	e.logger.Debug("Purged expired timers", slog.Int("count", n))
	e.unlockAndSave(ctx)
	return n
}

// armLocked schedules expiry for ent. Caller holds mu.
func (e *Engine) armLocked(ent *entry) {
	ent.gen++
	id, gen := ent.timer.ID, ent.gen
	fire := func() { e.expire(id, gen) }
	if s, ok := e.sched.(atScheduler); ok {
		ent.handle = s.ScheduleAt(ent.timer.FireAt, fire)
		return
	}
	ent.handle = e.sched.Schedule(e.clock.Until(ent.timer.FireAt), fire)
}

// expire fires for generation gen of timer id. A re-armed or removed timer
// ignores stale callbacks.
func (e *Engine) expire(id string, gen uint64) {
	e.mu.Lock()
	ent, ok := e.timers[id]
	if !ok || ent.gen != gen || ent.timer.Status != StatusActive {
		e.mu.Unlock()
		return
	}
	now := e.clock.Now()
	ent.timer.Status = StatusExpired
	ent.timer.UpdatedAt = now
	ent.handle = nil
	evt := expiredEvent(ent.timer, now, false)
	e.recorder.IncTimerEvent(metrics.TimerExpired)

	ctx, cancel := context.WithTimeout(context.Background(), defaultSaveTimeout)
	defer cancel()
	e.unlockAndSave(ctx)

	e.logger.Info("Timer expired", logfields.TimerID(id), logfields.TimerClass(evt.Class), logfields.Device(evt.Owner))
	e.publish(evt)
}

func (e *Engine) publish(evt events.TimerExpired) {
	if e.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.publishTimeout)
	defer cancel()
	if err := e.bus.Publish(ctx, evt); err != nil {
		e.logger.Warn("Failed to publish timer expiry", logfields.TimerID(evt.TimerID), logfields.Error(err))
	}
}

// unlockAndSave snapshots the timer set, releases mu and persists the
// snapshot. Saves are serialized in snapshot order. Caller holds mu.
func (e *Engine) unlockAndSave(ctx context.Context) {
	snapshot := make([]Timer, 0, len(e.timers))
	active := 0
	for _, ent := range e.timers {
		snapshot = append(snapshot, ent.timer.Clone())
		if ent.timer.Status == StatusActive {
			active++
		}
	}
	e.recorder.SetActiveTimers(active)
	sortByFireAt(snapshot)

	e.saveMu.Lock()
	e.mu.Unlock()
	defer e.saveMu.Unlock()

	if err := e.store.SaveAll(ctx, snapshot); err != nil {
		e.logger.Error("Failed to persist timers", slog.Int("count", len(snapshot)), logfields.Error(err))
	}
}

func expiredEvent(t Timer, now time.Time, late bool) events.TimerExpired {
	return events.TimerExpired{
		TimerID:   t.ID,
		Owner:     t.Owner,
		Class:     t.Class,
		Name:      t.Name,
		FireAt:    t.FireAt,
		ExpiredAt: now,
		Late:      late,
	}
}

func notFound(id string) error {
	return ferrors.NotFoundError("timer not found").WithContext("timer_id", id).Build()
}

func sortByFireAt(ts []Timer) {
	slices.SortFunc(ts, func(a, b Timer) int {
		if c := a.FireAt.Compare(b.FireAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
