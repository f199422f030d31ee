package menu

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/satellited/internal/deferred"
	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
	"git.home.luguber.info/inful/satellited/internal/logfields"
	"git.home.luguber.info/inful/satellited/internal/metrics"
	"git.home.luguber.info/inful/satellited/internal/retry"
	"git.home.luguber.info/inful/satellited/internal/statestore"
)

const (
	DefaultQuietWindow = 40 * time.Millisecond
	DefaultMaxDelay    = 250 * time.Millisecond

	flushTimeout = 10 * time.Second
)

// PublisherConfig tunes write coalescing.
type PublisherConfig struct {
	// QuietWindow is how long a device must see no new patch before its
	// pending patch is written.
	QuietWindow time.Duration
	// MaxDelay caps how long a pending patch can be postponed.
	MaxDelay time.Duration
	Retry    retry.Policy
}

// Publisher coalesces attribute patches per device into one merged write.
//
// Writes for one device are applied in the order their patches were taken,
// and a patch being written stays visible through Pending until the write
// returns.
type Publisher struct {
	store    statestore.Writer
	sched    deferred.Scheduler
	clock    clockwork.Clock
	cfg      PublisherConfig
	recorder metrics.Recorder
	logger   *slog.Logger

	mu      sync.Mutex
	devices map[string]*deviceQueue
}

type deviceQueue struct {
	writeMu  sync.Mutex
	pending  statestore.Attributes
	inflight statestore.Attributes
	first    time.Time
	timer    *deferred.Handle
	gen      uint64
}

// NewPublisher builds a publisher writing to store.
func NewPublisher(store statestore.Writer, sched deferred.Scheduler, clock clockwork.Clock, cfg PublisherConfig, recorder metrics.Recorder, logger *slog.Logger) *Publisher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if sched == nil {
		sched = deferred.NewClockScheduler(clock)
	}
	if cfg.QuietWindow <= 0 {
		cfg.QuietWindow = DefaultQuietWindow
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.Retry.Validate() != nil {
		cfg.Retry = retry.DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:    store,
		sched:    sched,
		clock:    clock,
		cfg:      cfg,
		recorder: metrics.OrNoop(recorder),
		logger:   logger.With("component", "menu_publisher"),
		devices:  make(map[string]*deviceQueue),
	}
}

// Enqueue merges patch into the device's pending write and (re)arms the
// debounce. An empty patch is ignored.
func (p *Publisher) Enqueue(device string, patch statestore.Attributes) {
	if len(patch) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	q := p.queueLocked(device)
	now := p.clock.Now()
	if q.pending == nil {
		q.pending = statestore.Attributes{}
		q.first = now
	}
	maps.Copy(q.pending, patch)

	delay := p.cfg.QuietWindow
	if deadline := q.first.Add(p.cfg.MaxDelay); now.Add(delay).After(deadline) {
		delay = deadline.Sub(now)
	}
	q.timer.Cancel()
	q.gen++
	gen := q.gen
	q.timer = p.sched.Schedule(delay, func() { p.debounced(device, gen) })
}

// Pending returns the patch not yet applied to the store for device,
// including a write in progress.
func (p *Publisher) Pending(device string) statestore.Attributes {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.devices[device]
	if !ok {
		return nil
	}
	if q.inflight == nil && q.pending == nil {
		return nil
	}
	out := statestore.Attributes{}
	maps.Copy(out, q.inflight)
	maps.Copy(out, q.pending)
	return out
}

// Flush writes the device's pending patch now.
func (p *Publisher) Flush(ctx context.Context, device string) error {
	p.mu.Lock()
	q := p.queueLocked(device)
	p.mu.Unlock()
	return p.flush(ctx, device, q)
}

// FlushAll writes every pending patch. The first error is returned.
func (p *Publisher) FlushAll(ctx context.Context) error {
	p.mu.Lock()
	devices := make(map[string]*deviceQueue, len(p.devices))
	maps.Copy(devices, p.devices)
	p.mu.Unlock()

	var first error
	for device, q := range devices {
		if err := p.flush(ctx, device, q); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (p *Publisher) debounced(device string, gen uint64) {
	p.mu.Lock()
	q, ok := p.devices[device]
	stale := !ok || q.gen != gen
	p.mu.Unlock()
	if stale {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	_ = p.flush(ctx, device, q)
}

func (p *Publisher) flush(ctx context.Context, device string, q *deviceQueue) error {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	p.mu.Lock()
	patch := q.pending
	q.pending = nil
	q.timer.Cancel()
	q.timer = nil
	q.gen++
	q.inflight = patch
	p.mu.Unlock()

	if len(patch) == 0 {
		return nil
	}

	start := p.clock.Now()
	err := p.cfg.Retry.Do(ctx, p.clock, func(ctx context.Context) error {
		return p.store.Write(ctx, device, patch)
	}, func(attempt int, err error) {
		p.logger.Warn("Retrying menu write", logfields.Device(device), logfields.Attempt(attempt), logfields.Error(err))
	})

	p.mu.Lock()
	q.inflight = nil
	p.mu.Unlock()

	if err != nil {
		p.recorder.IncMenuWrite(metrics.ResultFailed)
		p.logger.Error("Menu write failed", logfields.Device(device), logfields.Error(err))
		if _, ok := ferrors.AsClassified(err); ok {
			return err
		}
		return ferrors.WrapError(err, ferrors.CategoryExternalWrite, "write menu state").
			Retryable().
			WithContext("device", device).
			Build()
	}
	p.recorder.IncMenuWrite(metrics.ResultSuccess)
	p.logger.Debug("Menu state written",
		logfields.Device(device),
		slog.Int("keys", len(patch)),
		logfields.Duration(p.clock.Since(start)))
	return nil
}

func (p *Publisher) queueLocked(device string) *deviceQueue {
	q, ok := p.devices[device]
	if !ok {
		q = &deviceQueue{}
		p.devices[device] = q
	}
	return q
}
