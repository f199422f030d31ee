// Package alarms repeats alarm media on a media player until the session is
// cancelled or reaches its play limit, then optionally resumes whatever was
// playing before.
package alarms

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/satellited/internal/deferred"
	"git.home.luguber.info/inful/satellited/internal/events"
	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
	"git.home.luguber.info/inful/satellited/internal/logfields"
	"git.home.luguber.info/inful/satellited/internal/metrics"
)

const (
	defaultFinishTimeout = 2 * time.Minute
	defaultMediaType     = "music"
)

// Session outcomes, also used as metric labels.
const (
	OutcomeStarted   = "started"
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeReplaced  = "replaced"
	OutcomeTimeout   = "timeout"
	OutcomeFailed    = "failed"
)

// State of an alarm session.
type State string

const (
	StatePlaying   State = "playing"
	StateDone      State = "done"
	StateCancelled State = "cancelled"
)

// PlayingMedia is what a player was playing before an alarm took over.
type PlayingMedia struct {
	ContentID   string
	ContentType string
	Position    float64
}

// MediaPlayer issues playback on a media player entity.
type MediaPlayer interface {
	Play(ctx context.Context, target, mediaURL, mediaType string) error
	Stop(ctx context.Context, target string) error
	// Current returns the media playing on target, or nil when idle.
	Current(ctx context.Context, target string) (*PlayingMedia, error)
}

// SoundRequest starts an alarm session. MaxRepeats 0 repeats until cancelled.
type SoundRequest struct {
	Target     string
	MediaURL   string
	MediaType  string
	Resume     bool
	MaxRepeats int
}

// Response describes a started session.
type Response struct {
	Target   string
	MediaURL string
	Replaced bool
}

// SessionStatus is a snapshot of a running session.
type SessionStatus struct {
	Target   string
	MediaURL string
	Plays    int
	State    State
}

type session struct {
	id       uint64
	req      SoundRequest
	plays    int
	previous *PlayingMedia
	state    State
	watchdog *deferred.Handle
}

// Repeater runs at most one alarm session per target.
type Repeater struct {
	mu       sync.Mutex
	sessions map[string]*session
	nextID   uint64

	player        MediaPlayer
	sched         deferred.Scheduler
	baseURL       string
	mediaType     string
	finishTimeout time.Duration
	recorder      metrics.Recorder
	logger        *slog.Logger
}

// Option configures a Repeater.
type Option func(*Repeater)

func WithScheduler(s deferred.Scheduler) Option { return func(r *Repeater) { r.sched = s } }

// WithBaseURL sets the prefix for media paths starting with "/".
func WithBaseURL(u string) Option {
	return func(r *Repeater) { r.baseURL = strings.TrimSuffix(u, "/") }
}

// WithFinishTimeout ends a session when no completion arrives within d of a
// playback.
func WithFinishTimeout(d time.Duration) Option { return func(r *Repeater) { r.finishTimeout = d } }

func WithDefaultMediaType(t string) Option { return func(r *Repeater) { r.mediaType = t } }

func WithRecorder(m metrics.Recorder) Option { return func(r *Repeater) { r.recorder = m } }

func WithLogger(l *slog.Logger) Option { return func(r *Repeater) { r.logger = l } }

func NewRepeater(player MediaPlayer, opts ...Option) *Repeater {
	r := &Repeater{
		sessions:      make(map[string]*session),
		player:        player,
		mediaType:     defaultMediaType,
		finishTimeout: defaultFinishTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sched == nil {
		r.sched = deferred.NewClockScheduler(nil)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.recorder = metrics.OrNoop(r.recorder)
	r.logger = r.logger.With("component", "alarms")
	return r
}

// Sound starts an alarm session on req.Target, replacing any running one.
func (r *Repeater) Sound(ctx context.Context, req SoundRequest) (Response, error) {
	req.Target = strings.TrimSpace(req.Target)
	if req.Target == "" {
		return Response{}, ferrors.InvalidArgumentError("alarm target is required").Build()
	}
	if strings.TrimSpace(req.MediaURL) == "" {
		return Response{}, ferrors.InvalidArgumentError("alarm media is required").
			WithContext("target", req.Target).
			Build()
	}
	if req.MaxRepeats < 0 {
		return Response{}, ferrors.InvalidArgumentError("max repeats cannot be negative").Build()
	}
	req.MediaURL = r.resolveURL(req.MediaURL)
	if req.MediaType == "" {
		req.MediaType = r.mediaType
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var previous *PlayingMedia
	old, replaced := r.sessions[req.Target]
	if replaced {
		// The player is busy with the old alarm; keep what it interrupted.
		previous = old.previous
		r.endLocked(old, StateCancelled, OutcomeReplaced)
		r.logger.Info("Replacing alarm session", logfields.Target(req.Target))
	} else if r.player != nil {
		cur, err := r.player.Current(ctx, req.Target)
		if err != nil {
			r.logger.Debug("Could not read current media", logfields.Target(req.Target), logfields.Error(err))
		}
		previous = cur
	}

	r.nextID++
	s := &session{id: r.nextID, req: req, previous: previous, state: StatePlaying}
	r.sessions[req.Target] = s
	if err := r.playLocked(ctx, s); err != nil {
		r.endLocked(s, StateDone, OutcomeFailed)
		return Response{}, err
	}
	r.recorder.IncAlarmSession(OutcomeStarted)
	r.logger.Info("Alarm sounding",
		logfields.Target(req.Target),
		slog.String("media", req.MediaURL),
		slog.Int("max_repeats", req.MaxRepeats))
	return Response{Target: req.Target, MediaURL: req.MediaURL, Replaced: replaced}, nil
}

// PlaybackFinished handles the player's completion signal for target.
// Unknown targets and ended sessions are ignored.
func (r *Repeater) PlaybackFinished(ctx context.Context, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[target]
	if !ok || s.state != StatePlaying {
		return
	}
	s.watchdog.Cancel()
	if s.req.MaxRepeats == 0 || s.plays < s.req.MaxRepeats {
		if err := r.playLocked(ctx, s); err != nil {
			r.logger.Error("Alarm replay failed", logfields.Target(target), logfields.Error(err))
			r.endLocked(s, StateDone, OutcomeFailed)
		}
		return
	}
	r.logger.Info("Alarm finished", logfields.Target(target), slog.Int("plays", s.plays))
	r.endLocked(s, StateDone, OutcomeCompleted)
	r.resumeLocked(ctx, s)
}

// Cancel stops the session on target, or every session when target is
// empty. It returns how many sessions were cancelled.
func (r *Repeater) Cancel(ctx context.Context, target string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var targets []string
	if target == "" {
		for t := range r.sessions {
			targets = append(targets, t)
		}
	} else if _, ok := r.sessions[target]; ok {
		targets = append(targets, target)
	}

	for _, t := range targets {
		s := r.sessions[t]
		if r.player != nil {
			if err := r.player.Stop(ctx, t); err != nil {
				r.logger.Warn("Failed to stop alarm playback", logfields.Target(t), logfields.Error(err))
			}
		}
		r.endLocked(s, StateCancelled, OutcomeCancelled)
		r.resumeLocked(ctx, s)
		r.logger.Info("Alarm cancelled", logfields.Target(t))
	}
	return len(targets)
}

// Status returns the running session on target.
func (r *Repeater) Status(target string) (SessionStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[target]
	if !ok {
		return SessionStatus{}, false
	}
	return SessionStatus{Target: target, MediaURL: s.req.MediaURL, Plays: s.plays, State: s.state}, true
}

// Listen feeds completion events into PlaybackFinished until ch closes or
// ctx is done.
func (r *Repeater) Listen(ctx context.Context, ch <-chan events.PlaybackFinished) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			r.PlaybackFinished(ctx, evt.Target)
		}
	}
}

func (r *Repeater) playLocked(ctx context.Context, s *session) error {
	if r.player == nil {
		return ferrors.NotEnabledError("no media player configured").Build()
	}
	if err := r.player.Play(ctx, s.req.Target, s.req.MediaURL, s.req.MediaType); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryExternalWrite, "play alarm media").
			Retryable().
			WithContext("target", s.req.Target).
			Build()
	}
	s.plays++
	target, id := s.req.Target, s.id
	if r.finishTimeout > 0 {
		s.watchdog = r.sched.Schedule(r.finishTimeout, func() { r.timeout(target, id) })
	}
	return nil
}

func (r *Repeater) timeout(target string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[target]
	if !ok || s.id != id || s.state != StatePlaying {
		return
	}
	r.logger.Warn("No playback completion before timeout, ending alarm",
		logfields.Target(target), logfields.Duration(r.finishTimeout))
	r.endLocked(s, StateDone, OutcomeTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r.resumeLocked(ctx, s)
}

// endLocked moves s to a final state and forgets it.
func (r *Repeater) endLocked(s *session, state State, outcome string) {
	s.state = state
	s.watchdog.Cancel()
	if cur, ok := r.sessions[s.req.Target]; ok && cur == s {
		delete(r.sessions, s.req.Target)
	}
	r.recorder.IncAlarmSession(outcome)
}

func (r *Repeater) resumeLocked(ctx context.Context, s *session) {
	if !s.req.Resume || s.previous == nil || r.player == nil {
		return
	}
	p := s.previous
	if err := r.player.Play(ctx, s.req.Target, p.ContentID, p.ContentType); err != nil {
		r.logger.Warn("Failed to resume previous media", logfields.Target(s.req.Target), logfields.Error(err))
		return
	}
	r.logger.Debug("Resumed previous media", logfields.Target(s.req.Target), slog.String("media", p.ContentID))
}

func (r *Repeater) resolveURL(u string) string {
	if !strings.HasPrefix(u, "/") || r.baseURL == "" {
		return u
	}
	return r.baseURL + u
}
