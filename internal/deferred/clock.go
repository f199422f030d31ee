package deferred

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// ClockScheduler runs callbacks on clock timers. With a clockwork.FakeClock
// callbacks fire when the test advances the clock.
type ClockScheduler struct {
	clock clockwork.Clock
}

// NewClockScheduler returns a scheduler on clock, or the real clock when nil.
func NewClockScheduler(clock clockwork.Clock) *ClockScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ClockScheduler{clock: clock}
}

func (s *ClockScheduler) Clock() clockwork.Clock { return s.clock }

func (s *ClockScheduler) Schedule(delay time.Duration, fn func()) *Handle {
	h := newHandle(s.clock.Now().Add(delay))
	if delay <= 0 {
		go h.run(fn)
		return h
	}
	t := s.clock.AfterFunc(delay, func() { h.run(fn) })
	h.cancel = func() { t.Stop() }
	return h
}
