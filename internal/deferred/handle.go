// Package deferred schedules callbacks to run after a delay and hands back a
// cancellable Handle.
//
// A Handle moves from pending to exactly one of fired or cancelled. Cancel
// after fire, or a second Cancel, is a no-op, so callers may cancel freely
// when re-arming a timeout.
package deferred

import (
	"sync/atomic"
	"time"
)

type handleState int32

const (
	statePending handleState = iota
	stateFired
	stateCancelled
)

// Handle identifies one scheduled callback.
type Handle struct {
	state  atomic.Int32
	at     time.Time
	cancel func()
}

func newHandle(at time.Time) *Handle {
	return &Handle{at: at}
}

// At returns the time the callback was due.
func (h *Handle) At() time.Time {
	if h == nil {
		return time.Time{}
	}
	return h.at
}

// Cancel stops the callback if it has not started. It reports whether this
// call performed the cancellation. Safe on a nil Handle.
func (h *Handle) Cancel() bool {
	if h == nil {
		return false
	}
	if !h.state.CompareAndSwap(int32(statePending), int32(stateCancelled)) {
		return false
	}
	if h.cancel != nil {
		h.cancel()
	}
	return true
}

// Pending reports whether the callback has neither fired nor been cancelled.
func (h *Handle) Pending() bool {
	return h != nil && handleState(h.state.Load()) == statePending
}

// Fired reports whether the callback started.
func (h *Handle) Fired() bool {
	return h != nil && handleState(h.state.Load()) == stateFired
}

// run invokes fn once, unless the handle was cancelled first.
func (h *Handle) run(fn func()) {
	if h.state.CompareAndSwap(int32(statePending), int32(stateFired)) {
		fn()
	}
}

// Scheduler runs fn after delay. A delay <= 0 runs fn as soon as possible,
// never synchronously inside Schedule.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) *Handle
}
