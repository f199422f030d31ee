// Package timers owns timers, alarms and reminders for satellite devices:
// creation from time phrases, snoozing, cancellation, expiry notification
// and reload after restart.
package timers

import (
	"maps"
	"time"
)

// Status is the lifecycle state of a timer.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Well-known classes. Callers may use others.
const (
	ClassTimer    = "timer"
	ClassAlarm    = "alarm"
	ClassReminder = "reminder"
)

// ExtraSentence holds the canonical phrase the timer was created from.
const ExtraSentence = "sentence"

// Timer is one scheduled timer record.
type Timer struct {
	ID        string         `json:"id"`
	Owner     string         `json:"owner"`
	Class     string         `json:"class"`
	Name      string         `json:"name,omitempty"`
	FireAt    time.Time      `json:"fire_at"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Clone returns a copy that shares no maps with t.
func (t Timer) Clone() Timer {
	t.Extra = maps.Clone(t.Extra)
	return t
}

// MergeExtra applies patch to Extra. Nil values delete keys.
func (t *Timer) MergeExtra(patch map[string]any) {
	for k, v := range patch {
		if v == nil {
			delete(t.Extra, k)
			continue
		}
		if t.Extra == nil {
			t.Extra = make(map[string]any, len(patch))
		}
		t.Extra[k] = v
	}
}

// Remaining returns the time left until FireAt, never negative.
func (t Timer) Remaining(now time.Time) time.Duration {
	if d := t.FireAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
