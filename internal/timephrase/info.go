// Package timephrase turns spoken-style time expressions such as
// "in 5 minutes", "half an hour" or "tomorrow at 7:30 pm" into a structured
// offset or clock time, and resolves those against a reference time.
package timephrase

import (
	"fmt"
	"math"
	"time"
)

// Kind tags which member of Info is set.
type Kind int

const (
	KindInterval Kind = iota + 1
	KindClock
)

func (k Kind) String() string {
	switch k {
	case KindInterval:
		return "interval"
	case KindClock:
		return "clock"
	default:
		return "unknown"
	}
}

// Interval is a relative offset.
type Interval struct {
	Days    int `json:"days,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Minutes int `json:"minutes,omitempty"`
	Seconds int `json:"seconds,omitempty"`
}

// Duration returns the offset as a time.Duration. Days count as 24 hours.
func (i Interval) Duration() time.Duration {
	return time.Duration(i.Days)*24*time.Hour +
		time.Duration(i.Hours)*time.Hour +
		time.Duration(i.Minutes)*time.Minute +
		time.Duration(i.Seconds)*time.Second
}

// maxIntervalSeconds is the longest offset a time.Duration can hold.
const maxIntervalSeconds = int64(math.MaxInt64 / int64(time.Second))

// Fits reports whether the interval is non-negative and representable as a
// time.Duration.
func (i Interval) Fits() bool {
	parts := []struct {
		n    int
		unit int64
	}{{i.Days, 86400}, {i.Hours, 3600}, {i.Minutes, 60}, {i.Seconds, 1}}
	var total int64
	for _, p := range parts {
		if p.n < 0 || int64(p.n) > maxIntervalSeconds/p.unit {
			return false
		}
		total += int64(p.n) * p.unit
	}
	return total <= maxIntervalSeconds
}

// IsZero reports whether every component is zero.
func (i Interval) IsZero() bool { return i == Interval{} }

// Day values understood besides weekday names.
const (
	DayToday    = "today"
	DayTomorrow = "tomorrow"
)

// ClockTime is a wall-clock time, optionally on a named day.
type ClockTime struct {
	Day      string `json:"day,omitempty"` // "", today, tomorrow or a lower-case weekday
	Hour     int    `json:"hour"`
	Minute   int    `json:"minute"`
	Second   int    `json:"second,omitempty"`
	Meridiem string `json:"meridiem,omitempty"` // "", am or pm
}

// Info is the decoded time expression: exactly one of Interval or Clock is
// meaningful, selected by Kind.
type Info struct {
	Kind     Kind      `json:"kind"`
	Interval Interval  `json:"interval,omitzero"`
	Clock    ClockTime `json:"clock,omitzero"`
}

// NewInterval returns interval info.
func NewInterval(iv Interval) *Info {
	return &Info{Kind: KindInterval, Interval: iv}
}

// NewClock returns clock info.
func NewClock(ct ClockTime) *Info {
	return &Info{Kind: KindClock, Clock: ct}
}

func (i *Info) String() string {
	if i == nil {
		return "<none>"
	}
	switch i.Kind {
	case KindInterval:
		return "in " + Describe(i.Interval)
	case KindClock:
		s := fmt.Sprintf("at %d:%02d", i.Clock.Hour, i.Clock.Minute)
		if i.Clock.Second > 0 {
			s += fmt.Sprintf(":%02d", i.Clock.Second)
		}
		if i.Clock.Meridiem != "" {
			s += " " + i.Clock.Meridiem
		}
		if i.Clock.Day != "" {
			s += " " + i.Clock.Day
		}
		return s
	default:
		return "<invalid>"
	}
}
