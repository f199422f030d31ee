package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyDevice     = "device"
	KeyTimerID    = "timer_id"
	KeyTimerClass = "timer_class"
	KeyItem       = "item"
	KeyAction     = "action"
	KeyTarget     = "target"
	KeySubject    = "subject"
	KeyPath       = "path"
	KeyAttempt    = "attempt"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Device(id string) slog.Attr      { return slog.String(KeyDevice, id) }
func TimerID(id string) slog.Attr     { return slog.String(KeyTimerID, id) }
func TimerClass(c string) slog.Attr   { return slog.String(KeyTimerClass, c) }
func Item(name string) slog.Attr      { return slog.String(KeyItem, name) }
func Action(name string) slog.Attr    { return slog.String(KeyAction, name) }
func Target(entity string) slog.Attr  { return slog.String(KeyTarget, entity) }
func Subject(s string) slog.Attr      { return slog.String(KeySubject, s) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }

// Duration renders d as milliseconds under KeyDurationMS.
func Duration(d time.Duration) slog.Attr {
	return DurationMS(float64(d) / float64(time.Millisecond))
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
