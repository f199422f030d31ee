package timephrase

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Describe renders an interval as words, e.g. "1 hour and 30 minutes".
func Describe(iv Interval) string {
	var parts []string
	add := func(n int, unit string) {
		if n == 0 {
			return
		}
		if n != 1 {
			unit += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, unit))
	}
	add(iv.Days, "day")
	add(iv.Hours, "hour")
	add(iv.Minutes, "minute")
	add(iv.Seconds, "second")

	switch len(parts) {
	case 0:
		return "0 seconds"
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}

// DescribeUntil renders the time left from now to t, rounded to whole seconds.
func DescribeUntil(t, now time.Time) string {
	d := t.Sub(now).Round(time.Second)
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return Describe(Interval{
		Days:    secs / 86400,
		Hours:   secs % 86400 / 3600,
		Minutes: secs % 3600 / 60,
		Seconds: secs % 60,
	})
}

// FormatClock renders t as a spoken clock time relative to now:
// "7:30 AM", "7:30 AM tomorrow", "7:30 AM on Monday" or "7:30 AM on Jan 2".
func FormatClock(t, now time.Time) string {
	s := t.Format("3:04 PM")
	if t.Second() != 0 {
		s = t.Format("3:04:05 PM")
	}
	ty, tm, td := t.Date()
	today := time.Date(ty, tm, td, 0, 0, 0, 0, t.Location())
	ny, nm, nd := now.In(t.Location()).Date()
	nowDay := time.Date(ny, nm, nd, 0, 0, 0, 0, t.Location())
	days := int(math.Round(today.Sub(nowDay).Hours() / 24))

	switch {
	case days == 0:
		return s
	case days == 1:
		return s + " tomorrow"
	case days > 1 && days < 7:
		return s + " on " + t.Weekday().String()
	default:
		return s + " on " + t.Format("Jan 2")
	}
}
