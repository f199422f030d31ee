package timephrase

import (
	"time"

	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
)

// Resolve returns the absolute time info refers to, relative to now.
//
// Intervals are added to now. Clock times resolve to the nearest future
// occurrence:
//   - an explicit am/pm, an hour of 0 or an hour above 12 names one time of day
//   - a bare hour from 1 to 12 names two, H and H+12 (12 means midnight and noon)
//   - without a day, or with "today", the earliest candidate after now is
//     used, else tomorrow's earliest candidate
//   - "tomorrow" uses tomorrow's earliest candidate
//   - a weekday uses the next date with that weekday; on the same weekday the
//     earliest candidate after now is used, else the one a week later
func Resolve(info *Info, now time.Time) (time.Time, error) {
	if info == nil {
		return time.Time{}, ferrors.InvalidTimeError("no time expression").Build()
	}
	switch info.Kind {
	case KindInterval:
		if info.Interval.IsZero() {
			return time.Time{}, ferrors.InvalidTimeError("empty duration").Build()
		}
		if !info.Interval.Fits() {
			return time.Time{}, ferrors.InvalidTimeError("duration too long").
				WithContext("time", info.String()).
				Build()
		}
		return now.Add(info.Interval.Duration()), nil
	case KindClock:
		if !validClock(info.Clock) {
			return time.Time{}, ferrors.InvalidTimeError("clock time out of range").
				WithContext("time", info.String()).
				Build()
		}
		if info.Clock.Day != "" && info.Clock.Day != DayToday && info.Clock.Day != DayTomorrow {
			if _, ok := weekdays[info.Clock.Day]; !ok {
				return time.Time{}, ferrors.InvalidTimeError("unknown day").
					WithContext("day", info.Clock.Day).
					Build()
			}
		}
		return resolveClock(info.Clock, now), nil
	default:
		return time.Time{}, ferrors.InvalidTimeError("unknown time kind").Build()
	}
}

// candidateHours returns the 24-hour values ct may mean, ascending.
func candidateHours(ct ClockTime) []int {
	switch ct.Meridiem {
	case "am":
		return []int{ct.Hour % 12}
	case "pm":
		return []int{ct.Hour%12 + 12}
	}
	if ct.Hour == 0 || ct.Hour > 12 {
		return []int{ct.Hour}
	}
	return []int{ct.Hour % 12, ct.Hour%12 + 12}
}

func resolveClock(ct ClockTime, now time.Time) time.Time {
	hours := candidateHours(ct)
	y, m, d := now.Date()
	at := func(dayOffset, hour int) time.Time {
		return time.Date(y, m, d+dayOffset, hour, ct.Minute, ct.Second, 0, now.Location())
	}
	firstAfterNow := func(dayOffset int) (time.Time, bool) {
		for _, h := range hours {
			if t := at(dayOffset, h); t.After(now) {
				return t, true
			}
		}
		return time.Time{}, false
	}

	switch ct.Day {
	case DayTomorrow:
		return at(1, hours[0])
	case "", DayToday:
		if t, ok := firstAfterNow(0); ok {
			return t
		}
		return at(1, hours[0])
	default:
		ahead := (int(weekdays[ct.Day]) - int(now.Weekday()) + 7) % 7
		if ahead == 0 {
			if t, ok := firstAfterNow(0); ok {
				return t
			}
			ahead = 7
		}
		return at(ahead, hours[0])
	}
}
