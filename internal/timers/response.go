package timers

import (
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"git.home.luguber.info/inful/satellited/internal/timephrase"
)

// label renders "Timer", "Alarm" or "Pasta timer" for responses.
func label(t Timer) string {
	title := cases.Title(language.English)
	if t.Name == "" {
		return title.String(t.Class)
	}
	return title.String(t.Name) + " " + t.Class
}

func setResponse(t Timer, info *timephrase.Info, now time.Time) string {
	return label(t) + " set " + when(t, info, now)
}

func snoozeResponse(t Timer, info *timephrase.Info, now time.Time) string {
	if info.Kind == timephrase.KindInterval {
		return label(t) + " snoozed for " + timephrase.Describe(info.Interval)
	}
	return label(t) + " snoozed until " + timephrase.FormatClock(t.FireAt, now)
}

func when(t Timer, info *timephrase.Info, now time.Time) string {
	if info.Kind == timephrase.KindInterval {
		return "for " + timephrase.Describe(info.Interval)
	}
	return "for " + timephrase.FormatClock(t.FireAt, now)
}
