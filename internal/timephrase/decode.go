package timephrase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var unitWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11,
	"twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
}

var tensWords = map[string]int{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

const unitAlt = `days?|d|hours?|hrs?|h|minutes?|mins?|m|seconds?|secs?|s`

var (
	reDotTime = regexp.MustCompile(`\b(\d{1,2})\.(\d{2})\b`)
	reJunk    = regexp.MustCompile(`[^a-z0-9: ]+`)

	reThreeQuarterHour = regexp.MustCompile(`\b3 quarters? of an? hour\b`)
	reQuarterHour      = regexp.MustCompile(`\b(?:an? )?quarter (?:of an? )?hour\b`)
	reHalfHour         = regexp.MustCompile(`\bhalf an? hour\b`)
	reHalfMinute       = regexp.MustCompile(`\bhalf an? minute\b`)
	reUnitAndHalf      = regexp.MustCompile(`\b(\d+|an?) (hours?|minutes?) and a half\b`)
	reAndHalfUnit      = regexp.MustCompile(`\b(\d+) and a half (hours?|minutes?)\b`)

	reNoon        = regexp.MustCompile(`\bnoon\b`)
	reMidnight    = regexp.MustCompile(`\bmidnight\b`)
	reHalfPast    = regexp.MustCompile(`\bhalf past (\d{1,2})\b`)
	reQuarterPast = regexp.MustCompile(`\b(?:a )?quarter past (\d{1,2})\b`)
	reQuarterTo   = regexp.MustCompile(`\b(?:a )?quarter to (\d{1,2})\b`)
	reMinutesPast = regexp.MustCompile(`\b(\d{1,2}) (?:minutes? )?past (\d{1,2})\b`)
	reMinutesTo   = regexp.MustCompile(`\b(\d{1,2}) (?:minutes? )?to (\d{1,2})\b`)
	reSpokenClock = regexp.MustCompile(`\b(\d{1,2}) (\d{2}) ?(am|pm)\b`)
	reAtSpoken    = regexp.MustCompile(`\bat (\d{1,2}) (\d{2})\b`)
	reArticleUnit = regexp.MustCompile(`\ban? (` + unitAlt + `)\b`)

	reDay        = regexp.MustCompile(`\b(today|tonight|tomorrow|sunday|monday|tuesday|wednesday|thursday|friday|saturday)\b`)
	reClock      = regexp.MustCompile(`\b(\d{1,2}):(\d{2})(?::(\d{2}))?(?: ?(am|pm))?\b`)
	reMeridiem   = regexp.MustCompile(`\b(\d{1,2}) ?(am|pm)\b`)
	reAtHour     = regexp.MustCompile(`\bat (\d{1,2})\b`)
	reUnitPrefix = regexp.MustCompile(`^ ?(?:` + unitAlt + `)\b`)
	reDuration   = regexp.MustCompile(`\b(\d+) ?(` + unitAlt + `)\b`)
)

// Decode parses text and returns its canonical form together with the time
// expression it contains. The canonical sentence is lower case with number
// words written as digits. When no time expression is recognized the info is
// nil; that is a caller error, not a decoder failure.
func Decode(text string) (string, *Info) {
	sentence := canonicalize(text)
	if info := decodeClock(sentence); info != nil {
		return sentence, info
	}
	return sentence, decodeInterval(sentence)
}

func canonicalize(text string) string {
	s := strings.ToLower(text)
	s = strings.NewReplacer(
		"a.m.", "am", "p.m.", "pm",
		"o'clock", "", "o’clock", "", "oclock", "",
		"-", " ",
	).Replace(s)
	s = reDotTime.ReplaceAllString(s, "$1:$2")
	s = reJunk.ReplaceAllString(s, " ")
	s = strings.Join(wordsToDigits(strings.Fields(s)), " ")

	s = reThreeQuarterHour.ReplaceAllString(s, "45 minutes")
	s = reQuarterHour.ReplaceAllString(s, "15 minutes")
	s = reHalfHour.ReplaceAllString(s, "30 minutes")
	s = reHalfMinute.ReplaceAllString(s, "30 seconds")
	s = reUnitAndHalf.ReplaceAllStringFunc(s, func(m string) string {
		g := reUnitAndHalf.FindStringSubmatch(m)
		return withHalf(g[1], g[2])
	})
	s = reAndHalfUnit.ReplaceAllStringFunc(s, func(m string) string {
		g := reAndHalfUnit.FindStringSubmatch(m)
		return withHalf(g[1], g[2])
	})

	s = reNoon.ReplaceAllString(s, "12:00 pm")
	s = reMidnight.ReplaceAllString(s, "12:00 am")
	s = reHalfPast.ReplaceAllString(s, "$1:30")
	s = reQuarterPast.ReplaceAllString(s, "$1:15")
	s = reQuarterTo.ReplaceAllStringFunc(s, func(m string) string {
		h, _ := strconv.Atoi(reQuarterTo.FindStringSubmatch(m)[1])
		return fmt.Sprintf("%d:45", previousHour(h))
	})
	s = reMinutesPast.ReplaceAllStringFunc(s, func(m string) string {
		g := reMinutesPast.FindStringSubmatch(m)
		mins, _ := strconv.Atoi(g[1])
		if mins >= 60 {
			return m
		}
		return fmt.Sprintf("%s:%02d", g[2], mins)
	})
	s = reMinutesTo.ReplaceAllStringFunc(s, func(m string) string {
		g := reMinutesTo.FindStringSubmatch(m)
		mins, _ := strconv.Atoi(g[1])
		h, _ := strconv.Atoi(g[2])
		if mins == 0 || mins >= 60 {
			return m
		}
		return fmt.Sprintf("%d:%02d", previousHour(h), 60-mins)
	})
	s = reSpokenClock.ReplaceAllString(s, "$1:$2 $3")
	s = reAtSpoken.ReplaceAllString(s, "at $1:$2")
	s = reArticleUnit.ReplaceAllString(s, "1 $1")
	return strings.Join(strings.Fields(s), " ")
}

func wordsToDigits(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		if tens, ok := tensWords[tokens[i]]; ok {
			if i+1 < len(tokens) {
				if u, ok := unitWords[tokens[i+1]]; ok && u > 0 && u < 10 {
					out = append(out, strconv.Itoa(tens+u))
					i++
					continue
				}
			}
			out = append(out, strconv.Itoa(tens))
			continue
		}
		if n, ok := unitWords[tokens[i]]; ok {
			out = append(out, strconv.Itoa(n))
			continue
		}
		out = append(out, tokens[i])
	}
	return out
}

// withHalf renders "N units and a half" as whole units plus 30 of the next
// smaller unit.
func withHalf(count, unit string) string {
	if count == "a" || count == "an" {
		count = "1"
	}
	if strings.HasPrefix(unit, "hour") {
		return count + " hours 30 minutes"
	}
	return count + " minutes 30 seconds"
}

func previousHour(h int) int {
	switch {
	case h == 1:
		return 12
	case h == 0:
		return 23
	default:
		return h - 1
	}
}

func decodeClock(s string) *Info {
	ct := ClockTime{}
	found := false

	if g := reClock.FindStringSubmatch(s); g != nil {
		ct.Hour, _ = strconv.Atoi(g[1])
		ct.Minute, _ = strconv.Atoi(g[2])
		if g[3] != "" {
			ct.Second, _ = strconv.Atoi(g[3])
		}
		ct.Meridiem = g[4]
		found = true
	} else if g := reMeridiem.FindStringSubmatch(s); g != nil {
		ct.Hour, _ = strconv.Atoi(g[1])
		ct.Meridiem = g[2]
		found = true
	} else if loc := reAtHour.FindStringSubmatchIndex(s); loc != nil && !reUnitPrefix.MatchString(s[loc[1]:]) {
		ct.Hour, _ = strconv.Atoi(s[loc[2]:loc[3]])
		found = true
	}
	if !found {
		return nil
	}

	if g := reDay.FindStringSubmatch(s); g != nil {
		ct.Day = g[1]
		if ct.Day == "tonight" {
			ct.Day = DayToday
			if ct.Meridiem == "" && ct.Hour >= 1 && ct.Hour < 12 {
				ct.Meridiem = "pm"
			}
		}
	}
	if !validClock(ct) {
		return nil
	}
	return NewClock(ct)
}

func validClock(ct ClockTime) bool {
	if ct.Minute < 0 || ct.Minute > 59 || ct.Second < 0 || ct.Second > 59 {
		return false
	}
	if ct.Meridiem != "" {
		return ct.Hour >= 1 && ct.Hour <= 12
	}
	return ct.Hour >= 0 && ct.Hour <= 23
}

func decodeInterval(s string) *Info {
	matches := reDuration.FindAllStringSubmatch(s, -1)
	if matches == nil {
		return nil
	}
	var iv Interval
	for _, g := range matches {
		n, err := strconv.Atoi(g[1])
		if err != nil {
			continue
		}
		switch g[2][0] {
		case 'd':
			iv.Days += n
		case 'h':
			iv.Hours += n
		case 'm':
			iv.Minutes += n
		case 's':
			iv.Seconds += n
		}
	}
	if iv.IsZero() {
		return nil
	}
	return NewInterval(iv)
}
