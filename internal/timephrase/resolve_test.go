package timephrase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
)

// Wednesday afternoon.
var refNow = time.Date(2024, time.May, 15, 14, 0, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.May, day, hour, minute, 0, 0, time.UTC)
}

func TestResolveInterval(t *testing.T) {
	_, info := Decode("in 5 minutes")
	got, err := Resolve(info, refNow)
	require.NoError(t, err)
	require.Equal(t, refNow.Add(5*time.Minute), got)
}

func TestResolveNearestFutureOccurrence(t *testing.T) {
	cases := []struct {
		text string
		now  time.Time
		want time.Time
	}{
		{"at 7:30", refNow, at(15, 19, 30)},                     // PM still ahead today
		{"at 7:30", at(15, 20, 0), at(16, 7, 30)},               // both passed: tomorrow AM
		{"at 7:30", at(15, 6, 0), at(15, 7, 30)},                // AM still ahead
		{"at 12", at(15, 10, 0), at(15, 12, 0)},                 // noon
		{"at 12", at(15, 13, 0), at(16, 0, 0)},                  // midnight
		{"at 19:00", refNow, at(15, 19, 0)},                     // 24-hour
		{"at 13:00", refNow, at(16, 13, 0)},                     // 24-hour passed
		{"at 7 am", refNow, at(16, 7, 0)},                       // explicit meridiem passed
		{"at 3 pm", refNow, at(15, 15, 0)},                      // explicit meridiem ahead
		{"tomorrow at 7", refNow, at(16, 7, 0)},                 // tomorrow defaults to AM
		{"tomorrow at 7 pm", refNow, at(16, 19, 0)},             // tomorrow with meridiem
		{"friday at 8", refNow, at(17, 8, 0)},                   // later this week
		{"wednesday at 9", refNow, at(15, 21, 0)},               // same weekday, PM ahead
		{"wednesday at 9 am", refNow, at(22, 9, 0)},             // same weekday passed
		{"monday at 8:15 am", refNow, at(20, 8, 15)},            // next week
		{"today at 1", refNow, at(16, 1, 0)},                    // today passed rolls over
	}
	for _, c := range cases {
		_, info := Decode(c.text)
		require.NotNil(t, info, c.text)
		got, err := Resolve(info, c.now)
		require.NoError(t, err, c.text)
		require.Equal(t, c.want, got, c.text)
	}
}

func TestResolveRejectsInvalid(t *testing.T) {
	_, err := Resolve(nil, refNow)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryInvalidTime))

	_, err = Resolve(NewClock(ClockTime{Hour: 30}), refNow)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryInvalidTime))

	_, err = Resolve(NewClock(ClockTime{Hour: 7, Day: "someday"}), refNow)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryInvalidTime))

	_, err = Resolve(NewInterval(Interval{}), refNow)
	require.Error(t, err)
}

func TestResolveRejectsOverlongInterval(t *testing.T) {
	_, info := Decode("in 200000 days")
	require.NotNil(t, info)
	_, err := Resolve(info, refNow)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryInvalidTime))

	_, err = Resolve(NewInterval(Interval{Hours: 2_000_000, Days: 100_000}), refNow)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryInvalidTime))

	_, err = Resolve(NewInterval(Interval{Minutes: -5}), refNow)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryInvalidTime))

	got, err := Resolve(NewInterval(Interval{Days: 100_000}), refNow)
	require.NoError(t, err)
	require.True(t, got.After(refNow))
}

func TestDescribeAndFormat(t *testing.T) {
	require.Equal(t, "5 minutes", Describe(Interval{Minutes: 5}))
	require.Equal(t, "1 hour and 30 minutes", Describe(Interval{Hours: 1, Minutes: 30}))
	require.Equal(t, "2 days, 1 hour and 1 second", Describe(Interval{Days: 2, Hours: 1, Seconds: 1}))
	require.Equal(t, "0 seconds", Describe(Interval{}))
	require.Equal(t, "1 minute and 5 seconds", DescribeUntil(refNow.Add(65*time.Second), refNow))

	require.Equal(t, "7:30 PM", FormatClock(at(15, 19, 30), refNow))
	require.Equal(t, "7:00 AM tomorrow", FormatClock(at(16, 7, 0), refNow))
	require.Equal(t, "8:15 AM on Monday", FormatClock(at(20, 8, 15), refNow))
	require.Equal(t, "9:00 AM on May 22", FormatClock(at(22, 9, 0), refNow))
	require.Equal(t, "at 7:30 pm tomorrow", NewClock(ClockTime{Hour: 7, Minute: 30, Meridiem: "pm", Day: DayTomorrow}).String())
}
