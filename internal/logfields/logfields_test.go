package logfields

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		attr slog.Attr
		key  string
		val  string
	}{
		{Device("sensor.office"), KeyDevice, "sensor.office"},
		{TimerID("t1"), KeyTimerID, "t1"},
		{TimerClass("alarm"), KeyTimerClass, "alarm"},
		{Item("weather"), KeyItem, "weather"},
		{Action("set_timer"), KeyAction, "set_timer"},
		{Target("media_player.office"), KeyTarget, "media_player.office"},
		{Subject("satellite.action.x"), KeySubject, "satellite.action.x"},
		{Path("/view-assist/clock"), KeyPath, "/view-assist/clock"},
	}
	for _, c := range cases {
		require.Equal(t, c.key, c.attr.Key)
		require.Equal(t, c.val, c.attr.Value.String())
	}
}

func TestNumericAndErrorHelpers(t *testing.T) {
	require.InDelta(t, 1500.0, Duration(1500*time.Millisecond).Value.Float64(), 0.001)
	require.Equal(t, int64(3), Attempt(3).Value.Int64())
	require.Equal(t, "boom", Error(errors.New("boom")).Value.String())
	require.Empty(t, Error(nil).Value.String())
}
