package statestore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyDeletesNilKeys(t *testing.T) {
	a := Attributes{"menu_active": true, "mode": "hold"}
	out := a.Apply(Attributes{"mode": nil, "status_icons": []string{"mic"}})

	require.Equal(t, Attributes{"menu_active": true, "status_icons": []string{"mic"}}, out)
	require.Equal(t, "hold", a.String("mode"), "original untouched")
}

func TestChangesIgnoresEqualValuesAcrossRepresentations(t *testing.T) {
	current := Attributes{
		"status_icons": []any{"mic", "menu"},
		"menu_active":  false,
		"timeout":      float64(10),
	}
	require.Nil(t, current.Changes(Attributes{
		"status_icons": []string{"mic", "menu"},
		"menu_active":  false,
		"timeout":      10,
		"absent":       nil,
	}))

	diff := current.Changes(Attributes{"menu_active": true, "status_icons": []string{"mic"}})
	require.Equal(t, Attributes{"menu_active": true, "status_icons": []string{"mic"}}, diff)
}

func TestEnsureList(t *testing.T) {
	require.Equal(t, []string{"weather", "music"}, EnsureList("[weather, 'music']"))
	require.Equal(t, []string{"weather"}, EnsureList("weather"))
	require.Equal(t, []string{"a", "b"}, EnsureList([]any{"a", nil, "b"}))
	require.Nil(t, EnsureList(""))
	require.Nil(t, EnsureList(nil))
	require.Equal(t, []string{"5"}, EnsureList(5))
}

func TestTypedAccessors(t *testing.T) {
	a := Attributes{"on": "on", "flag": true, "n": float64(3), "list": "x,y"}
	require.True(t, a.Bool("on"))
	require.True(t, a.Bool("flag"))
	require.False(t, a.Bool("missing"))
	f, ok := a.Float("n")
	require.True(t, ok)
	require.InDelta(t, 3.0, f, 0)
	require.Equal(t, []string{"x", "y"}, a.Strings("list"))
	require.Equal(t, "3", a.String("n"))
	require.True(t, a.Has("n"))
}

func TestMemoryStoreReadWrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.Read(ctx, "sensor.office")
	require.True(t, IsNotFound(err))

	require.NoError(t, m.Write(ctx, "sensor.office", Attributes{"menu_active": true}))
	got, err := m.Read(ctx, "sensor.office")
	require.NoError(t, err)
	require.True(t, got.Bool("menu_active"))
	require.Len(t, m.Writes("sensor.office"), 1)
	require.Empty(t, m.Writes("sensor.kitchen"))

	m.FailWrites(1, errors.New("offline"))
	require.Error(t, m.Write(ctx, "sensor.office", Attributes{"menu_active": false}))
	require.NoError(t, m.Write(ctx, "sensor.office", Attributes{"menu_active": false}))
	require.Len(t, m.Writes(""), 2)
}
