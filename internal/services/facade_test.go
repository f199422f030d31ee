package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/satellited/internal/actions"
	"git.home.luguber.info/inful/satellited/internal/alarms"
	"git.home.luguber.info/inful/satellited/internal/deferred"
	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
	"git.home.luguber.info/inful/satellited/internal/menu"
	"git.home.luguber.info/inful/satellited/internal/metrics"
	"git.home.luguber.info/inful/satellited/internal/retry"
	"git.home.luguber.info/inful/satellited/internal/statestore"
	"git.home.luguber.info/inful/satellited/internal/timers"
)

var refNow = time.Date(2024, time.May, 15, 14, 0, 0, 0, time.UTC)

const (
	office  = "sensor.office"
	kitchen = "sensor.kitchen"
	speaker = "media_player.office"
)

type actionCount struct {
	action string
	result metrics.ResultLabel
}

type countingRecorder struct {
	metrics.NoopRecorder
	mu     sync.Mutex
	counts map[actionCount]int
}

func (r *countingRecorder) IncAction(action string, result metrics.ResultLabel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[actionCount]int{}
	}
	r.counts[actionCount{action, result}]++
}

func (r *countingRecorder) count(action string, result metrics.ResultLabel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[actionCount{action, result}]
}

type facadeFixture struct {
	clock    *clockwork.FakeClock
	states   *statestore.MemoryStore
	invoker  *actions.Recorder
	pub      *menu.Publisher
	recorder *countingRecorder
	facade   *Facade
}

func newFacadeFixture(t *testing.T) *facadeFixture {
	t.Helper()
	f := &facadeFixture{
		clock:    clockwork.NewFakeClockAt(refNow),
		states:   statestore.NewMemoryStore(),
		invoker:  actions.NewRecorder(),
		recorder: &countingRecorder{},
	}
	f.states.Set(office, statestore.Attributes{menu.AttrStatusIcons: []any{"mic"}})
	f.states.Set(kitchen, statestore.Attributes{menu.AttrStatusIcons: []any{"mic"}})
	sched := deferred.NewClockScheduler(f.clock)

	n := 0
	engine := timers.NewEngine(timers.NewMemoryStore(),
		timers.WithClock(f.clock),
		timers.WithScheduler(sched),
		timers.WithIDGenerator(func() string { n++; return "t" + string(rune('0'+n)) }),
	)
	t.Cleanup(engine.Stop)

	repeater := alarms.NewRepeater(alarms.NewActionPlayer(f.invoker, f.states), alarms.WithScheduler(sched))

	f.pub = menu.NewPublisher(f.states, sched, f.clock,
		menu.PublisherConfig{Retry: retry.NewPolicy(retry.BackoffFixed, time.Millisecond, time.Millisecond, 0)}, nil, nil)
	mgr, err := menu.NewManager(menu.Config{
		Store:     f.states,
		Publisher: f.pub,
		Invoker:   f.invoker,
		Scheduler: sched,
		Resolver: menu.StaticResolver{
			Fallback: menu.Settings{Mode: menu.ModeDisabled},
			Device: map[string]menu.Settings{
				office:  {Mode: menu.ModeEnabledVisible, Items: []string{"weather", "music"}, CloseOnSelect: true},
				kitchen: {Mode: menu.ModeDisabled},
			},
		},
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Stop)

	f.facade = NewFacade(FacadeConfig{
		Timers:   engine,
		Alarms:   repeater,
		Menu:     mgr,
		Clock:    f.clock,
		Recorder: f.recorder,
	})
	return f
}

func (f *facadeFixture) icons(t *testing.T, device string) []string {
	t.Helper()
	require.NoError(t, f.pub.FlushAll(t.Context()))
	attrs, err := f.states.Read(t.Context(), device)
	require.NoError(t, err)
	return attrs.Strings(menu.AttrStatusIcons)
}

func TestFacadeActions(t *testing.T) {
	f := newFacadeFixture(t)
	assert.Equal(t, []string{
		"add_status_item", "cancel_sound_alarm", "cancel_timer", "decode_time",
		"get_timers", "process_menu_action", "refresh_menu", "remove_status_item",
		"set_timer", "snooze_timer", "sound_alarm", "toggle_menu",
	}, f.facade.Actions())

	bare := NewFacade(FacadeConfig{})
	assert.Equal(t, []string{"decode_time"}, bare.Actions())
}

func TestFacadeSetAndGetTimer(t *testing.T) {
	f := newFacadeFixture(t)
	ctx := t.Context()

	resp, err := f.facade.Handle(ctx, ActionSetTimer, map[string]any{
		"type":      "timer",
		"device_id": "device_x",
		"time":      "in 5 minutes",
	})
	require.NoError(t, err)
	assert.Equal(t, "set_timer", resp.Action)
	assert.Equal(t, "Timer set for 5 minutes", resp.Response)
	assert.Equal(t, "t1", resp.Data["timer_id"])

	got, err := f.facade.Handle(ctx, ActionGetTimers, map[string]any{"device_id": "device_x"})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Data["count"])
	list := got.Data["timers"].([]map[string]any)
	assert.Equal(t, refNow.Add(5*time.Minute).Format(time.RFC3339), list[0]["fire_at"])
	assert.Equal(t, "5 minutes", list[0]["remaining"])
	assert.Equal(t, 300, list[0]["remaining_seconds"])

	assert.Equal(t, 1, f.recorder.count(ActionSetTimer, metrics.ResultSuccess))
}

func TestFacadeSetTimerWithoutTimeIsInvalid(t *testing.T) {
	f := newFacadeFixture(t)
	_, err := f.facade.Handle(t.Context(), ActionSetTimer, map[string]any{"device_id": "device_x", "time": "whenever"})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryInvalidTime))
	assert.Equal(t, 1, f.recorder.count(ActionSetTimer, metrics.ResultFailed))
}

func TestFacadeCancelTwiceIsNotFound(t *testing.T) {
	f := newFacadeFixture(t)
	ctx := t.Context()

	_, err := f.facade.Handle(ctx, ActionSetTimer, map[string]any{"device_id": "device_x", "time": "10 minutes"})
	require.NoError(t, err)

	resp, err := f.facade.Handle(ctx, ActionCancelTimer, map[string]any{"timer_id": "t1"})
	require.NoError(t, err)
	assert.Equal(t, "Timer cancelled", resp.Response)
	assert.Equal(t, 1, resp.Data["cancelled"])

	_, err = f.facade.Handle(ctx, ActionCancelTimer, map[string]any{"timer_id": "t1"})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
}

func TestFacadeCancelAllAcceptsStringBool(t *testing.T) {
	f := newFacadeFixture(t)
	ctx := t.Context()
	for _, owner := range []string{"a", "b"} {
		_, err := f.facade.Handle(ctx, ActionSetTimer, map[string]any{"device_id": owner, "time": "in 3 minutes"})
		require.NoError(t, err)
	}

	resp, err := f.facade.Handle(ctx, ActionCancelTimer, map[string]any{"cancel_all": "true"})
	require.NoError(t, err)
	assert.Equal(t, "2 timers cancelled", resp.Response)

	_, err = f.facade.Handle(ctx, ActionCancelTimer, map[string]any{"cancel_all": "maybe"})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryInvalidArgument))
}

func TestFacadeSnoozeRequiresID(t *testing.T) {
	f := newFacadeFixture(t)
	_, err := f.facade.Handle(t.Context(), ActionSnoozeTimer, map[string]any{"time": "5 minutes"})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryInvalidArgument))
}

func TestFacadeDecodeTime(t *testing.T) {
	f := newFacadeFixture(t)

	resp, err := f.facade.Handle(t.Context(), ActionDecodeTime, map[string]any{"time": "in 90 seconds"})
	require.NoError(t, err)
	assert.Equal(t, "interval", resp.Data["kind"])
	assert.Equal(t, refNow.Add(90*time.Second).Format(time.RFC3339), resp.Data["fire_at"])

	_, err = f.facade.Handle(t.Context(), ActionDecodeTime, map[string]any{"time": "soonish"})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryInvalidTime))
}

func TestFacadeUnknownAction(t *testing.T) {
	f := newFacadeFixture(t)
	resp, err := f.facade.Handle(t.Context(), "launch_rocket", nil)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
	assert.Equal(t, "launch_rocket", resp.Action)
}

func TestFacadeToggleMenu(t *testing.T) {
	f := newFacadeFixture(t)
	ctx := t.Context()

	resp, err := f.facade.Handle(ctx, ActionToggleMenu, map[string]any{"entity_id": office, "timeout": "0"})
	require.NoError(t, err)
	assert.Equal(t, true, resp.Data["menu_active"])
	assert.Equal(t, []string{"mic", "weather", "music", menu.ToggleIcon}, f.icons(t, office))

	resp, err = f.facade.Handle(ctx, ActionToggleMenu, map[string]any{"entity_id": office, "show": false})
	require.NoError(t, err)
	assert.Equal(t, false, resp.Data["menu_active"])
	assert.Equal(t, []string{"mic", menu.ToggleIcon}, f.icons(t, office))
}

func TestFacadeDisabledMenuIsWarning(t *testing.T) {
	f := newFacadeFixture(t)

	resp, err := f.facade.Handle(t.Context(), ActionToggleMenu, map[string]any{"entity_id": kitchen})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Warning)
	assert.Empty(t, resp.Error)
	assert.Equal(t, 1, f.recorder.count(ActionToggleMenu, metrics.ResultWarning))
}

func TestFacadeAddStatusItemParsesListString(t *testing.T) {
	f := newFacadeFixture(t)

	resp, err := f.facade.Handle(t.Context(), ActionAddStatusItem, map[string]any{
		"entity_id":   office,
		"status_item": "[timer, 'alarm']",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"timer", "alarm"}, resp.Data["items"])
	assert.Equal(t, []string{"mic", "timer", "alarm", menu.ToggleIcon}, f.icons(t, office))

	_, err = f.facade.Handle(t.Context(), ActionRemoveStatusItem, map[string]any{
		"entity_id":   office,
		"status_item": "alarm",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"mic", "timer", menu.ToggleIcon}, f.icons(t, office))
}

func TestFacadeMenuRequiresDevice(t *testing.T) {
	f := newFacadeFixture(t)
	for _, action := range []string{ActionToggleMenu, ActionAddStatusItem, ActionRemoveStatusItem, ActionProcessMenuAction} {
		_, err := f.facade.Handle(t.Context(), action, map[string]any{"status_item": "x", "menu_action": "view:x"})
		assert.True(t, ferrors.HasCategory(err, ferrors.CategoryInvalidArgument), action)
	}
}

func TestFacadeInvalidTimeout(t *testing.T) {
	f := newFacadeFixture(t)
	_, err := f.facade.Handle(t.Context(), ActionToggleMenu, map[string]any{"entity_id": office, "timeout": "soon"})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryInvalidArgument))
	_, err = f.facade.Handle(t.Context(), ActionToggleMenu, map[string]any{"entity_id": office, "timeout": -5.0})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryInvalidArgument))
}

func TestFacadeProcessMenuAction(t *testing.T) {
	f := newFacadeFixture(t)
	ctx := t.Context()

	_, err := f.facade.Handle(ctx, ActionProcessMenuAction, map[string]any{"entity_id": office, "menu_action": "service:light.toggle"})
	require.NoError(t, err)
	assert.Len(t, f.invoker.Calls("light.toggle"), 1)
}

func TestFacadeExternalFailureBecomesResponseError(t *testing.T) {
	f := newFacadeFixture(t)
	f.invoker.OnInvoke(func(actions.Call) error { return errors.New("offline") })

	resp, err := f.facade.Handle(t.Context(), ActionSoundAlarm, map[string]any{
		"entity_id":  speaker,
		"media_file": "http://media/alarm.mp3",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Error)
	assert.Equal(t, 1, f.recorder.count(ActionSoundAlarm, metrics.ResultFailed))
}

func TestFacadeSoundAndCancelAlarm(t *testing.T) {
	f := newFacadeFixture(t)
	ctx := t.Context()

	resp, err := f.facade.Handle(ctx, ActionSoundAlarm, map[string]any{
		"entity_id":    speaker,
		"media_file":   "http://media/alarm.mp3",
		"max_repeats":  "3",
		"resume_media": true,
	})
	require.NoError(t, err)
	assert.Equal(t, "http://media/alarm.mp3", resp.Data["media_url"])
	assert.Len(t, f.invoker.Calls("media_player.play_media"), 1)

	resp, err = f.facade.Handle(ctx, ActionCancelSoundAlarm, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Data["cancelled"])
}

func TestArgDuration(t *testing.T) {
	cases := map[string]struct {
		in   any
		want time.Duration
	}{
		"int seconds":    {in: 30, want: 30 * time.Second},
		"float seconds":  {in: 1.5, want: 1500 * time.Millisecond},
		"numeric string": {in: "20", want: 20 * time.Second},
		"go duration":    {in: "2m", want: 2 * time.Minute},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			d, err := argDuration(map[string]any{"timeout": tc.in}, "timeout")
			require.NoError(t, err)
			require.NotNil(t, d)
			assert.Equal(t, tc.want, *d)
		})
	}

	d, err := argDuration(map[string]any{}, "timeout")
	require.NoError(t, err)
	assert.Nil(t, d)
}
