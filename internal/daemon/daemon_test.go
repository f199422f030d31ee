package daemon

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/satellited/internal/actions"
	"git.home.luguber.info/inful/satellited/internal/config"
	"git.home.luguber.info/inful/satellited/internal/deferred"
	"git.home.luguber.info/inful/satellited/internal/menu"
	"git.home.luguber.info/inful/satellited/internal/statestore"
	"git.home.luguber.info/inful/satellited/internal/timers"
)

var refNow = time.Date(2024, time.May, 15, 14, 0, 0, 0, time.UTC)

const testConfig = `
nats: {subject_prefix: sat}
http: {admin_addr: "127.0.0.1:0"}
platform: {base_url: "http://ha.local:8123"}
timers: {alarm_media: /local/alarm.mp3, purge_interval: 0s}
menu: {debounce: 10ms, max_delay: 50ms}
devices:
  - entity_id: sensor.office
    mediaplayer_device: media_player.office
    menu: {menu_mode: enabled_visible, menu_items: [weather]}
`

type published struct {
	subject string
	data    []byte
}

// fakeConn records subscriptions and publishes in memory.
type fakeConn struct {
	mu       sync.Mutex
	handlers map[string]nats.MsgHandler
	sent     []published
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: map[string]nats.MsgHandler{}}
}

func (c *fakeConn) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[subject] = cb
	return nil, nil
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, published{subject: subject, data: data})
	return nil
}

// deliver runs the handler subscribed to pattern with a message on subject.
func (c *fakeConn) deliver(pattern, subject string, data []byte, reply string) {
	c.mu.Lock()
	h := c.handlers[pattern]
	c.mu.Unlock()
	if h != nil {
		h(&nats.Msg{Subject: subject, Data: data, Reply: reply})
	}
}

func (c *fakeConn) published(subject string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, p := range c.sent {
		if p.subject == subject {
			out = append(out, p.data)
		}
	}
	return out
}

type daemonFixture struct {
	daemon  *Daemon
	clock   *clockwork.FakeClock
	states  *statestore.MemoryStore
	invoker *actions.Recorder
	conn    *fakeConn
}

func newDaemonFixture(t *testing.T, yaml string) *daemonFixture {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(refNow)
	f := &daemonFixture{
		clock:   clock,
		states:  statestore.NewMemoryStore(),
		invoker: actions.NewRecorder(),
		conn:    newFakeConn(),
	}
	f.daemon, err = New(cfg, "", Deps{
		States:     f.states,
		Invoker:    f.invoker,
		TimerStore: timers.NewMemoryStore(),
		Conn:       f.conn,
		Clock:      clock,
		Scheduler:  deferred.NewClockScheduler(clock),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return f
}

func (f *daemonFixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.daemon.Start(t.Context()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, f.daemon.Stop(ctx))
	})
}

func (f *daemonFixture) request(t *testing.T, action string, args map[string]any) map[string]any {
	t.Helper()
	data, err := json.Marshal(args)
	require.NoError(t, err)
	f.conn.deliver("sat.action.*", "sat.action."+action, data, "_INBOX.reply")
	replies := f.conn.published("_INBOX.reply")
	require.NotEmpty(t, replies)
	var out map[string]any
	require.NoError(t, json.Unmarshal(replies[len(replies)-1], &out))
	return out
}

func TestDaemonStartRegistersServices(t *testing.T) {
	f := newDaemonFixture(t, testConfig)
	f.start(t)

	infos := f.daemon.Orchestrator().GetAllServiceInfo()
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
		assert.Equal(t, "running", string(info.Status), info.Name)
	}
	assert.ElementsMatch(t, []string{"admin", "alarms", "menu", "scheduler", "timers", "transport"}, names)
	assert.True(t, f.daemon.Orchestrator().Healthy())
	assert.NotEmpty(t, f.daemon.Admin().Addr())
}

func TestDaemonTimerExpiryNotifiesAndSoundsAlarm(t *testing.T) {
	f := newDaemonFixture(t, testConfig)
	f.start(t)

	reply := f.request(t, "set_timer", map[string]any{
		"device_id": "sensor.office",
		"time":      "in 5 minutes",
		"type":      "alarm",
		"name":      "tea",
	})
	require.Empty(t, reply["error"])
	data, ok := reply["data"].(map[string]any)
	require.True(t, ok)
	id, _ := data["timer_id"].(string)
	require.NotEmpty(t, id)

	f.clock.Advance(5 * time.Minute)

	require.Eventually(t, func() bool {
		return len(f.invoker.Calls("view_assist.timer_expired")) == 1 &&
			len(f.invoker.Calls("media_player.play_media")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	expired := f.invoker.Calls("view_assist.timer_expired")[0]
	assert.Equal(t, id, expired.Payload["timer_id"])
	assert.Equal(t, "alarm", expired.Payload["class"])
	assert.Equal(t, "tea", expired.Payload["name"])
	assert.Equal(t, false, expired.Payload["late"])

	play := f.invoker.Calls("media_player.play_media")[0]
	assert.Equal(t, "media_player.office", play.Payload["entity_id"])
	assert.Equal(t, "http://ha.local:8123/local/alarm.mp3", play.Payload["media_content_id"])
}

func TestDaemonActionErrorsCarryCategory(t *testing.T) {
	f := newDaemonFixture(t, testConfig)
	f.start(t)

	reply := f.request(t, "set_timer", map[string]any{"device_id": "sensor.office", "time": "whenever"})
	assert.Equal(t, "invalid_time", reply["code"])
	assert.NotEmpty(t, reply["error"])
	assert.Equal(t, "set_timer", reply["action"])

	reply = f.request(t, "no_such_action", nil)
	assert.Equal(t, "not_found", reply["code"])
}

func TestDaemonMenuWaitsForPlatformStart(t *testing.T) {
	f := newDaemonFixture(t, testConfig)
	f.start(t)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, f.daemon.manager.Wait(ctx), "menu stays idle until the platform starts")

	f.conn.deliver("sat.platform.started", "sat.platform.started", nil, "")

	ctx2, cancel2 := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel2()
	require.NoError(t, f.daemon.manager.Wait(ctx2))

	snap, ok := f.daemon.manager.State("sensor.office")
	require.True(t, ok)
	assert.Contains(t, snap.StatusIcons, menu.ToggleIcon)

	require.Eventually(t, func() bool {
		return len(f.conn.published("sat.menu.changed")) > 0
	}, 2*time.Second, 10*time.Millisecond)
	var changed map[string]any
	require.NoError(t, json.Unmarshal(f.conn.published("sat.menu.changed")[0], &changed))
	assert.Equal(t, "sensor.office", changed["entity_id"])
}

func TestDaemonForwardsMediaFinished(t *testing.T) {
	f := newDaemonFixture(t, testConfig)
	f.start(t)

	reply := f.request(t, "sound_alarm", map[string]any{
		"entity_id":   "media_player.office",
		"media_file":  "/local/beep.mp3",
		"max_repeats": 2,
	})
	require.Empty(t, reply["error"])
	require.Len(t, f.invoker.Calls("media_player.play_media"), 1)

	f.conn.deliver("sat.media.finished", "sat.media.finished", []byte(`{"entity_id":"media_player.office"}`), "")

	require.Eventually(t, func() bool {
		return len(f.invoker.Calls("media_player.play_media")) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDaemonReloadConfigSwapsMenuSettings(t *testing.T) {
	f := newDaemonFixture(t, testConfig)
	f.start(t)

	reply := f.request(t, "toggle_menu", map[string]any{"entity_id": "sensor.den", "show": true})
	assert.Equal(t, "not_found", reply["code"], "unconfigured device has no menu")

	cfg, err := config.Parse([]byte(testConfig + `  - entity_id: sensor.den
    menu: {menu_mode: enabled_hidden, menu_items: [lights]}
`))
	require.NoError(t, err)
	require.NoError(t, f.daemon.ReloadConfig(t.Context(), cfg))
	assert.Same(t, cfg, f.daemon.Config())

	reply = f.request(t, "toggle_menu", map[string]any{"entity_id": "sensor.den", "show": true})
	assert.Empty(t, reply["warning"])
	assert.Empty(t, reply["error"])
}

func TestNewRequiresDeps(t *testing.T) {
	cfg, err := config.Parse(nil)
	require.NoError(t, err)

	_, err = New(nil, "", Deps{})
	require.Error(t, err)
	_, err = New(cfg, "", Deps{States: statestore.NewMemoryStore()})
	require.Error(t, err)
}
