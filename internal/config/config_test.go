package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
	"git.home.luguber.info/inful/satellited/internal/retry"
)

const fullConfig = `version: "1.0"
logging: {level: debug, format: json}
nats: {url: "nats://broker:4222", subject_prefix: "home.", kv_bucket: displays}
http: {admin_addr: ":9090"}
metrics: {enabled: false}
storage: {timers_db: /var/lib/satellited/timers.db}
platform: {base_url: "http://homeassistant.local:8123", wait_for_platform: false}
timers: {expired_retention: 30m, purge_interval: 1m, alarm_media: /local/alarm.mp3}
alarms: {finish_timeout: 90s, default_media_type: audio/mp3}
menu:
  debounce: 20ms
  max_delay: 100ms
  write_retries: 0
  write_backoff: Fixed
  defaults: {menu_mode: disabled, menu_items: [], close_on_select: true, dashboard: /view-assist}
master: {menu_mode: Enabled-Visible, menu_timeout: 10s}
devices:
  - entity_id: sensor.office
    mediaplayer_device: media_player.office
    menu: {menu_items: [weather, music]}
  - entity_id: sensor.kitchen
    menu: {menu_mode: hidden, menu_timeout: 0s, dashboard: /kitchen}
`

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, LogLevelDebug, cfg.Logging.Level)
	assert.Equal(t, LogFormatJSON, cfg.Logging.Format)
	assert.Equal(t, "home", cfg.NATS.SubjectPrefix)
	assert.Equal(t, "displays", cfg.NATS.KVBucket)
	assert.False(t, cfg.Metrics.On())
	assert.False(t, cfg.Platform.Wait())
	assert.Equal(t, 30*time.Minute, cfg.Timers.ExpiredRetention)
	assert.Equal(t, 90*time.Second, cfg.Alarms.FinishTimeout)
	assert.Equal(t, 20*time.Millisecond, cfg.Menu.Debounce)

	policy := cfg.Menu.WritePolicy()
	assert.Equal(t, retry.BackoffFixed, policy.Mode)
	assert.Zero(t, policy.MaxRetries)

	dev, ok := cfg.Device("sensor.office")
	require.True(t, ok)
	assert.Equal(t, "media_player.office", dev.MediaPlayer)
	assert.Equal(t, []string{"sensor.office", "sensor.kitchen"}, cfg.DeviceIDs())
	assert.NotEmpty(t, cfg.Warnings, "case-folded enums are reported")
}

func TestParseEmptyAppliesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Equal(t, LogLevelInfo, cfg.Logging.Level)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "satellite", cfg.NATS.SubjectPrefix)
	assert.Equal(t, ":8085", cfg.HTTP.AdminAddr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.True(t, cfg.Metrics.On())
	assert.True(t, cfg.Platform.Wait())
	assert.Equal(t, time.Hour, cfg.Timers.ExpiredRetention)
	assert.Equal(t, 5*time.Minute, cfg.Timers.PurgeInterval)
	assert.Equal(t, 40*time.Millisecond, cfg.Menu.Debounce)
	assert.Equal(t, 250*time.Millisecond, cfg.Menu.MaxDelay)
	assert.Equal(t, 2, cfg.Menu.WritePolicy().MaxRetries)
	assert.Equal(t, "view_assist", cfg.Menu.NavigateNamespace)
}

func TestResolveMenuHierarchy(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	office, configured := cfg.ResolveMenu("sensor.office")
	assert.True(t, configured)
	assert.Equal(t, ResolvedMenu{
		Mode:          MenuModeEnabledVisible,
		Items:         []string{"weather", "music"},
		Timeout:       10 * time.Second,
		CloseOnSelect: true,
		Dashboard:     "/view-assist",
	}, office)

	kitchen, _ := cfg.ResolveMenu("sensor.kitchen")
	assert.Equal(t, MenuModeEnabledHidden, kitchen.Mode)
	assert.Zero(t, kitchen.Timeout, "device value beats master")
	assert.Equal(t, "/kitchen", kitchen.Dashboard)
	assert.Empty(t, kitchen.Items)

	other, configured := cfg.ResolveMenu("sensor.garage")
	assert.False(t, configured)
	assert.Equal(t, MenuModeEnabledVisible, other.Mode, "master applies to unlisted devices")
}

func TestParseExpandsEnvironment(t *testing.T) {
	t.Setenv("SATELLITE_NATS", "nats://env-broker:4222")
	cfg, err := Parse([]byte(`nats: {url: "${SATELLITE_NATS}"}`))
	require.NoError(t, err)
	assert.Equal(t, "nats://env-broker:4222", cfg.NATS.URL)
}

func TestNormalizationWarnings(t *testing.T) {
	cfg, err := Parse([]byte(`
logging: {level: loud}
devices:
  - entity_id: " sensor.a "
    menu: {menu_mode: sideways, menu_items: [weather, "", weather, music]}
`))
	require.NoError(t, err)

	assert.Equal(t, LogLevelInfo, cfg.Logging.Level)
	dev, ok := cfg.Device("sensor.a")
	require.True(t, ok)
	assert.Equal(t, MenuModeDisabled, *dev.Menu.Mode)
	assert.Equal(t, []string{"weather", "music"}, dev.Menu.Items)
	assert.Len(t, cfg.Warnings, 3)
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]string{
		"version":          `version: "9.9"`,
		"duplicate device": "devices: [{entity_id: sensor.a}, {entity_id: sensor.a}]",
		"empty device":     "devices: [{mediaplayer_device: media_player.a}]",
		"max delay":        "menu: {debounce: 300ms, max_delay: 100ms}",
		"nats url":         `nats: {url: "not a url"}`,
		"wildcard prefix":  `nats: {subject_prefix: "sat.*"}`,
		"base url":         `platform: {base_url: "homeassistant"}`,
		"unknown field":    "menu: {colour: blue}",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			require.Error(t, err)
			assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "satellited.yaml")
	require.NoError(t, os.WriteFile(path, []byte("devices: [{entity_id: sensor.a}]\n"), 0o600))

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(_ context.Context, cfg *Config) error {
		reloaded <- cfg
		return nil
	}, nil)
	require.NoError(t, err)
	w.WithDebounce(20 * time.Millisecond)

	require.NoError(t, w.Start(t.Context()))
	t.Cleanup(func() { _ = w.Stop(context.Background()) })

	require.NoError(t, os.WriteFile(path, []byte("devices: [{entity_id: sensor.a}, {entity_id: sensor.b}]\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, []string{"sensor.a", "sensor.b"}, cfg.DeviceIDs())
	case <-time.After(5 * time.Second):
		t.Fatal("configuration was not reloaded")
	}
	require.NoError(t, w.Stop(context.Background()))
	require.NoError(t, w.Stop(context.Background()))
}
