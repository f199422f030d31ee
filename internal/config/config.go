// Package config loads the daemon's YAML configuration: environment files
// and variable expansion first, then normalization, defaults and validation.
package config

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
)

// CurrentVersion is the configuration format this build understands.
const CurrentVersion = "1.0"

// Config is the complete daemon configuration.
type Config struct {
	Version  string         `yaml:"version"`
	Logging  LoggingConfig  `yaml:"logging"`
	NATS     NATSConfig     `yaml:"nats"`
	HTTP     HTTPConfig     `yaml:"http"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Storage  StorageConfig  `yaml:"storage"`
	Platform PlatformConfig `yaml:"platform"`
	Timers   TimersConfig   `yaml:"timers"`
	Alarms   AlarmsConfig   `yaml:"alarms"`
	Menu     MenuConfig     `yaml:"menu"`
	// Master settings apply to every device before the menu defaults.
	Master  MenuOptions    `yaml:"master"`
	Devices []DeviceConfig `yaml:"devices"`

	// Warnings collected by normalization.
	Warnings []string `yaml:"-"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// NATSConfig configures the message bus connection.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	Name           string        `yaml:"name"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	KVBucket       string        `yaml:"kv_bucket"`
	// RequestTimeout makes outbound actions wait for a reply. Zero publishes
	// without waiting.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// HTTPConfig configures the admin server.
type HTTPConfig struct {
	AdminAddr string `yaml:"admin_addr"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// On reports whether metrics are enabled (the default).
func (m MetricsConfig) On() bool { return m.Enabled == nil || *m.Enabled }

type StorageConfig struct {
	TimersDB string `yaml:"timers_db"`
}

// PlatformConfig describes the home automation platform the daemon serves.
type PlatformConfig struct {
	BaseURL         string `yaml:"base_url"`
	WaitForPlatform *bool  `yaml:"wait_for_platform"`
}

// Wait reports whether startup waits for the platform-started signal.
func (p PlatformConfig) Wait() bool { return p.WaitForPlatform == nil || *p.WaitForPlatform }

type TimersConfig struct {
	ExpiredRetention time.Duration `yaml:"expired_retention"`
	PurgeInterval    time.Duration `yaml:"purge_interval"`
	// NotifyNamespace receives the timer_expired action.
	NotifyNamespace string `yaml:"notify_namespace"`
	// AlarmMedia, when set, is sounded on the owner's media player when an
	// alarm class timer expires.
	AlarmMedia string `yaml:"alarm_media"`
}

type AlarmsConfig struct {
	FinishTimeout    time.Duration `yaml:"finish_timeout"`
	DefaultMediaType string        `yaml:"default_media_type"`
}

// MenuConfig tunes the menu manager and its write publisher.
type MenuConfig struct {
	Debounce          time.Duration    `yaml:"debounce"`
	MaxDelay          time.Duration    `yaml:"max_delay"`
	WriteRetries      *int             `yaml:"write_retries"`
	WriteBackoff      RetryBackoffMode `yaml:"write_backoff"`
	NavigateNamespace string           `yaml:"navigate_namespace"`
	Defaults          MenuOptions      `yaml:"defaults"`
}

// MenuOptions are per-device menu settings. Unset fields fall through the
// device, master, defaults chain.
type MenuOptions struct {
	Mode          *MenuMode      `yaml:"menu_mode"`
	Items         []string       `yaml:"menu_items"`
	Timeout       *time.Duration `yaml:"menu_timeout"`
	CloseOnSelect *bool          `yaml:"close_on_select"`
	Dashboard     *string        `yaml:"dashboard"`
}

// DeviceConfig is one satellite display.
type DeviceConfig struct {
	EntityID    string      `yaml:"entity_id"`
	MediaPlayer string      `yaml:"mediaplayer_device"`
	Menu        MenuOptions `yaml:"menu"`
}

// Load reads, normalizes, defaults and validates the configuration at path.
// Variables from .env and .env.local are loaded first without overriding the
// process environment.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ferrors.ConfigError("configuration file not found").
			WithContext("path", configPath).
			Build()
	}
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "read config file").
			WithContext("path", configPath).
			Build()
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes. ${VAR} references are
// expanded from the environment.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "parse config").Build()
	}

	res, err := NormalizeConfig(&cfg)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "normalize config").Build()
	}
	cfg.Warnings = res.Warnings

	if err := NewDefaultApplier().ApplyDefaults(&cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "apply defaults").Build()
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "configuration validation failed").Build()
	}
	return &cfg, nil
}

// Device returns the device configuration for entityID.
func (c *Config) Device(entityID string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.EntityID == entityID {
			return d, true
		}
	}
	return DeviceConfig{}, false
}
