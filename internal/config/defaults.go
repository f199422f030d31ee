package config

import (
	"fmt"
	"time"
)

// DefaultApplier applies defaults for one configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// CompositeDefaultApplier runs domain appliers in order.
type CompositeDefaultApplier struct {
	appliers []DefaultApplier
}

// NewDefaultApplier creates a composite default applier with all domain appliers.
func NewDefaultApplier() *CompositeDefaultApplier {
	return &CompositeDefaultApplier{
		appliers: []DefaultApplier{
			&coreDefaultApplier{},
			&transportDefaultApplier{},
			&timersDefaultApplier{},
			&menuDefaultApplier{},
		},
	}
}

// ApplyDefaults applies defaults for all configuration domains.
func (c *CompositeDefaultApplier) ApplyDefaults(cfg *Config) error {
	for _, applier := range c.appliers {
		if err := applier.ApplyDefaults(cfg); err != nil {
			return fmt.Errorf("applying defaults for %s: %w", applier.Domain(), err)
		}
	}
	return nil
}

// coreDefaultApplier handles version, logging and storage.
type coreDefaultApplier struct{}

func (coreDefaultApplier) Domain() string { return "core" }

func (coreDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Version == "" {
		cfg.Version = CurrentVersion
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = LogLevelInfo
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = LogFormatText
	}
	if cfg.Storage.TimersDB == "" {
		cfg.Storage.TimersDB = "./satellite-timers.db"
	}
	return nil
}

// transportDefaultApplier handles NATS, HTTP and metrics.
type transportDefaultApplier struct{}

func (transportDefaultApplier) Domain() string { return "transport" }

func (transportDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.NATS.Name == "" {
		cfg.NATS.Name = "satellited"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "satellite"
	}
	if cfg.NATS.KVBucket == "" {
		cfg.NATS.KVBucket = "satellite_state"
	}
	if cfg.HTTP.AdminAddr == "" {
		cfg.HTTP.AdminAddr = ":8085"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	return nil
}

// timersDefaultApplier handles timers and alarms.
type timersDefaultApplier struct{}

func (timersDefaultApplier) Domain() string { return "timers" }

func (timersDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Timers.ExpiredRetention == 0 {
		cfg.Timers.ExpiredRetention = time.Hour
	}
	if cfg.Timers.PurgeInterval == 0 {
		cfg.Timers.PurgeInterval = 5 * time.Minute
	}
	if cfg.Timers.NotifyNamespace == "" {
		cfg.Timers.NotifyNamespace = "view_assist"
	}
	if cfg.Alarms.FinishTimeout == 0 {
		cfg.Alarms.FinishTimeout = 2 * time.Minute
	}
	if cfg.Alarms.DefaultMediaType == "" {
		cfg.Alarms.DefaultMediaType = "music"
	}
	return nil
}

// menuDefaultApplier fills the bottom layer of the menu settings chain so
// every field resolves to a value.
type menuDefaultApplier struct{}

func (menuDefaultApplier) Domain() string { return "menu" }

func (menuDefaultApplier) ApplyDefaults(cfg *Config) error {
	m := &cfg.Menu
	if m.Debounce == 0 {
		m.Debounce = 40 * time.Millisecond
	}
	if m.MaxDelay == 0 {
		m.MaxDelay = 250 * time.Millisecond
	}
	if m.WriteRetries == nil {
		retries := 2
		m.WriteRetries = &retries
	}
	if m.WriteBackoff == "" {
		m.WriteBackoff = RetryBackoffExponential
	}
	if m.NavigateNamespace == "" {
		m.NavigateNamespace = "view_assist"
	}

	d := &m.Defaults
	if d.Mode == nil {
		mode := MenuModeDisabled
		d.Mode = &mode
	}
	if d.Items == nil {
		d.Items = []string{}
	}
	if d.Timeout == nil {
		var zero time.Duration
		d.Timeout = &zero
	}
	if d.CloseOnSelect == nil {
		closeOnSelect := true
		d.CloseOnSelect = &closeOnSelect
	}
	if d.Dashboard == nil {
		dashboard := "/view-assist"
		d.Dashboard = &dashboard
	}
	return nil
}
