package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ValidateConfig checks a normalized and defaulted configuration.
func ValidateConfig(cfg *Config) error {
	return newConfigurationValidator(cfg).validate()
}

type configurationValidator struct {
	config *Config
}

func newConfigurationValidator(config *Config) *configurationValidator {
	return &configurationValidator{config: config}
}

func (cv *configurationValidator) validate() error {
	if cv.config.Version != CurrentVersion {
		return fmt.Errorf("unsupported configuration version: %s (expected %s)", cv.config.Version, CurrentVersion)
	}
	if err := cv.validateTransport(); err != nil {
		return err
	}
	if err := cv.validateDurations(); err != nil {
		return err
	}
	return cv.validateDevices()
}

func (cv *configurationValidator) validateTransport() error {
	u, err := url.Parse(cv.config.NATS.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid nats.url: %s", cv.config.NATS.URL)
	}
	if strings.ContainsAny(cv.config.NATS.SubjectPrefix, " *>") {
		return fmt.Errorf("nats.subject_prefix must not contain spaces or wildcards: %s", cv.config.NATS.SubjectPrefix)
	}
	if !strings.HasPrefix(cv.config.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/': %s", cv.config.Metrics.Path)
	}
	if base := cv.config.Platform.BaseURL; base != "" {
		if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid platform.base_url: %s", base)
		}
	}
	return nil
}

func (cv *configurationValidator) validateDurations() error {
	c := cv.config
	switch {
	case c.Menu.Debounce < 0:
		return errors.New("menu.debounce must not be negative")
	case c.Menu.MaxDelay < c.Menu.Debounce:
		return fmt.Errorf("menu.max_delay (%s) must be at least menu.debounce (%s)", c.Menu.MaxDelay, c.Menu.Debounce)
	case c.Timers.PurgeInterval < 0:
		return errors.New("timers.purge_interval must not be negative")
	case c.Timers.ExpiredRetention < 0:
		return errors.New("timers.expired_retention must not be negative")
	case c.Alarms.FinishTimeout < 0:
		return errors.New("alarms.finish_timeout must not be negative")
	case c.NATS.RequestTimeout < 0:
		return errors.New("nats.request_timeout must not be negative")
	}
	return nil
}

func (cv *configurationValidator) validateDevices() error {
	seen := make(map[string]bool, len(cv.config.Devices))
	for i, d := range cv.config.Devices {
		if d.EntityID == "" {
			return fmt.Errorf("devices[%d].entity_id cannot be empty", i)
		}
		if seen[d.EntityID] {
			return fmt.Errorf("duplicate device: %s", d.EntityID)
		}
		seen[d.EntityID] = true
	}
	return nil
}
