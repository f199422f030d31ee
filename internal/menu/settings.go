package menu

import (
	"slices"
	"time"
)

// Mode controls whether a device has a menu and whether its toggle icon shows.
type Mode string

const (
	ModeDisabled       Mode = "disabled"
	ModeEnabledHidden  Mode = "enabled_hidden"
	ModeEnabledVisible Mode = "enabled_visible"
)

// Enabled reports whether menu operations are allowed.
func (m Mode) Enabled() bool { return m == ModeEnabledHidden || m == ModeEnabledVisible }

// ShowButton reports whether the toggle icon is part of the status icons.
func (m Mode) ShowButton() bool { return m == ModeEnabledVisible }

// Settings are the resolved menu settings of one device.
type Settings struct {
	Mode          Mode
	Items         []string
	Timeout       time.Duration
	CloseOnSelect bool
	// Dashboard is the path relative view names are joined to.
	Dashboard string
}

// Resolver supplies device settings. configured is false for devices the
// configuration does not name; their settings are the fallback values.
type Resolver interface {
	MenuSettings(device string) (s Settings, configured bool)
	Devices() []string
}

// StaticResolver resolves from a fixed map with a fallback for unknown devices.
type StaticResolver struct {
	Fallback Settings
	Device   map[string]Settings
}

func (r StaticResolver) MenuSettings(device string) (Settings, bool) {
	if s, ok := r.Device[device]; ok {
		return s, true
	}
	return r.Fallback, false
}

func (r StaticResolver) Devices() []string {
	out := make([]string, 0, len(r.Device))
	for d := range r.Device {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}
