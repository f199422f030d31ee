package config

import (
	"slices"
	"time"

	"git.home.luguber.info/inful/satellited/internal/foundation/normalization"
)

// MenuMode controls whether a device has a menu and whether its toggle icon shows.
type MenuMode string

const (
	MenuModeDisabled       MenuMode = "disabled"
	MenuModeEnabledHidden  MenuMode = "enabled_hidden"
	MenuModeEnabledVisible MenuMode = "enabled_visible"
)

var menuModeNormalizer = normalization.NewNormalizer("menu mode", map[string]MenuMode{
	"disabled":        MenuModeDisabled,
	"off":             MenuModeDisabled,
	"enabled_hidden":  MenuModeEnabledHidden,
	"hidden":          MenuModeEnabledHidden,
	"enabled_visible": MenuModeEnabledVisible,
	"visible":         MenuModeEnabledVisible,
	"enabled":         MenuModeEnabledVisible,
}, MenuModeDisabled)

// ResolvedMenu is a device's effective menu settings.
type ResolvedMenu struct {
	Mode          MenuMode
	Items         []string
	Timeout       time.Duration
	CloseOnSelect bool
	Dashboard     string
}

// ResolveMenu resolves entityID's settings, taking each field from the
// device, then master, then the menu defaults. configured reports whether the
// device is listed.
func (c *Config) ResolveMenu(entityID string) (resolved ResolvedMenu, configured bool) {
	dev, configured := c.Device(entityID)
	layers := []MenuOptions{dev.Menu, c.Master, c.Menu.Defaults}

	resolved.Mode = MenuModeDisabled
	for _, l := range slices.Backward(layers) {
		if l.Mode != nil {
			resolved.Mode = *l.Mode
		}
		if l.Items != nil {
			resolved.Items = slices.Clone(l.Items)
		}
		if l.Timeout != nil {
			resolved.Timeout = *l.Timeout
		}
		if l.CloseOnSelect != nil {
			resolved.CloseOnSelect = *l.CloseOnSelect
		}
		if l.Dashboard != nil {
			resolved.Dashboard = *l.Dashboard
		}
	}
	return resolved, configured
}

// DeviceIDs returns the configured device entity ids in file order.
func (c *Config) DeviceIDs() []string {
	ids := make([]string, 0, len(c.Devices))
	for _, d := range c.Devices {
		ids = append(ids, d.EntityID)
	}
	return ids
}
