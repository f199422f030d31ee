package daemon

import (
	"git.home.luguber.info/inful/satellited/internal/config"
	"git.home.luguber.info/inful/satellited/internal/menu"
)

// configResolver serves menu settings from a loaded configuration.
type configResolver struct {
	cfg *config.Config
}

func (r configResolver) MenuSettings(device string) (menu.Settings, bool) {
	res, configured := r.cfg.ResolveMenu(device)
	return menu.Settings{
		Mode:          menu.Mode(res.Mode),
		Items:         res.Items,
		Timeout:       res.Timeout,
		CloseOnSelect: res.CloseOnSelect,
		Dashboard:     res.Dashboard,
	}, configured
}

func (r configResolver) Devices() []string { return r.cfg.DeviceIDs() }
