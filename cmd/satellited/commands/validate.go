package commands

import (
	"fmt"

	"git.home.luguber.info/inful/satellited/internal/config"
	"git.home.luguber.info/inful/satellited/internal/version"
)

// ValidateCmd implements the 'validate' command.
type ValidateCmd struct{}

func (v *ValidateCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	w := out(g)
	for _, warning := range cfg.Warnings {
		_, _ = fmt.Fprintf(w, "warning: %s\n", warning)
	}
	_, err = fmt.Fprintf(w, "%s: ok (%d devices)\n", root.Config, len(cfg.Devices))
	return err
}

// VersionCmd implements the 'version' command.
type VersionCmd struct{}

func (v *VersionCmd) Run(g *Global, _ *CLI) error {
	_, err := fmt.Fprintln(out(g), version.String())
	return err
}
