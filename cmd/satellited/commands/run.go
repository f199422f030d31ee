package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/satellited/internal/config"
	"git.home.luguber.info/inful/satellited/internal/daemon"
	"git.home.luguber.info/inful/satellited/internal/version"
)

// RunCmd implements the 'run' command.
type RunCmd struct {
	NoWatch bool `help:"Do not reload the configuration file when it changes"`
}

func (r *RunCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	if root.Verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}
	logger := daemon.NewLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn("Configuration normalized", "detail", w)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting satellited", "version", version.Version, "config", root.Config)
	deps, cleanup, err := daemon.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	watchPath := root.Config
	if r.NoWatch {
		watchPath = ""
	}
	d, err := daemon.New(cfg, watchPath, *deps)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}
