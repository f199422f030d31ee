package commands

import (
	"io"
	"log/slog"
	"os"
)

// Global is shared state passed to every command.
type Global struct {
	Logger *slog.Logger
	Out    io.Writer
}

// CLI definition and global flags.
type CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"satellited.yaml" env:"SATELLITED_CONFIG"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run      RunCmd      `cmd:"" default:"1" help:"Run the satellite service"`
	Decode   DecodeCmd   `cmd:"" help:"Decode a spoken time expression"`
	Timers   TimersCmd   `cmd:"" help:"Inspect persisted timers"`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration file"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// AfterApply sets up the default logger once flags are parsed.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

func out(g *Global) io.Writer {
	if g == nil || g.Out == nil {
		return os.Stdout
	}
	return g.Out
}
