package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/satellited/internal/config"
	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
	"git.home.luguber.info/inful/satellited/internal/timers"
)

// TimersCmd groups timer inspection commands.
type TimersCmd struct {
	List TimersListCmd `cmd:"" help:"List timers stored in the timer database"`
}

// TimersListCmd implements 'timers list'.
type TimersListCmd struct {
	DB      string `help:"Timer database path (defaults to storage.timers_db)"`
	Device  string `short:"d" help:"Only timers owned by this device"`
	Expired bool   `help:"Include expired and cancelled timers"`
}

func (l *TimersListCmd) Run(g *Global, root *CLI) error {
	path := l.DB
	if path == "" {
		cfg, err := config.Load(root.Config)
		if err != nil {
			return err
		}
		path = cfg.Storage.TimersDB
	}

	store, err := timers.NewSQLiteStore(path)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "open timer database").WithContext("path", path).Build()
	}
	defer func() { _ = store.Close() }()

	all, err := store.LoadAll(context.Background())
	if err != nil {
		return err
	}

	now := time.Now()
	tw := tabwriter.NewWriter(out(g), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tDEVICE\tCLASS\tNAME\tSTATUS\tFIRES\tREMAINING")
	for _, t := range all {
		if l.Device != "" && t.Owner != l.Device {
			continue
		}
		if !l.Expired && t.Status != timers.StatusActive {
			continue
		}
		remaining := "-"
		if t.Status == timers.StatusActive {
			remaining = t.Remaining(now).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Owner, t.Class, t.Name, t.Status, t.FireAt.Local().Format(time.DateTime), remaining)
	}
	return tw.Flush()
}
