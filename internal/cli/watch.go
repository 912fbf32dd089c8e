package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/habits/internal/tracker"
)

// WatchCmd returns the watch command.
func WatchCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("watch", flag.ContinueOnError),
		Usage: "watch",
		Short: "Follow vault changes and keep the index current",
		Long:  "Watch the vault for created, modified, renamed and removed documents and print each change until interrupted.",
		Exec: func(ctx context.Context, io *IO, _ []string) error {
			tr, err := a.Tracker(ctx)
			if err != nil {
				return err
			}

			changes := make(chan tracker.Change, 64)

			tr.OnChange(func(c tracker.Change) {
				select {
				case changes <- c:
				case <-ctx.Done():
				}
			})

			if _, err := a.StartWatcher(ctx); err != nil {
				return err
			}

			io.Println("watching", a.cfg.VaultDirAbs)

			for {
				select {
				case <-ctx.Done():
					return nil
				case c := <-changes:
					printChange(io, c)
				}
			}
		},
	}
}

func printChange(io *IO, c tracker.Change) {
	switch c.Kind {
	case tracker.Renamed:
		io.Println(c.Kind.String(), c.OldID, "->", c.ID)
	case tracker.AllChanged:
		io.Println(c.Kind.String())
	default:
		io.Println(c.Kind.String(), c.ID)
	}
}
