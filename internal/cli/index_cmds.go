package cli

import (
	"context"
	"strings"

	flag "github.com/spf13/pflag"
)

// ReindexCmd returns the reindex command.
func ReindexCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("reindex", flag.ContinueOnError),
		Usage: "reindex",
		Short: "Rebuild the SQLite index from the vault",
		Exec: func(ctx context.Context, io *IO, _ []string) error {
			idx, tr, err := a.Index(ctx)
			if err != nil {
				return err
			}

			n, err := idx.Rebuild(ctx, tr)
			if err != nil {
				return err
			}

			io.Printf("indexed %d documents\n", n)

			return nil
		},
	}
}

// DayCmd returns the day command.
func DayCmd(a *app) *Command {
	return &Command{
		Flags:   flag.NewFlagSet("day", flag.ContinueOnError),
		Usage:   "day [date]",
		Short:   "Show every tracker's value on one day",
		Long:    "Show every tracker's value on date (default: today), read from the SQLite index.",
		MaxArgs: 1,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			idx, tr, err := a.Index(ctx)
			if err != nil {
				return err
			}

			d, err := tr.ParseDate(dateArg(tr, args, 0))
			if err != nil {
				return err
			}

			values, err := idx.Day(ctx, d)
			if err != nil {
				return err
			}

			for _, v := range values {
				line := string(v.ID) + "\t" + v.Value.String()
				if v.Unit != "" {
					line += " " + v.Unit
				}

				io.Println(strings.TrimSpace(line))
			}

			return nil
		},
	}
}
