package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/habits/internal/habit"
	"github.com/calvinalkan/habits/internal/tracker"
	"github.com/calvinalkan/habits/pkg/dates"
)

var errNoEntry = errors.New("no entry")

// LsCmd returns the ls command.
func LsCmd(a *app) *Command {
	return &Command{
		Flags:   flag.NewFlagSet("ls", flag.ContinueOnError),
		Usage:   "ls [folder]",
		Short:   "List tracker documents",
		Long:    "List tracker documents under folder (default: the whole vault) with their mode and unit.",
		MaxArgs: 1,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			folder, err := folderID(args)
			if err != nil {
				return err
			}

			tr, err := a.Tracker(ctx)
			if err != nil {
				return err
			}

			ids, err := tr.List(ctx, folder)
			if err != nil {
				return err
			}

			for _, id := range ids {
				cfg := tr.Config(ctx, id)
				io.Println(strings.TrimRight(fmt.Sprintf("%s\t%s\t%s", id, cfg.Mode, cfg.Unit), "\t"))
			}

			return nil
		},
	}
}

// GetCmd returns the get command.
func GetCmd(a *app) *Command {
	return &Command{
		Flags:   flag.NewFlagSet("get", flag.ContinueOnError),
		Usage:   "get <doc> [date]",
		Short:   "Print the value for a day",
		Long:    "Print the value stored for date (default: today). Dates may use the display format or any fallback format, or be \"today\" or \"yesterday\".",
		MinArgs: 1,
		MaxArgs: 2,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			id, err := docID(args[0])
			if err != nil {
				return err
			}

			tr, err := a.Tracker(ctx)
			if err != nil {
				return err
			}

			date := dateArg(tr, args, 1)

			v, ok, err := tr.Value(ctx, id, date)
			if err != nil {
				return err
			}

			if !ok {
				return fmt.Errorf("%w for %s in %s", errNoEntry, date, id)
			}

			io.Println(v.String())

			return nil
		},
	}
}

// SetCmd returns the set command.
func SetCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("set", flag.ContinueOnError),
		Usage: "set <doc> <date> <value...>",
		Short: "Store a value for a day",
		Long: "Store value for date. Plain decimals are stored as numbers, anything else as text. " +
			"Remaining arguments are joined with spaces. Put -- before a negative number.",
		MinArgs: 3,
		MaxArgs: -1,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			id, err := docID(args[0])
			if err != nil {
				return err
			}

			tr, err := a.Tracker(ctx)
			if err != nil {
				return err
			}

			date := dateArg(tr, args, 1)
			raw := strings.Join(args[2:], " ")

			err = tr.Write(ctx, id, date, raw)
			if err != nil {
				return err
			}

			v, _, err := tr.Value(ctx, id, date)
			if err != nil {
				return err
			}

			io.Println(id, date, v.String())

			return nil
		},
	}
}

// UnsetCmd returns the unset command.
func UnsetCmd(a *app) *Command {
	return &Command{
		Flags:   flag.NewFlagSet("unset", flag.ContinueOnError),
		Usage:   "unset <doc> <date>",
		Short:   "Clear the value for a day",
		MinArgs: 2,
		MaxArgs: 2,
		Exec: func(ctx context.Context, _ *IO, args []string) error {
			id, err := docID(args[0])
			if err != nil {
				return err
			}

			tr, err := a.Tracker(ctx)
			if err != nil {
				return err
			}

			return tr.Delete(ctx, id, dateArg(tr, args, 1))
		},
	}
}

// EntriesCmd returns the entries command.
func EntriesCmd(a *app) *Command {
	return &Command{
		Flags:   flag.NewFlagSet("entries", flag.ContinueOnError),
		Usage:   "entries <doc>",
		Short:   "Print every stored entry",
		Long:    "Print every ledger entry as \"<key> <value>\", oldest key first.",
		MinArgs: 1,
		MaxArgs: 1,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			id, err := docID(args[0])
			if err != nil {
				return err
			}

			tr, err := a.Tracker(ctx)
			if err != nil {
				return err
			}

			l, err := tr.Entries(ctx, id)
			if err != nil {
				return err
			}

			for _, key := range l.Keys() {
				io.Println(key, l[key].String())
			}

			return nil
		},
	}
}

// ConfigCmd returns the config command.
func ConfigCmd(a *app) *Command {
	return &Command{
		Flags:   flag.NewFlagSet("config", flag.ContinueOnError),
		Usage:   "config <doc>",
		Short:   "Print a document's tracker configuration",
		MinArgs: 1,
		MaxArgs: 1,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			id, err := docID(args[0])
			if err != nil {
				return err
			}

			tr, err := a.Tracker(ctx)
			if err != nil {
				return err
			}

			for _, line := range configLines(tr.Config(ctx, id)) {
				io.Println(line)
			}

			return nil
		},
	}
}

func configLines(c habit.Config) []string {
	lines := []string{habit.KeyMode + "=" + string(c.Mode)}

	if c.Unit != "" {
		lines = append(lines, habit.KeyUnit+"="+c.Unit)
	}

	for _, f := range []struct {
		key string
		v   *float64
	}{
		{habit.KeyMinValue, c.MinValue},
		{habit.KeyMaxValue, c.MaxValue},
		{habit.KeyStep, c.Step},
		{habit.KeyMinLimit, c.MinLimit},
		{habit.KeyMaxLimit, c.MaxLimit},
	} {
		if f.v != nil {
			lines = append(lines, f.key+"="+formatFloat(*f.v))
		}
	}

	if c.Mode == habit.Rating || c.MaxRating != nil {
		lines = append(lines, habit.KeyMaxRating+"="+strconv.Itoa(c.MaxRatingOrDefault()))
	}

	if c.StartDate != "" {
		lines = append(lines, habit.KeyStartDate+"="+c.StartDate)
	}

	return lines
}

// dateArg returns args[i] resolved against the tracker clock, or today when
// absent. "today" and "yesterday" are accepted.
func dateArg(tr *tracker.Tracker, args []string, i int) string {
	if i >= len(args) {
		return tr.Today()
	}

	switch strings.ToLower(args[i]) {
	case "today":
		return tr.Today()
	case "yesterday":
		d, err := tr.ParseDate(tr.Today())
		if err != nil {
			return tr.Today()
		}

		return d.Subtract(1, dates.Day).Format(tr.DateFormat())
	default:
		return args[i]
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
