package cli

import (
	"context"
	"strconv"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/habits/internal/stats"
	"github.com/calvinalkan/habits/internal/tracker"
)

// StatsCmd returns the stats command.
func StatsCmd(a *app) *Command {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.String("end", "", "Last day of the window (default: today)")
	fs.Int("days", tracker.DefaultWindow, "Window length in days; 0 or less covers the whole tracked range")
	fs.String("start", "", "Tracking start date, overriding the document's startDate")
	fs.Bool("heatmap", false, "Print one line per day instead of the summary")

	return &Command{
		Flags: fs,
		Usage: "stats <doc> [flags]",
		Short: "Show statistics and streaks",
		Long: "Compute windowed statistics and streaks for a tracker. Days before the " +
			"tracking start never count as failures.",
		MinArgs: 1,
		MaxArgs: 1,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execStats(ctx, io, a, fs, args[0])
		},
	}
}

func execStats(ctx context.Context, io *IO, a *app, fs *flag.FlagSet, arg string) error {
	id, err := docID(arg)
	if err != nil {
		return err
	}

	tr, err := a.Tracker(ctx)
	if err != nil {
		return err
	}

	end, _ := fs.GetString("end")
	start, _ := fs.GetString("start")
	days, _ := fs.GetInt("days")
	heatmap, _ := fs.GetBool("heatmap")

	if end != "" {
		end = dateArg(tr, []string{end}, 0)

		if _, err := tr.ParseDate(end); err != nil {
			return err
		}
	}

	if start != "" {
		if _, err := tr.ParseDate(start); err != nil {
			return err
		}
	}

	// 0 selects the default window in a Query; on the command line it means
	// the whole range.
	if days <= 0 {
		days = -1
	}

	q := tracker.Query{End: end, Days: days, StartOverride: start}

	if heatmap {
		cells, err := tr.Heatmap(ctx, id, q)
		if err != nil {
			return err
		}

		printHeatmap(io, tr, cells)

		return nil
	}

	res, err := tr.Statistics(ctx, id, q)
	if err != nil {
		return err
	}

	io.Println("doc=" + string(id))

	for _, line := range statsLines(res, tr) {
		io.Println(line)
	}

	return nil
}

func statsLines(res stats.Result, tr *tracker.Tracker) []string {
	f := tr.DateFormat()
	lines := []string{"mode=" + string(res.Mode)}

	if !res.Start.IsZero() {
		lines = append(lines, "start="+res.Start.Format(f))
	}

	if !res.End.IsZero() {
		lines = append(lines, "end="+res.End.Format(f))
	}

	lines = append(lines,
		"days="+strconv.Itoa(res.Base.ActualDays),
		"entries="+strconv.Itoa(res.Base.TotalEntries),
		"current_streak="+strconv.Itoa(res.Streaks.Current),
		"best_streak="+strconv.Itoa(res.Streaks.Best),
	)

	switch {
	case res.Habit != nil:
		lines = append(lines,
			"completion_rate="+strconv.FormatFloat(res.Habit.CompletionRate, 'f', 1, 64),
			"active_days="+strconv.Itoa(res.Habit.ActiveDays),
		)
	case res.Metric != nil:
		m := res.Metric
		lines = append(lines,
			"sum="+formatFloat(m.Sum),
			"average="+strconv.FormatFloat(m.Average, 'f', 2, 64),
			"min="+optFloat(m.Min),
			"max="+optFloat(m.Max),
			"median="+optFloat(m.Median),
			"active_days="+strconv.Itoa(m.ActiveDays),
		)

		if m.InLimitDays != nil {
			lines = append(lines, "in_limit_days="+strconv.Itoa(*m.InLimitDays))
		}
	}

	return lines
}

func printHeatmap(io *IO, tr *tracker.Tracker, cells []stats.Cell) {
	for _, c := range cells {
		mark := "."

		switch {
		case !c.Tracked:
			mark = " "
		case c.Success:
			mark = "#"
		case c.Entry:
			mark = "x"
		}

		value := "-"
		if c.Entry {
			value = formatFloat(c.Value)
		}

		io.Printf("%s %s %s\n", c.Date.Format(tr.DateFormat()), mark, value)
	}
}

func optFloat(v *float64) string {
	if v == nil {
		return "-"
	}

	return formatFloat(*v)
}
