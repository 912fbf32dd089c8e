package stats

import (
	"strings"
	"time"

	"github.com/calvinalkan/habits/internal/habit"
	"github.com/calvinalkan/habits/internal/ledger"
	"github.com/calvinalkan/habits/pkg/dates"
)

// Normalize maps a ledger value to the number used by every statistic.
//
// Text trackers count whitespace-separated words. Otherwise "1" and "true"
// are 1, numbers are themselves, numeric strings are parsed, and anything
// else is 0.
func Normalize(v ledger.Value, mode habit.Mode) float64 {
	if mode == habit.Text {
		return float64(len(strings.Fields(v.String())))
	}

	if v.IsNumber() {
		return v.Float()
	}

	s := strings.TrimSpace(v.Str())
	if s == "1" || strings.EqualFold(s, "true") {
		return 1
	}

	if n := ledger.Coerce(s); n.IsNumber() {
		return n.Float()
	}

	return 0
}

// Lookup finds the value for d, trying format first and then
// [dates.FallbackFormats], so ledgers written under an older format setting
// still resolve. A key only matches when it parses back to d under the same
// format order: "04/03/2024" is April 3 with MM/DD/YYYY ahead of DD/MM/YYYY
// and never answers for March 4.
func Lookup(l ledger.Ledger, d dates.Date, format dates.Format) (ledger.Value, bool) {
	formats := dates.WithFallbacks(format)

	for _, f := range formats {
		key := d.Format(f)

		v, ok := l[key]
		if !ok {
			continue
		}

		if kd, ok := dates.ParseStrict(key, formats...); ok && kd.Equal(d) {
			return v, true
		}
	}

	return ledger.Value{}, false
}

// Success reports whether d counts toward a streak. Bad habits succeed on
// days without an entry or with a falsy one; every other mode needs an entry
// that normalizes to a non-zero value.
func Success(l ledger.Ledger, mode habit.Mode, d dates.Date, format dates.Format) bool {
	v, ok := Lookup(l, d, format)

	if mode == habit.BadHabit {
		return !ok || Normalize(v, mode) == 0
	}

	return ok && Normalize(v, mode) != 0
}

// ResolveStart returns the earliest of: the parsed override, the creation
// date and the earliest parseable ledger key. Without any candidate it falls
// back to [FallbackHistory] days before end. ok is false only when end is
// the zero date.
func ResolveStart(l ledger.Ledger, end dates.Date, override string, created time.Time, format dates.Format) (dates.Date, bool) {
	if end.IsZero() {
		return dates.Date{}, false
	}

	formats := dates.WithFallbacks(format)

	var start dates.Date

	consider := func(d dates.Date) {
		if start.IsZero() || d.Before(start) {
			start = d
		}
	}

	if d, ok := dates.ParseStrict(override, formats...); ok {
		consider(d)
	}

	if !created.IsZero() {
		consider(dates.FromTime(created))
	}

	for key := range l {
		if d, ok := dates.ParseStrict(key, formats...); ok {
			consider(d)
		}
	}

	if start.IsZero() {
		return end.Subtract(FallbackHistory, dates.Day), true
	}

	return start, true
}

// Window returns the normalized value of every day from
// max(end-(days-1), start) through end, oldest first. For bad habits the
// value is inverted: a day without a truthy entry is 1, any other day 0.
func Window(l ledger.Ledger, mode habit.Mode, start, end dates.Date, days int, format dates.Format) []float64 {
	from := start
	if days > 0 {
		if ws := end.Subtract(days-1, dates.Day); ws.After(from) {
			from = ws
		}
	}

	if from.After(end) {
		return nil
	}

	values := make([]float64, 0, from.DaysUntil(end)+1)

	for d := from; !d.After(end); d = d.Add(1, dates.Day) {
		values = append(values, dayValue(l, mode, d, format))
	}

	return values
}

func dayValue(l ledger.Ledger, mode habit.Mode, d dates.Date, format dates.Format) float64 {
	var n float64
	if v, ok := Lookup(l, d, format); ok {
		n = Normalize(v, mode)
	}

	if mode == habit.BadHabit {
		if n == 0 {
			return 1
		}

		return 0
	}

	return n
}

// Streak walks backward from end, never before start and never more than
// [MaxStreakDays] days. Current counts the unbroken run ending at end; Best
// is the longest run anywhere in [start, end].
func Streak(l ledger.Ledger, mode habit.Mode, start, end dates.Date, format dates.Format) Streaks {
	var s Streaks

	if start.IsZero() || end.IsZero() {
		return s
	}

	run := 0
	trailing := true

	d := end
	for range MaxStreakDays {
		if d.Before(start) {
			break
		}

		if Success(l, mode, d, format) {
			run++
			s.Best = max(s.Best, run)
		} else {
			run = 0
			trailing = false
		}

		if trailing {
			s.Current = run
		}

		d = d.Subtract(1, dates.Day)
	}

	return s
}

// Cell is one heatmap day.
type Cell struct {
	Date    dates.Date
	Value   float64 // normalized value, not inverted
	Entry   bool    // the ledger has a value for this day
	Success bool    // the day counts toward a streak
	Tracked bool    // the day is on or after the tracking start
}

// Heatmap returns one cell per day of the window ending at in.End, oldest
// first. Days defaults to 365 when not positive. An unparseable end yields
// nil.
func Heatmap(in Input) []Cell {
	end, ok := dates.ParseStrict(in.End, dates.WithFallbacks(in.Format)...)
	if !ok {
		return nil
	}

	days := in.Days
	if days <= 0 {
		days = FallbackHistory
	}

	start, _ := ResolveStart(in.Ledger, end, in.StartOverride, in.Created, in.Format)
	cells := make([]Cell, 0, days)

	for d := end.Subtract(days-1, dates.Day); !d.After(end); d = d.Add(1, dates.Day) {
		v, found := Lookup(in.Ledger, d, in.Format)

		c := Cell{Date: d, Entry: found, Tracked: !d.Before(start)}
		if found {
			c.Value = Normalize(v, in.Mode)
		}

		c.Success = c.Tracked && Success(in.Ledger, in.Mode, d, in.Format)
		cells = append(cells, c)
	}

	return cells
}
