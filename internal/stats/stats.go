// Package stats computes windowed statistics and streaks over a ledger.
//
// Every computation is bounded below by the tracking start date so days
// before a tracker existed never count as failures. See [ResolveStart].
package stats

import (
	"slices"
	"time"

	"github.com/calvinalkan/habits/internal/habit"
	"github.com/calvinalkan/habits/internal/ledger"
	"github.com/calvinalkan/habits/pkg/dates"
)

// MaxStreakDays bounds the days examined by streak computation.
const MaxStreakDays = 3660

// FallbackHistory is how far before the end date tracking starts when no
// other start candidate exists.
const FallbackHistory = 365

// Input describes one statistics request.
type Input struct {
	Ledger ledger.Ledger
	Mode   habit.Mode

	// End is the reference date, written in Format or any fallback format.
	End string

	// Days is the window length ending at End. Zero or negative covers the
	// whole tracked range.
	Days int

	// Format is the display format used for End and for ledger lookups.
	// Empty means [dates.ISO].
	Format dates.Format

	// StartOverride is an explicit tracking start date. Ignored when it does
	// not parse.
	StartOverride string

	// Created is the document creation time. Zero when unknown.
	Created time.Time

	// Limits optionally carries minLimit/maxLimit for metric modes.
	Limits habit.Config
}

// Base holds values common to every mode.
type Base struct {
	TotalEntries int       // ledger size, regardless of window
	Values       []float64 // per-day normalized values, oldest first
	ActualDays   int       // days enumerated inside the window
	Sum          float64
	Average      float64
}

// Streaks holds the current and best run of successful days.
type Streaks struct {
	Current int
	Best    int
}

// HabitStats is produced for good-habit and bad-habit trackers.
type HabitStats struct {
	CompletionRate float64 // percent of enumerated days that were active
	ActiveDays     int
}

// MetricStats is produced for every non-habit mode. Min, Max and Median are
// nil when no day was enumerated.
type MetricStats struct {
	Sum        float64
	Average    float64
	Min        *float64
	Max        *float64
	Median     *float64
	ActiveDays int

	// InLimitDays counts enumerated days whose value lies inside
	// [MinLimit, MaxLimit]. Nil when the tracker sets no limit.
	InLimitDays *int
}

// Result is the outcome of [Compute]. Exactly one of Habit and Metric is set.
type Result struct {
	Mode    habit.Mode
	Start   dates.Date // resolved tracking start; zero if unresolved
	End     dates.Date
	Base    Base
	Streaks Streaks
	Habit   *HabitStats
	Metric  *MetricStats
}

// Compute runs the windowed statistics and streaks for in. An end date that
// does not parse yields a zero result.
func Compute(in Input) Result {
	res := Result{Mode: in.Mode, Base: Base{TotalEntries: len(in.Ledger)}}

	end, ok := dates.ParseStrict(in.End, dates.WithFallbacks(in.Format)...)
	if !ok {
		res.fill(nil, in)

		return res
	}

	start, ok := ResolveStart(in.Ledger, end, in.StartOverride, in.Created, in.Format)
	if !ok {
		res.End = end
		res.fill(nil, in)

		return res
	}

	res.Start, res.End = start, end
	res.Streaks = Streak(in.Ledger, in.Mode, start, end, in.Format)

	values := Window(in.Ledger, in.Mode, start, end, in.Days, in.Format)
	res.fill(values, in)

	return res
}

func (r *Result) fill(values []float64, in Input) {
	var sum float64
	active := 0

	for _, v := range values {
		sum += v

		if v > 0 {
			active++
		}
	}

	r.Base.Values = values
	r.Base.ActualDays = len(values)
	r.Base.Sum = sum

	if len(values) > 0 {
		r.Base.Average = sum / float64(len(values))
	}

	if in.Mode.IsHabit() {
		h := &HabitStats{ActiveDays: active}
		if len(values) > 0 {
			h.CompletionRate = float64(active) / float64(len(values)) * 100
		}

		r.Habit = h

		return
	}

	m := &MetricStats{Sum: sum, Average: r.Base.Average, ActiveDays: active}

	if len(values) > 0 {
		sorted := slices.Sorted(slices.Values(values))
		lo, hi := sorted[0], sorted[len(sorted)-1]
		med := median(sorted)
		m.Min, m.Max, m.Median = &lo, &hi, &med
	}

	if in.Limits.MinLimit != nil || in.Limits.MaxLimit != nil {
		n := 0

		for _, v := range values {
			if in.Limits.InLimits(v) {
				n++
			}
		}

		m.InLimitDays = &n
	}

	r.Metric = m
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}

	return (sorted[n/2-1] + sorted[n/2]) / 2
}
