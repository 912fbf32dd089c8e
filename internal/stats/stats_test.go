package stats_test

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/habits/internal/habit"
	"github.com/calvinalkan/habits/internal/ledger"
	"github.com/calvinalkan/habits/internal/stats"
	"github.com/calvinalkan/habits/pkg/dates"
)

var end = dates.New(2024, time.March, 15)

func key(daysBack int) string {
	return end.Subtract(daysBack, dates.Day).Key()
}

func ptr[T any](v T) *T { return &v }

func Test_Streak_BadHabit_Empty_Ledger_Counts_Every_Tracked_Day(t *testing.T) {
	t.Parallel()

	// Ten tracked days: the end date and the nine before it.
	res := stats.Compute(stats.Input{
		Ledger:        ledger.Ledger{},
		Mode:          habit.BadHabit,
		End:           end.Key(),
		Days:          30,
		StartOverride: key(9),
	})

	if diff := cmp.Diff(stats.Streaks{Current: 10, Best: 10}, res.Streaks); diff != "" {
		t.Fatalf("streaks mismatch (-want +got):\n%s", diff)
	}

	if res.Base.ActualDays != 10 || res.Habit.ActiveDays != 10 || res.Habit.CompletionRate != 100 {
		t.Fatalf("habit stats = %+v base = %+v", res.Habit, res.Base)
	}
}

func Test_Streak_BadHabit_Counts_Creation_Day_And_End_Date(t *testing.T) {
	t.Parallel()

	// Created ten days before end: the creation day, the nine days between
	// and the end date itself are all tracked.
	created := end.Subtract(10, dates.Day).Time().Add(9 * time.Hour)

	res := stats.Compute(stats.Input{
		Ledger:  ledger.Ledger{},
		Mode:    habit.BadHabit,
		End:     end.Key(),
		Days:    30,
		Created: created,
	})

	if diff := cmp.Diff(stats.Streaks{Current: 11, Best: 11}, res.Streaks); diff != "" {
		t.Fatalf("streaks mismatch (-want +got):\n%s", diff)
	}

	if res.Base.ActualDays != 11 {
		t.Fatalf("actual days = %d, want 11", res.Base.ActualDays)
	}
}

func Test_Streak_GoodHabit_Stops_At_Gap(t *testing.T) {
	t.Parallel()

	l := ledger.Ledger{
		key(0): ledger.Number(1),
		key(1): ledger.Text("true"),
		key(2): ledger.Number(1),
		// gap at key(3)
		key(4): ledger.Number(1),
		key(5): ledger.Number(1),
	}

	got := stats.Compute(stats.Input{Ledger: l, Mode: habit.GoodHabit, End: end.Key(), Days: 7}).Streaks
	if diff := cmp.Diff(stats.Streaks{Current: 3, Best: 3}, got); diff != "" {
		t.Fatalf("streaks mismatch (-want +got):\n%s", diff)
	}
}

func Test_Streak_Best_Sees_Earlier_Longer_Run(t *testing.T) {
	t.Parallel()

	l := ledger.Ledger{key(0): ledger.Number(1)}
	for i := 5; i < 12; i++ {
		l[key(i)] = ledger.Number(1)
	}

	got := stats.Streak(l, habit.GoodHabit, end.Subtract(20, dates.Day), end, dates.ISO)
	if diff := cmp.Diff(stats.Streaks{Current: 1, Best: 7}, got); diff != "" {
		t.Fatalf("streaks mismatch (-want +got):\n%s", diff)
	}
}

func Test_Streak_Is_Zero_When_End_Unresolvable(t *testing.T) {
	t.Parallel()

	res := stats.Compute(stats.Input{
		Ledger: ledger.Ledger{"2024-01-01": ledger.Number(1)},
		Mode:   habit.GoodHabit,
		End:    "not a date",
		Days:   7,
	})

	if res.Streaks != (stats.Streaks{}) || res.Base.ActualDays != 0 || res.Base.TotalEntries != 1 {
		t.Fatalf("result = %+v", res)
	}

	if res.Habit == nil || res.Metric != nil {
		t.Fatalf("want zero habit stats, got habit=%v metric=%v", res.Habit, res.Metric)
	}
}

func Test_Streak_Never_Crosses_Tracking_Start(t *testing.T) {
	t.Parallel()

	// Bad habit with no entries: every day is a success, so the streak length
	// equals the number of tracked days.
	start := end.Subtract(4, dates.Day)

	got := stats.Streak(ledger.Ledger{}, habit.BadHabit, start, end, dates.ISO)
	if got.Current != 5 || got.Best != 5 {
		t.Fatalf("streaks = %+v, want 5/5", got)
	}

	got = stats.Streak(ledger.Ledger{}, habit.BadHabit, end.Subtract(10000, dates.Day), end, dates.ISO)
	if got.Current != stats.MaxStreakDays {
		t.Fatalf("Current = %d, want safety cap %d", got.Current, stats.MaxStreakDays)
	}
}

func Test_Compute_Numeric_Window_Includes_Zero_Days(t *testing.T) {
	t.Parallel()

	// d0 is the first day of the seven-day window.
	l := ledger.Ledger{
		key(6): ledger.Number(5),
		key(4): ledger.Number(3),
	}

	res := stats.Compute(stats.Input{Ledger: l, Mode: habit.Number, End: end.Key(), Days: 7})

	want := &stats.MetricStats{
		Sum:        8,
		Average:    8.0 / 7,
		Min:        ptr(0.0),
		Max:        ptr(5.0),
		Median:     ptr(0.0),
		ActiveDays: 2,
	}

	if diff := cmp.Diff(want, res.Metric); diff != "" {
		t.Fatalf("metric mismatch (-want +got):\n%s", diff)
	}

	if res.Base.ActualDays != 7 || res.Habit != nil {
		t.Fatalf("base = %+v habit = %v", res.Base, res.Habit)
	}

	if diff := cmp.Diff([]float64{5, 0, 3, 0, 0, 0, 0}, res.Base.Values); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
}

func Test_Compute_Window_Is_Clipped_To_Tracking_Start(t *testing.T) {
	t.Parallel()

	res := stats.Compute(stats.Input{
		Ledger:  ledger.Ledger{key(1): ledger.Number(1)},
		Mode:    habit.GoodHabit,
		End:     end.Key(),
		Days:    30,
		Created: end.Subtract(2, dates.Day).Time().Add(15 * time.Hour),
	})

	if res.Base.ActualDays != 3 {
		t.Fatalf("ActualDays = %d, want 3", res.Base.ActualDays)
	}

	if res.Habit.ActiveDays != 1 {
		t.Fatalf("ActiveDays = %d", res.Habit.ActiveDays)
	}

	if got, want := res.Habit.CompletionRate, 100.0/3; math.Abs(got-want) > 1e-9 {
		t.Fatalf("CompletionRate = %v, want %v", got, want)
	}
}

func Test_Compute_Median_Uses_Even_Length_Rule(t *testing.T) {
	t.Parallel()

	l := ledger.Ledger{
		key(0): ledger.Number(4),
		key(1): ledger.Number(1),
		key(2): ledger.Number(3),
		key(3): ledger.Number(2),
	}

	res := stats.Compute(stats.Input{Ledger: l, Mode: habit.Scale, End: end.Key(), Days: 4})
	if res.Metric.Median == nil || *res.Metric.Median != 2.5 {
		t.Fatalf("Median = %v, want 2.5", res.Metric.Median)
	}
}

func Test_Compute_Counts_Days_Inside_Limits(t *testing.T) {
	t.Parallel()

	l := ledger.Ledger{
		key(0): ledger.Number(70),
		key(1): ledger.Number(82),
		key(2): ledger.Number(75),
	}

	res := stats.Compute(stats.Input{
		Ledger: l,
		Mode:   habit.Number,
		End:    end.Key(),
		Days:   3,
		Limits: habit.Config{MinLimit: ptr(72.0), MaxLimit: ptr(80.0)},
	})

	if res.Metric.InLimitDays == nil || *res.Metric.InLimitDays != 1 {
		t.Fatalf("InLimitDays = %v, want 1", res.Metric.InLimitDays)
	}
}

func Test_Normalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		v    ledger.Value
		mode habit.Mode
		want float64
	}{
		{ledger.Number(3.5), habit.Number, 3.5},
		{ledger.Text("1"), habit.GoodHabit, 1},
		{ledger.Text("true"), habit.GoodHabit, 1},
		{ledger.Text("TRUE"), habit.BadHabit, 1},
		{ledger.Text("false"), habit.GoodHabit, 0},
		{ledger.Text("2.25"), habit.Number, 2.25},
		{ledger.Text("n/a"), habit.Number, 0},
		{ledger.Text("went for a run"), habit.Text, 4},
		{ledger.Text("   "), habit.Text, 0},
		{ledger.Number(7), habit.Text, 1},
	}

	for _, tc := range cases {
		if got := stats.Normalize(tc.v, tc.mode); got != tc.want {
			t.Errorf("Normalize(%v, %s) = %v, want %v", tc.v, tc.mode, got, tc.want)
		}
	}
}

func Test_Lookup_Tries_Display_Format_Then_Fallbacks(t *testing.T) {
	t.Parallel()

	d := dates.New(2024, time.March, 5)

	l := ledger.Ledger{
		"05.03.2024": ledger.Number(1),
		"2024-03-05": ledger.Number(2),
	}

	v, ok := stats.Lookup(l, d, "DD.MM.YYYY")
	if !ok || v.Float() != 1 {
		t.Fatalf("display format lookup = %v, %v", v, ok)
	}

	v, ok = stats.Lookup(ledger.Ledger{"03/05/2024": ledger.Number(3)}, d, dates.ISO)
	if !ok || v.Float() != 3 {
		t.Fatalf("fallback lookup = %v, %v", v, ok)
	}

	if _, ok := stats.Lookup(ledger.Ledger{}, d, dates.ISO); ok {
		t.Fatal("lookup in empty ledger succeeded")
	}
}

func Test_Lookup_Ignores_Key_That_Resolves_To_Another_Day(t *testing.T) {
	t.Parallel()

	// With MM/DD/YYYY first, "04/03/2024" is April 3.
	l := ledger.Ledger{"04/03/2024": ledger.Number(9)}

	if v, ok := stats.Lookup(l, dates.New(2024, time.April, 3), "MM/DD/YYYY"); !ok || v.Float() != 9 {
		t.Fatalf("April 3 lookup = %v, %v", v, ok)
	}

	if v, ok := stats.Lookup(l, dates.New(2024, time.March, 4), "MM/DD/YYYY"); ok {
		t.Fatalf("March 4 lookup = %v, want no entry", v)
	}
}

func Test_ResolveStart_Picks_Earliest_Candidate(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	l := ledger.Ledger{"2024-02-20": ledger.Number(1), "garbage": ledger.Number(1)}

	cases := []struct {
		name     string
		l        ledger.Ledger
		override string
		created  time.Time
		want     dates.Date
	}{
		{"backfilled entry before creation", l, "", created, dates.New(2024, time.February, 20)},
		{"override earliest", l, "2024-01-01", created, dates.New(2024, time.January, 1)},
		{"override later than entries", l, "2024-03-10", time.Time{}, dates.New(2024, time.February, 20)},
		{"unparseable override ignored", nil, "soon", created, dates.New(2024, time.March, 1)},
		{"fallback one year back", nil, "", time.Time{}, end.Subtract(365, dates.Day)},
	}

	for _, tc := range cases {
		got, ok := stats.ResolveStart(tc.l, end, tc.override, tc.created, dates.ISO)
		if !ok || !got.Equal(tc.want) {
			t.Errorf("%s: ResolveStart = %v, %v; want %v", tc.name, got, ok, tc.want)
		}
	}
}

func Test_Compute_Accepts_End_In_Display_Format(t *testing.T) {
	t.Parallel()

	l := ledger.Ledger{"15.03.2024": ledger.Number(1), "14.03.2024": ledger.Number(1)}

	res := stats.Compute(stats.Input{
		Ledger: l,
		Mode:   habit.GoodHabit,
		End:    "15.03.2024",
		Days:   2,
		Format: "DD.MM.YYYY",
	})

	if res.Streaks.Current != 2 || res.Habit.CompletionRate != 100 {
		t.Fatalf("result = %+v habit=%+v", res.Streaks, res.Habit)
	}
}

func Test_Heatmap_Marks_Untracked_Days(t *testing.T) {
	t.Parallel()

	cells := stats.Heatmap(stats.Input{
		Ledger: ledger.Ledger{key(1): ledger.Number(1)},
		Mode:   habit.GoodHabit,
		End:    end.Key(),
		Days:   4,
	})

	if len(cells) != 4 {
		t.Fatalf("len = %d", len(cells))
	}

	var tracked, success, entries []bool
	for _, c := range cells {
		tracked = append(tracked, c.Tracked)
		success = append(success, c.Success)
		entries = append(entries, c.Entry)
	}

	if diff := cmp.Diff([]bool{false, false, true, true}, tracked); diff != "" {
		t.Errorf("tracked (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]bool{false, false, true, false}, success); diff != "" {
		t.Errorf("success (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]bool{false, false, true, false}, entries); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}

	if !cells[3].Date.Equal(end) {
		t.Errorf("last cell = %v, want %v", cells[3].Date, end)
	}
}
