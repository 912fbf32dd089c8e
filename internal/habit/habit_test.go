package habit_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/habits/internal/frontmatter"
	"github.com/calvinalkan/habits/internal/habit"
)

func ptr[T any](v T) *T { return &v }

func Test_ParseMode_Falls_Back_To_GoodHabit(t *testing.T) {
	t.Parallel()

	cases := map[string]habit.Mode{
		"bad-habit": habit.BadHabit,
		"NUMBER":    habit.Number,
		" scale ":   habit.Scale,
		"":          habit.GoodHabit,
		"counter":   habit.GoodHabit,
		"text":      habit.Text,
	}

	for in, want := range cases {
		if got := habit.ParseMode(in); got != want {
			t.Errorf("ParseMode(%q) = %q, want %q", in, got, want)
		}
	}
}

func Test_Parse_Reads_All_Header_Fields(t *testing.T) {
	t.Parallel()

	src := strings.Join([]string{
		"---",
		"type: scale",
		`unit: "min"`,
		"minValue: 1",
		"maxValue: 5",
		"step: 0.5",
		"minLimit: 2",
		"maxLimit: 4.5",
		"maxRating: 10",
		"startDate: 2024-01-01",
		"data: {}",
		"---",
	}, "\n")

	got, err := habit.Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := habit.Config{
		Mode:      habit.Scale,
		Unit:      "min",
		MinValue:  ptr(1.0),
		MaxValue:  ptr(5.0),
		Step:      ptr(0.5),
		MinLimit:  ptr(2.0),
		MaxLimit:  ptr(4.5),
		MaxRating: ptr(10),
		StartDate: "2024-01-01",
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func Test_Parse_Ignores_Invalid_Values(t *testing.T) {
	t.Parallel()

	src := "---\ntype: ???\nminValue: low\nstep: -1\nmaxRating: 2.5\n---\n"

	got, err := habit.Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if diff := cmp.Diff(habit.DefaultConfig(), got); diff != "" {
		t.Fatalf("Parse mismatch (-want +got):\n%s", diff)
	}

	if got.StepOrDefault() != habit.DefaultStep || got.MaxRatingOrDefault() != habit.DefaultMaxRating {
		t.Fatalf("defaults not applied: step=%v rating=%v", got.StepOrDefault(), got.MaxRatingOrDefault())
	}
}

func Test_Parse_Returns_Default_With_Error_When_No_Header(t *testing.T) {
	t.Parallel()

	got, err := habit.Parse([]byte("just text"))
	if !errors.Is(err, frontmatter.ErrNoHeader) {
		t.Fatalf("err = %v, want ErrNoHeader", err)
	}

	if got.Mode != habit.GoodHabit {
		t.Fatalf("Mode = %q", got.Mode)
	}
}

func Test_Config_InLimits_And_Bounds(t *testing.T) {
	t.Parallel()

	cfg := habit.Config{MinLimit: ptr(2.0), MaxValue: ptr(7.0)}

	if cfg.InLimits(1) || !cfg.InLimits(2) || !cfg.InLimits(100) {
		t.Fatal("InLimits with open upper bound mismatched")
	}

	lo, hi := cfg.Bounds()
	if lo != habit.DefaultScaleMin || hi != 7 {
		t.Fatalf("Bounds = %v..%v", lo, hi)
	}
}
