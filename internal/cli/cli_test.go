package cli_test

import (
	"strings"
	"testing"

	"github.com/calvinalkan/habits/internal/cli"
)

const (
	runDoc = "---\ntype: good-habit\ndata:\n  \"2024-03-13\": 1\n  \"2024-03-14\": 1\n---\n# Run\n"

	weightDoc = "---\ntype: number\nunit: kg\nminLimit: 70\nmaxLimit: 75\ndata:\n" +
		"  \"2024-03-14\": 72\n  \"2024-03-15\": 76\n---\n"

	moodDoc = "---\ntype: text\ndata: {}\n---\n"
)

func seed(c *cli.CLI) {
	c.WriteDoc("habits/run.md", runDoc)
	c.WriteDoc("health/weight.md", weightDoc)
	c.WriteDoc("journal/mood.md", moodDoc)
	c.WriteDoc("notes/plain.md", "# no header\n")
}

func Test_Help_Lists_Commands_When_No_Args(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun()

	for _, name := range []string{"init", "print-config", "ls", "get", "set", "unset", "entries", "config", "stats", "reindex", "day", "watch", "shell"} {
		cli.AssertContains(t, stdout, "  "+name)
	}
}

func Test_Unknown_Command_Fails(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("frobnicate")
	cli.AssertContains(t, stderr, "unknown command: frobnicate")
}

func Test_Command_Help_Shows_Flags(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("stats", "--help")
	cli.AssertContains(t, stdout, "Usage: ht stats <doc> [flags]")
	cli.AssertContains(t, stdout, "--days")
}

func Test_Wrong_Argument_Count_Fails_With_Usage(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("set", "habits/run")
	cli.AssertContains(t, stderr, "wrong number of arguments")
	cli.AssertContains(t, stderr, "Usage: ht set")
}

func Test_Set_Then_Get_Round_Trips_And_Preserves_Body(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	seed(c)

	stdout := c.MustRun("set", "habits/run", "2024-03-15", "1")
	cli.AssertContains(t, stdout, "habits/run.md 2024-03-15 1")

	if got := c.MustRun("get", "habits/run.md", "2024-03-15"); got != "1" {
		t.Fatalf("get = %q, want 1", got)
	}

	doc := c.ReadDoc("habits/run.md")
	cli.AssertContains(t, doc, "  \"2024-03-15\": 1\n")
	cli.AssertContains(t, doc, "# Run\n")
}

func Test_Set_Joins_Text_Values(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	seed(c)

	c.MustRun("set", "journal/mood", "15.03.2024", "calm", "and", "rested")

	if got := c.MustRun("get", "journal/mood", "2024-03-15"); got != "calm and rested" {
		t.Fatalf("get = %q", got)
	}

	cli.AssertContains(t, c.ReadDoc("journal/mood.md"), `"2024-03-15": "calm and rested"`)
}

func Test_Set_Fails_Without_Header(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	seed(c)

	stderr := c.MustFail("set", "notes/plain", "2024-03-15", "1")
	cli.AssertContains(t, stderr, "no frontmatter header")
	cli.AssertContains(t, stderr, "doc_id=notes/plain.md")

	if got := c.ReadDoc("notes/plain.md"); got != "# no header\n" {
		t.Fatalf("document changed: %q", got)
	}
}

func Test_Set_Fails_On_Invalid_Date(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	seed(c)

	stderr := c.MustFail("set", "habits/run", "someday", "1")
	cli.AssertContains(t, stderr, "invalid date")
}

func Test_Get_Fails_When_Day_Has_No_Entry(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	seed(c)

	stderr := c.MustFail("get", "habits/run", "2024-01-01")
	cli.AssertContains(t, stderr, "no entry")
}

func Test_Unset_Removes_Entry(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	seed(c)

	c.MustRun("unset", "habits/run", "2024-03-13")

	stdout := c.MustRun("entries", "habits/run")
	if stdout != "2024-03-14 1" {
		t.Fatalf("entries = %q", stdout)
	}
}

func Test_Ls_Lists_Tracker_Documents_Only(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	seed(c)

	stdout := c.MustRun("ls")
	want := strings.Join([]string{
		"habits/run.md\tgood-habit",
		"health/weight.md\tnumber\tkg",
		"journal/mood.md\ttext",
	}, "\n")

	if stdout != want {
		t.Fatalf("ls =\n%s\nwant\n%s", stdout, want)
	}

	if got := c.MustRun("ls", "health"); got != "health/weight.md\tnumber\tkg" {
		t.Fatalf("ls health = %q", got)
	}
}

func Test_Config_Prints_Document_Configuration(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	seed(c)

	stdout := c.MustRun("config", "health/weight")
	cli.AssertContains(t, stdout, "type=number")
	cli.AssertContains(t, stdout, "unit=kg")
	cli.AssertContains(t, stdout, "minLimit=70")
	cli.AssertContains(t, stdout, "maxLimit=75")
}

func Test_Stats_Reports_Habit_Streak_And_Completion(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	seed(c)

	c.MustRun("set", "habits/run", "2024-03-15", "1")

	stdout := c.MustRun("stats", "habits/run", "--end", "2024-03-15", "--days", "3")
	cli.AssertContains(t, stdout, "doc=habits/run.md")
	cli.AssertContains(t, stdout, "mode=good-habit")
	cli.AssertContains(t, stdout, "current_streak=3")
	cli.AssertContains(t, stdout, "best_streak=3")
	cli.AssertContains(t, stdout, "completion_rate=100.0")
	cli.AssertContains(t, stdout, "active_days=3")
}

func Test_Stats_Reports_Metric_Values(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	seed(c)

	stdout := c.MustRun("stats", "health/weight", "--end", "2024-03-15", "--days", "2")
	cli.AssertContains(t, stdout, "sum=148")
	cli.AssertContains(t, stdout, "min=72")
	cli.AssertContains(t, stdout, "max=76")
	cli.AssertContains(t, stdout, "median=74")
	cli.AssertContains(t, stdout, "in_limit_days=1")
}

func Test_Stats_Heatmap_Prints_One_Line_Per_Day(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	seed(c)

	stdout := c.MustRun("stats", "habits/run", "--end", "2024-03-15", "--days", "3", "--heatmap")
	want := "2024-03-13 # 1\n2024-03-14 # 1\n2024-03-15 . -"

	if stdout != want {
		t.Fatalf("heatmap =\n%s\nwant\n%s", stdout, want)
	}
}

func Test_Day_Reads_Values_From_Index(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	seed(c)

	c.MustRun("set", "journal/mood", "2024-03-15", "calm")

	stdout := c.MustRun("day", "2024-03-15")
	want := "health/weight.md\t76 kg\njournal/mood.md\tcalm"

	if stdout != want {
		t.Fatalf("day =\n%s\nwant\n%s", stdout, want)
	}
}

func Test_Day_Sees_Documents_Edited_Outside_Between_Runs(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	seed(c)

	cli.AssertContains(t, c.MustRun("day", "2024-03-15"), "health/weight.md\t76 kg")

	c.WriteDoc("health/weight.md", strings.Replace(weightDoc, "76", "80.5", 1))

	stdout := c.MustRun("day", "2024-03-15")
	cli.AssertContains(t, stdout, "health/weight.md\t80.5 kg")
	cli.AssertNotContains(t, stdout, "76 kg")
}

func Test_Reindex_Counts_Tracker_Documents(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	seed(c)

	if got := c.MustRun("reindex"); got != "indexed 3 documents" {
		t.Fatalf("reindex = %q", got)
	}
}

func Test_Day_Fails_When_Index_Disabled(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	seed(c)
	c.WriteDoc(".ht.json", `{"index": false}`)

	stderr := c.MustFail("day", "2024-03-15")
	cli.AssertContains(t, stderr, "index is disabled")
}

func Test_Display_Date_Format_Applies_To_Input_And_Output(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	seed(c)

	stdout := c.MustRun("--date-format", "DD.MM.YYYY", "set", "habits/run", "15.03.2024", "1")
	cli.AssertContains(t, stdout, "15.03.2024 1")

	stdout = c.MustRun("--date-format", "DD.MM.YYYY", "stats", "habits/run", "--end", "15.03.2024", "--days", "3")
	cli.AssertContains(t, stdout, "end=15.03.2024")

	cli.AssertContains(t, c.ReadDoc("habits/run.md"), `"2024-03-15": 1`)
}

func Test_Shell_Runs_Commands_From_Input(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	seed(c)

	input := "set habits/run 2024-03-15 1\nget habits/run 2024-03-15\nbogus\nexit\n"
	stdout, stderr, code := c.RunWithInput(input, "shell")

	if code != 0 {
		t.Fatalf("shell exit code %d\nstderr: %s", code, stderr)
	}

	cli.AssertContains(t, stdout, "habits/run.md 2024-03-15 1\n")
	cli.AssertContains(t, stdout, "ht> 1\n")
	cli.AssertContains(t, stderr, "unknown command: bogus")
}
