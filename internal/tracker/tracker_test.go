package tracker_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/habits/internal/cache"
	"github.com/calvinalkan/habits/internal/habit"
	"github.com/calvinalkan/habits/internal/ledger"
	"github.com/calvinalkan/habits/internal/storage"
	"github.com/calvinalkan/habits/internal/tracker"
	"github.com/calvinalkan/habits/pkg/fs"
)

var now = time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)

const weight = `---
type: number
unit: "kg"
data:
  "2024-03-13": 71.5
minLimit: 60
---
# Weight

Body text stays.
`

type env struct {
	store *storage.Memory
	cache *cache.Cache
	tr    *tracker.Tracker
}

func newEnv(t *testing.T, opts tracker.Options) *env {
	t.Helper()

	clock := func() time.Time { return now }
	store := storage.NewMemory(clock)
	c := cache.New(store, ledger.FrontmatterCodec{}, cache.Options{Now: clock})

	if opts.Now == nil {
		opts.Now = clock
	}

	return &env{store: store, cache: c, tr: tracker.New(store, c, opts)}
}

func (e *env) text(t *testing.T, id storage.ID) string {
	t.Helper()

	b, err := e.store.ReadText(context.Background(), id)
	require.NoError(t, err)

	return string(b)
}

func Test_Write_Then_Value_Returns_Coerced_Number_And_Preserves_Header(t *testing.T) {
	t.Parallel()

	e := newEnv(t, tracker.Options{})
	ctx := context.Background()
	e.store.Put("weight.md", weight, now)

	require.NoError(t, e.tr.Write(ctx, "weight.md", "2024-03-15", "7"))

	v, ok, err := e.tr.Value(ctx, "weight.md", "2024-03-15")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, v.Equal(ledger.Number(7)), "value %#v", v)

	want := strings.Replace(weight,
		`  "2024-03-13": 71.5`+"\n",
		`  "2024-03-13": 71.5`+"\n"+`  "2024-03-15": 7`+"\n", 1)

	if diff := cmp.Diff(want, e.text(t, "weight.md")); diff != "" {
		t.Fatalf("document mismatch (-want +got):\n%s", diff)
	}
}

func Test_Write_Stores_Non_Decimal_Input_As_String(t *testing.T) {
	t.Parallel()

	e := newEnv(t, tracker.Options{})
	ctx := context.Background()
	e.store.Put("mood.md", "---\ntype: text\ndata: {}\n---\n", now)

	for date, raw := range map[string]string{"2024-03-14": "1e3", "2024-03-15": `felt "great"`} {
		require.NoError(t, e.tr.Write(ctx, "mood.md", date, raw))
	}

	got, err := e.tr.Entries(ctx, "mood.md")
	require.NoError(t, err)

	want := ledger.Ledger{"2024-03-14": ledger.Text("1e3"), "2024-03-15": ledger.Text(`felt "great"`)}
	require.True(t, got.Equal(want), "entries %v", got)
	require.Contains(t, e.text(t, "mood.md"), `"2024-03-15": "felt \"great\""`)
}

func Test_Write_Fails_Without_Header_And_Leaves_Document_Untouched(t *testing.T) {
	t.Parallel()

	var writes int

	e := newEnv(t, tracker.Options{Hooks: tracker.Hooks{BeforeWrite: func(storage.ID) { writes++ }}})
	e.store.Put("plain.md", "# no header\n", now)

	err := e.tr.Write(context.Background(), "plain.md", "2024-03-15", "1")
	require.ErrorIs(t, err, tracker.ErrMissingHeader)

	var tErr *tracker.Error
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, storage.ID("plain.md"), tErr.ID)
	require.Equal(t, "write", tErr.Op)
	require.Contains(t, err.Error(), "(doc_id=plain.md op=write)")

	require.Equal(t, "# no header\n", e.text(t, "plain.md"))
	require.Zero(t, writes)
}

func Test_Write_Rejects_Unparseable_Date(t *testing.T) {
	t.Parallel()

	e := newEnv(t, tracker.Options{})
	e.store.Put("weight.md", weight, now)

	err := e.tr.Write(context.Background(), "weight.md", "yesterday", "1")
	require.ErrorIs(t, err, tracker.ErrInvalidDate)
	require.Equal(t, weight, e.text(t, "weight.md"))
}

func Test_Write_Propagates_Storage_Errors(t *testing.T) {
	t.Parallel()

	e := newEnv(t, tracker.Options{})

	err := e.tr.Write(context.Background(), "missing.md", "2024-03-15", "1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func Test_Write_Runs_Hooks_Around_Storage_Write_And_Invalidates_Cache(t *testing.T) {
	t.Parallel()

	var events []string

	e := newEnv(t, tracker.Options{Hooks: tracker.Hooks{
		BeforeWrite: func(id storage.ID) { events = append(events, "before "+string(id)) },
		AfterWrite:  func(id storage.ID) { events = append(events, "after "+string(id)) },
	}})
	ctx := context.Background()
	e.store.Put("weight.md", weight, now)

	e.tr.OnChange(func(c tracker.Change) { events = append(events, c.Kind.String()+" "+string(c.ID)) })

	_, err := e.tr.Entries(ctx, "weight.md")
	require.NoError(t, err)
	require.Equal(t, 1, e.cache.Len())

	require.NoError(t, e.tr.Write(ctx, "weight.md", "2024-03-15", "70"))

	require.Equal(t, []string{"before weight.md", "after weight.md", "modified weight.md"}, events)
	require.Equal(t, 0, e.cache.Len())
}

func Test_Write_Replaces_Key_Written_Under_Other_Format(t *testing.T) {
	t.Parallel()

	e := newEnv(t, tracker.Options{DateFormat: "DD.MM.YYYY"})
	ctx := context.Background()
	e.store.Put("run.md", "---\ndata:\n  \"15.03.2024\": 1\n---\n", now)

	require.NoError(t, e.tr.Write(ctx, "run.md", "15.03.2024", "0"))

	got, err := e.tr.Entries(ctx, "run.md")
	require.NoError(t, err)
	require.True(t, got.Equal(ledger.Ledger{"2024-03-15": ledger.Number(0)}), "entries %v", got)

	v, ok, err := e.tr.Value(ctx, "run.md", "15.03.2024")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0.0, v.Float())
}

func Test_Write_Keeps_Key_Of_Another_Day_With_Same_Digits(t *testing.T) {
	t.Parallel()

	e := newEnv(t, tracker.Options{DateFormat: "MM/DD/YYYY"})
	ctx := context.Background()
	e.store.Put("run.md", "---\ndata:\n  \"04/03/2024\": 9\n---\n", now)

	require.NoError(t, e.tr.Write(ctx, "run.md", "03/04/2024", "5"))

	got, err := e.tr.Entries(ctx, "run.md")
	require.NoError(t, err)
	require.True(t, got.Equal(ledger.Ledger{
		"04/03/2024": ledger.Number(9),
		"2024-03-04": ledger.Number(5),
	}), "entries %v", got)

	v, ok, err := e.tr.Value(ctx, "run.md", "04/03/2024")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 9.0, v.Float())

	v, ok, err = e.tr.Value(ctx, "run.md", "03/04/2024")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 5.0, v.Float())
}

func Test_Delete_Removes_Entry_And_Is_NoOp_When_Missing(t *testing.T) {
	t.Parallel()

	e := newEnv(t, tracker.Options{})
	ctx := context.Background()
	e.store.Put("weight.md", weight, now)

	require.NoError(t, e.tr.Delete(ctx, "weight.md", "2024-03-01"))
	require.Equal(t, weight, e.text(t, "weight.md"))

	require.NoError(t, e.tr.Delete(ctx, "weight.md", "2024-03-13"))
	require.Contains(t, e.text(t, "weight.md"), "data: {}\nminLimit: 60\n")

	_, ok, err := e.tr.Value(ctx, "weight.md", "2024-03-13")
	require.NoError(t, err)
	require.False(t, ok)
}

func Test_Concurrent_Writes_To_One_Document_Are_Not_Lost(t *testing.T) {
	t.Parallel()

	e := newEnv(t, tracker.Options{})
	ctx := context.Background()
	e.store.Put("count.md", "---\ntype: number\ndata: {}\n---\n", now)

	var wg sync.WaitGroup

	for day := 1; day <= 20; day++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := e.tr.Write(ctx, "count.md", fmt.Sprintf("2024-02-%02d", day), fmt.Sprint(day)); err != nil {
				t.Errorf("Write day %d: %v", day, err)
			}
		}()
	}

	wg.Wait()

	got, err := e.tr.Entries(ctx, "count.md")
	require.NoError(t, err)
	require.Len(t, got, 20)
}

func Test_Write_Serializes_Across_Trackers_With_FileLocker(t *testing.T) {
	t.Parallel()

	lockDir := t.TempDir()
	clock := func() time.Time { return now }
	store := storage.NewMemory(clock)
	store.Put("count.md", "---\ndata: {}\n---\n", now)

	newTracker := func() *tracker.Tracker {
		c := cache.New(store, ledger.FrontmatterCodec{}, cache.Options{Now: clock})

		return tracker.New(store, c, tracker.Options{Locker: tracker.NewFileLocker(fs.NewReal(), lockDir)})
	}

	a, b := newTracker(), newTracker()
	ctx := context.Background()

	var wg sync.WaitGroup

	for day := 1; day <= 10; day++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			if err := a.Write(ctx, "count.md", fmt.Sprintf("2024-01-%02d", day), "1"); err != nil {
				t.Errorf("a.Write: %v", err)
			}
		}()

		go func() {
			defer wg.Done()
			if err := b.Write(ctx, "count.md", fmt.Sprintf("2024-02-%02d", day), "1"); err != nil {
				t.Errorf("b.Write: %v", err)
			}
		}()
	}

	wg.Wait()

	got, err := a.Entries(ctx, "count.md")
	require.NoError(t, err)
	require.Len(t, got, 20)
}

func Test_Config_Falls_Back_To_Default(t *testing.T) {
	t.Parallel()

	e := newEnv(t, tracker.Options{})
	ctx := context.Background()
	e.store.Put("weight.md", weight, now)
	e.store.Put("plain.md", "no header", now)

	cfg := e.tr.Config(ctx, "weight.md")
	require.Equal(t, habit.Number, cfg.Mode)
	require.Equal(t, "kg", cfg.Unit)

	require.Equal(t, habit.DefaultConfig(), e.tr.Config(ctx, "plain.md"))
	require.Equal(t, habit.DefaultConfig(), e.tr.Config(ctx, "missing.md"))
}

func Test_Statistics_Uses_Config_Mode_And_Created_Time(t *testing.T) {
	t.Parallel()

	e := newEnv(t, tracker.Options{})
	ctx := context.Background()
	e.store.Put("weight.md", weight, now.AddDate(0, 0, -1))

	res, err := e.tr.Statistics(ctx, "weight.md", tracker.Query{Days: 7})
	require.NoError(t, err)

	require.Equal(t, habit.Number, res.Mode)
	require.NotNil(t, res.Metric)
	// Tracking starts at the backfilled 2024-03-13 entry, before creation.
	require.Equal(t, 3, res.Base.ActualDays)
	require.Equal(t, 71.5, res.Metric.Sum)
	require.NotNil(t, res.Metric.InLimitDays)
	require.Equal(t, 1, *res.Metric.InLimitDays)
}

func Test_Statistics_Degrades_To_Empty_Ledger_When_Unreadable(t *testing.T) {
	t.Parallel()

	e := newEnv(t, tracker.Options{})

	res, err := e.tr.Statistics(context.Background(), "missing.md", tracker.Query{End: "2024-03-15", Days: 7, StartOverride: "2024-03-13"})
	require.NoError(t, err)
	require.Equal(t, habit.GoodHabit, res.Mode)
	require.Equal(t, 0, res.Base.TotalEntries)
	require.Equal(t, 3, res.Base.ActualDays)
	require.Equal(t, 0, res.Streaks.Current)
}

func Test_Statistics_Returns_Context_Error(t *testing.T) {
	t.Parallel()

	e := newEnv(t, tracker.Options{})
	e.store.Put("weight.md", weight, now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.tr.Statistics(ctx, "weight.md", tracker.Query{})
	require.ErrorIs(t, err, context.Canceled)
}

func Test_Renamed_Rekeys_Cache_Without_Rereading(t *testing.T) {
	t.Parallel()

	e := newEnv(t, tracker.Options{})
	ctx := context.Background()
	e.store.Put("old.md", weight, now)

	var changes []tracker.Change

	e.tr.OnChange(func(c tracker.Change) { changes = append(changes, c) })

	_, _, err := e.tr.Value(ctx, "old.md", "2024-03-13")
	require.NoError(t, err)

	e.store.Rename("old.md", "new.md")
	e.tr.Renamed("old.md", "new.md")

	v, ok, err := e.tr.Value(ctx, "new.md", "2024-03-13")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 71.5, v.Float())
	require.Zero(t, e.store.Reads("new.md"))

	require.Equal(t, []tracker.Change{{Kind: tracker.Renamed, ID: "new.md", OldID: "old.md"}}, changes)
}

func Test_Notifications_Drop_Cached_State(t *testing.T) {
	t.Parallel()

	e := newEnv(t, tracker.Options{})
	ctx := context.Background()

	for _, id := range []storage.ID{"a/x.md", "a/y.md", "b.md"} {
		e.store.Put(id, weight, now)

		_, err := e.tr.Entries(ctx, id)
		require.NoError(t, err)
	}

	e.tr.Removed("b.md")
	require.Equal(t, 2, e.cache.Len())

	e.tr.InvalidateFolder("a")
	require.Equal(t, 0, e.cache.Len())

	_, err := e.tr.Entries(ctx, "b.md")
	require.NoError(t, err)

	e.tr.InvalidateAll()
	require.Equal(t, 0, e.cache.Len())
}

func Test_List_Skips_Documents_Without_Header(t *testing.T) {
	t.Parallel()

	e := newEnv(t, tracker.Options{})
	e.store.Put("habits/run.md", "---\ntype: good-habit\n---\n", now)
	e.store.Put("habits/journal.md", "just prose", now)
	e.store.Put("other/read.md", "---\n---\n", now)

	got, err := e.tr.List(context.Background(), "habits")
	require.NoError(t, err)
	require.Equal(t, []storage.ID{"habits/run.md"}, got)
}

func Test_Error_Unwraps_To_Cause(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk on fire")
	err := &tracker.Error{ID: "a.md", Op: "write", Err: cause}

	require.ErrorIs(t, err, cause)
	require.Equal(t, "disk on fire (doc_id=a.md op=write)", err.Error())
}
