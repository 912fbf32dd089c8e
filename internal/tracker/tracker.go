// Package tracker is the read/write surface over tracker documents: values by
// date, whole ledgers, configuration, statistics, and the change
// notifications that keep the cache and derived indexes in step with the
// store.
//
// Reads go through the cache and degrade to defaults where a failure would
// only hide one document. Writes are read-modify-write of the full document
// text, serialized per document, and surface every failure.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calvinalkan/habits/internal/cache"
	"github.com/calvinalkan/habits/internal/habit"
	"github.com/calvinalkan/habits/internal/ledger"
	"github.com/calvinalkan/habits/internal/stats"
	"github.com/calvinalkan/habits/internal/storage"
	"github.com/calvinalkan/habits/pkg/dates"
)

// DefaultWindow is the statistics window used when a query sets none.
const DefaultWindow = 30

// Hooks run around every storage write. BeforeWrite lets a file watcher
// ignore the event the write is about to cause; AfterWrite always runs once
// BeforeWrite did, even when the write failed.
type Hooks struct {
	BeforeWrite func(id storage.ID)
	AfterWrite  func(id storage.ID)
}

// Options configures a [Tracker].
type Options struct {
	// DateFormat is the display format for dates passed in and out. Empty
	// means [dates.ISO]. Ledger keys are always written as ISO.
	DateFormat dates.Format

	// Codec encodes ledgers into document text. Defaults to
	// [ledger.FrontmatterCodec].
	Codec ledger.Codec

	Hooks Hooks

	// Locker adds a cross-process lock to the in-process one. Optional.
	Locker Locker

	Logger *slog.Logger
	Now    func() time.Time
}

// ChangeKind says what happened to a document.
type ChangeKind uint8

// ChangeKind values.
const (
	Created ChangeKind = iota + 1
	Modified
	Removed
	Renamed
	FolderChanged
	AllChanged
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	case Renamed:
		return "renamed"
	case FolderChanged:
		return "folder"
	case AllChanged:
		return "all"
	default:
		return "unknown"
	}
}

// Change is delivered to [Tracker.OnChange] listeners. OldID is set for
// renames. For FolderChanged, ID is the folder.
type Change struct {
	Kind  ChangeKind
	ID    storage.ID
	OldID storage.ID
}

// Query selects the statistics window.
type Query struct {
	End           string // display format; empty means today
	Days          int    // 0 means DefaultWindow; negative means all tracked days
	StartOverride string // overrides the document's startDate
}

// Tracker is the facade over store and cache. It is safe for concurrent use.
type Tracker struct {
	store  storage.Storage
	cache  *cache.Cache
	codec  ledger.Codec
	format dates.Format
	hooks  Hooks
	locker Locker
	log    *slog.Logger
	now    func() time.Time

	keys keyedMutex

	mu        sync.RWMutex
	listeners []func(Change)
}

// New returns a Tracker reading through c and writing to store. c must read
// from the same store.
func New(store storage.Storage, c *cache.Cache, opts Options) *Tracker {
	if opts.DateFormat == "" {
		opts.DateFormat = dates.ISO
	}

	if opts.Codec == nil {
		opts.Codec = ledger.FrontmatterCodec{}
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Tracker{
		store:  store,
		cache:  c,
		codec:  opts.Codec,
		format: opts.DateFormat,
		hooks:  opts.Hooks,
		locker: opts.Locker,
		log:    opts.Logger,
		now:    opts.Now,
	}
}

// DateFormat returns the display format.
func (t *Tracker) DateFormat() dates.Format {
	return t.format
}

// Today returns the current date in the display format.
func (t *Tracker) Today() string {
	return dates.Today(t.now).Format(t.format)
}

// ParseDate parses s in the display format or any fallback format.
func (t *Tracker) ParseDate(s string) (dates.Date, error) {
	d, ok := dates.ParseStrict(s, dates.WithFallbacks(t.format)...)
	if !ok {
		return dates.Date{}, errInvalidDate(s)
	}

	return d, nil
}

// Value returns the entry for date, looked up under the display format first
// and then every fallback format.
func (t *Tracker) Value(ctx context.Context, id storage.ID, date string) (ledger.Value, bool, error) {
	d, err := t.ParseDate(date)
	if err != nil {
		return ledger.Value{}, false, withContext(err, id, "read")
	}

	l, err := t.cache.Ledger(ctx, id)
	if err != nil {
		return ledger.Value{}, false, withContext(err, id, "read")
	}

	v, ok := stats.Lookup(l, d, t.format)

	return v, ok, nil
}

// Stat returns the document's storage metadata without reading it.
func (t *Tracker) Stat(ctx context.Context, id storage.ID) (storage.Meta, error) {
	meta, err := t.store.Stat(ctx, id)
	if err != nil {
		return storage.Meta{}, withContext(err, id, "stat")
	}

	return meta, nil
}

// Entries returns a copy of the whole ledger.
func (t *Tracker) Entries(ctx context.Context, id storage.ID) (ledger.Ledger, error) {
	l, err := t.cache.Ledger(ctx, id)
	if err != nil {
		return nil, withContext(err, id, "read")
	}

	return l.Clone(), nil
}

// Config returns the document's tracker configuration. Failures are logged
// and yield [habit.DefaultConfig].
func (t *Tracker) Config(ctx context.Context, id storage.ID) habit.Config {
	cfg, err := t.cache.Config(ctx, id)
	if err != nil {
		t.log.Warn("config unavailable, using defaults", "doc", id, "err", err)

		return habit.DefaultConfig()
	}

	return cfg
}

// Write stores raw for date. raw becomes a number when it is a plain decimal
// and a string otherwise. The entry is keyed by the ISO form of date; keys
// for the same day in other formats are removed.
func (t *Tracker) Write(ctx context.Context, id storage.ID, date, raw string) error {
	return t.update(ctx, id, "write", date, func(l ledger.Ledger, key string) {
		l[key] = ledger.Coerce(raw)
	})
}

// Delete removes the entry for date. Deleting a missing entry is a no-op.
func (t *Tracker) Delete(ctx context.Context, id storage.ID, date string) error {
	return t.update(ctx, id, "delete", date, func(ledger.Ledger, string) {})
}

func (t *Tracker) update(ctx context.Context, id storage.ID, op, date string, apply func(l ledger.Ledger, key string)) error {
	d, err := t.ParseDate(date)
	if err != nil {
		return withContext(err, id, op)
	}

	unlock, err := t.lock(ctx, id)
	if err != nil {
		return withContext(err, id, op)
	}
	defer unlock()

	text, err := t.store.ReadText(ctx, id)
	if err != nil {
		return withContext(err, id, op)
	}

	current, err := t.codec.Decode(text)
	if err != nil {
		if errors.Is(err, ledger.ErrNoHeader) {
			err = ErrMissingHeader
		}

		return withContext(err, id, op)
	}

	// Drop keys that name the same day in another format. Keys that only
	// look alike ("04/03" as April 3) belong to a different day and stay.
	formats := dates.WithFallbacks(t.format)
	next := current.Clone()

	for key := range current {
		if kd, ok := dates.ParseStrict(key, formats...); ok && kd.Equal(d) {
			delete(next, key)
		}
	}

	apply(next, d.Key())

	if next.Equal(current) {
		return nil
	}

	out, err := t.codec.Encode(text, next)
	if err != nil {
		return withContext(err, id, op)
	}

	if err := t.writeText(ctx, id, out); err != nil {
		return withContext(err, id, op)
	}

	t.cache.Invalidate(id)
	t.emit(Change{Kind: Modified, ID: id})

	return nil
}

func (t *Tracker) writeText(ctx context.Context, id storage.ID, text []byte) error {
	if t.hooks.BeforeWrite != nil {
		t.hooks.BeforeWrite(id)
	}

	if t.hooks.AfterWrite != nil {
		defer t.hooks.AfterWrite(id)
	}

	return t.store.WriteText(ctx, id, text)
}

func (t *Tracker) lock(ctx context.Context, id storage.ID) (func(), error) {
	unlock, err := t.keys.lock(ctx, id)
	if err != nil {
		return nil, err
	}

	if t.locker == nil {
		return unlock, nil
	}

	fl, err := t.locker.Lock(ctx, id)
	if err != nil {
		unlock()

		return nil, err
	}

	return func() {
		if err := fl.Close(); err != nil {
			t.log.Warn("release document lock", "doc", id, "err", err)
		}

		unlock()
	}, nil
}

// Statistics computes windowed statistics and streaks. A document that
// cannot be read is treated as an empty ledger so callers can keep
// rendering; only context errors are returned.
func (t *Tracker) Statistics(ctx context.Context, id storage.ID, q Query) (stats.Result, error) {
	in, err := t.input(ctx, id, q)
	if err != nil {
		return stats.Result{}, err
	}

	return stats.Compute(in), nil
}

// Heatmap returns per-day cells for the query window. See [stats.Heatmap].
func (t *Tracker) Heatmap(ctx context.Context, id storage.ID, q Query) ([]stats.Cell, error) {
	in, err := t.input(ctx, id, q)
	if err != nil {
		return nil, err
	}

	return stats.Heatmap(in), nil
}

func (t *Tracker) input(ctx context.Context, id storage.ID, q Query) (stats.Input, error) {
	cfg := t.Config(ctx, id)

	l, err := t.cache.Ledger(ctx, id)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stats.Input{}, ctxErr
		}

		t.log.Warn("ledger unavailable, using empty ledger", "doc", id, "err", err)

		l = ledger.Ledger{}
	}

	var created time.Time
	if meta, err := t.store.Stat(ctx, id); err == nil {
		created = meta.Created
	}

	end := q.End
	if end == "" {
		end = t.Today()
	}

	days := q.Days
	if days == 0 {
		days = DefaultWindow
	}

	start := q.StartOverride
	if start == "" {
		start = cfg.StartDate
	}

	return stats.Input{
		Ledger:        l,
		Mode:          cfg.Mode,
		End:           end,
		Days:          days,
		Format:        t.format,
		StartOverride: start,
		Created:       created,
		Limits:        cfg,
	}, nil
}

// List returns the tracker documents under folder: documents whose header
// parses.
func (t *Tracker) List(ctx context.Context, folder storage.ID) ([]storage.ID, error) {
	ids, err := t.store.List(ctx, folder)
	if err != nil {
		return nil, withContext(err, folder, "list")
	}

	out := ids[:0]

	for _, id := range ids {
		if _, err := t.cache.Config(ctx, id); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}

			t.log.Debug("skipping document", "doc", id, "err", err)

			continue
		}

		out = append(out, id)
	}

	return out, nil
}

// OnChange registers fn for every change handled by this tracker. fn runs
// synchronously on the goroutine that reported the change.
func (t *Tracker) OnChange(fn func(Change)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.listeners = append(t.listeners, fn)
}

func (t *Tracker) emit(c Change) {
	t.mu.RLock()
	listeners := t.listeners
	t.mu.RUnlock()

	for _, fn := range listeners {
		fn(c)
	}
}

// Created reports a new document.
func (t *Tracker) Created(id storage.ID) {
	t.cache.Invalidate(id)
	t.emit(Change{Kind: Created, ID: id})
}

// Modified reports an external edit.
func (t *Tracker) Modified(id storage.ID) {
	t.cache.Invalidate(id)
	t.emit(Change{Kind: Modified, ID: id})
}

// Removed reports a deleted document.
func (t *Tracker) Removed(id storage.ID) {
	if o, ok := t.store.(storage.Observer); ok {
		o.Removed(id)
	}

	t.cache.Invalidate(id)
	t.emit(Change{Kind: Removed, ID: id})
}

// Renamed re-keys the cached entry of oldID to newID and tells the store.
func (t *Tracker) Renamed(oldID, newID storage.ID) {
	if o, ok := t.store.(storage.Observer); ok {
		o.Renamed(oldID, newID)
	}

	t.cache.Rekey(oldID, newID)
	t.emit(Change{Kind: Renamed, ID: newID, OldID: oldID})
}

// InvalidateFolder drops cached state for every document under folder.
func (t *Tracker) InvalidateFolder(folder storage.ID) {
	t.cache.InvalidateFolder(folder)
	t.emit(Change{Kind: FolderChanged, ID: folder})
}

// InvalidateAll drops all cached state.
func (t *Tracker) InvalidateAll() {
	t.cache.InvalidateAll()
	t.emit(Change{Kind: AllChanged})
}

func errInvalidDate(s string) error {
	return fmt.Errorf("%w: %q", ErrInvalidDate, s)
}
