// Package watch turns filesystem events under a vault into document change
// notifications.
//
// Events are debounced per path. A rename shows up as a rename of the old
// path followed by a create of the new one; the two are paired into one
// Renamed call when they arrive within the debounce window. An unpaired
// rename is reported as a removal.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/calvinalkan/habits/internal/storage"
)

// DefaultDebounce is the quiet period before a path's events are reported.
const DefaultDebounce = 100 * time.Millisecond

// Sink receives document changes. [tracker.Tracker] implements it.
type Sink interface {
	Created(id storage.ID)
	Modified(id storage.ID)
	Removed(id storage.ID)
	Renamed(oldID, newID storage.ID)
	InvalidateFolder(folder storage.ID)
}

// Options configures a [Watcher].
type Options struct {
	Debounce time.Duration
	Logger   *slog.Logger
}

type kind uint8

const (
	created kind = iota + 1
	modified
	removed
)

type pendingEvent struct {
	kind kind
	at   time.Time
}

type renameFrom struct {
	id storage.ID
	at time.Time
}

// Watcher watches every visible directory of a vault.
type Watcher struct {
	vault    *storage.Vault
	sink     Sink
	debounce time.Duration
	log      *slog.Logger

	fw   *fsnotify.Watcher
	done chan struct{}

	// Loop state, owned by the loop goroutine.
	pending map[storage.ID]pendingEvent
	renames []renameFrom
	dirs    map[storage.ID]bool

	mu    sync.Mutex
	quiet map[storage.ID]*suppression
}

type suppression struct {
	active int
	until  time.Time
}

// New creates a watcher for vault reporting to sink. Call [Watcher.Start].
func New(vault *storage.Vault, sink Sink, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		vault:    vault,
		sink:     sink,
		debounce: opts.Debounce,
		log:      opts.Logger,
		fw:       fw,
		done:     make(chan struct{}),
		pending:  make(map[storage.ID]pendingEvent),
		dirs:     make(map[storage.ID]bool),
		quiet:    make(map[storage.ID]*suppression),
	}, nil
}

// Start adds watches for the vault tree and begins delivering changes.
func (w *Watcher) Start() error {
	if err := w.addTree(w.vault.Root()); err != nil {
		_ = w.fw.Close()

		return err
	}

	go w.loop()

	return nil
}

// Stop closes the watcher and waits for the loop to exit. Pending changes are
// flushed first.
func (w *Watcher) Stop() error {
	err := w.fw.Close()
	<-w.done

	return err
}

// Suppress ignores events for id until the matching [Watcher.Release]. Wire
// it to the tracker's BeforeWrite hook.
func (w *Watcher) Suppress(id storage.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s, ok := w.quiet[id]
	if !ok {
		s = &suppression{}
		w.quiet[id] = s
	}

	s.active++
}

// Release ends a [Watcher.Suppress]. Events that arrive within two debounce
// periods afterwards are still ignored, since the kernel delivers them
// asynchronously.
func (w *Watcher) Release(id storage.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if s, ok := w.quiet[id]; ok {
		s.active--
		s.until = time.Now().Add(2 * w.debounce)
	}
}

func (w *Watcher) suppressed(id storage.ID, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	s, ok := w.quiet[id]
	if !ok {
		return false
	}

	if s.active > 0 || now.Before(s.until) {
		return true
	}

	delete(w.quiet, id)

	return false
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		if !d.IsDir() {
			return nil
		}

		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		if err := w.fw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}

		if id, err := w.vault.IDOf(p); err == nil {
			w.dirs[id] = true
		}

		return nil
	})
}

func (w *Watcher) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				w.flush(time.Time{})

				return
			}

			w.handle(ev, time.Now())

		case <-ticker.C:
			w.flush(time.Now())

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}

			w.log.Warn("watch error", "err", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event, now time.Time) {
	id, err := w.vault.IDOf(ev.Name)
	if err != nil || id == "" || hidden(id) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}

		if info.IsDir() {
			w.dirCreated(id, ev.Name, now)

			return
		}

		if !storage.IsDocument(id) {
			return
		}

		if len(w.renames) > 0 {
			from := w.renames[0]
			w.renames = w.renames[1:]
			delete(w.pending, from.id)
			w.sink.Renamed(from.id, id)

			return
		}

		w.mark(id, created, now)

	case ev.Has(fsnotify.Write):
		if storage.IsDocument(id) {
			w.mark(id, modified, now)
		}

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if w.dirs[id] {
			w.dirGone(id)

			return
		}

		if !storage.IsDocument(id) {
			return
		}

		if ev.Has(fsnotify.Rename) {
			w.renames = append(w.renames, renameFrom{id: id, at: now})

			return
		}

		w.mark(id, removed, now)
	}
}

// mark records the latest event for id. A create followed by writes stays a
// create.
func (w *Watcher) mark(id storage.ID, k kind, now time.Time) {
	if prev, ok := w.pending[id]; ok && prev.kind == created && k == modified {
		k = created
	}

	w.pending[id] = pendingEvent{kind: k, at: now}
}

func (w *Watcher) dirCreated(id storage.ID, path string, now time.Time) {
	if err := w.addTree(path); err != nil {
		w.log.Warn("watch new folder", "folder", id, "err", err)
	}

	w.sink.InvalidateFolder(id)

	ids, err := w.vault.List(context.Background(), id)
	if err != nil {
		return
	}

	for _, doc := range ids {
		w.mark(doc, created, now)
	}
}

func (w *Watcher) dirGone(id storage.ID) {
	for d := range w.dirs {
		if d == id || d.Under(id) {
			delete(w.dirs, d)
			_ = w.fw.Remove(w.vault.Path(d))
		}
	}

	for p := range w.pending {
		if p.Under(id) {
			delete(w.pending, p)
		}
	}

	w.sink.InvalidateFolder(id)
}

// flush reports every pending event older than the debounce period, or all
// of them when now is zero.
func (w *Watcher) flush(now time.Time) {
	due := func(at time.Time) bool {
		return now.IsZero() || now.Sub(at) >= w.debounce
	}

	for len(w.renames) > 0 && due(w.renames[0].at) {
		w.sink.Removed(w.renames[0].id)
		w.renames = w.renames[1:]
	}

	for id, ev := range w.pending {
		if !due(ev.at) {
			continue
		}

		delete(w.pending, id)

		if ev.kind != removed && w.suppressed(id, time.Now()) {
			continue
		}

		switch ev.kind {
		case created:
			w.sink.Created(id)
		case modified:
			w.sink.Modified(id)
		case removed:
			w.sink.Removed(id)
		}
	}
}

func hidden(id storage.ID) bool {
	for _, part := range strings.Split(string(id), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}

	return false
}
