package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/calvinalkan/habits/internal/cache"
	"github.com/calvinalkan/habits/internal/config"
	"github.com/calvinalkan/habits/internal/index"
	"github.com/calvinalkan/habits/internal/ledger"
	"github.com/calvinalkan/habits/internal/storage"
	"github.com/calvinalkan/habits/internal/tracker"
	"github.com/calvinalkan/habits/internal/watch"
	"github.com/calvinalkan/habits/pkg/fs"
)

var errIndexDisabled = errors.New("index is disabled (set \"index\": true in the config)")

// app wires the vault, cache, tracker and index for one CLI invocation. Parts
// are opened on first use so commands like print-config never touch the
// vault.
type app struct {
	cfg config.Config
	log *slog.Logger

	once    sync.Once
	openErr error
	vault   *storage.Vault
	tracker *tracker.Tracker
	idx     *index.Index

	mu      sync.Mutex
	watcher *watch.Watcher
}

func newApp(cfg config.Config, log *slog.Logger) *app {
	return &app{cfg: cfg, log: log}
}

// Tracker opens the vault and returns its tracker. With the index enabled,
// tracker changes are mirrored into it.
func (a *app) Tracker(ctx context.Context) (*tracker.Tracker, error) {
	a.once.Do(func() { a.openErr = a.open(ctx) })

	return a.tracker, a.openErr
}

func (a *app) open(ctx context.Context) error {
	fsys := fs.NewReal()

	exists, err := fsys.Exists(a.cfg.VaultDirAbs)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}

	if !exists {
		return fmt.Errorf("open vault: %s: %w", a.cfg.VaultDirAbs, storage.ErrNotFound)
	}

	a.vault = storage.NewVault(fsys, a.cfg.VaultDirAbs).
		WithBirths(storage.NewBirths(a.cfg.BirthsPath(), a.log))

	codec := ledger.FrontmatterCodec{}
	c := cache.New(a.vault, codec, cache.Options{TTL: a.cfg.TTL, MaxEntries: a.cfg.CacheMaxEntries})

	a.tracker = tracker.New(a.vault, c, tracker.Options{
		DateFormat: a.cfg.Format(),
		Codec:      codec,
		Locker:     tracker.NewFileLocker(fsys, a.cfg.LockDir()),
		Logger:     a.log,
		Hooks: tracker.Hooks{
			BeforeWrite: a.beforeWrite,
			AfterWrite:  a.afterWrite,
		},
	})

	if !a.cfg.IndexEnabled() {
		return nil
	}

	a.idx, err = index.Open(ctx, a.cfg.IndexPath(), index.Options{DateFormat: a.cfg.Format(), Logger: a.log})
	if err != nil {
		return err
	}

	fresh, err := a.idx.Fresh(ctx)
	if err != nil {
		return err
	}

	if fresh {
		if _, err := a.idx.Rebuild(ctx, a.tracker); err != nil {
			return err
		}
	} else if n, err := a.idx.Refresh(ctx, a.tracker); err != nil {
		return err
	} else if n > 0 {
		a.log.Debug("index refreshed", "changed", n)
	}

	a.idx.Follow(a.tracker)

	return nil
}

// Index returns the SQLite index, opening the vault if needed.
func (a *app) Index(ctx context.Context) (*index.Index, *tracker.Tracker, error) {
	tr, err := a.Tracker(ctx)
	if err != nil {
		return nil, nil, err
	}

	if a.idx == nil {
		return nil, nil, errIndexDisabled
	}

	return a.idx, tr, nil
}

// StartWatcher starts reporting external edits to the tracker. Writes made
// through the tracker are hidden from the watcher by the write hooks.
func (a *app) StartWatcher(ctx context.Context) (*watch.Watcher, error) {
	tr, err := a.Tracker(ctx)
	if err != nil {
		return nil, err
	}

	w, err := watch.New(a.vault, tr, watch.Options{Logger: a.log})
	if err != nil {
		return nil, err
	}

	if err := w.Start(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.watcher = w
	a.mu.Unlock()

	return w, nil
}

func (a *app) beforeWrite(id storage.ID) {
	a.mu.Lock()
	w := a.watcher
	a.mu.Unlock()

	if w != nil {
		w.Suppress(id)
	}
}

func (a *app) afterWrite(id storage.ID) {
	a.mu.Lock()
	w := a.watcher
	a.mu.Unlock()

	if w != nil {
		w.Release(id)
	}
}

// Close stops the watcher and closes the index.
func (a *app) Close() error {
	var errs []error

	a.mu.Lock()
	w := a.watcher
	a.watcher = nil
	a.mu.Unlock()

	if w != nil {
		errs = append(errs, w.Stop())
	}

	if a.idx != nil {
		errs = append(errs, a.idx.Close())
	}

	return errors.Join(errs...)
}

// docID turns a command-line argument into a document ID. The ".md"
// extension is optional.
func docID(arg string) (storage.ID, error) {
	id, err := storage.ParseID(arg)
	if err != nil {
		return "", err
	}

	if id == "" {
		return "", fmt.Errorf("%w: empty document name", storage.ErrInvalidID)
	}

	if !strings.HasSuffix(string(id), storage.DocumentExt) {
		id += storage.DocumentExt
	}

	return id, nil
}

// folderID turns an optional folder argument into an ID; no argument is the
// vault root.
func folderID(args []string) (storage.ID, error) {
	if len(args) == 0 {
		return "", nil
	}

	return storage.ParseID(args[0])
}
