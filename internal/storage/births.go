package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// Births remembers the earliest creation time seen for each document.
// Vault writes replace the file, and the replacement carries a new birth
// time, so the filesystem alone cannot answer "when was this tracker
// created" after the first write.
//
// Times live in memory and are persisted as a JSON object on Sync. Sync
// merges with the file on disk, keeping the earlier time per document, so
// concurrent processes only ever move a creation time backwards.
type Births struct {
	path string
	log  *slog.Logger

	mu      sync.Mutex
	loaded  bool
	dirty   bool
	times   map[ID]time.Time
	dropped map[ID]bool
}

// NewBirths returns a record persisted at path. The file is read on first
// use. log may be nil.
func NewBirths(path string, log *slog.Logger) *Births {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Births{path: path, log: log, times: map[ID]time.Time{}, dropped: map[ID]bool{}}
}

// Earliest records t for id unless an earlier time is known, and returns the
// earliest recorded time. Call [Births.Sync] to persist.
func (b *Births) Earliest(id ID, t time.Time) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.load()

	prev, ok := b.times[id]
	if ok && !prev.After(t) {
		return prev
	}

	if t.IsZero() {
		return prev
	}

	b.times[id] = t
	delete(b.dropped, id)
	b.dirty = true

	return t
}

// Rename moves the record of oldID to newID and persists it.
func (b *Births) Rename(oldID, newID ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.load()

	t, ok := b.times[oldID]
	if !ok {
		return
	}

	delete(b.times, oldID)
	b.dropped[oldID] = true

	if prev, ok := b.times[newID]; !ok || t.Before(prev) {
		b.times[newID] = t
	}

	delete(b.dropped, newID)
	b.dirty = true

	b.sync()
}

// Forget drops the record of id and persists it.
func (b *Births) Forget(id ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.load()

	if _, ok := b.times[id]; !ok {
		return
	}

	delete(b.times, id)
	b.dropped[id] = true
	b.dirty = true

	b.sync()
}

// Sync persists pending records. Failures are logged; the in-memory times
// stay authoritative for this process.
func (b *Births) Sync() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sync()
}

func (b *Births) sync() {
	if !b.dirty {
		return
	}

	disk, err := b.read()
	if err != nil {
		b.log.Warn("read creation times", "path", b.path, "err", err)
	}

	for id, t := range disk {
		if b.dropped[id] {
			continue
		}

		if prev, ok := b.times[id]; !ok || t.Before(prev) {
			b.times[id] = t
		}
	}

	if err := b.write(); err != nil {
		b.log.Warn("write creation times", "path", b.path, "err", err)

		return
	}

	b.dirty = false
	clear(b.dropped)
}

func (b *Births) load() {
	if b.loaded {
		return
	}

	b.loaded = true

	disk, err := b.read()
	if err != nil {
		b.log.Warn("read creation times", "path", b.path, "err", err)

		return
	}

	for id, t := range disk {
		if prev, ok := b.times[id]; !ok || t.Before(prev) {
			b.times[id] = t
		}
	}
}

func (b *Births) read() (map[ID]time.Time, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	var disk map[ID]time.Time
	if err := json.Unmarshal(data, &disk); err != nil {
		return nil, fmt.Errorf("parse %s: %w", b.path, err)
	}

	return disk, nil
}

func (b *Births) write() error {
	data, err := json.MarshalIndent(b.times, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}

	return atomic.WriteFile(b.path, bytes.NewReader(append(data, '\n')))
}
