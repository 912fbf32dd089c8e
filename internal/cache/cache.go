// Package cache keeps parsed ledgers and tracker configurations per document.
//
// An entry records the document's (modification time, size) fingerprint and
// its creation time. It is stale once the TTL has elapsed or the live
// fingerprint differs; freshness is checked with a metadata-only Stat, never
// by re-reading content. Stale entries are replaced wholesale. The cache is
// bounded: inserting beyond MaxEntries evicts the least recently used entry,
// and every successful get moves its document to the most recently used end.
//
// Cache is safe for concurrent use. Storage I/O runs outside the lock; a
// result computed while an invalidation happened is returned to the caller
// but not stored.
package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/calvinalkan/habits/internal/habit"
	"github.com/calvinalkan/habits/internal/ledger"
	"github.com/calvinalkan/habits/internal/storage"
)

// Defaults for zero [Options] fields.
const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 500
)

// Options configures a [Cache].
type Options struct {
	TTL        time.Duration    // entry lifetime; default [DefaultTTL]
	MaxEntries int              // entry bound; default [DefaultMaxEntries]
	Now        func() time.Time // clock; default time.Now
}

// Metrics are cumulative counters since the cache was created.
type Metrics struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type fingerprint struct {
	modTime time.Time
	size    int64
}

type entry struct {
	id      storage.ID
	fp      fingerprint
	created time.Time
	config  *habit.Config
	ledger  ledger.Ledger // nil until requested
}

// Cache is a bounded per-document cache of ledgers and configurations.
type Cache struct {
	store storage.Storage
	codec ledger.Codec
	ttl   time.Duration
	max   int
	now   func() time.Time

	mu      sync.Mutex
	entries map[storage.ID]*list.Element
	lru     *list.List // front is most recently used
	gen     uint64     // bumped by every invalidation
	metrics Metrics
}

// New returns an empty cache reading through store and decoding with codec.
func New(store storage.Storage, codec ledger.Codec, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}

	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Cache{
		store:   store,
		codec:   codec,
		ttl:     opts.TTL,
		max:     opts.MaxEntries,
		now:     opts.Now,
		entries: make(map[storage.ID]*list.Element),
		lru:     list.New(),
	}
}

// Ledger returns the parsed ledger of id. The returned map is shared with the
// cache and must not be modified; use [ledger.Ledger.Clone] first.
func (c *Cache) Ledger(ctx context.Context, id storage.ID) (ledger.Ledger, error) {
	return load(ctx, c, id,
		func(e *entry) (ledger.Ledger, bool) { return e.ledger, e.ledger != nil },
		c.codec.Decode,
		func(e *entry, l ledger.Ledger) { e.ledger = l },
	)
}

// Config returns the tracker configuration of id.
func (c *Cache) Config(ctx context.Context, id storage.ID) (habit.Config, error) {
	return load(ctx, c, id,
		func(e *entry) (habit.Config, bool) {
			if e.config == nil {
				return habit.Config{}, false
			}

			return *e.config, true
		},
		habit.Parse,
		func(e *entry, cfg habit.Config) { e.config = &cfg },
	)
}

func load[T any](
	ctx context.Context,
	c *Cache,
	id storage.ID,
	get func(*entry) (T, bool),
	decode func([]byte) (T, error),
	set func(*entry, T),
) (T, error) {
	var zero T

	meta, err := c.store.Stat(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.Invalidate(id)
		}

		return zero, err
	}

	fp := fingerprint{modTime: meta.ModTime, size: meta.Size}

	c.mu.Lock()

	if el, ok := c.entries[id]; ok {
		e := el.Value.(*entry)
		if c.fresh(e, fp) {
			if v, ok := get(e); ok {
				c.lru.MoveToFront(el)
				c.metrics.Hits++
				c.mu.Unlock()

				return v, nil
			}
		}
	}

	c.metrics.Misses++
	gen := c.gen
	c.mu.Unlock()

	text, err := c.store.ReadText(ctx, id)
	if err != nil {
		return zero, err
	}

	v, err := decode(text)
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		return v, nil
	}

	el, ok := c.entries[id]
	if !ok || !c.fresh(el.Value.(*entry), fp) {
		if ok {
			c.lru.Remove(el)
		}

		el = c.lru.PushFront(&entry{id: id, fp: fp, created: c.now()})
		c.entries[id] = el
	}

	set(el.Value.(*entry), v)
	c.lru.MoveToFront(el)
	c.evict()

	return v, nil
}

func (c *Cache) fresh(e *entry, fp fingerprint) bool {
	if c.now().Sub(e.created) > c.ttl {
		return false
	}

	return e.fp.size == fp.size && e.fp.modTime.Equal(fp.modTime)
}

// evict drops least recently used entries until the bound holds. Caller
// holds mu.
func (c *Cache) evict() {
	for c.lru.Len() > c.max {
		el := c.lru.Back()
		c.lru.Remove(el)
		delete(c.entries, el.Value.(*entry).id)
		c.metrics.Evictions++
	}
}

// Invalidate drops the entry of id.
func (c *Cache) Invalidate(id storage.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.remove(id)
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.entries = make(map[storage.ID]*list.Element)
	c.lru.Init()
}

// InvalidateFolder drops every entry under folder, at any depth. The root
// folder "" matches every document.
func (c *Cache) InvalidateFolder(folder storage.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++

	for id := range c.entries {
		if id.Under(folder) {
			c.remove(id)
		}
	}
}

// Rekey moves the entry of oldID, with its LRU position, to newID without
// recomputing it. If oldID has no entry, any entry under newID is dropped.
func (c *Cache) Rekey(oldID, newID storage.ID) {
	if oldID == newID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++

	el, ok := c.entries[oldID]
	if !ok {
		c.remove(newID)

		return
	}

	c.remove(newID)
	delete(c.entries, oldID)

	el.Value.(*entry).id = newID
	c.entries[newID] = el
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}

// Metrics returns a snapshot of the counters.
func (c *Cache) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.metrics
}

func (c *Cache) remove(id storage.ID) {
	if el, ok := c.entries[id]; ok {
		c.lru.Remove(el)
		delete(c.entries, id)
	}
}
