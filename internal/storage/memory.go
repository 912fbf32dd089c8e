package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory [Storage]. Every write bumps the modification time
// by at least one nanosecond so fingerprints always change. It records how
// often each document was read.
type Memory struct {
	mu    sync.Mutex
	docs  map[ID]*memDoc
	reads map[ID]int
	now   func() time.Time
}

type memDoc struct {
	text []byte
	meta Meta
}

// NewMemory returns an empty store. now defaults to [time.Now].
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}

	return &Memory{docs: map[ID]*memDoc{}, reads: map[ID]int{}, now: now}
}

// Put creates or replaces a document with explicit creation time.
func (m *Memory) Put(id ID, text string, created time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.docs[id] = &memDoc{
		text: []byte(text),
		meta: Meta{ModTime: m.nextModTime(id), Size: int64(len(text)), Created: created},
	}
}

// Touch sets the modification time of id without changing content.
func (m *Memory) Touch(id ID, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.docs[id]; ok {
		d.meta.ModTime = modTime
	}
}

// Rename moves a document.
func (m *Memory) Rename(oldID, newID ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.docs[oldID]; ok {
		delete(m.docs, oldID)
		m.docs[newID] = d
	}
}

// Delete removes a document.
func (m *Memory) Delete(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.docs, id)
}

// Reads returns how many times id was read.
func (m *Memory) Reads(id ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.reads[id]
}

func (m *Memory) ReadText(ctx context.Context, id ID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}

	m.reads[id]++

	return slices.Clone(d.text), nil
}

func (m *Memory) WriteText(ctx context.Context, id ID, text []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	created := m.now()
	if d, ok := m.docs[id]; ok {
		created = d.meta.Created
	}

	m.docs[id] = &memDoc{
		text: slices.Clone(text),
		meta: Meta{ModTime: m.nextModTime(id), Size: int64(len(text)), Created: created},
	}

	return nil
}

func (m *Memory) Stat(ctx context.Context, id ID) (Meta, error) {
	if err := ctx.Err(); err != nil {
		return Meta{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[id]
	if !ok {
		return Meta{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}

	return d.meta, nil
}

func (m *Memory) List(ctx context.Context, folder ID) ([]ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ID

	for id := range m.docs {
		if id.Under(folder) && IsDocument(id) {
			out = append(out, id)
		}
	}

	slices.Sort(out)

	return out, nil
}

// Tree builds the folder structure implied by document paths.
func (m *Memory) Tree(ctx context.Context, folder ID) (*Folder, error) {
	ids, err := m.List(ctx, folder)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	root := &Folder{ID: folder}
	folders := map[ID]*Folder{folder: root}

	var ensure func(ID) *Folder
	ensure = func(id ID) *Folder {
		if f, ok := folders[id]; ok {
			return f
		}

		f := &Folder{ID: id}
		folders[id] = f
		parent := ensure(id.Dir())
		parent.Children = append(parent.Children, f)

		return f
	}

	for _, id := range ids {
		parent := ensure(id.Dir())
		parent.Children = append(parent.Children, &File{ID: id, Meta: m.docs[id].meta})
	}

	for _, f := range folders {
		sort.Slice(f.Children, func(i, j int) bool {
			return strings.Compare(f.Children[i].EntryID().Base(), f.Children[j].EntryID().Base()) < 0
		})
	}

	return root, nil
}

func (m *Memory) nextModTime(id ID) time.Time {
	t := m.now()

	if d, ok := m.docs[id]; ok && !t.After(d.meta.ModTime) {
		t = d.meta.ModTime.Add(time.Nanosecond)
	}

	return t
}

var _ Storage = (*Memory)(nil)
