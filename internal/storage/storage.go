// Package storage defines the document store the tracker core reads ledgers
// from and writes them back to, plus a filesystem vault and an in-memory
// implementation.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a document or folder does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidID is returned for identities that are absolute, empty or
	// escape the store root.
	ErrInvalidID = errors.New("invalid document id")
)

// ID identifies a document or folder: a slash-separated path relative to the
// store root, e.g. "habits/run.md". The root folder is "".
type ID string

// ParseID cleans s into an ID. Backslashes are treated as separators. It
// rejects absolute paths and paths escaping the root.
func ParseID(s string) (ID, error) {
	s = strings.ReplaceAll(s, `\`, "/")
	if strings.HasPrefix(s, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidID, s)
	}

	clean := path.Clean(s)
	if clean == "." {
		return "", nil
	}

	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q escapes the root", ErrInvalidID, s)
	}

	return ID(clean), nil
}

// Under reports whether id lies inside folder, at any depth. Every id is
// under the root folder "". A folder is not under itself.
func (id ID) Under(folder ID) bool {
	if folder == "" {
		return id != ""
	}

	return strings.HasPrefix(string(id), string(folder)+"/")
}

// Dir returns the parent folder of id.
func (id ID) Dir() ID {
	d := path.Dir(string(id))
	if d == "." {
		return ""
	}

	return ID(d)
}

// Base returns the last path element of id.
func (id ID) Base() string {
	return path.Base(string(id))
}

// Meta is the cheap metadata used for cache fingerprints and tracking start
// resolution.
type Meta struct {
	ModTime time.Time
	Size    int64
	Created time.Time
}

// Observer is implemented by stores that keep per-document state and need to
// hear about renames and deletes made behind their back.
type Observer interface {
	Renamed(oldID, newID ID)
	Removed(id ID)
}

// Storage is the document store consumed by the cache and the facade.
//
// Implementations must be safe for concurrent use.
type Storage interface {
	// ReadText returns the full document text.
	ReadText(ctx context.Context, id ID) ([]byte, error)

	// WriteText replaces the document text.
	WriteText(ctx context.Context, id ID, text []byte) error

	// Stat returns metadata without reading content.
	Stat(ctx context.Context, id ID) (Meta, error)

	// List returns every document under folder, recursively, sorted.
	List(ctx context.Context, folder ID) ([]ID, error)

	// Tree returns folder and its descendants.
	Tree(ctx context.Context, folder ID) (*Folder, error)
}

// Entry is a node of a folder tree: either a [*File] or a [*Folder].
type Entry interface {
	EntryID() ID
	entry()
}

// File is a document leaf.
type File struct {
	ID   ID
	Meta Meta
}

// Folder holds child entries in name order.
type Folder struct {
	ID       ID
	Children []Entry
}

func (f *File) EntryID() ID   { return f.ID }
func (f *Folder) EntryID() ID { return f.ID }
func (*File) entry()          {}
func (*Folder) entry()        {}

// Files returns every file below e in depth-first order.
func Files(e Entry) []*File {
	var out []*File

	var walk func(Entry)
	walk = func(e Entry) {
		switch n := e.(type) {
		case *File:
			out = append(out, n)
		case *Folder:
			for _, c := range n.Children {
				walk(c)
			}
		}
	}

	walk(e)

	return out
}
