package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	hfs "github.com/calvinalkan/habits/pkg/fs"
)

// DocumentExt is the file extension of tracker documents.
const DocumentExt = ".md"

// Vault is a [Storage] over a directory tree. Only DocumentExt files are
// documents; entries whose name starts with "." are skipped.
type Vault struct {
	root   string
	fs     hfs.FS
	writer *hfs.AtomicWriter
	births *Births
}

// NewVault returns a vault rooted at root.
func NewVault(fsys hfs.FS, root string) *Vault {
	return &Vault{
		root:   filepath.Clean(root),
		fs:     fsys,
		writer: hfs.NewAtomicWriter(fsys),
	}
}

// WithBirths makes the vault report creation times from b, so they survive
// atomic rewrites. Without it Created is the filesystem birth time, or zero
// where the filesystem has none.
func (v *Vault) WithBirths(b *Births) *Vault {
	v.births = b

	return v
}

// Root returns the vault directory.
func (v *Vault) Root() string {
	return v.root
}

// Path returns the filesystem path of id.
func (v *Vault) Path(id ID) string {
	return filepath.Join(v.root, filepath.FromSlash(string(id)))
}

// IDOf maps a filesystem path inside the vault back to its ID.
func (v *Vault) IDOf(p string) (ID, error) {
	rel, err := filepath.Rel(v.root, p)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidID, err)
	}

	return ParseID(filepath.ToSlash(rel))
}

// IsDocument reports whether id names a visible document file.
func IsDocument(id ID) bool {
	if !strings.HasSuffix(string(id), DocumentExt) {
		return false
	}

	for _, part := range strings.Split(string(id), "/") {
		if strings.HasPrefix(part, ".") {
			return false
		}
	}

	return true
}

func (v *Vault) ReadText(ctx context.Context, id ID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := v.fs.ReadFile(v.Path(id))
	if err != nil {
		return nil, wrapNotFound(id, err)
	}

	return data, nil
}

func (v *Vault) WriteText(ctx context.Context, id ID, text []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}

	p := v.Path(id)
	opts := v.writer.DefaultOptions()

	// The rename below gives the file a new inode: keep its mode and record
	// its creation time first.
	info, err := v.fs.Stat(p)
	switch {
	case err == nil:
		if perm := info.Mode().Perm(); perm != 0 {
			opts.Perm = perm
		}

		if v.births != nil {
			v.births.Earliest(id, v.created(p, info.ModTime()))
			v.births.Sync()
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("write %s: %w", id, err)
	}

	if err := v.writer.Write(p, bytes.NewReader(text), opts); err != nil {
		return fmt.Errorf("write %s: %w", id, err)
	}

	return nil
}

// Stat reports size and modification time from stat(2). Created is the
// earliest creation time recorded in [Births] when configured, otherwise the
// filesystem birth time.
func (v *Vault) Stat(ctx context.Context, id ID) (Meta, error) {
	meta, err := v.stat(ctx, id)
	if err != nil {
		return Meta{}, err
	}

	if v.births != nil {
		v.births.Sync()
	}

	return meta, nil
}

func (v *Vault) stat(ctx context.Context, id ID) (Meta, error) {
	if err := ctx.Err(); err != nil {
		return Meta{}, err
	}

	p := v.Path(id)

	info, err := v.fs.Stat(p)
	if err != nil {
		return Meta{}, wrapNotFound(id, err)
	}

	meta := Meta{ModTime: info.ModTime(), Size: info.Size()}

	if v.births == nil {
		if birth, ok, err := v.fs.Birth(p); err == nil && ok {
			meta.Created = birth
		}

		return meta, nil
	}

	meta.Created = v.births.Earliest(id, v.created(p, info.ModTime()))

	return meta, nil
}

// created is the birth time of p. Without one, the modification time stands
// in: [Births] keeps the first value it sees, so later edits do not move it.
func (v *Vault) created(p string, modTime time.Time) time.Time {
	if birth, ok, err := v.fs.Birth(p); err == nil && ok {
		return birth
	}

	return modTime
}

// Renamed moves the recorded creation time of oldID to newID.
func (v *Vault) Renamed(oldID, newID ID) {
	if v.births != nil {
		v.births.Rename(oldID, newID)
	}
}

// Removed forgets the recorded creation time of id.
func (v *Vault) Removed(id ID) {
	if v.births != nil {
		v.births.Forget(id)
	}
}

func (v *Vault) List(ctx context.Context, folder ID) ([]ID, error) {
	tree, err := v.Tree(ctx, folder)
	if err != nil {
		return nil, err
	}

	files := Files(tree)
	ids := make([]ID, len(files))

	for i, f := range files {
		ids[i] = f.ID
	}

	return ids, nil
}

func (v *Vault) Tree(ctx context.Context, folder ID) (*Folder, error) {
	info, err := v.fs.Stat(v.Path(folder))
	if err != nil {
		return nil, wrapNotFound(folder, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", folder, ErrNotFound)
	}

	tree, err := v.walk(ctx, folder)

	if v.births != nil {
		v.births.Sync()
	}

	return tree, err
}

func (v *Vault) walk(ctx context.Context, folder ID) (*Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := v.fs.ReadDir(v.Path(folder))
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", folder, err)
	}

	node := &Folder{ID: folder}

	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		id := ID(name)
		if folder != "" {
			id = folder + "/" + ID(name)
		}

		switch {
		case e.IsDir():
			child, err := v.walk(ctx, id)
			if err != nil {
				return nil, err
			}

			node.Children = append(node.Children, child)
		case e.Type().IsRegular() && strings.HasSuffix(name, DocumentExt):
			meta, err := v.stat(ctx, id)
			if err != nil {
				// Removed between ReadDir and Stat.
				if errors.Is(err, ErrNotFound) {
					continue
				}

				return nil, err
			}

			node.Children = append(node.Children, &File{ID: id, Meta: meta})
		}
	}

	return node, nil
}

func wrapNotFound(id ID, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}

	return fmt.Errorf("%s: %w", id, err)
}

var (
	_ Storage  = (*Vault)(nil)
	_ Observer = (*Vault)(nil)
)
