package fs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
)

// ErrAtomicWriteDirSync indicates the parent directory could not be synced
// after rename. The new file is in place but durability is not guaranteed.
var ErrAtomicWriteDirSync = errors.New("dir sync")

// AtomicWriter replaces files via a synced temp file and rename, so readers
// observe either the old or the new content and never a partial write.
type AtomicWriter struct {
	fs FS
}

// NewAtomicWriter creates an AtomicWriter on fs. Panics if fs is nil.
func NewAtomicWriter(fs FS) *AtomicWriter {
	if fs == nil {
		panic("fs is nil")
	}

	return &AtomicWriter{fs: fs}
}

// AtomicWriteOptions configures [AtomicWriter.Write].
type AtomicWriteOptions struct {
	// SyncDir syncs the parent directory after rename.
	SyncDir bool

	// Perm is applied to the new file regardless of umask. Must be non-zero.
	Perm os.FileMode
}

// DefaultOptions returns SyncDir=true, Perm=0o644.
func (*AtomicWriter) DefaultOptions() AtomicWriteOptions {
	return AtomicWriteOptions{SyncDir: true, Perm: 0o644}
}

// WriteBytes writes data to path with [AtomicWriter.DefaultOptions].
func (w *AtomicWriter) WriteBytes(path string, data []byte) error {
	return w.Write(path, bytes.NewReader(data), w.DefaultOptions())
}

// Write copies r into a temp file next to path, syncs it, renames it over
// path and optionally syncs the parent directory. A failed directory sync
// satisfies errors.Is(err, ErrAtomicWriteDirSync).
func (w *AtomicWriter) Write(path string, r io.Reader, opts AtomicWriteOptions) error {
	if r == nil {
		panic("reader is nil")
	}

	if opts.Perm == 0 {
		return errors.New("opts.Perm must be non-zero")
	}

	dir, base := filepath.Split(path)
	if base == "" || base == "." {
		return fmt.Errorf("invalid path %q", path)
	}

	if dir == "" {
		dir = "."
	}

	dir = filepath.Clean(dir)

	tmp, tmpPath, err := createTemp(w.fs, dir, base, opts.Perm)
	if err != nil {
		return err
	}

	discard := func() error {
		var closeErr, removeErr error

		if err := tmp.Close(); err != nil {
			closeErr = fmt.Errorf("close temp file %q: %w", tmpPath, err)
		}

		if err := w.fs.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			removeErr = fmt.Errorf("remove temp file %q: %w", tmpPath, err)
		}

		return errors.Join(closeErr, removeErr)
	}

	if err := tmp.Chmod(opts.Perm); err != nil {
		return errors.Join(fmt.Errorf("chmod temp file %q: %w", tmpPath, err), discard())
	}

	if _, err := io.Copy(tmp, r); err != nil {
		return errors.Join(fmt.Errorf("write temp file %q: %w", tmpPath, err), discard())
	}

	if err := tmp.Sync(); err != nil {
		return errors.Join(fmt.Errorf("sync temp file %q: %w", tmpPath, err), discard())
	}

	if err := w.fs.Rename(tmpPath, path); err != nil {
		return errors.Join(fmt.Errorf("rename: %w", err), discard())
	}

	// The temp path is gone after rename; only the close matters now.
	_ = discard()

	if opts.SyncDir {
		return syncDir(w.fs, dir)
	}

	return nil
}

const maxTempAttempts = 10000

var tempCounter atomic.Uint64

func createTemp(fs FS, dir, base string, perm os.FileMode) (File, string, error) {
	for range maxTempAttempts {
		path := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d", base, tempCounter.Add(1)))

		f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return f, path, nil
		}

		if errors.Is(err, os.ErrExist) {
			continue
		}

		return nil, "", fmt.Errorf("create temp file: %w", err)
	}

	return nil, "", fmt.Errorf("exhausted temp file attempts in %q", dir)
}

func syncDir(fs FS, dir string) error {
	d, err := fs.Open(dir)
	if err != nil {
		return errors.Join(ErrAtomicWriteDirSync, fmt.Errorf("open dir %q: %w", dir, err))
	}

	syncErr := d.Sync()
	closeErr := d.Close()

	if syncErr != nil {
		return errors.Join(ErrAtomicWriteDirSync, fmt.Errorf("%q: %w", dir, syncErr), closeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close dir %q: %w", dir, closeErr)
	}

	return nil
}
