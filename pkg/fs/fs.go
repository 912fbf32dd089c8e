// Package fs is the filesystem seam used by the vault storage and the lock
// files guarding document writes.
//
// The main types are:
//   - [FS]: interface for the filesystem operations the tracker needs
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using the [os] package
//   - [AtomicWriter]: temp-file + rename writes with directory fsync
//   - [Locker]: advisory flock(2) locks on dedicated lock files
package fs

import (
	"io"
	"os"
	"time"
)

// File is an OS-backed open file.
//
// Implementations must behave like [os.File]; in particular [File.Fd] must
// return a descriptor usable with flock(2) until the file is closed.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the file descriptor. See [os.File.Fd].
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error

	// Chmod changes the mode of the file. See [os.File.Chmod].
	Chmod(mode os.FileMode) error
}

// FS defines the filesystem operations used by this module. Paths use OS
// semantics (like path/filepath), not the slash-separated paths of io/fs.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// OpenFile opens a file with specified flags and permissions. See [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// ReadDir reads a directory and returns its entries sorted by name.
	// See [os.ReadDir].
	ReadDir(path string) ([]os.DirEntry, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Birth returns the creation time of path. ok is false when the platform
	// or filesystem does not record one.
	Birth(path string) (t time.Time, ok bool, err error)

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error

	// Rename moves a file or directory. See [os.Rename].
	Rename(oldpath, newpath string) error
}

var _ File = (*os.File)(nil)
