//go:build unix

package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is returned by [Locker.TryLock] when another process holds
	// the lock.
	ErrWouldBlock = errors.New("lock would block")

	// errReplaced means the lock file at path was swapped between open and
	// flock. The caller retries.
	errReplaced = errors.New("lock file replaced")
)

// Locker takes advisory flock(2) locks on dedicated lock files.
//
// flock applies to an inode, not a pathname. After locking, Locker checks
// that the descriptor still refers to the file at path and retries if the
// file was replaced in between. Lock files must not be unlinked or replaced
// while locks may be held.
//
// Unix only.
type Locker struct {
	fs    FS
	flock func(fd int, how int) error
}

// NewLocker creates a Locker that opens lock files through fs.
func NewLocker(fs FS) *Locker {
	return &Locker{fs: fs, flock: unix.Flock}
}

// Lock is a held file lock. Release it with [Lock.Close].
type Lock struct {
	mu    sync.Mutex
	file  File
	flock func(fd int, how int) error
}

// Close unlocks and closes the lock file. It is idempotent.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	unlockErr := flockNoEINTR(lk.flock, int(lk.file.Fd()), unix.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlocking lock: %w", unlockErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("closing lock fd: %w", closeErr)
	}

	return errors.Join(unlockErr, closeErr)
}

// TryLock takes an exclusive lock on path without waiting. It returns
// [ErrWouldBlock] when the lock is held elsewhere. Missing parent directories
// are created.
func (l *Locker) TryLock(path string) (*Lock, error) {
	for {
		lk, err := l.try(path)
		if errors.Is(err, errReplaced) {
			continue
		}

		return lk, err
	}
}

// Lock takes an exclusive lock on path, polling with backoff (1ms doubling to
// 25ms) until the lock is free or ctx is done. On cancellation the returned
// error wraps both [ErrWouldBlock] and ctx.Err().
func (l *Locker) Lock(ctx context.Context, path string) (*Lock, error) {
	const maxBackoff = 25 * time.Millisecond

	backoff := time.Millisecond

	for {
		lk, err := l.try(path)
		if err == nil {
			return lk, nil
		}

		if !errors.Is(err, ErrWouldBlock) && !errors.Is(err, errReplaced) {
			return nil, err
		}

		timer := time.NewTimer(backoff)

		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, fmt.Errorf("lock %q: %w: %w", path, ErrWouldBlock, ctx.Err())
		case <-timer.C:
		}

		backoff = min(backoff*2, maxBackoff)
	}
}

func (l *Locker) try(path string) (*Lock, error) {
	file, err := l.open(path)
	if err != nil {
		return nil, fmt.Errorf("opening lockfile: %w", err)
	}

	fd := int(file.Fd())

	if err := flockNoEINTR(l.flock, fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = file.Close()

		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, ErrWouldBlock
		}

		return nil, fmt.Errorf("flock: %w", err)
	}

	same, err := l.sameInode(path, file)
	if err != nil || !same {
		_ = flockNoEINTR(l.flock, fd, unix.LOCK_UN)
		_ = file.Close()

		if err == nil || errors.Is(err, os.ErrNotExist) {
			return nil, errReplaced
		}

		return nil, fmt.Errorf("verifying lock inode: %w", err)
	}

	return &Lock{file: file, flock: l.flock}, nil
}

func (l *Locker) open(path string) (File, error) {
	const (
		filePerm = 0o600
		dirPerm  = 0o755
	)

	f, err := l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, filePerm)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	if err := l.fs.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, err
	}

	return l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, filePerm)
}

// sameInode compares (dev, ino) of the open descriptor with the file
// currently at path.
func (l *Locker) sameInode(path string, f File) (bool, error) {
	var open unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &open); err != nil {
		return false, err
	}

	var cur unix.Stat_t
	if err := unix.Stat(path, &cur); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, os.ErrNotExist
		}

		return false, err
	}

	return open.Dev == cur.Dev && open.Ino == cur.Ino, nil
}

// flockNoEINTR retries flock when a signal interrupts it, capped so a signal
// storm cannot spin forever.
func flockNoEINTR(flock func(fd int, how int) error, fd int, how int) error {
	const maxRetries = 10000

	var err error
	for range maxRetries {
		err = flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
