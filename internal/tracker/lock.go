package tracker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path/filepath"
	"sync"

	"github.com/calvinalkan/habits/internal/storage"
	"github.com/calvinalkan/habits/pkg/fs"
)

// Locker serializes writers of one document across processes.
type Locker interface {
	Lock(ctx context.Context, id storage.ID) (io.Closer, error)
}

// FileLocker takes an flock on "<dir>/<hash of id>.lock" per document. Lock
// files live outside the vault so renames and deletes of documents never
// replace them.
type FileLocker struct {
	locker *fs.Locker
	dir    string
}

// NewFileLocker returns a FileLocker keeping lock files in dir.
func NewFileLocker(fsys fs.FS, dir string) *FileLocker {
	return &FileLocker{locker: fs.NewLocker(fsys), dir: dir}
}

// Path returns the lock file used for id.
func (l *FileLocker) Path(id storage.ID) string {
	sum := sha256.Sum256([]byte(id))

	return filepath.Join(l.dir, hex.EncodeToString(sum[:16])+".lock")
}

func (l *FileLocker) Lock(ctx context.Context, id storage.ID) (io.Closer, error) {
	return l.locker.Lock(ctx, l.Path(id))
}

// keyedMutex is an in-process lock per document. Entries are dropped once no
// goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[storage.ID]*refLock
}

type refLock struct {
	ch   chan struct{}
	refs int
}

func (k *keyedMutex) lock(ctx context.Context, id storage.ID) (func(), error) {
	k.mu.Lock()

	if k.locks == nil {
		k.locks = make(map[storage.ID]*refLock)
	}

	l, ok := k.locks[id]
	if !ok {
		l = &refLock{ch: make(chan struct{}, 1)}
		k.locks[id] = l
	}

	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			k.release(id, l)
		}, nil
	case <-ctx.Done():
		k.release(id, l)

		return nil, ctx.Err()
	}
}

func (k *keyedMutex) release(id storage.ID, l *refLock) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(k.locks, id)
	}
}
