package fs

import (
	"errors"
	"io/fs"
	"os"
	"time"
)

// Real implements [FS] on the host filesystem. Every method except
// [Real.Exists] and [Real.Birth] is a passthrough to the [os] package.
type Real struct{}

// NewReal returns a new [Real] filesystem.
func NewReal() *Real {
	return &Real{}
}

func (*Real) Open(path string) (File, error) {
	return os.Open(path)
}

func (*Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

func (*Real) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (*Real) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

func (*Real) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (*Real) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// Birth reports the file creation time where the kernel exposes one (statx
// STATX_BTIME on Linux). Elsewhere it returns ok=false.
func (*Real) Birth(path string) (time.Time, bool, error) {
	return birthTime(path)
}

func (*Real) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, err
}

func (*Real) Remove(path string) error {
	return os.Remove(path)
}

func (*Real) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

var _ FS = (*Real)(nil)
