//go:build linux

package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

func birthTime(path string) (time.Time, bool, error) {
	var stx unix.Statx_t

	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_STATX_SYNC_AS_STAT, unix.STATX_BTIME, &stx)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return time.Time{}, false, fmt.Errorf("statx %q: %w", path, fs.ErrNotExist)
		}

		if errors.Is(err, unix.ENOSYS) {
			return time.Time{}, false, nil
		}

		return time.Time{}, false, fmt.Errorf("statx %q: %w", path, err)
	}

	if stx.Mask&unix.STATX_BTIME == 0 {
		return time.Time{}, false, nil
	}

	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec)), true, nil
}
