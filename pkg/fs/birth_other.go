//go:build !linux

package fs

import (
	"os"
	"time"
)

func birthTime(path string) (time.Time, bool, error) {
	if _, err := os.Stat(path); err != nil {
		return time.Time{}, false, err
	}

	return time.Time{}, false, nil
}
