//go:build !windows

// Package singleinstance provides single instance control for the admin bot.
// A second admin process would fight the first one over the child pool and
// the shared webhook, so only one may run per lock file.
package singleinstance

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// AcquireLock takes an exclusive flock on path, creating the file if needed.
//
// Returns:
//   - release: function to call when shutting down (use with defer)
//   - ok: true if the lock was acquired, false if another instance holds it
//   - err: error if something went wrong
func AcquireLock(path string) (release func(), ok bool, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, false, fmt.Errorf("opening lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("locking %s: %w", path, err)
	}

	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, true, nil
}
