//go:build linux || darwin

package daemon

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is a held advisory file lock preventing a second daemon from
// starting against the same state directory.
type Lock struct {
	f *os.File
}

// AcquireLock takes an exclusive, non-blocking flock on <dir>/daemon.lock.
// It fails immediately (rather than blocking) if another daemon already
// holds it, per spec.md §4.3's single-daemon-per-state-dir requirement.
func AcquireLock(dir string) (*Lock, error) {
	path := dir + "/daemon.lock"
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("daemon already running against %s", dir)
	}
	return &Lock{f: f}, nil
}

// Release drops the lock and closes the underlying file.
func (l *Lock) Release() {
	if l == nil || l.f == nil {
		return
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	l.f.Close()
}
