//go:build !linux && !darwin

package daemon

import "fmt"

// Lock is a no-op placeholder on platforms without flock semantics.
type Lock struct{}

func AcquireLock(dir string) (*Lock, error) {
	return nil, fmt.Errorf("single-instance locking unsupported on this platform")
}

func (l *Lock) Release() {}
