//go:build linux || darwin

package daemon

import "testing"

func TestAcquireLockExclusive(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer first.Release()

	if _, err := AcquireLock(dir); err == nil {
		t.Fatal("expected a second AcquireLock against the same dir to fail")
	}
}

func TestAcquireLockReleaseThenReacquire(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	first.Release()

	second, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock after release: %v", err)
	}
	second.Release()
}
