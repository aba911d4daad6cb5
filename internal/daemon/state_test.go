package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteReadRemoveState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.json")

	want := State{
		PID:       4242,
		Addr:      "127.0.0.1:9999",
		Token:     "abc123",
		Version:   "1.2.3",
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := WriteState(path, want); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	got, err := ReadState(path)
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if got.PID != want.PID || got.Addr != want.Addr || got.Token != want.Token || got.Version != want.Version {
		t.Fatalf("ReadState = %+v, want %+v", got, want)
	}
	if !got.StartedAt.Equal(want.StartedAt) {
		t.Fatalf("StartedAt = %v, want %v", got.StartedAt, want.StartedAt)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file should not survive a successful write: err=%v", err)
	}

	RemoveState(path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("state file should be gone after RemoveState, stat err=%v", err)
	}
}

func TestReadStateMissingFile(t *testing.T) {
	if _, err := ReadState(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error reading a nonexistent state file")
	}
}
