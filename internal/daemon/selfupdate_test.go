package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReadVersionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "VERSION")
	if err := os.WriteFile(path, []byte("1.2.3\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	v, err := readVersionFile(path)
	if err != nil {
		t.Fatalf("readVersionFile: %v", err)
	}
	if v != "1.2.3" {
		t.Fatalf("readVersionFile = %q, want 1.2.3", v)
	}
}

func TestWatchSelfUpdateDetectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "VERSION")
	if err := os.WriteFile(path, []byte("1.0.0"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notified := make(chan string, 1)
	go watchSelfUpdate(ctx, path, "1.0.0", func(v string) { notified <- v })

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("1.1.0"), 0o644); err != nil {
		t.Fatalf("WriteFile (update): %v", err)
	}

	select {
	case v := <-notified:
		if v != "1.1.0" {
			t.Fatalf("onNewer called with %q, want 1.1.0", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onNewer was not called within 2s of the version file changing")
	}
}
