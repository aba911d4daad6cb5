package main

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateJWTSecretGeneratesThenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.hex")

	first, err := loadOrCreateJWTSecret(path)
	if err != nil {
		t.Fatalf("loadOrCreateJWTSecret (create): %v", err)
	}
	if len(first) == 0 {
		t.Fatal("expected a non-empty generated secret")
	}

	second, err := loadOrCreateJWTSecret(path)
	if err != nil {
		t.Fatalf("loadOrCreateJWTSecret (reload): %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("reloading the secret file should return the same bytes, not regenerate")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if hex.EncodeToString(first) != string(trimNewline(data)) {
		t.Fatal("on-disk secret is not hex-encoded as expected")
	}
}
