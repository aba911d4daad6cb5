package daemon

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/happy-coder/happy/internal/crypto"
)

func TestUnlockOrInitWithMasterSecretHex(t *testing.T) {
	ks := crypto.NewKeyStore(filepath.Join(t.TempDir(), "credentials"))
	secretHex := hex.EncodeToString([]byte("01234567890123456789012345678901"))

	accountID, mk1, err := UnlockOrInit(ks, secretHex, "acct-1")
	if err != nil {
		t.Fatalf("UnlockOrInit: %v", err)
	}
	if accountID != "acct-1" {
		t.Fatalf("accountID = %q, want acct-1", accountID)
	}

	_, mk2, err := UnlockOrInit(ks, secretHex, "acct-1")
	if err != nil {
		t.Fatalf("UnlockOrInit (second call): %v", err)
	}
	if mk1 != mk2 {
		t.Fatal("deriving from the same secret+accountID twice should produce the same master key")
	}

	// The credentials file itself should never be touched on this path —
	// HAPPY_MASTER_SECRET bypasses it entirely.
	if ks.IsInitialized() {
		t.Fatal("the HAPPY_MASTER_SECRET path should not initialize the credentials file")
	}
}

func TestUnlockOrInitRejectsBadHex(t *testing.T) {
	ks := crypto.NewKeyStore(filepath.Join(t.TempDir(), "credentials"))
	if _, _, err := UnlockOrInit(ks, "not-hex", "acct-1"); err == nil {
		t.Fatal("expected an error for a non-hex HAPPY_MASTER_SECRET")
	}
}
