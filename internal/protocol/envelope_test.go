package protocol

import (
	"bytes"
	"testing"
)

func TestJoinSplitEnvelopeRoundTrip(t *testing.T) {
	nonce := []byte("123456789012")
	ciphertext := []byte("sealed-bytes-go-here")

	body := JoinEnvelope(SchemeAESGCM, nonce, ciphertext)

	scheme, gotNonce, gotCiphertext, err := SplitEnvelope(body, len(nonce))
	if err != nil {
		t.Fatalf("SplitEnvelope: %v", err)
	}
	if scheme != SchemeAESGCM {
		t.Fatalf("scheme = %d, want %d", scheme, SchemeAESGCM)
	}
	if !bytes.Equal(gotNonce, nonce) {
		t.Fatalf("nonce = %x, want %x", gotNonce, nonce)
	}
	if !bytes.Equal(gotCiphertext, ciphertext) {
		t.Fatalf("ciphertext = %x, want %x", gotCiphertext, ciphertext)
	}
}

func TestSplitEnvelopeTooShort(t *testing.T) {
	if _, _, _, err := SplitEnvelope([]byte{1, 2, 3}, 12); err == nil {
		t.Fatal("expected an error for a body shorter than version+nonce")
	}
}

func TestSplitEnvelopeEmptyCiphertext(t *testing.T) {
	nonce := make([]byte, 12)
	body := JoinEnvelope(SchemeAESGCM, nonce, nil)
	scheme, gotNonce, ciphertext, err := SplitEnvelope(body, len(nonce))
	if err != nil {
		t.Fatalf("SplitEnvelope: %v", err)
	}
	if scheme != SchemeAESGCM || !bytes.Equal(gotNonce, nonce) || len(ciphertext) != 0 {
		t.Fatalf("SplitEnvelope = (%d, %x, %x)", scheme, gotNonce, ciphertext)
	}
}
