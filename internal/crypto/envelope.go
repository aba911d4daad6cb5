// Package crypto implements the blind-relay encryption envelope from
// spec.md §6 (AES-256-GCM, per-account master-derived key) and the local
// credentials-file wrapping that protects the master secret at rest,
// grounded on the teacher's internal/auth/crypto.go (ECDH+HKDF→AES-GCM
// pattern, here fed a pre-shared master key instead of a per-session ECDH
// shared secret) and internal/sync/keystore.go (argon2-wrapped symmetric
// key on disk).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/happy-coder/happy/internal/protocol"
)

// MasterKey is the account-wide symmetric secret every envelope is sealed
// under. It never leaves the CLI/app; the relay never sees it.
type MasterKey [32]byte

// DeriveMasterKey turns raw secret material (from the wrapped credentials
// file, or HAPPY_MASTER_SECRET in test environments per spec.md §6) into a
// MasterKey via HKDF-SHA256, so callers never seal directly with
// externally-supplied bytes of the wrong length or provenance.
func DeriveMasterKey(secret []byte, accountID string) (MasterKey, error) {
	var mk MasterKey
	kdf := hkdf.New(sha256.New, secret, []byte(accountID), []byte("happy-envelope-v1"))
	if _, err := io.ReadFull(kdf, mk[:]); err != nil {
		return mk, fmt.Errorf("derive master key: %w", err)
	}
	return mk, nil
}

func (mk MasterKey) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(mk[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext into the wire envelope format:
// version-byte || nonce || ciphertext, using AES-256-GCM with a 96-bit
// nonce (spec.md §6, the one MUST-implement scheme).
func (mk MasterKey) Seal(plaintext []byte) ([]byte, error) {
	gcm, err := mk.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return protocol.JoinEnvelope(protocol.SchemeAESGCM, nonce, ciphertext), nil
}

// Open decrypts a wire envelope produced by Seal. The relay never calls
// this — it only ever handles the envelope as opaque bytes.
func (mk MasterKey) Open(envelope []byte) ([]byte, error) {
	gcm, err := mk.aead()
	if err != nil {
		return nil, err
	}
	scheme, nonce, ciphertext, err := protocol.SplitEnvelope(envelope, gcm.NonceSize())
	if err != nil {
		return nil, err
	}
	if scheme != protocol.SchemeAESGCM {
		return nil, fmt.Errorf("unsupported envelope scheme %d", scheme)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open envelope: %w", err)
	}
	return plaintext, nil
}
