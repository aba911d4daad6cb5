package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"gopkg.in/yaml.v3"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	saltLen      = 16
)

// KeyFile is the on-disk format of the wrapped master secret, mode 0600
// per spec.md §6 ("Encrypted credentials file: mode 0600, account
// identifier + wrapped master key").
type KeyFile struct {
	AccountID    string `yaml:"account_id"`
	Salt         []byte `yaml:"salt"`
	EncryptedKey []byte `yaml:"encrypted_key"`
	KeyHash      string `yaml:"key_hash"`
	CreatedAt    int64  `yaml:"created_at"`
}

// KeyStore wraps and unwraps the account master secret at rest, using a
// passphrase-derived (argon2id) key to seal it with XChaCha20-Poly1305.
type KeyStore struct {
	Path string // e.g. ~/.happy/credentials
}

func NewKeyStore(path string) *KeyStore { return &KeyStore{Path: path} }

// Init generates a fresh 32-byte master secret, wraps it under passphrase,
// and writes the credentials file atomically.
func (ks *KeyStore) Init(accountID, passphrase string) (MasterKey, error) {
	var mk MasterKey
	if _, err := rand.Read(mk[:]); err != nil {
		return mk, fmt.Errorf("generate master secret: %w", err)
	}
	if err := ks.save(accountID, passphrase, mk); err != nil {
		return mk, err
	}
	return mk, nil
}

func (ks *KeyStore) save(accountID, passphrase string, mk MasterKey) error {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	wrapKey := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)

	aead, err := chacha20poly1305.NewX(wrapKey)
	if err != nil {
		return fmt.Errorf("wrap cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate wrap nonce: %w", err)
	}
	encrypted := aead.Seal(nonce, nonce, mk[:], nil)

	hash := sha256.Sum256(mk[:])
	kf := KeyFile{
		AccountID:    accountID,
		Salt:         salt,
		EncryptedKey: encrypted,
		KeyHash:      hex.EncodeToString(hash[:]),
		CreatedAt:    time.Now().UTC().Unix(),
	}
	data, err := yaml.Marshal(kf)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(ks.Path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp := ks.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return os.Rename(tmp, ks.Path)
}

// Unlock reads the credentials file and unwraps the master secret with the
// given passphrase.
func (ks *KeyStore) Unlock(passphrase string) (accountID string, mk MasterKey, err error) {
	data, err := os.ReadFile(ks.Path)
	if err != nil {
		return "", mk, fmt.Errorf("read credentials: %w", err)
	}
	var kf KeyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return "", mk, fmt.Errorf("parse credentials: %w", err)
	}

	wrapKey := argon2.IDKey([]byte(passphrase), kf.Salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(wrapKey)
	if err != nil {
		return "", mk, fmt.Errorf("wrap cipher: %w", err)
	}
	nonceSize := aead.NonceSize()
	if len(kf.EncryptedKey) < nonceSize {
		return "", mk, fmt.Errorf("corrupt credentials file")
	}
	nonce, ciphertext := kf.EncryptedKey[:nonceSize], kf.EncryptedKey[nonceSize:]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", mk, fmt.Errorf("unlock credentials (wrong passphrase?): %w", err)
	}
	if len(plain) != len(mk) {
		return "", mk, fmt.Errorf("unexpected master secret length %d", len(plain))
	}
	copy(mk[:], plain)

	hash := sha256.Sum256(mk[:])
	if hex.EncodeToString(hash[:]) != kf.KeyHash {
		return "", mk, fmt.Errorf("master secret hash mismatch")
	}
	return kf.AccountID, mk, nil
}

// IsInitialized reports whether a credentials file already exists.
func (ks *KeyStore) IsInitialized() bool {
	_, err := os.Stat(ks.Path)
	return err == nil
}
