package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RelayToken is the daemon's persisted bearer credential for the relay's
// WebSocket/control-plane surface — distinct from the local control
// socket's token (see State) and from the encrypted master-key
// credentials file (see crypto.KeyStore): this one just authenticates
// the connection, it never gates access to user content.
type RelayToken struct {
	Token     string `yaml:"token"`
	AccountID string `yaml:"account_id"`
}

// TokenStore persists the relay bearer token under the state directory.
// Grounded on the teacher's internal/auth/store.go.
type TokenStore struct {
	dir string
}

func NewTokenStore(dir string) *TokenStore { return &TokenStore{dir: dir} }

func (s *TokenStore) path() string { return filepath.Join(s.dir, "relay-token.yaml") }

func (s *TokenStore) Save(t RelayToken) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal relay token: %w", err)
	}
	return os.WriteFile(s.path(), data, 0o600)
}

// Load returns a zero RelayToken (ok=false) if none has been saved yet —
// the caller runs the pairing flow in that case.
func (s *TokenStore) Load() (t RelayToken, ok bool, err error) {
	data, readErr := os.ReadFile(s.path())
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return t, false, nil
		}
		return t, false, fmt.Errorf("read relay token: %w", readErr)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, false, fmt.Errorf("parse relay token: %w", err)
	}
	return t, t.Token != "", nil
}
