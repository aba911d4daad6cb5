package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/happy-coder/happy/internal/model"
)

// IdentifyMachine resolves (or creates) this host's Machine row over the
// relay's cleartext control-plane HTTP surface — Machine presence is
// relay-authoritative, so it rides a plain bearer-authenticated POST
// rather than the encrypted Update envelope the rest of the Sync Client
// speaks (see DESIGN.md's machine.go entry).
func IdentifyMachine(ctx context.Context, serverURL, token, hostname, homeDir, os string) (*model.Machine, error) {
	body, err := json.Marshal(struct {
		Hostname string `json:"hostname"`
		HomeDir  string `json:"homeDir"`
		OS       string `json:"os"`
	}{Hostname: hostname, HomeDir: homeDir, OS: os})
	if err != nil {
		return nil, fmt.Errorf("encode identity request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, httpURL(serverURL, "/machine/identity"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity request: status %d", resp.StatusCode)
	}

	var m model.Machine
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode identity response: %w", err)
	}
	return &m, nil
}

// Heartbeat reports this machine's currently active session ids to the
// relay so a dropped daemon's sessions age out via the offline sweep
// (spec.md §8 invariant 5) instead of lingering online forever.
func Heartbeat(ctx context.Context, serverURL, token string, activeSessions []string) error {
	body, err := json.Marshal(struct {
		ActiveSessions []string `json:"activeSessions"`
	}{ActiveSessions: activeSessions})
	if err != nil {
		return fmt.Errorf("encode heartbeat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, httpURL(serverURL, "/machine/heartbeat"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build heartbeat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("heartbeat request: status %d", resp.StatusCode)
	}
	return nil
}

// httpURL rewrites a ws(s):// relay URL into the equivalent http(s) base
// for the control-plane endpoints that sit alongside the /ws upgrade.
func httpURL(serverURL, path string) string {
	base := strings.Replace(serverURL, "wss://", "https://", 1)
	base = strings.Replace(base, "ws://", "http://", 1)
	base = strings.TrimSuffix(base, "/ws")
	return strings.TrimRight(base, "/") + path
}
