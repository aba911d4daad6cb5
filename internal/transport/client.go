package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to a running daemon's control port — what a short-lived
// `happy` invocation uses, after reading addr+token out of the daemon
// state file, to attach to an already-running session instead of
// spawning its own daemon.
type Client struct {
	addr  string
	token string
	http  *http.Client
}

func NewClient(addr, token string) *Client {
	return &Client{addr: addr, token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) SpawnSession(ctx context.Context, req SpawnRequest) (SpawnResponse, error) {
	var resp SpawnResponse
	body, err := json.Marshal(req)
	if err != nil {
		return resp, err
	}
	r, err := c.post(ctx, "/sessions", body)
	if err != nil {
		return resp, err
	}
	defer r.Body.Close()
	if err := checkStatus(r, http.StatusCreated); err != nil {
		return resp, err
	}
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		return resp, fmt.Errorf("decode spawnSession response: %w", err)
	}
	return resp, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	r, err := c.get(ctx, "/sessions")
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()
	if err := checkStatus(r, http.StatusOK); err != nil {
		return nil, err
	}
	var sessions []SessionSummary
	if err := json.NewDecoder(r.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("decode listSessions response: %w", err)
	}
	return sessions, nil
}

func (c *Client) StopSession(ctx context.Context, sessionID string) error {
	r, err := c.post(ctx, "/sessions/"+sessionID+"/stop", nil)
	if err != nil {
		return err
	}
	defer r.Body.Close()
	return checkStatus(r, http.StatusOK)
}

func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var status StatusResponse
	r, err := c.get(ctx, "/status")
	if err != nil {
		return status, err
	}
	defer r.Body.Close()
	if err := checkStatus(r, http.StatusOK); err != nil {
		return status, err
	}
	if err := json.NewDecoder(r.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("decode daemonStatus response: %w", err)
	}
	return status, nil
}

func (c *Client) Shutdown(ctx context.Context) error {
	r, err := c.post(ctx, "/shutdown", nil)
	if err != nil {
		return err
	}
	defer r.Body.Close()
	return checkStatus(r, http.StatusOK)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+c.addr+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.http.Do(req)
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+c.addr+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.http.Do(req)
}

func checkStatus(resp *http.Response, expected int) error {
	if resp.StatusCode == expected {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
}

// Ping checks whether a daemon is reachable and its token still valid —
// used by `happy-daemon status` and by `happy`'s auto-start logic to
// decide whether a fresh daemon needs spawning.
func Ping(ctx context.Context, addr, token string) bool {
	c := NewClient(addr, token)
	_, err := c.Status(ctx)
	return err == nil
}
