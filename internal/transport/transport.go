// Package transport is the daemon's local control IPC: a loopback-TCP
// HTTP server the daemon listens on, bearer-token authenticated, and a
// matching client short-lived `happy` invocations use to attach to an
// already-running daemon. Grounded on the teacher's
// internal/transport/{server,client}.go (net.Listen wrapped in an
// http.Server, a matching http.Client issuing requests over the same
// transport), adapted from the teacher's unix socket to the
// loopback-port-plus-token scheme the daemon state file's
// pid/port/token/version/startedAt fields call for.
package transport

import (
	"context"
)

// SessionSummary is what listSessions reports per running session.
type SessionSummary struct {
	ID         string `json:"id"`
	WorkingDir string `json:"workingDir"`
	Flavor     string `json:"flavor"`
	Lifecycle  string `json:"lifecycle"`
}

// SpawnRequest is spawnSession's argument set.
type SpawnRequest struct {
	WorkingDir      string   `json:"workingDir"`
	Flavor          string   `json:"flavor"`
	Model           string   `json:"model,omitempty"`
	GeminiModel     string   `json:"geminiModel,omitempty"`
	PermissionMode  string   `json:"permissionMode,omitempty"`
	AllowedTools    []string `json:"allowedTools,omitempty"`
	DisallowedTools []string `json:"disallowedTools,omitempty"`
	SystemPrompt    string   `json:"systemPrompt,omitempty"`
	AutoApprovePlan bool     `json:"autoApprovePlan,omitempty"`
}

// SpawnResponse is what spawnSession returns to the attaching CLI.
type SpawnResponse struct {
	SessionID string `json:"sessionId"`
}

// StatusResponse backs daemonStatus.
type StatusResponse struct {
	PID            int    `json:"pid"`
	Version        string `json:"version"`
	StartedAt      string `json:"startedAt"`
	ActiveSessions int    `json:"activeSessions"`
}

// Controller is what the transport Server dispatches local control RPCs
// to — implemented by *daemon.Daemon. Keeping it as an interface here (not
// importing internal/daemon directly) avoids a daemon<->transport import
// cycle, the same separation the teacher draws between transport.Server
// and internal/store.
type Controller interface {
	SpawnSession(ctx context.Context, req SpawnRequest) (SpawnResponse, error)
	ListSessions() []SessionSummary
	StopSession(ctx context.Context, sessionID string) error
	Status() StatusResponse
	Shutdown(ctx context.Context)
}
