package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/session"
	"github.com/happy-coder/happy/internal/transport"
)

// SpawnSession implements transport.Controller — it is spec.md §4.3's
// spawnSession control RPC, building a session.Runtime from the
// daemon's own credentials plus the per-session knobs a `happy`
// invocation supplies.
func (d *Daemon) SpawnSession(ctx context.Context, req transport.SpawnRequest) (transport.SpawnResponse, error) {
	d.mu.Lock()
	if d.restart {
		d.mu.Unlock()
		return transport.SpawnResponse{}, fmt.Errorf("daemon is draining for a pending self-update restart")
	}
	d.mu.Unlock()

	flavor := model.Flavor(req.Flavor)
	permMode := model.PermissionMode(req.PermissionMode)
	if permMode == "" {
		permMode = model.PermissionDefault
	}

	rt := session.NewRuntime(session.RuntimeConfig{
		ServerURL:       d.cfg.ServerURL,
		Token:           d.relayTok,
		MasterKey:       d.mk,
		WorkingDir:      req.WorkingDir,
		Flavor:          flavor,
		Model:           req.Model,
		GeminiModel:     req.GeminiModel,
		ContextWindow:   defaultContextWindow(flavor),
		PermissionMode:  permMode,
		AllowedTools:    req.AllowedTools,
		DisallowedTools: req.DisallowedTools,
		SystemPrompt:    req.SystemPrompt,
		AutoApprovePlan: req.AutoApprovePlan,
		Hostname:        d.hostname,
		HomeDir:         d.homeDir,
		OS:              d.osName,
	})

	if err := rt.Start(ctx); err != nil {
		return transport.SpawnResponse{}, fmt.Errorf("start session runtime: %w", err)
	}

	id := rt.SessionID()
	d.mu.Lock()
	d.sessions[id] = rt
	d.mu.Unlock()

	go d.watchSessionExit(id, rt)

	return transport.SpawnResponse{SessionID: id}, nil
}

// watchSessionExit drops a finished session from the daemon's live table
// and, if a self-update restart is pending and this was the last one,
// triggers the graceful shutdown spec.md §4.3 describes.
func (d *Daemon) watchSessionExit(id string, rt *session.Runtime) {
	<-rt.Done()
	d.mu.Lock()
	delete(d.sessions, id)
	empty := len(d.sessions) == 0
	restart := d.restart
	d.mu.Unlock()
	if restart && empty {
		d.cancel()
	}
}

func (d *Daemon) ListSessions() []transport.SessionSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]transport.SessionSummary, 0, len(d.sessions))
	for id, rt := range d.sessions {
		out = append(out, transport.SessionSummary{
			ID:         id,
			WorkingDir: rt.WorkingDir(),
			Flavor:     string(rt.Flavor()),
			Lifecycle:  string(rt.Lifecycle()),
		})
	}
	return out
}

func (d *Daemon) StopSession(ctx context.Context, sessionID string) error {
	d.mu.Lock()
	rt, ok := d.sessions[sessionID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	rt.Stop(ctx)
	return nil
}

func (d *Daemon) Status() transport.StatusResponse {
	d.mu.Lock()
	n := len(d.sessions)
	d.mu.Unlock()
	return transport.StatusResponse{
		PID:            processPID(),
		Version:        Version,
		StartedAt:      d.startedAt.Format(time.RFC3339),
		ActiveSessions: n,
	}
}

// Shutdown implements transport.Controller — it is the daemonShutdown
// control RPC, routed back through the same cancellation path a SIGTERM
// would take.
func (d *Daemon) Shutdown(ctx context.Context) {
	d.shutdownAllSessions()
	d.cancel()
}

func defaultContextWindow(flavor model.Flavor) int {
	switch flavor {
	case model.FlavorClaude:
		return 200000
	case model.FlavorCodex:
		return 192000
	case model.FlavorGemini:
		return 1000000
	default:
		return 128000
	}
}

func processPID() int { return os.Getpid() }
