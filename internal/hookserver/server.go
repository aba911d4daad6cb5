// Package hookserver is the local HTTP endpoint the assistant child posts
// its own lifecycle hooks to — session-id rotation, pre-tool-use permission
// checks, PTY exit signals. Grounded on the teacher's internal/egg/server.go
// bookkeeping (a per-session listener handing events to a registered
// callback table) but re-expressed over loopback HTTP instead of the
// teacher's Unix-socket gRPC service, since this hook surface talks to an
// assistant CLI's own hook mechanism rather than to a wingthing client.
package hookserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// SessionIDRotated fires when the assistant's flavor-native session id
// changes mid-conversation (e.g. Claude Code issuing a new resume id).
type SessionIDRotated struct {
	NewSessionID string    `json:"sessionId"`
	At           time.Time `json:"at"`
}

// LifecycleEvent is a generic hook payload (tool-pre/post, turn boundaries)
// the assistant's own hook config is told to POST.
type LifecycleEvent struct {
	EventType string          `json:"eventType"`
	ToolName  string          `json:"toolName,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Handlers is implemented by the session runtime; hookserver only adapts
// HTTP framing and dispatches into it.
type Handlers interface {
	OnSessionIDRotated(ctx context.Context, ev SessionIDRotated)
	OnLifecycleEvent(ctx context.Context, ev LifecycleEvent)
	// OnPreToolUse returns true to allow the tool call to proceed. It may
	// block for as long as the session's permission-request timeout.
	OnPreToolUse(ctx context.Context, req PermissionRequest) (allow bool, err error)
}

type Server struct {
	Handlers Handlers
	Logger   *slog.Logger

	listener net.Listener
	http     *http.Server
}

func New(h Handlers, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Handlers: h, Logger: logger}
}

func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/hooks/session-id", s.handleSessionID)
	mux.HandleFunc("/hooks/pre-tool-use", s.handlePreToolUse)
	mux.HandleFunc("/hooks/lifecycle", s.handleLifecycle)
	s.http = &http.Server{Handler: mux}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.Logger.Error("hookserver serve failed", "error", err)
		}
	}()

	return fmt.Sprintf("http://%s", ln.Addr().String()), nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleSessionID(w http.ResponseWriter, r *http.Request) {
	var ev SessionIDRotated
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	s.Handlers.OnSessionIDRotated(r.Context(), ev)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	var ev LifecycleEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	s.Handlers.OnLifecycleEvent(r.Context(), ev)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreToolUse(w http.ResponseWriter, r *http.Request) {
	var req PermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	allow, err := s.Handlers.OnPreToolUse(r.Context(), req)
	if err != nil {
		s.Logger.Error("pre-tool-use hook failed", "tool", req.ToolName, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Allow bool `json:"allow"`
	}{Allow: allow})
}
