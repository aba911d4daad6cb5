package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
)

// Server is the local MCP-style HTTP endpoint an assistant child's tool
// calls land on. It binds to loopback on an OS-assigned port so each
// session gets an isolated instance.
type Server struct {
	Runner *MultiRunner
	Logger *slog.Logger

	listener net.Listener
	http     *http.Server
}

func New(runner *MultiRunner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Runner: runner, Logger: logger}
}

// Start binds a loopback listener and begins serving; the returned URL is
// what the assistant child's environment points at (spec.md's
// "spawn with environment variables pointing at the tool/hook servers").
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/tools/invoke", s.handleInvoke)
	mux.HandleFunc("/tools/list", s.handleList)
	s.http = &http.Server{Handler: mux}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.Logger.Error("toolserver serve failed", "error", err)
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

type invokeRequest struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.Runner.Run(r.Context(), req.Tool, req.Params)
	if err != nil {
		s.Logger.Error("tool invocation failed", "tool", req.Tool, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Runner.SupportedTools())
}
