package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/happy-coder/happy/internal/logger"
	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
	"github.com/happy-coder/happy/internal/relayauth"
	"github.com/happy-coder/happy/internal/store"
)

const (
	heartbeatInterval = 30 * time.Second
	authTimeout       = 10 * time.Second
	readLimitBytes    = 1 << 20
)

// Server is the Relay Core's HTTP+WebSocket frontend.
type Server struct {
	Store     *store.Store
	JWTSecret []byte
	Conns     *ConnTable

	pendingCalls *pendingCallTable
	mux          *http.ServeMux
}

func NewServer(s *store.Store, jwtSecret []byte) *Server {
	srv := &Server{
		Store:        s,
		JWTSecret:    jwtSecret,
		Conns:        NewConnTable(),
		pendingCalls: newPendingCallTable(),
		mux:          http.NewServeMux(),
	}
	relayauth.NewHandlers(s).Register(srv.mux)
	srv.mux.HandleFunc("GET /health", srv.handleHealth)
	srv.mux.HandleFunc("GET /ws", srv.handleWS)
	srv.mux.HandleFunc("POST /machine/identity", srv.handleMachineIdentity)
	srv.mux.HandleFunc("POST /machine/heartbeat", srv.handleMachineHeartbeat)
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(readLimitBytes)
	defer conn.CloseNow()

	ctx := r.Context()
	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	c, err := s.authenticate(authCtx, conn)
	cancel()
	if err != nil {
		logger.Warn("ws auth failed", "err", err)
		return
	}
	s.Conns.Add(c)
	defer s.Conns.Remove(c)

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go s.heartbeatLoop(hbCtx, c)
	go s.writeLoop(ctx, c)

	s.readLoop(ctx, c)
}

// authenticate blocks on the connection's first frame, which must be an
// Auth envelope carrying a bearer token issued by internal/relayauth. On
// success it resolves the connection's scope set per its declared kind
// (spec.md §4.1) and auto-subscribes accordingly.
func (s *Server) authenticate(ctx context.Context, conn *websocket.Conn) (*Connection, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read auth frame: %w", err)
	}
	var auth protocol.Auth
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("decode auth frame: %w", err)
	}
	if auth.Type != protocol.TypeAuth {
		return nil, fmt.Errorf("first frame was %q, not auth", auth.Type)
	}

	accountID, machineID, err := s.Store.ValidateToken(strings.TrimPrefix(auth.Token, "Bearer "))
	if err != nil {
		return nil, fmt.Errorf("validate token: %w", err)
	}

	connID := uuid.NewString()
	c := newConnection(connID, auth.ConnectionKind, accountID, conn)
	c.MachineID = machineID

	switch auth.ConnectionKind {
	case protocol.ConnUserScoped:
		c.addScope(model.Scope{Kind: model.KindAccount, ID: accountID}, 0)
	case protocol.ConnMachineScoped:
		c.addScope(model.Scope{Kind: model.KindMachine, ID: machineID}, 0)
	case protocol.ConnSessionScoped:
		if auth.ScopeRef == nil {
			return nil, fmt.Errorf("session-scoped auth missing scopeRef")
		}
		c.addScope(model.Scope{Kind: model.Kind(auth.ScopeRef.Kind), ID: auth.ScopeRef.ID}, 0)
	default:
		return nil, fmt.Errorf("unknown connectionKind %q", auth.ConnectionKind)
	}
	for _, sc := range c.Scopes() {
		s.Conns.Subscribe(c, sc)
	}

	c.enqueueJSON(protocol.AuthOK{
		Type:         protocol.TypeAuthOK,
		ConnectionID: connID,
		AccountID:    accountID,
		ServerTime:   time.Now().UnixMilli(),
	})
	return c, nil
}

func (s *Server) writeLoop(ctx context.Context, c *Connection) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.sendCh:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) heartbeatLoop(ctx context.Context, c *Connection) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.enqueueJSON(protocol.Heartbeat{Type: protocol.TypeHeartbeat, TS: time.Now().UnixMilli()})
		}
	}
}

func (s *Server) readLoop(ctx context.Context, c *Connection) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypeSubscribe:
			s.handleSubscribe(c, data)
		case protocol.TypeUpdate:
			s.handlePublishUpdate(c, data)
		case protocol.TypeMessageAppend:
			s.handleMessageAppend(c, data)
		case protocol.TypeEphemeral:
			s.handleEphemeral(c, data)
		case protocol.TypeRPCRegister:
			s.handleRPCRegister(c, data)
		case protocol.TypeRPCCall:
			s.handleRPCCall(c, data)
		case protocol.TypeRPCResponse:
			s.handleRPCResponse(c, data)
		case protocol.TypeHeartbeat:
			// liveness only, no response required
		default:
			logger.Debug("unhandled relay frame", "type", env.Type)
		}
	}
}
