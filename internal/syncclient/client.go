// Package syncclient is the embedded Sync Client: it maintains one
// multiplexed socket to the Relay Core, keeps a local entity cache
// converging with the server's, exposes mutate/publish with bounded
// rebase-and-retry, and surfaces a typed invoke/register RPC API.
// Grounded on the teacher's internal/ws/client.go (reconnect loop,
// heartbeat, single read-loop dispatch by envelope type).
package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/happy-coder/happy/internal/logger"
	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
)

const (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
	heartbeatInterval     = 30 * time.Second
	maxRebaseAttempts     = 5
)

// UpdateHandler is invoked on the applier's goroutine for every converged
// update — the caller (daemon/session layer) reacts to entity changes here.
type UpdateHandler func(ref model.EntityRef, version int64, body []byte)

// EphemeralHandler is invoked for every delivered ephemeral event.
type EphemeralHandler func(scope model.Scope, kind string, payload []byte)

// RPCHandlerFunc answers an incoming RPC call routed to this client.
type RPCHandlerFunc func(ctx context.Context, request []byte) ([]byte, error)

// Client is one daemon's or one app instance's connection to the Relay
// Core.
type Client struct {
	ServerURL string
	Token     string

	OnUpdate    UpdateHandler
	OnEphemeral EphemeralHandler
	OnMessage   MessageHandler
	OnResync    func(scope model.Scope) // caller must refetch full state for scope

	connectionKind protocol.ConnectionKind
	scopeRef       *protocol.ScopeRef

	// DirectDialer, if set, is tried whenever the relay socket can't be
	// reached — the Sync Client's reconnect loop prefers the relay but
	// falls back to a same-LAN direct transport rather than sitting idle
	// until the relay comes back.
	DirectDialer func(ctx context.Context) (DirectPeer, error)

	cache  *Cache
	outbox *Outbox
	msgSeq *messageSeqCache

	mu           sync.Mutex
	conn         wireConn
	connectionID string
	accountID    string
	connected    bool

	subsMu  sync.Mutex
	subs    map[model.Scope]bool
	msgSubs map[string]bool // sessionIDs with a message-log subscription

	rpcMu       sync.Mutex
	rpcHandlers map[string]RPCHandlerFunc
	pendingRPC  map[string]chan protocol.RPCResponse

	pubMu   sync.Mutex
	pending map[string]chan publishOutcome

	msgMu      sync.Mutex
	pendingMsg map[string]chan messageOutcome
}

// publishOutcome is what a publishUpdate call blocks on: either success
// (newVersion/seq) or a version-mismatch rejection carrying the entity's
// current state for the caller to rebase against.
type publishOutcome struct {
	ok             bool
	newVersion     int64
	seq            int64
	currentVersion int64
	currentBody    []byte
	rejected       bool
}

func New(serverURL, token string, kind protocol.ConnectionKind, scope *protocol.ScopeRef) *Client {
	return &Client{
		ServerURL:      serverURL,
		Token:          token,
		connectionKind: kind,
		scopeRef:       scope,
		cache:          newCache(),
		outbox:         newOutbox(),
		msgSeq:         newMessageSeqCache(),
		subs:           make(map[model.Scope]bool),
		msgSubs:        make(map[string]bool),
		rpcHandlers:    make(map[string]RPCHandlerFunc),
		pendingRPC:     make(map[string]chan protocol.RPCResponse),
		pending:        make(map[string]chan publishOutcome),
		pendingMsg:     make(map[string]chan messageOutcome),
	}
}

// Run connects and serves until ctx is cancelled, reconnecting with
// bounded exponential backoff on every disconnect (spec.md §4.2). It tries
// the relay first and, if that dial fails and a DirectDialer is
// configured, falls back to a same-LAN direct session for that attempt
// before backing off.
func (c *Client) Run(ctx context.Context) error {
	delay := initialReconnectDelay
	for {
		connected, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !connected && c.DirectDialer != nil {
			if dConnected, dErr := c.connectDirectAndServe(ctx); dConnected || dErr != nil {
				connected, err = dConnected, dErr
			}
		}
		if connected {
			delay = initialReconnectDelay
		}
		logger.Warn("sync client disconnected", "err", err, "retryIn", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context) (connected bool, err error) {
	wsc, _, dialErr := websocket.Dial(ctx, c.ServerURL, nil)
	if dialErr != nil {
		return false, fmt.Errorf("dial: %w", dialErr)
	}
	conn := wsConn{conn: wsc}
	defer conn.Close()

	if err := c.writeJSON(ctx, conn, protocol.Auth{
		Type:           protocol.TypeAuth,
		Token:          c.Token,
		ConnectionKind: c.connectionKind,
		ScopeRef:       c.scopeRef,
	}); err != nil {
		return false, fmt.Errorf("send auth: %w", err)
	}

	data, err := conn.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("read auth-ok: %w", err)
	}
	var authOK protocol.AuthOK
	if err := json.Unmarshal(data, &authOK); err != nil || authOK.Type != protocol.TypeAuthOK {
		return false, fmt.Errorf("relay rejected authentication")
	}

	c.mu.Lock()
	c.conn = conn
	c.connectionID = authOK.ConnectionID
	c.accountID = authOK.AccountID
	c.connected = true
	c.mu.Unlock()
	connected = true
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.conn = nil
		c.mu.Unlock()
	}()

	c.resubscribeAll(ctx)
	c.flushOutbox(ctx)

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go c.heartbeatLoop(hbCtx)

	return connected, c.serveLoop(ctx, conn)
}

// connectDirectAndServe establishes a direct peer session. There is no
// relay auth handshake here — the handoff token the peer already
// validated before accepting the offer is the authentication — so this
// goes straight to resubscribe/flush/serve using whatever accountID a
// prior relay session already populated.
func (c *Client) connectDirectAndServe(ctx context.Context) (connected bool, err error) {
	peer, dialErr := c.DirectDialer(ctx)
	if dialErr != nil {
		return false, fmt.Errorf("direct dial: %w", dialErr)
	}
	conn := newDirectConn(peer)
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	connected = true
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.conn = nil
		c.mu.Unlock()
	}()

	c.resubscribeAll(ctx)
	c.flushOutbox(ctx)

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go c.heartbeatLoop(hbCtx)

	return connected, c.serveLoop(ctx, conn)
}

func (c *Client) serveLoop(ctx context.Context, conn wireConn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.dispatch(ctx, data)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.send(ctx, protocol.Heartbeat{Type: protocol.TypeHeartbeat, TS: time.Now().UnixMilli()})
		}
	}
}

func (c *Client) dispatch(ctx context.Context, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	switch env.Type {
	case protocol.TypeUpdate:
		c.applyUpdate(data)
	case protocol.TypeResyncRequired:
		c.handleResyncRequired(data)
	case protocol.TypeEphemeral:
		c.applyEphemeral(data)
	case protocol.TypeRPCCall:
		go c.handleIncomingRPCCall(ctx, data)
	case protocol.TypeRPCResponse, protocol.TypeRPCError:
		c.resolvePendingRPC(data, env.Type)
	case protocol.TypeUpdateAck, protocol.TypeUpdateReject:
		c.handlePublishOutcome(data, env.Type)
	case protocol.TypeMessageAppend:
		c.applyMessage(data)
	case protocol.TypeMessageAck:
		c.handleMessageAck(data)
	case protocol.TypeHeartbeat:
	}
}

func (c *Client) writeJSON(ctx context.Context, conn wireConn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, data)
}

func (c *Client) send(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.writeJSON(ctx, conn, v)
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) AccountID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accountID
}
