// Package relay is the Relay Core: a single always-on broker that holds
// the durable entity/update log (internal/store), authenticates
// connections (internal/relayauth), and fans out updates, ephemeral
// events, and RPC calls across the three connection scopes spec.md §4.1
// defines. Grounded on the teacher's internal/relay/pty_relay.go
// (connection registry, scoped routing) and internal/ws/client.go
// (heartbeat/backoff shape, mirrored for the server side here).
package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
)

const (
	outboundBufferSize = 256
	// A connection that finds its outbound buffer full more than this many
	// times within the limiter's window is considered unable to keep up
	// and is disconnected rather than left to buffer unboundedly.
	backpressureDisconnectThreshold = 5
)

// Connection is one authenticated WebSocket session on the relay.
type Connection struct {
	ID        string
	Kind      protocol.ConnectionKind
	AccountID string
	MachineID string // set for machine-scoped and session-scoped connections

	conn *websocket.Conn

	mu       sync.Mutex
	scopes   map[model.Scope]bool
	cursors  map[model.Scope]int64 // last delivered seq per subscribed scope
	sendCh   chan []byte
	closed   bool
	overflow *rate.Limiter
}

func newConnection(id string, kind protocol.ConnectionKind, accountID string, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:        id,
		Kind:      kind,
		AccountID: accountID,
		conn:      ws,
		scopes:    make(map[model.Scope]bool),
		cursors:   make(map[model.Scope]int64),
		sendCh:    make(chan []byte, outboundBufferSize),
		overflow:  rate.NewLimiter(rate.Every(time.Minute), backpressureDisconnectThreshold),
	}
}

// enqueue queues a frame for delivery. If the outbound buffer is full and
// the connection has exhausted its overflow allowance, it is torn down —
// the spec's bounded-buffer-then-disconnect backpressure policy (§9).
func (c *Connection) enqueue(frame []byte) {
	select {
	case c.sendCh <- frame:
		return
	default:
	}
	if !c.overflow.Allow() {
		c.Close()
		return
	}
	// One more free pass: block briefly rather than drop, since a single
	// slow tick shouldn't cost an update.
	select {
	case c.sendCh <- frame:
	case <-time.After(200 * time.Millisecond):
		c.Close()
	}
}

func (c *Connection) enqueueJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.sendCh)
	c.conn.CloseNow()
}

func (c *Connection) addScope(s model.Scope, cursor int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopes[s] = true
	c.cursors[s] = cursor
}

func (c *Connection) hasScope(s model.Scope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scopes[s]
}

func (c *Connection) setCursor(s model.Scope, seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.cursors[s] {
		c.cursors[s] = seq
	}
}

func (c *Connection) Scopes() []model.Scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Scope, 0, len(c.scopes))
	for s := range c.scopes {
		out = append(out, s)
	}
	return out
}

// ConnTable is the process-wide registry of live connections, indexed by
// id and by the scopes they subscribe to, plus the single-most-recent RPC
// handler per (scope, method) spec.md §4.1's RPC broker requires.
type ConnTable struct {
	mu          sync.RWMutex
	byID        map[string]*Connection
	subscribers map[model.Scope]map[string]*Connection // scope -> connID -> conn
	rpcHandlers map[string]*Connection                  // "scope|method" -> conn
}

func NewConnTable() *ConnTable {
	return &ConnTable{
		byID:        make(map[string]*Connection),
		subscribers: make(map[model.Scope]map[string]*Connection),
		rpcHandlers: make(map[string]*Connection),
	}
}

func (t *ConnTable) Add(c *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[c.ID] = c
}

func (t *ConnTable) Remove(c *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, c.ID)
	for scope, subs := range t.subscribers {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(t.subscribers, scope)
		}
	}
	for key, h := range t.rpcHandlers {
		if h == c {
			delete(t.rpcHandlers, key)
		}
	}
}

func (t *ConnTable) Subscribe(c *Connection, scope model.Scope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs, ok := t.subscribers[scope]
	if !ok {
		subs = make(map[string]*Connection)
		t.subscribers[scope] = subs
	}
	subs[c.ID] = c
}

// Fanout delivers frame to every connection subscribed to scope, except
// the one whose connectionId matches exclude — the self-echo suppression
// spec.md §4.2 requires so a publisher doesn't replay its own write back
// to itself over the wire it already applied it on locally.
func (t *ConnTable) Fanout(scope model.Scope, frame []byte, exclude string) {
	t.mu.RLock()
	subs := t.subscribers[scope]
	targets := make([]*Connection, 0, len(subs))
	for id, c := range subs {
		if id == exclude {
			continue
		}
		targets = append(targets, c)
	}
	t.mu.RUnlock()
	for _, c := range targets {
		c.enqueue(frame)
	}
}

func rpcKey(scope model.Scope, method string) string { return scope.String() + "|" + method }

// RegisterRPCHandler binds (scope, method) to a connection. A later
// registration silently replaces an earlier one — spec.md §4.1 models
// "handler" as single-most-recently-registered, not a stack.
func (t *ConnTable) RegisterRPCHandler(scope model.Scope, method string, c *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rpcHandlers[rpcKey(scope, method)] = c
}

func (t *ConnTable) LookupRPCHandler(scope model.Scope, method string) *Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rpcHandlers[rpcKey(scope, method)]
}
