package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
)

// pendingCallTable tracks in-flight RPCs awaiting a response from the
// connection that currently holds the handler slot for their
// (scope, method), keyed by callId. One table per Server instance — a
// process embedding more than one Server (tests, or a multi-tenant
// listener) must not have one server's call resolve against another's
// connections.
type pendingCallTable struct {
	mu      sync.Mutex
	callers map[string]*Connection
}

func newPendingCallTable() *pendingCallTable {
	return &pendingCallTable{callers: make(map[string]*Connection)}
}

func (t *pendingCallTable) put(callID string, caller *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callers[callID] = caller
}

func (t *pendingCallTable) takeAndDelete(callID string) *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.callers[callID]
	delete(t.callers, callID)
	return c
}

func (s *Server) handleRPCRegister(c *Connection, data []byte) {
	var req protocol.RPCRegister
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	scope := model.Scope{Kind: model.Kind(req.Scope.Kind), ID: req.Scope.ID}
	if !c.hasScope(scope) {
		return
	}
	s.Conns.RegisterRPCHandler(scope, req.Method, c)
}

// handleRPCCall routes a call to the single registered handler for its
// (targetScope, method). A missing handler surfaces no-handler
// immediately — spec.md §8 scenario 4 requires this without waiting for
// the call's timeout to elapse.
func (s *Server) handleRPCCall(c *Connection, data []byte) {
	var req protocol.RPCCall
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	scope := model.Scope{Kind: model.Kind(req.TargetScope.Kind), ID: req.TargetScope.ID}
	handler := s.Conns.LookupRPCHandler(scope, req.Method)
	if handler == nil {
		c.enqueueJSON(protocol.RPCError{Type: protocol.TypeRPCError, CallID: req.CallID, Reason: protocol.RPCNoHandler})
		return
	}

	s.pendingCalls.put(req.CallID, c)
	handler.enqueue(data)

	if req.TimeoutMs <= 0 {
		return
	}
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	go func() {
		time.Sleep(timeout)
		if caller := s.pendingCalls.takeAndDelete(req.CallID); caller != nil {
			caller.enqueueJSON(protocol.RPCError{Type: protocol.TypeRPCError, CallID: req.CallID, Reason: protocol.RPCTimeout})
		}
	}()
}

// handleRPCResponse forwards a handler's reply back to the original
// caller, identified by callId. A response for an already-timed-out or
// unknown call is dropped — the caller has moved on.
func (s *Server) handleRPCResponse(c *Connection, data []byte) {
	var resp protocol.RPCResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return
	}
	caller := s.pendingCalls.takeAndDelete(resp.CallID)
	if caller == nil {
		return
	}
	caller.enqueue(data)
}
