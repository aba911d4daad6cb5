package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/happy-coder/happy/internal/errs"
	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
)

// Invoke calls method on targetScope's registered handler and blocks for
// its response or timeout — the sync client's half of spec.md §4.1's
// rpcCall/rpcHandle pair.
func (c *Client) Invoke(ctx context.Context, targetScope model.Scope, method string, request []byte, timeout time.Duration) ([]byte, error) {
	callID := uuid.NewString()
	ch := make(chan protocol.RPCResponse, 1)
	c.rpcMu.Lock()
	c.pendingRPC[callID] = ch
	c.rpcMu.Unlock()
	defer func() {
		c.rpcMu.Lock()
		delete(c.pendingRPC, callID)
		c.rpcMu.Unlock()
	}()

	if err := c.send(ctx, protocol.RPCCall{
		Type:        protocol.TypeRPCCall,
		CallID:      callID,
		TargetScope: protocol.ScopeRef{Kind: string(targetScope.Kind), ID: targetScope.ID},
		Method:      method,
		TimeoutMs:   timeout.Milliseconds(),
		Request:     request,
	}); err != nil {
		return nil, fmt.Errorf("send rpc-call: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if !resp.OK {
			return nil, fmt.Errorf("rpc %s failed: %s", method, string(resp.ErrorBody))
		}
		return resp.Response, nil
	case <-timer.C:
		return nil, &errs.Timeout{Method: method}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Register binds method to handler within scope, replacing any handler
// this process previously registered for the pair — the relay enforces
// single-most-recently-registered globally, but the client must also tell
// the relay about it via rpc-register.
func (c *Client) Register(ctx context.Context, scope model.Scope, method string, handler RPCHandlerFunc) error {
	c.rpcMu.Lock()
	c.rpcHandlers[rpcHandlerKey(scope, method)] = handler
	c.rpcMu.Unlock()
	return c.send(ctx, protocol.RPCRegister{
		Type:   protocol.TypeRPCRegister,
		Scope:  protocol.ScopeRef{Kind: string(scope.Kind), ID: scope.ID},
		Method: method,
	})
}

func rpcHandlerKey(scope model.Scope, method string) string { return scope.String() + "|" + method }

func (c *Client) handleIncomingRPCCall(ctx context.Context, data []byte) {
	var req protocol.RPCCall
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	scope := model.Scope{Kind: model.Kind(req.TargetScope.Kind), ID: req.TargetScope.ID}

	c.rpcMu.Lock()
	handler := c.rpcHandlers[rpcHandlerKey(scope, req.Method)]
	c.rpcMu.Unlock()
	if handler == nil {
		return
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if req.TimeoutMs > 0 {
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	resp, err := handler(callCtx, req.Request)
	out := protocol.RPCResponse{Type: protocol.TypeRPCResponse, CallID: req.CallID}
	if err != nil {
		out.OK = false
		out.ErrorBody = []byte(err.Error())
	} else {
		out.OK = true
		out.Response = resp
	}
	_ = c.send(ctx, out)
}

func (c *Client) resolvePendingRPC(data []byte, typ string) {
	var callID string
	var resp protocol.RPCResponse
	if typ == protocol.TypeRPCError {
		var rpcErr protocol.RPCError
		if err := json.Unmarshal(data, &rpcErr); err != nil {
			return
		}
		callID = rpcErr.CallID
		resp = protocol.RPCResponse{CallID: callID, OK: false, ErrorBody: []byte(string(rpcErr.Reason))}
	} else {
		if err := json.Unmarshal(data, &resp); err != nil {
			return
		}
		callID = resp.CallID
	}

	c.rpcMu.Lock()
	ch := c.pendingRPC[callID]
	c.rpcMu.Unlock()
	if ch != nil {
		select {
		case ch <- resp:
		default:
		}
	}
}
