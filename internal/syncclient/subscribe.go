package syncclient

import (
	"context"

	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
)

// Subscribe adds scope to the client's subscription set and requests
// catch-up from sinceSeq (or from the client's own last-applied seq for
// that account if sinceSeq is nil).
func (c *Client) Subscribe(ctx context.Context, scope model.Scope, sinceSeq *int64) error {
	c.subsMu.Lock()
	c.subs[scope] = true
	c.subsMu.Unlock()

	req := protocol.Subscribe{
		Type:  protocol.TypeSubscribe,
		Scope: protocol.ScopeRef{Kind: string(scope.Kind), ID: scope.ID},
	}
	if sinceSeq != nil {
		req.SinceSeq = sinceSeq
	} else if last := c.cache.lastSeq(c.AccountID()); last > 0 {
		req.SinceSeq = &last
	}
	return c.send(ctx, req)
}

// resubscribeAll replays every previously-established subscription on a
// fresh connection, from this client's own cached cursor — the full
// re-subscribe spec.md §4.2 requires after a reconnect.
func (c *Client) resubscribeAll(ctx context.Context) {
	c.subsMu.Lock()
	scopes := make([]model.Scope, 0, len(c.subs))
	for s := range c.subs {
		scopes = append(scopes, s)
	}
	msgSessions := make([]string, 0, len(c.msgSubs))
	for sid := range c.msgSubs {
		msgSessions = append(msgSessions, sid)
	}
	c.subsMu.Unlock()

	msgSinceBySession := make(map[string]int64, len(msgSessions))
	for _, sid := range msgSessions {
		msgSinceBySession[sid] = c.msgSeq.last(sid)
	}

	for _, scope := range scopes {
		last := c.cache.lastSeq(c.AccountID())
		var since *int64
		if last > 0 {
			since = &last
		}
		req := protocol.Subscribe{
			Type:     protocol.TypeSubscribe,
			Scope:    protocol.ScopeRef{Kind: string(scope.Kind), ID: scope.ID},
			SinceSeq: since,
		}
		if scope.Kind == model.KindSession {
			if msgSince, ok := msgSinceBySession[scope.ID]; ok {
				req.SinceMessageSeq = &msgSince
				delete(msgSinceBySession, scope.ID)
			}
		}
		_ = c.send(ctx, req)
	}

	// Any session with a message-log subscription but no separate entity
	// subscription on this scope still needs its own subscribe frame.
	for sid, since := range msgSinceBySession {
		req := protocol.Subscribe{
			Type:            protocol.TypeSubscribe,
			Scope:           protocol.ScopeRef{Kind: string(model.KindSession), ID: sid},
			SinceMessageSeq: &since,
		}
		_ = c.send(ctx, req)
	}
}

func (c *Client) flushOutbox(ctx context.Context) {
	for _, m := range c.outbox.Snapshot() {
		req := protocol.Update{
			Type:            protocol.TypeUpdate,
			EntityRef:       protocol.ScopeRef{Kind: string(m.ref.Kind), ID: m.ref.ID},
			ExpectedVersion: &m.expectedVersion,
			LocalID:         m.localID,
			Body:            m.body,
		}
		_ = c.send(ctx, req)
	}
}
