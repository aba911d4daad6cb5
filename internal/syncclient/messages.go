package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
)

// MessageHandler is invoked on the dispatch goroutine for every delivered
// message-log entry, live or replayed — the session runtime turns these
// into its own view of the conversation.
type MessageHandler func(sessionID string, seq int64, kind model.MessageKind, localID, parentID string, body []byte)

// messageOutcome is what PublishMessage blocks on.
type messageOutcome struct {
	id  string
	seq int64
}

// messageSeqCache tracks the highest applied message seq per session, the
// message-log counterpart to Cache.seqByAcc — kept separately because the
// message log's cursor is per-session, not per-account.
type messageSeqCache struct {
	mu  sync.Mutex
	bySession map[string]int64
}

func newMessageSeqCache() *messageSeqCache {
	return &messageSeqCache{bySession: make(map[string]int64)}
}

func (m *messageSeqCache) last(sessionID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bySession[sessionID]
}

func (m *messageSeqCache) advance(sessionID string, seq int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq > m.bySession[sessionID] {
		m.bySession[sessionID] = seq
	}
}

// PublishMessage appends one entry to a session's message log. Unlike
// Publish, there is no version to rebase against — a message is an
// append, not a read-modify-write — so a failed send just returns an
// error. Each call mints a fresh localID, so calling it again after a
// failure is a new append to the relay's localID deduplication.
func (c *Client) PublishMessage(ctx context.Context, sessionID string, kind model.MessageKind, parentID string, body []byte) (id string, seq int64, err error) {
	localID := uuid.NewString()
	ch := make(chan messageOutcome, 1)
	c.msgMu.Lock()
	c.pendingMsg[localID] = ch
	c.msgMu.Unlock()
	defer func() {
		c.msgMu.Lock()
		delete(c.pendingMsg, localID)
		c.msgMu.Unlock()
	}()

	if err := c.send(ctx, protocol.MessageAppend{
		Type:      protocol.TypeMessageAppend,
		SessionID: sessionID,
		Kind:      string(kind),
		ParentID:  parentID,
		LocalID:   localID,
		Body:      body,
	}); err != nil {
		return "", 0, fmt.Errorf("send message-append: %w", err)
	}

	select {
	case outcome := <-ch:
		c.msgSeq.advance(sessionID, outcome.seq)
		return outcome.id, outcome.seq, nil
	case <-ctx.Done():
		return "", 0, ctx.Err()
	}
}

func (c *Client) applyMessage(data []byte) {
	var frame protocol.MessageAppend
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	if frame.Seq != nil {
		c.msgSeq.advance(frame.SessionID, *frame.Seq)
	}
	if c.OnMessage != nil {
		seq := int64(0)
		if frame.Seq != nil {
			seq = *frame.Seq
		}
		c.OnMessage(frame.SessionID, seq, model.MessageKind(frame.Kind), frame.LocalID, frame.ParentID, frame.Body)
	}
}

func (c *Client) handleMessageAck(data []byte) {
	var ack protocol.MessageAck
	if err := json.Unmarshal(data, &ack); err != nil {
		return
	}
	c.msgMu.Lock()
	ch, ok := c.pendingMsg[ack.LocalID]
	c.msgMu.Unlock()
	if !ok {
		return
	}
	ch <- messageOutcome{id: ack.ID, seq: ack.Seq}
}

// SubscribeMessages adds a session scope's message log to the client's
// resubscribe set, alongside whatever entity subscription already covers
// that scope, so reconnects replay both cursors together.
func (c *Client) SubscribeMessages(ctx context.Context, sessionID string) error {
	c.subsMu.Lock()
	c.msgSubs[sessionID] = true
	c.subsMu.Unlock()

	since := c.msgSeq.last(sessionID)
	req := protocol.Subscribe{
		Type:            protocol.TypeSubscribe,
		Scope:           protocol.ScopeRef{Kind: string(model.KindSession), ID: sessionID},
		SinceMessageSeq: &since,
	}
	return c.send(ctx, req)
}
