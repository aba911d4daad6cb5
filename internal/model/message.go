package model

import (
	"encoding/json"
	"time"
)

// MessageKind discriminates the closed set of message variants. Variants
// are closed by design (spec.md §9, "Polymorphic message kinds") — a new
// kind is a protocol change, not an extension point third parties use.
type MessageKind string

const (
	MessageUserText   MessageKind = "user-text"
	MessageAgentText  MessageKind = "agent-text"
	MessageToolCall   MessageKind = "tool-call"
	MessageAgentEvent MessageKind = "agent-event"
)

// MessageRef is a flat pointer to a message within a session's log — never
// a Go pointer, so tool-call children can never form a reference cycle
// (spec.md §9, "Cyclic structures").
type MessageRef struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
}

// Message is one envelope on a session's append-only log. Body is the
// ciphertext payload; the relay never parses it (spec.md §3's encryption
// invariant). Children is populated only for MessageToolCall and is itself
// append-only as the tool streams sub-steps.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionId"`
	Seq       int64       `json:"seq"`
	Kind      MessageKind `json:"kind"`
	LocalID   string      `json:"localId"`
	CreatedAt time.Time   `json:"createdAt"`

	Body     []byte       `json:"body"`
	Children []MessageRef `json:"children,omitempty"`
}

// UserTextPayload is the plaintext shape of a MessageUserText body once
// decrypted.
type UserTextPayload struct {
	Text string `json:"text"`
}

// AgentTextPayload is the plaintext shape of a MessageAgentText body.
type AgentTextPayload struct {
	Text string `json:"text"`
}

// ToolCallPayload is the plaintext shape of a MessageToolCall body.
type ToolCallPayload struct {
	RequestID string          `json:"requestId"`
	ToolName  string          `json:"toolName"`
	Arguments json.RawMessage `json:"arguments"`
	Status    string          `json:"status"` // "pending", "allowed", "denied", "completed", "error"
	Result    string          `json:"result,omitempty"`
}

// AgentEventPayload is the plaintext shape of a MessageAgentEvent body.
// EventType is one of: "switch-mode", "limit-reached", "ready", "session-death".
type AgentEventPayload struct {
	EventType string          `json:"eventType"`
	Reason    string          `json:"reason,omitempty"`
	Usage     *UsageStats     `json:"usage,omitempty"`
	Extra     json.RawMessage `json:"extra,omitempty"`
}

// UsageStats accompanies a "ready" agent-event per spec.md §4.3
// ("final ready event with cumulative usage stats").
type UsageStats struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}
