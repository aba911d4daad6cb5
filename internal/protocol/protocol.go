// Package protocol defines the wire vocabulary shared by the relay core and
// the sync client: envelope types, connection kinds, and message shapes for
// spec.md §6's bidirectional JSON-object stream.
package protocol

// Message types — the envelope's Type field selects which struct below to
// decode into, mirroring the teacher's one-const-block-per-family style.
const (
	TypeAuth           = "auth"
	TypeAuthOK         = "auth-ok"
	TypeSubscribe      = "subscribe"
	TypeUpdate         = "update"
	TypeUpdateAck      = "update-ack"
	TypeUpdateReject   = "update-reject"
	TypeEphemeral      = "ephemeral"
	TypeRPCRegister    = "rpc-register"
	TypeRPCCall        = "rpc-call"
	TypeRPCResponse    = "rpc-response"
	TypeRPCError       = "rpc-error"
	TypeHeartbeat      = "heartbeat"
	TypeResyncRequired = "resync-required"

	// TypeMessageAppend/TypeMessageAck extend the envelope table with the
	// Message log's own append-only, per-session-seq stream — distinct from
	// update/update-ack because Messages never carry a version and are
	// ordered per session, not per account (spec.md §3's Message entity).
	TypeMessageAppend = "message-append"
	TypeMessageAck    = "message-ack"
)

// ConnectionKind is the connection's auto-subscribed scope class
// (spec.md §4.1).
type ConnectionKind string

const (
	ConnUserScoped    ConnectionKind = "user-scoped"
	ConnSessionScoped ConnectionKind = "session-scoped"
	ConnMachineScoped ConnectionKind = "machine-scoped"
)

// RejectReason enumerates update-reject reasons.
type RejectReason string

const (
	ReasonVersionMismatch RejectReason = "version-mismatch"
	ReasonAuth            RejectReason = "auth"
	ReasonRateLimit       RejectReason = "rate-limit"
)

// RPCErrorReason enumerates rpc-error reasons.
type RPCErrorReason string

const (
	RPCNoHandler RPCErrorReason = "no-handler"
	RPCTimeout   RPCErrorReason = "timeout"
	RPCTransport RPCErrorReason = "transport"
)

// Envelope is the minimal shape every frame carries, used to sniff Type
// before decoding the full message.
type Envelope struct {
	Type string `json:"type"`
}

// Auth is sent client → server as the first frame on a new connection.
type Auth struct {
	Type           string         `json:"type"`
	Token          string         `json:"token"`
	ConnectionKind ConnectionKind `json:"connectionKind"`
	ScopeRef       *ScopeRef      `json:"scopeRef,omitempty"`
}

// ScopeRef names a scope in cleartext protocol fields.
type ScopeRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// AuthOK is sent server → client on successful authentication.
type AuthOK struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	AccountID    string `json:"accountId"`
	ServerTime   int64  `json:"serverTime"`
}

// Subscribe requests an additional scope subscription. SinceMessageSeq is
// only meaningful for session scopes — it carries the separate per-session
// message-log cursor alongside the account-wide SinceSeq.
type Subscribe struct {
	Type            string   `json:"type"`
	Scope           ScopeRef `json:"scope"`
	SinceSeq        *int64   `json:"sinceSeq,omitempty"`
	SinceMessageSeq *int64   `json:"sinceMessageSeq,omitempty"`
}

// Update carries a versioned delta in both directions.
type Update struct {
	Type            string   `json:"type"`
	EntityRef       ScopeRef `json:"entityRef"`
	Version         int64    `json:"version"`
	ExpectedVersion *int64   `json:"expectedVersion,omitempty"`
	Seq             *int64   `json:"seq,omitempty"`
	Producer        string   `json:"producer,omitempty"`
	LocalID         string   `json:"localId"`
	Body            []byte   `json:"body"`
}

// UpdateAck confirms a successful publishUpdate.
type UpdateAck struct {
	Type       string `json:"type"`
	LocalID    string `json:"localId"`
	Seq        int64  `json:"seq"`
	NewVersion int64  `json:"newVersion"`
}

// UpdateReject responds to a failed publishUpdate.
type UpdateReject struct {
	Type            string       `json:"type"`
	LocalID         string       `json:"localId"`
	Reason          RejectReason `json:"reason"`
	CurrentVersion  *int64       `json:"currentVersion,omitempty"`
	CurrentBody     []byte       `json:"currentBody,omitempty"`
}

// Ephemeral carries a transient, unpersisted signal.
type Ephemeral struct {
	Type    string   `json:"type"`
	Scope   ScopeRef `json:"scope"`
	Kind    string   `json:"kind"`
	TS      int64    `json:"ts"`
	Payload []byte   `json:"payload,omitempty"`
}

// RPCRegister tells the relay this connection is now the primary handler
// for method within its own scope — rpcHandle's wire counterpart
// (spec.md §4.1). A later registration for the same (scope, method)
// silently replaces an earlier one.
type RPCRegister struct {
	Type   string   `json:"type"`
	Scope  ScopeRef `json:"scope"`
	Method string   `json:"method"`
}

// RPCCall carries an RPC request in either direction.
type RPCCall struct {
	Type        string   `json:"type"`
	CallID      string   `json:"callId"`
	TargetScope ScopeRef `json:"targetScope"`
	Method      string   `json:"method"`
	TimeoutMs   int64    `json:"timeoutMs"`
	Request     []byte   `json:"request"`
}

// RPCResponse carries an RPC result in either direction.
type RPCResponse struct {
	Type      string `json:"type"`
	CallID    string `json:"callId"`
	OK        bool   `json:"ok"`
	Response  []byte `json:"response,omitempty"`
	ErrorBody []byte `json:"errorBody,omitempty"`
}

// RPCError reports a terminal RPC failure server → client.
type RPCError struct {
	Type   string         `json:"type"`
	CallID string         `json:"callId"`
	Reason RPCErrorReason `json:"reason"`
}

// Heartbeat keeps the connection alive in both directions.
type Heartbeat struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

// MessageAppend carries one Message log entry in either direction —
// client→server to publish, server→client to deliver (replay or live).
type MessageAppend struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId"`
	Kind      string   `json:"kind"`
	Seq       *int64   `json:"seq,omitempty"`
	ParentID  string   `json:"parentId,omitempty"`
	Producer  string   `json:"producer,omitempty"`
	LocalID   string   `json:"localId"`
	Body      []byte   `json:"body"`
}

// MessageAck confirms a successful message-append, carrying the
// server-assigned id and per-session seq.
type MessageAck struct {
	Type    string `json:"type"`
	LocalID string `json:"localId"`
	ID      string `json:"id"`
	Seq     int64  `json:"seq"`
}

// ResyncRequired tells the client its cursor fell below the retention
// horizon and it must refetch entity state from scratch.
type ResyncRequired struct {
	Type   string `json:"type"`
	Scope  ScopeRef `json:"scope"`
	MinSeq int64  `json:"minSeq"`
}
