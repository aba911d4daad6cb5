// Package model holds the entity vocabulary shared by the relay core, the
// sync client, and the session runtime: Account, Machine, Session, Message,
// Update, and EphemeralEvent, plus the EntityRef/Scope types that route
// between them.
package model

import "time"

// Kind identifies what an EntityRef or Scope points at.
type Kind string

const (
	KindAccount Kind = "account"
	KindMachine Kind = "machine"
	KindSession Kind = "session"
)

// EntityRef names one versioned entity.
type EntityRef struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// Scope is a routing key a connection subscribes to. Its shape matches
// EntityRef exactly — a scope is "the account/machine/session identified
// by this ref" — but the two are kept as distinct types because a Scope
// names a subscription target while an EntityRef names a mutation target,
// and conflating them has bitten the teacher's own wire protocol before.
type Scope struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

func (s Scope) String() string { return string(s.Kind) + ":" + s.ID }

func (r EntityRef) Scope() Scope { return Scope{Kind: r.Kind, ID: r.ID} }

// DaemonState is the lifecycle of a Machine's daemon connection.
type DaemonState string

const (
	DaemonOnline   DaemonState = "online"
	DaemonOffline  DaemonState = "offline"
	DaemonShutdown DaemonState = "shutdown"
)

// Account is the authenticated identity principal. It is immutable beyond
// its envelope version — there are no mutable account fields the core
// needs to track, so Account mostly exists to anchor Machines and Sessions.
type Account struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"`
}

// Machine is a physical host running the CLI daemon, one per
// (account, hostname, homeDir) per spec.md §3.
type Machine struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"`

	Hostname      string      `json:"hostname"`
	HomeDir       string      `json:"homeDir"`
	OS            string      `json:"os"`
	DaemonState   DaemonState `json:"daemonState"`
	ActiveSession []string    `json:"activeSessions"`
}

// IdentityKey is the (hostname, homeDir) pair that uniquely identifies a
// Machine within an account — see DESIGN.md open question (b).
func (m Machine) IdentityKey() string { return m.Hostname + "\x00" + m.HomeDir }

// Flavor names which assistant implementation a session runs.
type Flavor string

const (
	FlavorClaude Flavor = "claude"
	FlavorCodex  Flavor = "codex"
	FlavorGemini Flavor = "gemini"
)

// Lifecycle is a Session's top-level state.
type Lifecycle string

const (
	LifecycleRunning  Lifecycle = "running"
	LifecycleArchived Lifecycle = "archived"
)

// PermissionMode governs which assistant tool calls require user consent.
type PermissionMode string

const (
	PermissionDefault       PermissionMode = "default"
	PermissionAcceptEdits   PermissionMode = "accept-edits"
	PermissionBypassAll     PermissionMode = "bypass-all"
	PermissionPlan          PermissionMode = "plan"
)

// ControlMode is whether a running session accepts input from the local
// terminal or from remote clients.
type ControlMode string

const (
	ControlLocal  ControlMode = "local"
	ControlRemote ControlMode = "remote"
)

// SessionMetadata is the immutable-ish configuration side of a Session —
// it changes rarely (e.g. permission mode edits) compared to AgentState,
// which flips on every assistant turn.
type SessionMetadata struct {
	MachineID      string         `json:"machineId"`
	WorkingDir     string         `json:"workingDir"`
	Flavor         Flavor         `json:"flavor"`
	Lifecycle      Lifecycle      `json:"lifecycle"`
	PermissionMode PermissionMode `json:"permissionMode"`
	AllowedTools   []string       `json:"allowedTools,omitempty"`
	DisallowedTools []string      `json:"disallowedTools,omitempty"`
	SystemPrompt   string         `json:"systemPrompt,omitempty"`
	ToolCatalog    []string       `json:"toolCatalog,omitempty"`
	Model          string         `json:"model,omitempty"`
	PackageScripts map[string]string `json:"packageScripts,omitempty"`
	AutoApprovePlan bool          `json:"autoApprovePlan,omitempty"`
}

// AgentState carries the presence bits that flip frequently during a turn.
type AgentState struct {
	Thinking          bool   `json:"thinking"`
	ControlledByUser  bool   `json:"controlledByUser"`
	CurrentModel      string `json:"currentModel,omitempty"`
}

// Session is one assistant conversation, keyed by a random tag at creation.
type Session struct {
	ID        string    `json:"id"`
	Tag       string    `json:"tag"`
	AccountID string    `json:"accountId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"`

	Metadata   SessionMetadata `json:"metadata"`
	AgentState AgentState      `json:"agentState"`
}

func (s Session) Ref() EntityRef { return EntityRef{Kind: KindSession, ID: s.ID} }
func (m Machine) Ref() EntityRef { return EntityRef{Kind: KindMachine, ID: m.ID} }
func (a Account) Ref() EntityRef { return EntityRef{Kind: KindAccount, ID: a.ID} }
