// Package agent adapts each assistant flavor's CLI binary to a common
// spawn/stream interface the session runtime drives. Grounded on the
// teacher's internal/agent/adapter.go and claude.go, generalized from a
// one-shot prompt/response Run() to a long-lived Spawn() whose Events()
// channel the message pump (internal/session) consumes for the lifetime
// of the conversation.
package agent

import (
	"context"
	"io"
	"os/exec"
)

// CmdFactory lets the caller intercept process construction — the session
// runtime uses this to route spawning through internal/sandbox.
type CmdFactory func(ctx context.Context, name string, args []string, dir string) (*exec.Cmd, error)

// SpawnOpts configures one assistant child process.
type SpawnOpts struct {
	WorkingDir      string
	SystemPrompt    string
	AllowedTools    []string
	DisallowedTools []string
	Model           string
	ResumeSessionID string // flavor-native session id to resume, if any
	CmdFactory      CmdFactory

	// Env carries extra KEY=VALUE entries appended to the child's inherited
	// environment — the tool-extension and hook server URLs the session
	// runtime points the assistant CLI at.
	Env []string
}

// EventKind enumerates the structured events an adapter parses out of a
// child's stdout stream.
type EventKind string

const (
	EventAgentText EventKind = "agent-text"
	EventToolCall  EventKind = "tool-call"
	EventLifecycle EventKind = "agent-event"
)

// Event is one parsed line of child stdout, normalized across flavors.
type Event struct {
	Kind EventKind

	// AgentText
	Text   string
	Partial bool

	// ToolCall
	RequestID string
	ToolName  string
	Arguments []byte
	Result    []byte
	ToolError string

	// Lifecycle (turn-complete, error, usage)
	EventType    string
	InputTokens  int
	OutputTokens int
	Reason       string
}

// Process is a running assistant child.
type Process struct {
	Cmd    *exec.Cmd
	Stdin  io.WriteCloser
	events chan Event
	done   chan error
}

func newProcess(cmd *exec.Cmd, stdin io.WriteCloser) *Process {
	return &Process{Cmd: cmd, Stdin: stdin, events: make(chan Event, 64), done: make(chan error, 1)}
}

func (p *Process) Events() <-chan Event { return p.events }

// Wait blocks until the child exits and the event stream has drained.
func (p *Process) Wait() error { return <-p.done }

// Agent is the per-flavor assistant adapter.
type Agent interface {
	Spawn(ctx context.Context, opts SpawnOpts) (*Process, error)
	// WriteUserText feeds one pump-batched message to a running child on
	// its stdin, framed however that flavor's CLI expects it (Claude's
	// stream-json input format vs. a REPL's plain text line).
	WriteUserText(p *Process, text string) error
	Health() error
	ContextWindow() int
}
