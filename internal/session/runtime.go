package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/happy-coder/happy/internal/agent"
	"github.com/happy-coder/happy/internal/crypto"
	"github.com/happy-coder/happy/internal/hookserver"
	"github.com/happy-coder/happy/internal/logger"
	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
	"github.com/happy-coder/happy/internal/sandbox"
	"github.com/happy-coder/happy/internal/syncclient"
	"github.com/happy-coder/happy/internal/toolserver"
)

// RuntimeConfig is everything the daemon's spawnSession control RPC
// collects before a Runtime can start — spec.md §4.3's session start
// sequence takes this plus a relay connection and produces a running
// session.
type RuntimeConfig struct {
	ServerURL  string
	Token      string
	MasterKey  crypto.MasterKey
	WorkingDir string
	Flavor     model.Flavor
	Model      string
	GeminiModel string
	ContextWindow int

	PermissionMode  model.PermissionMode
	AllowedTools    []string
	DisallowedTools []string
	SystemPrompt    string
	AutoApprovePlan bool

	Hostname string
	HomeDir  string
	OS       string
}

// Runtime wires one session's assistant child, Sync Client, tool/hook
// servers, message pump, and permission flow together — the daemon's
// per-session supervisor object. Grounded on the teacher's
// internal/egg/server.go (one struct owning a spawned child's lifecycle
// plus its auxiliary listeners) generalized to the spec's multi-server,
// multi-stage start sequence.
type Runtime struct {
	cfg   RuntimeConfig
	sync  *syncclient.Client
	tools *toolserver.Server
	hooks *hookserver.Server
	pump  *Pump
	perms *PermissionManager
	ctrl  *ControlSwitch

	sessionID string
	machine   *model.Machine

	mu        sync.Mutex
	meta      model.SessionMetadata
	impl      agent.Agent
	agentProc *agent.Process

	done   chan struct{}
	cancel context.CancelFunc
}

// NewRuntime constructs a Runtime without starting anything — call Start
// to run the session-start sequence.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	return &Runtime{
		cfg:   cfg,
		pump:  NewPump(),
		perms: NewPermissionManager(cfg.AutoApprovePlan, DefaultPermissionTimeout),
		done:  make(chan struct{}),
	}
}

// Start runs spec.md §4.3's seven-step session start sequence and returns
// once the assistant child is spawned and the pump loop is running in the
// background. Cancel the returned context (via Stop) to tear everything
// down.
func (rt *Runtime) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel

	// 1. Resolve machine identity.
	m, err := syncclient.IdentifyMachine(runCtx, rt.cfg.ServerURL, rt.cfg.Token, rt.cfg.Hostname, rt.cfg.HomeDir, rt.cfg.OS)
	if err != nil {
		cancel()
		return fmt.Errorf("resolve machine identity: %w", err)
	}
	rt.machine = m

	// 2. Create Session entity.
	rt.sessionID = uuid.NewString()
	rt.meta = model.SessionMetadata{
		MachineID:       m.ID,
		WorkingDir:      rt.cfg.WorkingDir,
		Flavor:          rt.cfg.Flavor,
		Lifecycle:       model.LifecycleRunning,
		PermissionMode:  rt.cfg.PermissionMode,
		AllowedTools:    rt.cfg.AllowedTools,
		DisallowedTools: rt.cfg.DisallowedTools,
		SystemPrompt:    rt.cfg.SystemPrompt,
		Model:           rt.cfg.Model,
		AutoApprovePlan: rt.cfg.AutoApprovePlan,
	}
	session := model.Session{
		ID:        rt.sessionID,
		Tag:       rt.sessionID[:8],
		AccountID: m.AccountID,
		Metadata:  rt.meta,
	}
	plain, err := json.Marshal(session)
	if err != nil {
		cancel()
		return fmt.Errorf("marshal initial session body: %w", err)
	}
	sealed, err := rt.cfg.MasterKey.Seal(plain)
	if err != nil {
		cancel()
		return fmt.Errorf("seal initial session body: %w", err)
	}

	scopeRef := &protocol.ScopeRef{Kind: string(model.KindSession), ID: rt.sessionID}

	// 3. Open a session-scoped Sync Client connection. Session creation
	// itself has to ride this connection — a fresh session id has never
	// been subscribed to, so there's nothing to rebase a Publish() against
	// — which is why PublishNew sends expectedVersion 0 without a cache
	// precondition.
	rt.sync = syncclient.New(rt.cfg.ServerURL, rt.cfg.Token, protocol.ConnSessionScoped, scopeRef)
	rt.sync.OnMessage = rt.onMessage
	rt.sync.OnUpdate = rt.onUpdate

	go func() {
		if err := rt.sync.Run(runCtx); err != nil && runCtx.Err() == nil {
			logger.Error("sync client run", "err", err)
		}
	}()

	if err := waitConnected(runCtx, rt.sync); err != nil {
		cancel()
		return fmt.Errorf("wait for sync client: %w", err)
	}

	if _, err := rt.sync.PublishNew(runCtx, model.EntityRef{Kind: model.KindSession, ID: rt.sessionID}, sealed); err != nil {
		cancel()
		return fmt.Errorf("create session entity: %w", err)
	}

	if err := rt.sync.Register(runCtx, model.Scope{Kind: model.KindSession, ID: rt.sessionID}, "processPermissionRequest", rt.handlePermissionRPC); err != nil {
		cancel()
		return fmt.Errorf("register processPermissionRequest: %w", err)
	}

	// 4. Spawn auxiliary local HTTP services.
	runner := toolserver.NewMultiRunner()
	registerBuiltinTools(runner, rt.cfg.WorkingDir)
	rt.tools = toolserver.New(runner, nil)
	toolURL, err := rt.tools.Start()
	if err != nil {
		cancel()
		return fmt.Errorf("start tool server: %w", err)
	}

	rt.ctrl = NewControlSwitch(model.ControlRemote, rt.onControlFlip)
	rt.hooks = hookserver.New(rt, nil)
	hookURL, err := rt.hooks.Start()
	if err != nil {
		cancel()
		return fmt.Errorf("start hook server: %w", err)
	}

	// 5. Generate a hook-settings file referenced by the assistant child.
	hookSettingsPath, err := writeHookSettings(rt.cfg.WorkingDir, rt.sessionID, hookURL)
	if err != nil {
		cancel()
		return fmt.Errorf("write hook settings: %w", err)
	}

	// 6. Spawn the assistant child.
	impl, err := agent.For(rt.cfg.Flavor, rt.cfg.ContextWindow, rt.cfg.GeminiModel)
	if err != nil {
		cancel()
		return fmt.Errorf("resolve assistant adapter: %w", err)
	}

	level := sandbox.LevelForPermissionMode(rt.cfg.PermissionMode)
	proc, err := impl.Spawn(runCtx, agent.SpawnOpts{
		WorkingDir:      rt.cfg.WorkingDir,
		SystemPrompt:    rt.cfg.SystemPrompt,
		AllowedTools:    rt.cfg.AllowedTools,
		DisallowedTools: rt.cfg.DisallowedTools,
		Model:           rt.cfg.Model,
		CmdFactory:      sandboxedCmdFactory(level),
		Env: []string{
			"HAPPY_TOOL_SERVER_URL=" + toolURL,
			"HAPPY_HOOK_SERVER_URL=" + hookURL,
			"HAPPY_HOOK_SETTINGS=" + hookSettingsPath,
			"HAPPY_SESSION_ID=" + rt.sessionID,
		},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("spawn assistant child: %w", err)
	}
	rt.impl = impl
	rt.agentProc = proc

	// 7. Enter the message pump loop.
	go rt.pumpLoop(runCtx)
	go rt.drainAgentEvents(runCtx, proc)
	go func() {
		err := proc.Wait()
		rt.onChildExit(runCtx, err)
	}()

	return nil
}

// Stop tears the session down per spec.md §4.3's signal-handling
// paragraph: mark archived, kill the child with a grace period, close
// the Sync Client.
func (rt *Runtime) Stop(ctx context.Context) {
	rt.mu.Lock()
	rt.meta.Lifecycle = model.LifecycleArchived
	rt.mu.Unlock()
	rt.publishMetadata(ctx)

	if rt.agentProc != nil && rt.agentProc.Cmd.Process != nil {
		_ = rt.agentProc.Cmd.Process.Signal(os.Interrupt)
		go func() {
			time.Sleep(5 * time.Second)
			if rt.agentProc.Cmd.ProcessState == nil {
				_ = rt.agentProc.Cmd.Process.Kill()
			}
		}()
	}

	_ = rt.tools.Shutdown(ctx)
	_ = rt.hooks.Shutdown(ctx)
	if rt.cancel != nil {
		rt.cancel()
	}
}

func (rt *Runtime) pumpLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-rt.pump.Batches():
			if !ok {
				return
			}
			rt.deliverBatch(ctx, batch)
		}
	}
}

func (rt *Runtime) deliverBatch(ctx context.Context, batch Batch) {
	for _, msg := range batch.Messages {
		if cmd, ok := ShellPrefix(msg.Text); ok {
			out := RunShellPrefix(ctx, rt.cfg.WorkingDir, cmd)
			rt.publishAgentText(ctx, out)
			continue
		}
		if !msg.AlreadyPublished {
			rt.publishUserText(ctx, msg.Text)
		}
		if rt.agentProc != nil && rt.impl != nil {
			if err := rt.impl.WriteUserText(rt.agentProc, msg.Text); err != nil {
				logger.Error("write to assistant stdin", "err", err)
			}
		}
	}
}

func (rt *Runtime) drainAgentEvents(ctx context.Context, proc *agent.Process) {
	for ev := range proc.Events() {
		rt.handleAgentEvent(ctx, ev)
	}
}

func (rt *Runtime) handleAgentEvent(ctx context.Context, ev agent.Event) {
	switch ev.Kind {
	case agent.EventAgentText:
		rt.publishAgentText(ctx, ev.Text)
	case agent.EventToolCall:
		rt.handleToolCallEvent(ctx, ev)
	case agent.EventLifecycle:
		rt.publishAgentEvent(ctx, ev.EventType, ev.Reason, ev.InputTokens, ev.OutputTokens)
	}
}

func (rt *Runtime) handleToolCallEvent(ctx context.Context, ev agent.Event) {
	decision := rt.perms.Request(ctx, ev.RequestID)
	status := "denied"
	if decision == hookserver.DecisionAllow {
		status = "allowed"
	}
	body, err := json.Marshal(model.ToolCallPayload{
		RequestID: ev.RequestID,
		ToolName:  ev.ToolName,
		Arguments: ev.Arguments,
		Status:    status,
	})
	if err != nil {
		logger.Error("marshal tool-call message", "err", err)
		return
	}
	rt.publishMessage(ctx, model.MessageToolCall, body)
}

// OnSessionIDRotated implements hookserver.Handlers.
func (rt *Runtime) OnSessionIDRotated(ctx context.Context, ev hookserver.SessionIDRotated) {
	logger.Info("assistant session id rotated", "session", rt.sessionID, "newId", ev.NewSessionID)
}

// OnLifecycleEvent implements hookserver.Handlers.
func (rt *Runtime) OnLifecycleEvent(ctx context.Context, ev hookserver.LifecycleEvent) {
	rt.publishAgentEvent(ctx, ev.EventType, "", 0, 0)
}

// OnPreToolUse implements hookserver.Handlers — it is the bridge between
// the assistant's own hook mechanism and the permission-request flow: a
// permission-request message goes into the session log, and the decision
// either resolves locally (auto-approve-plan) or waits on a remote
// processPermissionRequest RPC call routed through Resolve.
func (rt *Runtime) OnPreToolUse(ctx context.Context, req hookserver.PermissionRequest) (bool, error) {
	body, err := json.Marshal(model.ToolCallPayload{
		RequestID: req.RequestID,
		ToolName:  req.ToolName,
		Arguments: req.Arguments,
		Status:    "pending",
	})
	if err != nil {
		return false, fmt.Errorf("marshal permission request: %w", err)
	}
	rt.publishMessage(ctx, model.MessageToolCall, body)

	decision := rt.perms.Request(ctx, req.RequestID)
	return decision == hookserver.DecisionAllow, nil
}

// ControlSwitch exposes the session's local/remote control bit so a
// terminal-attached `happy` invocation can start watching stdin for the
// remote→local flip keypress.
func (rt *Runtime) ControlSwitch() *ControlSwitch { return rt.ctrl }

// SessionID returns the id minted in Start.
func (rt *Runtime) SessionID() string { return rt.sessionID }

// Done reports when the session has fully exited — the assistant child
// has terminated and the final archived metadata has been published. The
// daemon's controller uses this to drop the session from its live table.
func (rt *Runtime) Done() <-chan struct{} { return rt.done }

// WorkingDir returns the directory the session was spawned against.
func (rt *Runtime) WorkingDir() string { return rt.cfg.WorkingDir }

// Flavor returns the assistant flavor the session was spawned with.
func (rt *Runtime) Flavor() model.Flavor { return rt.cfg.Flavor }

// Lifecycle returns the session's current lifecycle state.
func (rt *Runtime) Lifecycle() model.Lifecycle {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.meta.Lifecycle
}

// ResolvePermission hands a remote client's allow/deny to the waiting
// PermissionManager; handlePermissionRPC, the processPermissionRequest
// RPC handler registered on the Sync Client, calls it.
func (rt *Runtime) ResolvePermission(requestID string, decision hookserver.Decision) {
	rt.perms.Resolve(requestID, decision)
}

type processPermissionRequestBody struct {
	RequestID string          `json:"requestId"`
	Decision  hookserver.Decision `json:"decision"`
}

// handlePermissionRPC is the RPCHandlerFunc backing processPermissionRequest.
func (rt *Runtime) handlePermissionRPC(ctx context.Context, request []byte) ([]byte, error) {
	var req processPermissionRequestBody
	if err := json.Unmarshal(request, &req); err != nil {
		return nil, fmt.Errorf("decode processPermissionRequest: %w", err)
	}
	rt.ResolvePermission(req.RequestID, req.Decision)
	return json.Marshal(struct {
		OK bool `json:"ok"`
	}{OK: true})
}

func (rt *Runtime) onControlFlip(mode model.ControlMode) {
	rt.publishAgentState(context.Background(), mode == model.ControlLocal)
}

func (rt *Runtime) onChildExit(ctx context.Context, err error) {
	usage := model.UsageStats{}
	rt.publishAgentEventWithUsage(ctx, "ready", "", &usage)
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	rt.publishAgentEvent(ctx, "session-death", reason, 0, 0)

	rt.mu.Lock()
	rt.meta.Lifecycle = model.LifecycleArchived
	rt.mu.Unlock()
	rt.publishMetadata(ctx)
	rt.pump.Close()
	close(rt.done)
}

// onMessage handles message-log entries from other producers on this
// session's scope — a second `happy` terminal attach or a phone client
// publishing user text directly. The relay already excludes the
// publishing connection from fanout (see relay.handleMessageAppend), so
// anything reaching here by definition didn't originate from this
// Runtime's own sync connection and needs to be fed into the pump.
func (rt *Runtime) onMessage(sessionID string, seq int64, kind model.MessageKind, localID, parentID string, body []byte) {
	if kind != model.MessageUserText {
		return
	}
	plain, err := rt.cfg.MasterKey.Open(body)
	if err != nil {
		logger.Error("open inbound user-text message", "err", err)
		return
	}
	var payload model.UserTextPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		logger.Error("unmarshal inbound user-text message", "err", err)
		return
	}
	rt.enqueueRemoteUserText(payload.Text)
}

// enqueueRemoteUserText is EnqueueUserText's counterpart for text that
// arrived over the wire rather than from a local attach — it skips the
// publishUserText round-trip deliverBatch does for locally entered text,
// since the text is already in the message log as of onMessage's caller.
func (rt *Runtime) enqueueRemoteUserText(text string) {
	rt.mu.Lock()
	fp := FingerprintFromMetadata(rt.meta)
	rt.mu.Unlock()
	rt.pump.Enqueue(Message{
		Text:             text,
		Fingerprint:      fp,
		LocalID:          uuid.NewString(),
		Isolate:          IsIsolateCommand(text),
		AlreadyPublished: true,
	})
}

func (rt *Runtime) onUpdate(ref model.EntityRef, version int64, body []byte) {
	if ref.Kind != model.KindSession || ref.ID != rt.sessionID {
		return
	}
	plain, err := rt.cfg.MasterKey.Open(body)
	if err != nil {
		logger.Error("open session update", "err", err)
		return
	}
	var s model.Session
	if err := json.Unmarshal(plain, &s); err != nil {
		logger.Error("unmarshal session update", "err", err)
		return
	}
	rt.mu.Lock()
	rt.meta = s.Metadata
	rt.mu.Unlock()
}

// EnqueueUserText queues locally supplied user text (the Sync Client's
// inbound user-text messages go through enqueueRemoteUserText instead) —
// it stamps msg with the session's current mode fingerprint before handing it to the pump,
// so a permission-mode or model change made mid-conversation forces the
// boundary flush spec.md's message-pump section describes.
func (rt *Runtime) EnqueueUserText(text string) {
	rt.mu.Lock()
	fp := FingerprintFromMetadata(rt.meta)
	rt.mu.Unlock()
	rt.pump.Enqueue(Message{
		Text:        text,
		Fingerprint: fp,
		LocalID:     uuid.NewString(),
		Isolate:     IsIsolateCommand(text),
	})
}

func (rt *Runtime) publishUserText(ctx context.Context, text string) {
	body, err := json.Marshal(model.UserTextPayload{Text: text})
	if err != nil {
		logger.Error("marshal user text", "err", err)
		return
	}
	rt.publishMessage(ctx, model.MessageUserText, body)
}

func (rt *Runtime) publishAgentText(ctx context.Context, text string) {
	body, err := json.Marshal(model.AgentTextPayload{Text: text})
	if err != nil {
		logger.Error("marshal agent text", "err", err)
		return
	}
	rt.publishMessage(ctx, model.MessageAgentText, body)
}

func (rt *Runtime) publishAgentEvent(ctx context.Context, eventType, reason string, inTok, outTok int) {
	var usage *model.UsageStats
	if inTok > 0 || outTok > 0 {
		usage = &model.UsageStats{InputTokens: int64(inTok), OutputTokens: int64(outTok)}
	}
	rt.publishAgentEventWithUsage(ctx, eventType, reason, usage)
}

func (rt *Runtime) publishAgentEventWithUsage(ctx context.Context, eventType, reason string, usage *model.UsageStats) {
	body, err := json.Marshal(model.AgentEventPayload{EventType: eventType, Reason: reason, Usage: usage})
	if err != nil {
		logger.Error("marshal agent event", "err", err)
		return
	}
	rt.publishMessage(ctx, model.MessageAgentEvent, body)
}

func (rt *Runtime) publishMessage(ctx context.Context, kind model.MessageKind, plain []byte) {
	sealed, err := rt.cfg.MasterKey.Seal(plain)
	if err != nil {
		logger.Error("seal message body", "err", err)
		return
	}
	if _, _, err := rt.sync.PublishMessage(ctx, rt.sessionID, kind, "", sealed); err != nil {
		logger.Error("publish message", "err", err, "kind", kind)
	}
}

func (rt *Runtime) publishAgentState(ctx context.Context, controlledByUser bool) {
	_, err := rt.sync.Publish(ctx, model.EntityRef{Kind: model.KindSession, ID: rt.sessionID}, func(_ int64, currentBody []byte) ([]byte, error) {
		plain, err := rt.cfg.MasterKey.Open(currentBody)
		if err != nil {
			return nil, fmt.Errorf("open current session body: %w", err)
		}
		var s model.Session
		if err := json.Unmarshal(plain, &s); err != nil {
			return nil, fmt.Errorf("unmarshal current session body: %w", err)
		}
		s.AgentState.ControlledByUser = controlledByUser
		next, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("marshal session body: %w", err)
		}
		return rt.cfg.MasterKey.Seal(next)
	})
	if err != nil {
		logger.Error("publish control-mode update", "err", err)
	}
}

func (rt *Runtime) publishMetadata(ctx context.Context) {
	rt.mu.Lock()
	meta := rt.meta
	rt.mu.Unlock()
	_, err := rt.sync.Publish(ctx, model.EntityRef{Kind: model.KindSession, ID: rt.sessionID}, func(_ int64, currentBody []byte) ([]byte, error) {
		plain, err := rt.cfg.MasterKey.Open(currentBody)
		if err != nil {
			return nil, fmt.Errorf("open current session body: %w", err)
		}
		var s model.Session
		if err := json.Unmarshal(plain, &s); err != nil {
			return nil, fmt.Errorf("unmarshal current session body: %w", err)
		}
		s.Metadata = meta
		next, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("marshal session body: %w", err)
		}
		return rt.cfg.MasterKey.Seal(next)
	})
	if err != nil {
		logger.Error("publish metadata update", "err", err)
	}
}

// waitConnected polls the Sync Client's handshake state rather than
// racing PublishNew against the auth round-trip the Run goroutine hasn't
// finished yet.
func waitConnected(ctx context.Context, c *syncclient.Client) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.Connected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// registerBuiltinTools wires the tool-extension server's fixed set:
// read/write/edit files, list a directory, run bash — spec.md §4.3's
// "tool-extension server exposing tools ... the assistant can call as
// MCP-style extensions".
func registerBuiltinTools(runner *toolserver.MultiRunner, workingDir string) {
	runner.Register(toolserver.NewFileRunner(workingDir))
	runner.Register(toolserver.NewBashRunner(workingDir))
}

// writeHookSettings drops a small JSON file in a fresh directory under the
// system temp dir, pointing the assistant's own hook mechanism at the
// session's hook server — step 5 of the session start sequence. Runtime
// does not remove the directory when the session ends.
func writeHookSettings(workingDir, sessionID, hookURL string) (string, error) {
	dir, err := os.MkdirTemp("", "happy-hooks-"+sessionID)
	if err != nil {
		return "", fmt.Errorf("create hook settings dir: %w", err)
	}
	path := dir + "/settings.json"
	body, err := json.Marshal(struct {
		HookServerURL string `json:"hookServerUrl"`
		SessionID     string `json:"sessionId"`
	}{HookServerURL: hookURL, SessionID: sessionID})
	if err != nil {
		return "", fmt.Errorf("marshal hook settings: %w", err)
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return "", fmt.Errorf("write hook settings: %w", err)
	}
	return path, nil
}

// sandboxedCmdFactory builds an agent.CmdFactory that constructs the
// assistant child inside a sandbox.Sandbox at the given isolation level —
// the bridge between sandbox.LevelForPermissionMode's decision and the
// agent package's process-construction hook.
func sandboxedCmdFactory(level sandbox.Level) agent.CmdFactory {
	return func(ctx context.Context, name string, args []string, dir string) (*exec.Cmd, error) {
		sb, err := sandbox.New(sandbox.Config{
			Isolation: level,
			Mounts:    []sandbox.Mount{{Source: dir, Target: dir}},
		})
		if err != nil {
			return nil, fmt.Errorf("build sandbox: %w", err)
		}
		cmd, err := sb.Exec(ctx, name, args)
		if err != nil {
			return nil, fmt.Errorf("sandbox exec: %w", err)
		}
		cmd.Dir = dir
		return cmd, nil
	}
}
