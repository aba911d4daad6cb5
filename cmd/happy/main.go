package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/happy-coder/happy/internal/config"
	"github.com/happy-coder/happy/internal/crypto"
	"github.com/happy-coder/happy/internal/daemon"
	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
	"github.com/happy-coder/happy/internal/syncclient"
	"github.com/happy-coder/happy/internal/transport"
)

// exitError carries one of spec.md §6's CLI exit codes through cobra's
// single error return — RunE callers that need a code other than 1 wrap
// their error in this instead of os.Exit'ing directly, so deferred
// cleanup still runs.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	root := &cobra.Command{
		Use:   "happy [flavor]",
		Short: "Happy Coder — attach a remote-controllable assistant session",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runOpen,
	}
	root.Flags().String("model", "", "model id override for this session")
	root.Flags().String("gemini-model", "", "Gemini model override (Gemini flavor only)")
	root.Flags().String("permission-mode", "", "permission mode: default, accept-edits, bypass-all, plan")
	root.Flags().String("working-dir", "", "working directory for the session (default: current directory)")

	root.AddCommand(daemonProxyCmd())

	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, ee.err)
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// daemonProxyCmd gives `happy daemon ...` a shorthand for the
// happy-daemon binary's subcommands, since both ship in the same release
// and a user typing `happy` muscle-memory shouldn't need to remember a
// second binary name exists.
func daemonProxyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the background daemon (alias for happy-daemon)",
	}
	cmd.AddCommand(
		&cobra.Command{Use: "start", RunE: func(cmd *cobra.Command, args []string) error { return execHappyDaemon("start") }},
		&cobra.Command{Use: "stop", RunE: func(cmd *cobra.Command, args []string) error { return execHappyDaemon("stop") }},
		&cobra.Command{Use: "status", RunE: func(cmd *cobra.Command, args []string) error { return execHappyDaemon("status") }},
	)
	return cmd
}

func execHappyDaemon(sub string) error {
	c := exec.Command("happy-daemon", sub)
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	return c.Run()
}

func runOpen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	flavor := model.FlavorClaude
	if len(args) == 1 {
		flavor = model.Flavor(args[0])
	}
	modelOverride, _ := cmd.Flags().GetString("model")
	geminiModel, _ := cmd.Flags().GetString("gemini-model")
	permMode, _ := cmd.Flags().GetString("permission-mode")
	workingDir, _ := cmd.Flags().GetString("working-dir")
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		workingDir = wd
	}

	dir, err := config.StateDir()
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	if err := config.EnsureDirs(cfg); err != nil {
		return err
	}
	if m, ok := cfg.DefaultModel[flavor]; ok && modelOverride == "" {
		modelOverride = m
	}

	st, err := ensureDaemonRunning(ctx, cfg)
	if err != nil {
		return &exitError{code: 3, err: fmt.Errorf("daemon unreachable: %w", err)}
	}

	client := transport.NewClient(st.Addr, st.Token)
	spawnCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	resp, err := client.SpawnSession(spawnCtx, transport.SpawnRequest{
		WorkingDir:     workingDir,
		Flavor:         string(flavor),
		Model:          modelOverride,
		GeminiModel:    geminiModel,
		PermissionMode: permMode,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("spawn session: %w", err)
	}
	fmt.Fprintf(os.Stderr, "session %s started (%s)\n", resp.SessionID, flavor)

	mk, err := loadMasterKeyForAttach(cfg)
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("unlock credentials: %w", err)}
	}

	ts := daemon.NewTokenStore(cfg.Dir)
	relayTok, ok, err := ts.Load()
	if err != nil || !ok {
		return &exitError{code: 2, err: fmt.Errorf("no relay token on disk; run happy-daemon start once first")}
	}

	return attach(ctx, cfg.ServerURL, relayTok.Token, resp.SessionID, mk)
}

// ensureDaemonRunning reads the daemon state file and pings it; if no
// daemon is reachable it shells out to happy-daemon start in the
// background and polls until the state file is both present and
// reachable, so `happy` alone is enough to get a session running the
// first time.
func ensureDaemonRunning(ctx context.Context, cfg *config.Config) (daemon.State, error) {
	if st, err := daemon.ReadState(cfg.DaemonStateFile()); err == nil {
		if transport.Ping(ctx, st.Addr, st.Token) {
			return st, nil
		}
	}

	logPath := cfg.LogsDir() + "/daemon-autostart.log"
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return daemon.State{}, err
	}
	c := exec.Command("happy-daemon", "start")
	c.Stdout, c.Stderr = logFile, logFile
	detach(c)
	if err := c.Start(); err != nil {
		return daemon.State{}, fmt.Errorf("start happy-daemon: %w", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if st, err := daemon.ReadState(cfg.DaemonStateFile()); err == nil {
			if transport.Ping(ctx, st.Addr, st.Token) {
				return st, nil
			}
		}
		select {
		case <-ctx.Done():
			return daemon.State{}, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return daemon.State{}, fmt.Errorf("daemon did not become reachable within 10s; see %s", logPath)
}

// loadMasterKeyForAttach unlocks the same credentials file the daemon
// uses — `happy` needs its own copy of the master key to seal/open
// message bodies on the session-scoped connection it opens for the
// attach loop below, independent of the daemon process.
func loadMasterKeyForAttach(cfg *config.Config) (crypto.MasterKey, error) {
	ks := crypto.NewKeyStore(cfg.CredentialsFile())
	_, mk, err := daemon.UnlockOrInit(ks, cfg.MasterSecretHex, "")
	return mk, err
}

// attach opens a session-scoped Sync Client connection, prints agent
// text as it arrives, and forwards stdin lines as user-text messages —
// the terminal-attached half of spec.md §4.3's local/remote control-mode
// split. It blocks until ctx is cancelled or stdin reaches EOF; the
// session itself keeps running under the daemon either way.
func attach(ctx context.Context, serverURL, token, sessionID string, mk crypto.MasterKey) error {
	scope := &protocol.ScopeRef{Kind: string(model.KindSession), ID: sessionID}
	sc := syncclient.New(serverURL, token, protocol.ConnSessionScoped, scope)
	sc.OnMessage = func(sid string, seq int64, kind model.MessageKind, localID, parentID string, body []byte) {
		if kind != model.MessageAgentText {
			return
		}
		plain, err := mk.Open(body)
		if err != nil {
			return
		}
		var p model.AgentTextPayload
		if json.Unmarshal(plain, &p) == nil {
			fmt.Println(p.Text)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- sc.Run(runCtx) }()

	for deadline := time.Now().Add(5 * time.Second); !sc.Connected(); {
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out connecting to relay")
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err := sc.SubscribeMessages(runCtx, sessionID); err != nil {
		return fmt.Errorf("subscribe to session messages: %w", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-runCtx.Done():
			return nil
		case err := <-errCh:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			body, err := json.Marshal(model.UserTextPayload{Text: line})
			if err != nil {
				continue
			}
			sealed, err := mk.Seal(body)
			if err != nil {
				continue
			}
			if _, _, err := sc.PublishMessage(runCtx, sessionID, model.MessageUserText, "", sealed); err != nil {
				fmt.Fprintln(os.Stderr, "publish user text:", err)
			}
		}
	}
}
