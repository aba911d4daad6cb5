// Package daemon is the per-user background process spec.md §4.3
// describes: it owns the local control socket, supervises one
// session.Runtime per spawned session, sends machine heartbeats, and
// watches for a newer installed version. Grounded on the teacher's
// internal/daemon/daemon.go (Run(cfg) orchestration, signal handling with
// a grace-period sleep, recoverInterrupted-style startup sweep) and
// cmd/wtd/main.go (ListenAndServe-as-goroutine plus select-on-signals).
package daemon

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/happy-coder/happy/internal/config"
	"github.com/happy-coder/happy/internal/crypto"
	"github.com/happy-coder/happy/internal/logger"
	"github.com/happy-coder/happy/internal/session"
	"github.com/happy-coder/happy/internal/syncclient"
	"github.com/happy-coder/happy/internal/transport"
)

const heartbeatInterval = 10 * time.Second

// Version is the daemon's own build version, compared against the
// version-on-disk file by the self-update watcher. Overridden at build
// time via -ldflags in a real release; "dev" otherwise.
var Version = "dev"

// Daemon is the running process's state: everything Run sets up and
// everything the transport Server's Controller interface dispatches to.
type Daemon struct {
	cfg       *config.Config
	mk        crypto.MasterKey
	accountID string
	relayTok  string
	localTok  string

	hostname string
	homeDir  string
	osName   string

	mu       sync.Mutex
	sessions map[string]*session.Runtime
	restart  bool

	lock         *Lock
	transportSrv *transport.Server
	cancel       context.CancelFunc
	startedAt    time.Time
}

// Run resolves credentials, binds the control socket, and blocks until a
// shutdown signal or control RPC tells it to stop.
func Run(cfg *config.Config) error {
	if err := config.EnsureDirs(cfg); err != nil {
		return fmt.Errorf("ensure state dirs: %w", err)
	}

	lock, err := AcquireLock(cfg.Dir)
	if err != nil {
		return err
	}
	defer lock.Release()

	hostname, _ := os.Hostname()
	homeDir, _ := os.UserHomeDir()

	d := &Daemon{
		cfg:      cfg,
		hostname: hostname,
		homeDir:  homeDir,
		osName:   runtimeOS(),
		sessions: map[string]*session.Runtime{},
		lock:     lock,
	}

	if err := d.loadCredentials(); err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	defer cancel()

	if err := d.loadOrPairRelayToken(ctx); err != nil {
		return fmt.Errorf("pair with relay: %w", err)
	}

	localTok, err := randomToken()
	if err != nil {
		return fmt.Errorf("generate local control token: %w", err)
	}
	d.localTok = localTok

	d.transportSrv = transport.NewServer(d, localTok)
	addr, err := d.transportSrv.Start()
	if err != nil {
		return fmt.Errorf("start control socket: %w", err)
	}

	startedAt := time.Now().UTC()
	d.startedAt = startedAt
	if err := WriteState(cfg.DaemonStateFile(), State{
		PID:       os.Getpid(),
		Addr:      addr,
		Token:     localTok,
		Version:   Version,
		StartedAt: startedAt,
	}); err != nil {
		return fmt.Errorf("write daemon state: %w", err)
	}
	defer RemoveState(cfg.DaemonStateFile())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go d.heartbeatLoop(ctx)
	go d.runMachineSync(ctx)
	go watchSelfUpdate(ctx, cfg.Dir+"/VERSION", Version, d.onNewerVersionAvailable)

	logger.Info("happy daemon started", "dir", cfg.Dir, "addr", addr)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("shutdown requested over control socket")
	}

	d.shutdownAllSessions()
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = d.transportSrv.Shutdown(shutCtx)

	if d.restart {
		logger.Info("exiting for self-update restart; supervisor should relaunch")
	}
	return nil
}

func (d *Daemon) loadCredentials() error {
	ks := crypto.NewKeyStore(d.cfg.CredentialsFile())
	accountID, mk, err := UnlockOrInit(ks, d.cfg.MasterSecretHex, d.accountID)
	if err != nil {
		return err
	}
	d.accountID = accountID
	d.mk = mk
	return nil
}

func (d *Daemon) loadOrPairRelayToken(ctx context.Context) error {
	ts := NewTokenStore(d.cfg.Dir)
	if rt, ok, err := ts.Load(); err != nil {
		return err
	} else if ok {
		d.relayTok = rt.Token
		if d.accountID == "" {
			d.accountID = rt.AccountID
		}
		return nil
	}

	baseURL := httpBaseURL(d.cfg.ServerURL)
	tr, err := pairDevice(ctx, baseURL, d.hostname+"/"+d.homeDir)
	if err != nil {
		return err
	}
	d.relayTok = tr.Token
	d.accountID = tr.AccountID
	return ts.Save(RelayToken{Token: tr.Token, AccountID: tr.AccountID})
}

func (d *Daemon) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := d.activeSessionIDs()
			if err := syncclient.Heartbeat(ctx, d.cfg.ServerURL, d.relayTok, active); err != nil {
				logger.Error("heartbeat", "err", err)
			}
		}
	}
}

func (d *Daemon) activeSessionIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	return ids
}

// onNewerVersionAvailable schedules a graceful restart: it refuses new
// spawnSession calls (see SpawnSession) and shuts the daemon down once
// every active session has exited on its own, per spec.md §4.3.
func (d *Daemon) onNewerVersionAvailable(newVersion string) {
	logger.Info("newer version detected on disk, scheduling restart once idle", "current", Version, "available", newVersion)
	d.mu.Lock()
	d.restart = true
	empty := len(d.sessions) == 0
	d.mu.Unlock()
	if empty {
		d.cancel()
	}
}

func (d *Daemon) shutdownAllSessions() {
	d.mu.Lock()
	sessions := make([]*session.Runtime, 0, len(d.sessions))
	for _, rt := range d.sessions {
		sessions = append(sessions, rt)
	}
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, rt := range sessions {
		wg.Add(1)
		go func(rt *session.Runtime) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			rt.Stop(ctx)
		}(rt)
	}
	wg.Wait()
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func httpBaseURL(serverURL string) string {
	base := serverURL
	base = trimSuffix(base, "/ws")
	base = replacePrefix(base, "wss://", "https://")
	base = replacePrefix(base, "ws://", "http://")
	return base
}

func trimSuffix(s, suffix string) string {
	if len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)]
	}
	return s
}

func replacePrefix(s, prefix, replacement string) string {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return replacement + s[len(prefix):]
	}
	return s
}

func runtimeOS() string {
	return runtime.GOOS
}
