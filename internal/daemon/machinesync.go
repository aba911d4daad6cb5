package daemon

import (
	"context"
	"encoding/json"

	"github.com/happy-coder/happy/internal/logger"
	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
	"github.com/happy-coder/happy/internal/syncclient"
)

// runMachineSync keeps a machine-scoped Sync Client connection open so the
// daemon observes its own Machine entity's state as the relay applies it —
// handleMachineHeartbeat and the offline sweep (internal/relay/machine.go,
// internal/relay/sweep.go) both fan updates out on this scope. It runs
// alongside heartbeatLoop for the process lifetime and reconnects on its
// own per syncclient's backoff loop.
func (d *Daemon) runMachineSync(ctx context.Context) {
	sc := syncclient.New(d.cfg.ServerURL, d.relayTok, protocol.ConnMachineScoped, nil)
	sc.OnUpdate = d.onMachineUpdate
	if err := sc.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("machine sync client stopped", "err", err)
	}
}

func (d *Daemon) onMachineUpdate(ref model.EntityRef, version int64, body []byte) {
	if ref.Kind != model.KindMachine {
		return
	}
	var m model.Machine
	if err := json.Unmarshal(body, &m); err != nil {
		logger.Error("unmarshal machine update", "err", err)
		return
	}
	logger.Info("machine state observed", "daemonState", m.DaemonState, "activeSessions", len(m.ActiveSession), "version", version)
	if m.DaemonState == model.DaemonOffline {
		logger.Warn("relay marked this machine offline while the daemon is running; heartbeat may be lagging")
	}
}
