package relay

import (
	"context"
	"time"

	"github.com/happy-coder/happy/internal/logger"
	"github.com/happy-coder/happy/internal/model"
)

const (
	offlineSweepInterval = 30 * time.Second
	heartbeatTimeout     = 90 * time.Second
)

// RunOfflineSweep periodically flips machines whose heartbeat has gone
// quiet to offline — spec.md §8 invariant 5 ("A session whose CLI daemon
// is killed -9 eventually transitions to machine-offline"). It blocks
// until ctx is cancelled; cmd/happy-relay runs it as a goroutine
// alongside the HTTP server.
func (s *Server) RunOfflineSweep(ctx context.Context) {
	ticker := time.NewTicker(offlineSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Server) sweepOnce() {
	ids, err := s.Store.MachinesOfflineSince(time.Now().Add(-heartbeatTimeout))
	if err != nil {
		logger.Error("offline sweep query", "err", err)
		return
	}
	for _, id := range ids {
		if err := s.Store.SetMachineDaemonState(id, model.DaemonOffline); err != nil {
			logger.Error("offline sweep transition", "err", err, "machine", id)
			continue
		}
		s.publishMachineUpdate(id)
	}
}
