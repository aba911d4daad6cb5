package relay

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/happy-coder/happy/internal/logger"
	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
)

// Machine identity and heartbeat are cleartext control-plane calls, not
// optimistic-concurrency writes — the relay is authoritative over a
// Machine's presence bits (spec.md §3), so there is no version-conflict
// dance here the way there is for handlePublishUpdate's Session writes.
// Every state change still rides the same update log and fanout path
// those writes do, via publishMachine below, so subscribers observe it.

type identityRequest struct {
	Hostname string `json:"hostname"`
	HomeDir  string `json:"homeDir"`
	OS       string `json:"os"`
}

// handleMachineIdentity resolves "create Machine entity on first run"
// (spec.md §4.3's session start sequence, step 1): the daemon presents its
// bearer token plus host info, and the relay upserts by the
// (account, hostname, homeDir) identity key.
func (s *Server) handleMachineIdentity(w http.ResponseWriter, r *http.Request) {
	accountID, machineID, err := s.bearerAccount(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	m, err := s.Store.UpsertMachineIdentity(accountID, machineID, req.Hostname, req.HomeDir, req.OS)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.publishMachine(m)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m)
}

type heartbeatRequest struct {
	ActiveSessions []string `json:"activeSessions"`
}

// handleMachineHeartbeat is the daemon's periodic heartbeat call (spec.md
// §4.3). It records the reported activeSessions, which also refreshes the
// row's updated_at that the offline sweep reads. It does not change
// daemonState: a machine the sweep has marked offline stays offline until
// its daemon calls /machine/identity again.
func (s *Server) handleMachineHeartbeat(w http.ResponseWriter, r *http.Request) {
	_, machineID, err := s.bearerAccount(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.Store.SetMachineActiveSessions(machineID, req.ActiveSessions); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.publishMachineUpdate(machineID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) bearerAccount(r *http.Request) (accountID, machineID string, err error) {
	return s.Store.ValidateToken(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
}

// publishMachineUpdate re-reads a Machine row and fans it out on the
// update log, the same delivery path handlePublishUpdate uses for
// Sessions — so a subscriber to a machine's scope observes presence and
// activeSessions changes the instant the relay applies them (spec.md §3,
// §8 invariant 5), even though the write itself bypasses the
// optimistic-concurrency dance Sessions go through.
func (s *Server) publishMachineUpdate(machineID string) {
	m, err := s.Store.GetMachine(machineID)
	if err != nil {
		logger.Error("reload machine for fanout", "err", err, "machine", machineID)
		return
	}
	if m == nil {
		return
	}
	s.publishMachine(m)
}

func (s *Server) publishMachine(m *model.Machine) {
	body, err := json.Marshal(m)
	if err != nil {
		logger.Error("marshal machine body", "err", err, "machine", m.ID)
		return
	}
	ref := m.Ref()
	seq, err := s.Store.AppendUpdate(m.AccountID, ref, m.Version, body, "relay", "")
	if err != nil {
		logger.Error("append machine update", "err", err, "machine", m.ID)
		return
	}
	frame, err := json.Marshal(protocol.Update{
		Type:      protocol.TypeUpdate,
		EntityRef: protocol.ScopeRef{Kind: string(ref.Kind), ID: ref.ID},
		Version:   m.Version,
		Seq:       &seq,
		Producer:  "relay",
		Body:      body,
	})
	if err != nil {
		logger.Error("marshal machine update frame", "err", err, "machine", m.ID)
		return
	}
	s.Conns.Fanout(ref.Scope(), frame, "")
}
