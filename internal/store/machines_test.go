package store

import (
	"testing"
	"time"

	"github.com/happy-coder/happy/internal/model"
)

func TestUpsertMachineIdentityReusesRowForSameTriple(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateAccount("acct-1"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	m1, err := s.UpsertMachineIdentity("acct-1", "daemon-run-1", "myhost", "/home/me", "linux")
	if err != nil {
		t.Fatalf("UpsertMachineIdentity: %v", err)
	}
	m2, err := s.UpsertMachineIdentity("acct-1", "daemon-run-2", "myhost", "/home/me", "linux")
	if err != nil {
		t.Fatalf("UpsertMachineIdentity (restart): %v", err)
	}
	if m1.ID != m2.ID {
		t.Fatalf("restarting the daemon with a fresh machineID for the same host/homeDir should reuse the row: %s != %s", m1.ID, m2.ID)
	}
	if m2.Version <= m1.Version {
		t.Fatalf("re-upserting should bump the version: %d -> %d", m1.Version, m2.Version)
	}
}

func TestSetMachineDaemonStateUnknownMachineErrors(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetMachineDaemonState("nope", model.DaemonOffline); err == nil {
		t.Fatal("expected an error for an unknown machine id")
	}
}

func TestSetMachineActiveSessionsRoundTrips(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateAccount("acct-1"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	m, err := s.UpsertMachineIdentity("acct-1", "daemon-1", "myhost", "/home/me", "linux")
	if err != nil {
		t.Fatalf("UpsertMachineIdentity: %v", err)
	}

	if err := s.SetMachineActiveSessions(m.ID, []string{"sess-a", "sess-b"}); err != nil {
		t.Fatalf("SetMachineActiveSessions: %v", err)
	}

	got, err := s.GetMachine(m.ID)
	if err != nil {
		t.Fatalf("GetMachine: %v", err)
	}
	if len(got.ActiveSession) != 2 || got.ActiveSession[0] != "sess-a" || got.ActiveSession[1] != "sess-b" {
		t.Fatalf("ActiveSession = %v, want [sess-a sess-b]", got.ActiveSession)
	}
}

func TestMachinesOfflineSinceFindsStaleOnlineMachines(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateAccount("acct-1"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	m, err := s.UpsertMachineIdentity("acct-1", "daemon-1", "stalehost", "/home/me", "linux")
	if err != nil {
		t.Fatalf("UpsertMachineIdentity: %v", err)
	}

	// updated_at was just set to now by UpsertMachineIdentity, so a cutoff in
	// the future should catch it as stale.
	ids, err := s.MachinesOfflineSince(time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("MachinesOfflineSince: %v", err)
	}
	found := false
	for _, id := range ids {
		if id == m.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("MachinesOfflineSince = %v, want it to include %s", ids, m.ID)
	}
}
