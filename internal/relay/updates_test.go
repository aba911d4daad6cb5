package relay

import (
	"encoding/json"
	"testing"

	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
)

func seedAccountAndMachine(t *testing.T, srv *Server) (accountID, machineID string) {
	t.Helper()
	accountID = "acct-1"
	if _, err := srv.Store.CreateAccount(accountID); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	m, err := srv.Store.UpsertMachineIdentity(accountID, "machine-1", "myhost", "/home/me", "linux")
	if err != nil {
		t.Fatalf("UpsertMachineIdentity: %v", err)
	}
	return accountID, m.ID
}

func TestHandlePublishUpdateAcksAndFansOutExcludingPublisher(t *testing.T) {
	st := openTestStore(t)
	srv := NewServer(st, []byte("test-secret"))
	accountID, machineID := seedAccountAndMachine(t, srv)

	scope := model.Scope{Kind: model.KindSession, ID: "sess-1"}
	publisher := newConnection("publisher", protocol.ConnSessionScoped, accountID, nil)
	publisher.MachineID = machineID
	other := newConnection("other", protocol.ConnSessionScoped, accountID, nil)
	srv.Conns.Add(publisher)
	srv.Conns.Add(other)
	srv.Conns.Subscribe(publisher, scope)
	srv.Conns.Subscribe(other, scope)

	req, err := json.Marshal(protocol.Update{
		Type:      protocol.TypeUpdate,
		EntityRef: protocol.ScopeRef{Kind: "session", ID: "sess-1"},
		LocalID:   "local-1",
		Body:      []byte("body-v1"),
	})
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}
	srv.handlePublishUpdate(publisher, req)

	ackFrame := drainOne(t, publisher)
	var ack protocol.UpdateAck
	if err := json.Unmarshal(ackFrame, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.LocalID != "local-1" || ack.NewVersion != 1 {
		t.Fatalf("ack = %+v, want localId=local-1, newVersion=1", ack)
	}

	fanFrame := drainOne(t, other)
	var upd protocol.Update
	if err := json.Unmarshal(fanFrame, &upd); err != nil {
		t.Fatalf("unmarshal fanned-out update: %v", err)
	}
	if string(upd.Body) != "body-v1" || upd.Version != 1 {
		t.Fatalf("fanned-out update = %+v, want body-v1 at version 1", upd)
	}
	assertNoFrame(t, publisher)
}

func TestHandlePublishUpdateRejectsVersionMismatch(t *testing.T) {
	st := openTestStore(t)
	srv := NewServer(st, []byte("test-secret"))
	accountID, machineID := seedAccountAndMachine(t, srv)
	if _, err := st.UpsertSessionBody(accountID, machineID, "sess-1", 0, []byte("v1")); err != nil {
		t.Fatalf("seed UpsertSessionBody: %v", err)
	}

	publisher := newConnection("publisher", protocol.ConnSessionScoped, accountID, nil)
	publisher.MachineID = machineID

	stale := int64(0)
	req, err := json.Marshal(protocol.Update{
		Type:            protocol.TypeUpdate,
		EntityRef:       protocol.ScopeRef{Kind: "session", ID: "sess-1"},
		ExpectedVersion: &stale,
		LocalID:         "local-2",
		Body:            []byte("conflicting-write"),
	})
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}
	srv.handlePublishUpdate(publisher, req)

	got := drainOne(t, publisher)
	var reject protocol.UpdateReject
	if err := json.Unmarshal(got, &reject); err != nil {
		t.Fatalf("unmarshal reject: %v", err)
	}
	if reject.Reason != protocol.ReasonVersionMismatch || reject.CurrentVersion == nil || *reject.CurrentVersion != 1 {
		t.Fatalf("reject = %+v, want version-mismatch at current version 1", reject)
	}
}

func TestHandleSubscribeReplaysUpdatesSinceCursor(t *testing.T) {
	st := openTestStore(t)
	srv := NewServer(st, []byte("test-secret"))
	accountID, machineID := seedAccountAndMachine(t, srv)

	ref := model.EntityRef{Kind: model.KindSession, ID: "sess-1"}
	if _, err := st.AppendUpdate(accountID, ref, 1, []byte("v1"), machineID, "l1"); err != nil {
		t.Fatalf("AppendUpdate: %v", err)
	}
	if _, err := st.AppendUpdate(accountID, ref, 2, []byte("v2"), machineID, "l2"); err != nil {
		t.Fatalf("AppendUpdate: %v", err)
	}

	c := newConnection("c1", protocol.ConnSessionScoped, accountID, nil)
	srv.Conns.Add(c)

	since := int64(0)
	req, err := json.Marshal(protocol.Subscribe{
		Type:     protocol.TypeSubscribe,
		Scope:    protocol.ScopeRef{Kind: "session", ID: "sess-1"},
		SinceSeq: &since,
	})
	if err != nil {
		t.Fatalf("marshal subscribe: %v", err)
	}
	srv.handleSubscribe(c, req)

	first := drainOne(t, c)
	var upd1 protocol.Update
	if err := json.Unmarshal(first, &upd1); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(upd1.Body) != "v1" {
		t.Fatalf("first replayed update = %+v, want v1", upd1)
	}
	second := drainOne(t, c)
	var upd2 protocol.Update
	if err := json.Unmarshal(second, &upd2); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(upd2.Body) != "v2" {
		t.Fatalf("second replayed update = %+v, want v2", upd2)
	}
	assertNoFrame(t, c)
}

func TestHandleSubscribeSignalsResyncRequiredBelowRetentionHorizon(t *testing.T) {
	st := openTestStore(t)
	srv := NewServer(st, []byte("test-secret"))
	accountID, _ := seedAccountAndMachine(t, srv)

	ref := model.EntityRef{Kind: model.KindSession, ID: "sess-1"}
	if _, err := st.AppendUpdate(accountID, ref, 1, []byte("v1"), "d", "l1"); err != nil {
		t.Fatalf("AppendUpdate: %v", err)
	}
	if _, err := st.AppendUpdate(accountID, ref, 2, []byte("v2"), "d", "l2"); err != nil {
		t.Fatalf("AppendUpdate: %v", err)
	}
	if _, err := st.AppendUpdate(accountID, ref, 3, []byte("v3"), "d", "l3"); err != nil {
		t.Fatalf("AppendUpdate: %v", err)
	}
	// Simulate retention having dropped everything up to and including seq 1,
	// leaving the oldest retained seq at 2 — a subscriber still parked at
	// seq 0 has fallen off the retention horizon.
	if _, err := st.DB().Exec(`DELETE FROM updates WHERE account_id = ? AND seq <= 1`, accountID); err != nil {
		t.Fatalf("simulate prune: %v", err)
	}

	c := newConnection("c1", protocol.ConnSessionScoped, accountID, nil)
	srv.Conns.Add(c)

	since := int64(0)
	req, err := json.Marshal(protocol.Subscribe{
		Type:     protocol.TypeSubscribe,
		Scope:    protocol.ScopeRef{Kind: "session", ID: "sess-1"},
		SinceSeq: &since,
	})
	if err != nil {
		t.Fatalf("marshal subscribe: %v", err)
	}
	srv.handleSubscribe(c, req)

	got := drainOne(t, c)
	var resync protocol.ResyncRequired
	if err := json.Unmarshal(got, &resync); err != nil {
		t.Fatalf("unmarshal resync-required: %v", err)
	}
	if resync.Scope.ID != "sess-1" {
		t.Fatalf("resync = %+v, want scope sess-1", resync)
	}
}
