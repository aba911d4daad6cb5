package syncclient

import (
	"encoding/json"
	"testing"

	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
)

func newTestClient() *Client {
	return New("wss://relay.example/ws", "test-token", protocol.ConnSessionScoped, nil)
}

func TestApplyUpdateStoresInCacheAndInvokesHandler(t *testing.T) {
	c := newTestClient()
	c.accountID = "acct-1"

	var gotRef model.EntityRef
	var gotVersion int64
	var gotBody []byte
	c.OnUpdate = func(ref model.EntityRef, version int64, body []byte) {
		gotRef, gotVersion, gotBody = ref, version, body
	}

	seq := int64(5)
	frame, err := json.Marshal(protocol.Update{
		Type:      protocol.TypeUpdate,
		EntityRef: protocol.ScopeRef{Kind: "session", ID: "sess-1"},
		Version:   2,
		Seq:       &seq,
		Producer:  "some-other-connection",
		Body:      []byte("updated-body"),
	})
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}
	c.applyUpdate(frame)

	if gotRef.ID != "sess-1" || gotVersion != 2 || string(gotBody) != "updated-body" {
		t.Fatalf("OnUpdate got (%+v, %d, %q)", gotRef, gotVersion, gotBody)
	}
	version, body, ok := c.cache.get(model.EntityRef{Kind: model.KindSession, ID: "sess-1"})
	if !ok || version != 2 || string(body) != "updated-body" {
		t.Fatalf("cache.get = (%d, %q, %v), want (2, updated-body, true)", version, body, ok)
	}
	if c.cache.lastSeq("acct-1") != 5 {
		t.Fatalf("lastSeq = %d, want 5", c.cache.lastSeq("acct-1"))
	}
}

func TestApplyUpdateDropsOwnEchoButStillAdvancesSeq(t *testing.T) {
	c := newTestClient()
	c.accountID = "acct-1"
	c.connectionID = "conn-self"

	called := false
	c.OnUpdate = func(model.EntityRef, int64, []byte) { called = true }

	seq := int64(9)
	frame, err := json.Marshal(protocol.Update{
		Type:      protocol.TypeUpdate,
		EntityRef: protocol.ScopeRef{Kind: "session", ID: "sess-1"},
		Version:   3,
		Seq:       &seq,
		Producer:  "conn-self",
		Body:      []byte("self-echo"),
	})
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}
	c.applyUpdate(frame)

	if called {
		t.Fatal("OnUpdate should not fire for this client's own echoed write")
	}
	if c.cache.lastSeq("acct-1") != 9 {
		t.Fatalf("lastSeq = %d, want 9 (cursor still advances on a self-echo)", c.cache.lastSeq("acct-1"))
	}
	if _, _, ok := c.cache.get(model.EntityRef{Kind: model.KindSession, ID: "sess-1"}); ok {
		t.Fatal("a self-echo should not be written into the cache")
	}
}

func TestApplyEphemeralInvokesHandler(t *testing.T) {
	c := newTestClient()
	var gotScope model.Scope
	var gotKind string
	c.OnEphemeral = func(scope model.Scope, kind string, payload []byte) {
		gotScope, gotKind = scope, kind
	}

	frame, err := json.Marshal(protocol.Ephemeral{Type: protocol.TypeEphemeral, Scope: protocol.ScopeRef{Kind: "session", ID: "sess-1"}, Kind: "typing"})
	if err != nil {
		t.Fatalf("marshal ephemeral: %v", err)
	}
	c.applyEphemeral(frame)

	if gotScope.ID != "sess-1" || gotKind != "typing" {
		t.Fatalf("OnEphemeral got (%+v, %q)", gotScope, gotKind)
	}
}

func TestHandleResyncRequiredInvokesOnResync(t *testing.T) {
	c := newTestClient()
	var gotScope model.Scope
	c.OnResync = func(scope model.Scope) { gotScope = scope }

	frame, err := json.Marshal(protocol.ResyncRequired{Type: protocol.TypeResyncRequired, Scope: protocol.ScopeRef{Kind: "session", ID: "sess-1"}, MinSeq: 42})
	if err != nil {
		t.Fatalf("marshal resync-required: %v", err)
	}
	c.handleResyncRequired(frame)

	if gotScope.ID != "sess-1" {
		t.Fatalf("OnResync got scope %+v, want sess-1", gotScope)
	}
}

func TestHandlePublishOutcomeAckResolvesWaiter(t *testing.T) {
	c := newTestClient()
	ch := make(chan publishOutcome, 1)
	c.pubMu.Lock()
	c.pending["local-1"] = ch
	c.pubMu.Unlock()

	frame, err := json.Marshal(protocol.UpdateAck{Type: protocol.TypeUpdateAck, LocalID: "local-1", Seq: 7, NewVersion: 3})
	if err != nil {
		t.Fatalf("marshal ack: %v", err)
	}
	c.handlePublishOutcome(frame, protocol.TypeUpdateAck)

	select {
	case outcome := <-ch:
		if !outcome.ok || outcome.newVersion != 3 || outcome.seq != 7 {
			t.Fatalf("outcome = %+v, want ok newVersion=3 seq=7", outcome)
		}
	default:
		t.Fatal("expected the pending publish channel to receive an outcome")
	}
}

func TestHandlePublishOutcomeRejectCarriesCurrentState(t *testing.T) {
	c := newTestClient()
	ch := make(chan publishOutcome, 1)
	c.pubMu.Lock()
	c.pending["local-2"] = ch
	c.pubMu.Unlock()

	cur := int64(4)
	frame, err := json.Marshal(protocol.UpdateReject{
		Type: protocol.TypeUpdateReject, LocalID: "local-2",
		Reason: protocol.ReasonVersionMismatch, CurrentVersion: &cur, CurrentBody: []byte("server-state"),
	})
	if err != nil {
		t.Fatalf("marshal reject: %v", err)
	}
	c.handlePublishOutcome(frame, protocol.TypeUpdateReject)

	outcome := <-ch
	if !outcome.rejected || outcome.currentVersion != 4 || string(outcome.currentBody) != "server-state" {
		t.Fatalf("outcome = %+v, want rejected with currentVersion=4", outcome)
	}
}
