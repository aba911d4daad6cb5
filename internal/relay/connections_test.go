package relay

import (
	"testing"
	"time"

	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
)

func drainOne(t *testing.T, c *Connection) []byte {
	t.Helper()
	select {
	case frame := <-c.sendCh:
		return frame
	case <-time.After(time.Second):
		t.Fatalf("connection %s received nothing", c.ID)
		return nil
	}
}

func assertNoFrame(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case frame := <-c.sendCh:
		t.Fatalf("connection %s unexpectedly received a frame: %s", c.ID, frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFanoutExcludesPublisher(t *testing.T) {
	table := NewConnTable()
	publisher := newConnection("publisher", protocol.ConnSessionScoped, "acct-1", nil)
	other := newConnection("other", protocol.ConnSessionScoped, "acct-1", nil)
	table.Add(publisher)
	table.Add(other)

	scope := model.Scope{Kind: model.KindSession, ID: "sess-1"}
	table.Subscribe(publisher, scope)
	table.Subscribe(other, scope)

	frame := []byte(`{"type":"message-append"}`)
	table.Fanout(scope, frame, publisher.ID)

	assertNoFrame(t, publisher)
	if got := drainOne(t, other); string(got) != string(frame) {
		t.Fatalf("other connection got %s, want %s", got, frame)
	}
}

func TestFanoutOnlyReachesSubscribedScope(t *testing.T) {
	table := NewConnTable()
	c := newConnection("c1", protocol.ConnSessionScoped, "acct-1", nil)
	table.Add(c)
	table.Subscribe(c, model.Scope{Kind: model.KindSession, ID: "sess-1"})

	table.Fanout(model.Scope{Kind: model.KindSession, ID: "sess-2"}, []byte("frame"), "")
	assertNoFrame(t, c)
}

func TestRegisterRPCHandlerLatestWins(t *testing.T) {
	table := NewConnTable()
	first := newConnection("first", protocol.ConnSessionScoped, "acct-1", nil)
	second := newConnection("second", protocol.ConnSessionScoped, "acct-1", nil)
	scope := model.Scope{Kind: model.KindSession, ID: "sess-1"}

	table.RegisterRPCHandler(scope, "doThing", first)
	table.RegisterRPCHandler(scope, "doThing", second)

	if got := table.LookupRPCHandler(scope, "doThing"); got != second {
		t.Fatalf("LookupRPCHandler = %v, want the most recently registered handler", got)
	}
}

func TestRemoveClearsSubscriptionsAndHandlers(t *testing.T) {
	table := NewConnTable()
	c := newConnection("c1", protocol.ConnSessionScoped, "acct-1", nil)
	table.Add(c)
	scope := model.Scope{Kind: model.KindSession, ID: "sess-1"}
	table.Subscribe(c, scope)
	table.RegisterRPCHandler(scope, "doThing", c)

	table.Remove(c)

	if table.LookupRPCHandler(scope, "doThing") != nil {
		t.Fatal("expected the RPC handler registration to be cleared on Remove")
	}

	other := newConnection("other", protocol.ConnSessionScoped, "acct-1", nil)
	table.Add(other)
	table.Subscribe(other, scope)
	table.Fanout(scope, []byte("frame"), "")
	if got := drainOne(t, other); string(got) != "frame" {
		t.Fatalf("other = %s, want frame", got)
	}
}
