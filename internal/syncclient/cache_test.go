package syncclient

import (
	"testing"

	"github.com/happy-coder/happy/internal/model"
)

func TestCachePutGetRoundTrip(t *testing.T) {
	c := newCache()
	ref := model.EntityRef{Kind: model.KindSession, ID: "sess-1"}

	if _, _, ok := c.get(ref); ok {
		t.Fatal("get on an empty cache should report ok=false")
	}

	c.put(ref, 3, []byte("body"))
	version, body, ok := c.get(ref)
	if !ok || version != 3 || string(body) != "body" {
		t.Fatalf("get = (%d, %q, %v), want (3, body, true)", version, body, ok)
	}
}

func TestCacheAdvanceSeqOnlyMovesForward(t *testing.T) {
	c := newCache()
	c.advanceSeq("acct-1", 5)
	c.advanceSeq("acct-1", 3) // stale, should be ignored
	if got := c.lastSeq("acct-1"); got != 5 {
		t.Fatalf("lastSeq = %d, want 5 (a lower seq must not move it backward)", got)
	}

	c.advanceSeq("acct-1", 9)
	if got := c.lastSeq("acct-1"); got != 9 {
		t.Fatalf("lastSeq = %d, want 9", got)
	}
}

func TestCacheLastSeqDefaultsToZero(t *testing.T) {
	c := newCache()
	if got := c.lastSeq("never-seen"); got != 0 {
		t.Fatalf("lastSeq = %d, want 0", got)
	}
}
