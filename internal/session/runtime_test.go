package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/happy-coder/happy/internal/crypto"
	"github.com/happy-coder/happy/internal/hookserver"
	"github.com/happy-coder/happy/internal/model"
)

func testRuntime(t *testing.T) *Runtime {
	t.Helper()
	mk, err := crypto.DeriveMasterKey([]byte("test secret"), "acct-1")
	if err != nil {
		t.Fatalf("DeriveMasterKey: %v", err)
	}
	rt := NewRuntime(RuntimeConfig{
		MasterKey:  mk,
		WorkingDir: "/tmp/work",
		Flavor:     model.FlavorClaude,
	})
	rt.meta = model.SessionMetadata{Model: "claude-sonnet-4"}
	return rt
}

func TestRuntimeAccessors(t *testing.T) {
	rt := testRuntime(t)
	if rt.WorkingDir() != "/tmp/work" {
		t.Fatalf("WorkingDir() = %q, want /tmp/work", rt.WorkingDir())
	}
	if rt.Flavor() != model.FlavorClaude {
		t.Fatalf("Flavor() = %v, want %v", rt.Flavor(), model.FlavorClaude)
	}
	rt.mu.Lock()
	rt.meta.Lifecycle = model.LifecycleRunning
	rt.mu.Unlock()
	if rt.Lifecycle() != model.LifecycleRunning {
		t.Fatalf("Lifecycle() = %v, want %v", rt.Lifecycle(), model.LifecycleRunning)
	}

	select {
	case <-rt.Done():
		t.Fatal("Done() channel should not be closed before onChildExit runs")
	default:
	}
}

func TestOnMessageDecryptsAndEnqueuesUserText(t *testing.T) {
	rt := testRuntime(t)

	plain, err := json.Marshal(model.UserTextPayload{Text: "hello from another device"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	sealed, err := rt.cfg.MasterKey.Seal(plain)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	rt.onMessage(rt.sessionID, 1, model.MessageUserText, "local-1", "", sealed)

	select {
	case batch := <-rt.pump.Batches():
		t.Fatalf("unexpected early batch %+v before Flush", batch)
	case <-time.After(50 * time.Millisecond):
	}

	rt.pump.Flush()
	select {
	case batch := <-rt.pump.Batches():
		if len(batch.Messages) != 1 || batch.Messages[0].Text != "hello from another device" {
			t.Fatalf("batch = %+v, want one message with the decrypted text", batch)
		}
		if !batch.Messages[0].AlreadyPublished {
			t.Fatal("a message arriving via onMessage must be marked AlreadyPublished")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the enqueued batch")
	}
}

func TestOnMessageIgnoresNonUserTextKinds(t *testing.T) {
	rt := testRuntime(t)
	rt.onMessage(rt.sessionID, 1, model.MessageAgentText, "local-1", "", []byte("irrelevant"))

	select {
	case batch := <-rt.pump.Batches():
		t.Fatalf("unexpected batch for a non-user-text message: %+v", batch)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOnMessageIgnoresBodySealedUnderADifferentKey(t *testing.T) {
	rt := testRuntime(t)
	otherKey, err := crypto.DeriveMasterKey([]byte("different secret"), "acct-2")
	if err != nil {
		t.Fatalf("DeriveMasterKey: %v", err)
	}
	sealed, err := otherKey.Seal([]byte(`{"text":"should not decrypt"}`))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	rt.onMessage(rt.sessionID, 1, model.MessageUserText, "local-1", "", sealed)

	select {
	case batch := <-rt.pump.Batches():
		t.Fatalf("expected no batch for a message this runtime can't decrypt: %+v", batch)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEnqueueUserTextStampsCurrentFingerprint(t *testing.T) {
	rt := testRuntime(t)
	rt.EnqueueUserText("do the thing")
	rt.pump.Flush()

	batch := <-rt.pump.Batches()
	if len(batch.Messages) != 1 || batch.Messages[0].Text != "do the thing" {
		t.Fatalf("batch = %+v", batch)
	}
	if batch.Fingerprint != FingerprintFromMetadata(rt.meta) {
		t.Fatal("EnqueueUserText should stamp the message with the current metadata fingerprint")
	}
	if batch.Messages[0].AlreadyPublished {
		t.Fatal("a locally-entered message must not be marked AlreadyPublished")
	}
}

func TestHandlePermissionRPCResolvesWaitingRequest(t *testing.T) {
	rt := testRuntime(t)

	decided := make(chan hookserver.Decision, 1)
	go func() { decided <- rt.perms.Request(context.Background(), "req-1") }()
	time.Sleep(10 * time.Millisecond)

	req, err := json.Marshal(processPermissionRequestBody{RequestID: "req-1", Decision: hookserver.DecisionAllow})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := rt.handlePermissionRPC(context.Background(), req)
	if err != nil {
		t.Fatalf("handlePermissionRPC: %v", err)
	}
	var ok struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(resp, &ok); err != nil || !ok.OK {
		t.Fatalf("handlePermissionRPC response = %s, err %v", resp, err)
	}

	select {
	case d := <-decided:
		if d != hookserver.DecisionAllow {
			t.Fatalf("decision = %v, want allow", d)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the permission request to resolve")
	}
}
