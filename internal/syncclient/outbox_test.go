package syncclient

import (
	"errors"
	"testing"

	"github.com/happy-coder/happy/internal/errs"
	"github.com/happy-coder/happy/internal/model"
)

func TestOutboxEnqueueCoalescesSameEntity(t *testing.T) {
	ob := newOutbox()
	ref := model.EntityRef{Kind: model.KindSession, ID: "sess-1"}

	if err := ob.Enqueue(&pendingMutation{ref: ref, expectedVersion: 1, body: []byte("v1")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := ob.Enqueue(&pendingMutation{ref: ref, expectedVersion: 2, body: []byte("v2")}); err != nil {
		t.Fatalf("Enqueue (coalesce): %v", err)
	}

	snap := ob.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("len(snap) = %d, want 1", len(snap))
	}
	if string(snap[0].body) != "v2" {
		t.Fatalf("snap[0].body = %q, want v2 (last write wins)", snap[0].body)
	}
}

func TestOutboxSnapshotPreservesFIFOOrder(t *testing.T) {
	ob := newOutbox()
	refA := model.EntityRef{Kind: model.KindSession, ID: "sess-a"}
	refB := model.EntityRef{Kind: model.KindSession, ID: "sess-b"}

	ob.Enqueue(&pendingMutation{ref: refA, body: []byte("a")})
	ob.Enqueue(&pendingMutation{ref: refB, body: []byte("b")})

	snap := ob.Snapshot()
	if len(snap) != 2 || snap[0].ref != refA || snap[1].ref != refB {
		t.Fatalf("Snapshot = %+v, want [a, b] in order", snap)
	}
}

func TestOutboxRemove(t *testing.T) {
	ob := newOutbox()
	ref := model.EntityRef{Kind: model.KindSession, ID: "sess-1"}
	ob.Enqueue(&pendingMutation{ref: ref, body: []byte("v1")})
	ob.Remove(ref)

	if snap := ob.Snapshot(); len(snap) != 0 {
		t.Fatalf("Snapshot after Remove = %+v, want empty", snap)
	}
}

func TestOutboxEnqueueBackpressureWhenFull(t *testing.T) {
	ob := newOutbox()
	for i := 0; i < outboxCapacity; i++ {
		ref := model.EntityRef{Kind: model.KindSession, ID: string(rune('a' + i%26)) + string(rune(i))}
		if err := ob.Enqueue(&pendingMutation{ref: ref, body: []byte("v")}); err != nil {
			t.Fatalf("Enqueue #%d: %v", i, err)
		}
	}

	err := ob.Enqueue(&pendingMutation{ref: model.EntityRef{Kind: model.KindSession, ID: "overflow"}, body: []byte("v")})
	if err == nil {
		t.Fatal("expected Enqueue to return an error once the outbox is full")
	}
	var bp *errs.Backpressure
	if !errors.As(err, &bp) {
		t.Fatalf("err = %v, want *errs.Backpressure", err)
	}
}
