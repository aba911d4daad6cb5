package store

import (
	"testing"
	"time"

	"github.com/happy-coder/happy/internal/model"
)

func TestAppendUpdateAssignsIncreasingSeq(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateAccount("acct-1"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	ref := model.EntityRef{Kind: model.KindSession, ID: "sess-1"}

	seq1, err := s.AppendUpdate("acct-1", ref, 1, []byte("v1"), "daemon-1", "local-1")
	if err != nil {
		t.Fatalf("AppendUpdate: %v", err)
	}
	seq2, err := s.AppendUpdate("acct-1", ref, 2, []byte("v2"), "daemon-1", "local-2")
	if err != nil {
		t.Fatalf("AppendUpdate: %v", err)
	}
	if seq1 != 1 || seq2 != 2 {
		t.Fatalf("seq1, seq2 = %d, %d, want 1, 2", seq1, seq2)
	}
}

func TestAppendUpdateDuplicateLocalIDIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateAccount("acct-1"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	ref := model.EntityRef{Kind: model.KindSession, ID: "sess-1"}

	seq1, err := s.AppendUpdate("acct-1", ref, 1, []byte("v1"), "daemon-1", "retry-me")
	if err != nil {
		t.Fatalf("AppendUpdate: %v", err)
	}
	seq2, err := s.AppendUpdate("acct-1", ref, 1, []byte("v1"), "daemon-1", "retry-me")
	if err != nil {
		t.Fatalf("AppendUpdate (retry): %v", err)
	}
	if seq1 != seq2 {
		t.Fatalf("retried append with the same localId should return the same seq: %d != %d", seq1, seq2)
	}

	latest, err := s.LatestSeq("acct-1")
	if err != nil {
		t.Fatalf("LatestSeq: %v", err)
	}
	if latest != 1 {
		t.Fatalf("LatestSeq = %d, want 1 (no second row should have been appended)", latest)
	}
}

func TestUpdatesSinceFiltersByScope(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateAccount("acct-1"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	refA := model.EntityRef{Kind: model.KindSession, ID: "sess-a"}
	refB := model.EntityRef{Kind: model.KindSession, ID: "sess-b"}

	if _, err := s.AppendUpdate("acct-1", refA, 1, []byte("a"), "d", ""); err != nil {
		t.Fatalf("AppendUpdate: %v", err)
	}
	if _, err := s.AppendUpdate("acct-1", refB, 1, []byte("b"), "d", ""); err != nil {
		t.Fatalf("AppendUpdate: %v", err)
	}

	scope := model.Scope{Kind: refA.Kind, ID: refA.ID}
	rows, err := s.UpdatesSince("acct-1", 0, &scope, 10)
	if err != nil {
		t.Fatalf("UpdatesSince: %v", err)
	}
	if len(rows) != 1 || rows[0].Ref.ID != "sess-a" {
		t.Fatalf("UpdatesSince(scope=sess-a) = %+v, want just sess-a", rows)
	}

	all, err := s.UpdatesSince("acct-1", 0, nil, 10)
	if err != nil {
		t.Fatalf("UpdatesSince: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("UpdatesSince(scope=nil) = %+v, want both entities", all)
	}
}

func TestOldestRetainedSeqEmptyLogIsZero(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateAccount("acct-1"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	seq, err := s.OldestRetainedSeq("acct-1")
	if err != nil {
		t.Fatalf("OldestRetainedSeq: %v", err)
	}
	if seq != 0 {
		t.Fatalf("OldestRetainedSeq = %d, want 0 for an empty log", seq)
	}
}

func TestPruneUpdatesBeforeRemovesOldRows(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateAccount("acct-1"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	ref := model.EntityRef{Kind: model.KindSession, ID: "sess-1"}
	if _, err := s.AppendUpdate("acct-1", ref, 1, []byte("v1"), "d", ""); err != nil {
		t.Fatalf("AppendUpdate: %v", err)
	}

	n, err := s.PruneUpdatesBefore("acct-1", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneUpdatesBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("PruneUpdatesBefore removed %d rows, want 1", n)
	}

	latest, err := s.OldestRetainedSeq("acct-1")
	if err != nil {
		t.Fatalf("OldestRetainedSeq: %v", err)
	}
	if latest != 0 {
		t.Fatalf("OldestRetainedSeq after prune = %d, want 0", latest)
	}
}
