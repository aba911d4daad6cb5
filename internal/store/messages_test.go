package store

import (
	"testing"

	"github.com/happy-coder/happy/internal/model"
)

func TestAppendMessageAssignsIncreasingSeq(t *testing.T) {
	s := openTestStore(t)
	accountID, machineID := seedAccountAndMachine(t, s)
	if _, err := s.UpsertSessionBody(accountID, machineID, "sess-1", 0, []byte("body")); err != nil {
		t.Fatalf("UpsertSessionBody: %v", err)
	}

	_, seq1, err := s.AppendMessage("sess-1", model.MessageUserText, "local-1", "", "cli", []byte("hi"))
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	_, seq2, err := s.AppendMessage("sess-1", model.MessageAgentText, "local-2", "", "agent", []byte("hello"))
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if seq1 != 1 || seq2 != 2 {
		t.Fatalf("seq1, seq2 = %d, %d, want 1, 2", seq1, seq2)
	}
}

func TestAppendMessageDuplicateLocalIDCoalesces(t *testing.T) {
	s := openTestStore(t)
	accountID, machineID := seedAccountAndMachine(t, s)
	if _, err := s.UpsertSessionBody(accountID, machineID, "sess-1", 0, []byte("body")); err != nil {
		t.Fatalf("UpsertSessionBody: %v", err)
	}

	id1, seq1, err := s.AppendMessage("sess-1", model.MessageUserText, "retry-me", "", "cli", []byte("hi"))
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	id2, seq2, err := s.AppendMessage("sess-1", model.MessageUserText, "retry-me", "", "cli", []byte("hi"))
	if err != nil {
		t.Fatalf("AppendMessage (retry): %v", err)
	}
	if id1 != id2 || seq1 != seq2 {
		t.Fatalf("retried append with the same localId should return the same (id, seq): got (%s,%d) and (%s,%d)", id1, seq1, id2, seq2)
	}

	latest, err := s.LatestMessageSeq("sess-1")
	if err != nil {
		t.Fatalf("LatestMessageSeq: %v", err)
	}
	if latest != 1 {
		t.Fatalf("LatestMessageSeq = %d, want 1 (no second row should have been appended)", latest)
	}
}

func TestMessagesSinceOrdersAscendingAndRespectsCursor(t *testing.T) {
	s := openTestStore(t)
	accountID, machineID := seedAccountAndMachine(t, s)
	if _, err := s.UpsertSessionBody(accountID, machineID, "sess-1", 0, []byte("body")); err != nil {
		t.Fatalf("UpsertSessionBody: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, _, err := s.AppendMessage("sess-1", model.MessageUserText, "", "", "cli", []byte("msg")); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	rows, err := s.MessagesSince("sess-1", 1, 10)
	if err != nil {
		t.Fatalf("MessagesSince: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].Seq != 2 || rows[1].Seq != 3 {
		t.Fatalf("rows seqs = %d, %d, want 2, 3", rows[0].Seq, rows[1].Seq)
	}
}

func TestLatestMessageSeqZeroForUnknownSession(t *testing.T) {
	s := openTestStore(t)
	seq, err := s.LatestMessageSeq("never-seen")
	if err != nil {
		t.Fatalf("LatestMessageSeq: %v", err)
	}
	if seq != 0 {
		t.Fatalf("seq = %d, want 0", seq)
	}
}
