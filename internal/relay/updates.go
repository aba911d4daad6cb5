package relay

import (
	"encoding/json"
	"errors"

	"github.com/happy-coder/happy/internal/errs"
	"github.com/happy-coder/happy/internal/logger"
	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
)

const replayBatchSize = 500

// handleSubscribe adds a scope to the connection's subscription set and,
// if sinceSeq was given, replays everything the caller missed — or tells
// it to resync if its cursor fell below the retention horizon (spec.md
// §4.1, §7).
func (s *Server) handleSubscribe(c *Connection, data []byte) {
	var req protocol.Subscribe
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	scope := model.Scope{Kind: model.Kind(req.Scope.Kind), ID: req.Scope.ID}
	c.addScope(scope, 0)
	s.Conns.Subscribe(c, scope)

	if scope.Kind == model.KindSession && req.SinceMessageSeq != nil {
		s.replayMessages(c, scope.ID, *req.SinceMessageSeq)
	}

	if req.SinceSeq == nil {
		return
	}

	oldest, err := s.Store.OldestRetainedSeq(c.AccountID)
	if err != nil {
		logger.Error("oldest retained seq", "err", err)
		return
	}
	if oldest > 0 && *req.SinceSeq < oldest-1 {
		c.enqueueJSON(protocol.ResyncRequired{
			Type:   protocol.TypeResyncRequired,
			Scope:  req.Scope,
			MinSeq: oldest,
		})
		return
	}

	s.replay(c, scope, *req.SinceSeq)
}

func (s *Server) replay(c *Connection, scope model.Scope, afterSeq int64) {
	for {
		rows, err := s.Store.UpdatesSince(c.AccountID, afterSeq, &scope, replayBatchSize)
		if err != nil {
			logger.Error("replay updates", "err", err)
			return
		}
		if len(rows) == 0 {
			return
		}
		for _, row := range rows {
			c.enqueueJSON(protocol.Update{
				Type:      protocol.TypeUpdate,
				EntityRef: protocol.ScopeRef{Kind: string(row.Ref.Kind), ID: row.Ref.ID},
				Version:   row.Version,
				Seq:       &row.Seq,
				Producer:  row.Producer,
				LocalID:   row.LocalID,
				Body:      row.Body,
			})
			c.setCursor(scope, row.Seq)
			afterSeq = row.Seq
		}
		if len(rows) < replayBatchSize {
			return
		}
	}
}

// handlePublishUpdate applies an optimistic-concurrency write to a Session
// entity and fans the resulting log entry out to every other subscriber of
// its scope, excluding the publisher itself (self-echo suppression).
func (s *Server) handlePublishUpdate(c *Connection, data []byte) {
	var req protocol.Update
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	ref := model.EntityRef{Kind: model.Kind(req.EntityRef.Kind), ID: req.EntityRef.ID}

	if ref.Kind != model.KindSession {
		c.enqueueJSON(protocol.UpdateReject{
			Type:    protocol.TypeUpdateReject,
			LocalID: req.LocalID,
			Reason:  protocol.ReasonAuth,
		})
		return
	}

	expected := req.Version
	if req.ExpectedVersion != nil {
		expected = *req.ExpectedVersion
	}

	newVersion, err := s.Store.UpsertSessionBody(c.AccountID, c.MachineID, ref.ID, expected, req.Body)
	if err != nil {
		var mismatch *errs.VersionMismatch
		if errors.As(err, &mismatch) {
			c.enqueueJSON(protocol.UpdateReject{
				Type:           protocol.TypeUpdateReject,
				LocalID:        req.LocalID,
				Reason:         protocol.ReasonVersionMismatch,
				CurrentVersion: &mismatch.CurrentVersion,
				CurrentBody:    mismatch.CurrentBody,
			})
			return
		}
		logger.Error("publish update", "err", err, "entity", ref.ID)
		c.enqueueJSON(protocol.UpdateReject{Type: protocol.TypeUpdateReject, LocalID: req.LocalID, Reason: protocol.ReasonAuth})
		return
	}

	seq, err := s.Store.AppendUpdate(c.AccountID, ref, newVersion, req.Body, c.ID, req.LocalID)
	if err != nil {
		logger.Error("append update log", "err", err)
		return
	}

	c.enqueueJSON(protocol.UpdateAck{Type: protocol.TypeUpdateAck, LocalID: req.LocalID, Seq: seq, NewVersion: newVersion})

	frame, err := json.Marshal(protocol.Update{
		Type:      protocol.TypeUpdate,
		EntityRef: req.EntityRef,
		Version:   newVersion,
		Seq:       &seq,
		Producer:  c.ID,
		LocalID:   req.LocalID,
		Body:      req.Body,
	})
	if err != nil {
		return
	}
	s.Conns.Fanout(ref.Scope(), frame, c.ID)
}
