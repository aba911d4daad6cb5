package relay

import (
	"encoding/json"

	"github.com/happy-coder/happy/internal/logger"
	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
)

const messageReplayBatchSize = 500

// handleMessageAppend persists one Message log entry and fans it out to
// every other subscriber of the session's scope — the Message log's own
// append-only counterpart to handlePublishUpdate, keyed by per-session seq
// rather than the account-wide update seq.
func (s *Server) handleMessageAppend(c *Connection, data []byte) {
	var req protocol.MessageAppend
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	scope := model.Scope{Kind: model.KindSession, ID: req.SessionID}
	if !c.hasScope(scope) {
		return
	}

	id, seq, err := s.Store.AppendMessage(req.SessionID, model.MessageKind(req.Kind), req.LocalID, req.ParentID, c.ID, req.Body)
	if err != nil {
		logger.Error("append message", "err", err, "session", req.SessionID)
		return
	}

	c.enqueueJSON(protocol.MessageAck{Type: protocol.TypeMessageAck, LocalID: req.LocalID, ID: id, Seq: seq})

	frame, err := json.Marshal(protocol.MessageAppend{
		Type:      protocol.TypeMessageAppend,
		SessionID: req.SessionID,
		Kind:      req.Kind,
		Seq:       &seq,
		ParentID:  req.ParentID,
		Producer:  c.ID,
		LocalID:   req.LocalID,
		Body:      req.Body,
	})
	if err != nil {
		return
	}
	s.Conns.Fanout(scope, frame, c.ID)
}

func (s *Server) replayMessages(c *Connection, sessionID string, afterSeq int64) {
	for {
		rows, err := s.Store.MessagesSince(sessionID, afterSeq, messageReplayBatchSize)
		if err != nil {
			logger.Error("replay messages", "err", err)
			return
		}
		if len(rows) == 0 {
			return
		}
		for _, row := range rows {
			c.enqueueJSON(protocol.MessageAppend{
				Type:      protocol.TypeMessageAppend,
				SessionID: sessionID,
				Kind:      string(row.Kind),
				Seq:       &row.Seq,
				ParentID:  row.ParentID,
				Producer:  row.Producer,
				LocalID:   "",
				Body:      row.Body,
			})
			afterSeq = row.Seq
		}
		if len(rows) < messageReplayBatchSize {
			return
		}
	}
}
