package relay

import (
	"encoding/json"
	"time"

	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
)

// handleEphemeral fans out a transient, unpersisted signal (typing,
// thinking, presence) to a scope's subscribers. Unlike publishUpdate, this
// never touches the store — a dropped ephemeral event is lost forever by
// design (spec.md §4.1, "presence/activity fan-out layer").
func (s *Server) handleEphemeral(c *Connection, data []byte) {
	var req protocol.Ephemeral
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	scope := model.Scope{Kind: model.Kind(req.Scope.Kind), ID: req.Scope.ID}
	if !c.hasScope(scope) {
		return
	}
	req.TS = time.Now().UnixMilli()
	frame, err := json.Marshal(req)
	if err != nil {
		return
	}
	s.Conns.Fanout(scope, frame, c.ID)
}
