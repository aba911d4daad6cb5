package syncclient

import (
	"encoding/json"

	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
)

// applyUpdate converges the local cache with an incoming update. A
// producer matching this client's own connectionId is its own echo of a
// write it already applied optimistically and is dropped; everything else
// advances the cache and the account's seq cursor, then notifies OnUpdate.
func (c *Client) applyUpdate(data []byte) {
	var upd protocol.Update
	if err := json.Unmarshal(data, &upd); err != nil {
		return
	}
	if upd.Producer != "" && upd.Producer == c.connectionID {
		if upd.Seq != nil {
			c.cache.advanceSeq(c.AccountID(), *upd.Seq)
		}
		return
	}

	ref := model.EntityRef{Kind: model.Kind(upd.EntityRef.Kind), ID: upd.EntityRef.ID}
	c.cache.put(ref, upd.Version, upd.Body)
	if upd.Seq != nil {
		c.cache.advanceSeq(c.AccountID(), *upd.Seq)
	}
	if c.OnUpdate != nil {
		c.OnUpdate(ref, upd.Version, upd.Body)
	}
}

func (c *Client) applyEphemeral(data []byte) {
	var eph protocol.Ephemeral
	if err := json.Unmarshal(data, &eph); err != nil {
		return
	}
	if c.OnEphemeral != nil {
		c.OnEphemeral(model.Scope{Kind: model.Kind(eph.Scope.Kind), ID: eph.Scope.ID}, eph.Kind, eph.Payload)
	}
}

func (c *Client) handleResyncRequired(data []byte) {
	var req protocol.ResyncRequired
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	if c.OnResync != nil {
		c.OnResync(model.Scope{Kind: model.Kind(req.Scope.Kind), ID: req.Scope.ID})
	}
}

func (c *Client) handlePublishOutcome(data []byte, typ string) {
	if typ == protocol.TypeUpdateAck {
		var ack protocol.UpdateAck
		if err := json.Unmarshal(data, &ack); err != nil {
			return
		}
		c.resolvePublish(ack.LocalID, publishOutcome{ok: true, newVersion: ack.NewVersion, seq: ack.Seq})
		return
	}
	var rej protocol.UpdateReject
	if err := json.Unmarshal(data, &rej); err != nil {
		return
	}
	outcome := publishOutcome{rejected: true}
	if rej.CurrentVersion != nil {
		outcome.currentVersion = *rej.CurrentVersion
	}
	outcome.currentBody = rej.CurrentBody
	c.resolvePublish(rej.LocalID, outcome)
}

func (c *Client) resolvePublish(localID string, outcome publishOutcome) {
	c.pubMu.Lock()
	ch := c.pending[localID]
	delete(c.pending, localID)
	c.pubMu.Unlock()
	if ch != nil {
		ch <- outcome
	}
}
