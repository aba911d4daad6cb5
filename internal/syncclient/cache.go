package syncclient

import (
	"sync"

	"github.com/happy-coder/happy/internal/model"
)

// entityState is one entity's locally-known version and ciphertext body.
type entityState struct {
	version int64
	body    []byte
}

// Cache is the sync client's local convergent view of every entity it has
// seen, keyed by EntityRef. It exists so Publish can read-modify-write
// without a round-trip; the applier overwrites an entry with each incoming
// update's version and body without comparing versions.
type Cache struct {
	mu       sync.RWMutex
	entities map[model.EntityRef]entityState
	seqByAcc map[string]int64 // highest applied seq per account, for gap detection
}

func newCache() *Cache {
	return &Cache{
		entities: make(map[model.EntityRef]entityState),
		seqByAcc: make(map[string]int64),
	}
}

func (c *Cache) get(ref model.EntityRef) (version int64, body []byte, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.entities[ref]
	return st.version, st.body, ok
}

func (c *Cache) put(ref model.EntityRef, version int64, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities[ref] = entityState{version: version, body: body}
}

// lastSeq/advanceSeq track the highest seq applied per account; Subscribe
// and resubscribeAll send it as the catch-up cursor. Incoming seqs are not
// checked for gaps.
func (c *Cache) lastSeq(accountID string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seqByAcc[accountID]
}

func (c *Cache) advanceSeq(accountID string, seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.seqByAcc[accountID] {
		c.seqByAcc[accountID] = seq
	}
}
