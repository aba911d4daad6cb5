package syncclient

import (
	"sync"

	"github.com/happy-coder/happy/internal/errs"
	"github.com/happy-coder/happy/internal/model"
)

const outboxCapacity = 128

// pendingMutation is one not-yet-acknowledged publishUpdate, keyed by
// entity so a second mutation to the same entity while offline coalesces
// into the first instead of growing the queue — spec.md §9's bounded
// resource model for the client-side outbox.
type pendingMutation struct {
	ref             model.EntityRef
	expectedVersion int64
	body            []byte
	localID         string
}

// Outbox holds mutations the client has committed to locally but not yet
// had acknowledged by the relay — flushed in FIFO order on (re)connect.
type Outbox struct {
	mu      sync.Mutex
	order   []model.EntityRef
	pending map[model.EntityRef]*pendingMutation
}

func newOutbox() *Outbox {
	return &Outbox{pending: make(map[model.EntityRef]*pendingMutation)}
}

// Enqueue adds or coalesces a mutation. If the outbox is at capacity and
// this ref isn't already pending, it returns *errs.Backpressure rather
// than growing unboundedly.
func (o *Outbox) Enqueue(m *pendingMutation) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.pending[m.ref]; exists {
		o.pending[m.ref] = m // coalesce: last write for this entity wins
		return nil
	}
	if len(o.pending) >= outboxCapacity {
		return &errs.Backpressure{EntityRef: string(m.ref.Kind) + ":" + m.ref.ID}
	}
	o.pending[m.ref] = m
	o.order = append(o.order, m.ref)
	return nil
}

func (o *Outbox) Remove(ref model.EntityRef) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, ref)
	for i, r := range o.order {
		if r == ref {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns pending mutations in FIFO order for a reconnect flush.
func (o *Outbox) Snapshot() []*pendingMutation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*pendingMutation, 0, len(o.order))
	for _, ref := range o.order {
		if m, ok := o.pending[ref]; ok {
			out = append(out, m)
		}
	}
	return out
}
