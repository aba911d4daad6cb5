// Package session implements the CLI-side session runtime: the message
// pump, permission-request flow, assistant child-process lifecycle, and
// control-mode switch that sit between the Sync Client and an agent.Agent
// adapter. Grounded on the teacher's internal/timeline/engine.go (a
// single-consumer work loop polling a store-backed queue) and
// internal/egg/server.go (per-session process supervision), generalized
// from wingthing's task-queue model to the spec's fingerprint-keyed
// message batching.
package session

import "sync"

// Message is one inbound item queued for delivery to the assistant —
// already past shell-prefix short-circuiting and isolate-command handling.
type Message struct {
	Text        string
	Fingerprint Fingerprint
	LocalID     string
	Isolate     bool // true for /clear, /compact — delivered as a solo batch

	// AlreadyPublished is set for text that arrived from the message log
	// itself (a remote producer's own publish) rather than from a local
	// attach — deliverBatch skips re-publishing it, since the relay
	// already has an entry for it.
	AlreadyPublished bool
}

// Batch is a run of adjacent Messages sharing one Fingerprint, the unit
// the pump hands to the active assistant child.
type Batch struct {
	Fingerprint Fingerprint
	Messages    []Message
	Isolate     bool
}

// Pump is the single-producer (remote user), single-consumer (assistant)
// queue described in spec.md's message-pump section. Enqueue is safe for
// concurrent callers; Batches is drained by exactly one consumer.
type Pump struct {
	mu      sync.Mutex
	pending []Message
	out     chan Batch
}

func NewPump() *Pump {
	return &Pump{out: make(chan Batch, 16)}
}

// Enqueue appends msg to the pending batch, forcing a boundary flush first
// if its fingerprint differs from what's already queued, or — for
// flush-and-isolate commands — discarding the pending queue outright
// before delivering the command alone.
func (p *Pump) Enqueue(msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if msg.Isolate {
		p.pending = nil
		p.out <- Batch{Fingerprint: msg.Fingerprint, Messages: []Message{msg}, Isolate: true}
		return
	}

	if len(p.pending) > 0 && p.pending[0].Fingerprint != msg.Fingerprint {
		p.flushLocked()
	}
	p.pending = append(p.pending, msg)
}

// Flush delivers whatever is currently pending as one batch, even if more
// messages sharing its fingerprint might still arrive — used on idle
// timeout and on shutdown so nothing queued is lost silently.
func (p *Pump) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushLocked()
}

func (p *Pump) flushLocked() {
	if len(p.pending) == 0 {
		return
	}
	batch := Batch{Fingerprint: p.pending[0].Fingerprint, Messages: p.pending}
	p.pending = nil
	p.out <- batch
}

func (p *Pump) Batches() <-chan Batch { return p.out }

func (p *Pump) Close() { close(p.out) }
