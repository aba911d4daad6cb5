package syncclient

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/happy-coder/happy/internal/errs"
	"github.com/happy-coder/happy/internal/model"
	"github.com/happy-coder/happy/internal/protocol"
)

// Mutator computes the next body given the entity's current version and
// body — called once per rebase attempt so a caller's in-memory edit can
// be replayed against fresher server state.
type Mutator func(currentVersion int64, currentBody []byte) (newBody []byte, err error)

// Publish applies mutate to the entity named by ref and publishes the
// result, rebasing and retrying up to 5 times on a version-mismatch
// rejection (spec.md §4.2's bounded optimistic-concurrency retry budget).
// It escalates to *errs.StateConflict once the budget is exhausted.
func (c *Client) Publish(ctx context.Context, ref model.EntityRef, mutate Mutator) (newVersion int64, err error) {
	version, body, ok := c.cache.get(ref)
	if !ok {
		return 0, fmt.Errorf("publish %s: entity not in local cache, resync first", ref.ID)
	}

	for attempt := 1; attempt <= maxRebaseAttempts; attempt++ {
		newBody, err := mutate(version, body)
		if err != nil {
			return 0, fmt.Errorf("mutate %s: %w", ref.ID, err)
		}

		localID := uuid.NewString()
		ch := make(chan publishOutcome, 1)
		c.pubMu.Lock()
		c.pending[localID] = ch
		c.pubMu.Unlock()

		expected := version
		if err := c.send(ctx, protocol.Update{
			Type:            protocol.TypeUpdate,
			EntityRef:       protocol.ScopeRef{Kind: string(ref.Kind), ID: ref.ID},
			ExpectedVersion: &expected,
			LocalID:         localID,
			Body:            newBody,
		}); err != nil {
			_ = c.outbox.Enqueue(&pendingMutation{ref: ref, expectedVersion: expected, body: newBody, localID: localID})
			c.pubMu.Lock()
			delete(c.pending, localID)
			c.pubMu.Unlock()
			return 0, fmt.Errorf("send update: %w", err)
		}

		var outcome publishOutcome
		select {
		case outcome = <-ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		}

		if outcome.ok {
			c.cache.put(ref, outcome.newVersion, newBody)
			c.outbox.Remove(ref)
			return outcome.newVersion, nil
		}

		version, body = outcome.currentVersion, outcome.currentBody
		c.cache.put(ref, version, body)
	}

	return 0, &errs.StateConflict{EntityRef: string(ref.Kind) + ":" + ref.ID, Attempts: maxRebaseAttempts}
}

// PublishNew seeds a brand-new entity: it sends expectedVersion 0 without
// requiring a prior cache entry, which is what lets the CLI mint a session
// id locally and publish its first body as an ordinary write instead of
// needing a bespoke create call (spec.md §4.3's session start sequence
// riding the same publishUpdate path as every later revision).
func (c *Client) PublishNew(ctx context.Context, ref model.EntityRef, body []byte) (version int64, err error) {
	localID := uuid.NewString()
	ch := make(chan publishOutcome, 1)
	c.pubMu.Lock()
	c.pending[localID] = ch
	c.pubMu.Unlock()
	defer func() {
		c.pubMu.Lock()
		delete(c.pending, localID)
		c.pubMu.Unlock()
	}()

	expected := int64(0)
	if err := c.send(ctx, protocol.Update{
		Type:            protocol.TypeUpdate,
		EntityRef:       protocol.ScopeRef{Kind: string(ref.Kind), ID: ref.ID},
		ExpectedVersion: &expected,
		LocalID:         localID,
		Body:            body,
	}); err != nil {
		return 0, fmt.Errorf("send create: %w", err)
	}

	select {
	case outcome := <-ch:
		if !outcome.ok {
			return 0, fmt.Errorf("create %s rejected", ref.ID)
		}
		c.cache.put(ref, outcome.newVersion, body)
		return outcome.newVersion, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
