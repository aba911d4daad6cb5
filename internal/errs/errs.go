// Package errs models the error taxonomy from spec.md §7 as typed values
// callers can errors.As against, instead of stringly-typed codes leaking
// past the wire layer into application code.
package errs

import "fmt"

// VersionMismatch is returned when a publishUpdate's expectedVersion does
// not match the entity's current version. CurrentVersion/CurrentBody let
// the caller rebase and retry per spec.md §4.2's publish protocol.
type VersionMismatch struct {
	CurrentVersion int64
	CurrentBody    []byte
}

func (e *VersionMismatch) Error() string {
	return fmt.Sprintf("version-mismatch: current version is %d", e.CurrentVersion)
}

// NoHandler is returned when an RPC call targets a (scope, method) pair
// with no registered handler.
type NoHandler struct {
	Scope  string
	Method string
}

func (e *NoHandler) Error() string {
	return fmt.Sprintf("no-handler: no handler for %s on %s", e.Method, e.Scope)
}

// Timeout is returned when an RPC call's deadline elapses before a
// response arrives.
type Timeout struct {
	Method string
}

func (e *Timeout) Error() string { return fmt.Sprintf("timeout: %s did not respond in time", e.Method) }

// Backpressure is returned when the sync client's outbox is full and the
// pending mutation could not be coalesced with an existing entry.
type Backpressure struct {
	EntityRef string
}

func (e *Backpressure) Error() string {
	return fmt.Sprintf("backpressure: outbox full, cannot enqueue update for %s", e.EntityRef)
}

// AuthFailed is terminal for a connection; the caller must re-authenticate.
type AuthFailed struct {
	Reason string
}

func (e *AuthFailed) Error() string { return fmt.Sprintf("auth failed: %s", e.Reason) }

// ResyncRequired is returned by the sync client's applier when a
// subscription's cursor fell below the retention horizon.
type ResyncRequired struct {
	Scope string
}

func (e *ResyncRequired) Error() string { return fmt.Sprintf("resync required for scope %s", e.Scope) }

// StateConflict is the non-recoverable error the sync client surfaces to
// its caller once the bounded rebase-and-retry budget is exhausted
// (spec.md §9, "Optimistic concurrency retry budget").
type StateConflict struct {
	EntityRef string
	Attempts  int
}

func (e *StateConflict) Error() string {
	return fmt.Sprintf("state-conflict: %s did not converge after %d rebase attempts", e.EntityRef, e.Attempts)
}
