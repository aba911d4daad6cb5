package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/happy-coder/happy/internal/errs"
	"github.com/happy-coder/happy/internal/model"
)

func (s *Store) GetSession(id string) (*model.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, tag, account_id, created_at, updated_at, version FROM sessions WHERE id = ?`, id)
	var sess model.Session
	err := row.Scan(&sess.ID, &sess.Tag, &sess.AccountID, &sess.CreatedAt, &sess.UpdatedAt, &sess.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// GetSessionBody returns the raw ciphertext body and current version —
// this is what publishUpdate's optimistic-concurrency check compares
// against, and what a caller rebasing a failed write re-reads.
func (s *Store) GetSessionBody(id string) (version int64, body []byte, err error) {
	row := s.db.QueryRow(`SELECT version, body FROM sessions WHERE id = ?`, id)
	err = row.Scan(&version, &body)
	if err == sql.ErrNoRows {
		return 0, nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("get session body: %w", err)
	}
	return version, body, nil
}

// UpsertSessionBody applies an optimistic-concurrency write, creating the
// row if it doesn't exist yet: the CLI mints the session id itself (spec.md
// §4.3's session start sequence creates the Session entity before any
// relay round-trip exists to hand one back) and publishes its first body
// the same way it publishes any later revision, with expectedVersion 0
// meaning "there is no row yet". If the row already exists, expectedVersion
// is checked normally against the current version and a mismatch returns
// *errs.VersionMismatch — so a retried create after a dropped ack is just
// as idempotent as any other publish, and this replaces the session half
// of publishUpdate entirely rather than sitting alongside a separate
// update-only path.
func (s *Store) UpsertSessionBody(accountID, machineID, id string, expectedVersion int64, newBody []byte) (newVersion int64, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var curVersion int64
	var curBody []byte
	err = tx.QueryRow(`SELECT version, body FROM sessions WHERE id = ?`, id).Scan(&curVersion, &curBody)
	switch {
	case err == sql.ErrNoRows:
		if expectedVersion != 0 {
			return 0, &errs.VersionMismatch{CurrentVersion: 0, CurrentBody: nil}
		}
		now := time.Now().UTC()
		tag := id
		if len(tag) > 8 {
			tag = tag[:8]
		}
		if _, err := tx.Exec(
			`INSERT INTO sessions (id, tag, account_id, machine_id, body, created_at, updated_at, version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
			id, tag, accountID, machineID, newBody, now, now,
		); err != nil {
			return 0, fmt.Errorf("create session: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("commit session create: %w", err)
		}
		return 1, nil
	case err != nil:
		return 0, fmt.Errorf("read session for upsert: %w", err)
	}

	if curVersion != expectedVersion {
		return 0, &errs.VersionMismatch{CurrentVersion: curVersion, CurrentBody: curBody}
	}
	newVersion = curVersion + 1
	if _, err := tx.Exec(
		`UPDATE sessions SET body = ?, version = ?, updated_at = ? WHERE id = ?`,
		newBody, newVersion, time.Now().UTC(), id,
	); err != nil {
		return 0, fmt.Errorf("write session body: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit session update: %w", err)
	}
	return newVersion, nil
}

// ListSessionsForMachine returns every session row owned by a machine, for
// the daemon's own bookkeeping and for resync's full-snapshot path.
func (s *Store) ListSessionsForMachine(machineID string) ([]*model.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, tag, account_id, created_at, updated_at, version FROM sessions WHERE machine_id = ?`,
		machineID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []*model.Session
	for rows.Next() {
		var sess model.Session
		if err := rows.Scan(&sess.ID, &sess.Tag, &sess.AccountID, &sess.CreatedAt, &sess.UpdatedAt, &sess.Version); err != nil {
			return nil, err
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// ListSessionBodiesForAccount returns (ref, version, body) for every session
// in the account — the resync full-snapshot path for the session scope set.
func (s *Store) ListSessionBodiesForAccount(accountID string) ([]model.EntityRef, []int64, [][]byte, error) {
	rows, err := s.db.Query(`SELECT id, version, body FROM sessions WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list session bodies: %w", err)
	}
	defer rows.Close()
	var refs []model.EntityRef
	var versions []int64
	var bodies [][]byte
	for rows.Next() {
		var id string
		var v int64
		var b []byte
		if err := rows.Scan(&id, &v, &b); err != nil {
			return nil, nil, nil, err
		}
		refs = append(refs, model.EntityRef{Kind: model.KindSession, ID: id})
		versions = append(versions, v)
		bodies = append(bodies, b)
	}
	return refs, versions, bodies, rows.Err()
}
