package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/happy-coder/happy/internal/model"
)

// AppendUpdate assigns the next per-account seq and appends one row to the
// update log, inside the same transaction that advances account_seq — this
// is the serialization point spec.md §4.1 requires so seq stays gapless and
// strictly increasing per account. A duplicate localId (already present for
// this entity) is treated as an idempotent no-op: the previously assigned
// seq is returned instead of appending again.
func (s *Store) AppendUpdate(accountID string, ref model.EntityRef, version int64, body []byte, producer, localID string) (seq int64, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if localID != "" {
		var existing int64
		err := tx.QueryRow(
			`SELECT seq FROM updates WHERE entity_kind = ? AND entity_id = ? AND local_id = ?`,
			ref.Kind, ref.ID, localID,
		).Scan(&existing)
		if err == nil {
			return existing, nil
		}
		if err != sql.ErrNoRows {
			return 0, fmt.Errorf("check local id: %w", err)
		}
	}

	seq, err = nextSeq(tx, accountID)
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(
		`INSERT INTO updates (seq, account_id, entity_kind, entity_id, version, body, producer, local_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seq, accountID, ref.Kind, ref.ID, version, body, producer, localID, time.Now().UTC(),
	); err != nil {
		return 0, fmt.Errorf("append update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit update: %w", err)
	}
	return seq, nil
}

func nextSeq(tx *sql.Tx, accountID string) (int64, error) {
	if _, err := tx.Exec(
		`INSERT INTO account_seq (account_id, last_seq) VALUES (?, 0) ON CONFLICT(account_id) DO NOTHING`,
		accountID,
	); err != nil {
		return 0, fmt.Errorf("seed account seq: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE account_seq SET last_seq = last_seq + 1 WHERE account_id = ?`, accountID,
	); err != nil {
		return 0, fmt.Errorf("advance account seq: %w", err)
	}
	var seq int64
	if err := tx.QueryRow(`SELECT last_seq FROM account_seq WHERE account_id = ?`, accountID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read account seq: %w", err)
	}
	return seq, nil
}

// UpdateRow is one entry replayed to a subscriber — either on catch-up
// (since seq) or live.
type UpdateRow struct {
	Seq      int64
	Ref      model.EntityRef
	Version  int64
	Body     []byte
	Producer string
	LocalID  string
}

// UpdatesSince returns every update for the account with seq > afterSeq,
// ordered ascending, optionally narrowed to a single entity scope (empty
// kind means "all kinds", used for account-scope subscriptions that want
// every entity touched under that account).
func (s *Store) UpdatesSince(accountID string, afterSeq int64, scope *model.Scope, limit int) ([]UpdateRow, error) {
	var rows *sql.Rows
	var err error
	switch {
	case scope != nil:
		rows, err = s.db.Query(
			`SELECT seq, entity_kind, entity_id, version, body, producer, local_id FROM updates
			 WHERE account_id = ? AND seq > ? AND entity_kind = ? AND entity_id = ?
			 ORDER BY seq ASC LIMIT ?`,
			accountID, afterSeq, scope.Kind, scope.ID, limit)
	default:
		rows, err = s.db.Query(
			`SELECT seq, entity_kind, entity_id, version, body, producer, local_id FROM updates
			 WHERE account_id = ? AND seq > ?
			 ORDER BY seq ASC LIMIT ?`,
			accountID, afterSeq, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query updates since: %w", err)
	}
	defer rows.Close()

	var out []UpdateRow
	for rows.Next() {
		var u UpdateRow
		if err := rows.Scan(&u.Seq, &u.Ref.Kind, &u.Ref.ID, &u.Version, &u.Body, &u.Producer, &u.LocalID); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// OldestRetainedSeq reports the lowest seq still present in the log for an
// account — a subscriber whose cursor sits below this has fallen off the
// retention horizon and must resync fully (spec.md §7 "resync-required").
func (s *Store) OldestRetainedSeq(accountID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRow(`SELECT MIN(seq) FROM updates WHERE account_id = ?`, accountID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("oldest retained seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// LatestSeq reports the most recently assigned seq for an account, or 0 if
// none have been assigned yet.
func (s *Store) LatestSeq(accountID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRow(`SELECT last_seq FROM account_seq WHERE account_id = ?`, accountID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// PruneUpdatesBefore drops retained log rows older than cutoff, enforcing
// the bounded retention horizon spec.md §9 calls out as a resource limit.
func (s *Store) PruneUpdatesBefore(accountID string, cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM updates WHERE account_id = ? AND created_at < ?`, accountID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune updates: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
