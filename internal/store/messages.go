package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/happy-coder/happy/internal/model"
)

// AppendMessage assigns the next per-session seq and appends one message
// row. A duplicate localId for the same session is coalesced: the existing
// message id and seq are returned rather than appending a second row,
// which is what makes a client's retried-after-disconnect send safe.
func (s *Store) AppendMessage(sessionID string, kind model.MessageKind, localID, parentID, producer string, body []byte) (id string, seq int64, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if localID != "" {
		var existingID string
		var existingSeq int64
		err := tx.QueryRow(
			`SELECT id, seq FROM messages WHERE session_id = ? AND local_id = ?`, sessionID, localID,
		).Scan(&existingID, &existingSeq)
		if err == nil {
			return existingID, existingSeq, nil
		}
		if err != sql.ErrNoRows {
			return "", 0, fmt.Errorf("check local id: %w", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO message_seq (session_id, last_seq) VALUES (?, 0) ON CONFLICT(session_id) DO NOTHING`,
		sessionID,
	); err != nil {
		return "", 0, fmt.Errorf("seed message seq: %w", err)
	}
	if _, err := tx.Exec(`UPDATE message_seq SET last_seq = last_seq + 1 WHERE session_id = ?`, sessionID); err != nil {
		return "", 0, fmt.Errorf("advance message seq: %w", err)
	}
	if err := tx.QueryRow(`SELECT last_seq FROM message_seq WHERE session_id = ?`, sessionID).Scan(&seq); err != nil {
		return "", 0, fmt.Errorf("read message seq: %w", err)
	}

	id = uuid.NewString()
	if _, err := tx.Exec(
		`INSERT INTO messages (id, session_id, seq, kind, local_id, producer, body, parent_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, seq, kind, localID, producer, body, parentID, time.Now().UTC(),
	); err != nil {
		return "", 0, fmt.Errorf("append message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", 0, fmt.Errorf("commit message: %w", err)
	}
	return id, seq, nil
}

type MessageRow struct {
	ID       string
	Seq      int64
	Kind     model.MessageKind
	ParentID string
	Producer string
	Body     []byte
}

// MessagesSince returns every message for a session with seq > afterSeq,
// ordered ascending — used both for live tailing and for a session-scope
// resync's catch-up replay.
func (s *Store) MessagesSince(sessionID string, afterSeq int64, limit int) ([]MessageRow, error) {
	rows, err := s.db.Query(
		`SELECT id, seq, kind, parent_id, producer, body FROM messages
		 WHERE session_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		sessionID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages since: %w", err)
	}
	defer rows.Close()
	var out []MessageRow
	for rows.Next() {
		var m MessageRow
		if err := rows.Scan(&m.ID, &m.Seq, &m.Kind, &m.ParentID, &m.Producer, &m.Body); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LatestMessageSeq reports the most recently assigned seq for a session.
func (s *Store) LatestMessageSeq(sessionID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRow(`SELECT last_seq FROM message_seq WHERE session_id = ?`, sessionID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("latest message seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
