package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/happy-coder/happy/internal/model"
)

// UpsertMachineIdentity creates or reuses the Machine row for
// (accountID, hostname, homeDir). Per DESIGN.md's open-question (b)
// decision, this triple is the identity key: a second daemon presenting a
// fresh machineID for the same triple reuses the existing row rather than
// creating a duplicate.
func (s *Store) UpsertMachineIdentity(accountID, machineID, hostname, homeDir, os string) (*model.Machine, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO machines (id, account_id, hostname, home_dir, os, daemon_state, active_sessions, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, 'online', '[]', ?, ?, 1)
		ON CONFLICT(account_id, hostname, home_dir) DO UPDATE SET
			daemon_state = 'online',
			os = excluded.os,
			updated_at = excluded.updated_at,
			version = machines.version + 1
	`, machineID, accountID, hostname, homeDir, os, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert machine: %w", err)
	}
	return s.getMachineByIdentity(accountID, hostname, homeDir)
}

func (s *Store) getMachineByIdentity(accountID, hostname, homeDir string) (*model.Machine, error) {
	return s.scanMachine(s.db.QueryRow(
		`SELECT id, account_id, hostname, home_dir, os, daemon_state, active_sessions, created_at, updated_at, version
		 FROM machines WHERE account_id = ? AND hostname = ? AND home_dir = ?`,
		accountID, hostname, homeDir))
}

func (s *Store) GetMachine(id string) (*model.Machine, error) {
	return s.scanMachine(s.db.QueryRow(
		`SELECT id, account_id, hostname, home_dir, os, daemon_state, active_sessions, created_at, updated_at, version
		 FROM machines WHERE id = ?`, id))
}

func (s *Store) scanMachine(row *sql.Row) (*model.Machine, error) {
	var m model.Machine
	var activeJSON string
	err := row.Scan(&m.ID, &m.AccountID, &m.Hostname, &m.HomeDir, &m.OS, &m.DaemonState, &activeJSON,
		&m.CreatedAt, &m.UpdatedAt, &m.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan machine: %w", err)
	}
	_ = json.Unmarshal([]byte(activeJSON), &m.ActiveSession)
	return &m, nil
}

// SetMachineDaemonState updates the daemon lifecycle bit — online while the
// daemon socket is connected, offline after the heartbeat timeout, shutdown
// on graceful exit (spec.md §3).
func (s *Store) SetMachineDaemonState(id string, state model.DaemonState) error {
	res, err := s.db.Exec(
		`UPDATE machines SET daemon_state = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
		state, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set daemon state: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("machine %s not found", id)
	}
	return nil
}

func (s *Store) SetMachineActiveSessions(id string, sessionIDs []string) error {
	data, err := json.Marshal(sessionIDs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE machines SET active_sessions = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
		string(data), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set active sessions: %w", err)
	}
	return nil
}

// MachinesOfflineSince returns machine ids whose daemon_state is "online"
// but haven't been touched since the heartbeat timeout — spec.md §8
// invariant 5 ("A session whose CLI daemon is killed -9 eventually
// transitions to machine-offline").
func (s *Store) MachinesOfflineSince(cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM machines WHERE daemon_state = 'online' AND updated_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stale machines: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
