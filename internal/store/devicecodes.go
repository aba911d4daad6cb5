package store

import (
	"database/sql"
	"fmt"
	"time"
)

// DeviceCodeRow mirrors one pending or claimed device-pairing request,
// grounded on the teacher's relay/store.go device-code flow.
type DeviceCodeRow struct {
	Code      string
	UserCode  string
	MachineID string
	AccountID *string
	ExpiresAt time.Time
	Claimed   bool
}

func (s *Store) CreateDeviceCode(code, userCode, machineID string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO device_codes (code, user_code, machine_id, expires_at) VALUES (?, ?, ?, ?)`,
		code, userCode, machineID, expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create device code: %w", err)
	}
	return nil
}

func (s *Store) GetDeviceCode(code string) (*DeviceCodeRow, error) {
	row := s.db.QueryRow(
		`SELECT code, user_code, machine_id, account_id, expires_at, claimed FROM device_codes WHERE code = ?`,
		code)
	var dc DeviceCodeRow
	err := row.Scan(&dc.Code, &dc.UserCode, &dc.MachineID, &dc.AccountID, &dc.ExpiresAt, &dc.Claimed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device code: %w", err)
	}
	return &dc, nil
}

func (s *Store) GetDeviceCodeByUserCode(userCode string) (*DeviceCodeRow, error) {
	row := s.db.QueryRow(
		`SELECT code, user_code, machine_id, account_id, expires_at, claimed FROM device_codes
		 WHERE user_code = ? AND claimed = 0 AND expires_at > ?`,
		userCode, time.Now().UTC())
	var dc DeviceCodeRow
	err := row.Scan(&dc.Code, &dc.UserCode, &dc.MachineID, &dc.AccountID, &dc.ExpiresAt, &dc.Claimed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device code by user code: %w", err)
	}
	return &dc, nil
}

// ClaimDeviceCode marks a pending code claimed by an account, rejecting an
// already-claimed or expired one.
func (s *Store) ClaimDeviceCode(code, accountID string) error {
	res, err := s.db.Exec(
		`UPDATE device_codes SET claimed = 1, account_id = ? WHERE code = ? AND claimed = 0 AND expires_at > ?`,
		accountID, code, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("claim device code: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("device code not found, already claimed, or expired")
	}
	return nil
}

func (s *Store) CreateDeviceToken(token, accountID, machineID string) error {
	_, err := s.db.Exec(
		`INSERT INTO device_tokens (token, account_id, machine_id, created_at) VALUES (?, ?, ?, ?)`,
		token, accountID, machineID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("create device token: %w", err)
	}
	return nil
}

func (s *Store) ValidateToken(token string) (accountID, machineID string, err error) {
	row := s.db.QueryRow(`SELECT account_id, machine_id FROM device_tokens WHERE token = ?`, token)
	err = row.Scan(&accountID, &machineID)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("token not found")
	}
	if err != nil {
		return "", "", fmt.Errorf("validate token: %w", err)
	}
	return accountID, machineID, nil
}

func (s *Store) DeleteToken(token string) error {
	if _, err := s.db.Exec(`DELETE FROM device_tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
