package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/happy-coder/happy/internal/model"
)

func (s *Store) CreateAccount(id string) (*model.Account, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO accounts (id, created_at, updated_at, version) VALUES (?, ?, ?, 1)
		 ON CONFLICT(id) DO NOTHING`,
		id, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return s.GetAccount(id)
}

func (s *Store) GetAccount(id string) (*model.Account, error) {
	var a model.Account
	err := s.db.QueryRow(`SELECT id, created_at, updated_at, version FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt, &a.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}
