package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoAuthority is returned when the authority row has not been initialized.
var ErrNoAuthority = errors.New("authority not initialized")

// InitAuthority stores principal as the authority unless one is already set,
// and returns the authority in effect afterwards.
func (s *Store) InitAuthority(principal string) (string, error) {
	if principal != "" {
		_, err := s.q().Exec(
			`INSERT OR IGNORE INTO authority (id, principal, updated_at) VALUES (1, ?, ?)`,
			principal, time.Now().UTC(),
		)
		if err != nil {
			return "", fmt.Errorf("init authority: %w", err)
		}
	}
	return s.Authority()
}

// Authority returns the current authority principal.
func (s *Store) Authority() (string, error) {
	var principal string
	err := s.q().QueryRow(`SELECT principal FROM authority WHERE id = 1`).Scan(&principal)
	if err == sql.ErrNoRows {
		return "", ErrNoAuthority
	}
	if err != nil {
		return "", fmt.Errorf("query authority: %w", err)
	}
	return principal, nil
}

// SetAuthority replaces the authority principal.
func (s *Store) SetAuthority(principal string, at time.Time) error {
	res, err := s.q().Exec(
		`UPDATE authority SET principal = ?, updated_at = ? WHERE id = 1`,
		principal, at,
	)
	if err != nil {
		return fmt.Errorf("update authority: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNoAuthority
	}
	return nil
}
