package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/computemarket/cmkt/internal/models"
	"github.com/google/uuid"
)

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(action, caller, inputsHash, outcome string, taskID uint64, details string) (*models.PDREntry, error) {
	entry := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		Caller:     caller,
		InputsHash: inputsHash,
		Outcome:    outcome,
		TaskID:     taskID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.q().Exec(
		`INSERT INTO pdr (id, action, caller, inputs_hash, outcome, task_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.Caller, entry.InputsHash, entry.Outcome, entry.TaskID, entry.Details, entry.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return entry, nil
}

// ListPDR returns the most recent decision records, optionally for one task.
func (s *Store) ListPDR(taskID uint64, limit int) ([]models.PDREntry, error) {
	query := `SELECT id, action, caller, inputs_hash, outcome, task_id, details, timestamp FROM pdr`
	var args []interface{}
	if taskID > MaxID {
		return nil, nil
	}
	if taskID != 0 {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.q().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var tid sql.NullInt64
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.Caller, &e.InputsHash, &e.Outcome, &tid, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.TaskID = uint64(tid.Int64)
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
