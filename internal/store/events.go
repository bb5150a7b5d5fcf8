package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/computemarket/cmkt/internal/models"
	"github.com/google/uuid"
)

// --- Event Outbox ---

const eventColumns = `seq, id, type, task_id, service_id, principal, counterpart, amount, result_hash, timestamp, published_at`

// AppendEvent appends ev to the outbox and fills in its ID and sequence number.
func (s *Store) AppendEvent(ev *models.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	res, err := s.q().Exec(
		`INSERT INTO events (id, type, task_id, service_id, principal, counterpart, amount, result_hash, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Type, ev.TaskID, ev.ServiceID, ev.Principal, ev.Counterpart, ev.Amount, ev.ResultHash, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("event seq: %w", err)
	}
	ev.Seq = uint64(seq)
	return nil
}

// EventsAfter returns committed events with seq greater than after, oldest
// first. A non-positive limit returns every matching event.
func (s *Store) EventsAfter(after uint64, limit int) ([]models.Event, error) {
	if after >= MaxID {
		return nil, nil
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE seq > ? ORDER BY seq`
	args := []interface{}{after}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEvents(query, args...)
}

// PendingEvents returns up to limit events that have not been relayed yet.
func (s *Store) PendingEvents(limit int) ([]models.Event, error) {
	return s.queryEvents(
		`SELECT `+eventColumns+` FROM events WHERE published_at IS NULL ORDER BY seq LIMIT ?`,
		limit,
	)
}

// MarkEventsPublished records that the given events were delivered.
func (s *Store) MarkEventsPublished(seqs []uint64, at time.Time) error {
	if len(seqs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seqs)), ",")
	args := make([]interface{}, 0, len(seqs)+1)
	args = append(args, at)
	for _, seq := range seqs {
		args = append(args, seq)
	}
	_, err := s.q().Exec(
		`UPDATE events SET published_at = ? WHERE seq IN (`+placeholders+`) AND published_at IS NULL`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}
	return nil
}

// LatestEventSeq returns the highest committed sequence number, or 0.
func (s *Store) LatestEventSeq() (uint64, error) {
	var seq sql.NullInt64
	if err := s.q().QueryRow(`SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query latest event: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

func (s *Store) queryEvents(query string, args ...interface{}) ([]models.Event, error) {
	rows, err := s.q().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var publishedAt sql.NullTime
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.Type, &ev.TaskID, &ev.ServiceID, &ev.Principal,
			&ev.Counterpart, &ev.Amount, &ev.ResultHash, &ev.Timestamp, &publishedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if publishedAt.Valid {
			ev.PublishedAt = &publishedAt.Time
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountPendingEvents returns how many events await relaying.
func (s *Store) CountPendingEvents() (int, error) {
	var n int
	if err := s.q().QueryRow(`SELECT COUNT(*) FROM events WHERE published_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending events: %w", err)
	}
	return n, nil
}
