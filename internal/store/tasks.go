package store

import (
	"database/sql"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/computemarket/cmkt/internal/models"
)

// --- Task Operations ---

const taskColumns = `task_id, service_id, buyer, amount, status, result_hash, created_at, updated_at, completed_at, refunded_at`

// NextTaskID advances the task counter and returns the new value. The first
// call on a fresh database returns 1.
func (s *Store) NextTaskID() (uint64, error) {
	if _, err := s.q().Exec(`UPDATE counters SET value = value + 1 WHERE name = 'task_id'`); err != nil {
		return 0, fmt.Errorf("advance task counter: %w", err)
	}
	return s.TaskCount()
}

// TaskCount returns the number of task IDs allocated so far.
func (s *Store) TaskCount() (uint64, error) {
	var n uint64
	if err := s.q().QueryRow(`SELECT value FROM counters WHERE name = 'task_id'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("query task counter: %w", err)
	}
	return n, nil
}

// InsertTask stores a new task record.
func (s *Store) InsertTask(t *models.Task) error {
	_, err := s.q().Exec(
		`INSERT INTO tasks (task_id, service_id, buyer, amount, status, result_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.ServiceID, t.Buyer, t.Amount.String(), t.Status, t.ResultHash, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTask writes the mutable fields of a task: status, result hash and
// the lifecycle timestamps.
func (s *Store) UpdateTask(t *models.Task) error {
	res, err := s.q().Exec(
		`UPDATE tasks SET status = ?, result_hash = ?, updated_at = ?, completed_at = ?, refunded_at = ? WHERE task_id = ?`,
		t.Status, t.ResultHash, t.UpdatedAt, nullTime(t.CompletedAt), nullTime(t.RefundedAt), t.TaskID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectOneRow(res, "task", t.TaskID)
}

// GetTask retrieves a task by ID. It returns nil, nil if no such task exists.
func (s *Store) GetTask(id uint64) (*models.Task, error) {
	if id > MaxID {
		return nil, nil
	}
	row := s.q().QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks matching the filter, newest first.
func (s *Store) ListTasks(f models.TaskFilter) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1 = 1`
	var args []interface{}

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Buyer != "" {
		query += ` AND buyer = ?`
		args = append(args, f.Buyer)
	}
	if f.ServiceID > MaxID {
		return nil, nil
	}
	if f.ServiceID != 0 {
		query += ` AND service_id = ?`
		args = append(args, f.ServiceID)
	}
	query += ` ORDER BY task_id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.q().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// SumHeldAmounts returns the total amount of tasks that still hold escrowed
// funds (created or running) and how many such tasks exist.
func (s *Store) SumHeldAmounts() (math.Uint, int, error) {
	rows, err := s.q().Query(
		`SELECT amount FROM tasks WHERE status IN (?, ?)`,
		models.TaskStatusCreated, models.TaskStatusRunning,
	)
	if err != nil {
		return math.ZeroUint(), 0, fmt.Errorf("query held amounts: %w", err)
	}
	defer rows.Close()

	total := math.ZeroUint()
	count := 0
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return math.ZeroUint(), 0, fmt.Errorf("scan amount: %w", err)
		}
		amt, err := parseUint("amount", v)
		if err != nil {
			return math.ZeroUint(), 0, err
		}
		total = total.Add(amt)
		count++
	}
	return total, count, rows.Err()
}

// CountTasksByStatus returns the number of tasks in each status.
func (s *Store) CountTasksByStatus() (map[models.TaskStatus]int, error) {
	rows, err := s.q().Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.TaskStatus]int)
	for rows.Next() {
		var status models.TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task        models.Task
		amount      string
		completedAt sql.NullTime
		refundedAt  sql.NullTime
	)
	err := row.Scan(&task.TaskID, &task.ServiceID, &task.Buyer, &amount, &task.Status, &task.ResultHash,
		&task.CreatedAt, &task.UpdatedAt, &completedAt, &refundedAt)
	if err != nil {
		return nil, err
	}
	amt, err := parseUint("amount", amount)
	if err != nil {
		return nil, err
	}
	task.Amount = amt
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	if refundedAt.Valid {
		task.RefundedAt = &refundedAt.Time
	}
	return &task, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
