// Package store provides SQLite-backed persistence for the compute market.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cosmossdk.io/math"
	_ "modernc.org/sqlite"
)

// MaxID is the largest service, task or event ID the database can hold.
// Lookups above it find nothing.
const MaxID = uint64(1<<63 - 1)

// ErrNestedTx is returned when WithTx is called on a transaction-scoped store.
var ErrNestedTx = errors.New("transaction already open")

// querier is the subset of *sql.DB and *sql.Tx the store methods need.
type querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Store provides access to the market SQLite database. A Store handed to a
// WithTx callback is bound to that transaction; every method on it reads
// and writes through the transaction.
type Store struct {
	db *sql.DB
	tx *sql.Tx
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL so readers are not blocked by the single writer
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.tx != nil {
		return ErrNestedTx
	}
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx reports whether s is bound to an open transaction.
func (s *Store) InTx() bool {
	return s.tx != nil
}

// WithTx runs fn inside a single database transaction. If fn returns an
// error the transaction is rolled back and the error is returned as is;
// otherwise the transaction is committed.
//
// The pool holds one connection, so fn must only use the Store it is given.
// Calling methods on the outer Store from inside fn blocks forever.
func (s *Store) WithTx(fn func(tx *Store) error) error {
	if s.tx != nil {
		return ErrNestedTx
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS services (
		service_id INTEGER PRIMARY KEY,
		price TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		registrant TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		task_id INTEGER PRIMARY KEY,
		service_id INTEGER NOT NULL,
		buyer TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'created',
		result_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME,
		refunded_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS authority (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		principal TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		task_id INTEGER,
		service_id INTEGER,
		principal TEXT,
		counterpart TEXT,
		amount TEXT,
		result_hash TEXT,
		timestamp DATETIME NOT NULL,
		published_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS accounts (
		principal TEXT PRIMARY KEY,
		balance TEXT NOT NULL,
		frozen INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		transfer_id TEXT NOT NULL,
		account TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance TEXT NOT NULL,
		task_id INTEGER,
		description TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		caller TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		task_id INTEGER,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	INSERT OR IGNORE INTO counters (name, value) VALUES ('task_id', 0);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_buyer ON tasks(buyer);
	CREATE INDEX IF NOT EXISTS idx_events_published ON events(published_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries(account);
	CREATE INDEX IF NOT EXISTS idx_pdr_task_id ON pdr(task_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// parseUint decodes a decimal amount column.
func parseUint(column, v string) (math.Uint, error) {
	u, err := math.ParseUint(v)
	if err != nil {
		return math.ZeroUint(), fmt.Errorf("decode %s %q: %w", column, v, err)
	}
	return u, nil
}

// parseInt decodes a signed decimal balance column.
func parseInt(column, v string) (math.Int, error) {
	i, ok := math.NewIntFromString(v)
	if !ok {
		return math.ZeroInt(), fmt.Errorf("decode %s %q", column, v)
	}
	return i, nil
}
