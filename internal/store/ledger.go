package store

import (
	"database/sql"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/computemarket/cmkt/internal/models"
	"github.com/google/uuid"
)

// --- Ledger Operations ---

// GetAccount returns a ledger account, or nil, nil if it has never been used.
func (s *Store) GetAccount(principal string) (*models.Account, error) {
	var (
		acct    models.Account
		balance string
	)
	err := s.q().QueryRow(
		`SELECT principal, balance, frozen FROM accounts WHERE principal = ?`,
		principal,
	).Scan(&acct.Principal, &balance, &acct.Frozen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	bal, err := parseInt("balance", balance)
	if err != nil {
		return nil, err
	}
	acct.Balance = bal
	return &acct, nil
}

// ListAccounts returns every ledger account ordered by principal.
func (s *Store) ListAccounts() ([]models.Account, error) {
	rows, err := s.q().Query(`SELECT principal, balance, frozen FROM accounts ORDER BY principal`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var acct models.Account
		var balance string
		if err := rows.Scan(&acct.Principal, &balance, &acct.Frozen); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		bal, err := parseInt("balance", balance)
		if err != nil {
			return nil, err
		}
		acct.Balance = bal
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// SetAccountBalance writes the running balance of an account, creating it
// if necessary.
func (s *Store) SetAccountBalance(principal string, balance math.Int) error {
	_, err := s.q().Exec(
		`INSERT INTO accounts (principal, balance, frozen, updated_at) VALUES (?, ?, 0, ?)
		 ON CONFLICT(principal) DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at`,
		principal, balance.String(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set account balance: %w", err)
	}
	return nil
}

// SetAccountFrozen marks an account as refusing incoming transfers.
func (s *Store) SetAccountFrozen(principal string, frozen bool) error {
	_, err := s.q().Exec(
		`INSERT INTO accounts (principal, balance, frozen, updated_at) VALUES (?, '0', ?, ?)
		 ON CONFLICT(principal) DO UPDATE SET frozen = excluded.frozen, updated_at = excluded.updated_at`,
		principal, frozen, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set account frozen: %w", err)
	}
	return nil
}

// InsertLedgerEntry stores one side of a posting.
func (s *Store) InsertLedgerEntry(e *models.LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.q().Exec(
		`INSERT INTO ledger_entries (id, transfer_id, account, entry_type, amount, balance, task_id, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TransferID, e.Account, e.EntryType, e.Amount.String(), e.Balance.String(), e.TaskID, e.Description, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// LedgerEntries returns the most recent entries for an account, newest first.
// An empty account returns entries for every account.
func (s *Store) LedgerEntries(account string, limit int) ([]models.LedgerEntry, error) {
	query := `SELECT id, transfer_id, account, entry_type, amount, balance, task_id, description, created_at FROM ledger_entries`
	var args []interface{}
	if account != "" {
		query += ` WHERE account = ?`
		args = append(args, account)
	}
	query += ` ORDER BY rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.q().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var (
			e               models.LedgerEntry
			amount, balance string
			taskID          sql.NullInt64
			description     sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TransferID, &e.Account, &e.EntryType, &amount, &balance,
			&taskID, &description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if e.Amount, err = parseUint("amount", amount); err != nil {
			return nil, err
		}
		if e.Balance, err = parseInt("balance", balance); err != nil {
			return nil, err
		}
		e.TaskID = uint64(taskID.Int64)
		e.Description = description.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
