// Package ledger implements the double-entry settlement ledger behind escrow.
//
// Every movement of funds creates a matched DEBIT/CREDIT pair under one
// transfer ID, so the sum of all account balances is always zero. Buyers go
// negative when they pay, the escrow account holds what is in custody, and
// payees go positive when escrow is released to them.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/computemarket/cmkt/internal/models"
	"github.com/computemarket/cmkt/internal/store"
	"github.com/google/uuid"
)

// EscrowAccount is the custodial account holding funds of active tasks.
const EscrowAccount = "escrow"

var (
	// ErrAccountFrozen is returned when the receiving account refuses transfers.
	ErrAccountFrozen = errors.New("receiving account is frozen")
	// ErrInsufficientEscrow is returned when a release exceeds custody.
	ErrInsufficientEscrow = errors.New("insufficient escrow balance")
	// ErrInvalidAccount is returned for empty or reserved principals.
	ErrInvalidAccount = errors.New("invalid account")
)

// Ledger posts transfers through a store. Use a transaction-scoped store so
// postings commit or roll back with the state change they settle.
type Ledger struct {
	store *store.Store
	now   func() time.Time
}

// New creates a ledger over s.
func New(s *store.Store) *Ledger {
	return &Ledger{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock returns a copy of l that stamps entries with now.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	return &Ledger{store: l.store, now: now}
}

// Deposit moves a payment from the payer into escrow custody.
func (l *Ledger) Deposit(payer string, amount math.Uint, taskID uint64) (string, error) {
	return l.transfer(payer, EscrowAccount, amount, taskID, "escrow deposit")
}

// Release moves funds out of escrow custody to payee.
func (l *Ledger) Release(payee string, amount math.Uint, taskID uint64, reason string) (string, error) {
	escrow, err := l.EscrowBalance()
	if err != nil {
		return "", err
	}
	if escrow.LT(amount) {
		return "", fmt.Errorf("%w: have %s, need %s", ErrInsufficientEscrow, escrow, amount)
	}
	return l.transfer(EscrowAccount, payee, amount, taskID, reason)
}

// Balance returns the net position of an account. Unknown accounts are zero.
func (l *Ledger) Balance(principal string) (math.Int, error) {
	acct, err := l.store.GetAccount(principal)
	if err != nil {
		return math.ZeroInt(), err
	}
	if acct == nil {
		return math.ZeroInt(), nil
	}
	return acct.Balance, nil
}

// EscrowBalance returns the funds currently in custody.
func (l *Ledger) EscrowBalance() (math.Uint, error) {
	bal, err := l.Balance(EscrowAccount)
	if err != nil {
		return math.ZeroUint(), err
	}
	if bal.IsNegative() {
		return math.ZeroUint(), fmt.Errorf("escrow balance is negative: %s", bal)
	}
	return math.NewUintFromBigInt(bal.BigInt()), nil
}

// Freeze marks an account as refusing incoming transfers, or lifts the mark.
func (l *Ledger) Freeze(principal string, frozen bool) error {
	if principal == "" || principal == EscrowAccount {
		return fmt.Errorf("%w: %q", ErrInvalidAccount, principal)
	}
	return l.store.SetAccountFrozen(principal, frozen)
}

// History returns recent entries for an account.
func (l *Ledger) History(principal string, limit int) ([]models.LedgerEntry, error) {
	return l.store.LedgerEntries(principal, limit)
}

// transfer posts a matched DEBIT on from and CREDIT on to.
func (l *Ledger) transfer(from, to string, amount math.Uint, taskID uint64, reason string) (string, error) {
	if from == "" || to == "" {
		return "", fmt.Errorf("%w: empty principal", ErrInvalidAccount)
	}
	if from == to {
		return "", fmt.Errorf("%w: %q cannot pay itself", ErrInvalidAccount, from)
	}

	dest, err := l.store.GetAccount(to)
	if err != nil {
		return "", fmt.Errorf("get %s account: %w", to, err)
	}
	if dest != nil && dest.Frozen {
		return "", fmt.Errorf("%w: %s", ErrAccountFrozen, to)
	}

	fromBal, err := l.Balance(from)
	if err != nil {
		return "", fmt.Errorf("get %s balance: %w", from, err)
	}
	toBal := math.ZeroInt()
	if dest != nil {
		toBal = dest.Balance
	}

	delta := math.NewIntFromBigInt(amount.BigInt())
	fromBal = fromBal.Sub(delta)
	toBal = toBal.Add(delta)

	now := l.now()
	transferID := uuid.New().String()

	// DEBIT source
	if err := l.store.InsertLedgerEntry(&models.LedgerEntry{
		TransferID:  transferID,
		Account:     from,
		EntryType:   models.EntryDebit,
		Amount:      amount,
		Balance:     fromBal,
		TaskID:      taskID,
		Description: reason,
		CreatedAt:   now,
	}); err != nil {
		return "", fmt.Errorf("debit %s: %w", from, err)
	}

	// CREDIT destination
	if err := l.store.InsertLedgerEntry(&models.LedgerEntry{
		TransferID:  transferID,
		Account:     to,
		EntryType:   models.EntryCredit,
		Amount:      amount,
		Balance:     toBal,
		TaskID:      taskID,
		Description: reason,
		CreatedAt:   now,
	}); err != nil {
		return "", fmt.Errorf("credit %s: %w", to, err)
	}

	if err := l.store.SetAccountBalance(from, fromBal); err != nil {
		return "", err
	}
	if err := l.store.SetAccountBalance(to, toBal); err != nil {
		return "", err
	}
	return transferID, nil
}
