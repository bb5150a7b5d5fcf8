package ledger

import (
	"errors"
	"path/filepath"
	"testing"

	"cosmossdk.io/math"
	"github.com/computemarket/cmkt/internal/models"
	"github.com/computemarket/cmkt/internal/store"
)

func TestDepositAndRelease(t *testing.T) {
	s := newTestStore(t)
	l := New(s)

	if _, err := l.Deposit("buyer", math.NewUint(100), 1); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if _, err := l.Deposit("buyer", math.NewUint(50), 2); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	escrow, err := l.EscrowBalance()
	if err != nil {
		t.Fatalf("EscrowBalance failed: %v", err)
	}
	if !escrow.Equal(math.NewUint(150)) {
		t.Errorf("Expected escrow 150, got %s", escrow)
	}

	if _, err := l.Release("operator", math.NewUint(100), 1, "task completed"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := l.Release("buyer", math.NewUint(50), 2, "task refunded"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	checkBalance(t, l, EscrowAccount, 0)
	checkBalance(t, l, "operator", 100)
	checkBalance(t, l, "buyer", -100)

	entries, err := l.History("", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 8 {
		t.Fatalf("Expected 8 entries (4 transfers), got %d", len(entries))
	}

	// Debits and credits always match
	debits, credits := math.ZeroUint(), math.ZeroUint()
	for _, e := range entries {
		switch e.EntryType {
		case models.EntryDebit:
			debits = debits.Add(e.Amount)
		case models.EntryCredit:
			credits = credits.Add(e.Amount)
		}
	}
	if !debits.Equal(credits) {
		t.Errorf("Debits %s != credits %s", debits, credits)
	}
}

func TestReleaseExceedingEscrow(t *testing.T) {
	s := newTestStore(t)
	l := New(s)

	if _, err := l.Deposit("buyer", math.NewUint(10), 1); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	_, err := l.Release("operator", math.NewUint(11), 1, "too much")
	if !errors.Is(err, ErrInsufficientEscrow) {
		t.Fatalf("Expected ErrInsufficientEscrow, got %v", err)
	}
	checkBalance(t, l, EscrowAccount, 10)
}

func TestFrozenAccountRejectsCredit(t *testing.T) {
	s := newTestStore(t)
	l := New(s)

	if _, err := l.Deposit("buyer", math.NewUint(10), 1); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := l.Freeze("operator", true); err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}
	_, err := l.Release("operator", math.NewUint(10), 1, "task completed")
	if !errors.Is(err, ErrAccountFrozen) {
		t.Fatalf("Expected ErrAccountFrozen, got %v", err)
	}

	if err := l.Freeze("operator", false); err != nil {
		t.Fatalf("Unfreeze failed: %v", err)
	}
	if _, err := l.Release("operator", math.NewUint(10), 1, "task completed"); err != nil {
		t.Fatalf("Release after unfreeze failed: %v", err)
	}
	checkBalance(t, l, "operator", 10)

	if err := l.Freeze(EscrowAccount, true); !errors.Is(err, ErrInvalidAccount) {
		t.Errorf("Expected ErrInvalidAccount freezing escrow, got %v", err)
	}
}

func TestEscrowCannotPayItself(t *testing.T) {
	s := newTestStore(t)
	l := New(s)

	if _, err := l.Deposit("buyer", math.NewUint(10), 1); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if _, err := l.Release(EscrowAccount, math.NewUint(10), 1, "noop"); !errors.Is(err, ErrInvalidAccount) {
		t.Errorf("Expected ErrInvalidAccount releasing to escrow, got %v", err)
	}
	if _, err := l.Deposit(EscrowAccount, math.NewUint(10), 2); !errors.Is(err, ErrInvalidAccount) {
		t.Errorf("Expected ErrInvalidAccount depositing from escrow, got %v", err)
	}
	checkBalance(t, l, EscrowAccount, 10)
	checkBalance(t, l, "buyer", -10)
}

func checkBalance(t *testing.T, l *Ledger, principal string, want int64) {
	t.Helper()
	got, err := l.Balance(principal)
	if err != nil {
		t.Fatalf("Balance(%s) failed: %v", principal, err)
	}
	if !got.Equal(math.NewInt(want)) {
		t.Errorf("Balance(%s) = %s, want %d", principal, got, want)
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
