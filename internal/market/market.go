// Package market implements the compute-service registry, the task escrow
// state machine and the single-authority access control around them.
//
// Every mutating call runs under one lock and inside one store transaction.
// The authority check comes first, then preconditions, then the state
// writes and the notification, and the ledger transfer last. Any failure
// rolls the whole call back. Notifications reach subscribers only after
// commit.
package market

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/computemarket/cmkt/internal/audit"
	"github.com/computemarket/cmkt/internal/ledger"
	"github.com/computemarket/cmkt/internal/models"
	"github.com/computemarket/cmkt/internal/store"
)

// Publisher receives events after the transaction that produced them commits.
type Publisher interface {
	Publish(ev models.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(models.Event) {}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source used for task and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPublisher sets where committed events are delivered.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// Service is the market. It owns no state of its own; everything lives in
// the store it is given.
type Service struct {
	mu    sync.Mutex
	store *store.Store
	pub   Publisher
	now   func() time.Time
}

// New opens the market over s. On a fresh store deployer becomes the
// authority; on an existing one the stored authority is kept and deployer
// is ignored.
func New(s *store.Store, deployer string, opts ...Option) (*Service, error) {
	svc := &Service{
		store: s,
		pub:   nopPublisher{},
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}

	deployer = NormalizePrincipal(deployer)
	if reservedPrincipal(deployer) {
		return nil, errorsmod.Wrapf(ErrInvalidArgument, "%q is a reserved account", deployer)
	}
	if _, err := s.InitAuthority(deployer); err != nil {
		if errors.Is(err, store.ErrNoAuthority) {
			return nil, errorsmod.Wrap(ErrInvalidArgument, "an initial authority is required for a new store")
		}
		return nil, err
	}
	return svc, nil
}

// NormalizePrincipal trims p and lower-cases hex addresses so that
// "0xAbC" and "0xabc" name the same principal.
func NormalizePrincipal(p string) string {
	p = strings.TrimSpace(p)
	if len(p) > 2 && (p[:2] == "0x" || p[:2] == "0X") {
		return "0x" + strings.ToLower(p[2:])
	}
	return p
}

// reservedPrincipal reports whether p names the ledger's custody account,
// which can never act as a buyer or the authority.
func reservedPrincipal(p string) bool {
	return p == ledger.EscrowAccount
}

// txn is the scope of one mutating call.
type txn struct {
	store  *store.Store
	ledger *ledger.Ledger
	now    time.Time
	taskID uint64
	events []models.Event
}

// requireAuthority rejects callers other than the stored authority and
// returns the authority.
func (tx *txn) requireAuthority(caller string) (string, error) {
	authority, err := tx.store.Authority()
	if err != nil {
		return "", err
	}
	if caller == "" || caller != authority {
		return "", errorsmod.Wrapf(ErrNotAuthorized, "caller %q", caller)
	}
	return authority, nil
}

// emit appends ev to the outbox inside the transaction.
func (tx *txn) emit(ev models.Event) error {
	ev.Timestamp = tx.now
	if err := tx.store.AppendEvent(&ev); err != nil {
		return err
	}
	tx.events = append(tx.events, ev)
	return nil
}

// mutate runs fn as one atomic call and writes its decision record.
func (s *Service) mutate(action, caller string, taskID uint64, inputs interface{}, fn func(tx *txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var committed []models.Event
	err := s.store.WithTx(func(st *store.Store) error {
		tx := &txn{
			store:  st,
			ledger: ledger.New(st).WithClock(func() time.Time { return now }),
			now:    now,
			taskID: taskID,
		}
		if err := fn(tx); err != nil {
			return err
		}
		if _, err := audit.NewPDRWriter(st).Record(action, caller, inputs, audit.OutcomeSuccess, tx.taskID, ""); err != nil {
			return err
		}
		committed = tx.events
		return nil
	})
	if err != nil {
		// Rejections are audited outside the rolled back transaction.
		if taskID > store.MaxID {
			taskID = 0
		}
		_, _ = audit.NewPDRWriter(s.store).Record(action, caller, inputs, audit.OutcomeRejected, taskID, err.Error())
		return err
	}

	for _, ev := range committed {
		s.pub.Publish(ev)
	}
	return nil
}

// settlementErr classifies a failed ledger transfer.
func settlementErr(err error) error {
	if errors.Is(err, ledger.ErrAccountFrozen) {
		return errorsmod.Wrap(ErrTransferRejected, err.Error())
	}
	return fmt.Errorf("settle: %w", err)
}

// --- Queries ---

// GetBalance returns the total funds held in escrow custody.
func (s *Service) GetBalance() (math.Uint, error) {
	return ledger.New(s.store).EscrowBalance()
}

// AccountBalance returns the net settlement position of a principal.
// Buyers are negative by what they paid and have not been refunded; the
// authority is positive by what completed tasks released to it.
func (s *Service) AccountBalance(principal string) (math.Int, error) {
	return ledger.New(s.store).Balance(NormalizePrincipal(principal))
}

// AccountHistory returns recent ledger entries for a principal.
func (s *Service) AccountHistory(principal string, limit int) ([]models.LedgerEntry, error) {
	return ledger.New(s.store).History(NormalizePrincipal(principal), limit)
}

// Events returns committed notifications with a sequence number after the
// given one.
func (s *Service) Events(after uint64, limit int) ([]models.Event, error) {
	return s.store.EventsAfter(after, limit)
}

// Decisions returns recent decision records, optionally for a single task.
func (s *Service) Decisions(taskID uint64, limit int) ([]models.PDREntry, error) {
	return s.store.ListPDR(taskID, limit)
}
