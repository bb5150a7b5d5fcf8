package market

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/computemarket/cmkt/internal/ledger"
	"github.com/computemarket/cmkt/internal/store"
)

// InvariantReport compares escrow custody with the tasks it backs.
type InvariantReport struct {
	EscrowBalance math.Uint `json:"escrow_balance"`
	HeldTotal     math.Uint `json:"held_total"`
	HeldTasks     int       `json:"held_tasks"`
	Holds         bool      `json:"holds"`
}

// String renders the report for logs and CLI output.
func (r *InvariantReport) String() string {
	status := "ok"
	if !r.Holds {
		status = "BROKEN"
	}
	return fmt.Sprintf("escrow %s: balance=%s held=%s over %d task(s)", status, r.EscrowBalance, r.HeldTotal, r.HeldTasks)
}

// CheckInvariant verifies that the escrow balance equals the sum of amounts
// of created and running tasks. Both sides are read in one transaction so
// the comparison sees a single committed state.
func (s *Service) CheckInvariant() (*InvariantReport, error) {
	var report InvariantReport
	err := s.store.WithTx(func(tx *store.Store) error {
		balance, err := ledger.New(tx).EscrowBalance()
		if err != nil {
			return err
		}
		held, n, err := tx.SumHeldAmounts()
		if err != nil {
			return err
		}
		report = InvariantReport{
			EscrowBalance: balance,
			HeldTotal:     held,
			HeldTasks:     n,
			Holds:         balance.Equal(held),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}
