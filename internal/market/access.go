package market

import (
	"errors"

	errorsmod "cosmossdk.io/errors"
	"github.com/computemarket/cmkt/internal/ledger"
	"github.com/computemarket/cmkt/internal/models"
)

// --- Access Control ---

// Authority returns the principal currently allowed to mutate the market.
func (s *Service) Authority() (string, error) {
	return s.store.Authority()
}

// TransferAuthority hands the authority role to next. The change takes effect
// immediately and cannot be undone by the previous holder. Authority only.
func (s *Service) TransferAuthority(caller, next string) error {
	caller = NormalizePrincipal(caller)
	next = NormalizePrincipal(next)
	inputs := map[string]string{"new_authority": next}

	return s.mutate("authority.transfer", caller, 0, inputs, func(tx *txn) error {
		previous, err := tx.requireAuthority(caller)
		if err != nil {
			return err
		}
		if next == "" {
			return errorsmod.Wrap(ErrInvalidArgument, "new authority is required")
		}
		if reservedPrincipal(next) {
			return errorsmod.Wrapf(ErrInvalidArgument, "%q is a reserved account", next)
		}

		if err := tx.store.SetAuthority(next, tx.now); err != nil {
			return err
		}
		return tx.emit(models.Event{
			Type:        models.EventAuthorityTransferred,
			Principal:   previous,
			Counterpart: next,
		})
	})
}

// FreezeAccount marks a settlement account as refusing incoming transfers,
// or lifts the mark. Completions and refunds paying into a frozen account
// fail and leave the task untouched. Authority only.
func (s *Service) FreezeAccount(caller, principal string, frozen bool) error {
	caller = NormalizePrincipal(caller)
	principal = NormalizePrincipal(principal)
	inputs := map[string]interface{}{"principal": principal, "frozen": frozen}

	return s.mutate("account.freeze", caller, 0, inputs, func(tx *txn) error {
		if _, err := tx.requireAuthority(caller); err != nil {
			return err
		}
		if err := tx.ledger.Freeze(principal, frozen); err != nil {
			if errors.Is(err, ledger.ErrInvalidAccount) {
				return errorsmod.Wrap(ErrInvalidArgument, err.Error())
			}
			return err
		}
		return nil
	})
}
