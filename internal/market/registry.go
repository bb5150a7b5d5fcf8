package market

import (
	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/computemarket/cmkt/internal/models"
	"github.com/computemarket/cmkt/internal/store"
)

// --- Service Registry ---

// RegisterService creates the service or overwrites an existing one with the
// new price, and marks it active. Authority only.
func (s *Service) RegisterService(caller string, serviceID uint64, price math.Uint) (*models.Service, error) {
	caller = NormalizePrincipal(caller)
	inputs := map[string]interface{}{"service_id": serviceID, "price": price.String()}

	var out *models.Service
	err := s.mutate("service.register", caller, 0, inputs, func(tx *txn) error {
		if _, err := tx.requireAuthority(caller); err != nil {
			return err
		}
		if serviceID == 0 || serviceID > store.MaxID {
			return errorsmod.Wrapf(ErrInvalidArgument, "service id %d out of range", serviceID)
		}

		now := tx.now
		svc := &models.Service{
			ServiceID:  serviceID,
			Price:      price,
			Active:     true,
			Registrant: caller,
			UpdatedAt:  &now,
		}
		if err := tx.store.UpsertService(svc); err != nil {
			return err
		}
		if err := tx.emit(models.Event{
			Type:      models.EventServiceRegistered,
			ServiceID: serviceID,
			Principal: caller,
			Amount:    price.String(),
		}); err != nil {
			return err
		}

		stored, err := tx.store.GetService(serviceID)
		if err != nil {
			return err
		}
		out = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateServicePrice changes the price of a registered service. Active is
// left as is. Authority only.
func (s *Service) UpdateServicePrice(caller string, serviceID uint64, newPrice math.Uint) (*models.Service, error) {
	caller = NormalizePrincipal(caller)
	inputs := map[string]interface{}{"service_id": serviceID, "price": newPrice.String()}

	var out *models.Service
	err := s.mutate("service.update_price", caller, 0, inputs, func(tx *txn) error {
		if _, err := tx.requireAuthority(caller); err != nil {
			return err
		}
		svc, err := tx.store.GetService(serviceID)
		if err != nil {
			return err
		}
		if svc == nil {
			return errorsmod.Wrapf(ErrNotFound, "service %d", serviceID)
		}

		if err := tx.store.UpdateServicePrice(serviceID, newPrice, tx.now); err != nil {
			return err
		}
		if err := tx.emit(models.Event{
			Type:      models.EventServicePriceUpdated,
			ServiceID: serviceID,
			Principal: caller,
			Amount:    newPrice.String(),
		}); err != nil {
			return err
		}

		svc.Price = newPrice
		svc.UpdatedAt = &tx.now
		out = svc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeactivateService stops new purchases of a service. Tasks already bought
// are unaffected. Deactivating an unknown or inactive service succeeds and
// changes nothing. Authority only.
func (s *Service) DeactivateService(caller string, serviceID uint64) error {
	caller = NormalizePrincipal(caller)
	inputs := map[string]interface{}{"service_id": serviceID}

	return s.mutate("service.deactivate", caller, 0, inputs, func(tx *txn) error {
		if _, err := tx.requireAuthority(caller); err != nil {
			return err
		}
		svc, err := tx.store.GetService(serviceID)
		if err != nil {
			return err
		}
		if svc == nil || !svc.Active {
			return nil
		}

		if err := tx.store.SetServiceActive(serviceID, false, tx.now); err != nil {
			return err
		}
		return tx.emit(models.Event{
			Type:      models.EventServiceDeactivated,
			ServiceID: serviceID,
			Principal: caller,
		})
	})
}

// GetService returns the stored service, or a zero record (price 0,
// inactive) if it was never registered.
func (s *Service) GetService(serviceID uint64) (*models.Service, error) {
	svc, err := s.store.GetService(serviceID)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return &models.Service{ServiceID: serviceID, Price: math.ZeroUint()}, nil
	}
	return svc, nil
}

// ListServices returns the whole catalog ordered by ID.
func (s *Service) ListServices() ([]models.Service, error) {
	return s.store.ListServices()
}
