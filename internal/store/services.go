package store

import (
	"database/sql"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/computemarket/cmkt/internal/models"
)

// --- Service Operations ---

// UpsertService inserts a service or overwrites an existing one. Price,
// registrant and active are replaced; created_at is kept from the first write.
func (s *Store) UpsertService(svc *models.Service) error {
	if svc.ServiceID > MaxID {
		return fmt.Errorf("upsert service: id %d out of range", svc.ServiceID)
	}
	now := time.Now().UTC()
	if svc.UpdatedAt != nil {
		now = *svc.UpdatedAt
	}

	_, err := s.q().Exec(
		`INSERT INTO services (service_id, price, active, registrant, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(service_id) DO UPDATE SET
			price = excluded.price,
			active = excluded.active,
			registrant = excluded.registrant,
			updated_at = excluded.updated_at`,
		svc.ServiceID, svc.Price.String(), svc.Active, svc.Registrant, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert service: %w", err)
	}
	return nil
}

// GetService retrieves a service by ID. It returns nil, nil if the service
// was never registered.
func (s *Store) GetService(id uint64) (*models.Service, error) {
	if id > MaxID {
		return nil, nil
	}
	row := s.q().QueryRow(
		`SELECT service_id, price, active, registrant, created_at, updated_at FROM services WHERE service_id = ?`,
		id,
	)
	svc, err := scanService(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query service: %w", err)
	}
	return svc, nil
}

// ListServices returns all registered services ordered by ID.
func (s *Store) ListServices() ([]models.Service, error) {
	rows, err := s.q().Query(
		`SELECT service_id, price, active, registrant, created_at, updated_at FROM services ORDER BY service_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, *svc)
	}
	return services, rows.Err()
}

// UpdateServicePrice replaces the price of an existing service.
func (s *Store) UpdateServicePrice(id uint64, price math.Uint, at time.Time) error {
	res, err := s.q().Exec(
		`UPDATE services SET price = ?, updated_at = ? WHERE service_id = ?`,
		price.String(), at, id,
	)
	if err != nil {
		return fmt.Errorf("update service price: %w", err)
	}
	return expectOneRow(res, "service", id)
}

// SetServiceActive flips the active flag of an existing service.
func (s *Store) SetServiceActive(id uint64, active bool, at time.Time) error {
	res, err := s.q().Exec(
		`UPDATE services SET active = ?, updated_at = ? WHERE service_id = ?`,
		active, at, id,
	)
	if err != nil {
		return fmt.Errorf("update service active: %w", err)
	}
	return expectOneRow(res, "service", id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanService(row rowScanner) (*models.Service, error) {
	var (
		svc       models.Service
		price     string
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&svc.ServiceID, &price, &svc.Active, &svc.Registrant, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p, err := parseUint("price", price)
	if err != nil {
		return nil, err
	}
	svc.Price = p
	svc.CreatedAt = &createdAt
	svc.UpdatedAt = &updatedAt
	return &svc, nil
}

func expectOneRow(res sql.Result, kind string, id uint64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%s %d: expected 1 row affected, got %d", kind, id, n)
	}
	return nil
}
