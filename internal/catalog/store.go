package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres-backed service catalog.
type Store struct {
	db DB
}

// NewStore creates a catalog store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const serviceColumns = `id, clinic_id, name, description, duration_minutes, price_cents, active, created_at, updated_at`

// Create inserts a new service.
func (s *Store) Create(ctx context.Context, svc *Service) error {
	if svc.ID == uuid.Nil {
		svc.ID = uuid.New()
	}
	now := time.Now().UTC()
	svc.CreatedAt = now
	svc.UpdatedAt = now
	svc.Active = true

	_, err := s.db.Exec(ctx, `
		INSERT INTO services (id, clinic_id, name, description, duration_minutes, price_cents, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $7)`,
		svc.ID, svc.ClinicID, svc.Name, svc.Description, svc.DurationMinutes, svc.PriceCents, now)
	if err != nil {
		return fmt.Errorf("catalog: insert service: %w", err)
	}
	return nil
}

// GetByID loads one service.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Service, error) {
	row := s.db.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id)
	svc, err := scanService(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get by id: %w", err)
	}
	return svc, nil
}

// List returns active services, optionally scoped to one clinic (clinic-scoped
// rows plus the global ones).
func (s *Store) List(ctx context.Context, clinicID *uuid.UUID) ([]Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE active`
	args := []any{}
	if clinicID != nil {
		query += ` AND (clinic_id IS NULL OR clinic_id = $1)`
		args = append(args, *clinicID)
	}
	query += ` ORDER BY name`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan service: %w", err)
		}
		out = append(out, *svc)
	}
	return out, rows.Err()
}

// Deactivate retires a service without deleting it; existing appointments
// keep their reference.
func (s *Store) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `UPDATE services SET active = FALSE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("catalog: deactivate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DurationMinutes resolves a service's duration for booking.
func (s *Store) DurationMinutes(ctx context.Context, serviceID uuid.UUID) (int, error) {
	var d int
	err := s.db.QueryRow(ctx, `SELECT duration_minutes FROM services WHERE id = $1 AND active`, serviceID).Scan(&d)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("catalog: duration: %w", err)
	}
	return d, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanService(row rowScanner) (*Service, error) {
	var svc Service
	if err := row.Scan(&svc.ID, &svc.ClinicID, &svc.Name, &svc.Description,
		&svc.DurationMinutes, &svc.PriceCents, &svc.Active, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
		return nil, err
	}
	return &svc, nil
}
