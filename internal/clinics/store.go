package clinics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no clinic matches the given id.
var ErrNotFound = errors.New("clinic not found")

// ClinicLocation is a bookable practice site. Multi-clinic support is a
// first-class dimension: every appointment row carries a clinic id.
type ClinicLocation struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	IsMain    bool      `json:"is_main"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides persistence for clinic locations.
type Store struct {
	db DB
}

// NewStore creates a clinic location store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Create inserts a clinic location.
func (s *Store) Create(ctx context.Context, c *ClinicLocation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.Exec(ctx, `
		INSERT INTO clinic_locations (id, name, address, phone, is_main, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		c.ID, c.Name, c.Address, c.Phone, c.IsMain, now)
	if err != nil {
		return fmt.Errorf("clinics: create location: %w", err)
	}
	return nil
}

// GetByID loads one clinic location.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*ClinicLocation, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, address, phone, is_main, created_at, updated_at
		FROM clinic_locations WHERE id = $1`, id)
	var c ClinicLocation
	if err := row.Scan(&c.ID, &c.Name, &c.Address, &c.Phone, &c.IsMain, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("clinics: get location: %w", err)
	}
	return &c, nil
}

// List returns every clinic location, main clinic first.
func (s *Store) List(ctx context.Context) ([]ClinicLocation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, address, phone, is_main, created_at, updated_at
		FROM clinic_locations ORDER BY is_main DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("clinics: list locations: %w", err)
	}
	defer rows.Close()

	var out []ClinicLocation
	for rows.Next() {
		var c ClinicLocation
		if err := rows.Scan(&c.ID, &c.Name, &c.Address, &c.Phone, &c.IsMain, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("clinics: scan location: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
