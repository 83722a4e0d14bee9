// Package patients manages patient records referenced by appointments.
package patients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no patient matches the given id.
var ErrNotFound = errors.New("patient not found")

// Patient is one clinic patient.
type Patient struct {
	ID          uuid.UUID `json:"id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	DateOfBirth *string   `json:"date_of_birth,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres-backed patient repository.
type Store struct {
	db DB
}

// NewStore creates a patient store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const patientColumns = `id, first_name, last_name, email, phone,
	to_char(date_of_birth, 'YYYY-MM-DD'), notes, created_at, updated_at`

// Create inserts a new patient.
func (s *Store) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.Exec(ctx, `
		INSERT INTO patients (id, first_name, last_name, email, phone, date_of_birth, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $8)`,
		p.ID, p.FirstName, p.LastName, p.Email, p.Phone, p.DateOfBirth, p.Notes, now)
	if err != nil {
		return fmt.Errorf("patients: insert: %w", err)
	}
	return nil
}

// GetByID loads one patient.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := s.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	var p Patient
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Phone,
		&p.DateOfBirth, &p.Notes, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("patients: get by id: %w", err)
	}
	return &p, nil
}

// Search returns patients matching the query against name, email or phone.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Patient, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+patientColumns+` FROM patients
		WHERE first_name ILIKE '%' || $1 || '%'
		   OR last_name ILIKE '%' || $1 || '%'
		   OR email ILIKE '%' || $1 || '%'
		   OR phone LIKE '%' || $1 || '%'
		ORDER BY last_name, first_name
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("patients: search: %w", err)
	}
	defer rows.Close()

	var out []Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Phone,
			&p.DateOfBirth, &p.Notes, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("patients: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Update replaces the mutable contact fields.
func (s *Store) Update(ctx context.Context, p *Patient) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE patients SET first_name = $1, last_name = $2, email = $3, phone = $4,
		       date_of_birth = $5::date, notes = $6, updated_at = $7
		WHERE id = $8`,
		p.FirstName, p.LastName, p.Email, p.Phone, p.DateOfBirth, p.Notes, time.Now().UTC(), p.ID)
	if err != nil {
		return fmt.Errorf("patients: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
