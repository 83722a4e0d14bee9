// Package staff manages clinic staff users: dentists, front-desk staff and
// owners. Dentist rows anchor availability windows and appointments.
package staff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no staff member matches the given id.
var ErrNotFound = errors.New("staff member not found")

// Member is one staff user.
type Member struct {
	ID        uuid.UUID  `json:"id"`
	ClinicID  *uuid.UUID `json:"clinic_id,omitempty"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	Specialty string     `json:"specialty,omitempty"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres-backed staff repository.
type Store struct {
	db DB
}

// NewStore creates a staff store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const memberColumns = `id, clinic_id, first_name, last_name, email, role, specialty, active, created_at, updated_at`

// Create inserts a new staff member.
func (s *Store) Create(ctx context.Context, m *Member) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.Active = true

	_, err := s.db.Exec(ctx, `
		INSERT INTO staff_users (id, clinic_id, first_name, last_name, email, role, specialty, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $8)`,
		m.ID, m.ClinicID, m.FirstName, m.LastName, m.Email, m.Role, m.Specialty, now)
	if err != nil {
		return fmt.Errorf("staff: insert: %w", err)
	}
	return nil
}

// GetByID loads one staff member.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Member, error) {
	row := s.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM staff_users WHERE id = $1`, id)
	m, err := scanMember(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("staff: get by id: %w", err)
	}
	return m, nil
}

// List returns active staff, optionally filtered by role (e.g. "dentist").
func (s *Store) List(ctx context.Context, role string, clinicID *uuid.UUID) ([]Member, error) {
	query := `SELECT ` + memberColumns + ` FROM staff_users WHERE active`
	args := []any{}
	idx := 1
	if role != "" {
		query += fmt.Sprintf(` AND role = $%d`, idx)
		args = append(args, role)
		idx++
	}
	if clinicID != nil {
		query += fmt.Sprintf(` AND (clinic_id IS NULL OR clinic_id = $%d)`, idx)
		args = append(args, *clinicID)
	}
	query += ` ORDER BY last_name, first_name`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("staff: list: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("staff: scan: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Deactivate retires a staff member without deleting history.
func (s *Store) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `UPDATE staff_users SET active = FALSE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("staff: deactivate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*Member, error) {
	var m Member
	if err := row.Scan(&m.ID, &m.ClinicID, &m.FirstName, &m.LastName, &m.Email,
		&m.Role, &m.Specialty, &m.Active, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
