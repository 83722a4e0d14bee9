package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no availability row matches the given id.
var ErrNotFound = errors.New("availability not found")

// ErrInvalidWindow is returned for malformed or empty windows.
var ErrInvalidWindow = errors.New("invalid availability window")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides persistence for availability windows and blocked slots.
type Store struct {
	db DB
}

// NewStore creates an availability store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Upsert inserts or updates the window for (dentist, weekday|date, clinic).
// A prior bug class in clinic schedulers is duplicate rows per tuple; the
// unique indexes plus ON CONFLICT keep one row per tuple.
func (s *Store) Upsert(ctx context.Context, a *Availability) error {
	if (a.Weekday == nil) == (a.Date == nil) {
		return fmt.Errorf("%w: exactly one of weekday or date must be set", ErrInvalidWindow)
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	if a.Weekday != nil {
		row := s.db.QueryRow(ctx, `
			INSERT INTO availabilities (id, dentist_id, clinic_id, weekday, start_time, end_time, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5::time, $6::time, $7, $7)
			ON CONFLICT (dentist_id, weekday, COALESCE(clinic_id, '00000000-0000-0000-0000-000000000000'::uuid)) WHERE weekday IS NOT NULL
			DO UPDATE SET start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time, updated_at = EXCLUDED.updated_at
			RETURNING id`,
			a.ID, a.DentistID, a.ClinicID, *a.Weekday, a.StartTime, a.EndTime, now)
		if err := row.Scan(&a.ID); err != nil {
			return fmt.Errorf("availability: upsert weekly: %w", err)
		}
		return nil
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO availabilities (id, dentist_id, clinic_id, date, start_time, end_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date, $5::time, $6::time, $7, $7)
		ON CONFLICT (dentist_id, date, COALESCE(clinic_id, '00000000-0000-0000-0000-000000000000'::uuid)) WHERE date IS NOT NULL
		DO UPDATE SET start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time, updated_at = EXCLUDED.updated_at
		RETURNING id`,
		a.ID, a.DentistID, a.ClinicID, *a.Date, a.StartTime, a.EndTime, now)
	if err := row.Scan(&a.ID); err != nil {
		return fmt.Errorf("availability: upsert override: %w", err)
	}
	return nil
}

// ListForDentist returns every window for a dentist, weekly rules first.
func (s *Store) ListForDentist(ctx context.Context, dentistID uuid.UUID) ([]Availability, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, dentist_id, clinic_id, weekday, to_char(date, 'YYYY-MM-DD'),
		       to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), created_at, updated_at
		FROM availabilities
		WHERE dentist_id = $1
		ORDER BY weekday NULLS LAST, date NULLS LAST, start_time`, dentistID)
	if err != nil {
		return nil, fmt.Errorf("availability: list for dentist: %w", err)
	}
	defer rows.Close()
	return scanAvailabilities(rows)
}

// WindowsForDate returns the windows that apply to a dentist on one date:
// specific-date overrides when any exist, otherwise the weekly rules for
// that weekday. Clinic-scoped rows are included when they match clinicID or
// apply to all clinics.
func (s *Store) WindowsForDate(ctx context.Context, dentistID uuid.UUID, clinicID uuid.UUID, date string, weekday int) ([]Availability, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, dentist_id, clinic_id, weekday, to_char(date, 'YYYY-MM-DD'),
		       to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), created_at, updated_at
		FROM availabilities
		WHERE dentist_id = $1
		  AND (clinic_id IS NULL OR clinic_id = $2)
		  AND (date = $3::date OR weekday = $4)
		ORDER BY start_time`, dentistID, clinicID, date, weekday)
	if err != nil {
		return nil, fmt.Errorf("availability: windows for date: %w", err)
	}
	defer rows.Close()

	all, err := scanAvailabilities(rows)
	if err != nil {
		return nil, err
	}

	// A specific-date override replaces the weekly rule entirely.
	var overrides, weekly []Availability
	for _, a := range all {
		if a.Date != nil {
			overrides = append(overrides, a)
		} else {
			weekly = append(weekly, a)
		}
	}
	if len(overrides) > 0 {
		return overrides, nil
	}
	return weekly, nil
}

// Delete removes an availability window.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM availabilities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("availability: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateBlocked inserts a blocked time slot.
func (s *Store) CreateBlocked(ctx context.Context, b *BlockedTimeSlot) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO blocked_time_slots (id, dentist_id, date, start_time, end_time, reason, created_at)
		VALUES ($1, $2, $3::date, $4::time, $5::time, $6, $7)`,
		b.ID, b.DentistID, b.Date, b.StartTime, b.EndTime, b.Reason, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("availability: create blocked slot: %w", err)
	}
	return nil
}

// BlockedForDate returns the blocked slots for a dentist on one date.
func (s *Store) BlockedForDate(ctx context.Context, dentistID uuid.UUID, date string) ([]BlockedTimeSlot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, dentist_id, to_char(date, 'YYYY-MM-DD'),
		       to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), reason, created_at
		FROM blocked_time_slots
		WHERE dentist_id = $1 AND date = $2::date
		ORDER BY start_time`, dentistID, date)
	if err != nil {
		return nil, fmt.Errorf("availability: blocked for date: %w", err)
	}
	defer rows.Close()

	var out []BlockedTimeSlot
	for rows.Next() {
		var b BlockedTimeSlot
		if err := rows.Scan(&b.ID, &b.DentistID, &b.Date, &b.StartTime, &b.EndTime, &b.Reason, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("availability: scan blocked slot: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBlocked removes a blocked time slot.
func (s *Store) DeleteBlocked(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM blocked_time_slots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("availability: delete blocked slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAvailabilities(rows pgx.Rows) ([]Availability, error) {
	var out []Availability
	for rows.Next() {
		var a Availability
		if err := rows.Scan(&a.ID, &a.DentistID, &a.ClinicID, &a.Weekday, &a.Date,
			&a.StartTime, &a.EndTime, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("availability: scan row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
