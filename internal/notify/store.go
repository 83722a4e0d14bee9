package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres-backed notification log.
type Store struct {
	db DB
}

// NewStore creates a notification log store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Insert appends one notification to the log.
func (s *Store) Insert(ctx context.Context, n Notification) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO notifications (id, appointment_id, patient_id, kind, recipient, subject, body, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.AppointmentID, n.PatientID, n.Kind, n.Recipient, n.Subject, n.Body, n.SentAt)
	if err != nil {
		return fmt.Errorf("notify: insert notification: %w", err)
	}
	return nil
}

// ListForPatient returns a patient's notification history, newest first.
func (s *Store) ListForPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, appointment_id, patient_id, kind, recipient, subject, body, sent_at
		FROM notifications
		WHERE patient_id = $1
		ORDER BY sent_at DESC
		LIMIT $2`, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.AppointmentID, &n.PatientID, &n.Kind, &n.Recipient, &n.Subject, &n.Body, &n.SentAt); err != nil {
			return nil, fmt.Errorf("notify: scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
