// Package audit keeps an immutable trail of appointment lifecycle
// transitions for compliance review.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/novadental/clinic-api/internal/appointments"
	"github.com/novadental/clinic-api/pkg/logging"
)

// Event is one immutable audit record.
type Event struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	AppointmentID string          `json:"appointment_id"`
	ClinicID      string          `json:"clinic_id"`
	Actor         string          `json:"actor"`
	FromStatus    string          `json:"from_status,omitempty"`
	ToStatus      string          `json:"to_status"`
	Reason        string          `json:"reason,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Store persists audit events.
type Store struct {
	db *sql.DB
}

// NewStore creates an audit store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert records one audit event.
func (s *Store) Insert(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_events (
			id, kind, appointment_id, clinic_id, actor,
			from_status, to_status, reason, details, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Kind,
		event.AppointmentID,
		event.ClinicID,
		event.Actor,
		nullString(event.FromStatus),
		event.ToStatus,
		nullString(event.Reason),
		event.Details,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// ListForAppointment returns the trail for one appointment, oldest first.
func (s *Store) ListForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, appointment_id, clinic_id, actor,
		       COALESCE(from_status, ''), to_status, COALESCE(reason, ''), details, occurred_at
		FROM audit_events
		WHERE appointment_id = $1
		ORDER BY occurred_at`, appointmentID.String())
	if err != nil {
		return nil, fmt.Errorf("audit: list for appointment: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.AppointmentID, &e.ClinicID, &e.Actor,
			&e.FromStatus, &e.ToStatus, &e.Reason, &e.Details, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Recorder adapts the store to the appointment lifecycle event stream.
// Failures are logged, never propagated: the audit trail must not break
// bookings.
type Recorder struct {
	store  *Store
	logger *logging.Logger
}

// NewRecorder creates an audit recorder.
func NewRecorder(store *Store, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// RecordTransition persists one lifecycle transition.
func (r *Recorder) RecordTransition(ctx context.Context, evt appointments.TransitionEvent) {
	details, err := json.Marshal(evt.Appointment)
	if err != nil {
		r.logger.Error("audit: marshal appointment failed", "error", err)
		details = nil
	}

	event := Event{
		Kind:          evt.Kind,
		AppointmentID: evt.Appointment.ID.String(),
		ClinicID:      evt.Appointment.ClinicID.String(),
		Actor:         evt.Actor.String(),
		FromStatus:    string(evt.From),
		ToStatus:      string(evt.To),
		Reason:        evt.Reason,
		Details:       details,
		OccurredAt:    evt.OccurredAt,
	}
	if err := r.store.Insert(ctx, event); err != nil {
		r.logger.Error("audit: record transition failed",
			"error", err, "kind", evt.Kind, "appointment_id", event.AppointmentID)
	}
}
