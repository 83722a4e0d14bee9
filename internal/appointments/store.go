package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/novadental/clinic-api/internal/schedule"
)

// DB abstracts the pgx pool for testing.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres-backed appointment repository. Booking and reschedule
// approval run inside a transaction holding row locks on the dentist's
// same-day active appointments, so two concurrent requests for one slot
// cannot both pass the conflict check.
type Store struct {
	db DB
}

// NewStore creates an appointment store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const apptColumns = `id, clinic_id, patient_id, dentist_id, service_id,
	to_char(date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI'),
	duration_minutes, status, prior_status, notes, created_at, updated_at`

func activeStatusStrings() []string {
	out := make([]string, len(ActiveStatuses))
	for i, s := range ActiveStatuses {
		out[i] = string(s)
	}
	return out
}

// Book inserts a pending appointment after re-checking, under lock, that no
// active appointment overlaps the dentist's slot. First booked wins.
func (s *Store) Book(ctx context.Context, appt *Appointment) error {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	now := time.Now().UTC()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	if appt.Status == "" {
		appt.Status = StatusPending
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointments: begin book: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if appt.DentistID != nil {
		if err := lockAndCheckSlot(ctx, tx, *appt.DentistID, appt.Date, appt.StartTime, appt.DurationMinutes, uuid.Nil); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (id, clinic_id, patient_id, dentist_id, service_id, date, start_time, duration_minutes, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7::time, $8, $9, $10, $11, $11)`,
		appt.ID, appt.ClinicID, appt.PatientID, appt.DentistID, appt.ServiceID,
		appt.Date, appt.StartTime, appt.DurationMinutes, string(appt.Status), appt.Notes, now)
	if err != nil {
		return fmt.Errorf("appointments: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("appointments: commit book: %w", err)
	}
	return nil
}

// lockAndCheckSlot locks the dentist's active appointments on the date and
// returns a ConflictError if any overlaps the candidate slot. excludeID
// skips the appointment being rescheduled.
func lockAndCheckSlot(ctx context.Context, tx pgx.Tx, dentistID uuid.UUID, date, startTime string, durationMinutes int, excludeID uuid.UUID) error {
	cand, err := schedule.NewInterval(startTime, durationMinutes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, to_char(start_time, 'HH24:MI'), duration_minutes
		FROM appointments
		WHERE dentist_id = $1 AND date = $2::date AND status = ANY($3) AND id <> $4
		FOR UPDATE`,
		dentistID, date, activeStatusStrings(), excludeID)
	if err != nil {
		return fmt.Errorf("appointments: lock slot: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id       uuid.UUID
			start    string
			duration int
		)
		if err := rows.Scan(&id, &start, &duration); err != nil {
			return fmt.Errorf("appointments: scan locked row: %w", err)
		}
		existing, err := schedule.NewInterval(start, duration)
		if err != nil {
			return fmt.Errorf("appointments: stored slot %s: %w", id, err)
		}
		if existing.Overlaps(cand) {
			return &ConflictError{ConflictingID: id, DentistID: dentistID, Date: date, StartTime: start}
		}
	}
	return rows.Err()
}

// GetByID loads one appointment.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+apptColumns+` FROM appointments WHERE id = $1`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointments: get by id: %w", err)
	}
	return appt, nil
}

// List returns a filtered, paginated page plus the total match count.
func (s *Store) List(ctx context.Context, f ListFilter) ([]Appointment, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	idx := 1
	add := func(clause string, val any) {
		where += fmt.Sprintf(clause, idx)
		args = append(args, val)
		idx++
	}
	if f.ClinicID != nil {
		add(" AND clinic_id = $%d", *f.ClinicID)
	}
	if f.PatientID != nil {
		add(" AND patient_id = $%d", *f.PatientID)
	}
	if f.DentistID != nil {
		add(" AND dentist_id = $%d", *f.DentistID)
	}
	if f.Status != nil {
		add(" AND status = $%d", string(*f.Status))
	}
	if f.Date != nil {
		add(" AND date = $%d::date", *f.Date)
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM appointments`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("appointments: count: %w", err)
	}

	if f.PerPage <= 0 || f.PerPage > 100 {
		f.PerPage = 20
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	query := `SELECT ` + apptColumns + ` FROM appointments` + where +
		fmt.Sprintf(" ORDER BY date, start_time LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, f.PerPage, (f.Page-1)*f.PerPage)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("appointments: list: %w", err)
	}
	defer rows.Close()

	out, err := scanAppointments(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// CountActiveForPatient counts the patient's slot-holding appointments with
// dates in [fromDate, toDate], excluding excludeID.
func (s *Store) CountActiveForPatient(ctx context.Context, patientID uuid.UUID, fromDate, toDate string, excludeID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE patient_id = $1 AND status = ANY($2)
		  AND date BETWEEN $3::date AND $4::date AND id <> $5`,
		patientID, activeStatusStrings(), fromDate, toDate, excludeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("appointments: count active for patient: %w", err)
	}
	return n, nil
}

// CreatePendingRequest atomically records a change request and moves the
// appointment into the matching *_requested status. The status guard inside
// the transaction enforces the pending gate: an appointment already carrying
// a pending request (or outside pending/confirmed) rejects the new request.
func (s *Store) CreatePendingRequest(ctx context.Context, req *ChangeRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.State = RequestPending
	req.RequestedAt = time.Now().UTC()

	newStatus := StatusRescheduleRequested
	if req.Kind == KindCancel {
		newStatus = StatusCancelRequested
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointments: begin request: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1 FOR UPDATE`, req.AppointmentID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("appointments: lock for request: %w", err)
	}
	if cur := Status(current); cur != StatusPending && cur != StatusConfirmed {
		return fmt.Errorf("%w: cannot request %s while %s", ErrInvalidTransition, req.Kind, cur)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO change_requests (id, appointment_id, kind, state, proposed_date, proposed_time, proposed_service_id, proposed_dentist_id, proposed_notes, reason, requested_by, requested_at)
		VALUES ($1, $2, $3, 'pending', NULLIF($4, '')::date, NULLIF($5, '')::time, $6, $7, $8, $9, $10, $11)`,
		req.ID, req.AppointmentID, string(req.Kind), req.ProposedDate, req.ProposedTime,
		req.ProposedServiceID, req.ProposedDentistID, req.ProposedNotes, req.Reason,
		req.RequestedBy, req.RequestedAt)
	if err != nil {
		return fmt.Errorf("appointments: insert change request: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE appointments SET prior_status = status, status = $1, updated_at = $2 WHERE id = $3`,
		string(newStatus), req.RequestedAt, req.AppointmentID)
	if err != nil {
		return fmt.Errorf("appointments: mark requested: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("appointments: commit request: %w", err)
	}
	return nil
}

// PendingRequest returns the pending change request for an appointment, or
// nil when there is none.
func (s *Store) PendingRequest(ctx context.Context, appointmentID uuid.UUID) (*ChangeRequest, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, appointment_id, kind, state,
		       COALESCE(to_char(proposed_date, 'YYYY-MM-DD'), ''), COALESCE(to_char(proposed_time, 'HH24:MI'), ''),
		       proposed_service_id, proposed_dentist_id, COALESCE(proposed_notes, ''), COALESCE(reason, ''),
		       requested_by, requested_at, resolved_by, resolved_at, COALESCE(resolution_note, '')
		FROM change_requests
		WHERE appointment_id = $1 AND state = 'pending'`, appointmentID)
	req, err := scanChangeRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: pending request: %w", err)
	}
	return req, nil
}

// ApproveReschedule applies a pending reschedule: under lock it re-checks the
// proposed slot against current bookings, then copies the proposal into the
// primary fields and confirms the appointment. On conflict the request stays
// pending so staff can reject it or the patient can propose another slot.
func (s *Store) ApproveReschedule(ctx context.Context, req *ChangeRequest, target *Appointment, resolvedBy uuid.UUID) (*Appointment, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: begin approve: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if target.DentistID != nil {
		if err := lockAndCheckSlot(ctx, tx, *target.DentistID, target.Date, target.StartTime, target.DurationMinutes, req.AppointmentID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE change_requests SET state = 'approved', resolved_by = $1, resolved_at = $2
		WHERE id = $3 AND state = 'pending'`, resolvedBy, now, req.ID)
	if err != nil {
		return nil, fmt.Errorf("appointments: approve request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: request %s is not pending", ErrInvalidTransition, req.ID)
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET date = $1::date, start_time = $2::time, dentist_id = $3, service_id = $4,
		    duration_minutes = $5, status = 'confirmed', prior_status = NULL, updated_at = $6
		WHERE id = $7 AND status = 'reschedule_requested'
		RETURNING `+apptColumns,
		target.Date, target.StartTime, target.DentistID, target.ServiceID,
		target.DurationMinutes, now, req.AppointmentID)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: appointment %s is not awaiting reschedule approval", ErrInvalidTransition, req.AppointmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: apply reschedule: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointments: commit approve: %w", err)
	}
	return appt, nil
}

// ApproveCancel applies a pending cancellation.
func (s *Store) ApproveCancel(ctx context.Context, req *ChangeRequest, resolvedBy uuid.UUID) (*Appointment, error) {
	return s.resolveRequest(ctx, req, RequestApproved, resolvedBy, "", `
		UPDATE appointments SET status = 'cancelled', prior_status = NULL, updated_at = $1
		WHERE id = $2 AND status = 'cancel_requested'
		RETURNING `+apptColumns)
}

// RejectRequest rejects a pending request and reverts the appointment to its
// prior status. The primary schedule fields are never touched.
func (s *Store) RejectRequest(ctx context.Context, req *ChangeRequest, resolvedBy uuid.UUID, note string) (*Appointment, error) {
	expected := string(StatusRescheduleRequested)
	if req.Kind == KindCancel {
		expected = string(StatusCancelRequested)
	}
	return s.resolveRequest(ctx, req, RequestRejected, resolvedBy, note, `
		UPDATE appointments SET status = prior_status, prior_status = NULL, updated_at = $1
		WHERE id = $2 AND status = '`+expected+`' AND prior_status IS NOT NULL
		RETURNING `+apptColumns)
}

func (s *Store) resolveRequest(ctx context.Context, req *ChangeRequest, state RequestState, resolvedBy uuid.UUID, note, apptUpdate string) (*Appointment, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: begin resolve: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE change_requests SET state = $1, resolved_by = $2, resolved_at = $3, resolution_note = $4
		WHERE id = $5 AND state = 'pending'`, string(state), resolvedBy, now, note, req.ID)
	if err != nil {
		return nil, fmt.Errorf("appointments: resolve request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: request %s is not pending", ErrInvalidTransition, req.ID)
	}

	row := tx.QueryRow(ctx, apptUpdate, now, req.AppointmentID)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: appointment %s is not awaiting resolution", ErrInvalidTransition, req.AppointmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: apply resolution: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointments: commit resolve: %w", err)
	}
	return appt, nil
}

// UpdateStatus performs a guarded direct status change (staff patch path).
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, allowedFrom []Status, to Status) (*Appointment, error) {
	from := make([]string, len(allowedFrom))
	for i, st := range allowedFrom {
		from[i] = string(st)
	}
	row := s.db.QueryRow(ctx, `
		UPDATE appointments SET status = $1, updated_at = $2
		WHERE id = $3 AND status = ANY($4)
		RETURNING `+apptColumns,
		string(to), time.Now().UTC(), id, from)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := s.GetByID(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("%w: cannot move appointment %s to %s", ErrInvalidTransition, id, to)
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: update status: %w", err)
	}
	return appt, nil
}

// UpdateNotes updates the free-text notes.
func (s *Store) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE appointments SET notes = $1, updated_at = $2 WHERE id = $3
		RETURNING `+apptColumns, notes, time.Now().UTC(), id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: update notes: %w", err)
	}
	return appt, nil
}

// Stats aggregates dashboard counts, optionally scoped to one clinic.
func (s *Store) Stats(ctx context.Context, clinicID *uuid.UUID, today string) (*Stats, error) {
	clause := ""
	args := []any{today, activeStatusStrings()}
	if clinicID != nil {
		clause = " AND clinic_id = $3"
		args = append(args, *clinicID)
	}
	stats := &Stats{}
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE date = $1::date),
		       COUNT(*) FILTER (WHERE date >= $1::date AND status = ANY($2)),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'cancelled')
		FROM appointments WHERE 1=1`+clause, args...).
		Scan(&stats.Total, &stats.Today, &stats.Scheduled, &stats.Completed, &stats.Cancelled)
	if err != nil {
		return nil, fmt.Errorf("appointments: stats: %w", err)
	}
	return stats, nil
}

// Upcoming lists forward-looking active appointments from the given moment.
func (s *Store) Upcoming(ctx context.Context, clinicID *uuid.UUID, fromDate, fromTime string, limit int) ([]Appointment, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	clause := ""
	args := []any{fromDate, fromTime, activeStatusStrings()}
	if clinicID != nil {
		clause = " AND clinic_id = $4"
		args = append(args, *clinicID)
	}
	args = append(args, limit)
	rows, err := s.db.Query(ctx, `
		SELECT `+apptColumns+` FROM appointments
		WHERE (date > $1::date OR (date = $1::date AND start_time >= $2::time))
		  AND status = ANY($3)`+clause+`
		ORDER BY date, start_time
		LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("appointments: upcoming: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// BookedIntervals returns the dentist's occupied intervals on a date. The
// availability slot finder subtracts them from the open windows.
func (s *Store) BookedIntervals(ctx context.Context, dentistID uuid.UUID, date string) ([]schedule.Interval, error) {
	rows, err := s.db.Query(ctx, `
		SELECT to_char(start_time, 'HH24:MI'), duration_minutes
		FROM appointments
		WHERE dentist_id = $1 AND date = $2::date AND status = ANY($3)`,
		dentistID, date, activeStatusStrings())
	if err != nil {
		return nil, fmt.Errorf("appointments: booked intervals: %w", err)
	}
	defer rows.Close()

	var out []schedule.Interval
	for rows.Next() {
		var (
			start    string
			duration int
		)
		if err := rows.Scan(&start, &duration); err != nil {
			return nil, fmt.Errorf("appointments: scan booked interval: %w", err)
		}
		iv, err := schedule.NewInterval(start, duration)
		if err != nil {
			continue
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (*Appointment, error) {
	var (
		a     Appointment
		st    string
		prior *string
	)
	if err := row.Scan(&a.ID, &a.ClinicID, &a.PatientID, &a.DentistID, &a.ServiceID,
		&a.Date, &a.StartTime, &a.DurationMinutes, &st, &prior, &a.Notes,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = Status(st)
	if prior != nil {
		p := Status(*prior)
		a.PriorStatus = &p
	}
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan row: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanChangeRequest(row rowScanner) (*ChangeRequest, error) {
	var (
		r     ChangeRequest
		kind  string
		state string
	)
	if err := row.Scan(&r.ID, &r.AppointmentID, &kind, &state,
		&r.ProposedDate, &r.ProposedTime, &r.ProposedServiceID, &r.ProposedDentistID,
		&r.ProposedNotes, &r.Reason, &r.RequestedBy, &r.RequestedAt,
		&r.ResolvedBy, &r.ResolvedAt, &r.ResolutionNote); err != nil {
		return nil, err
	}
	r.Kind = RequestKind(kind)
	r.State = RequestState(state)
	return &r, nil
}

