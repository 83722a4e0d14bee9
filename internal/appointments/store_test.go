package appointments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, NewStore(mock)
}

func lockColumns() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "start_time", "duration_minutes"})
}

func TestStoreBookInsertsWhenSlotFree(t *testing.T) {
	mock, store := newMockStore(t)
	dentist := uuid.New()
	appt := &Appointment{
		ClinicID:        uuid.New(),
		PatientID:       uuid.New(),
		DentistID:       &dentist,
		Date:            "2026-03-10",
		StartTime:       "10:00",
		DurationMinutes: 30,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, to_char").
		WithArgs(dentist, "2026-03-10", activeStatusStrings(), uuid.Nil).
		WillReturnRows(lockColumns())
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), appt.ClinicID, appt.PatientID, appt.DentistID, pgxmock.AnyArg(),
			"2026-03-10", "10:00", 30, "pending", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	if err := store.Book(context.Background(), appt); err != nil {
		t.Fatalf("expected booking to succeed, got %v", err)
	}
	if appt.ID == uuid.Nil {
		t.Fatal("expected an id to be assigned")
	}
	if appt.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", appt.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreBookRejectsOverlap(t *testing.T) {
	mock, store := newMockStore(t)
	dentist := uuid.New()
	existingID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, to_char").
		WithArgs(dentist, "2026-03-10", activeStatusStrings(), uuid.Nil).
		WillReturnRows(lockColumns().AddRow(existingID, "10:00", 30))
	mock.ExpectRollback()

	err := store.Book(context.Background(), &Appointment{
		ClinicID:        uuid.New(),
		PatientID:       uuid.New(),
		DentistID:       &dentist,
		Date:            "2026-03-10",
		StartTime:       "10:15",
		DurationMinutes: 30,
	})
	if !errors.Is(err, ErrSchedulingConflict) {
		t.Fatalf("expected scheduling conflict, got %v", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.ConflictingID != existingID {
		t.Fatalf("expected conflict with %s, got %v", existingID, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreBookAllowsAdjacentSlot(t *testing.T) {
	mock, store := newMockStore(t)
	dentist := uuid.New()
	appt := &Appointment{
		ClinicID:        uuid.New(),
		PatientID:       uuid.New(),
		DentistID:       &dentist,
		Date:            "2026-03-10",
		StartTime:       "10:30",
		DurationMinutes: 30,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, to_char").
		WithArgs(dentist, "2026-03-10", activeStatusStrings(), uuid.Nil).
		WillReturnRows(lockColumns().AddRow(uuid.New(), "10:00", 30))
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), appt.ClinicID, appt.PatientID, appt.DentistID, pgxmock.AnyArg(),
			"2026-03-10", "10:30", 30, "pending", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	// 10:30 starts exactly where the existing block ends.
	err := store.Book(context.Background(), appt)
	if err != nil {
		t.Fatalf("expected adjacent booking to succeed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreGetByIDNotFound(t *testing.T) {
	mock, store := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT id, clinic_id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetByID(context.Background(), id)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreCreatePendingRequestGate(t *testing.T) {
	mock, store := newMockStore(t)
	apptID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM appointments").
		WithArgs(apptID).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("reschedule_requested"))
	mock.ExpectRollback()

	err := store.CreatePendingRequest(context.Background(), &ChangeRequest{
		AppointmentID: apptID,
		Kind:          KindCancel,
		Reason:        "travel",
		RequestedBy:   uuid.New(),
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreCreatePendingRequestHappyPath(t *testing.T) {
	mock, store := newMockStore(t)
	apptID := uuid.New()
	req := &ChangeRequest{
		AppointmentID: apptID,
		Kind:          KindReschedule,
		ProposedDate:  "2026-03-11",
		ProposedTime:  "14:00",
		RequestedBy:   uuid.New(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM appointments").
		WithArgs(apptID).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectExec("INSERT INTO change_requests").
		WithArgs(pgxmock.AnyArg(), apptID, "reschedule", "2026-03-11", "14:00",
			pgxmock.AnyArg(), pgxmock.AnyArg(), "", "", req.RequestedBy, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE appointments SET prior_status").
		WithArgs("reschedule_requested", pgxmock.AnyArg(), apptID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	if err := store.CreatePendingRequest(context.Background(), req); err != nil {
		t.Fatalf("expected request to be created, got %v", err)
	}
	if req.State != RequestPending {
		t.Fatalf("expected pending state, got %s", req.State)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreUpdateStatusDisambiguatesNotFound(t *testing.T) {
	mock, store := newMockStore(t)
	id := uuid.New()
	now := time.Now().UTC()

	// Guarded update misses, and the row does not exist at all.
	mock.ExpectQuery("UPDATE appointments SET status").
		WithArgs("confirmed", pgxmock.AnyArg(), id, []string{"pending"}).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT id, clinic_id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.UpdateStatus(context.Background(), id, []Status{StatusPending}, StatusConfirmed)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	// Guarded update misses but the row exists: the current status forbids it.
	clinic := uuid.New()
	patient := uuid.New()
	mock.ExpectQuery("UPDATE appointments SET status").
		WithArgs("confirmed", pgxmock.AnyArg(), id, []string{"pending"}).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT id, clinic_id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "clinic_id", "patient_id", "dentist_id", "service_id",
			"date", "start_time", "duration_minutes", "status", "prior_status",
			"notes", "created_at", "updated_at",
		}).AddRow(id, clinic, patient, nil, nil, "2026-03-10", "10:00", 30,
			"completed", nil, "", now, now))

	_, err = store.UpdateStatus(context.Background(), id, []Status{StatusPending}, StatusConfirmed)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStorePendingRequestReadsUnresolvedRow(t *testing.T) {
	mock, store := newMockStore(t)
	apptID := uuid.New()
	reqID := uuid.New()
	requestedBy := uuid.New()
	now := time.Now().UTC()

	// A pending row has never been resolved; resolution_note (and, on legacy
	// rows, proposed_notes/reason) can be NULL, so the query must coalesce
	// them before scanning into plain strings.
	mock.ExpectQuery(`SELECT id, appointment_id, kind, state,\s*` +
		`COALESCE\(to_char\(proposed_date, 'YYYY-MM-DD'\), ''\), COALESCE\(to_char\(proposed_time, 'HH24:MI'\), ''\),\s*` +
		`proposed_service_id, proposed_dentist_id, COALESCE\(proposed_notes, ''\), COALESCE\(reason, ''\),\s*` +
		`requested_by, requested_at, resolved_by, resolved_at, COALESCE\(resolution_note, ''\)`).
		WithArgs(apptID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "appointment_id", "kind", "state",
			"proposed_date", "proposed_time", "proposed_service_id", "proposed_dentist_id",
			"proposed_notes", "reason", "requested_by", "requested_at",
			"resolved_by", "resolved_at", "resolution_note",
		}).AddRow(reqID, apptID, "reschedule", "pending",
			"2026-03-11", "14:00", nil, nil,
			"", "", requestedBy, now,
			nil, nil, ""))

	req, err := store.PendingRequest(context.Background(), apptID)
	if err != nil {
		t.Fatalf("expected pending request, got %v", err)
	}
	if req == nil || req.ID != reqID {
		t.Fatalf("expected request %s, got %+v", reqID, req)
	}
	if req.ResolutionNote != "" || req.ResolvedBy != nil || req.ResolvedAt != nil {
		t.Fatalf("expected unresolved request, got %+v", req)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
