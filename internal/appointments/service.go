package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/novadental/clinic-api/internal/clinics"
	"github.com/novadental/clinic-api/internal/observability/metrics"
	"github.com/novadental/clinic-api/internal/schedule"
	"github.com/novadental/clinic-api/pkg/logging"
)

var tracer = otel.Tracer("novadental.internal.appointments")

// ErrValidation wraps malformed or missing booking fields.
var ErrValidation = errors.New("validation error")

// Repository is the persistence contract the service depends on. The
// Postgres store implements it; tests use an in-memory fake.
type Repository interface {
	Book(ctx context.Context, appt *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f ListFilter) ([]Appointment, int, error)
	CountActiveForPatient(ctx context.Context, patientID uuid.UUID, fromDate, toDate string, excludeID uuid.UUID) (int, error)
	CreatePendingRequest(ctx context.Context, req *ChangeRequest) error
	PendingRequest(ctx context.Context, appointmentID uuid.UUID) (*ChangeRequest, error)
	ApproveReschedule(ctx context.Context, req *ChangeRequest, target *Appointment, resolvedBy uuid.UUID) (*Appointment, error)
	ApproveCancel(ctx context.Context, req *ChangeRequest, resolvedBy uuid.UUID) (*Appointment, error)
	RejectRequest(ctx context.Context, req *ChangeRequest, resolvedBy uuid.UUID, note string) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, allowedFrom []Status, to Status) (*Appointment, error)
	UpdateNotes(ctx context.Context, id uuid.UUID, notes string) (*Appointment, error)
	Stats(ctx context.Context, clinicID *uuid.UUID, today string) (*Stats, error)
	Upcoming(ctx context.Context, clinicID *uuid.UUID, fromDate, fromTime string, limit int) ([]Appointment, error)
}

// AvailabilityResolver yields the open intervals for a dentist on a date.
type AvailabilityResolver interface {
	OpenWindows(ctx context.Context, dentistID uuid.UUID, clinicID uuid.UUID, date string) ([]schedule.Interval, error)
}

// ServiceCatalog resolves a dental service's duration.
type ServiceCatalog interface {
	DurationMinutes(ctx context.Context, serviceID uuid.UUID) (int, error)
}

// PolicySource retrieves per-clinic scheduling policies.
type PolicySource interface {
	Get(ctx context.Context, clinicID string) (*clinics.Settings, error)
}

// TransitionEvent describes one appointment lifecycle transition. It feeds
// the audit trail, the notification sink and the live board; all of them are
// fire-and-forget — a sink failure never fails the primary operation.
type TransitionEvent struct {
	Kind        string      `json:"kind"`
	Appointment Appointment `json:"appointment"`
	From        Status      `json:"from,omitempty"`
	To          Status      `json:"to"`
	Actor       uuid.UUID   `json:"actor"`
	Reason      string      `json:"reason,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

// Transition event kinds.
const (
	EventBooked              = "appointment.booked"
	EventRescheduleRequested = "appointment.reschedule_requested"
	EventRescheduleApproved  = "appointment.reschedule_approved"
	EventRescheduleRejected  = "appointment.reschedule_rejected"
	EventCancelRequested     = "appointment.cancel_requested"
	EventCancelApproved      = "appointment.cancel_approved"
	EventCancelRejected      = "appointment.cancel_rejected"
	EventStatusChanged       = "appointment.status_changed"
)

// TransitionRecorder consumes lifecycle events. Implementations log their own
// failures and never return them.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, evt TransitionEvent)
}

// ServiceConfig wires the appointment service.
type ServiceConfig struct {
	Repo      Repository
	Windows   AvailabilityResolver
	Catalog   ServiceCatalog
	Policies  PolicySource
	Recorders []TransitionRecorder
	Metrics   *metrics.SchedulingMetrics
	Logger    *logging.Logger

	// Location interprets wall-clock schedule values.
	Location        *time.Location
	DefaultClinicID uuid.UUID
	// DefaultDurationMinutes applies when no service is attached.
	DefaultDurationMinutes int
	MinNoticeMinutes       int

	// Now is overridable in tests.
	Now func() time.Time
}

// Service coordinates the appointment lifecycle.
type Service struct {
	repo      Repository
	windows   AvailabilityResolver
	catalog   ServiceCatalog
	policies  PolicySource
	recorders []TransitionRecorder
	metrics   *metrics.SchedulingMetrics
	logger    *logging.Logger

	loc             *time.Location
	defaultClinicID uuid.UUID
	defaultDuration int
	minNotice       time.Duration
	now             func() time.Time
}

// NewService creates the appointment service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Repo == nil {
		panic("appointments: repository required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	dur := cfg.DefaultDurationMinutes
	if dur <= 0 {
		dur = 30
	}
	return &Service{
		repo:            cfg.Repo,
		windows:         cfg.Windows,
		catalog:         cfg.Catalog,
		policies:        cfg.Policies,
		recorders:       cfg.Recorders,
		metrics:         cfg.Metrics,
		logger:          logger,
		loc:             loc,
		defaultClinicID: cfg.DefaultClinicID,
		defaultDuration: dur,
		minNotice:       time.Duration(cfg.MinNoticeMinutes) * time.Minute,
		now:             now,
	}
}

// BookRequest is the booking payload.
type BookRequest struct {
	PatientID uuid.UUID  `json:"patient_id"`
	ClinicID  *uuid.UUID `json:"clinic_id,omitempty"`
	DentistID *uuid.UUID `json:"dentist_id,omitempty"`
	ServiceID *uuid.UUID `json:"service_id,omitempty"`
	Date      string     `json:"date"`
	Time      string     `json:"time"`
	Notes     string     `json:"notes,omitempty"`

	// RequestedBy is the authenticated caller, set by the handler.
	RequestedBy uuid.UUID `json:"-"`
}

// Book validates and creates a pending appointment. Conflicts and
// availability violations are reported synchronously; the caller must
// resubmit with different parameters.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.book")
	defer span.End()

	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	clinicID := s.defaultClinicID
	if req.ClinicID != nil {
		clinicID = *req.ClinicID
	}
	if clinicID == uuid.Nil {
		return nil, fmt.Errorf("%w: clinic_id is required", ErrValidation)
	}
	span.SetAttributes(
		attribute.String("clinic_id", clinicID.String()),
		attribute.String("date", req.Date),
	)

	if err := s.checkNotPast(req.Date, req.Time); err != nil {
		span.RecordError(err)
		return nil, err
	}

	duration, err := s.resolveDuration(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}

	if req.DentistID != nil {
		if err := s.checkAvailability(ctx, *req.DentistID, clinicID, req.Date, req.Time, duration); err != nil {
			span.RecordError(err)
			s.metrics.ObserveBooking("rejected_availability")
			return nil, err
		}
	}

	if err := s.checkWeeklyPolicy(ctx, clinicID, req.PatientID, req.Date, uuid.Nil); err != nil {
		s.metrics.ObserveBooking("rejected_policy")
		return nil, err
	}

	appt := &Appointment{
		ClinicID:        clinicID,
		PatientID:       req.PatientID,
		DentistID:       req.DentistID,
		ServiceID:       req.ServiceID,
		Date:            req.Date,
		StartTime:       req.Time,
		DurationMinutes: duration,
		Status:          StatusPending,
		Notes:           req.Notes,
	}
	if err := s.repo.Book(ctx, appt); err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrSchedulingConflict) {
			s.metrics.ObserveBooking("rejected_conflict")
		} else {
			s.metrics.ObserveBooking("error")
		}
		return nil, err
	}

	s.metrics.ObserveBooking("created")
	s.record(ctx, TransitionEvent{
		Kind:        EventBooked,
		Appointment: *appt,
		To:          StatusPending,
		Actor:       req.RequestedBy,
		OccurredAt:  s.now().UTC(),
	})
	return appt, nil
}

// RescheduleRequest is a patient's proposed new slot. Zero-valued fields keep
// the current value.
type RescheduleRequest struct {
	Date      string     `json:"date"`
	Time      string     `json:"time"`
	DentistID *uuid.UUID `json:"dentist_id,omitempty"`
	ServiceID *uuid.UUID `json:"service_id,omitempty"`
	Notes     string     `json:"notes,omitempty"`

	RequestedBy uuid.UUID `json:"-"`
}

// RequestReschedule stages a reschedule proposal. The slot is fully
// re-validated at approval time, not here; only basic sanity is enforced.
func (s *Service) RequestReschedule(ctx context.Context, appointmentID uuid.UUID, req RescheduleRequest) (*ChangeRequest, error) {
	if req.Date == "" && req.Time == "" {
		return nil, fmt.Errorf("%w: a proposed date or time is required", ErrValidation)
	}
	appt, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	date := req.Date
	if date == "" {
		date = appt.Date
	}
	start := req.Time
	if start == "" {
		start = appt.StartTime
	}
	if err := s.checkNotPast(date, start); err != nil {
		return nil, err
	}

	cr := &ChangeRequest{
		AppointmentID:     appointmentID,
		Kind:              KindReschedule,
		ProposedDate:      req.Date,
		ProposedTime:      req.Time,
		ProposedDentistID: req.DentistID,
		ProposedServiceID: req.ServiceID,
		ProposedNotes:     req.Notes,
		RequestedBy:       req.RequestedBy,
	}
	if err := s.repo.CreatePendingRequest(ctx, cr); err != nil {
		return nil, err
	}

	s.metrics.ObserveRequest("reschedule")
	s.record(ctx, TransitionEvent{
		Kind:        EventRescheduleRequested,
		Appointment: *appt,
		From:        appt.Status,
		To:          StatusRescheduleRequested,
		Actor:       req.RequestedBy,
		OccurredAt:  s.now().UTC(),
	})
	return cr, nil
}

// ApproveReschedule re-validates the proposed slot against current bookings
// and availability, then applies it. Bookings made since the request was
// filed can make the approval fail with a conflict; the request then stays
// pending for staff to reject.
func (s *Service) ApproveReschedule(ctx context.Context, appointmentID uuid.UUID, actor uuid.UUID) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.approve_reschedule")
	defer span.End()
	span.SetAttributes(attribute.String("appointment_id", appointmentID.String()))

	appt, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	req, err := s.repo.PendingRequest(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if req == nil || req.Kind != KindReschedule {
		return nil, fmt.Errorf("%w: no pending reschedule request for appointment %s", ErrInvalidTransition, appointmentID)
	}

	target := *appt
	if req.ProposedDate != "" {
		target.Date = req.ProposedDate
	}
	if req.ProposedTime != "" {
		target.StartTime = req.ProposedTime
	}
	if req.ProposedDentistID != nil {
		target.DentistID = req.ProposedDentistID
	}
	if req.ProposedServiceID != nil {
		target.ServiceID = req.ProposedServiceID
		duration, err := s.resolveDuration(ctx, req.ProposedServiceID)
		if err != nil {
			return nil, err
		}
		target.DurationMinutes = duration
	}
	if req.ProposedNotes != "" {
		target.Notes = req.ProposedNotes
	}

	if target.DentistID != nil {
		if err := s.checkAvailability(ctx, *target.DentistID, target.ClinicID, target.Date, target.StartTime, target.DurationMinutes); err != nil {
			span.RecordError(err)
			s.metrics.ObserveResolution("reschedule", "rejected_availability")
			return nil, err
		}
	}

	updated, err := s.repo.ApproveReschedule(ctx, req, &target, actor)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrSchedulingConflict) {
			s.metrics.ObserveResolution("reschedule", "rejected_conflict")
		}
		return nil, err
	}

	s.metrics.ObserveResolution("reschedule", "approved")
	s.record(ctx, TransitionEvent{
		Kind:        EventRescheduleApproved,
		Appointment: *updated,
		From:        StatusRescheduleRequested,
		To:          StatusConfirmed,
		Actor:       actor,
		OccurredAt:  s.now().UTC(),
	})
	return updated, nil
}

// RejectReschedule rejects the pending reschedule and reverts the appointment
// to its prior status without touching the primary schedule.
func (s *Service) RejectReschedule(ctx context.Context, appointmentID uuid.UUID, actor uuid.UUID, reason string) (*Appointment, error) {
	return s.rejectRequest(ctx, appointmentID, KindReschedule, actor, reason)
}

// RequestCancel stages a cancellation; a reason is required.
func (s *Service) RequestCancel(ctx context.Context, appointmentID uuid.UUID, actor uuid.UUID, reason string) (*ChangeRequest, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: %s", ErrValidation, ErrReasonRequired)
	}
	appt, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	cr := &ChangeRequest{
		AppointmentID: appointmentID,
		Kind:          KindCancel,
		Reason:        reason,
		RequestedBy:   actor,
	}
	if err := s.repo.CreatePendingRequest(ctx, cr); err != nil {
		return nil, err
	}

	s.metrics.ObserveRequest("cancel")
	s.record(ctx, TransitionEvent{
		Kind:        EventCancelRequested,
		Appointment: *appt,
		From:        appt.Status,
		To:          StatusCancelRequested,
		Actor:       actor,
		Reason:      reason,
		OccurredAt:  s.now().UTC(),
	})
	return cr, nil
}

// ApproveCancel finalizes a pending cancellation.
func (s *Service) ApproveCancel(ctx context.Context, appointmentID uuid.UUID, actor uuid.UUID) (*Appointment, error) {
	req, err := s.repo.PendingRequest(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if req == nil || req.Kind != KindCancel {
		return nil, fmt.Errorf("%w: no pending cancel request for appointment %s", ErrInvalidTransition, appointmentID)
	}

	updated, err := s.repo.ApproveCancel(ctx, req, actor)
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveResolution("cancel", "approved")
	s.record(ctx, TransitionEvent{
		Kind:        EventCancelApproved,
		Appointment: *updated,
		From:        StatusCancelRequested,
		To:          StatusCancelled,
		Actor:       actor,
		Reason:      req.Reason,
		OccurredAt:  s.now().UTC(),
	})
	return updated, nil
}

// RejectCancel rejects the pending cancellation and reverts the appointment.
func (s *Service) RejectCancel(ctx context.Context, appointmentID uuid.UUID, actor uuid.UUID, reason string) (*Appointment, error) {
	return s.rejectRequest(ctx, appointmentID, KindCancel, actor, reason)
}

func (s *Service) rejectRequest(ctx context.Context, appointmentID uuid.UUID, kind RequestKind, actor uuid.UUID, reason string) (*Appointment, error) {
	req, err := s.repo.PendingRequest(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if req == nil || req.Kind != kind {
		return nil, fmt.Errorf("%w: no pending %s request for appointment %s", ErrInvalidTransition, kind, appointmentID)
	}

	updated, err := s.repo.RejectRequest(ctx, req, actor, reason)
	if err != nil {
		return nil, err
	}

	eventKind := EventRescheduleRejected
	if kind == KindCancel {
		eventKind = EventCancelRejected
	}
	s.metrics.ObserveResolution(string(kind), "rejected")
	s.record(ctx, TransitionEvent{
		Kind:        eventKind,
		Appointment: *updated,
		To:          updated.Status,
		Actor:       actor,
		Reason:      reason,
		OccurredAt:  s.now().UTC(),
	})
	return updated, nil
}

// directTransitions are the staff patch targets and the statuses they may
// come from. *_requested statuses are deliberately absent: appointments with
// a pending change request only move through the approval endpoints.
var directTransitions = map[Status][]Status{
	StatusConfirmed: {StatusPending, StatusWaiting},
	StatusWaiting:   {StatusPending, StatusConfirmed},
	StatusCompleted: {StatusPending, StatusConfirmed, StatusWaiting},
	StatusMissed:    {StatusPending, StatusConfirmed, StatusWaiting},
}

func statusIn(s Status, set []Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// PatchRequest updates notes and/or performs a direct status transition.
type PatchRequest struct {
	Status *Status `json:"status,omitempty"`
	Notes  *string `json:"notes,omitempty"`

	Actor uuid.UUID `json:"-"`
}

// Patch applies a partial update.
func (s *Service) Patch(ctx context.Context, id uuid.UUID, req PatchRequest) (*Appointment, error) {
	if req.Status == nil && req.Notes == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidation)
	}

	// Validate everything against the current row before mutating anything,
	// so a rejected status leg never leaves a half-applied patch behind.
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusRescheduleRequested || current.Status == StatusCancelRequested {
		return nil, fmt.Errorf("%w: appointment %s has a pending change request", ErrInvalidTransition, id)
	}
	var allowedFrom []Status
	if req.Status != nil {
		var ok bool
		allowedFrom, ok = directTransitions[*req.Status]
		if !ok {
			return nil, fmt.Errorf("%w: status %s is not a valid patch target", ErrInvalidTransition, *req.Status)
		}
		if !statusIn(current.Status, allowedFrom) {
			return nil, fmt.Errorf("%w: cannot move appointment %s to %s", ErrInvalidTransition, id, *req.Status)
		}
	}

	appt := current
	if req.Notes != nil {
		appt, err = s.repo.UpdateNotes(ctx, id, *req.Notes)
		if err != nil {
			return nil, err
		}
	}
	if req.Status != nil {
		prev := appt.Status
		appt, err = s.repo.UpdateStatus(ctx, id, allowedFrom, *req.Status)
		if err != nil {
			return nil, err
		}
		s.record(ctx, TransitionEvent{
			Kind:        EventStatusChanged,
			Appointment: *appt,
			From:        prev,
			To:          *req.Status,
			Actor:       req.Actor,
			OccurredAt:  s.now().UTC(),
		})
	}
	return appt, nil
}

// Get loads one appointment.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a filtered page plus the total count.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Appointment, int, error) {
	return s.repo.List(ctx, f)
}

// Stats aggregates dashboard counts for today in the clinic timezone.
func (s *Service) Stats(ctx context.Context, clinicID *uuid.UUID) (*Stats, error) {
	today := s.now().In(s.loc).Format(schedule.DateLayout)
	return s.repo.Stats(ctx, clinicID, today)
}

// Upcoming lists forward-looking appointments from the current moment.
func (s *Service) Upcoming(ctx context.Context, clinicID *uuid.UUID, limit int) ([]Appointment, error) {
	now := s.now().In(s.loc)
	return s.repo.Upcoming(ctx, clinicID, now.Format(schedule.DateLayout), now.Format("15:04"), limit)
}

func (s *Service) checkNotPast(date, start string) error {
	day, err := schedule.ParseDate(date)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	startMin, err := schedule.ParseClock(start)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	startAt := time.Date(day.Year(), day.Month(), day.Day(), startMin/60, startMin%60, 0, 0, s.loc)
	if startAt.Before(s.now().In(s.loc).Add(s.minNotice)) {
		return fmt.Errorf("%w: %s %s is in the past or too soon", ErrInvalidSchedule, date, start)
	}
	return nil
}

func (s *Service) resolveDuration(ctx context.Context, serviceID *uuid.UUID) (int, error) {
	if serviceID == nil || s.catalog == nil {
		return s.defaultDuration, nil
	}
	duration, err := s.catalog.DurationMinutes(ctx, *serviceID)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown service %s", ErrValidation, *serviceID)
	}
	if duration <= 0 {
		duration = s.defaultDuration
	}
	return duration, nil
}

func (s *Service) checkAvailability(ctx context.Context, dentistID, clinicID uuid.UUID, date, start string, durationMinutes int) error {
	if s.windows == nil {
		return nil
	}
	cand, err := schedule.NewInterval(start, durationMinutes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	open, err := s.windows.OpenWindows(ctx, dentistID, clinicID, date)
	if err != nil {
		return fmt.Errorf("appointments: resolve availability: %w", err)
	}
	if !schedule.AnyContains(open, cand) {
		return fmt.Errorf("%w: dentist %s has no open window covering %s %s-%s",
			ErrOutsideAvailability, dentistID, date, start, schedule.FormatClock(cand.End))
	}
	return nil
}

func (s *Service) checkWeeklyPolicy(ctx context.Context, clinicID, patientID uuid.UUID, date string, excludeID uuid.UUID) error {
	if s.policies == nil {
		return nil
	}
	settings, err := s.policies.Get(ctx, clinicID.String())
	if err != nil {
		// Policy lookup failures must not block bookings; fall back to the
		// default policy.
		s.logger.Warn("appointments: policy lookup failed, using defaults", "error", err, "clinic_id", clinicID)
		settings = clinics.DefaultSettings(clinicID.String())
	}
	if !settings.EnforceWeeklyLimit {
		return nil
	}

	day, err := schedule.ParseDate(date)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	from := day.AddDate(0, 0, -6).Format(schedule.DateLayout)
	to := day.AddDate(0, 0, 6).Format(schedule.DateLayout)
	n, err := s.repo.CountActiveForPatient(ctx, patientID, from, to, excludeID)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrWeeklyLimit
	}
	return nil
}

func (s *Service) record(ctx context.Context, evt TransitionEvent) {
	for _, r := range s.recorders {
		r.RecordTransition(ctx, evt)
	}
}
