package appointments

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/novadental/clinic-api/internal/schedule"
)

// InMemoryRepository implements Repository with in-memory storage. It mirrors
// the Postgres store's transition rules and conflict checks and backs the
// service tests and local demos.
type InMemoryRepository struct {
	mu       sync.RWMutex
	appts    map[uuid.UUID]*Appointment
	requests map[uuid.UUID]*ChangeRequest
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		appts:    make(map[uuid.UUID]*Appointment),
		requests: make(map[uuid.UUID]*ChangeRequest),
	}
}

func (r *InMemoryRepository) conflictLocked(dentistID uuid.UUID, date, start string, durationMinutes int, excludeID uuid.UUID) error {
	cand, err := schedule.NewInterval(start, durationMinutes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	for _, a := range r.appts {
		if a.ID == excludeID || a.DentistID == nil || *a.DentistID != dentistID {
			continue
		}
		if a.Date != date || !a.Status.Active() {
			continue
		}
		other, err := schedule.NewInterval(a.StartTime, a.DurationMinutes)
		if err != nil {
			continue
		}
		if cand.Overlaps(other) {
			return &ConflictError{
				ConflictingID: a.ID,
				DentistID:     dentistID,
				Date:          a.Date,
				StartTime:     a.StartTime,
			}
		}
	}
	return nil
}

// Book inserts a new appointment after checking the dentist's slot.
func (r *InMemoryRepository) Book(ctx context.Context, appt *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if appt.DentistID != nil {
		if err := r.conflictLocked(*appt.DentistID, appt.Date, appt.StartTime, appt.DurationMinutes, uuid.Nil); err != nil {
			return err
		}
	}
	appt.ID = uuid.New()
	appt.CreatedAt = time.Now().UTC()
	appt.UpdatedAt = appt.CreatedAt
	cp := *appt
	r.appts[appt.ID] = &cp
	return nil
}

// GetByID returns a copy of the appointment.
func (r *InMemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// List returns a filtered, paginated page ordered by date then time.
func (r *InMemoryRepository) List(ctx context.Context, f ListFilter) ([]Appointment, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Appointment
	for _, a := range r.appts {
		if f.ClinicID != nil && a.ClinicID != *f.ClinicID {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DentistID != nil && (a.DentistID == nil || *a.DentistID != *f.DentistID) {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.Date != nil && a.Date != *f.Date {
			continue
		}
		matched = append(matched, *a)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Date != matched[j].Date {
			return matched[i].Date < matched[j].Date
		}
		return matched[i].StartTime < matched[j].StartTime
	})

	total := len(matched)
	page, perPage := f.Page, f.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}
	start := (page - 1) * perPage
	if start >= total {
		return []Appointment{}, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// CountActiveForPatient counts slot-holding appointments for the patient in
// the inclusive date range.
func (r *InMemoryRepository) CountActiveForPatient(ctx context.Context, patientID uuid.UUID, fromDate, toDate string, excludeID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.appts {
		if a.PatientID != patientID || a.ID == excludeID || !a.Status.Active() {
			continue
		}
		if a.Date >= fromDate && a.Date <= toDate {
			n++
		}
	}
	return n, nil
}

// CreatePendingRequest files a change request if the appointment allows it.
func (r *InMemoryRepository) CreatePendingRequest(ctx context.Context, req *ChangeRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	appt, ok := r.appts[req.AppointmentID]
	if !ok {
		return ErrNotFound
	}
	if appt.Status != StatusPending && appt.Status != StatusConfirmed {
		return fmt.Errorf("%w: cannot file a %s request from status %s", ErrInvalidTransition, req.Kind, appt.Status)
	}
	for _, existing := range r.requests {
		if existing.AppointmentID == req.AppointmentID && existing.State == RequestPending {
			return fmt.Errorf("%w: appointment already has a pending request", ErrInvalidTransition)
		}
	}

	req.ID = uuid.New()
	req.State = RequestPending
	req.RequestedAt = time.Now().UTC()
	cp := *req
	r.requests[req.ID] = &cp

	prior := appt.Status
	appt.PriorStatus = &prior
	if req.Kind == KindCancel {
		appt.Status = StatusCancelRequested
	} else {
		appt.Status = StatusRescheduleRequested
	}
	appt.UpdatedAt = time.Now().UTC()
	return nil
}

// PendingRequest returns the appointment's pending request, or nil when none.
func (r *InMemoryRepository) PendingRequest(ctx context.Context, appointmentID uuid.UUID) (*ChangeRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, req := range r.requests {
		if req.AppointmentID == appointmentID && req.State == RequestPending {
			cp := *req
			return &cp, nil
		}
	}
	return nil, nil
}

// ApproveReschedule re-checks the proposed slot and applies it.
func (r *InMemoryRepository) ApproveReschedule(ctx context.Context, req *ChangeRequest, target *Appointment, resolvedBy uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	appt, ok := r.appts[req.AppointmentID]
	if !ok {
		return nil, ErrNotFound
	}
	if appt.Status != StatusRescheduleRequested {
		return nil, fmt.Errorf("%w: appointment is %s, not awaiting reschedule approval", ErrInvalidTransition, appt.Status)
	}
	if target.DentistID != nil {
		if err := r.conflictLocked(*target.DentistID, target.Date, target.StartTime, target.DurationMinutes, appt.ID); err != nil {
			return nil, err
		}
	}

	r.resolveLocked(req.ID, RequestApproved, resolvedBy, "")

	appt.Date = target.Date
	appt.StartTime = target.StartTime
	appt.DentistID = target.DentistID
	appt.ServiceID = target.ServiceID
	appt.DurationMinutes = target.DurationMinutes
	appt.Notes = target.Notes
	appt.Status = StatusConfirmed
	appt.PriorStatus = nil
	appt.UpdatedAt = time.Now().UTC()
	cp := *appt
	return &cp, nil
}

// ApproveCancel finalizes the cancellation.
func (r *InMemoryRepository) ApproveCancel(ctx context.Context, req *ChangeRequest, resolvedBy uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	appt, ok := r.appts[req.AppointmentID]
	if !ok {
		return nil, ErrNotFound
	}
	if appt.Status != StatusCancelRequested {
		return nil, fmt.Errorf("%w: appointment is %s, not awaiting cancel approval", ErrInvalidTransition, appt.Status)
	}

	r.resolveLocked(req.ID, RequestApproved, resolvedBy, "")

	appt.Status = StatusCancelled
	appt.PriorStatus = nil
	appt.UpdatedAt = time.Now().UTC()
	cp := *appt
	return &cp, nil
}

// RejectRequest rejects the request and reverts the appointment to the status
// it held before the request was filed.
func (r *InMemoryRepository) RejectRequest(ctx context.Context, req *ChangeRequest, resolvedBy uuid.UUID, note string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	appt, ok := r.appts[req.AppointmentID]
	if !ok {
		return nil, ErrNotFound
	}
	if appt.Status != StatusRescheduleRequested && appt.Status != StatusCancelRequested {
		return nil, fmt.Errorf("%w: appointment is %s, no pending request to reject", ErrInvalidTransition, appt.Status)
	}

	r.resolveLocked(req.ID, RequestRejected, resolvedBy, note)

	revert := StatusPending
	if appt.PriorStatus != nil {
		revert = *appt.PriorStatus
	}
	appt.Status = revert
	appt.PriorStatus = nil
	appt.UpdatedAt = time.Now().UTC()
	cp := *appt
	return &cp, nil
}

func (r *InMemoryRepository) resolveLocked(requestID uuid.UUID, state RequestState, resolvedBy uuid.UUID, note string) {
	req, ok := r.requests[requestID]
	if !ok {
		return
	}
	now := time.Now().UTC()
	req.State = state
	req.ResolvedBy = &resolvedBy
	req.ResolvedAt = &now
	req.ResolutionNote = note
}

// UpdateStatus applies a direct transition when the current status allows it.
func (r *InMemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, allowedFrom []Status, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	appt, ok := r.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	allowed := false
	for _, s := range allowedFrom {
		if appt.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
	}
	appt.Status = to
	appt.UpdatedAt = time.Now().UTC()
	cp := *appt
	return &cp, nil
}

// UpdateNotes replaces the appointment notes.
func (r *InMemoryRepository) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	appt, ok := r.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	appt.Notes = notes
	appt.UpdatedAt = time.Now().UTC()
	cp := *appt
	return &cp, nil
}

// Stats aggregates counts, optionally scoped to one clinic.
func (r *InMemoryRepository) Stats(ctx context.Context, clinicID *uuid.UUID, today string) (*Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &Stats{}
	for _, a := range r.appts {
		if clinicID != nil && a.ClinicID != *clinicID {
			continue
		}
		stats.Total++
		if a.Date == today {
			stats.Today++
		}
		if a.Date >= today && a.Status.Active() {
			stats.Scheduled++
		}
		switch a.Status {
		case StatusCompleted:
			stats.Completed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// Upcoming lists forward-looking active appointments.
func (r *InMemoryRepository) Upcoming(ctx context.Context, clinicID *uuid.UUID, fromDate, fromTime string, limit int) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var matched []Appointment
	for _, a := range r.appts {
		if clinicID != nil && a.ClinicID != *clinicID {
			continue
		}
		if !a.Status.Active() {
			continue
		}
		if a.Date < fromDate || (a.Date == fromDate && a.StartTime < fromTime) {
			continue
		}
		matched = append(matched, *a)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Date != matched[j].Date {
			return matched[i].Date < matched[j].Date
		}
		return matched[i].StartTime < matched[j].StartTime
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
