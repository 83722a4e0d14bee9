// Package appointments implements the appointment lifecycle: booking with
// conflict checking, the reschedule/cancel request approval flow, and the
// reporting endpoints consumed by the clinic dashboards.
package appointments

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks the lifecycle of an appointment.
type Status string

const (
	StatusPending             Status = "pending"
	StatusConfirmed           Status = "confirmed"
	StatusWaiting             Status = "waiting"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
	StatusMissed              Status = "missed"
	StatusRescheduleRequested Status = "reschedule_requested"
	StatusCancelRequested     Status = "cancel_requested"
)

// ActiveStatuses are the statuses that hold a dentist's slot. An appointment
// with a pending change request keeps its original slot until the request is
// resolved, so the request statuses count as active too.
var ActiveStatuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusWaiting,
	StatusRescheduleRequested,
	StatusCancelRequested,
}

// Active reports whether the status holds a slot.
func (s Status) Active() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusWaiting, StatusCompleted,
		StatusCancelled, StatusMissed, StatusRescheduleRequested, StatusCancelRequested:
		return true
	}
	return false
}

// Appointment is the central scheduling record. Date and StartTime are
// clinic-local wall clock ("2006-01-02" / "HH:MM"); rows are never deleted,
// cancellation is a status.
type Appointment struct {
	ID              uuid.UUID  `json:"id"`
	ClinicID        uuid.UUID  `json:"clinic_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	DentistID       *uuid.UUID `json:"dentist_id,omitempty"`
	ServiceID       *uuid.UUID `json:"service_id,omitempty"`
	Date            string     `json:"date"`
	StartTime       string     `json:"time"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          Status     `json:"status"`
	// PriorStatus records what to revert to when a pending change request
	// is rejected. Set only while Status is one of the *_requested values.
	PriorStatus *Status   `json:"prior_status,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RequestKind distinguishes the two change request variants.
type RequestKind string

const (
	KindReschedule RequestKind = "reschedule"
	KindCancel     RequestKind = "cancel"
)

// RequestState tracks a change request's resolution.
type RequestState string

const (
	RequestPending  RequestState = "pending"
	RequestApproved RequestState = "approved"
	RequestRejected RequestState = "rejected"
)

// ChangeRequest stages a proposed reschedule or cancellation awaiting staff
// approval. At most one pending request may exist per appointment; the
// proposal never touches the appointment's primary schedule until approved.
type ChangeRequest struct {
	ID            uuid.UUID    `json:"id"`
	AppointmentID uuid.UUID    `json:"appointment_id"`
	Kind          RequestKind  `json:"kind"`
	State         RequestState `json:"state"`

	// Reschedule proposal. Nil/empty fields keep the current value.
	ProposedDate      string     `json:"proposed_date,omitempty"`
	ProposedTime      string     `json:"proposed_time,omitempty"`
	ProposedServiceID *uuid.UUID `json:"proposed_service_id,omitempty"`
	ProposedDentistID *uuid.UUID `json:"proposed_dentist_id,omitempty"`
	ProposedNotes     string     `json:"proposed_notes,omitempty"`

	// Reason is required for cancellations.
	Reason string `json:"reason,omitempty"`

	RequestedBy    uuid.UUID  `json:"requested_by"`
	RequestedAt    time.Time  `json:"requested_at"`
	ResolvedBy     *uuid.UUID `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
}

// Stats aggregates appointment counts for the dashboard.
type Stats struct {
	Total     int64 `json:"total"`
	Today     int64 `json:"today"`
	Scheduled int64 `json:"scheduled"`
	Completed int64 `json:"completed"`
	Cancelled int64 `json:"cancelled"`
}

// ListFilter narrows appointment listings.
type ListFilter struct {
	ClinicID  *uuid.UUID
	PatientID *uuid.UUID
	DentistID *uuid.UUID
	Status    *Status
	Date      *string
	Page      int
	PerPage   int
}
