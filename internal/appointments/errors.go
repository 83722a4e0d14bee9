package appointments

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no appointment matches the given id.
	ErrNotFound = errors.New("appointment not found")

	// ErrInvalidSchedule is returned for past or malformed date/time values.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the appointment's current state, including any attempt to act on
	// an appointment that already has a pending change request.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrSchedulingConflict is the sentinel matched by errors.Is for every
	// conflict rejection; ConflictError carries the specifics.
	ErrSchedulingConflict = errors.New("scheduling conflict")

	// ErrOutsideAvailability is returned when the requested slot falls
	// outside the dentist's open hours for that date.
	ErrOutsideAvailability = errors.New("slot outside dentist availability")

	// ErrWeeklyLimit is returned when the patient already holds an active
	// appointment within the rolling 7-day window.
	ErrWeeklyLimit = errors.New("patient already has an appointment within 7 days")

	// ErrReasonRequired is returned when a cancellation request has no reason.
	ErrReasonRequired = errors.New("cancellation reason is required")
)

// ConflictError identifies the existing appointment occupying the requested
// slot. First booked wins; the later request is rejected, never reassigned.
type ConflictError struct {
	ConflictingID uuid.UUID
	DentistID     uuid.UUID
	Date          string
	StartTime     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("scheduling conflict: appointment %s already occupies %s %s for dentist %s",
		e.ConflictingID, e.Date, e.StartTime, e.DentistID)
}

// Is lets errors.Is(err, ErrSchedulingConflict) match ConflictError values.
func (e *ConflictError) Is(target error) bool {
	return target == ErrSchedulingConflict
}
