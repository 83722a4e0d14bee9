// Package availability manages per-dentist open hours: recurring weekly
// rules, specific-date overrides, and one-off blocked time slots.
package availability

import (
	"time"

	"github.com/google/uuid"
)

// Availability is an open window for a dentist. Exactly one of Weekday
// (recurring rule, 0=Sunday) or Date (specific-date override) is set.
// A nil ClinicID applies the window to every clinic.
type Availability struct {
	ID        uuid.UUID  `json:"id"`
	DentistID uuid.UUID  `json:"dentist_id"`
	ClinicID  *uuid.UUID `json:"clinic_id,omitempty"`
	Weekday   *int       `json:"weekday,omitempty"`
	Date      *string    `json:"date,omitempty"`
	StartTime string     `json:"start_time"`
	EndTime   string     `json:"end_time"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// BlockedTimeSlot removes a sub-interval from an otherwise-open window on a
// specific date.
type BlockedTimeSlot struct {
	ID        uuid.UUID `json:"id"`
	DentistID uuid.UUID `json:"dentist_id"`
	Date      string    `json:"date"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
