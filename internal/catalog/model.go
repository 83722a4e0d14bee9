// Package catalog manages the dental service catalog: the treatments a
// clinic offers, their durations and prices. The appointment service resolves
// booking durations from here.
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no service matches the given id.
var ErrNotFound = errors.New("service not found")

// Service is one offered treatment.
type Service struct {
	ID              uuid.UUID  `json:"id"`
	ClinicID        *uuid.UUID `json:"clinic_id,omitempty"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	PriceCents      int64      `json:"price_cents"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
