package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/novadental/clinic-api/internal/appointments"
	"github.com/novadental/clinic-api/internal/patients"
	"github.com/novadental/clinic-api/pkg/logging"
)

// PatientDirectory resolves patient contact details for outbound messages.
type PatientDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patients.Patient, error)
}

// Log persists a record of every outbound notification. Implementations never
// block sending; a log failure is reported but does not suppress the email.
type Log interface {
	Insert(ctx context.Context, n Notification) error
}

// Notification is one row of the outbound notification log.
type Notification struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	Kind          string    `json:"kind"`
	Recipient     string    `json:"recipient"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	SentAt        time.Time `json:"sent_at"`
}

// Service emails patients about appointment lifecycle transitions. It
// implements appointments.TransitionRecorder and is strictly fire-and-forget:
// the booking flow never observes a notification failure.
type Service struct {
	email    EmailSender
	patients PatientDirectory
	log      Log
	logger   *logging.Logger

	now func() time.Time
}

// NewService creates a notification service. The log may be nil.
func NewService(email EmailSender, directory PatientDirectory, log Log, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:    email,
		patients: directory,
		log:      log,
		logger:   logger,
		now:      time.Now,
	}
}

// RecordTransition composes and sends the patient-facing email for one
// lifecycle event. Errors are logged and swallowed.
func (s *Service) RecordTransition(ctx context.Context, evt appointments.TransitionEvent) {
	if s.email == nil || s.patients == nil {
		return
	}

	subject, body := s.compose(evt)
	if subject == "" {
		// No patient-facing message for this kind.
		return
	}

	patient, err := s.patients.GetByID(ctx, evt.Appointment.PatientID)
	if err != nil {
		s.logger.Error("notify: patient lookup failed", "error", err, "patient_id", evt.Appointment.PatientID)
		return
	}
	if patient.Email == "" {
		s.logger.Debug("notify: patient has no email, skipping", "patient_id", patient.ID)
		return
	}

	msg := EmailMessage{
		To:      patient.Email,
		ToName:  strings.TrimSpace(patient.FirstName + " " + patient.LastName),
		Subject: subject,
		Body:    body,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("notify: send failed", "error", err, "kind", evt.Kind, "appointment_id", evt.Appointment.ID)
		return
	}

	if s.log != nil {
		n := Notification{
			ID:            uuid.New(),
			AppointmentID: evt.Appointment.ID,
			PatientID:     patient.ID,
			Kind:          evt.Kind,
			Recipient:     patient.Email,
			Subject:       subject,
			Body:          body,
			SentAt:        s.now().UTC(),
		}
		if err := s.log.Insert(ctx, n); err != nil {
			s.logger.Error("notify: log insert failed", "error", err, "appointment_id", evt.Appointment.ID)
		}
	}
}

func (s *Service) compose(evt appointments.TransitionEvent) (subject, body string) {
	appt := evt.Appointment
	when := formatSlot(appt.Date, appt.StartTime)

	switch evt.Kind {
	case appointments.EventBooked:
		subject = "Your appointment is booked"
		body = fmt.Sprintf("Your dental appointment has been booked for %s.\n\nIf you need to change it, you can request a reschedule or cancellation from your patient portal.", when)
	case appointments.EventRescheduleRequested:
		subject = "We received your reschedule request"
		body = fmt.Sprintf("We received your request to reschedule your appointment on %s. The clinic will review it shortly and you will get a confirmation either way.", when)
	case appointments.EventRescheduleApproved:
		subject = "Your appointment has been rescheduled"
		body = fmt.Sprintf("Your reschedule request was approved. Your appointment is now confirmed for %s.", when)
	case appointments.EventRescheduleRejected:
		subject = "Your reschedule request was declined"
		body = fmt.Sprintf("The clinic could not accommodate your reschedule request. Your appointment remains on %s.", when)
		if evt.Reason != "" {
			body += fmt.Sprintf("\n\nReason: %s", evt.Reason)
		}
	case appointments.EventCancelRequested:
		subject = "We received your cancellation request"
		body = fmt.Sprintf("We received your request to cancel your appointment on %s. The clinic will review it shortly.", when)
	case appointments.EventCancelApproved:
		subject = "Your appointment has been cancelled"
		body = fmt.Sprintf("Your appointment on %s has been cancelled. We hope to see you again soon.", when)
	case appointments.EventCancelRejected:
		subject = "Your cancellation request was declined"
		body = fmt.Sprintf("The clinic could not process your cancellation request. Your appointment remains on %s.", when)
		if evt.Reason != "" {
			body += fmt.Sprintf("\n\nReason: %s", evt.Reason)
		}
	case appointments.EventStatusChanged:
		// Staff bookkeeping transitions (waiting, completed, missed) do
		// not email the patient.
		return "", ""
	}
	return subject, body
}

// formatSlot renders "2026-03-10" + "14:30" as a human-readable slot. Falls
// back to the raw values when parsing fails.
func formatSlot(date, start string) string {
	t, err := time.Parse("2006-01-02 15:04", date+" "+start)
	if err != nil {
		return fmt.Sprintf("%s at %s", date, start)
	}
	return t.Format("Monday, January 2, 2006 at 3:04 PM")
}
