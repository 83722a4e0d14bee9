// Package liveboard pushes appointment lifecycle events to connected staff
// clients over WebSockets, so the front-desk schedule board updates without
// polling.
package liveboard

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/novadental/clinic-api/internal/appointments"
	"github.com/novadental/clinic-api/pkg/logging"
)

// BoardEvent is the wire format pushed to live board clients.
type BoardEvent struct {
	Kind          string                   `json:"kind"`
	ClinicID      uuid.UUID                `json:"clinic_id"`
	AppointmentID uuid.UUID                `json:"appointment_id"`
	Appointment   appointments.Appointment `json:"appointment"`
	From          appointments.Status      `json:"from,omitempty"`
	To            appointments.Status      `json:"to"`
	OccurredAt    time.Time                `json:"occurred_at"`
}

// client is one connected board. Clinic scopes which events it receives;
// uuid.Nil means all clinics.
type client struct {
	clinic uuid.UUID
	send   chan []byte
}

// Hub fans appointment events out to connected clients. It implements
// appointments.TransitionRecorder, so a sink failure (slow client, closed
// socket) never reaches the booking flow: full buffers are dropped, not
// waited on.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *logging.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// ClientCount returns the number of connected boards.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RecordTransition broadcasts one lifecycle event to every board watching the
// appointment's clinic.
func (h *Hub) RecordTransition(_ context.Context, evt appointments.TransitionEvent) {
	board := BoardEvent{
		Kind:          evt.Kind,
		ClinicID:      evt.Appointment.ClinicID,
		AppointmentID: evt.Appointment.ID,
		Appointment:   evt.Appointment,
		From:          evt.From,
		To:            evt.To,
		OccurredAt:    evt.OccurredAt,
	}
	data, err := json.Marshal(board)
	if err != nil {
		h.logger.Error("liveboard: marshal event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.clinic != uuid.Nil && c.clinic != board.ClinicID {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Buffer full; drop rather than block the caller.
		}
	}
}
