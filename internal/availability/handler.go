package availability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/novadental/clinic-api/internal/http/middleware"
	"github.com/novadental/clinic-api/internal/schedule"
	"github.com/novadental/clinic-api/pkg/logging"
)

// BookedSource yields a dentist's occupied intervals on a date so the slot
// finder can exclude them. The appointments store implements it.
type BookedSource interface {
	BookedIntervals(ctx context.Context, dentistID uuid.UUID, date string) ([]schedule.Interval, error)
}

// WindowStore is the persistence contract the handler depends on.
type WindowStore interface {
	Upsert(ctx context.Context, a *Availability) error
	ListForDentist(ctx context.Context, dentistID uuid.UUID) ([]Availability, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CreateBlocked(ctx context.Context, b *BlockedTimeSlot) error
	DeleteBlocked(ctx context.Context, id uuid.UUID) error
}

// Handler handles HTTP requests for availability windows, blocked slots and
// the free-slot finder.
type Handler struct {
	store    WindowStore
	resolver *Resolver
	booked   BookedSource
	logger   *logging.Logger

	// slotStep is the granularity of the slot finder in minutes.
	slotStep int
}

// NewHandler creates an availability handler. booked may be nil; the slot
// finder then ignores existing appointments.
func NewHandler(store WindowStore, resolver *Resolver, booked BookedSource, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, resolver: resolver, booked: booked, logger: logger, slotStep: 15}
}

// Routes mounts the availability endpoints. All mutations are staff-only;
// reads are open to any authenticated caller so patients can find slots.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/windows", h.Windows)
	r.Get("/slots", h.Slots)
	r.With(middleware.RequireStaff).Post("/", h.Upsert)
	r.With(middleware.RequireStaff).Delete("/{availabilityID}", h.Delete)
	r.With(middleware.RequireStaff).Post("/blocked", h.CreateBlocked)
	r.With(middleware.RequireStaff).Delete("/blocked/{blockedID}", h.DeleteBlocked)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation_error", "detail": detail})
}

// Upsert handles POST /api/availability.
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	var a Availability
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if a.DentistID == uuid.Nil {
		badRequest(w, "dentist_id is required")
		return
	}
	if a.Weekday != nil && (*a.Weekday < 0 || *a.Weekday > 6) {
		badRequest(w, "weekday must be 0-6")
		return
	}
	start, err := schedule.ParseClock(a.StartTime)
	if err != nil {
		badRequest(w, "invalid start_time")
		return
	}
	end, err := schedule.ParseClock(a.EndTime)
	if err != nil {
		badRequest(w, "invalid end_time")
		return
	}
	if !(schedule.Interval{Start: start, End: end}).Valid() {
		badRequest(w, "end_time must be after start_time")
		return
	}
	if a.Date != nil {
		if _, err := schedule.ParseDate(*a.Date); err != nil {
			badRequest(w, "invalid date")
			return
		}
	}

	if err := h.store.Upsert(r.Context(), &a); err != nil {
		if errors.Is(err, ErrInvalidWindow) {
			badRequest(w, err.Error())
			return
		}
		h.logger.Error("availability: upsert failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// List handles GET /api/availability?dentist_id=...
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	dentistID, err := uuid.Parse(r.URL.Query().Get("dentist_id"))
	if err != nil {
		badRequest(w, "dentist_id is required")
		return
	}
	windows, err := h.store.ListForDentist(r.Context(), dentistID)
	if err != nil {
		h.logger.Error("availability: list failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"availabilities": windows, "count": len(windows)})
}

// Delete handles DELETE /api/availability/{availabilityID}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "availabilityID"))
	if err != nil {
		badRequest(w, "invalid availability id")
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
			return
		}
		h.logger.Error("availability: delete failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateBlocked handles POST /api/availability/blocked.
func (h *Handler) CreateBlocked(w http.ResponseWriter, r *http.Request) {
	var b BlockedTimeSlot
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if b.DentistID == uuid.Nil {
		badRequest(w, "dentist_id is required")
		return
	}
	if _, err := schedule.ParseDate(b.Date); err != nil {
		badRequest(w, "invalid date")
		return
	}
	start, err := schedule.ParseClock(b.StartTime)
	if err != nil {
		badRequest(w, "invalid start_time")
		return
	}
	end, err := schedule.ParseClock(b.EndTime)
	if err != nil {
		badRequest(w, "invalid end_time")
		return
	}
	if !(schedule.Interval{Start: start, End: end}).Valid() {
		badRequest(w, "end_time must be after start_time")
		return
	}

	if err := h.store.CreateBlocked(r.Context(), &b); err != nil {
		h.logger.Error("availability: create blocked failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// DeleteBlocked handles DELETE /api/availability/blocked/{blockedID}.
func (h *Handler) DeleteBlocked(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "blockedID"))
	if err != nil {
		badRequest(w, "invalid blocked slot id")
		return
	}
	if err := h.store.DeleteBlocked(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
			return
		}
		h.logger.Error("availability: delete blocked failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WindowResponse is one resolved open interval.
type WindowResponse struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Windows handles GET /api/availability/windows. It returns the resolved
// open intervals for a dentist on a date: the date override when present,
// otherwise the weekly rule, minus blocked slots. Booked appointments are
// not subtracted; use /slots for bookable start times.
func (h *Handler) Windows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dentistID, err := uuid.Parse(q.Get("dentist_id"))
	if err != nil {
		badRequest(w, "dentist_id is required")
		return
	}
	date := q.Get("date")
	if _, err := schedule.ParseDate(date); err != nil {
		badRequest(w, "invalid date")
		return
	}
	var clinicID uuid.UUID
	if v := q.Get("clinic_id"); v != "" {
		if clinicID, err = uuid.Parse(v); err != nil {
			badRequest(w, "invalid clinic_id")
			return
		}
	}

	open, err := h.resolver.OpenWindows(r.Context(), dentistID, clinicID, date)
	if err != nil {
		h.logger.Error("availability: resolve windows failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	out := make([]WindowResponse, 0, len(open))
	for _, iv := range open {
		out = append(out, WindowResponse{
			StartTime: schedule.FormatClock(iv.Start),
			EndTime:   schedule.FormatClock(iv.End),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// SlotsResponse lists the bookable start times for a dentist on a date.
type SlotsResponse struct {
	DentistID uuid.UUID `json:"dentist_id"`
	Date      string    `json:"date"`
	Duration  int       `json:"duration_minutes"`
	Slots     []string  `json:"slots"`
}

// Slots handles GET /api/availability/slots. It returns the start times at
// which an appointment of the requested duration still fits: open windows,
// minus blocked slots, minus existing appointments.
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dentistID, err := uuid.Parse(q.Get("dentist_id"))
	if err != nil {
		badRequest(w, "dentist_id is required")
		return
	}
	date := q.Get("date")
	if _, err := schedule.ParseDate(date); err != nil {
		badRequest(w, "invalid date")
		return
	}
	var clinicID uuid.UUID
	if v := q.Get("clinic_id"); v != "" {
		if clinicID, err = uuid.Parse(v); err != nil {
			badRequest(w, "invalid clinic_id")
			return
		}
	}
	duration := 30
	if v := q.Get("duration"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 8*60 {
			duration = n
		}
	}

	open, err := h.resolver.OpenWindows(r.Context(), dentistID, clinicID, date)
	if err != nil {
		h.logger.Error("availability: resolve windows failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if h.booked != nil && len(open) > 0 {
		booked, err := h.booked.BookedIntervals(r.Context(), dentistID, date)
		if err != nil {
			h.logger.Error("availability: booked intervals failed", "error", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		open = schedule.Subtract(open, booked)
	}

	slots := schedule.Slots(open, duration, h.slotStep)
	if slots == nil {
		slots = []string{}
	}
	writeJSON(w, http.StatusOK, SlotsResponse{
		DentistID: dentistID,
		Date:      date,
		Duration:  duration,
		Slots:     slots,
	})
}
