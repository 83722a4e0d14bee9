package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/novadental/clinic-api/internal/http/middleware"
	"github.com/novadental/clinic-api/pkg/logging"
)

// Handler handles HTTP requests for appointments.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

// NewHandler creates a new appointments handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the appointment endpoints. Approval and rejection of change
// requests, direct status patches and the dashboard reports are staff-only.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.With(middleware.RequireStaff).Get("/statistics", h.Statistics)
	r.Get("/upcoming", h.Upcoming)

	r.Route("/{appointmentID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.With(middleware.RequireStaff).Patch("/", h.Patch)
		r.Post("/reschedule", h.RequestReschedule)
		r.Post("/cancel", h.RequestCancel)
		r.With(middleware.RequireStaff).Post("/approve_reschedule", h.ApproveReschedule)
		r.With(middleware.RequireStaff).Post("/reject_reschedule", h.RejectReschedule)
		r.With(middleware.RequireStaff).Post("/approve_cancel", h.ApproveCancel)
		r.With(middleware.RequireStaff).Post("/reject_cancel", h.RejectCancel)
	})
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error         string `json:"error"`
	Detail        string `json:"detail,omitempty"`
	ConflictingID string `json:"conflicting_appointment_id,omitempty"`
}

// writeError maps domain errors onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Detail: err.Error()}
	status := http.StatusInternalServerError

	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		status = http.StatusConflict
		body.Error = "scheduling_conflict"
		body.ConflictingID = conflict.ConflictingID.String()
	case errors.Is(err, ErrSchedulingConflict):
		status = http.StatusConflict
		body.Error = "scheduling_conflict"
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
		body.Error = "not_found"
	case errors.Is(err, ErrInvalidTransition):
		status = http.StatusConflict
		body.Error = "invalid_transition"
	case errors.Is(err, ErrWeeklyLimit):
		status = http.StatusConflict
		body.Error = "weekly_limit"
	case errors.Is(err, ErrOutsideAvailability):
		status = http.StatusConflict
		body.Error = "outside_availability"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidSchedule):
		status = http.StatusBadRequest
		body.Error = "validation_error"
	default:
		body.Error = "internal_error"
		body.Detail = "internal server error"
		h.logger.Error("appointments: request failed", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func appointmentID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "appointmentID"))
}

// Create handles POST /api/appointments.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ident, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	req.RequestedBy = ident.UserID
	// Patients book for themselves; staff must name the patient.
	if req.PatientID == uuid.Nil && !ident.Staff() {
		req.PatientID = ident.UserID
	}

	appt, err := h.svc.Book(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("appointment booked", "id", appt.ID, "date", appt.Date, "time", appt.StartTime)
	writeJSON(w, http.StatusCreated, appt)
}

// ListResponse is the paginated listing envelope.
type ListResponse struct {
	Appointments []Appointment `json:"appointments"`
	Total        int           `json:"total"`
	Page         int           `json:"page"`
	PerPage      int           `json:"per_page"`
}

// List handles GET /api/appointments. Patients only see their own
// appointments; staff see everything matching the filter.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Page: 1, PerPage: 50}

	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Page = n
		}
	}
	if v := q.Get("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			filter.PerPage = n
		}
	}
	if v := q.Get("status"); v != "" {
		st := Status(v)
		if !st.Valid() {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_error", Detail: "unknown status " + v})
			return
		}
		filter.Status = &st
	}
	if v := q.Get("date"); v != "" {
		filter.Date = &v
	}
	for param, dst := range map[string]**uuid.UUID{
		"clinic_id":  &filter.ClinicID,
		"patient_id": &filter.PatientID,
		"dentist_id": &filter.DentistID,
	} {
		if v := q.Get(param); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_error", Detail: "invalid " + param})
				return
			}
			*dst = &id
		}
	}

	ident, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	if !ident.Staff() {
		own := ident.UserID
		filter.PatientID = &own
	}

	appts, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{
		Appointments: appts,
		Total:        total,
		Page:         filter.Page,
		PerPage:      filter.PerPage,
	})
}

// Get handles GET /api/appointments/{appointmentID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := appointmentID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_error", Detail: "invalid appointment id"})
		return
	}

	appt, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	ident, _ := middleware.IdentityFromContext(r.Context())
	if !ident.Staff() && appt.PatientID != ident.UserID {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "permission_denied", Detail: "not your appointment"})
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// Patch handles PATCH /api/appointments/{appointmentID}.
func (h *Handler) Patch(w http.ResponseWriter, r *http.Request) {
	id, err := appointmentID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_error", Detail: "invalid appointment id"})
		return
	}
	var req PatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Status != nil && !req.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_error", Detail: "unknown status " + string(*req.Status)})
		return
	}
	ident, _ := middleware.IdentityFromContext(r.Context())
	req.Actor = ident.UserID

	appt, err := h.svc.Patch(r.Context(), id, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// RequestReschedule handles POST /api/appointments/{appointmentID}/reschedule.
func (h *Handler) RequestReschedule(w http.ResponseWriter, r *http.Request) {
	id, err := appointmentID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_error", Detail: "invalid appointment id"})
		return
	}
	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ident, _ := middleware.IdentityFromContext(r.Context())
	req.RequestedBy = ident.UserID

	if !ident.Staff() {
		if denied := h.requireOwn(w, r, id, ident); denied {
			return
		}
	}

	cr, err := h.svc.RequestReschedule(r.Context(), id, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, cr)
}

// RequestCancel handles POST /api/appointments/{appointmentID}/cancel.
func (h *Handler) RequestCancel(w http.ResponseWriter, r *http.Request) {
	id, err := appointmentID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_error", Detail: "invalid appointment id"})
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ident, _ := middleware.IdentityFromContext(r.Context())

	if !ident.Staff() {
		if denied := h.requireOwn(w, r, id, ident); denied {
			return
		}
	}

	cr, err := h.svc.RequestCancel(r.Context(), id, ident.UserID, body.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, cr)
}

// requireOwn rejects patients acting on another patient's appointment. It
// writes the response itself and reports whether the caller was denied.
func (h *Handler) requireOwn(w http.ResponseWriter, r *http.Request, id uuid.UUID, ident middleware.Identity) bool {
	appt, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return true
	}
	if appt.PatientID != ident.UserID {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "permission_denied", Detail: "not your appointment"})
		return true
	}
	return false
}

// ApproveReschedule handles POST /api/appointments/{appointmentID}/approve_reschedule.
func (h *Handler) ApproveReschedule(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.svc.ApproveReschedule)
}

// ApproveCancel handles POST /api/appointments/{appointmentID}/approve_cancel.
func (h *Handler) ApproveCancel(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.svc.ApproveCancel)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id, actor uuid.UUID) (*Appointment, error)) {
	id, err := appointmentID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_error", Detail: "invalid appointment id"})
		return
	}
	ident, _ := middleware.IdentityFromContext(r.Context())

	appt, err := fn(r.Context(), id, ident.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// RejectReschedule handles POST /api/appointments/{appointmentID}/reject_reschedule.
func (h *Handler) RejectReschedule(w http.ResponseWriter, r *http.Request) {
	h.reject(w, r, h.svc.RejectReschedule)
}

// RejectCancel handles POST /api/appointments/{appointmentID}/reject_cancel.
func (h *Handler) RejectCancel(w http.ResponseWriter, r *http.Request) {
	h.reject(w, r, h.svc.RejectCancel)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id, actor uuid.UUID, reason string) (*Appointment, error)) {
	id, err := appointmentID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_error", Detail: "invalid appointment id"})
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	// Body is optional on rejections.
	_ = json.NewDecoder(r.Body).Decode(&body)
	ident, _ := middleware.IdentityFromContext(r.Context())

	appt, err := fn(r.Context(), id, ident.UserID, body.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// Statistics handles GET /api/appointments/statistics.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	var clinicID *uuid.UUID
	if v := r.URL.Query().Get("clinic_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_error", Detail: "invalid clinic_id"})
			return
		}
		clinicID = &id
	}

	stats, err := h.svc.Stats(r.Context(), clinicID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Upcoming handles GET /api/appointments/upcoming.
func (h *Handler) Upcoming(w http.ResponseWriter, r *http.Request) {
	var clinicID *uuid.UUID
	if v := r.URL.Query().Get("clinic_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_error", Detail: "invalid clinic_id"})
			return
		}
		clinicID = &id
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	appts, err := h.svc.Upcoming(r.Context(), clinicID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appts, "count": len(appts)})
}
