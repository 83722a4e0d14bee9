package patients

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

// Repository is the persistence contract the handler depends on.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Search(ctx context.Context, query string, limit int) ([]Patient, error)
	Update(ctx context.Context, p *Patient) error
}

// Handler handles HTTP requests for patients. All routes are staff-only
// except reading your own record.
type Handler struct {
	repo   Repository
	logger *logging.Logger
}

// NewHandler creates a patients handler.
func NewHandler(repo Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, logger: logger}
}

// Routes mounts the patient endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.With(middleware.RequireStaff).Post("/", h.Create)
	r.With(middleware.RequireStaff).Get("/", h.Search)
	r.Get("/{patientID}", h.Get)
	r.With(middleware.RequireStaff).Put("/{patientID}", h.Update)
}

func (h *Handler) validate(p *Patient) string {
	if p.FirstName == "" || p.LastName == "" {
		return "first_name and last_name are required"
	}
	if p.Email == "" && p.Phone == "" {
		return "an email or phone is required"
	}
	if p.DateOfBirth != nil {
		if _, err := schedule.ParseDate(*p.DateOfBirth); err != nil {
			return "invalid date_of_birth"
		}
	}
	return ""
}

// Create handles POST /api/patients.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var p Patient
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if msg := h.validate(&p); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	if err := h.repo.Create(r.Context(), &p); err != nil {
		h.logger.Error("patients: create failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(p)
}

// Get handles GET /api/patients/{patientID}. Patients may read their own
// record; staff may read any.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "patientID"))
	if err != nil {
		http.Error(w, "invalid patient id", http.StatusBadRequest)
		return
	}
	ident, _ := middleware.IdentityFromContext(r.Context())
	if !ident.Staff() && ident.UserID != id {
		http.Error(w, "permission denied", http.StatusForbidden)
		return
	}

	p, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		h.logger.Error("patients: get failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// Search handles GET /api/patients?q=...
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	limit := 25
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	results, err := h.repo.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		h.logger.Error("patients: search failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"patients": results, "count": len(results)})
}

// Update handles PUT /api/patients/{patientID}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "patientID"))
	if err != nil {
		http.Error(w, "invalid patient id", http.StatusBadRequest)
		return
	}
	var p Patient
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	p.ID = id
	if msg := h.validate(&p); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	if err := h.repo.Update(r.Context(), &p); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		h.logger.Error("patients: update failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}
