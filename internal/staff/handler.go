package staff

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/novadental/clinic-api/internal/http/middleware"
	"github.com/novadental/clinic-api/pkg/logging"
)

// Repository is the persistence contract the handler depends on.
type Repository interface {
	Create(ctx context.Context, m *Member) error
	GetByID(ctx context.Context, id uuid.UUID) (*Member, error)
	List(ctx context.Context, role string, clinicID *uuid.UUID) ([]Member, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// Handler handles HTTP requests for staff users.
type Handler struct {
	repo   Repository
	logger *logging.Logger
}

// NewHandler creates a staff handler.
func NewHandler(repo Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, logger: logger}
}

// Routes mounts the staff endpoints. Listing dentists is open to any
// authenticated caller so patients can pick one; mutations are staff-only.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{staffID}", h.Get)
	r.With(middleware.RequireStaff).Post("/", h.Create)
	r.With(middleware.RequireStaff).Delete("/{staffID}", h.Deactivate)
}

// Create handles POST /api/staff.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var m Member
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if m.FirstName == "" || m.LastName == "" || m.Email == "" {
		http.Error(w, "first_name, last_name and email are required", http.StatusBadRequest)
		return
	}
	switch m.Role {
	case middleware.RoleStaff, middleware.RoleDentist, middleware.RoleOwner:
	default:
		http.Error(w, "role must be staff, dentist or owner", http.StatusBadRequest)
		return
	}

	if err := h.repo.Create(r.Context(), &m); err != nil {
		h.logger.Error("staff: create failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(m)
}

// List handles GET /api/staff?role=dentist.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var clinicID *uuid.UUID
	if v := r.URL.Query().Get("clinic_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, "invalid clinic_id", http.StatusBadRequest)
			return
		}
		clinicID = &id
	}

	members, err := h.repo.List(r.Context(), r.URL.Query().Get("role"), clinicID)
	if err != nil {
		h.logger.Error("staff: list failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"staff": members, "count": len(members)})
}

// Get handles GET /api/staff/{staffID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "staffID"))
	if err != nil {
		http.Error(w, "invalid staff id", http.StatusBadRequest)
		return
	}
	m, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "staff member not found", http.StatusNotFound)
			return
		}
		h.logger.Error("staff: get failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// Deactivate handles DELETE /api/staff/{staffID}.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "staffID"))
	if err != nil {
		http.Error(w, "invalid staff id", http.StatusBadRequest)
		return
	}
	if err := h.repo.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "staff member not found", http.StatusNotFound)
			return
		}
		h.logger.Error("staff: deactivate failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
