package catalog

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
	Create(ctx context.Context, svc *Service) error
	GetByID(ctx context.Context, id uuid.UUID) (*Service, error)
	List(ctx context.Context, clinicID *uuid.UUID) ([]Service, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// Handler handles HTTP requests for the service catalog.
type Handler struct {
	repo   Repository
	logger *logging.Logger
}

// NewHandler creates a catalog handler.
func NewHandler(repo Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, logger: logger}
}

// Routes mounts the catalog endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{serviceID}", h.Get)
	r.With(middleware.RequireStaff).Post("/", h.Create)
	r.With(middleware.RequireStaff).Delete("/{serviceID}", h.Deactivate)
}

// Create handles POST /api/services.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var svc Service
	if err := json.NewDecoder(r.Body).Decode(&svc); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if svc.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if svc.DurationMinutes <= 0 || svc.DurationMinutes > 8*60 {
		http.Error(w, "duration_minutes must be between 1 and 480", http.StatusBadRequest)
		return
	}

	if err := h.repo.Create(r.Context(), &svc); err != nil {
		h.logger.Error("catalog: create failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(svc)
}

// List handles GET /api/services.
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

	services, err := h.repo.List(r.Context(), clinicID)
	if err != nil {
		h.logger.Error("catalog: list failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"services": services, "count": len(services)})
}

// Get handles GET /api/services/{serviceID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "serviceID"))
	if err != nil {
		http.Error(w, "invalid service id", http.StatusBadRequest)
		return
	}
	svc, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		h.logger.Error("catalog: get failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(svc)
}

// Deactivate handles DELETE /api/services/{serviceID}.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "serviceID"))
	if err != nil {
		http.Error(w, "invalid service id", http.StatusBadRequest)
		return
	}
	if err := h.repo.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		h.logger.Error("catalog: deactivate failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
