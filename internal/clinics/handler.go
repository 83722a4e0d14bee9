package clinics

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

// LocationRepository is the persistence contract for clinic locations.
type LocationRepository interface {
	Create(ctx context.Context, c *ClinicLocation) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClinicLocation, error)
	List(ctx context.Context) ([]ClinicLocation, error)
}

// SettingsRepository is the persistence contract for clinic settings.
type SettingsRepository interface {
	Get(ctx context.Context, clinicID string) (*Settings, error)
	Set(ctx context.Context, settings *Settings) error
}

// Handler handles HTTP requests for clinic locations and settings.
type Handler struct {
	locations LocationRepository
	settings  SettingsRepository
	logger    *logging.Logger
}

// NewHandler creates a clinics handler.
func NewHandler(locations LocationRepository, settings SettingsRepository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{locations: locations, settings: settings, logger: logger}
}

// Routes mounts the clinic endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.With(middleware.RequireStaff).Post("/", h.Create)
	r.Route("/{clinicID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.With(middleware.RequireStaff).Get("/settings", h.GetSettings)
		r.With(middleware.RequireStaff).Put("/settings", h.PutSettings)
	})
}

// Create handles POST /api/clinics.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var c ClinicLocation
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if c.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if err := h.locations.Create(r.Context(), &c); err != nil {
		h.logger.Error("clinics: create failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(c)
}

// List handles GET /api/clinics.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	locations, err := h.locations.List(r.Context())
	if err != nil {
		h.logger.Error("clinics: list failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"clinics": locations, "count": len(locations)})
}

// Get handles GET /api/clinics/{clinicID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "clinicID"))
	if err != nil {
		http.Error(w, "invalid clinic id", http.StatusBadRequest)
		return
	}
	c, err := h.locations.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "clinic not found", http.StatusNotFound)
			return
		}
		h.logger.Error("clinics: get failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

// GetSettings handles GET /api/clinics/{clinicID}/settings. Missing settings
// fall back to the defaults rather than a 404.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "clinicID"))
	if err != nil {
		http.Error(w, "invalid clinic id", http.StatusBadRequest)
		return
	}
	if h.settings == nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(DefaultSettings(id.String()))
		return
	}
	settings, err := h.settings.Get(r.Context(), id.String())
	if err != nil {
		h.logger.Error("clinics: get settings failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(settings)
}

// PutSettings handles PUT /api/clinics/{clinicID}/settings.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "clinicID"))
	if err != nil {
		http.Error(w, "invalid clinic id", http.StatusBadRequest)
		return
	}
	if h.settings == nil {
		http.Error(w, "settings store unavailable", http.StatusServiceUnavailable)
		return
	}
	var settings Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	settings.ClinicID = id.String()
	if settings.DefaultDurationMinutes < 0 || settings.DefaultDurationMinutes > 8*60 {
		http.Error(w, "default_duration_minutes out of range", http.StatusBadRequest)
		return
	}
	if settings.MinNoticeMinutes < 0 {
		http.Error(w, "min_notice_minutes must not be negative", http.StatusBadRequest)
		return
	}

	if err := h.settings.Set(r.Context(), &settings); err != nil {
		h.logger.Error("clinics: save settings failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(settings)
}
