// Package router assembles the HTTP API surface.
package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/novadental/clinic-api/internal/appointments"
	"github.com/novadental/clinic-api/internal/availability"
	"github.com/novadental/clinic-api/internal/catalog"
	"github.com/novadental/clinic-api/internal/clinics"
	httpmiddleware "github.com/novadental/clinic-api/internal/http/middleware"
	"github.com/novadental/clinic-api/internal/liveboard"
	"github.com/novadental/clinic-api/internal/patients"
	"github.com/novadental/clinic-api/internal/staff"
	"github.com/novadental/clinic-api/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger *logging.Logger

	Appointments *appointments.Handler
	Availability *availability.Handler
	Services     *catalog.Handler
	Patients     *patients.Handler
	Staff        *staff.Handler
	Clinics      *clinics.Handler
	LiveBoard    *liveboard.Handler

	AuthSecret         string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints.
	r.Group(func(public chi.Router) {
		public.Get("/healthz", healthz)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Authenticated API.
	r.Route("/api", func(api chi.Router) {
		api.Use(httpmiddleware.Auth(cfg.AuthSecret))

		if cfg.Appointments != nil {
			api.Route("/appointments", cfg.Appointments.Routes)
		}
		if cfg.Availability != nil {
			api.Route("/availability", cfg.Availability.Routes)
		}
		if cfg.Services != nil {
			api.Route("/services", cfg.Services.Routes)
		}
		if cfg.Patients != nil {
			api.Route("/patients", cfg.Patients.Routes)
		}
		if cfg.Staff != nil {
			api.Route("/staff", cfg.Staff.Routes)
		}
		if cfg.Clinics != nil {
			api.Route("/clinics", cfg.Clinics.Routes)
		}
		if cfg.LiveBoard != nil {
			api.Get("/ws/appointments", cfg.LiveBoard.Connect)
		}
	})

	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
