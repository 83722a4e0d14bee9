package clinics

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/novadental/clinic-api/internal/http/middleware"
	"github.com/novadental/clinic-api/pkg/logging"
)

type memLocations struct {
	locations map[uuid.UUID]*ClinicLocation
}

func newMemLocations() *memLocations {
	return &memLocations{locations: make(map[uuid.UUID]*ClinicLocation)}
}

func (m *memLocations) Create(ctx context.Context, c *ClinicLocation) error {
	c.ID = uuid.New()
	cp := *c
	m.locations[c.ID] = &cp
	return nil
}

func (m *memLocations) GetByID(ctx context.Context, id uuid.UUID) (*ClinicLocation, error) {
	c, ok := m.locations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memLocations) List(ctx context.Context) ([]ClinicLocation, error) {
	var out []ClinicLocation
	for _, c := range m.locations {
		out = append(out, *c)
	}
	return out, nil
}

func serve(router *chi.Mux, method, path string, body any, role string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(middleware.WithIdentity(req.Context(),
		middleware.Identity{UserID: uuid.New(), Role: role}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func newClinicRouter(t *testing.T) *chi.Mux {
	t.Helper()
	h := NewHandler(newMemLocations(), newTestStore(t), logging.Default())
	router := chi.NewRouter()
	router.Route("/api/clinics", h.Routes)
	return router
}

func TestClinicLocations(t *testing.T) {
	router := newClinicRouter(t)

	rec := serve(router, http.MethodPost, "/api/clinics", map[string]any{
		"name": "NovaDental Makati", "is_main": true,
	}, middleware.RoleOwner)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created ClinicLocation
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}

	rec = serve(router, http.MethodPost, "/api/clinics", map[string]any{"address": "no name"}, middleware.RoleOwner)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = serve(router, http.MethodGet, "/api/clinics/"+created.ID.String(), nil, middleware.RolePatient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = serve(router, http.MethodGet, "/api/clinics/"+uuid.NewString(), nil, middleware.RolePatient)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestClinicSettingsEndpoints(t *testing.T) {
	router := newClinicRouter(t)
	clinicID := uuid.New()
	base := "/api/clinics/" + clinicID.String() + "/settings"

	// Settings are staff-only.
	rec := serve(router, http.MethodGet, base, nil, middleware.RolePatient)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	// Defaults when nothing stored.
	rec = serve(router, http.MethodGet, base, nil, middleware.RoleStaff)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got Settings
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if !got.EnforceWeeklyLimit {
		t.Fatal("defaults should enforce the weekly limit")
	}

	rec = serve(router, http.MethodPut, base, map[string]any{
		"enforce_weekly_limit": false, "default_duration_minutes": 45,
		"min_notice_minutes": 60, "timezone": "Asia/Manila",
	}, middleware.RoleOwner)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(router, http.MethodGet, base, nil, middleware.RoleStaff)
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.EnforceWeeklyLimit || got.DefaultDurationMinutes != 45 || got.Timezone != "Asia/Manila" {
		t.Fatalf("unexpected stored settings: %+v", got)
	}

	rec = serve(router, http.MethodPut, base, map[string]any{"min_notice_minutes": -5}, middleware.RoleOwner)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
