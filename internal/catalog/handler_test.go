package catalog

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

type memRepo struct {
	services map[uuid.UUID]*Service
}

func newMemRepo() *memRepo {
	return &memRepo{services: make(map[uuid.UUID]*Service)}
}

func (m *memRepo) Create(ctx context.Context, svc *Service) error {
	svc.ID = uuid.New()
	svc.Active = true
	cp := *svc
	m.services[svc.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(ctx context.Context, id uuid.UUID) (*Service, error) {
	svc, ok := m.services[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *svc
	return &cp, nil
}

func (m *memRepo) List(ctx context.Context, clinicID *uuid.UUID) ([]Service, error) {
	var out []Service
	for _, svc := range m.services {
		if !svc.Active {
			continue
		}
		if clinicID != nil && svc.ClinicID != nil && *svc.ClinicID != *clinicID {
			continue
		}
		out = append(out, *svc)
	}
	return out, nil
}

func (m *memRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	svc, ok := m.services[id]
	if !ok {
		return ErrNotFound
	}
	svc.Active = false
	return nil
}

func newRouter(repo Repository) *chi.Mux {
	h := NewHandler(repo, logging.Default())
	router := chi.NewRouter()
	router.Route("/api/services", h.Routes)
	return router
}

func request(router *chi.Mux, method, path string, body any, staff bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	role := middleware.RolePatient
	if staff {
		role = middleware.RoleStaff
	}
	req = req.WithContext(middleware.WithIdentity(req.Context(), middleware.Identity{UserID: uuid.New(), Role: role}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCatalogCreateListDeactivate(t *testing.T) {
	repo := newMemRepo()
	router := newRouter(repo)

	rec := request(router, http.MethodPost, "/api/services", map[string]any{
		"name": "Cleaning", "duration_minutes": 45, "price_cents": 9500,
	}, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created Service
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.DurationMinutes != 45 || !created.Active {
		t.Fatalf("unexpected service: %+v", created)
	}

	rec = request(router, http.MethodGet, "/api/services", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listed struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatal(err)
	}
	if listed.Count != 1 {
		t.Fatalf("expected 1 service, got %d", listed.Count)
	}

	rec = request(router, http.MethodDelete, "/api/services/"+created.ID.String(), nil, true)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = request(router, http.MethodGet, "/api/services", nil, false)
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatal(err)
	}
	if listed.Count != 0 {
		t.Fatalf("deactivated service should not be listed, got %d", listed.Count)
	}
}

func TestCatalogValidationAndPermissions(t *testing.T) {
	router := newRouter(newMemRepo())

	rec := request(router, http.MethodPost, "/api/services", map[string]any{
		"name": "Cleaning", "duration_minutes": 45,
	}, false)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for patient, got %d", rec.Code)
	}

	bad := []map[string]any{
		{"duration_minutes": 45},
		{"name": "Cleaning"},
		{"name": "Cleaning", "duration_minutes": -5},
		{"name": "Cleaning", "duration_minutes": 1000},
	}
	for i, payload := range bad {
		rec := request(router, http.MethodPost, "/api/services", payload, true)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d", i, rec.Code)
		}
	}

	rec = request(router, http.MethodGet, "/api/services/"+uuid.NewString(), nil, false)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
