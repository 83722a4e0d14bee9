// Package clinics provides clinic locations and per-clinic scheduling
// settings.
package clinics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Settings holds per-clinic scheduling policy knobs. Policies are read on
// the booking hot path, so they live in Redis rather than Postgres.
type Settings struct {
	ClinicID string `json:"clinic_id"`
	// EnforceWeeklyLimit applies the one-active-appointment-per-patient
	// rolling 7-day rule.
	EnforceWeeklyLimit bool `json:"enforce_weekly_limit"`
	// DefaultDurationMinutes is used for bookings without a service.
	DefaultDurationMinutes int `json:"default_duration_minutes"`
	// MinNoticeMinutes rejects bookings closer than this to the slot start.
	MinNoticeMinutes int `json:"min_notice_minutes"`
	// Timezone interprets the clinic's wall-clock schedule (e.g. "Asia/Manila").
	Timezone string `json:"timezone"`
}

// DefaultSettings returns the policy applied when a clinic has none stored.
func DefaultSettings(clinicID string) *Settings {
	return &Settings{
		ClinicID:               clinicID,
		EnforceWeeklyLimit:     true,
		DefaultDurationMinutes: 30,
		MinNoticeMinutes:       0,
		Timezone:               "UTC",
	}
}

// DefaultPolicies serves DefaultSettings for every clinic. It backs the
// booking policy checks when no Redis-based settings store is configured,
// so the weekly-limit rule stays enforced.
type DefaultPolicies struct{}

// Get returns the default policy for the clinic.
func (DefaultPolicies) Get(_ context.Context, clinicID string) (*Settings, error) {
	return DefaultSettings(clinicID), nil
}

// SettingsStore persists clinic settings in Redis.
type SettingsStore struct {
	redis *redis.Client
}

// NewSettingsStore creates a settings store.
func NewSettingsStore(redisClient *redis.Client) *SettingsStore {
	return &SettingsStore{redis: redisClient}
}

func (s *SettingsStore) key(clinicID string) string {
	return fmt.Sprintf("clinic:settings:%s", clinicID)
}

// Get retrieves clinic settings, returning defaults when none are stored.
func (s *SettingsStore) Get(ctx context.Context, clinicID string) (*Settings, error) {
	data, err := s.redis.Get(ctx, s.key(clinicID)).Bytes()
	if err == redis.Nil {
		return DefaultSettings(clinicID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("clinics: get settings: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("clinics: unmarshal settings: %w", err)
	}
	return &settings, nil
}

// Set saves clinic settings.
func (s *SettingsStore) Set(ctx context.Context, settings *Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("clinics: marshal settings: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(settings.ClinicID), data, 0).Err(); err != nil {
		return fmt.Errorf("clinics: set settings: %w", err)
	}
	return nil
}
