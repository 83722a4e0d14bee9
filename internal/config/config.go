package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	// Redis backs the per-clinic settings store.
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// AuthJWTSecret signs the HMAC tokens carried by patients and staff.
	AuthJWTSecret string

	CORSAllowedOrigins []string

	// ClinicTimezone interprets appointment wall-clock times (e.g. "Asia/Manila").
	ClinicTimezone string

	// DefaultClinicID receives bookings that do not name a clinic.
	DefaultClinicID string

	// DefaultDurationMinutes is used when a booking has no service attached.
	DefaultDurationMinutes int

	// MinNoticeMinutes rejects bookings closer than this to the slot start.
	MinNoticeMinutes int

	ShutdownTimeout time.Duration

	// SendGrid email configuration for booking notifications.
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:                   getEnv("PORT", "8080"),
		Env:                    getEnv("ENV", "development"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		RedisAddr:              getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:          getEnv("REDIS_PASSWORD", ""),
		RedisTLS:               getEnvAsBool("REDIS_TLS", false),
		AuthJWTSecret:          getEnv("AUTH_JWT_SECRET", ""),
		CORSAllowedOrigins:     getEnvAsSlice("CORS_ALLOWED_ORIGINS", nil),
		ClinicTimezone:         getEnv("CLINIC_TIMEZONE", "UTC"),
		DefaultClinicID:        getEnv("DEFAULT_CLINIC_ID", ""),
		DefaultDurationMinutes: getEnvAsInt("DEFAULT_DURATION_MINUTES", 30),
		MinNoticeMinutes:       getEnvAsInt("MIN_NOTICE_MINUTES", 0),
		ShutdownTimeout:        getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		SendGridAPIKey:         getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:      getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:       getEnv("SENDGRID_FROM_NAME", "NovaDental"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
