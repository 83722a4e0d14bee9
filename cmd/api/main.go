package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/novadental/clinic-api/internal/api/router"
	"github.com/novadental/clinic-api/internal/appointments"
	"github.com/novadental/clinic-api/internal/audit"
	"github.com/novadental/clinic-api/internal/availability"
	"github.com/novadental/clinic-api/internal/catalog"
	"github.com/novadental/clinic-api/internal/clinics"
	appconfig "github.com/novadental/clinic-api/internal/config"
	"github.com/novadental/clinic-api/internal/liveboard"
	"github.com/novadental/clinic-api/internal/notify"
	"github.com/novadental/clinic-api/internal/observability/metrics"
	"github.com/novadental/clinic-api/internal/patients"
	"github.com/novadental/clinic-api/internal/staff"
	"github.com/novadental/clinic-api/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic API server", "env", cfg.Env, "port", cfg.Port)

	if cfg.AuthJWTSecret == "" {
		logger.Error("AUTH_JWT_SECRET is required")
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pg pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// The audit trail runs on database/sql; everything else shares the pool.
	auditDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open audit db", "error", err)
		os.Exit(1)
	}
	defer func() { _ = auditDB.Close() }()

	redisClient := newRedisClient(ctx, cfg, logger)

	loc, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		logger.Error("invalid CLINIC_TIMEZONE", "error", err, "tz", cfg.ClinicTimezone)
		os.Exit(1)
	}
	var defaultClinicID uuid.UUID
	if cfg.DefaultClinicID != "" {
		defaultClinicID, err = uuid.Parse(cfg.DefaultClinicID)
		if err != nil {
			logger.Error("invalid DEFAULT_CLINIC_ID", "error", err)
			os.Exit(1)
		}
	}

	registry := prometheus.NewRegistry()
	schedulingMetrics := metrics.NewSchedulingMetrics(registry)

	// Stores.
	apptStore := appointments.NewStore(pool)
	availStore := availability.NewStore(pool)
	resolver := availability.NewResolver(availStore)
	serviceStore := catalog.NewStore(pool)
	patientStore := patients.NewStore(pool)
	staffStore := staff.NewStore(pool)
	locationStore := clinics.NewStore(pool)
	notificationLog := notify.NewStore(pool)
	auditStore := audit.NewStore(auditDB)

	var settingsStore *clinics.SettingsStore
	if redisClient != nil {
		settingsStore = clinics.NewSettingsStore(redisClient)
	}

	// Transition sinks.
	var sender notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		sender = sg
	} else {
		sender = notify.NewStubEmailSender(logger)
	}
	notifier := notify.NewService(sender, patientStore, notificationLog, logger)
	auditRecorder := audit.NewRecorder(auditStore, logger)
	hub := liveboard.NewHub(logger)

	svcCfg := appointments.ServiceConfig{
		Repo:                   apptStore,
		Windows:                resolver,
		Catalog:                serviceStore,
		Recorders:              []appointments.TransitionRecorder{auditRecorder, notifier, hub},
		Metrics:                schedulingMetrics,
		Logger:                 logger,
		Location:               loc,
		DefaultClinicID:        defaultClinicID,
		DefaultDurationMinutes: cfg.DefaultDurationMinutes,
		MinNoticeMinutes:       cfg.MinNoticeMinutes,
	}
	if settingsStore != nil {
		svcCfg.Policies = settingsStore
	} else {
		// Without Redis, fall back to the built-in defaults so the
		// weekly-limit rule still applies.
		svcCfg.Policies = clinics.DefaultPolicies{}
	}
	apptService := appointments.NewService(svcCfg)

	routerCfg := &router.Config{
		Logger:       logger,
		Appointments: appointments.NewHandler(apptService, logger),
		Availability: availability.NewHandler(availStore, resolver, apptStore, logger),
		Services:     catalog.NewHandler(serviceStore, logger),
		Patients:     patients.NewHandler(patientStore, logger),
		Staff:        staff.NewHandler(staffStore, logger),
		LiveBoard:    liveboard.NewHandler(hub, logger),

		AuthSecret:         cfg.AuthJWTSecret,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	if settingsStore != nil {
		routerCfg.Clinics = clinics.NewHandler(locationStore, settingsStore, logger)
	} else {
		routerCfg.Clinics = clinics.NewHandler(locationStore, nil, logger)
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// newRedisClient connects the per-clinic settings store. Redis is optional:
// when it is unreachable the service falls back to default policies.
func newRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, clinic settings fall back to defaults", "error", err)
		return nil
	}
	return client
}
