package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/intake-api/config"
	"github.com/jwalitptl/intake-api/internal/email"
	"github.com/jwalitptl/intake-api/internal/handler"
	appointmentHandler "github.com/jwalitptl/intake-api/internal/handler/appointment"
	authHandler "github.com/jwalitptl/intake-api/internal/handler/auth"
	patientHandler "github.com/jwalitptl/intake-api/internal/handler/patient"
	uploadHandler "github.com/jwalitptl/intake-api/internal/handler/upload"
	"github.com/jwalitptl/intake-api/internal/middleware"
	"github.com/jwalitptl/intake-api/internal/repository/postgres"
	"github.com/jwalitptl/intake-api/internal/router"
	appointmentService "github.com/jwalitptl/intake-api/internal/service/appointment"
	auditService "github.com/jwalitptl/intake-api/internal/service/audit"
	ingestService "github.com/jwalitptl/intake-api/internal/service/ingest"
	otpService "github.com/jwalitptl/intake-api/internal/service/otp"
	patientService "github.com/jwalitptl/intake-api/internal/service/patient"
	"github.com/jwalitptl/intake-api/internal/storage"
	"github.com/jwalitptl/intake-api/pkg/auth"
	"github.com/jwalitptl/intake-api/pkg/logger"
	"github.com/jwalitptl/intake-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger.Setup(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse redis URL")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	blobs, err := storage.NewDiskStore(cfg.Uploads.Dir, cfg.Uploads.URLPrefix)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize blob storage")
	}

	m := metrics.NewMetrics("intake", "api")

	baseRepo := postgres.NewBaseRepository(db)
	appointmentRepo := postgres.NewAppointmentRepository(db)
	patientRepo := postgres.NewPatientRepository(db)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)
	auditRepo := postgres.NewAuditRepository(baseRepo)

	auditor := auditService.NewService(auditRepo)
	patientSvc := patientService.NewService(patientRepo, outboxRepo, auditor)
	ingestSvc := ingestService.NewService(appointmentRepo, patientSvc, outboxRepo, auditor, m)
	appointmentSvc := appointmentService.NewService(
		appointmentRepo, patientSvc, blobs, outboxRepo, auditor, m, cfg.IsProduction())

	var emailSvc email.Service
	if cfg.SMTP.Host != "" {
		emailSvc = email.NewSMTPService(cfg.SMTP)
	} else {
		emailSvc = email.NewNoopService()
	}
	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)
	otpSvc := otpService.NewService(redisClient, patientRepo, emailSvc, jwtSvc)

	authMiddleware := middleware.NewAuthMiddleware(jwtSvc)

	r := router.NewRouter(
		authMiddleware,
		uploadHandler.NewHandler(ingestSvc),
		appointmentHandler.NewHandler(appointmentSvc),
		patientHandler.NewHandler(patientSvc),
		authHandler.NewHandler(otpSvc),
		handler.NewHandler(),
		router.RouterConfig{
			RateLimit:     rateLimit(cfg),
			RateBurst:     cfg.RateLimit.Burst,
			MaxBodyBytes:  cfg.Uploads.MaxBodyBytes,
			CORSConfig:    middleware.DefaultCORSConfig(),
			MetricsPrefix: "intake_api",
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}

func rateLimit(cfg *config.Config) rate.Limit {
	if !cfg.RateLimit.Enabled {
		return 0
	}
	return rate.Limit(cfg.RateLimit.RequestsPerSecond)
}
