package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/bootstrap"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/di"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/worker"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/config"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/logger"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/middleware"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/telemetry"
	"go.uber.org/zap"
)

const serviceName = "ticket-hold-service"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLog, err := bootstrap.Logger(cfg, serviceName)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer logger.Sync()
	appLog.Info("Starting Ticket Hold Service...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := bootstrap.Telemetry(ctx, cfg, serviceName)
	if err != nil {
		appLog.Fatal("Telemetry setup failed", zap.Error(err))
	}

	db, err := bootstrap.Postgres(ctx, cfg, serviceName, true)
	if err != nil {
		appLog.Fatal("Database setup failed", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := bootstrap.Redis(ctx, cfg)
	if err != nil {
		appLog.Fatal("Redis setup failed", zap.Error(err))
	}
	defer redisClient.Close()

	// Kafka is optional for the API; events wait in the outbox until a relay
	// can publish them
	var producer worker.Publisher
	kafkaProducer, err := bootstrap.Producer(ctx, cfg)
	if err != nil {
		appLog.Warn("Kafka unavailable, outbox relay disabled", zap.Error(err))
	} else if kafkaProducer != nil {
		defer kafkaProducer.Close()
		if cfg.Hold.OutboxEnabled {
			producer = kafkaProducer
		}
	}

	container := di.NewContainer(&di.ContainerConfig{
		DB:         db,
		Redis:      redisClient,
		Store:      bootstrap.Store(db, cfg),
		Producer:   producer,
		Catalog:    bootstrap.Catalog(cfg),
		Coupons:    bootstrap.Coupons(cfg),
		EventTopic: cfg.Kafka.Topic,
		Hold:       cfg.Hold,
		Auth: &middleware.AuthConfig{
			Secret: cfg.JWT.Secret,
			Issuer: cfg.JWT.Issuer,
		},
	})

	if container.OutboxWorker != nil {
		if err := container.OutboxWorker.Start(ctx); err != nil {
			appLog.Fatal("Outbox worker failed to start", zap.Error(err))
		}
		defer container.OutboxWorker.Stop()
	}
	if cfg.Hold.RunSweeperInProcess {
		if err := container.ExpirySweeper.Start(ctx); err != nil {
			appLog.Fatal("Expiry sweeper failed to start", zap.Error(err))
		}
		defer container.ExpirySweeper.Stop()
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(telemetry.TracingMiddleware(serviceName))
	router.Use(middleware.Logger(appLog))

	container.RegisterRoutes(router)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLog.Info("Ticket Hold Service listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	<-ctx.Done()
	appLog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), bootstrap.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		appLog.Warn("Telemetry shutdown failed", zap.Error(err))
	}

	appLog.Info("Server exited gracefully")
}
