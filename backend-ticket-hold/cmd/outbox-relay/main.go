// Command outbox-relay publishes ticket hold outbox events to Kafka.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/bootstrap"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/clock"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/worker"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/config"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/logger"
	"go.uber.org/zap"
)

const serviceName = "ticket-hold-outbox-relay"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLog, err := bootstrap.Logger(cfg, serviceName)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer logger.Sync()

	if !cfg.Kafka.Enabled {
		appLog.Fatal("Outbox relay needs KAFKA_ENABLED=true")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := bootstrap.Telemetry(ctx, cfg, serviceName)
	if err != nil {
		appLog.Fatal("Telemetry setup failed", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), bootstrap.ShutdownTimeout)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	db, err := bootstrap.Postgres(ctx, cfg, serviceName, false)
	if err != nil {
		appLog.Fatal("Database setup failed", zap.Error(err))
	}
	defer db.Close()

	producer, err := bootstrap.Producer(ctx, cfg)
	if err != nil {
		appLog.Fatal("Kafka setup failed", zap.Error(err))
	}
	defer producer.Close()

	outboxCfg := worker.DefaultOutboxWorkerConfig()
	if cfg.Hold.OutboxPollInterval > 0 {
		outboxCfg.PollInterval = cfg.Hold.OutboxPollInterval
	}
	if cfg.Hold.OutboxBatchSize > 0 {
		outboxCfg.BatchSize = cfg.Hold.OutboxBatchSize
	}
	if cfg.Hold.OutboxRetention > 0 {
		outboxCfg.Retention = cfg.Hold.OutboxRetention
	}

	relay := worker.NewOutboxWorker(bootstrap.Store(db, cfg), producer, clock.Real{}, outboxCfg)
	if err := relay.Start(ctx); err != nil {
		appLog.Fatal("Outbox relay failed to start", zap.Error(err))
	}
	<-ctx.Done()
	relay.Stop()

	stats := relay.GetStats()
	appLog.Info("Outbox relay exited",
		zap.Int64("published", stats.Published),
		zap.Int64("failed", stats.Failed),
		zap.Int64("dead_letters", stats.DeadLetters),
	)
}
