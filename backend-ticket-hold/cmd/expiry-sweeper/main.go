// Command expiry-sweeper runs the hold and link expiry sweeper on its own,
// for deployments that keep it out of the API process.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/bootstrap"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/clock"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/service"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/worker"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/config"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/logger"
	"go.uber.org/zap"
)

const serviceName = "ticket-hold-sweeper"

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLog, err := bootstrap.Logger(cfg, serviceName)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer logger.Sync()

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

	store := bootstrap.Store(db, cfg)
	clk := clock.Real{}
	topic := cfg.Kafka.Topic
	holds := service.NewHoldService(store, nil, clk, &service.HoldServiceConfig{EventTopic: topic})
	links := service.NewLinkService(store, clk, &service.LinkServiceConfig{EventTopic: topic})

	sweeper := worker.NewExpirySweeper(holds, links, clk, &worker.ExpirySweeperConfig{
		ScanInterval: cfg.Hold.SweepInterval,
		BatchSize:    cfg.Hold.SweepBatchSize,
	})

	if *once {
		h, l, err := sweeper.Sweep(ctx)
		if err != nil {
			appLog.Fatal("Sweep failed", zap.Int("holds", h), zap.Int("links", l), zap.Error(err))
		}
		appLog.Info("Sweep finished", zap.Int("holds", h), zap.Int("links", l))
		return
	}

	if err := sweeper.Start(ctx); err != nil {
		appLog.Fatal("Expiry sweeper failed to start", zap.Error(err))
	}
	<-ctx.Done()
	sweeper.Stop()

	stats := sweeper.GetStats()
	appLog.Info("Expiry sweeper exited",
		zap.Int64("total_holds", stats.TotalHolds),
		zap.Int64("total_links", stats.TotalLinks),
	)
}
