// Package bootstrap opens the shared infrastructure of the ticket hold
// binaries from the loaded configuration.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/metrics"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/migrations"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/repository"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/service"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/config"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/database"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/kafka"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/logger"
	pkgredis "github.com/prohmpiriya/booking-rush-10k-rps/pkg/redis"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/telemetry"
	"go.uber.org/zap"
)

// Logger initializes the global logger for serviceName
func Logger(cfg *config.Config, serviceName string) (*logger.Logger, error) {
	level := "info"
	if cfg.App.Debug {
		level = "debug"
	}
	if err := logger.Init(&logger.Config{
		Level:       level,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.Get(), nil
}

// Telemetry starts tracing and registers the service instruments. The
// returned function flushes the exporter.
func Telemetry(ctx context.Context, cfg *config.Config, serviceName string) (func(context.Context) error, error) {
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := metrics.Init(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return telemetry.Shutdown, nil
}

// Postgres connects the pool and, when enabled, applies migrations
func Postgres(ctx context.Context, cfg *config.Config, serviceName string, migrate bool) (*database.PostgresDB, error) {
	dbCfg := database.DefaultPostgresConfig()
	dbCfg.Host = cfg.Database.Host
	dbCfg.Port = cfg.Database.Port
	dbCfg.User = cfg.Database.User
	dbCfg.Password = cfg.Database.Password
	dbCfg.Database = cfg.Database.DBName
	dbCfg.SSLMode = cfg.Database.SSLMode
	if cfg.Database.MaxOpenConns > 0 {
		dbCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		dbCfg.MinConns = int32(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		dbCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	}
	if cfg.Database.ConnMaxIdleTime > 0 {
		dbCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	}
	dbCfg.EnableTracing = cfg.OTel.Enabled
	dbCfg.ServiceName = serviceName

	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	logger.Get().Info("Database connected",
		zap.Int32("min_conns", dbCfg.MinConns),
		zap.Int32("max_conns", dbCfg.MaxConns),
	)

	if migrate && cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
			db.Close()
			return nil, err
		}
		logger.Get().Info("Database migrations applied")
	}
	return db, nil
}

// Store builds the Postgres-backed store with the configured lock timeout
func Store(db *database.PostgresDB, cfg *config.Config) repository.Store {
	return repository.NewPostgresStore(db.Pool(), cfg.Hold.LockTimeout)
}

// Redis connects the Redis client
func Redis(ctx context.Context, cfg *config.Config) (*pkgredis.Client, error) {
	redisCfg := pkgredis.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	if cfg.Redis.PoolSize > 0 {
		redisCfg.PoolSize = cfg.Redis.PoolSize
	}
	if cfg.Redis.MinIdleConns > 0 {
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	}
	if cfg.Redis.DialTimeout > 0 {
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
	}
	if cfg.Redis.ReadTimeout > 0 {
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	}
	if cfg.Redis.WriteTimeout > 0 {
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout
	}

	client, err := pkgredis.NewClient(ctx, redisCfg)
	if err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Get().Info("Redis connected", zap.String("addr", redisCfg.Addr()))
	return client, nil
}

// Producer connects the Kafka producer; nil with no error when Kafka is
// disabled
func Producer(ctx context.Context, cfg *config.Config) (*kafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		logger.Get().Info("Kafka disabled, outbox rows stay pending")
		return nil, nil
	}
	producerCfg := kafka.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers
	if cfg.Kafka.ClientID != "" {
		producerCfg.ClientID = cfg.Kafka.ClientID
	}

	producer, err := kafka.NewProducer(ctx, producerCfg)
	if err != nil {
		return nil, fmt.Errorf("kafka connection failed: %w", err)
	}
	logger.Get().Info("Kafka producer connected", zap.Strings("brokers", producerCfg.Brokers))
	return producer, nil
}

// Catalog builds the ticket catalog client
func Catalog(cfg *config.Config) service.TicketCatalog {
	return service.NewHTTPTicketCatalog(
		cfg.Services.TicketServiceURL,
		cfg.Services.RequestTimeout,
		cfg.Hold.CatalogCacheTTL,
	)
}

// Coupons builds the coupon engine; without a coupon service every code is
// rejected
func Coupons(cfg *config.Config) service.CouponEngine {
	if cfg.Services.CouponServiceURL == "" {
		return service.NewNoOpCouponEngine()
	}
	timeout := cfg.Services.RequestTimeout
	if bound := service.CouponTimeoutFor(cfg.Hold.LockTimeout); timeout <= 0 || timeout > bound {
		timeout = bound
	}
	return service.NewHTTPCouponEngine(cfg.Services.CouponServiceURL, timeout)
}

// ShutdownTimeout bounds graceful shutdown of every binary
const ShutdownTimeout = 30 * time.Second
