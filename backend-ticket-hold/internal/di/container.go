package di

import (
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/clock"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/handler"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/repository"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/service"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/worker"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/config"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/database"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/middleware"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/redis"
)

// Container holds all dependencies for the ticket hold service
type Container struct {
	// Infrastructure
	DB       *database.PostgresDB
	Redis    *redis.Client
	Store    repository.Store
	Producer worker.Publisher
	Clock    clock.Clock

	// Collaborators
	Catalog service.TicketCatalog
	Coupons service.CouponEngine

	// Services
	HoldService       service.HoldService
	LinkService       service.LinkService
	RedemptionService service.RedemptionService

	// Handlers
	HealthHandler     *handler.HealthHandler
	HoldHandler       *handler.HoldHandler
	LinkHandler       *handler.LinkHandler
	RedemptionHandler *handler.RedemptionHandler

	// Workers
	ExpirySweeper *worker.ExpirySweeper
	OutboxWorker  *worker.OutboxWorker

	auth        *middleware.AuthConfig
	idempotency *middleware.IdempotencyConfig
}

// ContainerConfig contains configuration for building the container.
// DB, Redis and Producer may be nil; Store is required.
type ContainerConfig struct {
	DB       *database.PostgresDB
	Redis    *redis.Client
	Store    repository.Store
	Producer worker.Publisher
	Catalog  service.TicketCatalog
	Coupons  service.CouponEngine
	Clock    clock.Clock

	EventTopic string
	Hold       config.HoldConfig
	Auth       *middleware.AuthConfig
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	c := &Container{
		DB:       cfg.DB,
		Redis:    cfg.Redis,
		Store:    cfg.Store,
		Producer: cfg.Producer,
		Clock:    clk,
		Catalog:  cfg.Catalog,
		Coupons:  cfg.Coupons,
		auth:     cfg.Auth,
	}
	if c.Coupons == nil {
		c.Coupons = service.NewNoOpCouponEngine()
	}

	// Initialize services
	c.HoldService = service.NewHoldService(c.Store, c.Catalog, clk, &service.HoldServiceConfig{
		EventTopic: cfg.EventTopic,
	})
	c.LinkService = service.NewLinkService(c.Store, clk, &service.LinkServiceConfig{
		CodeLength:      cfg.Hold.CodeLength,
		CodeMaxAttempts: cfg.Hold.CodeMaxAttempts,
		EventTopic:      cfg.EventTopic,
	})
	c.RedemptionService = service.NewRedemptionService(c.Store, c.Catalog, c.Coupons, clk, &service.RedemptionServiceConfig{
		EventTopic:    cfg.EventTopic,
		CouponTimeout: service.CouponTimeoutFor(cfg.Hold.LockTimeout),
	})

	// Initialize handlers
	checkers := map[string]handler.HealthChecker{"store": handler.HealthCheckFunc(c.Store.Ping)}
	if c.DB != nil {
		checkers["postgres"] = c.DB
	}
	if c.Redis != nil {
		checkers["redis"] = c.Redis
	}
	c.HealthHandler = handler.NewHealthHandler(checkers)
	c.HoldHandler = handler.NewHoldHandler(c.HoldService, c.LinkService, clk)
	c.LinkHandler = handler.NewLinkHandler(c.LinkService, clk)
	c.RedemptionHandler = handler.NewRedemptionHandler(c.RedemptionService)

	// Initialize workers
	sweepCfg := worker.DefaultExpirySweeperConfig()
	if cfg.Hold.SweepInterval > 0 {
		sweepCfg.ScanInterval = cfg.Hold.SweepInterval
	}
	if cfg.Hold.SweepBatchSize > 0 {
		sweepCfg.BatchSize = cfg.Hold.SweepBatchSize
	}
	c.ExpirySweeper = worker.NewExpirySweeper(c.HoldService, c.LinkService, clk, sweepCfg)

	if c.Producer != nil {
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
		c.OutboxWorker = worker.NewOutboxWorker(c.Store, c.Producer, clk, outboxCfg)
	}

	if c.Redis != nil {
		c.idempotency = middleware.DefaultIdempotencyConfig(c.Redis)
		if cfg.Hold.IdempotencyTTL > 0 {
			c.idempotency.TTL = cfg.Hold.IdempotencyTTL
		}
	}

	return c
}

// Router wires the handlers with auth and idempotency middleware
func (c *Container) Router() *handler.Router {
	r := &handler.Router{
		Health:      c.HealthHandler,
		Holds:       c.HoldHandler,
		Links:       c.LinkHandler,
		Redemptions: c.RedemptionHandler,
	}
	if c.auth != nil {
		r.Admin = middleware.RequireAuth(c.auth, "admin", "organizer")
		r.Buyer = middleware.OptionalAuth(c.auth)
	}
	if c.idempotency != nil {
		r.Idempotency = middleware.Idempotency(c.idempotency)
	}
	return r
}

// RegisterRoutes mounts every route on engine
func (c *Container) RegisterRoutes(engine *gin.Engine) {
	c.Router().Register(engine)
}
