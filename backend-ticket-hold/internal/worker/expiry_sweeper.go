package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/clock"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/metrics"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HoldExpirer flips due holds to expired
type HoldExpirer interface {
	ExpireDueHolds(ctx context.Context, limit int) (int, error)
}

// LinkExpirer flips due links to expired
type LinkExpirer interface {
	ExpireDueLinks(ctx context.Context, limit int) (int, error)
}

// ExpirySweeperConfig contains configuration for the expiry sweeper
type ExpirySweeperConfig struct {
	// ScanInterval is the interval between sweeps
	ScanInterval time.Duration
	// BatchSize caps how many holds and how many links one sweep expires
	BatchSize int
}

// DefaultExpirySweeperConfig returns default configuration
func DefaultExpirySweeperConfig() *ExpirySweeperConfig {
	return &ExpirySweeperConfig{
		ScanInterval: 30 * time.Second,
		BatchSize:    500,
	}
}

// ExpirySweeper periodically moves holds and links past expires_at to
// expired. Each row is flipped in its own transaction by the services, so a
// sweep can overlap with redemptions or another sweeper instance.
type ExpirySweeper struct {
	holds  HoldExpirer
	links  LinkExpirer
	clock  clock.Clock
	config *ExpirySweeperConfig
	log    *logger.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool

	// Stats
	totalHolds      int64
	totalLinks      int64
	totalErrors     int64
	lastSweepTime   time.Time
	lastHoldCount   int
	lastLinkCount   int
	lastSweepLength time.Duration
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(holds HoldExpirer, links LinkExpirer, clk clock.Clock, config *ExpirySweeperConfig) *ExpirySweeper {
	if config == nil {
		config = DefaultExpirySweeperConfig()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &ExpirySweeper{
		holds:  holds,
		links:  links,
		clock:  clk,
		config: config,
		log:    logger.Get(),
		stopCh: make(chan struct{}),
	}
}

// Start starts the sweeper loop
func (w *ExpirySweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("expiry sweeper already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting expiry sweeper",
		zap.Duration("interval", w.config.ScanInterval),
		zap.Int("batch_size", w.config.BatchSize),
	)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop stops the sweeper and waits for an in-flight sweep to finish
func (w *ExpirySweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping expiry sweeper")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Expiry sweeper stopped")
}

func (w *ExpirySweeper) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.sweepAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweepAndLog(ctx)
		}
	}
}

func (w *ExpirySweeper) sweepAndLog(ctx context.Context) {
	if _, _, err := w.Sweep(ctx); err != nil {
		w.log.ErrorContext(ctx, "expiry sweep failed", zap.Error(err))
	}
}

// Sweep runs one pass over holds and links concurrently. Counts reflect the
// rows this pass expired even when the other half failed.
func (w *ExpirySweeper) Sweep(ctx context.Context) (holds, links int, err error) {
	start := w.clock.Now()

	// halves share the parent ctx so a failing hold row never cuts the link pass short
	var g errgroup.Group
	g.Go(func() error {
		n, err := w.holds.ExpireDueHolds(ctx, w.config.BatchSize)
		holds = n
		if err != nil {
			return fmt.Errorf("expire holds: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		n, err := w.links.ExpireDueLinks(ctx, w.config.BatchSize)
		links = n
		if err != nil {
			return fmt.Errorf("expire links: %w", err)
		}
		return nil
	})
	err = g.Wait()

	elapsed := w.clock.Now().Sub(start)
	metrics.RecordSweep(ctx, holds, links, elapsed.Seconds())

	w.mu.Lock()
	w.totalHolds += int64(holds)
	w.totalLinks += int64(links)
	if err != nil {
		w.totalErrors++
	}
	w.lastSweepTime = start
	w.lastHoldCount = holds
	w.lastLinkCount = links
	w.lastSweepLength = elapsed
	w.mu.Unlock()

	if holds > 0 || links > 0 {
		w.log.InfoContext(ctx, "expired due holds and links",
			zap.Int("holds", holds),
			zap.Int("links", links),
			zap.Duration("elapsed", elapsed),
		)
	}
	return holds, links, err
}

// GetStats returns sweeper statistics
func (w *ExpirySweeper) GetStats() *ExpirySweeperStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &ExpirySweeperStats{
		IsRunning:     w.running,
		TotalHolds:    w.totalHolds,
		TotalLinks:    w.totalLinks,
		TotalErrors:   w.totalErrors,
		LastSweepTime: w.lastSweepTime,
		LastHoldCount: w.lastHoldCount,
		LastLinkCount: w.lastLinkCount,
		LastDuration:  w.lastSweepLength,
	}
}

// ExpirySweeperStats contains sweeper statistics
type ExpirySweeperStats struct {
	IsRunning     bool          `json:"is_running"`
	TotalHolds    int64         `json:"total_holds"`
	TotalLinks    int64         `json:"total_links"`
	TotalErrors   int64         `json:"total_errors"`
	LastSweepTime time.Time     `json:"last_sweep_time"`
	LastHoldCount int           `json:"last_hold_count"`
	LastLinkCount int           `json:"last_link_count"`
	LastDuration  time.Duration `json:"last_duration"`
}
