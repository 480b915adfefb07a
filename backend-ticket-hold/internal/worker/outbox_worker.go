package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/clock"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/metrics"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/repository"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/kafka"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/logger"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/retry"
	"go.uber.org/zap"
)

// Publisher is the subset of the Kafka producer used by the relay
type Publisher interface {
	Produce(ctx context.Context, msg *kafka.Message) error
	ProduceJSON(ctx context.Context, topic, key string, value interface{}, headers map[string]string) error
}

// OutboxWorkerConfig contains configuration for the outbox worker
type OutboxWorkerConfig struct {
	// PollInterval is the interval between polling for pending messages
	PollInterval time.Duration
	// BatchSize is the number of messages to claim in each poll
	BatchSize int
	// RetryInterval is the interval between retrying failed messages
	RetryInterval time.Duration
	// CleanupInterval is the interval between cleanup of old published messages
	CleanupInterval time.Duration
	// Retention is how long published messages are kept
	Retention time.Duration
	// PublishRetry bounds the immediate retries of one publish
	PublishRetry *retry.Config
}

// DefaultOutboxWorkerConfig returns default configuration
func DefaultOutboxWorkerConfig() *OutboxWorkerConfig {
	return &OutboxWorkerConfig{
		PollInterval:    500 * time.Millisecond,
		BatchSize:       100,
		RetryInterval:   5 * time.Second,
		CleanupInterval: time.Hour,
		Retention:       7 * 24 * time.Hour,
		PublishRetry: &retry.Config{
			MaxRetries:      2,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
	}
}

// OutboxWorker relays outbox rows to Kafka. Rows are claimed with
// FOR UPDATE SKIP LOCKED, so several relays can run side by side.
type OutboxWorker struct {
	store       repository.Store
	producer    Publisher
	deadLetters *retry.DeadLetterPublisher
	clock       clock.Clock
	config      *OutboxWorkerConfig
	log         *logger.Logger
	stopCh      chan struct{}
	wg          sync.WaitGroup

	mu          sync.Mutex
	running     bool
	published   int64
	failed      int64
	deadLetterN int64
	deleted     int64
}

// NewOutboxWorker creates a new outbox worker
func NewOutboxWorker(store repository.Store, producer Publisher, clk clock.Clock, config *OutboxWorkerConfig) *OutboxWorker {
	if config == nil {
		config = DefaultOutboxWorkerConfig()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	w := &OutboxWorker{
		store:    store,
		producer: producer,
		clock:    clk,
		config:   config,
		log:      logger.Get(),
		stopCh:   make(chan struct{}),
	}
	if producer != nil {
		w.deadLetters = retry.NewDeadLetterPublisher(producer, "outbox-relay", "")
	}
	return w
}

// Start starts the outbox worker
func (w *OutboxWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting outbox worker")

	w.wg.Add(3)
	go w.every(ctx, w.config.PollInterval, w.logged("relay pending", w.RelayPending))
	go w.every(ctx, w.config.RetryInterval, w.logged("retry failed", w.RetryFailed))
	go w.every(ctx, w.config.CleanupInterval, w.logged("cleanup", func(ctx context.Context) (int, error) {
		n, err := w.Cleanup(ctx)
		return int(n), err
	}))

	return nil
}

// Stop stops the outbox worker
func (w *OutboxWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping outbox worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Outbox worker stopped")
}

func (w *OutboxWorker) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (w *OutboxWorker) logged(task string, fn func(context.Context) (int, error)) func(context.Context) {
	return func(ctx context.Context) {
		n, err := fn(ctx)
		if err != nil {
			w.log.ErrorContext(ctx, "outbox "+task+" failed", zap.Error(err))
			return
		}
		if n > 0 {
			w.log.Debug("outbox "+task, zap.Int("messages", n))
		}
	}
}

// RelayPending publishes one batch of pending messages and returns how many
// were published
func (w *OutboxWorker) RelayPending(ctx context.Context) (int, error) {
	return w.relay(ctx, func(ctx context.Context, tx repository.Repository) ([]*domain.OutboxMessage, error) {
		return tx.ClaimPendingOutbox(ctx, w.config.BatchSize)
	})
}

// RetryFailed republishes one batch of failed messages that still have
// retries left
func (w *OutboxWorker) RetryFailed(ctx context.Context) (int, error) {
	return w.relay(ctx, func(ctx context.Context, tx repository.Repository) ([]*domain.OutboxMessage, error) {
		return tx.ClaimFailedOutbox(ctx, w.config.BatchSize)
	})
}

type claimFunc func(ctx context.Context, tx repository.Repository) ([]*domain.OutboxMessage, error)

// relay claims a batch and settles every message inside the same
// transaction so the row locks are held until the outcome is recorded
func (w *OutboxWorker) relay(ctx context.Context, claim claimFunc) (int, error) {
	if w.producer == nil {
		return 0, fmt.Errorf("outbox relay has no producer")
	}

	published := 0
	err := w.store.InTx(ctx, func(ctx context.Context, tx repository.Repository) error {
		messages, err := claim(ctx, tx)
		if err != nil {
			return fmt.Errorf("claim outbox: %w", err)
		}
		published = 0
		for _, msg := range messages {
			if err := w.settle(ctx, tx, msg); err != nil {
				return err
			}
			if msg.Status == domain.OutboxStatusPublished {
				published++
			}
		}
		return nil
	})
	return published, err
}

// settle publishes msg and records the outcome on msg and in the table
func (w *OutboxWorker) settle(ctx context.Context, tx repository.Repository, msg *domain.OutboxMessage) error {
	eventType := string(msg.EventType)
	now := w.clock.Now()

	res := retry.Do(ctx, w.config.PublishRetry, func(ctx context.Context) error {
		return w.producer.Produce(ctx, toKafkaMessage(msg, now))
	})
	if res.Err == nil {
		if err := tx.MarkOutboxPublished(ctx, msg.ID, now); err != nil {
			return fmt.Errorf("mark outbox %s published: %w", msg.ID, err)
		}
		msg.MarkAsPublished(now)
		metrics.RecordOutboxPublished(ctx, eventType)
		w.count(func() { w.published++ })
		return nil
	}

	cause := res.Err
	if res.LastError != nil {
		cause = res.LastError
	}
	if err := tx.MarkOutboxFailed(ctx, msg.ID, cause.Error(), now); err != nil {
		return fmt.Errorf("mark outbox %s failed: %w", msg.ID, err)
	}
	msg.MarkAsFailed(cause.Error(), now)
	metrics.RecordOutboxFailed(ctx, eventType)
	w.count(func() { w.failed++ })

	w.log.WarnContext(ctx, "outbox publish failed",
		zap.String("message_id", msg.ID),
		zap.String("event_type", eventType),
		zap.Int("retry_count", msg.RetryCount),
		zap.Int("max_retries", msg.MaxRetries),
		zap.Error(cause),
	)

	if msg.RetryCount >= msg.MaxRetries {
		w.deadLetter(ctx, msg, cause)
	}
	return nil
}

// deadLetter parks a message that ran out of retries on the DLQ topic. The
// row stays failed so it is not claimed again.
func (w *OutboxWorker) deadLetter(ctx context.Context, msg *domain.OutboxMessage, cause error) {
	dl := &retry.DeadLetter{
		ID:            msg.ID,
		OriginalTopic: msg.Topic,
		OriginalKey:   msg.PartitionKey,
		Payload:       json.RawMessage(msg.Payload),
		Headers:       headersFor(msg),
		Error:         cause.Error(),
		Attempts:      msg.RetryCount,
		FirstSeenAt:   msg.CreatedAt,
	}
	if err := w.deadLetters.Publish(ctx, dl); err != nil {
		w.log.ErrorContext(ctx, "dead letter publish failed",
			zap.String("message_id", msg.ID),
			zap.String("topic", w.deadLetters.Topic(msg.Topic)),
			zap.Error(err),
		)
		return
	}
	metrics.RecordOutboxDeadLetter(ctx, string(msg.EventType))
	w.count(func() { w.deadLetterN++ })
}

// Cleanup deletes published messages older than the retention window
func (w *OutboxWorker) Cleanup(ctx context.Context) (int64, error) {
	deleted, err := w.store.DeletePublishedOutbox(ctx, w.clock.Now().Add(-w.config.Retention))
	if err != nil {
		return 0, fmt.Errorf("cleanup outbox: %w", err)
	}
	if deleted > 0 {
		w.log.InfoContext(ctx, "cleaned up published outbox messages", zap.Int64("deleted", deleted))
		w.count(func() { w.deleted += deleted })
	}
	return deleted, nil
}

func (w *OutboxWorker) count(fn func()) {
	w.mu.Lock()
	fn()
	w.mu.Unlock()
}

func headersFor(msg *domain.OutboxMessage) map[string]string {
	return map[string]string{
		"event_id":       msg.ID,
		"event_type":     string(msg.EventType),
		"aggregate_type": string(msg.Aggregate.Kind),
		"aggregate_id":   msg.Aggregate.ID,
		"content_type":   "application/json",
	}
}

func toKafkaMessage(msg *domain.OutboxMessage, now time.Time) *kafka.Message {
	headers := headersFor(msg)
	headers["source"] = "outbox-relay"
	return &kafka.Message{
		Topic:     msg.Topic,
		Key:       msg.PartitionKey,
		Value:     msg.Payload,
		Headers:   headers,
		Timestamp: now,
	}
}

// GetStats returns worker statistics
func (w *OutboxWorker) GetStats() *OutboxWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &OutboxWorkerStats{
		IsRunning:   w.running,
		Published:   w.published,
		Failed:      w.failed,
		DeadLetters: w.deadLetterN,
		Deleted:     w.deleted,
	}
}

// OutboxWorkerStats contains worker statistics
type OutboxWorkerStats struct {
	IsRunning   bool  `json:"is_running"`
	Published   int64 `json:"published"`
	Failed      int64 `json:"failed"`
	DeadLetters int64 `json:"dead_letters"`
	Deleted     int64 `json:"deleted"`
}
