package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/clock"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/repository"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/kafka"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type producedJSON struct {
	topic   string
	key     string
	value   interface{}
	headers map[string]string
}

type fakePublisher struct {
	mu       sync.Mutex
	fail     error
	messages []*kafka.Message
	json     []producedJSON
}

func (p *fakePublisher) Produce(ctx context.Context, msg *kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakePublisher) ProduceJSON(ctx context.Context, topic, key string, value interface{}, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.json = append(p.json, producedJSON{topic: topic, key: key, value: value, headers: headers})
	return nil
}

func (p *fakePublisher) setFail(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

func testOutboxConfig() *OutboxWorkerConfig {
	cfg := DefaultOutboxWorkerConfig()
	cfg.PublishRetry = &retry.Config{MaxRetries: 0, InitialInterval: time.Millisecond}
	return cfg
}

func insertEvent(t *testing.T, store *repository.MemoryStore, holdID string, maxRetries int) *domain.OutboxMessage {
	t.Helper()
	hold := &domain.TicketHold{ID: holdID, EventOccurrenceID: 100, Status: domain.HoldStatusActive}
	msg, err := domain.HoldOutboxEvent(domain.EventHoldCreated, hold, "", "", testNow)
	require.NoError(t, err)
	msg.MaxRetries = maxRetries
	require.NoError(t, store.InsertOutbox(context.Background(), msg))
	return msg
}

func outboxByID(store *repository.MemoryStore) map[string]*domain.OutboxMessage {
	out := make(map[string]*domain.OutboxMessage)
	for _, m := range store.Outbox() {
		out[m.ID] = m
	}
	return out
}

func TestDefaultOutboxWorkerConfig(t *testing.T) {
	config := DefaultOutboxWorkerConfig()
	assert.Equal(t, 500*time.Millisecond, config.PollInterval)
	assert.Equal(t, 100, config.BatchSize)
	assert.Equal(t, 5*time.Second, config.RetryInterval)
	assert.Equal(t, time.Hour, config.CleanupInterval)
	assert.Equal(t, 7*24*time.Hour, config.Retention)
	require.NotNil(t, config.PublishRetry)
}

func TestOutboxWorker_RelayPending(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	pub := &fakePublisher{}
	first := insertEvent(t, store, "hold-1", 5)
	second := insertEvent(t, store, "hold-2", 5)

	w := NewOutboxWorker(store, pub, clock.NewFixed(testNow), testOutboxConfig())
	n, err := w.RelayPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, pub.messages, 2)
	sent := pub.messages[0]
	assert.Equal(t, domain.DefaultEventTopic, sent.Topic)
	assert.Equal(t, "hold-1", sent.Key)
	assert.Equal(t, string(domain.EventHoldCreated), sent.Headers["event_type"])
	assert.Equal(t, "ticket_hold", sent.Headers["aggregate_type"])
	assert.Equal(t, first.Payload, sent.Value)

	rows := outboxByID(store)
	assert.Equal(t, domain.OutboxStatusPublished, rows[first.ID].Status)
	assert.Equal(t, domain.OutboxStatusPublished, rows[second.ID].Status)

	// nothing left to relay
	n, err = w.RelayPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(2), w.GetStats().Published)
}

func TestOutboxWorker_FailedThenRetried(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	pub := &fakePublisher{fail: errors.New("broker unavailable")}
	msg := insertEvent(t, store, "hold-1", 5)

	w := NewOutboxWorker(store, pub, clock.NewFixed(testNow), testOutboxConfig())
	n, err := w.RelayPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	row := outboxByID(store)[msg.ID]
	assert.Equal(t, domain.OutboxStatusFailed, row.Status)
	assert.Equal(t, 1, row.RetryCount)
	assert.Equal(t, "broker unavailable", row.LastError)
	assert.Empty(t, pub.json, "no dead letter before retries run out")

	pub.setFail(nil)
	n, err = w.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.OutboxStatusPublished, outboxByID(store)[msg.ID].Status)

	stats := w.GetStats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Published)
}

func TestOutboxWorker_DeadLetterWhenRetriesRunOut(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	pub := &fakePublisher{fail: errors.New("message too large")}
	msg := insertEvent(t, store, "hold-1", 2)

	w := NewOutboxWorker(store, pub, clock.NewFixed(testNow), testOutboxConfig())
	_, err := w.RelayPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pub.json)

	_, err = w.RetryFailed(ctx)
	require.NoError(t, err)

	require.Len(t, pub.json, 1)
	dl := pub.json[0]
	assert.Equal(t, domain.DefaultEventTopic+".dlq", dl.topic)
	assert.Equal(t, "hold-1", dl.key)
	letter, ok := dl.value.(*retry.DeadLetter)
	require.True(t, ok)
	assert.Equal(t, msg.ID, letter.ID)
	assert.Equal(t, 2, letter.Attempts)
	assert.Equal(t, "message too large", letter.Error)

	// exhausted rows are no longer claimed
	n, err := w.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, pub.json, 1)
	assert.Equal(t, int64(1), w.GetStats().DeadLetters)
}

func TestOutboxWorker_Cleanup(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	pub := &fakePublisher{}
	clk := clock.NewFixed(testNow)
	old := insertEvent(t, store, "hold-1", 5)

	w := NewOutboxWorker(store, pub, clk, testOutboxConfig())
	_, err := w.RelayPending(ctx)
	require.NoError(t, err)

	clk.Advance(8 * 24 * time.Hour)
	fresh := insertEvent(t, store, "hold-2", 5)
	_, err = w.RelayPending(ctx)
	require.NoError(t, err)

	deleted, err := w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	rows := outboxByID(store)
	assert.NotContains(t, rows, old.ID)
	assert.Contains(t, rows, fresh.ID)
}

func TestOutboxWorker_RequiresProducer(t *testing.T) {
	w := NewOutboxWorker(repository.NewMemoryStore(), nil, nil, nil)
	_, err := w.RelayPending(context.Background())
	assert.Error(t, err)
}

func TestOutboxWorker_StartStop(t *testing.T) {
	w := NewOutboxWorker(repository.NewMemoryStore(), &fakePublisher{}, nil, testOutboxConfig())
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))
	assert.True(t, w.GetStats().IsRunning)
	w.Stop()
	assert.False(t, w.GetStats().IsRunning)
}
