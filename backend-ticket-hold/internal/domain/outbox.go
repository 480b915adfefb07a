package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultEventTopic receives every ticket hold event
const DefaultEventTopic = "ticket-hold-events"

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// IsValid checks if the status is a valid OutboxStatus
func (s OutboxStatus) IsValid() bool {
	switch s {
	case OutboxStatusPending, OutboxStatusPublished, OutboxStatusFailed:
		return true
	}
	return false
}

func (s OutboxStatus) String() string {
	return string(s)
}

// OutboxMessage is an event row written in the same transaction as the
// state change it describes
type OutboxMessage struct {
	ID           string       `json:"id"`
	Aggregate    Reference    `json:"aggregate"`
	EventType    EventType    `json:"event_type"`
	Payload      []byte       `json:"payload"`
	Topic        string       `json:"topic"`
	PartitionKey string       `json:"partition_key"`
	Status       OutboxStatus `json:"status"`
	RetryCount   int          `json:"retry_count"`
	MaxRetries   int          `json:"max_retries"`
	LastError    string       `json:"last_error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	ProcessedAt  *time.Time   `json:"processed_at,omitempty"`
	PublishedAt  *time.Time   `json:"published_at,omitempty"`
}

// NewOutboxMessage wraps data in an Event envelope keyed by its aggregate.
// Events for one hold share a partition so consumers see them in order.
func NewOutboxMessage(eventType EventType, aggregate Reference, partitionKey, topic string, data interface{}, now time.Time) (*OutboxMessage, error) {
	id := uuid.New().String()
	payload, err := json.Marshal(Event{
		EventID:    id,
		EventType:  eventType,
		Aggregate:  aggregate,
		OccurredAt: now.UTC(),
		Version:    1,
		Data:       data,
	})
	if err != nil {
		return nil, err
	}
	if topic == "" {
		topic = DefaultEventTopic
	}
	if partitionKey == "" {
		partitionKey = aggregate.ID
	}
	return &OutboxMessage{
		ID:           id,
		Aggregate:    aggregate,
		EventType:    eventType,
		Payload:      payload,
		Topic:        topic,
		PartitionKey: partitionKey,
		Status:       OutboxStatusPending,
		MaxRetries:   5,
		CreatedAt:    now,
	}, nil
}

// HoldOutboxEvent creates an outbox message for a hold event
func HoldOutboxEvent(eventType EventType, h *TicketHold, previous HoldStatus, topic string, now time.Time) (*OutboxMessage, error) {
	return NewOutboxMessage(eventType, HoldRef(h.ID), h.ID, topic, NewHoldEventData(h, previous), now)
}

// LinkOutboxEvent creates an outbox message for a link event
func LinkOutboxEvent(eventType EventType, l *PurchaseLink, previous LinkStatus, topic string, now time.Time) (*OutboxMessage, error) {
	return NewOutboxMessage(eventType, LinkRef(l.ID), l.TicketHoldID, topic, NewLinkEventData(l, previous), now)
}

// RedemptionOutboxEvent creates the redemption.committed message
func RedemptionOutboxEvent(p *Purchase, topic string, now time.Time) (*OutboxMessage, error) {
	return NewOutboxMessage(EventRedemptionCommitted, PurchaseRef(p.ID), p.TicketHoldID, topic, NewRedemptionEventData(p), now)
}

// CanRetry checks if the message can be retried
func (m *OutboxMessage) CanRetry() bool {
	return m.Status == OutboxStatusFailed && m.RetryCount < m.MaxRetries
}

// MarkAsPublished marks the message as successfully published
func (m *OutboxMessage) MarkAsPublished(now time.Time) {
	m.Status = OutboxStatusPublished
	m.PublishedAt = &now
	m.ProcessedAt = &now
}

// MarkAsFailed records a failed publish attempt
func (m *OutboxMessage) MarkAsFailed(err string, now time.Time) {
	m.Status = OutboxStatusFailed
	m.LastError = err
	m.RetryCount++
	m.ProcessedAt = &now
}

// GetPayload unmarshals the event envelope
func (m *OutboxMessage) GetPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}
