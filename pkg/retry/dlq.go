package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DeadLetter describes a message that could not be delivered
type DeadLetter struct {
	ID            string            `json:"id"`
	OriginalTopic string            `json:"original_topic"`
	OriginalKey   string            `json:"original_key"`
	Payload       json.RawMessage   `json:"payload"`
	Headers       map[string]string `json:"headers,omitempty"`
	Error         string            `json:"error"`
	Attempts      int               `json:"attempts"`
	FirstSeenAt   time.Time         `json:"first_seen_at"`
	DeadAt        time.Time         `json:"dead_at"`
	Source        string            `json:"source"`
}

// JSONProducer is the subset of the Kafka producer used for dead letters
type JSONProducer interface {
	ProduceJSON(ctx context.Context, topic, key string, value interface{}, headers map[string]string) error
}

// DeadLetterPublisher routes undeliverable messages to "<topic><suffix>"
type DeadLetterPublisher struct {
	producer JSONProducer
	suffix   string
	source   string
}

// NewDeadLetterPublisher creates a publisher; suffix defaults to ".dlq"
func NewDeadLetterPublisher(producer JSONProducer, source, suffix string) *DeadLetterPublisher {
	if suffix == "" {
		suffix = ".dlq"
	}
	return &DeadLetterPublisher{producer: producer, suffix: suffix, source: source}
}

// Topic returns the dead-letter topic for originalTopic
func (p *DeadLetterPublisher) Topic(originalTopic string) string {
	return originalTopic + p.suffix
}

// Publish sends msg to the dead-letter topic
func (p *DeadLetterPublisher) Publish(ctx context.Context, msg *DeadLetter) error {
	if msg == nil {
		return fmt.Errorf("dead letter cannot be nil")
	}
	if p.producer == nil {
		return nil
	}

	msg.DeadAt = time.Now()
	msg.Source = p.source

	headers := map[string]string{
		"content_type":   "application/json",
		"original_topic": msg.OriginalTopic,
		"error":          msg.Error,
		"attempts":       strconv.Itoa(msg.Attempts),
		"source":         msg.Source,
	}
	for k, v := range msg.Headers {
		if _, taken := headers[k]; !taken {
			headers["original_"+k] = v
		}
	}

	return p.producer.ProduceJSON(ctx, p.Topic(msg.OriginalTopic), msg.OriginalKey, msg, headers)
}
