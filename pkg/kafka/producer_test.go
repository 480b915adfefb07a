package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRecord(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := toRecord(&Message{
		Topic:     "ticket-hold-events",
		Key:       "hold-1",
		Value:     []byte(`{"ok":true}`),
		Headers:   map[string]string{"event_type": "hold.created"},
		Timestamp: ts,
	})

	assert.Equal(t, "ticket-hold-events", rec.Topic)
	assert.Equal(t, []byte("hold-1"), rec.Key)
	assert.Equal(t, ts, rec.Timestamp)
	require.Len(t, rec.Headers, 1)
	assert.Equal(t, "event_type", rec.Headers[0].Key)
	assert.Equal(t, []byte("hold.created"), rec.Headers[0].Value)
}

func TestToRecord_EmptyKey(t *testing.T) {
	rec := toRecord(&Message{Topic: "t", Value: []byte("v")})
	assert.Nil(t, rec.Key)
	assert.Empty(t, rec.Headers)
}

func TestNewProducer_NoBrokers(t *testing.T) {
	_, err := NewProducer(context.Background(), &ProducerConfig{})
	assert.Error(t, err)
}

func TestProducer_ClosedRejectsProduce(t *testing.T) {
	p := &Producer{closed: true}
	err := p.Produce(context.Background(), &Message{Topic: "t"})
	assert.ErrorIs(t, err, ErrProducerClosed)
	assert.NoError(t, p.Close())
}
