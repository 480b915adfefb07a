package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const outboxColumns = `
	id, aggregate_type, aggregate_id, event_type,
	payload, topic, partition_key, status,
	retry_count, max_retries, last_error,
	created_at, processed_at, published_at`

// InsertOutbox creates a new outbox message
func (r *PostgresRepository) InsertOutbox(ctx context.Context, msg *domain.OutboxMessage) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.outbox.insert")
	defer span.End()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	span.SetAttributes(attribute.String("event_type", msg.EventType.String()))

	query := `
		INSERT INTO outbox (
			id, aggregate_type, aggregate_id, event_type,
			payload, topic, partition_key, status,
			retry_count, max_retries, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.q.Exec(ctx, query,
		msg.ID,
		string(msg.Aggregate.Kind),
		msg.Aggregate.ID,
		msg.EventType.String(),
		msg.Payload,
		msg.Topic,
		msg.PartitionKey,
		msg.Status.String(),
		msg.RetryCount,
		msg.MaxRetries,
		msg.CreatedAt,
	)
	if err != nil {
		return fail(span, "create outbox message", err)
	}
	return nil
}

// ClaimPendingOutbox locks pending rows; other relays skip them until the
// surrounding transaction ends
func (r *PostgresRepository) ClaimPendingOutbox(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.outbox.claim_pending")
	defer span.End()

	rows, err := r.q.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fail(span, "get pending messages", err)
	}
	defer rows.Close()

	return scanOutboxMessages(rows)
}

// ClaimFailedOutbox locks failed rows that still have retries left
func (r *PostgresRepository) ClaimFailedOutbox(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.outbox.claim_failed")
	defer span.End()

	rows, err := r.q.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox
		WHERE status = 'failed' AND retry_count < max_retries
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fail(span, "get failed messages", err)
	}
	defer rows.Close()

	return scanOutboxMessages(rows)
}

// MarkOutboxPublished marks a message as successfully published
func (r *PostgresRepository) MarkOutboxPublished(ctx context.Context, id string, now time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.outbox.mark_published")
	defer span.End()

	_, err := r.q.Exec(ctx, `
		UPDATE outbox SET
			status = 'published',
			processed_at = $2,
			published_at = $2
		WHERE id = $1
	`, id, now)
	if err != nil {
		return fail(span, "mark message as published", err)
	}
	return nil
}

// MarkOutboxFailed records a failed attempt
func (r *PostgresRepository) MarkOutboxFailed(ctx context.Context, id, errMsg string, now time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.outbox.mark_failed")
	defer span.End()

	_, err := r.q.Exec(ctx, `
		UPDATE outbox SET
			status = 'failed',
			last_error = $2,
			retry_count = retry_count + 1,
			processed_at = $3
		WHERE id = $1
	`, id, errMsg, now)
	if err != nil {
		return fail(span, "mark message as failed", err)
	}
	return nil
}

// DeletePublishedOutbox deletes old published messages for cleanup
func (r *PostgresRepository) DeletePublishedOutbox(ctx context.Context, before time.Time) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.outbox.delete_published")
	defer span.End()

	tag, err := r.q.Exec(ctx, `
		DELETE FROM outbox
		WHERE status = 'published' AND published_at < $1
	`, before)
	if err != nil {
		return 0, fail(span, "delete published messages", err)
	}
	return tag.RowsAffected(), nil
}

func scanOutboxMessages(rows pgx.Rows) ([]*domain.OutboxMessage, error) {
	var messages []*domain.OutboxMessage

	for rows.Next() {
		msg := &domain.OutboxMessage{}
		var (
			kind, aggregateID string
			eventType, status string
			lastError         *string
		)
		err := rows.Scan(
			&msg.ID,
			&kind,
			&aggregateID,
			&eventType,
			&msg.Payload,
			&msg.Topic,
			&msg.PartitionKey,
			&status,
			&msg.RetryCount,
			&msg.MaxRetries,
			&lastError,
			&msg.CreatedAt,
			&msg.ProcessedAt,
			&msg.PublishedAt,
		)
		if err != nil {
			return nil, err
		}

		msg.Aggregate = domain.Reference{Kind: domain.ReferenceKind(kind), ID: aggregateID}
		msg.EventType = domain.EventType(eventType)
		msg.Status = domain.OutboxStatus(status)
		if lastError != nil {
			msg.LastError = *lastError
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
