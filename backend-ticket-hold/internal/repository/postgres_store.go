package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SQLSTATE codes the store reacts to
const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
	pgUniqueViolation      = "23505"
	pgInvalidText          = "22P02"

	linkCodeConstraint = "purchase_links_code_key"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresRepository implements Repository on top of a pool or a transaction
type PostgresRepository struct {
	q querier
}

// PostgresStore implements Store using PostgreSQL with pgxpool
type PostgresStore struct {
	*PostgresRepository
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore creates a store; lockTimeout bounds row lock waits in
// every transaction it opens
func NewPostgresStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{
		PostgresRepository: &PostgresRepository{q: pool},
		pool:               pool,
		lockTimeout:        lockTimeout,
	}
}

// InTx runs fn inside a read committed transaction. Row locks taken by fn
// are released on commit or rollback.
func (s *PostgresStore) InTx(ctx context.Context, fn TxFunc) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.tx")
	defer span.End()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		telemetry.SetSpanError(span, err)
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer tx.Rollback(ctx)

	if s.lockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", timeout); err != nil {
			telemetry.SetSpanError(span, err)
			return fmt.Errorf("failed to set lock timeout: %w", mapError(err))
		}
	}

	if err := fn(ctx, &PostgresRepository{q: tx}); err != nil {
		span.SetAttributes(attribute.Bool("tx.rolled_back", true))
		telemetry.SetSpanError(span, err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		telemetry.SetSpanError(span, err)
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Ping checks if the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// mapError turns lock-wait failures into the retryable domain error
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure:
			return fmt.Errorf("%w: %s", domain.ErrLockTimeout, pgErr.Message)
		}
	}
	return err
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isDuplicateCode(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == linkCodeConstraint
}

// isMissing reports a lookup that found nothing, including malformed uuids
func isMissing(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || pgCode(err) == pgInvalidText
}

// fail records err on the span and wraps it with the operation name
func fail(span trace.Span, op string, err error) error {
	err = mapError(err)
	telemetry.SetSpanError(span, err)
	return fmt.Errorf("failed to %s: %w", op, err)
}

var _ Store = (*PostgresStore)(nil)
