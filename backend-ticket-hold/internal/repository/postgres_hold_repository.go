package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const holdColumns = `
	id, event_occurrence_id, organizer_id, name, description, internal_notes,
	status, expires_at, created_at, updated_at`

const allocationColumns = `
	id, ticket_hold_id, ticket_definition_id, allocated_quantity, redeemed_count,
	pricing_mode, custom_price_cents, discount_basis_points`

// CreateHold inserts the hold row and its allocations
func (r *PostgresRepository) CreateHold(ctx context.Context, hold *domain.TicketHold) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.hold.create")
	defer span.End()

	if hold.ID == "" {
		hold.ID = uuid.New().String()
	}
	span.SetAttributes(
		attribute.String("hold_id", hold.ID),
		attribute.Int64("event_occurrence_id", hold.EventOccurrenceID),
	)

	query := `
		INSERT INTO ticket_holds (
			id, event_occurrence_id, organizer_id, name, description, internal_notes,
			status, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.q.Exec(ctx, query,
		hold.ID,
		hold.EventOccurrenceID,
		hold.OrganizerID,
		hold.Name,
		hold.Description,
		hold.InternalNotes,
		hold.Status.String(),
		hold.ExpiresAt,
		hold.CreatedAt,
		hold.UpdatedAt,
	)
	if err != nil {
		return fail(span, "create ticket hold", err)
	}

	if err := r.insertAllocations(ctx, hold.ID, hold.Allocations); err != nil {
		return fail(span, "create allocations", err)
	}
	return nil
}

func (r *PostgresRepository) insertAllocations(ctx context.Context, holdID string, allocations []*domain.Allocation) error {
	if len(allocations) == 0 {
		return nil
	}

	query := `
		INSERT INTO ticket_hold_allocations (
			id, ticket_hold_id, ticket_definition_id, allocated_quantity, redeemed_count,
			pricing_mode, custom_price_cents, discount_basis_points
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	batch := &pgx.Batch{}
	for _, a := range allocations {
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		a.TicketHoldID = holdID
		var custom, discount *int64
		if v, ok := a.Pricing.CustomPriceCents(); ok {
			custom = &v
		}
		if v, ok := a.Pricing.DiscountBasisPoints(); ok {
			discount = &v
		}
		batch.Queue(query,
			a.ID, holdID, a.TicketDefinitionID, a.AllocatedQuantity, a.RedeemedCount,
			a.Pricing.Mode().String(), custom, discount,
		)
	}

	results := r.q.SendBatch(ctx, batch)
	for range allocations {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return err
		}
	}
	return results.Close()
}

// GetHold retrieves a hold and its allocations
func (r *PostgresRepository) GetHold(ctx context.Context, id string) (*domain.TicketHold, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.hold.get")
	defer span.End()
	span.SetAttributes(attribute.String("hold_id", id))

	hold, err := scanHold(r.q.QueryRow(ctx, `SELECT `+holdColumns+` FROM ticket_holds WHERE id = $1`, id))
	if err != nil {
		if isMissing(err) {
			return nil, domain.ErrHoldNotFound
		}
		return nil, fail(span, "get ticket hold", err)
	}

	allocations, err := r.queryAllocations(ctx, `
		SELECT `+allocationColumns+` FROM ticket_hold_allocations
		WHERE ticket_hold_id = $1
		ORDER BY ticket_definition_id ASC
	`, id)
	if err != nil {
		return nil, fail(span, "get allocations", err)
	}
	hold.Allocations = allocations
	return hold, nil
}

// LockHold takes a row lock on the hold
func (r *PostgresRepository) LockHold(ctx context.Context, id string) (*domain.TicketHold, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.hold.lock")
	defer span.End()
	span.SetAttributes(attribute.String("hold_id", id))

	hold, err := scanHold(r.q.QueryRow(ctx, `SELECT `+holdColumns+` FROM ticket_holds WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if isMissing(err) {
			return nil, domain.ErrHoldNotFound
		}
		return nil, fail(span, "lock ticket hold", err)
	}
	return hold, nil
}

// LockAllocations locks allocation rows in ticket_definition_id order so
// concurrent redemptions acquire them in the same sequence
func (r *PostgresRepository) LockAllocations(ctx context.Context, holdID string) ([]*domain.Allocation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.allocation.lock")
	defer span.End()
	span.SetAttributes(attribute.String("hold_id", holdID))

	allocations, err := r.queryAllocations(ctx, `
		SELECT `+allocationColumns+` FROM ticket_hold_allocations
		WHERE ticket_hold_id = $1
		ORDER BY ticket_definition_id ASC
		FOR UPDATE
	`, holdID)
	if err != nil {
		return nil, fail(span, "lock allocations", err)
	}
	return allocations, nil
}

// ListHolds returns holds matching filter, newest first
func (r *PostgresRepository) ListHolds(ctx context.Context, filter domain.HoldFilter) ([]*domain.TicketHold, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.hold.list")
	defer span.End()

	var (
		where []string
		args  []interface{}
	)
	if filter.EventOccurrenceID != nil {
		args = append(args, *filter.EventOccurrenceID)
		where = append(where, fmt.Sprintf("event_occurrence_id = $%d", len(args)))
	}
	if filter.OrganizerID != nil {
		args = append(args, *filter.OrganizerID)
		where = append(where, fmt.Sprintf("organizer_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, filter.Status.String())
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + holdColumns + ` FROM ticket_holds`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, "list ticket holds", err)
	}
	defer rows.Close()

	var (
		holds []*domain.TicketHold
		ids   []string
		byID  = make(map[string]*domain.TicketHold)
	)
	for rows.Next() {
		hold, err := scanHold(rows)
		if err != nil {
			return nil, fail(span, "scan ticket hold", err)
		}
		holds = append(holds, hold)
		ids = append(ids, hold.ID)
		byID[hold.ID] = hold
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, "iterate ticket holds", err)
	}
	if len(ids) == 0 {
		return holds, nil
	}

	allocations, err := r.queryAllocations(ctx, `
		SELECT `+allocationColumns+` FROM ticket_hold_allocations
		WHERE ticket_hold_id = ANY($1)
		ORDER BY ticket_hold_id, ticket_definition_id ASC
	`, ids)
	if err != nil {
		return nil, fail(span, "list allocations", err)
	}
	for _, a := range allocations {
		if h, ok := byID[a.TicketHoldID]; ok {
			h.Allocations = append(h.Allocations, a)
		}
	}
	return holds, nil
}

// UpdateHoldHeader persists the descriptive fields and expiry
func (r *PostgresRepository) UpdateHoldHeader(ctx context.Context, hold *domain.TicketHold) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.hold.update")
	defer span.End()
	span.SetAttributes(attribute.String("hold_id", hold.ID))

	query := `
		UPDATE ticket_holds SET
			name = $2,
			description = $3,
			internal_notes = $4,
			expires_at = $5,
			updated_at = $6
		WHERE id = $1
	`
	tag, err := r.q.Exec(ctx, query,
		hold.ID, hold.Name, hold.Description, hold.InternalNotes, hold.ExpiresAt, hold.UpdatedAt,
	)
	if err != nil {
		return fail(span, "update ticket hold", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrHoldNotFound
	}
	return nil
}

// ReplaceAllocations deletes the current set and inserts the new one
func (r *PostgresRepository) ReplaceAllocations(ctx context.Context, holdID string, allocations []*domain.Allocation) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.allocation.replace")
	defer span.End()
	span.SetAttributes(
		attribute.String("hold_id", holdID),
		attribute.Int("allocations", len(allocations)),
	)

	if _, err := r.q.Exec(ctx, `DELETE FROM ticket_hold_allocations WHERE ticket_hold_id = $1`, holdID); err != nil {
		return fail(span, "delete allocations", err)
	}
	if err := r.insertAllocations(ctx, holdID, allocations); err != nil {
		return fail(span, "insert allocations", err)
	}
	return nil
}

// TransitionHold updates the status only if it still equals from
func (r *PostgresRepository) TransitionHold(ctx context.Context, id string, from, to domain.HoldStatus, now time.Time) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.hold.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("hold_id", id),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	)

	tag, err := r.q.Exec(ctx, `
		UPDATE ticket_holds SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, from.String(), to.String(), now)
	if err != nil {
		return false, fail(span, "transition ticket hold", err)
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementAllocation is a conditional update: it never lets redeemed_count
// pass allocated_quantity even without a prior lock
func (r *PostgresRepository) IncrementAllocation(ctx context.Context, holdID string, ticketDefinitionID int64, quantity int) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.allocation.increment")
	defer span.End()
	span.SetAttributes(
		attribute.String("hold_id", holdID),
		attribute.Int64("ticket_definition_id", ticketDefinitionID),
		attribute.Int("quantity", quantity),
	)

	tag, err := r.q.Exec(ctx, `
		UPDATE ticket_hold_allocations
		SET redeemed_count = redeemed_count + $3
		WHERE ticket_hold_id = $1
		  AND ticket_definition_id = $2
		  AND redeemed_count + $3 <= allocated_quantity
	`, holdID, ticketDefinitionID, quantity)
	if err != nil {
		return false, fail(span, "increment allocation", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListDueHoldIDs finds active holds whose expiry has passed
func (r *PostgresRepository) ListDueHoldIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.hold.list_due")
	defer span.End()

	ids, err := r.queryIDs(ctx, `
		SELECT id FROM ticket_holds
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fail(span, "list due ticket holds", err)
	}
	return ids, nil
}

func (r *PostgresRepository) queryIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepository) queryAllocations(ctx context.Context, query string, args ...interface{}) ([]*domain.Allocation, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocations []*domain.Allocation
	for rows.Next() {
		a := &domain.Allocation{}
		var (
			mode             string
			custom, discount *int64
		)
		if err := rows.Scan(
			&a.ID,
			&a.TicketHoldID,
			&a.TicketDefinitionID,
			&a.AllocatedQuantity,
			&a.RedeemedCount,
			&mode,
			&custom,
			&discount,
		); err != nil {
			return nil, err
		}
		pricing, err := domain.NewPricing(domain.PricingMode(mode), custom, discount)
		if err != nil {
			return nil, fmt.Errorf("allocation %s has invalid pricing: %w", a.ID, err)
		}
		a.Pricing = pricing
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

func scanHold(row pgx.Row) (*domain.TicketHold, error) {
	hold := &domain.TicketHold{}
	var status string
	err := row.Scan(
		&hold.ID,
		&hold.EventOccurrenceID,
		&hold.OrganizerID,
		&hold.Name,
		&hold.Description,
		&hold.InternalNotes,
		&status,
		&hold.ExpiresAt,
		&hold.CreatedAt,
		&hold.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	hold.Status = domain.HoldStatus(status)
	return hold, nil
}
