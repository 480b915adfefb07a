package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// InsertPurchase writes the purchase and its line items
func (r *PostgresRepository) InsertPurchase(ctx context.Context, p *domain.Purchase) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.purchase.insert")
	defer span.End()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	span.SetAttributes(
		attribute.String("purchase_id", p.ID),
		attribute.String("link_id", p.PurchaseLinkID),
		attribute.Int64("total_cents", p.TotalCents),
	)

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO purchases (
			id, purchase_link_id, ticket_hold_id, event_occurrence_id, user_id, coupon_code,
			subtotal_cents, discount_cents, total_cents, source_kind, source_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		p.ID, p.PurchaseLinkID, p.TicketHoldID, p.EventOccurrenceID, p.UserID, p.CouponCode,
		p.SubtotalCents, p.DiscountCents, p.TotalCents, string(p.Source.Kind), p.Source.ID, p.CreatedAt,
	)
	for _, it := range p.Items {
		batch.Queue(`
			INSERT INTO purchase_items (
				purchase_id, ticket_definition_id, quantity,
				original_unit_price_cents, unit_price_cents, line_total_cents
			) VALUES ($1, $2, $3, $4, $5, $6)
		`, p.ID, it.TicketDefinitionID, it.Quantity, it.OriginalUnitPriceCents, it.UnitPriceCents, it.LineTotalCents)
	}

	results := r.q.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fail(span, "insert purchase", err)
		}
	}
	if err := results.Close(); err != nil {
		return fail(span, "insert purchase", err)
	}
	return nil
}

// ListPurchasesByLink returns purchases made through a link, newest first
func (r *PostgresRepository) ListPurchasesByLink(ctx context.Context, linkID string, limit, offset int) ([]*domain.Purchase, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.purchase.list_by_link")
	defer span.End()
	span.SetAttributes(attribute.String("link_id", linkID))

	rows, err := r.q.Query(ctx, `
		SELECT id, purchase_link_id, ticket_hold_id, event_occurrence_id, user_id, coupon_code,
		       subtotal_cents, discount_cents, total_cents, source_kind, source_id, created_at
		FROM purchases
		WHERE purchase_link_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, linkID, limit, offset)
	if err != nil {
		if isMissing(err) {
			return nil, nil
		}
		return nil, fail(span, "list purchases", err)
	}
	defer rows.Close()

	var (
		purchases []*domain.Purchase
		ids       []string
		byID      = make(map[string]*domain.Purchase)
	)
	for rows.Next() {
		p := &domain.Purchase{}
		var kind, sourceID string
		if err := rows.Scan(
			&p.ID, &p.PurchaseLinkID, &p.TicketHoldID, &p.EventOccurrenceID, &p.UserID, &p.CouponCode,
			&p.SubtotalCents, &p.DiscountCents, &p.TotalCents, &kind, &sourceID, &p.CreatedAt,
		); err != nil {
			return nil, fail(span, "scan purchase", err)
		}
		if p.Source, err = domain.ParseReference(kind, sourceID); err != nil {
			return nil, fail(span, "scan purchase source", err)
		}
		purchases = append(purchases, p)
		ids = append(ids, p.ID)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, "iterate purchases", err)
	}
	if len(ids) == 0 {
		return purchases, nil
	}

	itemRows, err := r.q.Query(ctx, `
		SELECT purchase_id, ticket_definition_id, quantity,
		       original_unit_price_cents, unit_price_cents, line_total_cents
		FROM purchase_items
		WHERE purchase_id = ANY($1)
		ORDER BY purchase_id, ticket_definition_id
	`, ids)
	if err != nil {
		return nil, fail(span, "list purchase items", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			purchaseID string
			it         domain.PurchaseItem
		)
		if err := itemRows.Scan(
			&purchaseID, &it.TicketDefinitionID, &it.Quantity,
			&it.OriginalUnitPriceCents, &it.UnitPriceCents, &it.LineTotalCents,
		); err != nil {
			return nil, fail(span, "scan purchase item", err)
		}
		if p, ok := byID[purchaseID]; ok {
			p.Items = append(p.Items, it)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, fail(span, "iterate purchase items", err)
	}
	return purchases, nil
}
