package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const linkColumns = `
	id, code, ticket_hold_id, name, assigned_user_id, quantity_mode, quantity_limit,
	expires_at, notes, metadata, status, redeemed_count, created_at, updated_at`

// CreateLink inserts a purchase link
func (r *PostgresRepository) CreateLink(ctx context.Context, link *domain.PurchaseLink) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.link.create")
	defer span.End()

	if link.ID == "" {
		link.ID = uuid.New().String()
	}
	span.SetAttributes(
		attribute.String("link_id", link.ID),
		attribute.String("hold_id", link.TicketHoldID),
	)

	query := `
		INSERT INTO purchase_links (
			id, code, ticket_hold_id, name, assigned_user_id, quantity_mode, quantity_limit,
			expires_at, notes, metadata, status, redeemed_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.q.Exec(ctx, query,
		link.ID,
		link.Code,
		link.TicketHoldID,
		link.Name,
		link.AssignedUserID,
		link.QuantityMode.String(),
		link.QuantityLimit,
		link.ExpiresAt,
		link.Notes,
		metadataOrEmpty(link.Metadata),
		link.Status.String(),
		link.RedeemedCount,
		link.CreatedAt,
		link.UpdatedAt,
	)
	if err != nil {
		if isDuplicateCode(err) {
			return ErrDuplicateCode
		}
		return fail(span, "create purchase link", err)
	}
	return nil
}

// CodeExists checks whether a code is already taken
func (r *PostgresRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.link.code_exists")
	defer span.End()

	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM purchase_links WHERE code = $1)`, code).Scan(&exists); err != nil {
		return false, fail(span, "check link code", err)
	}
	return exists, nil
}

func (r *PostgresRepository) GetLink(ctx context.Context, id string) (*domain.PurchaseLink, error) {
	return r.getLink(ctx, "repo.postgres.link.get", `SELECT `+linkColumns+` FROM purchase_links WHERE id = $1`, id)
}

func (r *PostgresRepository) GetLinkByCode(ctx context.Context, code string) (*domain.PurchaseLink, error) {
	return r.getLink(ctx, "repo.postgres.link.get_by_code", `SELECT `+linkColumns+` FROM purchase_links WHERE code = $1`, code)
}

// LockLink takes a row lock on the link
func (r *PostgresRepository) LockLink(ctx context.Context, id string) (*domain.PurchaseLink, error) {
	return r.getLink(ctx, "repo.postgres.link.lock", `SELECT `+linkColumns+` FROM purchase_links WHERE id = $1 FOR UPDATE`, id)
}

// LockLinkByCode takes a row lock on the link identified by code
func (r *PostgresRepository) LockLinkByCode(ctx context.Context, code string) (*domain.PurchaseLink, error) {
	return r.getLink(ctx, "repo.postgres.link.lock_by_code", `SELECT `+linkColumns+` FROM purchase_links WHERE code = $1 FOR UPDATE`, code)
}

func (r *PostgresRepository) getLink(ctx context.Context, spanName, query, arg string) (*domain.PurchaseLink, error) {
	ctx, span := telemetry.StartSpan(ctx, spanName)
	defer span.End()

	link, err := scanLink(r.q.QueryRow(ctx, query, arg))
	if err != nil {
		if isMissing(err) {
			return nil, domain.ErrLinkNotFound
		}
		return nil, fail(span, "get purchase link", err)
	}
	span.SetAttributes(attribute.String("link_id", link.ID))
	return link, nil
}

// ListLinksByHold returns every link of a hold, newest first
func (r *PostgresRepository) ListLinksByHold(ctx context.Context, holdID string) ([]*domain.PurchaseLink, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.link.list_by_hold")
	defer span.End()
	span.SetAttributes(attribute.String("hold_id", holdID))

	rows, err := r.q.Query(ctx, `
		SELECT `+linkColumns+` FROM purchase_links
		WHERE ticket_hold_id = $1
		ORDER BY created_at DESC
	`, holdID)
	if err != nil {
		if isMissing(err) {
			return nil, nil
		}
		return nil, fail(span, "list purchase links", err)
	}
	defer rows.Close()

	var links []*domain.PurchaseLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fail(span, "scan purchase link", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, "iterate purchase links", err)
	}
	return links, nil
}

// UpdateLink persists the editable fields while the link is active
func (r *PostgresRepository) UpdateLink(ctx context.Context, link *domain.PurchaseLink) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.link.update")
	defer span.End()
	span.SetAttributes(attribute.String("link_id", link.ID))

	query := `
		UPDATE purchase_links SET
			name = $2,
			assigned_user_id = $3,
			quantity_mode = $4,
			quantity_limit = $5,
			expires_at = $6,
			notes = $7,
			metadata = $8,
			updated_at = $9
		WHERE id = $1 AND status = 'active'
	`
	tag, err := r.q.Exec(ctx, query,
		link.ID,
		link.Name,
		link.AssignedUserID,
		link.QuantityMode.String(),
		link.QuantityLimit,
		link.ExpiresAt,
		link.Notes,
		metadataOrEmpty(link.Metadata),
		link.UpdatedAt,
	)
	if err != nil {
		return fail(span, "update purchase link", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLinkNotUsable
	}
	return nil
}

// TransitionLink updates the status only if it still equals from
func (r *PostgresRepository) TransitionLink(ctx context.Context, id string, from, to domain.LinkStatus, now time.Time) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.link.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("link_id", id),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	)

	tag, err := r.q.Exec(ctx, `
		UPDATE purchase_links SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, from.String(), to.String(), now)
	if err != nil {
		return false, fail(span, "transition purchase link", err)
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementLink bumps redeemed_count, refusing to pass a finite limit
func (r *PostgresRepository) IncrementLink(ctx context.Context, id string, quantity int, now time.Time) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.link.increment")
	defer span.End()
	span.SetAttributes(attribute.String("link_id", id), attribute.Int("quantity", quantity))

	tag, err := r.q.Exec(ctx, `
		UPDATE purchase_links
		SET redeemed_count = redeemed_count + $2, updated_at = $3
		WHERE id = $1
		  AND (quantity_limit IS NULL OR redeemed_count + $2 <= quantity_limit)
	`, id, quantity, now)
	if err != nil {
		return false, fail(span, "increment purchase link", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListDueLinkIDs finds active links whose expiry has passed
func (r *PostgresRepository) ListDueLinkIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.link.list_due")
	defer span.End()

	ids, err := r.queryIDs(ctx, `
		SELECT id FROM purchase_links
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fail(span, "list due purchase links", err)
	}
	return ids, nil
}

// InsertAccess appends to the link access log
func (r *PostgresRepository) InsertAccess(ctx context.Context, access *domain.LinkAccess) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.link.insert_access")
	defer span.End()

	if access.ID == "" {
		access.ID = uuid.New().String()
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO purchase_link_accesses (id, purchase_link_id, accessed_at, user_id, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, access.ID, access.PurchaseLinkID, access.AccessedAt, access.UserID, access.IPAddress, access.UserAgent)
	if err != nil {
		return fail(span, "record link access", err)
	}
	return nil
}

func metadataOrEmpty(m json.RawMessage) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	return m
}

func scanLink(row pgx.Row) (*domain.PurchaseLink, error) {
	link := &domain.PurchaseLink{}
	var (
		mode     string
		status   string
		metadata []byte
	)
	err := row.Scan(
		&link.ID,
		&link.Code,
		&link.TicketHoldID,
		&link.Name,
		&link.AssignedUserID,
		&mode,
		&link.QuantityLimit,
		&link.ExpiresAt,
		&link.Notes,
		&metadata,
		&status,
		&link.RedeemedCount,
		&link.CreatedAt,
		&link.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	link.QuantityMode = domain.QuantityMode(mode)
	link.Status = domain.LinkStatus(status)
	if len(metadata) > 0 {
		link.Metadata = json.RawMessage(metadata)
	}
	return link, nil
}
