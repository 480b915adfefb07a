package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/clock"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/dto"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/metrics"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/repository"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/logger"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// LinkService defines the interface for the purchase link registry
type LinkService interface {
	// CreateLink issues a link with a fresh unique code on an active hold
	CreateLink(ctx context.Context, req *dto.CreateLinkRequest) (*domain.PurchaseLink, error)

	// UpdateLink patches a usable link
	UpdateLink(ctx context.Context, id string, req *dto.UpdateLinkRequest) (*domain.PurchaseLink, error)

	// RevokeLink moves an active link to revoked; terminal links are returned unchanged
	RevokeLink(ctx context.Context, id string) (*domain.PurchaseLink, error)

	// RecordAccess logs a view of the link identified by code
	RecordAccess(ctx context.Context, code string, info AccessInfo) (*domain.PurchaseLink, error)

	GetLink(ctx context.Context, id string) (*domain.PurchaseLink, error)
	GetLinkByCode(ctx context.Context, code string) (*domain.PurchaseLink, error)
	ListLinksForHold(ctx context.Context, holdID string) ([]*domain.PurchaseLink, error)
	ListPurchasesForLink(ctx context.Context, linkID string, limit, offset int) ([]*domain.Purchase, error)

	// ExpireDueLinks flips active links past expires_at to expired
	ExpireDueLinks(ctx context.Context, limit int) (int, error)
}

// AccessInfo describes who opened a link
type AccessInfo struct {
	UserID    string
	IPAddress string
	UserAgent string
}

// LinkServiceConfig contains configuration for the link service
type LinkServiceConfig struct {
	CodeLength      int
	CodeMaxAttempts int
	EventTopic      string
	Generator       CodeGenerator
}

type linkService struct {
	store       repository.Store
	clock       clock.Clock
	events      eventWriter
	generate    CodeGenerator
	codeLength  int
	maxAttempts int
}

// NewLinkService creates a new link service
func NewLinkService(store repository.Store, clk clock.Clock, cfg *LinkServiceConfig) LinkService {
	if clk == nil {
		clk = clock.Real{}
	}
	s := &linkService{
		store:       store,
		clock:       clk,
		events:      eventWriter{topic: domain.DefaultEventTopic},
		generate:    GenerateCode,
		codeLength:  DefaultCodeLength,
		maxAttempts: 5,
	}
	if cfg != nil {
		if cfg.CodeLength > 0 {
			s.codeLength = cfg.CodeLength
		}
		if cfg.CodeMaxAttempts > 0 {
			s.maxAttempts = cfg.CodeMaxAttempts
		}
		if cfg.EventTopic != "" {
			s.events.topic = cfg.EventTopic
		}
		if cfg.Generator != nil {
			s.generate = cfg.Generator
		}
	}
	return s
}

// CreateLink creates a new purchase link
func (s *linkService) CreateLink(ctx context.Context, req *dto.CreateLinkRequest) (*domain.PurchaseLink, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.link.create")
	defer span.End()

	if req == nil {
		return nil, domain.NewValidationError("body", "is required")
	}
	now := s.clock.Now()

	verr := &domain.ValidationError{}
	if req.TicketHoldID == "" {
		verr.Add("ticket_hold_id", "is required")
	}
	mode := domain.QuantityMode(req.QuantityMode)
	if err := domain.ValidateQuantityPolicy(mode, req.QuantityLimit); err != nil {
		mergeValidation(verr, err)
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		verr.Add("expires_at", "must be in the future")
	}
	if req.AssignedUserID != nil && *req.AssignedUserID == "" {
		verr.Add("assigned_user_id", "must not be empty")
	}
	if !isJSONObject(req.Metadata) {
		verr.Add("metadata", "must be a JSON object")
	}
	if err := verr.OrNil(); err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	link := &domain.PurchaseLink{
		ID:             uuid.New().String(),
		TicketHoldID:   req.TicketHoldID,
		Name:           req.Name,
		AssignedUserID: req.AssignedUserID,
		QuantityMode:   mode,
		QuantityLimit:  req.QuantityLimit,
		ExpiresAt:      utcPtr(req.ExpiresAt),
		Notes:          req.Notes,
		Metadata:       req.Metadata,
		Status:         domain.LinkStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	span.SetAttributes(attribute.String("link_id", link.ID), attribute.String("hold_id", link.TicketHoldID))

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		code, err := s.generate(s.codeLength)
		if err != nil {
			telemetry.SetSpanError(span, err)
			return nil, err
		}
		link.Code = code

		err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Repository) error {
			hold, err := tx.LockHold(ctx, link.TicketHoldID)
			if err != nil {
				return err
			}
			if status := hold.EffectiveStatus(now); status != domain.HoldStatusActive {
				return fmt.Errorf("%w: hold is %s", domain.ErrHoldNotActive, status)
			}
			taken, err := tx.CodeExists(ctx, code)
			if err != nil {
				return err
			}
			if taken {
				return repository.ErrDuplicateCode
			}
			if err := tx.CreateLink(ctx, link); err != nil {
				return err
			}
			return s.events.link(ctx, tx, domain.EventLinkCreated, link, "", now)
		})
		if errors.Is(err, repository.ErrDuplicateCode) {
			metrics.RecordCodeCollision(ctx)
			logger.Get().WarnContext(ctx, "purchase link code collision", zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			telemetry.SetSpanError(span, err)
			return nil, err
		}

		metrics.RecordLinkCreated(ctx, link.QuantityMode.String())
		logger.Get().InfoContext(ctx, "purchase link created",
			zap.String("link_id", link.ID),
			zap.String("hold_id", link.TicketHoldID),
			zap.String("quantity_mode", link.QuantityMode.String()),
		)
		return link, nil
	}

	telemetry.SetSpanError(span, domain.ErrCodeGenerationFailed)
	return nil, domain.ErrCodeGenerationFailed
}

// UpdateLink patches a usable link
func (s *linkService) UpdateLink(ctx context.Context, id string, req *dto.UpdateLinkRequest) (*domain.PurchaseLink, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.link.update")
	defer span.End()
	span.SetAttributes(attribute.String("link_id", id))

	if req == nil {
		return nil, domain.NewValidationError("body", "is required")
	}
	now := s.clock.Now()

	verr := &domain.ValidationError{}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		verr.Add("expires_at", "must be in the future")
	}
	if req.Metadata != nil && !isJSONObject(req.Metadata) {
		verr.Add("metadata", "must be a JSON object")
	}
	if err := verr.OrNil(); err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	var updated *domain.PurchaseLink
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Repository) error {
		link, err := tx.LockLink(ctx, id)
		if err != nil {
			return err
		}
		if status := link.EffectiveStatus(now); status != domain.LinkStatusActive {
			return fmt.Errorf("%w: link is %s", domain.ErrLinkNotUsable, status)
		}

		if req.Name != nil {
			link.Name = *req.Name
		}
		if req.AssignedUserID != nil {
			if *req.AssignedUserID == "" {
				link.AssignedUserID = nil
			} else {
				assigned := *req.AssignedUserID
				link.AssignedUserID = &assigned
			}
		}
		if req.QuantityMode != nil {
			link.QuantityMode = domain.QuantityMode(*req.QuantityMode)
			if !link.QuantityMode.RequiresLimit() {
				link.QuantityLimit = nil
			}
		}
		if req.QuantityLimit != nil {
			limit := *req.QuantityLimit
			link.QuantityLimit = &limit
		}
		if err := domain.ValidateQuantityPolicy(link.QuantityMode, link.QuantityLimit); err != nil {
			return err
		}
		if link.QuantityLimit != nil && *link.QuantityLimit < link.RedeemedCount {
			return fmt.Errorf("%w: quantity_limit %d is below the %d already redeemed",
				domain.ErrInsufficientInventory, *link.QuantityLimit, link.RedeemedCount)
		}
		switch {
		case req.ClearExpiresAt:
			link.ExpiresAt = nil
		case req.ExpiresAt != nil:
			link.ExpiresAt = utcPtr(req.ExpiresAt)
		}
		if req.Notes != nil {
			link.Notes = *req.Notes
		}
		if req.Metadata != nil {
			link.Metadata = req.Metadata
		}
		link.UpdatedAt = now

		if err := tx.UpdateLink(ctx, link); err != nil {
			return err
		}
		if err := s.events.link(ctx, tx, domain.EventLinkUpdated, link, domain.LinkStatusActive, now); err != nil {
			return err
		}

		if link.HasLimit() && link.Remaining() == 0 {
			ok, err := tx.TransitionLink(ctx, id, domain.LinkStatusActive, domain.LinkStatusExhausted, now)
			if err != nil {
				return err
			}
			if ok {
				link.Status = domain.LinkStatusExhausted
				if err := s.events.link(ctx, tx, domain.EventLinkExhausted, link, domain.LinkStatusActive, now); err != nil {
					return err
				}
			}
		}
		updated = link
		return nil
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	if updated.Status == domain.LinkStatusExhausted {
		metrics.RecordLinkTransition(ctx, updated.Status.String())
	}
	logger.Get().InfoContext(ctx, "purchase link updated", zap.String("link_id", id))
	return updated, nil
}

// RevokeLink revokes an active link
func (s *linkService) RevokeLink(ctx context.Context, id string) (*domain.PurchaseLink, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.link.revoke")
	defer span.End()
	span.SetAttributes(attribute.String("link_id", id))

	now := s.clock.Now()
	var (
		result  *domain.PurchaseLink
		revoked bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Repository) error {
		link, err := tx.LockLink(ctx, id)
		if err != nil {
			return err
		}
		result = link
		if link.EffectiveStatus(now) != domain.LinkStatusActive {
			return nil
		}

		ok, err := tx.TransitionLink(ctx, id, domain.LinkStatusActive, domain.LinkStatusRevoked, now)
		if err != nil || !ok {
			return err
		}
		link.Status = domain.LinkStatusRevoked
		link.UpdatedAt = now
		revoked = true
		return s.events.link(ctx, tx, domain.EventLinkRevoked, link, domain.LinkStatusActive, now)
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	if revoked {
		metrics.RecordLinkTransition(ctx, domain.LinkStatusRevoked.String())
		logger.Get().InfoContext(ctx, "purchase link revoked", zap.String("link_id", id))
	}
	return result, nil
}

// RecordAccess always logs the access, including by users the link is
// not assigned to, and never changes the link's status
func (s *linkService) RecordAccess(ctx context.Context, code string, info AccessInfo) (*domain.PurchaseLink, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.link.record_access")
	defer span.End()

	link, err := s.store.GetLinkByCode(ctx, code)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("link_id", link.ID))

	access := &domain.LinkAccess{
		ID:             uuid.New().String(),
		PurchaseLinkID: link.ID,
		AccessedAt:     s.clock.Now(),
		IPAddress:      info.IPAddress,
		UserAgent:      info.UserAgent,
	}
	if info.UserID != "" {
		userID := info.UserID
		access.UserID = &userID
	}
	if err := s.store.InsertAccess(ctx, access); err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	metrics.RecordLinkAccess(ctx)

	if !link.IsAssignedTo(info.UserID) {
		return nil, domain.ErrUserNotAuthorizedForLink
	}
	return link, nil
}

func (s *linkService) GetLink(ctx context.Context, id string) (*domain.PurchaseLink, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.link.get")
	defer span.End()
	span.SetAttributes(attribute.String("link_id", id))
	return s.store.GetLink(ctx, id)
}

func (s *linkService) GetLinkByCode(ctx context.Context, code string) (*domain.PurchaseLink, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.link.get_by_code")
	defer span.End()
	return s.store.GetLinkByCode(ctx, code)
}

// ListLinksForHold lists every link of an existing hold
func (s *linkService) ListLinksForHold(ctx context.Context, holdID string) ([]*domain.PurchaseLink, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.link.list_for_hold")
	defer span.End()
	span.SetAttributes(attribute.String("hold_id", holdID))

	if _, err := s.store.GetHold(ctx, holdID); err != nil {
		return nil, err
	}
	return s.store.ListLinksByHold(ctx, holdID)
}

func (s *linkService) ListPurchasesForLink(ctx context.Context, linkID string, limit, offset int) ([]*domain.Purchase, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.link.list_purchases")
	defer span.End()
	span.SetAttributes(attribute.String("link_id", linkID))

	if _, err := s.store.GetLink(ctx, linkID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListPurchasesByLink(ctx, linkID, limit, offset)
}

// ExpireDueLinks expires every due link, each in its own transaction
func (s *linkService) ExpireDueLinks(ctx context.Context, limit int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.link.expire_due")
	defer span.End()

	now := s.clock.Now()
	ids, err := s.store.ListDueLinkIDs(ctx, now, limit)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return 0, err
	}

	expired := 0
	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		ok, err := s.expireLink(ctx, id, now)
		if err != nil {
			logger.Get().WarnContext(ctx, "failed to expire purchase link", zap.String("link_id", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
			metrics.RecordLinkTransition(ctx, domain.LinkStatusExpired.String())
		}
	}
	span.SetAttributes(attribute.Int("due", len(ids)), attribute.Int("expired", expired))
	return expired, errors.Join(errs...)
}

func (s *linkService) expireLink(ctx context.Context, id string, now time.Time) (bool, error) {
	flipped := false
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Repository) error {
		link, err := tx.LockLink(ctx, id)
		if err != nil {
			return err
		}
		if link.Status != domain.LinkStatusActive || !link.IsPastExpiry(now) {
			return nil
		}
		ok, err := tx.TransitionLink(ctx, id, domain.LinkStatusActive, domain.LinkStatusExpired, now)
		if err != nil || !ok {
			return err
		}
		link.Status = domain.LinkStatusExpired
		flipped = true
		return s.events.link(ctx, tx, domain.EventLinkExpired, link, domain.LinkStatusActive, now)
	})
	return flipped, err
}

// isJSONObject accepts an empty value or a JSON object
func isJSONObject(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj) == nil && obj != nil
}
