package service

import (
	"context"
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

// HoldService defines the interface for the hold ledger
type HoldService interface {
	// CreateHold persists a hold and its allocations in one transaction
	CreateHold(ctx context.Context, req *dto.CreateHoldRequest) (*domain.TicketHold, error)

	// UpdateHold patches header fields and replaces the allocation set
	UpdateHold(ctx context.Context, id string, req *dto.UpdateHoldRequest) (*domain.TicketHold, error)

	// ReleaseHold moves an active hold to released; terminal holds are returned unchanged
	ReleaseHold(ctx context.Context, id string) (*domain.TicketHold, error)

	GetHold(ctx context.Context, id string) (*domain.TicketHold, error)
	ListHolds(ctx context.Context, filter domain.HoldFilter) ([]*domain.TicketHold, error)

	// CheckAvailability reports whether quantity fits the remaining allocation
	CheckAvailability(ctx context.Context, holdID string, ticketDefinitionID int64, quantity int) (bool, error)

	// ExpireDueHolds flips active holds past expires_at to expired
	ExpireDueHolds(ctx context.Context, limit int) (int, error)
}

// HoldServiceConfig contains configuration for the hold service
type HoldServiceConfig struct {
	EventTopic string
}

type holdService struct {
	store   repository.Store
	catalog TicketCatalog
	clock   clock.Clock
	events  eventWriter
}

// NewHoldService creates a new hold service. catalog may be nil, in which
// case ticket definitions are not checked for existence.
func NewHoldService(store repository.Store, catalog TicketCatalog, clk clock.Clock, cfg *HoldServiceConfig) HoldService {
	if clk == nil {
		clk = clock.Real{}
	}
	topic := domain.DefaultEventTopic
	if cfg != nil && cfg.EventTopic != "" {
		topic = cfg.EventTopic
	}
	return &holdService{
		store:   store,
		catalog: catalog,
		clock:   clk,
		events:  eventWriter{topic: topic},
	}
}

// CreateHold creates a new active hold
func (s *holdService) CreateHold(ctx context.Context, req *dto.CreateHoldRequest) (*domain.TicketHold, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.hold.create")
	defer span.End()

	if req == nil {
		return nil, domain.NewValidationError("body", "is required")
	}
	now := s.clock.Now()

	verr := &domain.ValidationError{}
	if req.EventOccurrenceID <= 0 {
		verr.Add("event_occurrence_id", "must be a positive id")
	}
	if req.Name == "" {
		verr.Add("name", "is required")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		verr.Add("expires_at", "must be in the future")
	}
	allocations, err := dto.BuildAllocations(req.Allocations)
	if err != nil {
		mergeValidation(verr, err)
	}
	if err := verr.OrNil(); err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	if err := s.checkCatalog(ctx, allocations); err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	hold := &domain.TicketHold{
		ID:                uuid.New().String(),
		EventOccurrenceID: req.EventOccurrenceID,
		OrganizerID:       req.OrganizerID,
		Name:              req.Name,
		Description:       req.Description,
		InternalNotes:     req.InternalNotes,
		Status:            domain.HoldStatusActive,
		ExpiresAt:         utcPtr(req.ExpiresAt),
		Allocations:       allocations,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	span.SetAttributes(
		attribute.String("hold_id", hold.ID),
		attribute.Int64("event_occurrence_id", hold.EventOccurrenceID),
	)

	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Repository) error {
		if err := tx.CreateHold(ctx, hold); err != nil {
			return err
		}
		return s.events.hold(ctx, tx, domain.EventHoldCreated, hold, "", now)
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	metrics.RecordHoldCreated(ctx, hold.EventOccurrenceID, len(hold.Allocations))
	logger.Get().InfoContext(ctx, "ticket hold created",
		zap.String("hold_id", hold.ID),
		zap.Int64("event_occurrence_id", hold.EventOccurrenceID),
		zap.Int("allocations", len(hold.Allocations)),
	)
	return hold, nil
}

func (s *holdService) checkCatalog(ctx context.Context, allocations []*domain.Allocation) error {
	if s.catalog == nil {
		return nil
	}
	verr := &domain.ValidationError{}
	for _, a := range allocations {
		ok, err := s.catalog.Exists(ctx, a.TicketDefinitionID)
		if err != nil {
			return fmt.Errorf("failed to check ticket definition %d: %w", a.TicketDefinitionID, err)
		}
		if !ok {
			verr.Add("allocations.ticket_definition_id", fmt.Sprintf("ticket definition %d does not exist", a.TicketDefinitionID))
		}
	}
	return verr.OrNil()
}

// UpdateHold patches an active hold
func (s *holdService) UpdateHold(ctx context.Context, id string, req *dto.UpdateHoldRequest) (*domain.TicketHold, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.hold.update")
	defer span.End()
	span.SetAttributes(attribute.String("hold_id", id))

	if req == nil {
		return nil, domain.NewValidationError("body", "is required")
	}
	now := s.clock.Now()

	verr := &domain.ValidationError{}
	if req.Name != nil && *req.Name == "" {
		verr.Add("name", "must not be empty")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		verr.Add("expires_at", "must be in the future")
	}
	var replacement []*domain.Allocation
	if req.Allocations != nil {
		allocs, err := dto.BuildAllocations(req.Allocations)
		if err != nil {
			mergeValidation(verr, err)
		}
		replacement = allocs
	}
	if err := verr.OrNil(); err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	if err := s.checkCatalog(ctx, replacement); err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	var updated *domain.TicketHold
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Repository) error {
		hold, err := tx.LockHold(ctx, id)
		if err != nil {
			return err
		}
		if status := hold.EffectiveStatus(now); status != domain.HoldStatusActive {
			return fmt.Errorf("%w: hold is %s", domain.ErrHoldNotFound, status)
		}

		current, err := tx.LockAllocations(ctx, id)
		if err != nil {
			return err
		}
		hold.Allocations = current

		if req.Name != nil {
			hold.Name = *req.Name
		}
		if req.Description != nil {
			hold.Description = *req.Description
		}
		if req.InternalNotes != nil {
			hold.InternalNotes = *req.InternalNotes
		}
		switch {
		case req.ClearExpiresAt:
			hold.ExpiresAt = nil
		case req.ExpiresAt != nil:
			hold.ExpiresAt = utcPtr(req.ExpiresAt)
		}
		hold.UpdatedAt = now

		if replacement != nil {
			merged, err := mergeAllocations(current, replacement)
			if err != nil {
				return err
			}
			if err := tx.ReplaceAllocations(ctx, id, merged); err != nil {
				return err
			}
			hold.Allocations = merged
		}

		if err := tx.UpdateHoldHeader(ctx, hold); err != nil {
			return err
		}
		if err := s.events.hold(ctx, tx, domain.EventHoldUpdated, hold, domain.HoldStatusActive, now); err != nil {
			return err
		}

		if hold.IsFullyRedeemed() {
			ok, err := tx.TransitionHold(ctx, id, domain.HoldStatusActive, domain.HoldStatusExhausted, now)
			if err != nil {
				return err
			}
			if ok {
				hold.Status = domain.HoldStatusExhausted
				if err := s.events.hold(ctx, tx, domain.EventHoldExhausted, hold, domain.HoldStatusActive, now); err != nil {
					return err
				}
			}
		}
		updated = hold
		return nil
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	if updated.Status == domain.HoldStatusExhausted {
		metrics.RecordHoldTransition(ctx, updated.Status.String())
	}
	logger.Get().InfoContext(ctx, "ticket hold updated",
		zap.String("hold_id", id),
		zap.Bool("allocations_replaced", replacement != nil),
	)
	return updated, nil
}

// mergeAllocations carries redeemed counts over to the replacement set and
// rejects any definition that would end up below what was already redeemed
func mergeAllocations(current, replacement []*domain.Allocation) ([]*domain.Allocation, error) {
	byDef := make(map[int64]*domain.Allocation, len(current))
	for _, a := range current {
		byDef[a.TicketDefinitionID] = a
	}

	var short []domain.InventoryShortfall
	for _, a := range replacement {
		old, ok := byDef[a.TicketDefinitionID]
		if !ok {
			continue
		}
		delete(byDef, a.TicketDefinitionID)
		a.ID = old.ID
		a.RedeemedCount = old.RedeemedCount
		if a.AllocatedQuantity < old.RedeemedCount {
			short = append(short, domain.InventoryShortfall{
				TicketDefinitionID: a.TicketDefinitionID,
				Requested:          a.AllocatedQuantity,
				Redeemed:           old.RedeemedCount,
			})
		}
	}
	// dropped definitions
	for _, old := range current {
		if _, dropped := byDef[old.TicketDefinitionID]; dropped && old.RedeemedCount > 0 {
			short = append(short, domain.InventoryShortfall{
				TicketDefinitionID: old.TicketDefinitionID,
				Requested:          0,
				Redeemed:           old.RedeemedCount,
			})
		}
	}
	if len(short) > 0 {
		return nil, domain.NewInsufficientInventoryError(short)
	}

	domain.SortAllocations(replacement)
	return replacement, nil
}

// ReleaseHold releases an active hold. Links are left as they are; they
// stop working because their hold is no longer active.
func (s *holdService) ReleaseHold(ctx context.Context, id string) (*domain.TicketHold, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.hold.release")
	defer span.End()
	span.SetAttributes(attribute.String("hold_id", id))

	now := s.clock.Now()
	var (
		result   *domain.TicketHold
		released bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Repository) error {
		if _, err := tx.LockHold(ctx, id); err != nil {
			return err
		}
		hold, err := tx.GetHold(ctx, id)
		if err != nil {
			return err
		}
		result = hold
		if hold.EffectiveStatus(now) != domain.HoldStatusActive {
			return nil
		}

		ok, err := tx.TransitionHold(ctx, id, domain.HoldStatusActive, domain.HoldStatusReleased, now)
		if err != nil || !ok {
			return err
		}
		hold.Status = domain.HoldStatusReleased
		hold.UpdatedAt = now
		released = true
		return s.events.hold(ctx, tx, domain.EventHoldReleased, hold, domain.HoldStatusActive, now)
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	if released {
		metrics.RecordHoldTransition(ctx, domain.HoldStatusReleased.String())
		logger.Get().InfoContext(ctx, "ticket hold released", zap.String("hold_id", id))
	}
	return result, nil
}

func (s *holdService) GetHold(ctx context.Context, id string) (*domain.TicketHold, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.hold.get")
	defer span.End()
	span.SetAttributes(attribute.String("hold_id", id))

	hold, err := s.store.GetHold(ctx, id)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	return hold, nil
}

func (s *holdService) ListHolds(ctx context.Context, filter domain.HoldFilter) ([]*domain.TicketHold, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.hold.list")
	defer span.End()

	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, domain.NewValidationError("status", "is not a valid hold status")
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.ListHolds(ctx, filter)
}

// CheckAvailability answers without locking; the result is advisory
func (s *holdService) CheckAvailability(ctx context.Context, holdID string, ticketDefinitionID int64, quantity int) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.hold.check_availability")
	defer span.End()
	span.SetAttributes(
		attribute.String("hold_id", holdID),
		attribute.Int64("ticket_definition_id", ticketDefinitionID),
		attribute.Int("quantity", quantity),
	)

	if quantity < 1 {
		return false, domain.NewValidationError("quantity", "must be at least 1")
	}
	hold, err := s.store.GetHold(ctx, holdID)
	if err != nil {
		return false, err
	}
	if status := hold.EffectiveStatus(s.clock.Now()); status != domain.HoldStatusActive {
		return false, fmt.Errorf("%w: hold is %s", domain.ErrHoldNotActive, status)
	}
	a, ok := hold.Allocation(ticketDefinitionID)
	if !ok {
		return false, fmt.Errorf("%w: %d", domain.ErrUnknownHoldItem, ticketDefinitionID)
	}
	return a.CanSatisfy(quantity), nil
}

// ExpireDueHolds expires every due hold, each in its own transaction
func (s *holdService) ExpireDueHolds(ctx context.Context, limit int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.hold.expire_due")
	defer span.End()

	now := s.clock.Now()
	ids, err := s.store.ListDueHoldIDs(ctx, now, limit)
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
		ok, err := s.expireHold(ctx, id, now)
		if err != nil {
			logger.Get().WarnContext(ctx, "failed to expire ticket hold", zap.String("hold_id", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
			metrics.RecordHoldTransition(ctx, domain.HoldStatusExpired.String())
		}
	}
	span.SetAttributes(attribute.Int("due", len(ids)), attribute.Int("expired", expired))
	return expired, errors.Join(errs...)
}

func (s *holdService) expireHold(ctx context.Context, id string, now time.Time) (bool, error) {
	flipped := false
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Repository) error {
		if _, err := tx.LockHold(ctx, id); err != nil {
			return err
		}
		hold, err := tx.GetHold(ctx, id)
		if err != nil {
			return err
		}
		if hold.Status != domain.HoldStatusActive || !hold.IsPastExpiry(now) {
			return nil
		}
		ok, err := tx.TransitionHold(ctx, id, domain.HoldStatusActive, domain.HoldStatusExpired, now)
		if err != nil || !ok {
			return err
		}
		hold.Status = domain.HoldStatusExpired
		flipped = true
		return s.events.hold(ctx, tx, domain.EventHoldExpired, hold, domain.HoldStatusActive, now)
	})
	return flipped, err
}

func mergeValidation(dst *domain.ValidationError, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		dst.Fields = append(dst.Fields, verr.Fields...)
		return
	}
	dst.Add("body", err.Error())
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
