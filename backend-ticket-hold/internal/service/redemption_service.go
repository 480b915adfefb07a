package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/clock"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/metrics"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/pricing"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/repository"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/logger"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RedemptionService turns a purchase link redemption into a purchase
type RedemptionService interface {
	// Redeem validates the attempt, then reserves and prices the items in a
	// single transaction. Nothing is written when it returns an error.
	Redeem(ctx context.Context, req *domain.RedemptionRequest) (*domain.Purchase, error)
}

// RedemptionServiceConfig contains configuration for the redemption service
type RedemptionServiceConfig struct {
	EventTopic string
	// CouponTimeout bounds the coupon call made while row locks are held.
	// Keep it below the store's lock timeout.
	CouponTimeout time.Duration
}

// DefaultCouponTimeout is used when no coupon timeout is configured
const DefaultCouponTimeout = time.Second

// CouponTimeoutFor derives a coupon deadline from the lock timeout so that
// waiting redemptions do not time out behind a slow coupon service
func CouponTimeoutFor(lockTimeout time.Duration) time.Duration {
	if lockTimeout <= 0 {
		return DefaultCouponTimeout
	}
	return lockTimeout / 2
}

type redemptionService struct {
	store         repository.Store
	catalog       TicketCatalog
	coupons       CouponEngine
	couponTimeout time.Duration
	clock         clock.Clock
	events        eventWriter
}

// NewRedemptionService creates a new redemption service
func NewRedemptionService(
	store repository.Store,
	catalog TicketCatalog,
	coupons CouponEngine,
	clk clock.Clock,
	cfg *RedemptionServiceConfig,
) RedemptionService {
	if clk == nil {
		clk = clock.Real{}
	}
	if coupons == nil {
		coupons = NewNoOpCouponEngine()
	}
	topic := domain.DefaultEventTopic
	couponTimeout := DefaultCouponTimeout
	if cfg != nil {
		if cfg.EventTopic != "" {
			topic = cfg.EventTopic
		}
		if cfg.CouponTimeout > 0 {
			couponTimeout = cfg.CouponTimeout
		}
	}
	return &redemptionService{
		store:         store,
		catalog:       catalog,
		coupons:       coupons,
		couponTimeout: couponTimeout,
		clock:         clk,
		events:        eventWriter{topic: topic},
	}
}

// Redeem redeems a purchase link
func (s *redemptionService) Redeem(ctx context.Context, req *domain.RedemptionRequest) (*domain.Purchase, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.redemption.redeem")
	defer span.End()

	start := time.Now()
	purchase, err := s.redeem(ctx, req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		telemetry.SetSpanError(span, err)
		metrics.RecordRejection(ctx, domain.Code(err), elapsed)
		if domain.Code(err) == "internal_error" {
			logger.Get().ErrorContext(ctx, "redemption failed", zap.Error(err))
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.String("purchase_id", purchase.ID),
		attribute.String("link_id", purchase.PurchaseLinkID),
		attribute.Int("quantity", purchase.TotalQuantity()),
	)
	metrics.RecordRedemption(ctx, purchase.TotalQuantity(), elapsed)
	logger.Get().InfoContext(ctx, "redemption committed",
		zap.String("purchase_id", purchase.ID),
		zap.String("link_id", purchase.PurchaseLinkID),
		zap.String("hold_id", purchase.TicketHoldID),
		zap.Int("quantity", purchase.TotalQuantity()),
		zap.Int64("total_cents", purchase.TotalCents),
	)
	return purchase, nil
}

func (s *redemptionService) redeem(ctx context.Context, req *domain.RedemptionRequest) (*domain.Purchase, error) {
	if req == nil {
		return nil, domain.NewValidationError("body", "is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Validated: unlocked reads reject most bad attempts before any lock
	now := s.clock.Now()
	link, err := s.store.GetLinkByCode(ctx, req.Code)
	if err != nil {
		return nil, linkLookupError(err)
	}
	hold, err := s.store.GetHold(ctx, link.TicketHoldID)
	if err != nil {
		return nil, err
	}
	if err := checkRedeemable(link, hold, req, now); err != nil {
		return nil, err
	}
	prices, err := s.originalPrices(ctx, hold, req.Items)
	if err != nil {
		return nil, err
	}

	items := append([]domain.RedemptionItem(nil), req.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].TicketDefinitionID < items[j].TicketDefinitionID })
	total := req.TotalQuantity()

	var purchase *domain.Purchase
	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Repository) error {
		// lock order: link, hold, allocations by ticket definition
		link, err := tx.LockLinkByCode(ctx, req.Code)
		if err != nil {
			return linkLookupError(err)
		}
		hold, err := tx.LockHold(ctx, link.TicketHoldID)
		if err != nil {
			return err
		}
		allocations, err := tx.LockAllocations(ctx, hold.ID)
		if err != nil {
			return err
		}
		hold.Allocations = allocations

		if err := checkRedeemable(link, hold, req, now); err != nil {
			return err
		}

		// Reserved
		lines := make([]pricing.LineInput, 0, len(items))
		for _, it := range items {
			a, _ := hold.Allocation(it.TicketDefinitionID)
			ok, err := tx.IncrementAllocation(ctx, hold.ID, it.TicketDefinitionID, it.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return domain.NewInsufficientHoldInventoryError([]domain.InventoryShortfall{{
					TicketDefinitionID: it.TicketDefinitionID,
					Requested:          it.Quantity,
					Remaining:          a.Remaining(),
					Redeemed:           a.RedeemedCount,
				}})
			}
			a.RedeemedCount += it.Quantity
			lines = append(lines, pricing.LineInput{
				TicketDefinitionID: it.TicketDefinitionID,
				Quantity:           it.Quantity,
				OriginalPriceCents: prices[it.TicketDefinitionID],
				Pricing:            a.Pricing,
			})
		}
		ok, err := tx.IncrementLink(ctx, link.ID, total, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrLinkQuantityExceeded
		}
		link.RedeemedCount += total

		priced := pricing.PriceLineItems(lines)
		subtotal := pricing.Subtotal(priced)
		purchase = &domain.Purchase{
			ID:                uuid.New().String(),
			PurchaseLinkID:    link.ID,
			TicketHoldID:      hold.ID,
			EventOccurrenceID: hold.EventOccurrenceID,
			CouponCode:        req.CouponCode,
			Items:             priced,
			SubtotalCents:     subtotal,
			TotalCents:        subtotal,
			Source:            domain.LinkRef(link.ID),
			CreatedAt:         now,
		}
		if req.UserID != "" {
			userID := req.UserID
			purchase.UserID = &userID
		}
		// the coupon is priced against the locked lines, so the call holds the
		// link, hold and allocation locks; couponTimeout caps that wait
		if req.CouponCode != "" {
			if err := s.applyCoupon(ctx, purchase); err != nil {
				return err
			}
		}

		// Committed
		if err := tx.InsertPurchase(ctx, purchase); err != nil {
			return err
		}
		if err := s.events.redemption(ctx, tx, purchase, now); err != nil {
			return err
		}
		return s.markExhausted(ctx, tx, link, hold, now)
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

// checkRedeemable runs every pre-condition of a redemption in order; it is
// called on the unlocked rows and again on the locked ones
func checkRedeemable(link *domain.PurchaseLink, hold *domain.TicketHold, req *domain.RedemptionRequest, now time.Time) error {
	if status := link.EffectiveStatus(now); status != domain.LinkStatusActive {
		return fmt.Errorf("%w: link is %s", domain.ErrLinkNotUsable, status)
	}
	if !link.IsAssignedTo(req.UserID) {
		return domain.ErrUserNotAuthorizedForLink
	}
	// an exhausted hold is reported through the per-item shortfall below
	holdStatus := hold.EffectiveStatus(now)
	if holdStatus != domain.HoldStatusActive && holdStatus != domain.HoldStatusExhausted {
		return fmt.Errorf("%w: hold is %s", domain.ErrHoldNotActive, holdStatus)
	}
	if err := link.CheckQuantity(req.TotalQuantity()); err != nil {
		return err
	}

	var short []domain.InventoryShortfall
	for _, it := range req.Items {
		a, ok := hold.Allocation(it.TicketDefinitionID)
		if !ok {
			return fmt.Errorf("%w: %d", domain.ErrUnknownHoldItem, it.TicketDefinitionID)
		}
		if !a.CanSatisfy(it.Quantity) {
			short = append(short, domain.InventoryShortfall{
				TicketDefinitionID: it.TicketDefinitionID,
				Requested:          it.Quantity,
				Remaining:          a.Remaining(),
				Redeemed:           a.RedeemedCount,
			})
		}
	}
	if len(short) > 0 {
		sort.Slice(short, func(i, j int) bool { return short[i].TicketDefinitionID < short[j].TicketDefinitionID })
		return domain.NewInsufficientHoldInventoryError(short)
	}
	if holdStatus != domain.HoldStatusActive {
		return fmt.Errorf("%w: hold is %s", domain.ErrHoldNotActive, holdStatus)
	}
	return nil
}

// originalPrices looks up list prices before any lock is taken. Modes that
// derive from the list price fail without it; fixed and free lines only
// record it when the catalog has one.
func (s *redemptionService) originalPrices(ctx context.Context, hold *domain.TicketHold, items []domain.RedemptionItem) (map[int64]int64, error) {
	prices := make(map[int64]int64, len(items))
	for _, it := range items {
		a, _ := hold.Allocation(it.TicketDefinitionID)
		needed := a.Pricing.Mode() == domain.PricingModeOriginal || a.Pricing.Mode() == domain.PricingModePercentageDiscount
		if s.catalog == nil {
			if needed {
				return nil, fmt.Errorf("no ticket catalog configured to price ticket definition %d", it.TicketDefinitionID)
			}
			continue
		}

		price, err := s.catalog.OriginalPrice(ctx, it.TicketDefinitionID)
		switch {
		case err == nil:
			prices[it.TicketDefinitionID] = price
		case !needed:
			logger.Get().WarnContext(ctx, "original price unavailable",
				zap.Int64("ticket_definition_id", it.TicketDefinitionID), zap.Error(err))
		case errors.Is(err, ErrTicketDefinitionNotFound):
			return nil, fmt.Errorf("%w: %d is missing from the ticket catalog", domain.ErrUnknownHoldItem, it.TicketDefinitionID)
		default:
			return nil, fmt.Errorf("failed to get price of ticket definition %d: %w", it.TicketDefinitionID, err)
		}
	}
	return prices, nil
}

func (s *redemptionService) applyCoupon(ctx context.Context, p *domain.Purchase) error {
	ctx, cancel := context.WithTimeout(ctx, s.couponTimeout)
	defer cancel()

	res, err := s.coupons.ApplyCoupon(ctx, p.CouponCode, p.Items)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: coupon service did not answer within %s", domain.ErrCouponNotApplicable, s.couponTimeout)
		}
		return err
	}
	if res == nil {
		return domain.ErrCouponNotApplicable
	}
	discount := res.DiscountCents
	if discount < 0 {
		discount = 0
	}
	if discount > p.SubtotalCents {
		discount = p.SubtotalCents
	}
	p.DiscountCents = discount
	p.TotalCents = p.SubtotalCents - discount
	return nil
}

func (s *redemptionService) markExhausted(ctx context.Context, tx repository.Repository, link *domain.PurchaseLink, hold *domain.TicketHold, now time.Time) error {
	if link.HasLimit() && link.Remaining() == 0 {
		ok, err := tx.TransitionLink(ctx, link.ID, domain.LinkStatusActive, domain.LinkStatusExhausted, now)
		if err != nil {
			return err
		}
		if ok {
			link.Status = domain.LinkStatusExhausted
			if err := s.events.link(ctx, tx, domain.EventLinkExhausted, link, domain.LinkStatusActive, now); err != nil {
				return err
			}
			metrics.RecordLinkTransition(ctx, domain.LinkStatusExhausted.String())
		}
	}
	if hold.IsFullyRedeemed() {
		ok, err := tx.TransitionHold(ctx, hold.ID, domain.HoldStatusActive, domain.HoldStatusExhausted, now)
		if err != nil {
			return err
		}
		if ok {
			hold.Status = domain.HoldStatusExhausted
			if err := s.events.hold(ctx, tx, domain.EventHoldExhausted, hold, domain.HoldStatusActive, now); err != nil {
				return err
			}
			metrics.RecordHoldTransition(ctx, domain.HoldStatusExhausted.String())
		}
	}
	return nil
}

// linkLookupError reports a missing code the same way as an unusable link
func linkLookupError(err error) error {
	if errors.Is(err, domain.ErrLinkNotFound) {
		return fmt.Errorf("%w: no link with this code", domain.ErrLinkNotUsable)
	}
	return err
}
