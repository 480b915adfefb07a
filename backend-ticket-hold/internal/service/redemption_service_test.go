package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedeem_FixedLinkExhaustsOnLimit(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)
	link := f.createLink(t, hold.ID, "fixed", intPtr(2))

	purchase, err := f.redeem(link.Code, "7", item(1, 2))
	require.NoError(t, err)

	assert.Equal(t, 2, purchase.TotalQuantity())
	assert.Equal(t, int64(2000), purchase.TotalCents)
	assert.Equal(t, domain.LinkRef(link.ID), purchase.Source)
	require.NotNil(t, purchase.UserID)
	assert.Equal(t, "7", *purchase.UserID)

	gotHold, err := f.store.GetHold(context.Background(), hold.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, gotHold.Allocations[0].RedeemedCount)
	assert.Equal(t, domain.HoldStatusActive, gotHold.Status)

	gotLink, err := f.store.GetLink(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, gotLink.RedeemedCount)
	assert.Equal(t, domain.LinkStatusExhausted, gotLink.Status)

	assert.Equal(t, []domain.EventType{
		domain.EventHoldCreated,
		domain.EventLinkCreated,
		domain.EventRedemptionCommitted,
		domain.EventLinkExhausted,
	}, f.outboxTypes())

	_, err = f.redeem(link.Code, "7", item(1, 2))
	assert.ErrorIs(t, err, domain.ErrLinkNotUsable)
}

func TestRedeem_ShortfallMutatesNothing(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)
	link := f.createLink(t, hold.ID, "unlimited", nil)
	before := len(f.store.Outbox())

	_, err := f.redeem(link.Code, "7", item(1, 11))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientHoldInventory)

	var inv *domain.InsufficientInventoryError
	require.True(t, errors.As(err, &inv))
	require.Len(t, inv.Items, 1)
	assert.Equal(t, domain.InventoryShortfall{TicketDefinitionID: 1, Requested: 11, Remaining: 10}, inv.Items[0])

	gotHold, _ := f.store.GetHold(context.Background(), hold.ID)
	assert.Equal(t, 0, gotHold.Allocations[0].RedeemedCount)
	gotLink, _ := f.store.GetLink(context.Background(), link.ID)
	assert.Equal(t, 0, gotLink.RedeemedCount)
	assert.Len(t, f.store.Outbox(), before)
}

func TestRedeem_ReportsEveryShortItem(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t,
		dto.AllocationRequest{TicketDefinitionID: 1, AllocatedQuantity: 1, PricingMode: "original"},
		dto.AllocationRequest{TicketDefinitionID: 2, AllocatedQuantity: 5, PricingMode: "original"},
		dto.AllocationRequest{TicketDefinitionID: 3, AllocatedQuantity: 1, PricingMode: "free"},
	)
	link := f.createLink(t, hold.ID, "unlimited", nil)

	_, err := f.redeem(link.Code, "", item(3, 2), item(2, 1), item(1, 4))

	var inv *domain.InsufficientInventoryError
	require.True(t, errors.As(err, &inv))
	ids := []int64{}
	for _, it := range inv.Items {
		ids = append(ids, it.TicketDefinitionID)
	}
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestRedeem_AssignedLinkRejectsOtherUsers(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)
	link, err := f.links.CreateLink(context.Background(), &dto.CreateLinkRequest{
		TicketHoldID:   hold.ID,
		QuantityMode:   "maximum",
		QuantityLimit:  intPtr(4),
		AssignedUserID: strPtr("42"),
	})
	require.NoError(t, err)

	_, err = f.redeem(link.Code, "7", item(1, 1))
	assert.ErrorIs(t, err, domain.ErrUserNotAuthorizedForLink)

	_, err = f.redeem(link.Code, "", item(1, 1))
	assert.ErrorIs(t, err, domain.ErrUserNotAuthorizedForLink)

	_, err = f.redeem(link.Code, "42", item(1, 1))
	assert.NoError(t, err)
}

func TestRedeem_ReleasedHoldRejectsActiveLink(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)
	link := f.createLink(t, hold.ID, "maximum", intPtr(5))

	_, err := f.holds.ReleaseHold(context.Background(), hold.ID)
	require.NoError(t, err)

	gotLink, _ := f.store.GetLink(context.Background(), link.ID)
	assert.Equal(t, domain.LinkStatusActive, gotLink.Status)

	_, err = f.redeem(link.Code, "7", item(1, 1))
	assert.ErrorIs(t, err, domain.ErrHoldNotActive)
}

func TestRedeem_PastExpiryIsUnusableBeforeSweep(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)
	link, err := f.links.CreateLink(context.Background(), &dto.CreateLinkRequest{
		TicketHoldID: hold.ID,
		QuantityMode: "unlimited",
		ExpiresAt:    timePtr(testNow.Add(time.Hour)),
	})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)

	stored, _ := f.store.GetLink(context.Background(), link.ID)
	require.Equal(t, domain.LinkStatusActive, stored.Status)

	_, err = f.redeem(link.Code, "7", item(1, 1))
	assert.ErrorIs(t, err, domain.ErrLinkNotUsable)
	assert.Equal(t, "link_not_usable", domain.Code(err))
}

func TestRedeem_QuantityModes(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		limit   *int
		qty     int
		wantErr error
	}{
		{name: "fixed exact", mode: "fixed", limit: intPtr(3), qty: 3},
		{name: "fixed fewer", mode: "fixed", limit: intPtr(3), qty: 2, wantErr: domain.ErrLinkQuantityMismatch},
		{name: "fixed more", mode: "fixed", limit: intPtr(3), qty: 4, wantErr: domain.ErrLinkQuantityMismatch},
		{name: "maximum under", mode: "maximum", limit: intPtr(3), qty: 1},
		{name: "maximum over", mode: "maximum", limit: intPtr(3), qty: 4, wantErr: domain.ErrLinkQuantityExceeded},
		{name: "unlimited", mode: "unlimited", qty: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			hold := f.createHold(t)
			link := f.createLink(t, hold.ID, tt.mode, tt.limit)

			_, err := f.redeem(link.Code, "7", item(1, tt.qty))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, domain.ErrLinkNotUsable)
		})
	}
}

func TestRedeem_MaximumLinkBoundedByRemaining(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)
	link := f.createLink(t, hold.ID, "maximum", intPtr(3))

	_, err := f.redeem(link.Code, "7", item(1, 2))
	require.NoError(t, err)

	_, err = f.redeem(link.Code, "7", item(1, 2))
	assert.ErrorIs(t, err, domain.ErrLinkQuantityExceeded)

	_, err = f.redeem(link.Code, "7", item(1, 1))
	require.NoError(t, err)

	gotLink, _ := f.store.GetLink(context.Background(), link.ID)
	assert.Equal(t, domain.LinkStatusExhausted, gotLink.Status)
}

func TestRedeem_UnknownCodeAndItem(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)
	link := f.createLink(t, hold.ID, "unlimited", nil)

	_, err := f.redeem("nope", "7", item(1, 1))
	assert.ErrorIs(t, err, domain.ErrLinkNotUsable)

	_, err = f.redeem(link.Code, "7", item(99, 1))
	assert.ErrorIs(t, err, domain.ErrUnknownHoldItem)

	_, err = f.redeem(link.Code, "7")
	assert.True(t, domain.IsValidationError(err))
}

func TestRedeem_PricesEveryMode(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t,
		dto.AllocationRequest{TicketDefinitionID: 1, AllocatedQuantity: 5, PricingMode: "percentage_discount", DiscountPercentage: f64Ptr(25)},
		dto.AllocationRequest{TicketDefinitionID: 2, AllocatedQuantity: 5, PricingMode: "fixed", CustomPrice: int64Ptr(1800)},
		dto.AllocationRequest{TicketDefinitionID: 3, AllocatedQuantity: 5, PricingMode: "free"},
	)
	link := f.createLink(t, hold.ID, "unlimited", nil)

	purchase, err := f.redeem(link.Code, "7", item(2, 1), item(1, 2), item(3, 3))
	require.NoError(t, err)

	require.Len(t, purchase.Items, 3)
	assert.Equal(t, domain.PurchaseItem{TicketDefinitionID: 1, Quantity: 2, OriginalUnitPriceCents: 1000, UnitPriceCents: 750, LineTotalCents: 1500}, purchase.Items[0])
	assert.Equal(t, domain.PurchaseItem{TicketDefinitionID: 2, Quantity: 1, OriginalUnitPriceCents: 2500, UnitPriceCents: 1800, LineTotalCents: 1800}, purchase.Items[1])
	assert.Equal(t, domain.PurchaseItem{TicketDefinitionID: 3, Quantity: 3, OriginalUnitPriceCents: 400, UnitPriceCents: 0, LineTotalCents: 0}, purchase.Items[2])
	assert.Equal(t, int64(3300), purchase.SubtotalCents)
	assert.Equal(t, int64(3300), purchase.TotalCents)
}

func TestRedeem_Coupon(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)
	link := f.createLink(t, hold.ID, "unlimited", nil)

	f.coupons.ApplyCouponFunc = func(ctx context.Context, code string, items []domain.PurchaseItem) (*CouponResult, error) {
		if code != "SAVE10" {
			return nil, domain.ErrCouponNotApplicable
		}
		return &CouponResult{DiscountCents: 300, TotalCents: 2700}, nil
	}

	purchase, err := f.redemptions.Redeem(context.Background(), &domain.RedemptionRequest{
		Code: link.Code, UserID: "7", Items: []domain.RedemptionItem{item(1, 3)}, CouponCode: "SAVE10",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), purchase.SubtotalCents)
	assert.Equal(t, int64(300), purchase.DiscountCents)
	assert.Equal(t, int64(2700), purchase.TotalCents)

	_, err = f.redemptions.Redeem(context.Background(), &domain.RedemptionRequest{
		Code: link.Code, UserID: "7", Items: []domain.RedemptionItem{item(1, 3)}, CouponCode: "BOGUS",
	})
	assert.ErrorIs(t, err, domain.ErrCouponNotApplicable)

	gotHold, _ := f.store.GetHold(context.Background(), hold.ID)
	assert.Equal(t, 3, gotHold.Allocations[0].RedeemedCount, "rejected coupon rolls back the reservation")
}

func TestRedeem_SlowCouponServiceIsCutOff(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)
	link := f.createLink(t, hold.ID, "unlimited", nil)

	f.coupons.ApplyCouponFunc = func(ctx context.Context, code string, items []domain.PurchaseItem) (*CouponResult, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &CouponResult{DiscountCents: 100}, nil
		}
	}
	f.redemptions = NewRedemptionService(f.store, f.catalog, f.coupons, f.clock, &RedemptionServiceConfig{
		CouponTimeout: 20 * time.Millisecond,
	})

	start := time.Now()
	_, err := f.redemptions.Redeem(context.Background(), &domain.RedemptionRequest{
		Code: link.Code, UserID: "7", Items: []domain.RedemptionItem{item(1, 2)}, CouponCode: "SAVE10",
	})
	assert.ErrorIs(t, err, domain.ErrCouponNotApplicable)
	assert.Less(t, time.Since(start), 2*time.Second)

	gotHold, _ := f.store.GetHold(context.Background(), hold.ID)
	assert.Equal(t, 0, gotHold.Allocations[0].RedeemedCount)
}

func TestCouponTimeoutFor(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, CouponTimeoutFor(3*time.Second))
	assert.Equal(t, DefaultCouponTimeout, CouponTimeoutFor(0))
}

func TestRedeem_HoldExhaustedWhenEveryAllocationIsUsed(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t,
		dto.AllocationRequest{TicketDefinitionID: 1, AllocatedQuantity: 2, PricingMode: "original"},
		dto.AllocationRequest{TicketDefinitionID: 2, AllocatedQuantity: 1, PricingMode: "original"},
	)
	link := f.createLink(t, hold.ID, "unlimited", nil)

	_, err := f.redeem(link.Code, "7", item(1, 2))
	require.NoError(t, err)
	got, _ := f.store.GetHold(context.Background(), hold.ID)
	assert.Equal(t, domain.HoldStatusActive, got.Status)

	_, err = f.redeem(link.Code, "7", item(2, 1))
	require.NoError(t, err)
	got, _ = f.store.GetHold(context.Background(), hold.ID)
	assert.Equal(t, domain.HoldStatusExhausted, got.Status)
	assert.Contains(t, f.outboxTypes(), domain.EventHoldExhausted)
}

func TestRedeem_ConcurrentRedemptionsNeverOversell(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t, dto.AllocationRequest{TicketDefinitionID: 1, AllocatedQuantity: 5, PricingMode: "original"})
	link := f.createLink(t, hold.ID, "unlimited", nil)

	const attempts = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
		rejected  int
		other     []error
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.redeem(link.Code, "7", item(1, 1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				committed++
			case errors.Is(err, domain.ErrInsufficientHoldInventory):
				rejected++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 5, committed)
	assert.Equal(t, 5, rejected)

	got, _ := f.store.GetHold(context.Background(), hold.ID)
	assert.Equal(t, 5, got.Allocations[0].RedeemedCount)
	assert.Equal(t, domain.HoldStatusExhausted, got.Status)

	purchases, err := f.links.ListPurchasesForLink(context.Background(), link.ID, 100, 0)
	require.NoError(t, err)
	assert.Len(t, purchases, 5)
}

func TestRedeem_CatalogFailureRejectsBeforeLocking(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)
	link := f.createLink(t, hold.ID, "unlimited", nil)

	catalog := &MockTicketCatalog{
		OriginalPriceFunc: func(ctx context.Context, id int64) (int64, error) {
			return 0, errors.New("ticket service down")
		},
	}
	svc := NewRedemptionService(f.store, catalog, nil, f.clock, nil)

	_, err := svc.Redeem(context.Background(), &domain.RedemptionRequest{Code: link.Code, Items: []domain.RedemptionItem{item(1, 1)}})
	require.Error(t, err)
	assert.Equal(t, "internal_error", domain.Code(err))

	got, _ := f.store.GetHold(context.Background(), hold.ID)
	assert.Equal(t, 0, got.Allocations[0].RedeemedCount)
}
