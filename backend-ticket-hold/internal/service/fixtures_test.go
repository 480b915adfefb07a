package service

import (
	"context"
	"testing"
	"time"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/clock"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/dto"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/repository"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// MockTicketCatalog is a mock implementation of TicketCatalog
type MockTicketCatalog struct {
	OriginalPriceFunc func(ctx context.Context, ticketDefinitionID int64) (int64, error)
	ExistsFunc        func(ctx context.Context, ticketDefinitionID int64) (bool, error)
}

func (m *MockTicketCatalog) OriginalPrice(ctx context.Context, ticketDefinitionID int64) (int64, error) {
	if m.OriginalPriceFunc != nil {
		return m.OriginalPriceFunc(ctx, ticketDefinitionID)
	}
	return 1000, nil
}

func (m *MockTicketCatalog) Exists(ctx context.Context, ticketDefinitionID int64) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, ticketDefinitionID)
	}
	return true, nil
}

// MockCouponEngine is a mock implementation of CouponEngine
type MockCouponEngine struct {
	ApplyCouponFunc func(ctx context.Context, code string, items []domain.PurchaseItem) (*CouponResult, error)
}

func (m *MockCouponEngine) ApplyCoupon(ctx context.Context, code string, items []domain.PurchaseItem) (*CouponResult, error) {
	if m.ApplyCouponFunc != nil {
		return m.ApplyCouponFunc(ctx, code, items)
	}
	return nil, domain.ErrCouponNotApplicable
}

// fixture wires the three services over one in-memory store
type fixture struct {
	store       *repository.MemoryStore
	clock       *clock.Fixed
	catalog     *StaticTicketCatalog
	coupons     *MockCouponEngine
	holds       HoldService
	links       LinkService
	redemptions RedemptionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   repository.NewMemoryStore(),
		clock:   clock.NewFixed(testNow),
		catalog: NewStaticTicketCatalog(map[int64]int64{1: 1000, 2: 2500, 3: 400}),
		coupons: &MockCouponEngine{},
	}
	f.holds = NewHoldService(f.store, f.catalog, f.clock, nil)
	f.links = NewLinkService(f.store, f.clock, nil)
	f.redemptions = NewRedemptionService(f.store, f.catalog, f.coupons, f.clock, nil)
	return f
}

func (f *fixture) createHold(t *testing.T, allocations ...dto.AllocationRequest) *domain.TicketHold {
	t.Helper()
	if len(allocations) == 0 {
		allocations = []dto.AllocationRequest{{TicketDefinitionID: 1, AllocatedQuantity: 10, PricingMode: "original"}}
	}
	hold, err := f.holds.CreateHold(context.Background(), &dto.CreateHoldRequest{
		EventOccurrenceID: 100,
		Name:              "Sponsor block",
		Allocations:       allocations,
	})
	require.NoError(t, err)
	return hold
}

func (f *fixture) createLink(t *testing.T, holdID, mode string, limit *int) *domain.PurchaseLink {
	t.Helper()
	link, err := f.links.CreateLink(context.Background(), &dto.CreateLinkRequest{
		TicketHoldID:  holdID,
		QuantityMode:  mode,
		QuantityLimit: limit,
	})
	require.NoError(t, err)
	return link
}

func (f *fixture) redeem(code, userID string, items ...domain.RedemptionItem) (*domain.Purchase, error) {
	return f.redemptions.Redeem(context.Background(), &domain.RedemptionRequest{
		Code:   code,
		UserID: userID,
		Items:  items,
	})
}

func (f *fixture) outboxTypes() []domain.EventType {
	var types []domain.EventType
	for _, m := range f.store.Outbox() {
		types = append(types, m.EventType)
	}
	return types
}

func intPtr(v int) *int              { return &v }
func strPtr(v string) *string        { return &v }
func int64Ptr(v int64) *int64        { return &v }
func f64Ptr(v float64) *float64      { return &v }
func timePtr(t time.Time) *time.Time { return &t }

func item(ticketDefinitionID int64, quantity int) domain.RedemptionItem {
	return domain.RedemptionItem{TicketDefinitionID: ticketDefinitionID, Quantity: quantity}
}
