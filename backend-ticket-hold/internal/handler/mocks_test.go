package handler

import (
	"context"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/dto"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/service"
)

// MockHoldService is a mock implementation of HoldService for testing
type MockHoldService struct {
	CreateHoldFunc        func(ctx context.Context, req *dto.CreateHoldRequest) (*domain.TicketHold, error)
	UpdateHoldFunc        func(ctx context.Context, id string, req *dto.UpdateHoldRequest) (*domain.TicketHold, error)
	ReleaseHoldFunc       func(ctx context.Context, id string) (*domain.TicketHold, error)
	GetHoldFunc           func(ctx context.Context, id string) (*domain.TicketHold, error)
	ListHoldsFunc         func(ctx context.Context, filter domain.HoldFilter) ([]*domain.TicketHold, error)
	CheckAvailabilityFunc func(ctx context.Context, holdID string, ticketDefinitionID int64, quantity int) (bool, error)
	ExpireDueHoldsFunc    func(ctx context.Context, limit int) (int, error)
}

func (m *MockHoldService) CreateHold(ctx context.Context, req *dto.CreateHoldRequest) (*domain.TicketHold, error) {
	if m.CreateHoldFunc != nil {
		return m.CreateHoldFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockHoldService) UpdateHold(ctx context.Context, id string, req *dto.UpdateHoldRequest) (*domain.TicketHold, error) {
	if m.UpdateHoldFunc != nil {
		return m.UpdateHoldFunc(ctx, id, req)
	}
	return nil, nil
}

func (m *MockHoldService) ReleaseHold(ctx context.Context, id string) (*domain.TicketHold, error) {
	if m.ReleaseHoldFunc != nil {
		return m.ReleaseHoldFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockHoldService) GetHold(ctx context.Context, id string) (*domain.TicketHold, error) {
	if m.GetHoldFunc != nil {
		return m.GetHoldFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockHoldService) ListHolds(ctx context.Context, filter domain.HoldFilter) ([]*domain.TicketHold, error) {
	if m.ListHoldsFunc != nil {
		return m.ListHoldsFunc(ctx, filter)
	}
	return nil, nil
}

func (m *MockHoldService) CheckAvailability(ctx context.Context, holdID string, ticketDefinitionID int64, quantity int) (bool, error) {
	if m.CheckAvailabilityFunc != nil {
		return m.CheckAvailabilityFunc(ctx, holdID, ticketDefinitionID, quantity)
	}
	return false, nil
}

func (m *MockHoldService) ExpireDueHolds(ctx context.Context, limit int) (int, error) {
	if m.ExpireDueHoldsFunc != nil {
		return m.ExpireDueHoldsFunc(ctx, limit)
	}
	return 0, nil
}

// MockLinkService is a mock implementation of LinkService for testing
type MockLinkService struct {
	CreateLinkFunc           func(ctx context.Context, req *dto.CreateLinkRequest) (*domain.PurchaseLink, error)
	UpdateLinkFunc           func(ctx context.Context, id string, req *dto.UpdateLinkRequest) (*domain.PurchaseLink, error)
	RevokeLinkFunc           func(ctx context.Context, id string) (*domain.PurchaseLink, error)
	RecordAccessFunc         func(ctx context.Context, code string, info service.AccessInfo) (*domain.PurchaseLink, error)
	GetLinkFunc              func(ctx context.Context, id string) (*domain.PurchaseLink, error)
	GetLinkByCodeFunc        func(ctx context.Context, code string) (*domain.PurchaseLink, error)
	ListLinksForHoldFunc     func(ctx context.Context, holdID string) ([]*domain.PurchaseLink, error)
	ListPurchasesForLinkFunc func(ctx context.Context, linkID string, limit, offset int) ([]*domain.Purchase, error)
	ExpireDueLinksFunc       func(ctx context.Context, limit int) (int, error)
}

func (m *MockLinkService) CreateLink(ctx context.Context, req *dto.CreateLinkRequest) (*domain.PurchaseLink, error) {
	if m.CreateLinkFunc != nil {
		return m.CreateLinkFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockLinkService) UpdateLink(ctx context.Context, id string, req *dto.UpdateLinkRequest) (*domain.PurchaseLink, error) {
	if m.UpdateLinkFunc != nil {
		return m.UpdateLinkFunc(ctx, id, req)
	}
	return nil, nil
}

func (m *MockLinkService) RevokeLink(ctx context.Context, id string) (*domain.PurchaseLink, error) {
	if m.RevokeLinkFunc != nil {
		return m.RevokeLinkFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockLinkService) RecordAccess(ctx context.Context, code string, info service.AccessInfo) (*domain.PurchaseLink, error) {
	if m.RecordAccessFunc != nil {
		return m.RecordAccessFunc(ctx, code, info)
	}
	return nil, nil
}

func (m *MockLinkService) GetLink(ctx context.Context, id string) (*domain.PurchaseLink, error) {
	if m.GetLinkFunc != nil {
		return m.GetLinkFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockLinkService) GetLinkByCode(ctx context.Context, code string) (*domain.PurchaseLink, error) {
	if m.GetLinkByCodeFunc != nil {
		return m.GetLinkByCodeFunc(ctx, code)
	}
	return nil, nil
}

func (m *MockLinkService) ListLinksForHold(ctx context.Context, holdID string) ([]*domain.PurchaseLink, error) {
	if m.ListLinksForHoldFunc != nil {
		return m.ListLinksForHoldFunc(ctx, holdID)
	}
	return nil, nil
}

func (m *MockLinkService) ListPurchasesForLink(ctx context.Context, linkID string, limit, offset int) ([]*domain.Purchase, error) {
	if m.ListPurchasesForLinkFunc != nil {
		return m.ListPurchasesForLinkFunc(ctx, linkID, limit, offset)
	}
	return nil, nil
}

func (m *MockLinkService) ExpireDueLinks(ctx context.Context, limit int) (int, error) {
	if m.ExpireDueLinksFunc != nil {
		return m.ExpireDueLinksFunc(ctx, limit)
	}
	return 0, nil
}

// MockRedemptionService is a mock implementation of RedemptionService for testing
type MockRedemptionService struct {
	RedeemFunc func(ctx context.Context, req *domain.RedemptionRequest) (*domain.Purchase, error)
}

func (m *MockRedemptionService) Redeem(ctx context.Context, req *domain.RedemptionRequest) (*domain.Purchase, error) {
	if m.RedeemFunc != nil {
		return m.RedeemFunc(ctx, req)
	}
	return nil, nil
}

type mockChecker struct {
	err error
}

func (m mockChecker) HealthCheck(ctx context.Context) error {
	return m.err
}
