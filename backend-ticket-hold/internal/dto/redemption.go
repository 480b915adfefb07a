package dto

import (
	"time"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
)

// RedeemItemRequest is one requested line
type RedeemItemRequest struct {
	TicketDefinitionID int64 `json:"ticket_definition_id" binding:"required,gt=0"`
	Quantity           int   `json:"quantity" binding:"required,min=1"`
}

// RedeemRequest represents request to redeem a purchase link
type RedeemRequest struct {
	Items      []RedeemItemRequest `json:"items" binding:"required,min=1,dive"`
	CouponCode string              `json:"coupon_code,omitempty" binding:"max=100"`
}

// ToDomain builds the redemption attempt for code on behalf of userID
func (r *RedeemRequest) ToDomain(code, userID string) *domain.RedemptionRequest {
	items := make([]domain.RedemptionItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, domain.RedemptionItem{
			TicketDefinitionID: it.TicketDefinitionID,
			Quantity:           it.Quantity,
		})
	}
	return &domain.RedemptionRequest{
		Code:       code,
		UserID:     userID,
		Items:      items,
		CouponCode: r.CouponCode,
	}
}

// PurchaseResponse represents a committed purchase
type PurchaseResponse struct {
	ID                string                `json:"id"`
	PurchaseLinkID    string                `json:"purchase_link_id"`
	TicketHoldID      string                `json:"ticket_hold_id"`
	EventOccurrenceID int64                 `json:"event_occurrence_id"`
	UserID            *string               `json:"user_id,omitempty"`
	CouponCode        string                `json:"coupon_code,omitempty"`
	Items             []domain.PurchaseItem `json:"items"`
	TotalQuantity     int                   `json:"total_quantity"`
	SubtotalCents     int64                 `json:"subtotal_cents"`
	DiscountCents     int64                 `json:"discount_cents"`
	TotalCents        int64                 `json:"total_cents"`
	Source            domain.Reference      `json:"source"`
	CreatedAt         time.Time             `json:"created_at"`
}

// FromPurchase converts a purchase
func FromPurchase(p *domain.Purchase) *PurchaseResponse {
	return &PurchaseResponse{
		ID:                p.ID,
		PurchaseLinkID:    p.PurchaseLinkID,
		TicketHoldID:      p.TicketHoldID,
		EventOccurrenceID: p.EventOccurrenceID,
		UserID:            p.UserID,
		CouponCode:        p.CouponCode,
		Items:             p.Items,
		TotalQuantity:     p.TotalQuantity(),
		SubtotalCents:     p.SubtotalCents,
		DiscountCents:     p.DiscountCents,
		TotalCents:        p.TotalCents,
		Source:            p.Source,
		CreatedAt:         p.CreatedAt,
	}
}

// FromPurchases converts a list of purchases
func FromPurchases(purchases []*domain.Purchase) []*PurchaseResponse {
	out := make([]*PurchaseResponse, 0, len(purchases))
	for _, p := range purchases {
		out = append(out, FromPurchase(p))
	}
	return out
}
