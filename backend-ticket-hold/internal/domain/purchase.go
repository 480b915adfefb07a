package domain

import "time"

// RedemptionItem is one requested line of a redemption attempt
type RedemptionItem struct {
	TicketDefinitionID int64 `json:"ticket_definition_id"`
	Quantity           int   `json:"quantity"`
}

// RedemptionRequest is the ephemeral redemption attempt
type RedemptionRequest struct {
	Code       string
	UserID     string
	Items      []RedemptionItem
	CouponCode string
}

// TotalQuantity sums quantities across items
func (r *RedemptionRequest) TotalQuantity() int {
	total := 0
	for _, it := range r.Items {
		total += it.Quantity
	}
	return total
}

// Validate checks the request shape: at least one item, positive
// quantities and no repeated ticket definition.
func (r *RedemptionRequest) Validate() error {
	verr := &ValidationError{}
	if r.Code == "" {
		verr.Add("code", "is required")
	}
	if len(r.Items) == 0 {
		verr.Add("items", "must contain at least one item")
	}
	seen := make(map[int64]struct{}, len(r.Items))
	for _, it := range r.Items {
		if it.TicketDefinitionID <= 0 {
			verr.Add("items.ticket_definition_id", "must be a positive id")
		}
		if it.Quantity < 1 {
			verr.Add("items.quantity", "must be at least 1")
		}
		if _, dup := seen[it.TicketDefinitionID]; dup {
			verr.Add("items.ticket_definition_id", "must be distinct")
		}
		seen[it.TicketDefinitionID] = struct{}{}
	}
	return verr.OrNil()
}

// PurchaseItem is a priced line of a committed purchase
type PurchaseItem struct {
	TicketDefinitionID     int64 `json:"ticket_definition_id"`
	Quantity               int   `json:"quantity"`
	OriginalUnitPriceCents int64 `json:"original_unit_price_cents"`
	UnitPriceCents         int64 `json:"unit_price_cents"`
	LineTotalCents         int64 `json:"line_total_cents"`
}

// Purchase is the committed result of a redemption
type Purchase struct {
	ID                string         `json:"id"`
	PurchaseLinkID    string         `json:"purchase_link_id"`
	TicketHoldID      string         `json:"ticket_hold_id"`
	EventOccurrenceID int64          `json:"event_occurrence_id"`
	UserID            *string        `json:"user_id,omitempty"`
	CouponCode        string         `json:"coupon_code,omitempty"`
	Items             []PurchaseItem `json:"items"`
	SubtotalCents     int64          `json:"subtotal_cents"`
	DiscountCents     int64          `json:"discount_cents"`
	TotalCents        int64          `json:"total_cents"`
	Source            Reference      `json:"source"`
	CreatedAt         time.Time      `json:"created_at"`
}

// TotalQuantity sums quantities across purchased items
func (p *Purchase) TotalQuantity() int {
	total := 0
	for _, it := range p.Items {
		total += it.Quantity
	}
	return total
}
