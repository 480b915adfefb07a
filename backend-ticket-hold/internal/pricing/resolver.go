// Package pricing turns an allocation's pricing rule and a catalog price
// into the unit price a buyer pays.
package pricing

import (
	"fmt"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
)

// ResolvePrice returns the unit price in cents for one line item.
// Percentage discounts round half up and never go below zero.
func ResolvePrice(p domain.Pricing, originalPriceCents int64) int64 {
	switch p.Mode() {
	case domain.PricingModeOriginal:
		return originalPriceCents
	case domain.PricingModeFixed:
		v, _ := p.CustomPriceCents()
		return v
	case domain.PricingModePercentageDiscount:
		bp, _ := p.DiscountBasisPoints()
		return applyDiscount(originalPriceCents, bp)
	case domain.PricingModeFree:
		return 0
	}
	// unreachable for a constructed Pricing
	panic(fmt.Sprintf("pricing: unhandled mode %q", p.Mode()))
}

func applyDiscount(original, basisPoints int64) int64 {
	if original <= 0 {
		return 0
	}
	keep := domain.MaxDiscountBasisPoints - basisPoints
	if keep <= 0 {
		return 0
	}
	return (original*keep + domain.MaxDiscountBasisPoints/2) / domain.MaxDiscountBasisPoints
}

// LineInput is one item to price
type LineInput struct {
	TicketDefinitionID int64
	Quantity           int
	OriginalPriceCents int64
	Pricing            domain.Pricing
}

// PriceLineItems resolves every line; each line is priced independently
func PriceLineItems(lines []LineInput) []domain.PurchaseItem {
	items := make([]domain.PurchaseItem, 0, len(lines))
	for _, l := range lines {
		unit := ResolvePrice(l.Pricing, l.OriginalPriceCents)
		items = append(items, domain.PurchaseItem{
			TicketDefinitionID:     l.TicketDefinitionID,
			Quantity:               l.Quantity,
			OriginalUnitPriceCents: l.OriginalPriceCents,
			UnitPriceCents:         unit,
			LineTotalCents:         unit * int64(l.Quantity),
		})
	}
	return items
}

// Subtotal sums line totals
func Subtotal(items []domain.PurchaseItem) int64 {
	var total int64
	for _, it := range items {
		total += it.LineTotalCents
	}
	return total
}
