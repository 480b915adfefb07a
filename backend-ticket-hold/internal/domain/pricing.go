package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// PricingMode is the rule that turns an original price into a buyer price
type PricingMode string

const (
	PricingModeOriginal           PricingMode = "original"
	PricingModeFixed              PricingMode = "fixed"
	PricingModePercentageDiscount PricingMode = "percentage_discount"
	PricingModeFree               PricingMode = "free"
)

// IsValid checks if the mode is a known PricingMode
func (m PricingMode) IsValid() bool {
	switch m {
	case PricingModeOriginal, PricingModeFixed, PricingModePercentageDiscount, PricingModeFree:
		return true
	}
	return false
}

func (m PricingMode) String() string {
	return string(m)
}

// Label returns the human readable mode name
func (m PricingMode) Label() string {
	switch m {
	case PricingModeOriginal:
		return "Original price"
	case PricingModeFixed:
		return "Fixed price"
	case PricingModePercentageDiscount:
		return "Percentage discount"
	case PricingModeFree:
		return "Free"
	}
	return "Unknown"
}

// Pricing is an allocation's pricing rule. Its fields are unexported so it
// can only be obtained from the constructors below, which enforce the
// payload each mode needs.
type Pricing struct {
	mode                PricingMode
	customPriceCents    int64
	discountBasisPoints int64
}

// MaxDiscountBasisPoints is 100% expressed in hundredths of a percent
const MaxDiscountBasisPoints = 10000

func OriginalPricing() Pricing {
	return Pricing{mode: PricingModeOriginal}
}

func FreePricing() Pricing {
	return Pricing{mode: PricingModeFree}
}

func FixedPricing(customPriceCents int64) (Pricing, error) {
	if customPriceCents < 0 {
		return Pricing{}, NewValidationError("custom_price", "must be zero or greater")
	}
	return Pricing{mode: PricingModeFixed, customPriceCents: customPriceCents}, nil
}

// PercentageDiscountPricing takes the discount in basis points of a percent
// (2500 = 25%).
func PercentageDiscountPricing(discountBasisPoints int64) (Pricing, error) {
	if discountBasisPoints < 0 || discountBasisPoints > MaxDiscountBasisPoints {
		return Pricing{}, NewValidationError("discount_percentage", "must be between 0 and 100")
	}
	return Pricing{mode: PricingModePercentageDiscount, discountBasisPoints: discountBasisPoints}, nil
}

// NewPricing dispatches to the per-mode constructor; the optional values are
// required or ignored according to the mode.
func NewPricing(mode PricingMode, customPriceCents, discountBasisPoints *int64) (Pricing, error) {
	switch mode {
	case PricingModeOriginal:
		return OriginalPricing(), nil
	case PricingModeFree:
		return FreePricing(), nil
	case PricingModeFixed:
		if customPriceCents == nil {
			return Pricing{}, NewValidationError("custom_price", "is required when pricing_mode is fixed")
		}
		return FixedPricing(*customPriceCents)
	case PricingModePercentageDiscount:
		if discountBasisPoints == nil {
			return Pricing{}, NewValidationError("discount_percentage", "is required when pricing_mode is percentage_discount")
		}
		return PercentageDiscountPricing(*discountBasisPoints)
	}
	return Pricing{}, NewValidationError("pricing_mode", fmt.Sprintf("unknown pricing mode %q", mode))
}

// DiscountPercentToBasisPoints converts a percentage with at most two
// decimals into basis points.
func DiscountPercentToBasisPoints(percent float64) (int64, error) {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return 0, NewValidationError("discount_percentage", "must be between 0 and 100")
	}
	bp := math.Round(percent * 100)
	if math.Abs(percent*100-bp) > 1e-6 {
		return 0, NewValidationError("discount_percentage", "supports at most two decimal places")
	}
	return int64(bp), nil
}

func (p Pricing) Mode() PricingMode { return p.mode }

// IsZero reports whether p was never constructed
func (p Pricing) IsZero() bool { return p.mode == "" }

// CustomPriceCents is set only for fixed pricing
func (p Pricing) CustomPriceCents() (int64, bool) {
	return p.customPriceCents, p.mode == PricingModeFixed
}

// DiscountBasisPoints is set only for percentage discounts
func (p Pricing) DiscountBasisPoints() (int64, bool) {
	return p.discountBasisPoints, p.mode == PricingModePercentageDiscount
}

type pricingJSON struct {
	Mode               PricingMode `json:"pricing_mode"`
	CustomPriceCents   *int64      `json:"custom_price,omitempty"`
	DiscountPercentage *float64    `json:"discount_percentage,omitempty"`
}

func (p Pricing) MarshalJSON() ([]byte, error) {
	out := pricingJSON{Mode: p.mode}
	if v, ok := p.CustomPriceCents(); ok {
		out.CustomPriceCents = &v
	}
	if bp, ok := p.DiscountBasisPoints(); ok {
		pct := float64(bp) / 100
		out.DiscountPercentage = &pct
	}
	return json.Marshal(out)
}
