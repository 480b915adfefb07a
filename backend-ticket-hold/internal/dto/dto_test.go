package dto

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func TestBuildAllocations(t *testing.T) {
	allocs, err := BuildAllocations([]AllocationRequest{
		{TicketDefinitionID: 3, AllocatedQuantity: 5, PricingMode: "percentage_discount", DiscountPercentage: f64(12.5)},
		{TicketDefinitionID: 1, AllocatedQuantity: 2, PricingMode: "fixed", CustomPrice: i64(900)},
	})
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	assert.Equal(t, int64(1), allocs[0].TicketDefinitionID, "allocations are sorted by ticket definition")

	bp, ok := allocs[1].Pricing.DiscountBasisPoints()
	assert.True(t, ok)
	assert.Equal(t, int64(1250), bp)
}

func TestBuildAllocations_CollectsFieldErrors(t *testing.T) {
	_, err := BuildAllocations([]AllocationRequest{
		{TicketDefinitionID: 1, AllocatedQuantity: 1, PricingMode: "fixed"},
		{TicketDefinitionID: 1, AllocatedQuantity: 1, PricingMode: "free"},
		{TicketDefinitionID: 2, AllocatedQuantity: 1, PricingMode: "percentage_discount"},
	})
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	fields := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	assert.Equal(t, []string{
		"allocations[0].custom_price",
		"allocations[1].ticket_definition_id",
		"allocations[2].discount_percentage",
	}, fields)
}

func TestBindError_ValidatorErrors(t *testing.T) {
	v := validator.New()
	v.SetTagName("binding")

	err := v.Struct(&CreateHoldRequest{
		Allocations: []AllocationRequest{{TicketDefinitionID: 1, AllocatedQuantity: 1, PricingMode: "fixed"}},
	})
	require.Error(t, err)

	verr := BindError(err)
	fields := map[string]string{}
	for _, f := range verr.Fields {
		fields[f.Field] = f.Message
	}
	assert.Equal(t, "is required", fields["event_occurrence_id"])
	assert.Equal(t, "is required", fields["name"])
	assert.Contains(t, fields, "allocations[0].custom_price")
}

func TestHoldListQuery_ToFilter(t *testing.T) {
	q := HoldListQuery{Status: "active"}
	f := q.ToFilter()
	assert.Equal(t, 20, f.Limit)
	require.NotNil(t, f.Status)
	assert.Equal(t, domain.HoldStatusActive, *f.Status)
}

func TestFromLink_ReportsEffectiveStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	limit := 4
	owner := "42"

	link := &domain.PurchaseLink{
		Code:           "abc",
		QuantityMode:   domain.QuantityModeMaximum,
		QuantityLimit:  &limit,
		RedeemedCount:  1,
		AssignedUserID: &owner,
		Notes:          "vip",
		Status:         domain.LinkStatusActive,
		ExpiresAt:      &past,
	}

	resp := FromLink(link, now)
	assert.Equal(t, "expired", resp.Status)
	assert.False(t, resp.IsUsable)
	require.NotNil(t, resp.Remaining)
	assert.Equal(t, 3, *resp.Remaining)

	public := FromLinkPublic(link, now)
	assert.Equal(t, "abc", public.Code)
	assert.Equal(t, "expired", public.Status)
}

func TestRedeemRequest_ToDomain(t *testing.T) {
	req := &RedeemRequest{Items: []RedeemItemRequest{{TicketDefinitionID: 1, Quantity: 2}}, CouponCode: "SAVE"}
	got := req.ToDomain("code", "7")
	assert.Equal(t, "code", got.Code)
	assert.Equal(t, "7", got.UserID)
	assert.Equal(t, 2, got.TotalQuantity())
}
