package dto

import (
	"fmt"
	"time"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
)

// AllocationRequest describes one allocation of a hold
type AllocationRequest struct {
	TicketDefinitionID int64    `json:"ticket_definition_id" binding:"required,gt=0"`
	AllocatedQuantity  int      `json:"allocated_quantity" binding:"required,min=1"`
	PricingMode        string   `json:"pricing_mode" binding:"required,oneof=original fixed percentage_discount free"`
	CustomPrice        *int64   `json:"custom_price,omitempty" binding:"required_if=PricingMode fixed,omitempty,min=0"`
	DiscountPercentage *float64 `json:"discount_percentage,omitempty" binding:"required_if=PricingMode percentage_discount,omitempty,min=0,max=100"`
}

// CreateHoldRequest represents request to create a ticket hold
type CreateHoldRequest struct {
	EventOccurrenceID int64               `json:"event_occurrence_id" binding:"required,gt=0"`
	OrganizerID       *int64              `json:"organizer_id,omitempty" binding:"omitempty,gt=0"`
	Name              string              `json:"name" binding:"required,max=255"`
	Description       string              `json:"description,omitempty"`
	InternalNotes     string              `json:"internal_notes,omitempty"`
	ExpiresAt         *time.Time          `json:"expires_at,omitempty"`
	Allocations       []AllocationRequest `json:"allocations" binding:"required,min=1,dive"`
}

// UpdateHoldRequest patches a hold; a non-nil Allocations replaces the
// whole allocation set
type UpdateHoldRequest struct {
	Name           *string             `json:"name,omitempty" binding:"omitempty,min=1,max=255"`
	Description    *string             `json:"description,omitempty"`
	InternalNotes  *string             `json:"internal_notes,omitempty"`
	ExpiresAt      *time.Time          `json:"expires_at,omitempty"`
	ClearExpiresAt bool                `json:"clear_expires_at,omitempty"`
	Allocations    []AllocationRequest `json:"allocations,omitempty" binding:"omitempty,min=1,dive"`
}

// HoldListQuery holds the query string of GET /holds
type HoldListQuery struct {
	EventOccurrenceID *int64 `form:"event_occurrence_id" binding:"omitempty,gt=0"`
	OrganizerID       *int64 `form:"organizer_id" binding:"omitempty,gt=0"`
	Status            string `form:"status" binding:"omitempty,oneof=active expired released exhausted"`
	Limit             int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset            int    `form:"offset" binding:"omitempty,min=0"`
}

// ToFilter converts the query to a repository filter
func (q *HoldListQuery) ToFilter() domain.HoldFilter {
	f := domain.HoldFilter{
		EventOccurrenceID: q.EventOccurrenceID,
		OrganizerID:       q.OrganizerID,
		Limit:             q.Limit,
		Offset:            q.Offset,
	}
	if f.Limit == 0 {
		f.Limit = 20
	}
	if q.Status != "" {
		s := domain.HoldStatus(q.Status)
		f.Status = &s
	}
	return f
}

// AvailabilityQuery holds the query string of the availability check
type AvailabilityQuery struct {
	TicketDefinitionID int64 `form:"ticket_definition_id" binding:"required,gt=0"`
	Quantity           int   `form:"quantity" binding:"required,min=1"`
}

// ToPricing builds the validated pricing rule of the allocation
func (r *AllocationRequest) ToPricing() (domain.Pricing, error) {
	var bp *int64
	if r.DiscountPercentage != nil {
		v, err := domain.DiscountPercentToBasisPoints(*r.DiscountPercentage)
		if err != nil {
			return domain.Pricing{}, err
		}
		bp = &v
	}
	return domain.NewPricing(domain.PricingMode(r.PricingMode), r.CustomPrice, bp)
}

// BuildAllocations converts requests into allocations, collecting every
// field error with its index and rejecting repeated ticket definitions
func BuildAllocations(reqs []AllocationRequest) ([]*domain.Allocation, error) {
	verr := &domain.ValidationError{}
	if len(reqs) == 0 {
		verr.Add("allocations", "must contain at least one allocation")
		return nil, verr
	}

	seen := make(map[int64]int, len(reqs))
	allocations := make([]*domain.Allocation, 0, len(reqs))
	for i := range reqs {
		r := &reqs[i]
		prefix := fmt.Sprintf("allocations[%d].", i)

		if first, dup := seen[r.TicketDefinitionID]; dup {
			verr.Add(prefix+"ticket_definition_id", fmt.Sprintf("duplicates allocations[%d]", first))
			continue
		}
		seen[r.TicketDefinitionID] = i

		pricing, err := r.ToPricing()
		if err != nil {
			addPrefixed(verr, prefix, err)
			continue
		}
		a, err := domain.NewAllocation(r.TicketDefinitionID, r.AllocatedQuantity, pricing)
		if err != nil {
			addPrefixed(verr, prefix, err)
			continue
		}
		allocations = append(allocations, a)
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	domain.SortAllocations(allocations)
	return allocations, nil
}

func addPrefixed(verr *domain.ValidationError, prefix string, err error) {
	if fe, ok := err.(*domain.ValidationError); ok {
		for _, f := range fe.Fields {
			verr.Add(prefix+f.Field, f.Message)
		}
		return
	}
	verr.Add(prefix+"allocation", err.Error())
}

// AllocationResponse is an allocation in API responses
type AllocationResponse struct {
	ID                 string   `json:"id"`
	TicketDefinitionID int64    `json:"ticket_definition_id"`
	AllocatedQuantity  int      `json:"allocated_quantity"`
	RedeemedCount      int      `json:"redeemed_count"`
	Remaining          int      `json:"remaining"`
	PricingMode        string   `json:"pricing_mode"`
	PricingLabel       string   `json:"pricing_label"`
	CustomPrice        *int64   `json:"custom_price,omitempty"`
	DiscountPercentage *float64 `json:"discount_percentage,omitempty"`
}

// HoldResponse represents a ticket hold in API responses
type HoldResponse struct {
	ID                string               `json:"id"`
	EventOccurrenceID int64                `json:"event_occurrence_id"`
	OrganizerID       *int64               `json:"organizer_id,omitempty"`
	Name              string               `json:"name"`
	Description       string               `json:"description,omitempty"`
	InternalNotes     string               `json:"internal_notes,omitempty"`
	Status            string               `json:"status"`
	StatusLabel       string               `json:"status_label"`
	IsUsable          bool                 `json:"is_usable"`
	ExpiresAt         *time.Time           `json:"expires_at,omitempty"`
	Allocations       []AllocationResponse `json:"allocations"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// FromHold converts a hold, reporting its status as seen at now
func FromHold(h *domain.TicketHold, now time.Time) *HoldResponse {
	status := h.EffectiveStatus(now)
	resp := &HoldResponse{
		ID:                h.ID,
		EventOccurrenceID: h.EventOccurrenceID,
		OrganizerID:       h.OrganizerID,
		Name:              h.Name,
		Description:       h.Description,
		InternalNotes:     h.InternalNotes,
		Status:            status.String(),
		StatusLabel:       status.Label(),
		IsUsable:          status == domain.HoldStatusActive,
		ExpiresAt:         h.ExpiresAt,
		Allocations:       make([]AllocationResponse, 0, len(h.Allocations)),
		CreatedAt:         h.CreatedAt,
		UpdatedAt:         h.UpdatedAt,
	}
	for _, a := range h.Allocations {
		ar := AllocationResponse{
			ID:                 a.ID,
			TicketDefinitionID: a.TicketDefinitionID,
			AllocatedQuantity:  a.AllocatedQuantity,
			RedeemedCount:      a.RedeemedCount,
			Remaining:          a.Remaining(),
			PricingMode:        a.Pricing.Mode().String(),
			PricingLabel:       a.Pricing.Mode().Label(),
		}
		if v, ok := a.Pricing.CustomPriceCents(); ok {
			ar.CustomPrice = &v
		}
		if bp, ok := a.Pricing.DiscountBasisPoints(); ok {
			pct := float64(bp) / 100
			ar.DiscountPercentage = &pct
		}
		resp.Allocations = append(resp.Allocations, ar)
	}
	return resp
}

// FromHolds converts a list of holds
func FromHolds(holds []*domain.TicketHold, now time.Time) []*HoldResponse {
	out := make([]*HoldResponse, 0, len(holds))
	for _, h := range holds {
		out = append(out, FromHold(h, now))
	}
	return out
}

// AvailabilityResponse answers an availability check
type AvailabilityResponse struct {
	TicketHoldID       string `json:"ticket_hold_id"`
	TicketDefinitionID int64  `json:"ticket_definition_id"`
	Quantity           int    `json:"quantity"`
	Available          bool   `json:"available"`
}
