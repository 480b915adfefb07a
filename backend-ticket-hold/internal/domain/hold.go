package domain

import (
	"sort"
	"time"
)

// HoldStatus represents the lifecycle state of a ticket hold
type HoldStatus string

const (
	HoldStatusActive    HoldStatus = "active"
	HoldStatusExpired   HoldStatus = "expired"
	HoldStatusReleased  HoldStatus = "released"
	HoldStatusExhausted HoldStatus = "exhausted"
)

// IsValid checks if the status is a valid HoldStatus
func (s HoldStatus) IsValid() bool {
	switch s {
	case HoldStatusActive, HoldStatusExpired, HoldStatusReleased, HoldStatusExhausted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed
func (s HoldStatus) IsTerminal() bool {
	switch s {
	case HoldStatusExpired, HoldStatusReleased, HoldStatusExhausted:
		return true
	}
	return false
}

// CanTransitionTo enforces active -> {expired, released, exhausted}
func (s HoldStatus) CanTransitionTo(next HoldStatus) bool {
	return s == HoldStatusActive && next.IsTerminal()
}

func (s HoldStatus) String() string {
	return string(s)
}

// Label returns the human readable status
func (s HoldStatus) Label() string {
	switch s {
	case HoldStatusActive:
		return "Active"
	case HoldStatusExpired:
		return "Expired"
	case HoldStatusReleased:
		return "Released"
	case HoldStatusExhausted:
		return "Exhausted"
	}
	return "Unknown"
}

// TicketHold is a reserved inventory pool for one event occurrence
type TicketHold struct {
	ID                string        `json:"id"`
	EventOccurrenceID int64         `json:"event_occurrence_id"`
	OrganizerID       *int64        `json:"organizer_id,omitempty"`
	Name              string        `json:"name"`
	Description       string        `json:"description,omitempty"`
	InternalNotes     string        `json:"internal_notes,omitempty"`
	Status            HoldStatus    `json:"status"`
	ExpiresAt         *time.Time    `json:"expires_at,omitempty"`
	Allocations       []*Allocation `json:"allocations"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// IsPastExpiry reports whether expires_at has been reached at now
func (h *TicketHold) IsPastExpiry(now time.Time) bool {
	return h.ExpiresAt != nil && !now.Before(*h.ExpiresAt)
}

// EffectiveStatus is the stored status corrected by the clock: an active
// hold whose expires_at has passed is reported as expired even before the
// sweeper persists it.
func (h *TicketHold) EffectiveStatus(now time.Time) HoldStatus {
	if h.Status == HoldStatusActive && h.IsPastExpiry(now) {
		return HoldStatusExpired
	}
	return h.Status
}

// IsUsable reports whether links on this hold may currently be redeemed
func (h *TicketHold) IsUsable(now time.Time) bool {
	return h.EffectiveStatus(now) == HoldStatusActive
}

// Allocation returns the allocation for a ticket definition
func (h *TicketHold) Allocation(ticketDefinitionID int64) (*Allocation, bool) {
	for _, a := range h.Allocations {
		if a.TicketDefinitionID == ticketDefinitionID {
			return a, true
		}
	}
	return nil, false
}

// IsFullyRedeemed reports whether every allocation has reached its cap
func (h *TicketHold) IsFullyRedeemed() bool {
	if len(h.Allocations) == 0 {
		return false
	}
	for _, a := range h.Allocations {
		if a.Remaining() > 0 {
			return false
		}
	}
	return true
}

// SortAllocations orders allocations by ticket definition, the lock order
func (h *TicketHold) SortAllocations() {
	SortAllocations(h.Allocations)
}

// SortAllocations orders allocations by ticket_definition_id ascending
func SortAllocations(allocs []*Allocation) {
	sort.Slice(allocs, func(i, j int) bool {
		return allocs[i].TicketDefinitionID < allocs[j].TicketDefinitionID
	})
}

// Allocation is a hold's inventory cap and pricing for one ticket definition
type Allocation struct {
	ID                 string  `json:"id"`
	TicketHoldID       string  `json:"ticket_hold_id"`
	TicketDefinitionID int64   `json:"ticket_definition_id"`
	AllocatedQuantity  int     `json:"allocated_quantity"`
	RedeemedCount      int     `json:"redeemed_count"`
	Pricing            Pricing `json:"pricing"`
}

// NewAllocation validates the cap and requires a constructed Pricing
func NewAllocation(ticketDefinitionID int64, allocatedQuantity int, pricing Pricing) (*Allocation, error) {
	verr := &ValidationError{}
	if ticketDefinitionID <= 0 {
		verr.Add("ticket_definition_id", "must be a positive id")
	}
	if allocatedQuantity < 1 {
		verr.Add("allocated_quantity", "must be at least 1")
	}
	if pricing.IsZero() {
		verr.Add("pricing_mode", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return &Allocation{
		TicketDefinitionID: ticketDefinitionID,
		AllocatedQuantity:  allocatedQuantity,
		Pricing:            pricing,
	}, nil
}

// Remaining is the quantity still redeemable
func (a *Allocation) Remaining() int {
	if r := a.AllocatedQuantity - a.RedeemedCount; r > 0 {
		return r
	}
	return 0
}

// CanSatisfy reports whether quantity fits in the remaining cap
func (a *Allocation) CanSatisfy(quantity int) bool {
	return quantity > 0 && quantity <= a.Remaining()
}

// HoldFilter narrows hold listings
type HoldFilter struct {
	EventOccurrenceID *int64
	OrganizerID       *int64
	Status            *HoldStatus
	Limit             int
	Offset            int
}
