package domain

import "time"

// EventType identifies a domain event written to the outbox
type EventType string

const (
	EventHoldCreated   EventType = "hold.created"
	EventHoldUpdated   EventType = "hold.updated"
	EventHoldReleased  EventType = "hold.released"
	EventHoldExpired   EventType = "hold.expired"
	EventHoldExhausted EventType = "hold.exhausted"

	EventLinkCreated   EventType = "link.created"
	EventLinkUpdated   EventType = "link.updated"
	EventLinkRevoked   EventType = "link.revoked"
	EventLinkExpired   EventType = "link.expired"
	EventLinkExhausted EventType = "link.exhausted"

	EventRedemptionCommitted EventType = "redemption.committed"
)

func (t EventType) String() string {
	return string(t)
}

// Event is the envelope published for every state change
type Event struct {
	EventID    string      `json:"event_id"`
	EventType  EventType   `json:"event_type"`
	Aggregate  Reference   `json:"aggregate"`
	OccurredAt time.Time   `json:"occurred_at"`
	Version    int         `json:"version"`
	Data       interface{} `json:"data"`
}

// HoldEventData is the payload of hold.* events
type HoldEventData struct {
	HoldID            string     `json:"hold_id"`
	EventOccurrenceID int64      `json:"event_occurrence_id"`
	OrganizerID       *int64     `json:"organizer_id,omitempty"`
	Status            HoldStatus `json:"status"`
	PreviousStatus    HoldStatus `json:"previous_status,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	Allocations       int        `json:"allocations"`
}

// NewHoldEventData builds the payload for a hold event
func NewHoldEventData(h *TicketHold, previous HoldStatus) HoldEventData {
	return HoldEventData{
		HoldID:            h.ID,
		EventOccurrenceID: h.EventOccurrenceID,
		OrganizerID:       h.OrganizerID,
		Status:            h.Status,
		PreviousStatus:    previous,
		ExpiresAt:         h.ExpiresAt,
		Allocations:       len(h.Allocations),
	}
}

// LinkEventData is the payload of link.* events
type LinkEventData struct {
	LinkID         string       `json:"link_id"`
	TicketHoldID   string       `json:"ticket_hold_id"`
	Status         LinkStatus   `json:"status"`
	PreviousStatus LinkStatus   `json:"previous_status,omitempty"`
	QuantityMode   QuantityMode `json:"quantity_mode"`
	QuantityLimit  *int         `json:"quantity_limit,omitempty"`
	RedeemedCount  int          `json:"redeemed_count"`
}

// NewLinkEventData builds the payload for a link event
func NewLinkEventData(l *PurchaseLink, previous LinkStatus) LinkEventData {
	return LinkEventData{
		LinkID:         l.ID,
		TicketHoldID:   l.TicketHoldID,
		Status:         l.Status,
		PreviousStatus: previous,
		QuantityMode:   l.QuantityMode,
		QuantityLimit:  l.QuantityLimit,
		RedeemedCount:  l.RedeemedCount,
	}
}

// RedemptionEventData is the payload of redemption.committed
type RedemptionEventData struct {
	PurchaseID        string         `json:"purchase_id"`
	PurchaseLinkID    string         `json:"purchase_link_id"`
	TicketHoldID      string         `json:"ticket_hold_id"`
	EventOccurrenceID int64          `json:"event_occurrence_id"`
	UserID            *string        `json:"user_id,omitempty"`
	Items             []PurchaseItem `json:"items"`
	TotalCents        int64          `json:"total_cents"`
}

// NewRedemptionEventData builds the payload for a committed purchase
func NewRedemptionEventData(p *Purchase) RedemptionEventData {
	return RedemptionEventData{
		PurchaseID:        p.ID,
		PurchaseLinkID:    p.PurchaseLinkID,
		TicketHoldID:      p.TicketHoldID,
		EventOccurrenceID: p.EventOccurrenceID,
		UserID:            p.UserID,
		Items:             p.Items,
		TotalCents:        p.TotalCents,
	}
}
