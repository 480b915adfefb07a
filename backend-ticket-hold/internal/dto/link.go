package dto

import (
	"encoding/json"
	"time"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
)

// CreateLinkRequest represents request to issue a purchase link
type CreateLinkRequest struct {
	TicketHoldID   string          `json:"ticket_hold_id" binding:"required,uuid"`
	Name           string          `json:"name,omitempty" binding:"max=255"`
	AssignedUserID *string         `json:"assigned_user_id,omitempty" binding:"omitempty,min=1,max=255"`
	QuantityMode   string          `json:"quantity_mode" binding:"required,oneof=fixed maximum unlimited"`
	QuantityLimit  *int            `json:"quantity_limit,omitempty" binding:"required_unless=QuantityMode unlimited,omitempty,min=1"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// UpdateLinkRequest patches an active link. An empty AssignedUserID
// removes the assignment.
type UpdateLinkRequest struct {
	Name           *string         `json:"name,omitempty" binding:"omitempty,max=255"`
	AssignedUserID *string         `json:"assigned_user_id,omitempty" binding:"omitempty,max=255"`
	QuantityMode   *string         `json:"quantity_mode,omitempty" binding:"omitempty,oneof=fixed maximum unlimited"`
	QuantityLimit  *int            `json:"quantity_limit,omitempty" binding:"omitempty,min=1"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	ClearExpiresAt bool            `json:"clear_expires_at,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// PageQuery is a limit/offset query string
type PageQuery struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// LimitOrDefault returns Limit or 20
func (q *PageQuery) LimitOrDefault() int {
	if q.Limit == 0 {
		return 20
	}
	return q.Limit
}

// LinkResponse represents a purchase link for administrators
type LinkResponse struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	TicketHoldID   string          `json:"ticket_hold_id"`
	Name           string          `json:"name,omitempty"`
	AssignedUserID *string         `json:"assigned_user_id,omitempty"`
	QuantityMode   string          `json:"quantity_mode"`
	QuantityLimit  *int            `json:"quantity_limit,omitempty"`
	Remaining      *int            `json:"remaining,omitempty"`
	RedeemedCount  int             `json:"redeemed_count"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Status         string          `json:"status"`
	StatusLabel    string          `json:"status_label"`
	IsUsable       bool            `json:"is_usable"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// FromLink converts a link, reporting its status as seen at now
func FromLink(l *domain.PurchaseLink, now time.Time) *LinkResponse {
	status := l.EffectiveStatus(now)
	resp := &LinkResponse{
		ID:             l.ID,
		Code:           l.Code,
		TicketHoldID:   l.TicketHoldID,
		Name:           l.Name,
		AssignedUserID: l.AssignedUserID,
		QuantityMode:   l.QuantityMode.String(),
		QuantityLimit:  l.QuantityLimit,
		RedeemedCount:  l.RedeemedCount,
		ExpiresAt:      l.ExpiresAt,
		Notes:          l.Notes,
		Metadata:       l.Metadata,
		Status:         status.String(),
		StatusLabel:    status.Label(),
		IsUsable:       status == domain.LinkStatusActive,
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
	}
	if l.HasLimit() {
		r := l.Remaining()
		resp.Remaining = &r
	}
	return resp
}

// FromLinks converts a list of links
func FromLinks(links []*domain.PurchaseLink, now time.Time) []*LinkResponse {
	out := make([]*LinkResponse, 0, len(links))
	for _, l := range links {
		out = append(out, FromLink(l, now))
	}
	return out
}

// PublicLinkResponse is what a buyer sees when opening a link
type PublicLinkResponse struct {
	Code          string     `json:"code"`
	Name          string     `json:"name,omitempty"`
	QuantityMode  string     `json:"quantity_mode"`
	QuantityLimit *int       `json:"quantity_limit,omitempty"`
	Remaining     *int       `json:"remaining,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Status        string     `json:"status"`
	IsUsable      bool       `json:"is_usable"`
}

// FromLinkPublic hides notes, metadata and assignment
func FromLinkPublic(l *domain.PurchaseLink, now time.Time) *PublicLinkResponse {
	full := FromLink(l, now)
	return &PublicLinkResponse{
		Code:          full.Code,
		Name:          full.Name,
		QuantityMode:  full.QuantityMode,
		QuantityLimit: full.QuantityLimit,
		Remaining:     full.Remaining,
		ExpiresAt:     full.ExpiresAt,
		Status:        full.Status,
		IsUsable:      full.IsUsable,
	}
}
