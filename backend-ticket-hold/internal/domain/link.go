package domain

import (
	"encoding/json"
	"time"
)

// LinkStatus represents the lifecycle state of a purchase link
type LinkStatus string

const (
	LinkStatusActive    LinkStatus = "active"
	LinkStatusExpired   LinkStatus = "expired"
	LinkStatusRevoked   LinkStatus = "revoked"
	LinkStatusExhausted LinkStatus = "exhausted"
)

// IsValid checks if the status is a valid LinkStatus
func (s LinkStatus) IsValid() bool {
	switch s {
	case LinkStatusActive, LinkStatusExpired, LinkStatusRevoked, LinkStatusExhausted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed
func (s LinkStatus) IsTerminal() bool {
	switch s {
	case LinkStatusExpired, LinkStatusRevoked, LinkStatusExhausted:
		return true
	}
	return false
}

// CanTransitionTo enforces active -> {expired, revoked, exhausted}
func (s LinkStatus) CanTransitionTo(next LinkStatus) bool {
	return s == LinkStatusActive && next.IsTerminal()
}

func (s LinkStatus) String() string {
	return string(s)
}

// Label returns the human readable status
func (s LinkStatus) Label() string {
	switch s {
	case LinkStatusActive:
		return "Active"
	case LinkStatusExpired:
		return "Expired"
	case LinkStatusRevoked:
		return "Revoked"
	case LinkStatusExhausted:
		return "Exhausted"
	}
	return "Unknown"
}

// QuantityMode controls how many tickets one redemption may request
type QuantityMode string

const (
	// QuantityModeFixed requires exactly quantity_limit tickets
	QuantityModeFixed QuantityMode = "fixed"
	// QuantityModeMaximum allows up to quantity_limit tickets
	QuantityModeMaximum QuantityMode = "maximum"
	// QuantityModeUnlimited is bounded by hold inventory only
	QuantityModeUnlimited QuantityMode = "unlimited"
)

// IsValid checks if the mode is a valid QuantityMode
func (m QuantityMode) IsValid() bool {
	switch m {
	case QuantityModeFixed, QuantityModeMaximum, QuantityModeUnlimited:
		return true
	}
	return false
}

// RequiresLimit reports whether quantity_limit is mandatory
func (m QuantityMode) RequiresLimit() bool {
	return m == QuantityModeFixed || m == QuantityModeMaximum
}

func (m QuantityMode) String() string {
	return string(m)
}

// PurchaseLink is a shareable redemption handle against one hold
type PurchaseLink struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	TicketHoldID   string          `json:"ticket_hold_id"`
	Name           string          `json:"name,omitempty"`
	AssignedUserID *string         `json:"assigned_user_id,omitempty"`
	QuantityMode   QuantityMode    `json:"quantity_mode"`
	QuantityLimit  *int            `json:"quantity_limit,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Status         LinkStatus      `json:"status"`
	RedeemedCount  int             `json:"redeemed_count"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ValidateQuantityPolicy checks the mode/limit pairing
func ValidateQuantityPolicy(mode QuantityMode, limit *int) error {
	verr := &ValidationError{}
	switch {
	case !mode.IsValid():
		verr.Add("quantity_mode", "must be one of fixed, maximum, unlimited")
	case mode.RequiresLimit() && limit == nil:
		verr.Add("quantity_limit", "is required unless quantity_mode is unlimited")
	case mode.RequiresLimit() && *limit < 1:
		verr.Add("quantity_limit", "must be at least 1")
	case !mode.RequiresLimit() && limit != nil:
		verr.Add("quantity_limit", "must be omitted when quantity_mode is unlimited")
	}
	return verr.OrNil()
}

// IsPastExpiry reports whether expires_at has been reached at now
func (l *PurchaseLink) IsPastExpiry(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// HasLimit reports whether the link caps its total redemptions
func (l *PurchaseLink) HasLimit() bool {
	return l.QuantityMode.RequiresLimit() && l.QuantityLimit != nil
}

// Remaining is the quantity the link still allows, or -1 when unlimited
func (l *PurchaseLink) Remaining() int {
	if !l.HasLimit() {
		return -1
	}
	if r := *l.QuantityLimit - l.RedeemedCount; r > 0 {
		return r
	}
	return 0
}

// EffectiveStatus corrects the stored status with the clock and counters
func (l *PurchaseLink) EffectiveStatus(now time.Time) LinkStatus {
	if l.Status != LinkStatusActive {
		return l.Status
	}
	if l.IsPastExpiry(now) {
		return LinkStatusExpired
	}
	if l.HasLimit() && l.Remaining() == 0 {
		return LinkStatusExhausted
	}
	return LinkStatusActive
}

// IsUsable reports whether the link accepts redemptions at now
func (l *PurchaseLink) IsUsable(now time.Time) bool {
	return l.EffectiveStatus(now) == LinkStatusActive
}

// IsAssignedTo reports whether userID may redeem the link
func (l *PurchaseLink) IsAssignedTo(userID string) bool {
	return l.AssignedUserID == nil || (userID != "" && *l.AssignedUserID == userID)
}

// CheckQuantity applies the link's quantity mode to a requested total
func (l *PurchaseLink) CheckQuantity(total int) error {
	switch l.QuantityMode {
	case QuantityModeFixed:
		if l.QuantityLimit == nil || total != *l.QuantityLimit {
			return ErrLinkQuantityMismatch
		}
	case QuantityModeMaximum:
		if l.QuantityLimit == nil || total > *l.QuantityLimit {
			return ErrLinkQuantityExceeded
		}
	case QuantityModeUnlimited:
		return nil
	default:
		return ErrLinkNotUsable
	}
	if total > l.Remaining() {
		return ErrLinkQuantityExceeded
	}
	return nil
}

// LinkAccess is one append-only access log entry
type LinkAccess struct {
	ID             string    `json:"id"`
	PurchaseLinkID string    `json:"purchase_link_id"`
	AccessedAt     time.Time `json:"accessed_at"`
	UserID         *string   `json:"user_id,omitempty"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
}
