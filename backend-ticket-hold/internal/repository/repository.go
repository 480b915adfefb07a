package repository

import (
	"context"
	"errors"
	"time"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
)

// ErrDuplicateCode is returned when a link code collides with an existing one
var ErrDuplicateCode = errors.New("purchase link code already exists")

// HoldRepository defines data access for holds and their allocations.
// Lock* methods take row locks and are meant to be used inside Store.InTx.
type HoldRepository interface {
	// CreateHold inserts a hold together with its allocations
	CreateHold(ctx context.Context, hold *domain.TicketHold) error

	// GetHold returns a hold with its allocations sorted by ticket definition
	GetHold(ctx context.Context, id string) (*domain.TicketHold, error)

	// LockHold locks the hold row; allocations are not loaded
	LockHold(ctx context.Context, id string) (*domain.TicketHold, error)

	// LockAllocations locks every allocation of a hold in ticket_definition_id order
	LockAllocations(ctx context.Context, holdID string) ([]*domain.Allocation, error)

	ListHolds(ctx context.Context, filter domain.HoldFilter) ([]*domain.TicketHold, error)

	// UpdateHoldHeader persists name, description, notes and expiry
	UpdateHoldHeader(ctx context.Context, hold *domain.TicketHold) error

	// ReplaceAllocations swaps the allocation set of a hold
	ReplaceAllocations(ctx context.Context, holdID string, allocations []*domain.Allocation) error

	// TransitionHold moves a hold from one status to another; false means
	// the hold was no longer in the from status
	TransitionHold(ctx context.Context, id string, from, to domain.HoldStatus, now time.Time) (bool, error)

	// IncrementAllocation adds quantity to redeemed_count unless that would
	// exceed allocated_quantity; false means the cap would be exceeded
	IncrementAllocation(ctx context.Context, holdID string, ticketDefinitionID int64, quantity int) (bool, error)

	// ListDueHoldIDs returns active holds whose expires_at <= now
	ListDueHoldIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// LinkRepository defines data access for purchase links
type LinkRepository interface {
	// CreateLink inserts a link; a code collision returns ErrDuplicateCode
	CreateLink(ctx context.Context, link *domain.PurchaseLink) error
	CodeExists(ctx context.Context, code string) (bool, error)
	GetLink(ctx context.Context, id string) (*domain.PurchaseLink, error)
	GetLinkByCode(ctx context.Context, code string) (*domain.PurchaseLink, error)
	LockLink(ctx context.Context, id string) (*domain.PurchaseLink, error)
	LockLinkByCode(ctx context.Context, code string) (*domain.PurchaseLink, error)
	ListLinksByHold(ctx context.Context, holdID string) ([]*domain.PurchaseLink, error)

	// UpdateLink persists the mutable fields of an active link
	UpdateLink(ctx context.Context, link *domain.PurchaseLink) error
	TransitionLink(ctx context.Context, id string, from, to domain.LinkStatus, now time.Time) (bool, error)

	// IncrementLink adds quantity to redeemed_count, bounded by quantity_limit
	IncrementLink(ctx context.Context, id string, quantity int, now time.Time) (bool, error)
	ListDueLinkIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	InsertAccess(ctx context.Context, access *domain.LinkAccess) error
}

// PurchaseRepository stores committed purchases
type PurchaseRepository interface {
	InsertPurchase(ctx context.Context, purchase *domain.Purchase) error
	ListPurchasesByLink(ctx context.Context, linkID string, limit, offset int) ([]*domain.Purchase, error)
}

// OutboxRepository defines the interface for outbox data access
type OutboxRepository interface {
	// InsertOutbox writes an event in the current transaction
	InsertOutbox(ctx context.Context, msg *domain.OutboxMessage) error

	// ClaimPendingOutbox returns pending messages, skipping rows locked by
	// another relay
	ClaimPendingOutbox(ctx context.Context, limit int) ([]*domain.OutboxMessage, error)

	// ClaimFailedOutbox returns failed messages that can still be retried
	ClaimFailedOutbox(ctx context.Context, limit int) ([]*domain.OutboxMessage, error)

	MarkOutboxPublished(ctx context.Context, id string, now time.Time) error
	MarkOutboxFailed(ctx context.Context, id, errMsg string, now time.Time) error

	// DeletePublishedOutbox removes published messages older than before
	DeletePublishedOutbox(ctx context.Context, before time.Time) (int64, error)
}

// Repository is the full set of queries available both on the pool and
// inside a transaction
type Repository interface {
	HoldRepository
	LinkRepository
	PurchaseRepository
	OutboxRepository
}

// TxFunc runs inside a transaction; returning an error rolls it back
type TxFunc func(ctx context.Context, tx Repository) error

// Store opens transactions and runs standalone queries
type Store interface {
	Repository

	// InTx runs fn in a single ACID transaction with a bounded lock wait
	InTx(ctx context.Context, fn TxFunc) error

	// Ping checks the backing store
	Ping(ctx context.Context) error
}
