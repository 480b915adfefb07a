package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
)

// MemoryStore is an in-process Store. Transactions are serialized by a
// single mutex and work on a copy of the state that replaces the live state
// only when fn succeeds, so a failed transaction leaves nothing behind.
type MemoryStore struct {
	*memRepo
	mu sync.Mutex
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.memRepo = &memRepo{st: newMemState(), mu: &s.mu}
	return s
}

// InTx runs fn against a snapshot and commits it on success
func (s *MemoryStore) InTx(ctx context.Context, fn TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.st.clone()
	if err := fn(ctx, &memRepo{st: snapshot}); err != nil {
		return err
	}
	*s.st = *snapshot
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Outbox returns a copy of every outbox message, oldest first
func (s *MemoryStore) Outbox() []*domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.OutboxMessage, 0, len(s.st.outbox))
	for _, m := range s.st.outbox {
		cp := *m
		out = append(out, &cp)
	}
	return out
}

// Accesses returns the access log of a link
func (s *MemoryStore) Accesses(linkID string) []domain.LinkAccess {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.LinkAccess
	for _, a := range s.st.accesses {
		if a.PurchaseLinkID == linkID {
			out = append(out, a)
		}
	}
	return out
}

type memState struct {
	holds     map[string]*domain.TicketHold
	links     map[string]*domain.PurchaseLink
	purchases []*domain.Purchase
	accesses  []domain.LinkAccess
	outbox    []*domain.OutboxMessage
}

func newMemState() *memState {
	return &memState{
		holds: make(map[string]*domain.TicketHold),
		links: make(map[string]*domain.PurchaseLink),
	}
}

func (st *memState) clone() *memState {
	cp := newMemState()
	for id, h := range st.holds {
		cp.holds[id] = cloneHold(h)
	}
	for id, l := range st.links {
		cp.links[id] = cloneLink(l)
	}
	cp.purchases = append(cp.purchases, st.purchases...)
	cp.accesses = append(cp.accesses, st.accesses...)
	for _, m := range st.outbox {
		c := *m
		cp.outbox = append(cp.outbox, &c)
	}
	return cp
}

// memRepo implements Repository over a memState. mu is set only for the
// store's standalone queries; inside InTx the store already holds it.
type memRepo struct {
	st *memState
	mu *sync.Mutex
}

func (r *memRepo) lock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func cloneHold(h *domain.TicketHold) *domain.TicketHold {
	cp := *h
	cp.Allocations = make([]*domain.Allocation, 0, len(h.Allocations))
	for _, a := range h.Allocations {
		ac := *a
		cp.Allocations = append(cp.Allocations, &ac)
	}
	return &cp
}

func cloneLink(l *domain.PurchaseLink) *domain.PurchaseLink {
	cp := *l
	if l.Metadata != nil {
		cp.Metadata = append(json.RawMessage(nil), l.Metadata...)
	}
	return &cp
}

func clonePurchase(p *domain.Purchase) *domain.Purchase {
	cp := *p
	cp.Items = append([]domain.PurchaseItem(nil), p.Items...)
	return &cp
}

func (r *memRepo) CreateHold(ctx context.Context, hold *domain.TicketHold) error {
	defer r.lock()()
	if hold.ID == "" {
		hold.ID = uuid.New().String()
	}
	for _, a := range hold.Allocations {
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		a.TicketHoldID = hold.ID
	}
	stored := cloneHold(hold)
	domain.SortAllocations(stored.Allocations)
	r.st.holds[hold.ID] = stored
	return nil
}

func (r *memRepo) GetHold(ctx context.Context, id string) (*domain.TicketHold, error) {
	defer r.lock()()
	h, ok := r.st.holds[id]
	if !ok {
		return nil, domain.ErrHoldNotFound
	}
	return cloneHold(h), nil
}

func (r *memRepo) LockHold(ctx context.Context, id string) (*domain.TicketHold, error) {
	h, err := r.GetHold(ctx, id)
	if err != nil {
		return nil, err
	}
	h.Allocations = nil
	return h, nil
}

func (r *memRepo) LockAllocations(ctx context.Context, holdID string) ([]*domain.Allocation, error) {
	h, err := r.GetHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	return h.Allocations, nil
}

func (r *memRepo) ListHolds(ctx context.Context, filter domain.HoldFilter) ([]*domain.TicketHold, error) {
	defer r.lock()()
	var out []*domain.TicketHold
	for _, h := range r.st.holds {
		if filter.EventOccurrenceID != nil && h.EventOccurrenceID != *filter.EventOccurrenceID {
			continue
		}
		if filter.OrganizerID != nil && (h.OrganizerID == nil || *h.OrganizerID != *filter.OrganizerID) {
			continue
		}
		if filter.Status != nil && h.Status != *filter.Status {
			continue
		}
		out = append(out, cloneHold(h))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (r *memRepo) UpdateHoldHeader(ctx context.Context, hold *domain.TicketHold) error {
	defer r.lock()()
	h, ok := r.st.holds[hold.ID]
	if !ok {
		return domain.ErrHoldNotFound
	}
	h.Name = hold.Name
	h.Description = hold.Description
	h.InternalNotes = hold.InternalNotes
	h.ExpiresAt = hold.ExpiresAt
	h.UpdatedAt = hold.UpdatedAt
	return nil
}

func (r *memRepo) ReplaceAllocations(ctx context.Context, holdID string, allocations []*domain.Allocation) error {
	defer r.lock()()
	h, ok := r.st.holds[holdID]
	if !ok {
		return domain.ErrHoldNotFound
	}
	h.Allocations = make([]*domain.Allocation, 0, len(allocations))
	for _, a := range allocations {
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		a.TicketHoldID = holdID
		ac := *a
		h.Allocations = append(h.Allocations, &ac)
	}
	domain.SortAllocations(h.Allocations)
	return nil
}

func (r *memRepo) TransitionHold(ctx context.Context, id string, from, to domain.HoldStatus, now time.Time) (bool, error) {
	defer r.lock()()
	h, ok := r.st.holds[id]
	if !ok || h.Status != from {
		return false, nil
	}
	h.Status = to
	h.UpdatedAt = now
	return true, nil
}

func (r *memRepo) IncrementAllocation(ctx context.Context, holdID string, ticketDefinitionID int64, quantity int) (bool, error) {
	defer r.lock()()
	h, ok := r.st.holds[holdID]
	if !ok {
		return false, nil
	}
	a, ok := h.Allocation(ticketDefinitionID)
	if !ok || a.RedeemedCount+quantity > a.AllocatedQuantity {
		return false, nil
	}
	a.RedeemedCount += quantity
	return true, nil
}

func (r *memRepo) ListDueHoldIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	defer r.lock()()
	var due []*domain.TicketHold
	for _, h := range r.st.holds {
		if h.Status == domain.HoldStatusActive && h.IsPastExpiry(now) {
			due = append(due, h)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(*due[j].ExpiresAt) })
	due = paginate(due, limit, 0)

	ids := make([]string, 0, len(due))
	for _, h := range due {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

func (r *memRepo) CreateLink(ctx context.Context, link *domain.PurchaseLink) error {
	defer r.lock()()
	for _, l := range r.st.links {
		if l.Code == link.Code {
			return ErrDuplicateCode
		}
	}
	if link.ID == "" {
		link.ID = uuid.New().String()
	}
	r.st.links[link.ID] = cloneLink(link)
	return nil
}

func (r *memRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	_, err := r.GetLinkByCode(ctx, code)
	if errors.Is(err, domain.ErrLinkNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *memRepo) GetLink(ctx context.Context, id string) (*domain.PurchaseLink, error) {
	defer r.lock()()
	l, ok := r.st.links[id]
	if !ok {
		return nil, domain.ErrLinkNotFound
	}
	return cloneLink(l), nil
}

func (r *memRepo) GetLinkByCode(ctx context.Context, code string) (*domain.PurchaseLink, error) {
	defer r.lock()()
	for _, l := range r.st.links {
		if l.Code == code {
			return cloneLink(l), nil
		}
	}
	return nil, domain.ErrLinkNotFound
}

func (r *memRepo) LockLink(ctx context.Context, id string) (*domain.PurchaseLink, error) {
	return r.GetLink(ctx, id)
}

func (r *memRepo) LockLinkByCode(ctx context.Context, code string) (*domain.PurchaseLink, error) {
	return r.GetLinkByCode(ctx, code)
}

func (r *memRepo) ListLinksByHold(ctx context.Context, holdID string) ([]*domain.PurchaseLink, error) {
	defer r.lock()()
	var out []*domain.PurchaseLink
	for _, l := range r.st.links {
		if l.TicketHoldID == holdID {
			out = append(out, cloneLink(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memRepo) UpdateLink(ctx context.Context, link *domain.PurchaseLink) error {
	defer r.lock()()
	l, ok := r.st.links[link.ID]
	if !ok || l.Status != domain.LinkStatusActive {
		return domain.ErrLinkNotUsable
	}
	updated := cloneLink(link)
	updated.Status = l.Status
	updated.RedeemedCount = l.RedeemedCount
	updated.Code = l.Code
	updated.TicketHoldID = l.TicketHoldID
	updated.CreatedAt = l.CreatedAt
	r.st.links[link.ID] = updated
	return nil
}

func (r *memRepo) TransitionLink(ctx context.Context, id string, from, to domain.LinkStatus, now time.Time) (bool, error) {
	defer r.lock()()
	l, ok := r.st.links[id]
	if !ok || l.Status != from {
		return false, nil
	}
	l.Status = to
	l.UpdatedAt = now
	return true, nil
}

func (r *memRepo) IncrementLink(ctx context.Context, id string, quantity int, now time.Time) (bool, error) {
	defer r.lock()()
	l, ok := r.st.links[id]
	if !ok {
		return false, nil
	}
	if l.QuantityLimit != nil && l.RedeemedCount+quantity > *l.QuantityLimit {
		return false, nil
	}
	l.RedeemedCount += quantity
	l.UpdatedAt = now
	return true, nil
}

func (r *memRepo) ListDueLinkIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	defer r.lock()()
	var due []*domain.PurchaseLink
	for _, l := range r.st.links {
		if l.Status == domain.LinkStatusActive && l.IsPastExpiry(now) {
			due = append(due, l)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(*due[j].ExpiresAt) })
	due = paginate(due, limit, 0)

	ids := make([]string, 0, len(due))
	for _, l := range due {
		ids = append(ids, l.ID)
	}
	return ids, nil
}

func (r *memRepo) InsertAccess(ctx context.Context, access *domain.LinkAccess) error {
	defer r.lock()()
	if access.ID == "" {
		access.ID = uuid.New().String()
	}
	r.st.accesses = append(r.st.accesses, *access)
	return nil
}

func (r *memRepo) InsertPurchase(ctx context.Context, p *domain.Purchase) error {
	defer r.lock()()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	r.st.purchases = append(r.st.purchases, clonePurchase(p))
	return nil
}

func (r *memRepo) ListPurchasesByLink(ctx context.Context, linkID string, limit, offset int) ([]*domain.Purchase, error) {
	defer r.lock()()
	var out []*domain.Purchase
	for i := len(r.st.purchases) - 1; i >= 0; i-- {
		if p := r.st.purchases[i]; p.PurchaseLinkID == linkID {
			out = append(out, clonePurchase(p))
		}
	}
	return paginate(out, limit, offset), nil
}

func (r *memRepo) InsertOutbox(ctx context.Context, msg *domain.OutboxMessage) error {
	defer r.lock()()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	cp := *msg
	r.st.outbox = append(r.st.outbox, &cp)
	return nil
}

func (r *memRepo) claimOutbox(limit int, match func(*domain.OutboxMessage) bool) []*domain.OutboxMessage {
	var out []*domain.OutboxMessage
	for _, m := range r.st.outbox {
		if match(m) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return paginate(out, limit, 0)
}

func (r *memRepo) ClaimPendingOutbox(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	defer r.lock()()
	return r.claimOutbox(limit, func(m *domain.OutboxMessage) bool {
		return m.Status == domain.OutboxStatusPending
	}), nil
}

func (r *memRepo) ClaimFailedOutbox(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	defer r.lock()()
	return r.claimOutbox(limit, func(m *domain.OutboxMessage) bool {
		return m.CanRetry()
	}), nil
}

func (r *memRepo) findOutbox(id string) *domain.OutboxMessage {
	for _, m := range r.st.outbox {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (r *memRepo) MarkOutboxPublished(ctx context.Context, id string, now time.Time) error {
	defer r.lock()()
	if m := r.findOutbox(id); m != nil {
		m.MarkAsPublished(now)
	}
	return nil
}

func (r *memRepo) MarkOutboxFailed(ctx context.Context, id, errMsg string, now time.Time) error {
	defer r.lock()()
	if m := r.findOutbox(id); m != nil {
		m.MarkAsFailed(errMsg, now)
	}
	return nil
}

func (r *memRepo) DeletePublishedOutbox(ctx context.Context, before time.Time) (int64, error) {
	defer r.lock()()
	kept := r.st.outbox[:0]
	var deleted int64
	for _, m := range r.st.outbox {
		if m.Status == domain.OutboxStatusPublished && m.PublishedAt != nil && m.PublishedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, m)
	}
	r.st.outbox = kept
	return deleted, nil
}

var _ Store = (*MemoryStore)(nil)
