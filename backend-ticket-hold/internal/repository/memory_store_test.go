package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedHold(t *testing.T, s Store, quantity int) *domain.TicketHold {
	t.Helper()
	alloc, err := domain.NewAllocation(1, quantity, domain.OriginalPricing())
	require.NoError(t, err)

	hold := &domain.TicketHold{
		EventOccurrenceID: 10,
		Name:              "VIP block",
		Status:            domain.HoldStatusActive,
		Allocations:       []*domain.Allocation{alloc},
		CreatedAt:         testNow,
		UpdatedAt:         testNow,
	}
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx Repository) error {
		return tx.CreateHold(ctx, hold)
	}))
	return hold
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	s := NewMemoryStore()
	hold := seedHold(t, s, 5)
	boom := errors.New("boom")

	err := s.InTx(context.Background(), func(ctx context.Context, tx Repository) error {
		ok, err := tx.IncrementAllocation(ctx, hold.ID, 1, 3)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetHold(context.Background(), hold.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Allocations[0].RedeemedCount)
}

func TestMemoryStore_IncrementAllocationRespectsCap(t *testing.T) {
	s := NewMemoryStore()
	hold := seedHold(t, s, 2)
	ctx := context.Background()

	ok, err := s.IncrementAllocation(ctx, hold.ID, 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IncrementAllocation(ctx, hold.ID, 1, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.IncrementAllocation(ctx, hold.ID, 99, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_TransitionIsConditional(t *testing.T) {
	s := NewMemoryStore()
	hold := seedHold(t, s, 1)
	ctx := context.Background()

	ok, err := s.TransitionHold(ctx, hold.ID, domain.HoldStatusActive, domain.HoldStatusReleased, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionHold(ctx, hold.ID, domain.HoldStatusActive, domain.HoldStatusExpired, testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := s.GetHold(ctx, hold.ID)
	assert.Equal(t, domain.HoldStatusReleased, got.Status)
}

func TestMemoryStore_LinkCodesAreUnique(t *testing.T) {
	s := NewMemoryStore()
	hold := seedHold(t, s, 1)
	ctx := context.Background()
	limit := 2

	first := &domain.PurchaseLink{Code: "abc", TicketHoldID: hold.ID, QuantityMode: domain.QuantityModeFixed, QuantityLimit: &limit, Status: domain.LinkStatusActive}
	require.NoError(t, s.CreateLink(ctx, first))

	err := s.CreateLink(ctx, &domain.PurchaseLink{Code: "abc", TicketHoldID: hold.ID})
	assert.ErrorIs(t, err, ErrDuplicateCode)

	exists, err := s.CodeExists(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, exists)

	ok, err := s.IncrementLink(ctx, first.ID, 3, testNow)
	require.NoError(t, err)
	assert.False(t, ok, "increment past quantity_limit must fail")
}

func TestMemoryStore_ListDue(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)

	for _, exp := range []*time.Time{&past, &future, nil} {
		h := &domain.TicketHold{Status: domain.HoldStatusActive, ExpiresAt: exp}
		require.NoError(t, s.CreateHold(ctx, h))
	}

	ids, err := s.ListDueHoldIDs(ctx, testNow, 10)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestMemoryStore_Outbox(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	hold := &domain.TicketHold{ID: "h1", Status: domain.HoldStatusActive}

	msg, err := domain.HoldOutboxEvent(domain.EventHoldCreated, hold, "", "", testNow)
	require.NoError(t, err)
	require.NoError(t, s.InsertOutbox(ctx, msg))

	pending, err := s.ClaimPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.MarkOutboxPublished(ctx, msg.ID, testNow))
	pending, _ = s.ClaimPendingOutbox(ctx, 10)
	assert.Empty(t, pending)

	deleted, err := s.DeletePublishedOutbox(ctx, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Empty(t, s.Outbox())
}
