package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLink(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)

	link, err := f.links.CreateLink(context.Background(), &dto.CreateLinkRequest{
		TicketHoldID:  hold.ID,
		Name:          "Press",
		QuantityMode:  "maximum",
		QuantityLimit: intPtr(4),
		Metadata:      json.RawMessage(`{"channel":"press"}`),
	})
	require.NoError(t, err)

	assert.Len(t, link.Code, DefaultCodeLength)
	assert.Equal(t, domain.LinkStatusActive, link.Status)
	assert.Equal(t, 0, link.RedeemedCount)

	byCode, err := f.links.GetLinkByCode(context.Background(), link.Code)
	require.NoError(t, err)
	assert.Equal(t, link.ID, byCode.ID)
}

func TestCreateLink_Validation(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)

	tests := []struct {
		name  string
		req   *dto.CreateLinkRequest
		field string
	}{
		{name: "fixed without limit", req: &dto.CreateLinkRequest{TicketHoldID: hold.ID, QuantityMode: "fixed"}, field: "quantity_limit"},
		{name: "unlimited with limit", req: &dto.CreateLinkRequest{TicketHoldID: hold.ID, QuantityMode: "unlimited", QuantityLimit: intPtr(2)}, field: "quantity_limit"},
		{name: "zero limit", req: &dto.CreateLinkRequest{TicketHoldID: hold.ID, QuantityMode: "maximum", QuantityLimit: intPtr(0)}, field: "quantity_limit"},
		{name: "bad mode", req: &dto.CreateLinkRequest{TicketHoldID: hold.ID, QuantityMode: "some"}, field: "quantity_mode"},
		{name: "metadata array", req: &dto.CreateLinkRequest{TicketHoldID: hold.ID, QuantityMode: "unlimited", Metadata: json.RawMessage(`[1]`)}, field: "metadata"},
		{name: "past expiry", req: &dto.CreateLinkRequest{TicketHoldID: hold.ID, QuantityMode: "unlimited", ExpiresAt: timePtr(testNow)}, field: "expires_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.links.CreateLink(context.Background(), tt.req)
			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}
}

func TestCreateLink_HoldMustBeActive(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)
	_, err := f.holds.ReleaseHold(context.Background(), hold.ID)
	require.NoError(t, err)

	_, err = f.links.CreateLink(context.Background(), &dto.CreateLinkRequest{TicketHoldID: hold.ID, QuantityMode: "unlimited"})
	assert.ErrorIs(t, err, domain.ErrHoldNotActive)

	_, err = f.links.CreateLink(context.Background(), &dto.CreateLinkRequest{TicketHoldID: "missing", QuantityMode: "unlimited"})
	assert.ErrorIs(t, err, domain.ErrHoldNotFound)
}

func TestCreateLink_RetriesCodeCollisions(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)

	codes := []string{"samecode", "samecode", "samecode", "samecode", "othercode"}
	calls := 0
	svc := NewLinkService(f.store, f.clock, &LinkServiceConfig{
		CodeMaxAttempts: 3,
		Generator: func(length int) (string, error) {
			c := codes[calls]
			calls++
			return c, nil
		},
	})

	first, err := svc.CreateLink(context.Background(), &dto.CreateLinkRequest{TicketHoldID: hold.ID, QuantityMode: "unlimited"})
	require.NoError(t, err)
	assert.Equal(t, "samecode", first.Code)

	_, err = svc.CreateLink(context.Background(), &dto.CreateLinkRequest{TicketHoldID: hold.ID, QuantityMode: "unlimited"})
	assert.ErrorIs(t, err, domain.ErrCodeGenerationFailed)
	assert.Equal(t, 4, calls)

	second, err := svc.CreateLink(context.Background(), &dto.CreateLinkRequest{TicketHoldID: hold.ID, QuantityMode: "unlimited"})
	require.NoError(t, err)
	assert.Equal(t, "othercode", second.Code)

	links, err := f.links.ListLinksForHold(context.Background(), hold.ID)
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestUpdateLink(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)
	link := f.createLink(t, hold.ID, "maximum", intPtr(5))
	_, err := f.redeem(link.Code, "7", item(1, 3))
	require.NoError(t, err)

	t.Run("limit below redeemed", func(t *testing.T) {
		_, err := f.links.UpdateLink(context.Background(), link.ID, &dto.UpdateLinkRequest{QuantityLimit: intPtr(2)})
		assert.ErrorIs(t, err, domain.ErrInsufficientInventory)
		assert.Equal(t, "insufficient_inventory", domain.Code(err))
	})

	t.Run("assign and rename", func(t *testing.T) {
		updated, err := f.links.UpdateLink(context.Background(), link.ID, &dto.UpdateLinkRequest{
			Name:           strPtr("VIP"),
			AssignedUserID: strPtr("42"),
		})
		require.NoError(t, err)
		assert.Equal(t, "VIP", updated.Name)
		require.NotNil(t, updated.AssignedUserID)
		assert.Equal(t, "42", *updated.AssignedUserID)
		assert.Equal(t, 3, updated.RedeemedCount)
	})

	t.Run("clear assignment", func(t *testing.T) {
		updated, err := f.links.UpdateLink(context.Background(), link.ID, &dto.UpdateLinkRequest{AssignedUserID: strPtr("")})
		require.NoError(t, err)
		assert.Nil(t, updated.AssignedUserID)
	})

	t.Run("limit equal to redeemed exhausts", func(t *testing.T) {
		updated, err := f.links.UpdateLink(context.Background(), link.ID, &dto.UpdateLinkRequest{QuantityLimit: intPtr(3)})
		require.NoError(t, err)
		assert.Equal(t, domain.LinkStatusExhausted, updated.Status)
	})

	t.Run("exhausted link is not usable", func(t *testing.T) {
		_, err := f.links.UpdateLink(context.Background(), link.ID, &dto.UpdateLinkRequest{Name: strPtr("late")})
		assert.ErrorIs(t, err, domain.ErrLinkNotUsable)
	})
}

func TestUpdateLink_SwitchToUnlimitedDropsLimit(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)
	link := f.createLink(t, hold.ID, "fixed", intPtr(2))

	updated, err := f.links.UpdateLink(context.Background(), link.ID, &dto.UpdateLinkRequest{QuantityMode: strPtr("unlimited")})
	require.NoError(t, err)
	assert.Equal(t, domain.QuantityModeUnlimited, updated.QuantityMode)
	assert.Nil(t, updated.QuantityLimit)

	_, err = f.links.UpdateLink(context.Background(), link.ID, &dto.UpdateLinkRequest{QuantityMode: strPtr("maximum")})
	assert.True(t, domain.IsValidationError(err))
}

func TestUpdateLink_PastExpiryIsNotUsable(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)
	link, err := f.links.CreateLink(context.Background(), &dto.CreateLinkRequest{
		TicketHoldID: hold.ID,
		QuantityMode: "unlimited",
		ExpiresAt:    timePtr(testNow.Add(time.Minute)),
	})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	_, err = f.links.UpdateLink(context.Background(), link.ID, &dto.UpdateLinkRequest{Name: strPtr("x")})
	assert.ErrorIs(t, err, domain.ErrLinkNotUsable)
}

func TestRevokeLink_Idempotent(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)
	link := f.createLink(t, hold.ID, "unlimited", nil)

	first, err := f.links.RevokeLink(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LinkStatusRevoked, first.Status)

	second, err := f.links.RevokeLink(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LinkStatusRevoked, second.Status)

	revoked := 0
	for _, typ := range f.outboxTypes() {
		if typ == domain.EventLinkRevoked {
			revoked++
		}
	}
	assert.Equal(t, 1, revoked)

	_, err = f.redeem(link.Code, "7", item(1, 1))
	assert.ErrorIs(t, err, domain.ErrLinkNotUsable)

	_, err = f.links.RevokeLink(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrLinkNotFound)
}

func TestRecordAccess(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)
	link, err := f.links.CreateLink(context.Background(), &dto.CreateLinkRequest{
		TicketHoldID:   hold.ID,
		QuantityMode:   "unlimited",
		AssignedUserID: strPtr("42"),
	})
	require.NoError(t, err)

	got, err := f.links.RecordAccess(context.Background(), link.Code, AccessInfo{UserID: "42", IPAddress: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)
	assert.Equal(t, link.ID, got.ID)

	_, err = f.links.RecordAccess(context.Background(), link.Code, AccessInfo{UserID: "7"})
	assert.ErrorIs(t, err, domain.ErrUserNotAuthorizedForLink)

	accesses := f.store.Accesses(link.ID)
	require.Len(t, accesses, 2)
	assert.Equal(t, "10.0.0.1", accesses[0].IPAddress)
	require.NotNil(t, accesses[1].UserID)
	assert.Equal(t, "7", *accesses[1].UserID)

	stored, _ := f.store.GetLink(context.Background(), link.ID)
	assert.Equal(t, domain.LinkStatusActive, stored.Status)

	_, err = f.links.RecordAccess(context.Background(), "nope", AccessInfo{})
	assert.ErrorIs(t, err, domain.ErrLinkNotFound)
}

func TestExpireDueLinks(t *testing.T) {
	f := newFixture(t)
	hold := f.createHold(t)
	link, err := f.links.CreateLink(context.Background(), &dto.CreateLinkRequest{
		TicketHoldID: hold.ID,
		QuantityMode: "unlimited",
		ExpiresAt:    timePtr(testNow.Add(time.Minute)),
	})
	require.NoError(t, err)
	f.createLink(t, hold.ID, "unlimited", nil)

	f.clock.Advance(2 * time.Minute)
	n, err := f.links.ExpireDueLinks(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := f.store.GetLink(context.Background(), link.ID)
	assert.Equal(t, domain.LinkStatusExpired, got.Status)

	n, err = f.links.ExpireDueLinks(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := GenerateCode(16)
		require.NoError(t, err)
		require.Len(t, code, 16)
		for _, r := range code {
			if !strings.ContainsRune(codeAlphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
		seen[code] = struct{}{}
	}
	assert.Len(t, seen, 200)

	code, err := GenerateCode(0)
	require.NoError(t, err)
	assert.Len(t, code, DefaultCodeLength)
}
