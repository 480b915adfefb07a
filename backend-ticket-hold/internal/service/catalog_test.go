package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTicketCatalog(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		switch r.URL.Path {
		case "/api/v1/ticket-definitions/1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"success":true,"data":{"id":1,"price_cents":1500}}`))
		case "/api/v1/ticket-definitions/2":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	catalog := NewHTTPTicketCatalog(server.URL, time.Second, time.Minute)
	ctx := context.Background()

	price, err := catalog.OriginalPrice(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), price)

	ok, err := catalog.Exists(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second lookup is served from cache")

	ok, err = catalog.Exists(ctx, 9)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = catalog.OriginalPrice(ctx, 9)
	assert.ErrorIs(t, err, ErrTicketDefinitionNotFound)

	_, err = catalog.OriginalPrice(ctx, 2)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTicketDefinitionNotFound)
}

func TestHTTPTicketCatalog_NoCacheWithoutTTL(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":1,"price_cents":10}}`))
	}))
	defer server.Close()

	catalog := NewHTTPTicketCatalog(server.URL, time.Second, 0)
	for i := 0; i < 3; i++ {
		_, err := catalog.OriginalPrice(context.Background(), 1)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestHTTPCouponEngine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/coupons/apply", r.URL.Path)

		var body applyCouponRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Code != "HALF" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		var subtotal int64
		for _, it := range body.Items {
			subtotal += it.LineTotalCents
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    CouponResult{DiscountCents: subtotal / 2, TotalCents: subtotal - subtotal/2},
		})
	}))
	defer server.Close()

	engine := NewHTTPCouponEngine(server.URL, time.Second)
	items := []domain.PurchaseItem{{TicketDefinitionID: 1, Quantity: 2, UnitPriceCents: 500, LineTotalCents: 1000}}

	res, err := engine.ApplyCoupon(context.Background(), "HALF", items)
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.DiscountCents)
	assert.Equal(t, int64(500), res.TotalCents)

	_, err = engine.ApplyCoupon(context.Background(), "NOPE", items)
	assert.ErrorIs(t, err, domain.ErrCouponNotApplicable)

	_, err = NewNoOpCouponEngine().ApplyCoupon(context.Background(), "HALF", items)
	assert.ErrorIs(t, err, domain.ErrCouponNotApplicable)
}

func TestStaticTicketCatalog(t *testing.T) {
	catalog := NewStaticTicketCatalog(map[int64]int64{1: 100})
	catalog.Set(2, 200)

	price, err := catalog.OriginalPrice(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(200), price)

	ok, _ := catalog.Exists(context.Background(), 3)
	assert.False(t, ok)
}
