package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// CouponResult is the outcome of applying a coupon to priced items
type CouponResult struct {
	DiscountCents int64 `json:"discount_cents"`
	TotalCents    int64 `json:"total_cents"`
}

// CouponEngine applies coupon codes; a code that does not apply returns
// domain.ErrCouponNotApplicable
type CouponEngine interface {
	ApplyCoupon(ctx context.Context, code string, items []domain.PurchaseItem) (*CouponResult, error)
}

// HTTPCouponEngine delegates to the coupon service
type HTTPCouponEngine struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPCouponEngine creates a new HTTP coupon engine
func NewHTTPCouponEngine(couponServiceURL string, timeout time.Duration) *HTTPCouponEngine {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPCouponEngine{
		baseURL: couponServiceURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type applyCouponRequest struct {
	Code  string                `json:"code"`
	Items []domain.PurchaseItem `json:"items"`
}

// ApplyCoupon posts the priced items to the coupon service
func (e *HTTPCouponEngine) ApplyCoupon(ctx context.Context, code string, items []domain.PurchaseItem) (*CouponResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "client.coupon.apply")
	defer span.End()
	span.SetAttributes(attribute.String("coupon_code", code), attribute.Int("items", len(items)))

	body, err := json.Marshal(applyCouponRequest{Code: code, Items: items})
	if err != nil {
		return nil, fmt.Errorf("failed to encode coupon request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/coupons/apply", e.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to apply coupon: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusUnprocessableEntity:
		return nil, domain.ErrCouponNotApplicable
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("coupon service error (status %d): %s", resp.StatusCode, string(msg))
	}

	var response struct {
		Success bool         `json:"success"`
		Data    CouponResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !response.Success {
		return nil, domain.ErrCouponNotApplicable
	}
	return &response.Data, nil
}

// NoOpCouponEngine is used when no coupon service is configured; every
// code is rejected
type NoOpCouponEngine struct{}

// NewNoOpCouponEngine creates a new no-op coupon engine
func NewNoOpCouponEngine() *NoOpCouponEngine {
	return &NoOpCouponEngine{}
}

func (NoOpCouponEngine) ApplyCoupon(ctx context.Context, code string, items []domain.PurchaseItem) (*CouponResult, error) {
	return nil, domain.ErrCouponNotApplicable
}
