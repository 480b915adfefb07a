package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/dto"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/service"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/middleware"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/response"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// RedemptionHandler handles purchase link redemptions
type RedemptionHandler struct {
	redemptionService service.RedemptionService
}

// NewRedemptionHandler creates a new redemption handler
func NewRedemptionHandler(redemptionService service.RedemptionService) *RedemptionHandler {
	return &RedemptionHandler{redemptionService: redemptionService}
}

// Redeem handles POST /links/:id/redeem where :id is the link code
func (h *RedemptionHandler) Redeem(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.redemption.redeem")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.RedeemRequest
	if !bindJSON(c, &req) {
		return
	}
	userID, _ := middleware.GetUserID(c)
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("items", len(req.Items)),
	)

	purchase, err := h.redemptionService.Redeem(ctx, req.ToDomain(c.Param("id"), userID))
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}
	span.SetAttributes(attribute.String("purchase_id", purchase.ID))
	response.Created(c, dto.FromPurchase(purchase))
}
