package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/clock"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/dto"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/service"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/middleware"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/response"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// LinkHandler handles purchase link HTTP requests
type LinkHandler struct {
	linkService service.LinkService
	clock       clock.Clock
}

// NewLinkHandler creates a new link handler
func NewLinkHandler(linkService service.LinkService, clk clock.Clock) *LinkHandler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &LinkHandler{linkService: linkService, clock: clk}
}

// Create handles POST /links
func (h *LinkHandler) Create(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.link.create")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.CreateLinkRequest
	if !bindJSON(c, &req) {
		return
	}
	span.SetAttributes(attribute.String("hold_id", req.TicketHoldID))

	link, err := h.linkService.CreateLink(ctx, &req)
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}
	response.Created(c, dto.FromLink(link, h.clock.Now()))
}

// Get handles GET /links/:id
func (h *LinkHandler) Get(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.link.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	link, err := h.linkService.GetLink(ctx, c.Param("id"))
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromLink(link, h.clock.Now()))
}

// Update handles PATCH /links/:id
func (h *LinkHandler) Update(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.link.update")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	id := c.Param("id")
	span.SetAttributes(attribute.String("link_id", id))

	var req dto.UpdateLinkRequest
	if !bindJSON(c, &req) {
		return
	}

	link, err := h.linkService.UpdateLink(ctx, id, &req)
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromLink(link, h.clock.Now()))
}

// Revoke handles DELETE /links/:id
func (h *LinkHandler) Revoke(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.link.revoke")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	id := c.Param("id")
	span.SetAttributes(attribute.String("link_id", id))

	link, err := h.linkService.RevokeLink(ctx, id)
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromLink(link, h.clock.Now()))
}

// Purchases handles GET /links/:id/purchases
func (h *LinkHandler) Purchases(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.link.purchases")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var q dto.PageQuery
	if !bindQuery(c, &q) {
		return
	}
	limit := q.LimitOrDefault()

	purchases, err := h.linkService.ListPurchasesForLink(ctx, c.Param("id"), limit, q.Offset)
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}
	response.List(c, dto.FromPurchases(purchases), limit, q.Offset, len(purchases))
}

// View handles GET /links/:id/view where :id is the link code. Every view
// is logged, including ones rejected for a different assignee.
func (h *LinkHandler) View(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.link.view")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, _ := middleware.GetUserID(c)
	link, err := h.linkService.RecordAccess(ctx, c.Param("id"), service.AccessInfo{
		UserID:    userID,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromLinkPublic(link, h.clock.Now()))
}
