package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/clock"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/dto"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/service"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/response"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// HoldHandler handles ticket hold HTTP requests
type HoldHandler struct {
	holdService service.HoldService
	linkService service.LinkService
	clock       clock.Clock
}

// NewHoldHandler creates a new hold handler
func NewHoldHandler(holdService service.HoldService, linkService service.LinkService, clk clock.Clock) *HoldHandler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &HoldHandler{
		holdService: holdService,
		linkService: linkService,
		clock:       clk,
	}
}

// Create handles POST /holds
func (h *HoldHandler) Create(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.hold.create")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.CreateHoldRequest
	if !bindJSON(c, &req) {
		return
	}
	span.SetAttributes(
		attribute.Int64("event_occurrence_id", req.EventOccurrenceID),
		attribute.Int("allocations", len(req.Allocations)),
	)

	hold, err := h.holdService.CreateHold(ctx, &req)
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}
	response.Created(c, dto.FromHold(hold, h.clock.Now()))
}

// List handles GET /holds
func (h *HoldHandler) List(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.hold.list")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var q dto.HoldListQuery
	if !bindQuery(c, &q) {
		return
	}
	filter := q.ToFilter()

	holds, err := h.holdService.ListHolds(ctx, filter)
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}
	response.List(c, dto.FromHolds(holds, h.clock.Now()), filter.Limit, filter.Offset, len(holds))
}

// Get handles GET /holds/:id
func (h *HoldHandler) Get(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.hold.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	id := c.Param("id")
	span.SetAttributes(attribute.String("hold_id", id))

	hold, err := h.holdService.GetHold(ctx, id)
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromHold(hold, h.clock.Now()))
}

// Update handles PATCH /holds/:id
func (h *HoldHandler) Update(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.hold.update")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	id := c.Param("id")
	span.SetAttributes(attribute.String("hold_id", id))

	var req dto.UpdateHoldRequest
	if !bindJSON(c, &req) {
		return
	}

	hold, err := h.holdService.UpdateHold(ctx, id, &req)
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromHold(hold, h.clock.Now()))
}

// Release handles POST /holds/:id/release
func (h *HoldHandler) Release(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.hold.release")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	id := c.Param("id")
	span.SetAttributes(attribute.String("hold_id", id))

	hold, err := h.holdService.ReleaseHold(ctx, id)
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromHold(hold, h.clock.Now()))
}

// Availability handles GET /holds/:id/availability
func (h *HoldHandler) Availability(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.hold.availability")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	id := c.Param("id")
	var q dto.AvailabilityQuery
	if !bindQuery(c, &q) {
		return
	}

	available, err := h.holdService.CheckAvailability(ctx, id, q.TicketDefinitionID, q.Quantity)
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}
	response.Success(c, dto.AvailabilityResponse{
		TicketHoldID:       id,
		TicketDefinitionID: q.TicketDefinitionID,
		Quantity:           q.Quantity,
		Available:          available,
	})
}

// Links handles GET /holds/:id/links
func (h *HoldHandler) Links(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.hold.links")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	id := c.Param("id")
	links, err := h.linkService.ListLinksForHold(ctx, id)
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}
	response.List(c, dto.FromLinks(links, h.clock.Now()), len(links), 0, len(links))
}
