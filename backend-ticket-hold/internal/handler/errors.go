package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/dto"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/logger"
	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/response"
	"go.uber.org/zap"
)

// retryAfterSeconds is sent with lock timeouts
const retryAfterSeconds = "1"

var statusByCode = map[string]int{
	"validation_failed":            http.StatusUnprocessableEntity,
	"hold_not_found":               http.StatusNotFound,
	"link_not_found":               http.StatusNotFound,
	"hold_not_active":              http.StatusUnprocessableEntity,
	"link_not_usable":              http.StatusUnprocessableEntity,
	"link_quantity_mismatch":       http.StatusUnprocessableEntity,
	"link_quantity_exceeded":       http.StatusUnprocessableEntity,
	"unknown_item":                 http.StatusUnprocessableEntity,
	"user_not_authorized_for_link": http.StatusForbidden,
	"insufficient_hold_inventory":  http.StatusConflict,
	"insufficient_inventory":       http.StatusConflict,
	"coupon_not_applicable":        http.StatusUnprocessableEntity,
	"lock_timeout":                 http.StatusServiceUnavailable,
}

// handleError maps domain errors to HTTP responses
func handleError(c *gin.Context, err error) {
	code := domain.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		logger.Get().ErrorContext(c.Request.Context(), "request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.InternalError(c)
		return
	}

	if code == "lock_timeout" {
		c.Header("Retry-After", retryAfterSeconds)
		response.Retryable(c, status, code, "The resource is busy, please retry")
		return
	}

	var details interface{}
	var verr *domain.ValidationError
	var inv *domain.InsufficientInventoryError
	switch {
	case errors.As(err, &verr):
		details = verr.Fields
	case errors.As(err, &inv):
		details = inv.Items
	}
	response.Error(c, status, code, err.Error(), details)
}

// bindJSON binds the body into req, writing a 422 on failure
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		handleError(c, dto.BindError(err))
		return false
	}
	return true
}

// bindQuery binds the query string into req, writing a 422 on failure
func bindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		handleError(c, dto.BindError(err))
		return false
	}
	return true
}
