package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors
var (
	// Hold errors
	ErrHoldNotFound  = errors.New("ticket hold not found")
	ErrHoldNotActive = errors.New("ticket hold is not active")

	// Link errors
	ErrLinkNotFound             = errors.New("purchase link not found")
	ErrLinkNotUsable            = errors.New("purchase link is not usable")
	ErrLinkQuantityMismatch     = fmt.Errorf("%w: requested quantity must equal the link quantity", ErrLinkNotUsable)
	ErrLinkQuantityExceeded     = fmt.Errorf("%w: requested quantity exceeds the link limit", ErrLinkNotUsable)
	ErrUserNotAuthorizedForLink = errors.New("user is not authorized for this purchase link")
	ErrCodeGenerationFailed     = errors.New("could not generate a unique link code")

	// Inventory errors
	ErrUnknownHoldItem           = errors.New("ticket definition is not allocated in this hold")
	ErrInsufficientHoldInventory = errors.New("insufficient hold inventory")
	ErrInsufficientInventory     = errors.New("insufficient inventory")

	// Pricing errors
	ErrCouponNotApplicable = errors.New("coupon is not applicable")

	// Validation
	ErrValidation = errors.New("validation failed")

	// Infrastructure
	ErrLockTimeout = errors.New("timed out waiting for a row lock")
)

// FieldError describes one invalid input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every invalid field found in a request
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError creates a ValidationError with a single field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// Add appends a field error
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field failed
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InventoryShortfall identifies one item that could not be satisfied
type InventoryShortfall struct {
	TicketDefinitionID int64 `json:"ticket_definition_id"`
	Requested          int   `json:"requested"`
	Remaining          int   `json:"remaining"`
	Redeemed           int   `json:"redeemed,omitempty"`
}

// InsufficientInventoryError lists every failing item of a request
type InsufficientInventoryError struct {
	kind  error
	Items []InventoryShortfall
}

// NewInsufficientHoldInventoryError is raised when a redemption asks for more
// than an allocation has left.
func NewInsufficientHoldInventoryError(items []InventoryShortfall) *InsufficientInventoryError {
	return &InsufficientInventoryError{kind: ErrInsufficientHoldInventory, Items: items}
}

// NewInsufficientInventoryError is raised when a cap would drop below what
// has already been redeemed.
func NewInsufficientInventoryError(items []InventoryShortfall) *InsufficientInventoryError {
	return &InsufficientInventoryError{kind: ErrInsufficientInventory, Items: items}
}

func (e *InsufficientInventoryError) Error() string {
	if len(e.Items) == 0 {
		return e.kind.Error()
	}
	ids := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		ids = append(ids, fmt.Sprintf("%d", it.TicketDefinitionID))
	}
	return fmt.Sprintf("%s for ticket definitions [%s]", e.kind.Error(), strings.Join(ids, ", "))
}

func (e *InsufficientInventoryError) Is(target error) bool {
	return target == e.kind
}

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrHoldNotFound) || errors.Is(err, ErrLinkNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInventoryError checks for either inventory conflict
func IsInventoryError(err error) bool {
	return errors.Is(err, ErrInsufficientHoldInventory) || errors.Is(err, ErrInsufficientInventory)
}

// IsStateError checks if the error is caused by a hold or link state
func IsStateError(err error) bool {
	return errors.Is(err, ErrHoldNotActive) || errors.Is(err, ErrLinkNotUsable)
}

// IsRetryableError reports transient failures the caller may repeat
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// Code returns the stable machine readable code for err
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrHoldNotFound):
		return "hold_not_found"
	case errors.Is(err, ErrLinkNotFound):
		return "link_not_found"
	case errors.Is(err, ErrHoldNotActive):
		return "hold_not_active"
	case errors.Is(err, ErrLinkQuantityMismatch):
		return "link_quantity_mismatch"
	case errors.Is(err, ErrLinkQuantityExceeded):
		return "link_quantity_exceeded"
	case errors.Is(err, ErrLinkNotUsable):
		return "link_not_usable"
	case errors.Is(err, ErrUnknownHoldItem):
		return "unknown_item"
	case errors.Is(err, ErrUserNotAuthorizedForLink):
		return "user_not_authorized_for_link"
	case errors.Is(err, ErrInsufficientHoldInventory):
		return "insufficient_hold_inventory"
	case errors.Is(err, ErrInsufficientInventory):
		return "insufficient_inventory"
	case errors.Is(err, ErrCouponNotApplicable):
		return "coupon_not_applicable"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	}
	return "internal_error"
}
