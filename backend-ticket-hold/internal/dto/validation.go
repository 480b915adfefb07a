package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
)

// BindError converts a gin binding failure into a field level
// ValidationError. Malformed JSON becomes a single "body" entry.
func BindError(err error) *domain.ValidationError {
	verr := &domain.ValidationError{}

	var ves validator.ValidationErrors
	if errors.As(err, &ves) {
		for _, fe := range ves {
			verr.Add(fieldPath(fe), describe(fe))
		}
		return verr
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		verr.Add(typeErr.Field, fmt.Sprintf("must be of type %s", typeErr.Type.String()))
		return verr
	}

	verr.Add("body", err.Error())
	return verr
}

// fieldPath turns "CreateHoldRequest.Allocations[0].PricingMode" into
// "allocations[0].pricing_mode"
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	parts := strings.Split(ns, ".")
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] != '[' {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return strings.ReplaceAll(b.String(), "_i_d", "_id")
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if", "required_unless":
		return "is required for the selected mode"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "uuid":
		return "must be a valid uuid"
	}
	return "is invalid"
}
