// Package v1 provides the entity business logic for API version 1.
//
// Error Handling:
// Input that breaks a field type or business rule is reported as a
// *ValidationError, which matches ErrValidation. It is always returned
// before any store write. Upstream and store failures are the domain
// sentinels from internal/core/domain, wrapped with context.
//
// Error Checking (in handlers):
//
//	var verr *logicv1.ValidationError
//	switch {
//	case errors.As(err, &verr):
//	    c.JSON(http.StatusBadRequest, ...)
//	case errors.Is(err, domain.ErrConflict):
//	    c.JSON(http.StatusConflict, ...)
//	}
package v1

import (
	"errors"
	"fmt"
)

// ErrValidation matches every *ValidationError.
// HTTP Status: 400 Bad Request
var ErrValidation = errors.New("validation failed")

// Rules reported by ValidationError.
const (
	RuleRequired     = "required"
	RuleUnknownField = "unknown field"
	RuleReserved     = "reserved field"
	RuleType         = "invalid type"
	RuleNonZero      = "must not be zero"
	RuleEnvelope     = "must start with 3"
	RuleDate         = "invalid date"
)

// ValidationError names the offending field and the rule it broke.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Rule)
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, rule string) error {
	return &ValidationError{Field: field, Rule: rule}
}
