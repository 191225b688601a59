/*
errors.go - Centralized error types for the loan engine

PURPOSE:
  All error types in one place. The taxonomy matters: the API layer maps
  each category to an HTTP status, and nothing downstream should have to
  string-match messages.

ERROR CATEGORIES:
  1. Validation errors - malformed input, rejected before any mutation
  2. Conflict errors   - business rule violations, no partial effect
  3. Not-found errors  - missing customer/loan/payment/user
  4. Integrity errors  - audit chain mismatch, reported never auto-repaired

USAGE:
  if errors.Is(err, engine.ErrConflict) { ... }
  var v *engine.ValidationError
  if errors.As(err, &v) { ... }
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all input validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is the root of all business rule conflicts: duplicate
	// active customer, existing open loan, paying a paid installment,
	// unmarking a locked one.
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the actor's role does not carry the
	// capability for the requested action.
	ErrForbidden = errors.New("forbidden")

	// ErrIntegrity is returned when audit chain verification fails.
	ErrIntegrity = errors.New("audit integrity violation")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError carries the offending field and a human-readable message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError describes a state machine rule that blocked the operation.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Unwrap() error { return ErrConflict }

func Conflictf(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the entity kind and id that could not be resolved.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NotFoundf(entity EntityType, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ForbiddenError names the action the actor's role is not allowed to take.
type ForbiddenError struct {
	Action Action
	Role   Role
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not perform %s", e.Role, e.Action)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is the caller's fault (4xx).
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden)
}
