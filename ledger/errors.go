/*
errors.go - Centralized error types for the ledger domain

PURPOSE:
  All domain-correctness errors in one place. The API layer maps them to
  HTTP status codes; infrastructure failures (cache, push, broadcast) never
  use these types because they are absorbed where they happen.

ERROR CATEGORIES:
  1. Validation - malformed input or foreign-entity references (400)
  2. NotFound   - absent or not owned by the caller (404)
  3. Conflict   - uniqueness violations, last-account deletion (409)

USAGE:
  if errors.Is(err, ledger.ErrNotFound) { ... }

  var verr *ledger.ValidationError
  if errors.As(err, &verr) { fields := verr.Fields }

SEE ALSO:
  - validate.go: produces ValidationError
  - store/sqlite: maps constraint failures to ErrConflict
*/
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when an entity is absent or belongs to another user.
	// The two cases are indistinguishable on purpose.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when input is rejected before any mutation.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned on uniqueness violations.
	ErrConflict = errors.New("conflict")

	// ErrLastAccount is returned when deleting the user's only account.
	ErrLastAccount = fmt.Errorf("%w: cannot delete the last account", ErrConflict)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError carries field-level detail.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Add records a problem with field. Returns e for chaining.
func (e *ValidationError) Add(field, msg string) *ValidationError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
	return e
}

// OrNil returns nil when no field failed, so callers can `return v.OrNil()`.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// FieldError is shorthand for a single-field ValidationError.
func FieldError(field, msg string) error {
	return (&ValidationError{}).Add(field, msg)
}

// ConflictError describes which uniqueness rule was violated. Field and
// Message, when set, point the client at the offending input.
type ConflictError struct {
	Resource string
	Reason   string
	Field    string
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Reason)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound)
}
