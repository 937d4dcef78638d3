/*
errors.go - Centralized error types for the payroll engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context; the API layer
  maps them to HTTP statuses with the helpers at the bottom of this file.

ERROR CATEGORIES:
  1. Validation errors - malformed input, caught before any write
  2. Guard violations - operation attempted from a status that forbids it
  3. Not found - referenced record missing (per-employee failure in bulk runs)
  4. Persistence errors - duplicates, lost compare-and-set, store failures
  5. Idempotency - accrual already recorded for an employee/month

USAGE:
  if errors.Is(err, generic.ErrInvalidTransition) {
      // expected user-facing condition, not a system error
  }

  var guard *generic.GuardError
  if errors.As(err, &guard) {
      fmt.Println(guard.Current, guard.Allowed)
  }
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is the parent of every "record missing" error.
	ErrNotFound = errors.New("not found")

	ErrEmployeeNotFound = fmt.Errorf("employee %w", ErrNotFound)
	ErrPeriodNotFound   = fmt.Errorf("payroll period %w", ErrNotFound)
	ErrItemNotFound     = fmt.Errorf("item %w", ErrNotFound)
	ErrCycleNotFound    = fmt.Errorf("benefit cycle %w", ErrNotFound)
	ErrTypeNotFound     = fmt.Errorf("type %w", ErrNotFound)

	// ErrDuplicate is returned when a uniqueness constraint would be violated.
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidTransition is returned when a status guard rejects an operation.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrValidation is returned when input fails field validation.
	ErrValidation = errors.New("validation failed")

	// ErrStaleState is returned when a compare-and-set status update matched
	// no row because another writer changed the status first.
	ErrStaleState = errors.New("record changed concurrently")

	// ErrAlreadyAccrued is returned when leave credit for an employee/month
	// is already recorded in the accrual ledger.
	ErrAlreadyAccrued = errors.New("leave credit already accrued for month")

	// ErrJobRunning is returned when a job lease is held by another runner.
	ErrJobRunning = errors.New("job already running")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// GuardError describes a rejected state transition.
type GuardError struct {
	Entity    string
	ID        string
	Operation string
	Current   string
	Allowed   []string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in status %s (allowed: %s)",
		e.Operation, e.Entity, e.ID, e.Current, strings.Join(e.Allowed, ", "))
}

func (e *GuardError) Unwrap() error { return ErrInvalidTransition }

// Guard builds a GuardError from typed status values.
func Guard[S ~string](entity, id, operation string, current S, allowed ...S) *GuardError {
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	return &GuardError{Entity: entity, ID: id, Operation: operation, Current: string(current), Allowed: names}
}

// FieldError is one failing field of a ValidationError.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Add appends a field failure.
func (e *ValidationError) Add(field, rule, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Rule: rule, Message: message})
}

// OrNil returns e when it holds failures and nil otherwise.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// DuplicateError names the uniqueness key that collided.
type DuplicateError struct {
	Entity string
	Key    string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.Key)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleState) || errors.Is(err, ErrJobRunning)
}

// IsGuardViolation reports a status guard rejection.
func IsGuardViolation(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsClientError returns true if the error is due to invalid client input or
// an expected business condition.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrDuplicate) ||
		errors.Is(err, ErrAlreadyAccrued)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
