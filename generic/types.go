/*
Package generic provides the shared building blocks of the payroll engine.

PURPOSE:
  This package contains the domain-agnostic types used by every processing
  component: money and credit amounts, identifiers, calendar dates, pay
  periods, the error taxonomy, and the contracts of the external
  collaborators (employee directory, audit log).

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal rounded to centavos at every persisted boundary
  - Identifiers: type-safe ids so an employee id is never passed as a period id
  - Clock: injectable time source so state machines are testable

DESIGN PRINCIPLES:
  1. Precision: all arithmetic uses decimal.Decimal, never float64
  2. Type Safety: strong typing for ids
  3. Determinism: every "now" comes from a Clock

SEE ALSO:
  - time.go: TimePoint calendar dates
  - period.go: half-month pay windows
  - errors.go: error taxonomy
  - store.go: employee directory and audit contracts
*/
package generic

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of decimal places kept for persisted money values.
const MoneyPlaces = 2

// Money rounds a value half away from zero to MoneyPlaces.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// DecimalPtr returns a pointer to d.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string

// UniqueIDs drops repeated ids, keeping the first occurrence's position.
func UniqueIDs(ids []EmployeeID) []EmployeeID {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[EmployeeID]bool, len(ids))
	out := make([]EmployeeID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// NewID returns a random identifier with the given prefix, e.g. "pp_3f2c...".
func NewID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "_" + uuid.NewString()
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock returns the current time. Services default to time.Now when nil.
type Clock func() time.Time

// Now returns the clock's time in UTC, falling back to the wall clock.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}
