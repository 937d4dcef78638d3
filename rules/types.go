/*
Package rules holds the allowance/deduction catalog, employee overrides, and
the resolver that turns them into amounts.

PURPOSE:
  Every pay line is either an allowance or a deduction. Its amount comes from
  one of two places:
    1. an employee-specific Override active on the as-of date, or
    2. the type's default, computed by the type's calculation strategy.
  The Resolver picks between them. It is a pure function of the stored rows
  and the date: no writes, same answer every time.

CALCULATION TYPES:
  fixed       DefaultAmount as-is
  percentage  Percentage of MonthlySalary or BasicPay
  formula     CEL expression over the calculation inputs
  manual      zero unless an override supplies the amount

  Each type is a Strategy. Calculation.Validate checks the type-specific
  required fields exhaustively when a type is saved, so a misconfigured type
  never reaches a pay run.

SEE ALSO:
  - strategy.go: Strategy implementations
  - resolver.go: override selection and resolution
  - catalog.go: validated create/update service
*/
package rules

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// ENUMS
// =============================================================================

type Kind string

const (
	KindAllowance Kind = "allowance"
	KindDeduction Kind = "deduction"
)

type CalculationType string

const (
	CalcFixed      CalculationType = "fixed"
	CalcPercentage CalculationType = "percentage"
	CalcFormula    CalculationType = "formula"
	CalcManual     CalculationType = "manual"
)

// PercentageBase selects the input a percentage applies to.
type PercentageBase string

const (
	BaseMonthlySalary PercentageBase = "monthly_salary"
	BaseBasicPay      PercentageBase = "basic_pay"
)

// Frequency decides which pay periods a type is applied in.
type Frequency string

const (
	FreqEveryPeriod Frequency = "every_period"
	FreqMonthly     Frequency = "monthly"    // second half of each month
	FreqFirstHalf   Frequency = "first_half" // first half of each month
	FreqAnnual      Frequency = "annual"     // second half of December
	FreqOneTime     Frequency = "one_time"   // never applied automatically
)

// AppliesTo reports whether a type with this frequency is included in the
// given half-month period.
func (f Frequency) AppliesTo(month time.Month, periodNumber int) bool {
	switch f {
	case FreqEveryPeriod, "":
		return true
	case FreqMonthly:
		return periodNumber == 2
	case FreqFirstHalf:
		return periodNumber == 1
	case FreqAnnual:
		return month == time.December && periodNumber == 2
	default:
		return false
	}
}

// =============================================================================
// CALCULATION - shared by rule types and benefit types
// =============================================================================

// Calculation is the configuration of a calculation strategy.
type Calculation struct {
	CalculationType CalculationType `json:"calculation_type" yaml:"calculation_type" validate:"required,oneof=fixed percentage formula manual"`
	DefaultAmount   decimal.Decimal `json:"default_amount" yaml:"default_amount"`
	Percentage      decimal.Decimal `json:"percentage" yaml:"percentage"`
	PercentageBase  PercentageBase  `json:"percentage_base,omitempty" yaml:"percentage_base" validate:"omitempty,oneof=monthly_salary basic_pay"`
	Formula         string          `json:"formula,omitempty" yaml:"formula"`
}

// =============================================================================
// RULE TYPE - AllowanceType / DeductionType catalog entry
// =============================================================================

type RuleType struct {
	ID   string `json:"id" yaml:"id"`
	Kind Kind   `json:"kind" yaml:"kind" validate:"required,oneof=allowance deduction"`
	Code string `json:"code" yaml:"code" validate:"required,max=32"`
	Name string `json:"name" yaml:"name" validate:"required,max=120"`

	Calculation `yaml:",inline"`

	IsTaxable   bool      `json:"is_taxable" yaml:"is_taxable"`
	IsMandatory bool      `json:"is_mandatory" yaml:"is_mandatory"`
	Frequency   Frequency `json:"frequency" yaml:"frequency" validate:"required,oneof=every_period monthly first_half annual one_time"`
	IsActive    bool      `json:"is_active" yaml:"is_active"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

// =============================================================================
// OVERRIDE - Employee-specific amount for a date range
// =============================================================================

type Override struct {
	ID            string             `json:"id"`
	EmployeeID    generic.EmployeeID `json:"employee_id" validate:"required"`
	TypeID        string             `json:"type_id" validate:"required"`
	Kind          Kind               `json:"kind" validate:"required,oneof=allowance deduction"`
	Amount        decimal.Decimal    `json:"amount"`
	EffectiveDate generic.TimePoint  `json:"effective_date"`
	EndDate       *generic.TimePoint `json:"end_date,omitempty"`
	IsActive      bool               `json:"is_active"`
	Reason        string             `json:"reason,omitempty" validate:"max=255"`
	CreatedBy     string             `json:"created_by,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// AppliesOn reports effective_date <= d AND (end_date IS NULL OR end_date >= d).
func (o Override) AppliesOn(d generic.TimePoint) bool {
	if !o.IsActive || o.EffectiveDate.After(d) {
		return false
	}
	return o.EndDate == nil || o.EndDate.AfterOrEqual(d)
}

// Overlaps reports whether the two date ranges share at least one day.
func (o Override) Overlaps(other Override) bool {
	if o.EndDate != nil && o.EndDate.Before(other.EffectiveDate) {
		return false
	}
	if other.EndDate != nil && other.EndDate.Before(o.EffectiveDate) {
		return false
	}
	return true
}
