package benefits

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/rules"
)

// =============================================================================
// BENEFIT CALCULATOR
// =============================================================================

// Calculation is the computed part of a benefit item.
type Calculation struct {
	BaseSalary        decimal.Decimal
	ServiceMonths     int
	Amount            decimal.Decimal
	IsEligible        bool
	EligibilityReason string
}

var twelve = decimal.NewFromInt(12)

// Calculate computes the benefit of emp under t, with service measured to
// asOf.
//
// Order of rules:
//  1. service below MinimumServiceMonths: ineligible, amount 0, reason recorded
//  2. the type's calculation strategy over the monthly salary
//  3. prorated types with less than 12 months of service: amount × months / 12
func Calculate(t BenefitType, emp *generic.Employee, asOf generic.TimePoint) (Calculation, error) {
	if emp == nil {
		return Calculation{}, generic.ErrEmployeeNotFound
	}
	c := Calculation{
		BaseSalary:    emp.MonthlySalary,
		ServiceMonths: generic.MonthsOfService(emp.HireDate, asOf),
		Amount:        decimal.Zero,
		IsEligible:    true,
	}

	if c.ServiceMonths < t.MinimumServiceMonths {
		c.IsEligible = false
		c.EligibilityReason = fmt.Sprintf("service of %d months is below the minimum of %d", c.ServiceMonths, t.MinimumServiceMonths)
		return c, nil
	}

	strategy, err := t.Calculation.Strategy()
	if err != nil {
		return Calculation{}, fmt.Errorf("benefit type %s: %w", t.Code, err)
	}
	amount, err := strategy.Amount(rules.Inputs{
		MonthlySalary: emp.MonthlySalary,
		BasicPay:      emp.MonthlySalary,
		ServiceMonths: c.ServiceMonths,
	})
	if err != nil {
		return Calculation{}, fmt.Errorf("benefit type %s: %w", t.Code, err)
	}

	if t.IsProrated && c.ServiceMonths < 12 {
		amount = amount.Mul(decimal.NewFromInt(int64(c.ServiceMonths))).Div(twelve)
		c.EligibilityReason = fmt.Sprintf("prorated %d/12", c.ServiceMonths)
	}
	c.Amount = generic.Money(amount)
	return c, nil
}

// ValidateType runs tag validation plus the calculation-type checks.
func ValidateType(t BenefitType) error {
	ve := &generic.ValidationError{}
	if err := generic.MergeValidation(ve, generic.ValidateStruct(t)); err != nil {
		return err
	}
	if t.CalculationType != "" {
		if err := generic.MergeValidation(ve, t.Calculation.Validate()); err != nil {
			return err
		}
	}
	return ve.OrNil()
}
