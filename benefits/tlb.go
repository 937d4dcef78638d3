package benefits

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// TERMINAL LEAVE BENEFIT
// =============================================================================
//
// amount = leave credits × highest monthly salary on record × factor
//
// The calculator is stateless: it reads the directory and the credit source
// and writes nothing.

// DefaultTLBFactor is used when the calculator has no factor configured.
var DefaultTLBFactor = decimal.NewFromInt(1)

// CalculateTLB applies the formula and rounds to money.
func CalculateTLB(credits, highestSalary, factor decimal.Decimal) decimal.Decimal {
	return generic.Money(credits.Mul(highestSalary).Mul(factor))
}

// TLBResult carries the breakdown shown to a reviewer.
type TLBResult struct {
	EmployeeID        generic.EmployeeID `json:"employee_id"`
	LeaveCredits      decimal.Decimal    `json:"leave_credits"`
	HighestSalary     decimal.Decimal    `json:"highest_monthly_salary"`
	HighestSalaryAsOf generic.TimePoint  `json:"highest_salary_effective_date"`
	Factor            decimal.Decimal    `json:"factor"`
	Amount            decimal.Decimal    `json:"amount"`
	RequiresReview    bool               `json:"requires_review"`
}

type TLBCalculator struct {
	Directory generic.Directory
	Credits   CreditSource // used when the caller supplies no credits

	Factor          decimal.Decimal
	ReviewThreshold decimal.Decimal // zero disables review flagging
}

// Calculate computes the TLB of one employee. When credits is nil the
// employee's remaining leave credits are used.
func (c *TLBCalculator) Calculate(ctx context.Context, empID generic.EmployeeID, credits *decimal.Decimal) (*TLBResult, error) {
	emp, err := c.Directory.GetEmployee(ctx, empID)
	if err != nil {
		return nil, err
	}

	var leaveCredits decimal.Decimal
	switch {
	case credits != nil:
		leaveCredits = *credits
	case c.Credits != nil:
		if leaveCredits, err = c.Credits.RemainingCredits(ctx, empID); err != nil {
			return nil, fmt.Errorf("leave credits for %s: %w", empID, err)
		}
	default:
		ve := &generic.ValidationError{}
		ve.Add("leave_credits", "required", "is required")
		return nil, ve
	}
	if leaveCredits.IsNegative() {
		ve := &generic.ValidationError{}
		ve.Add("leave_credits", "gte", "must not be negative")
		return nil, ve
	}

	history, err := c.Directory.SalaryHistory(ctx, empID)
	if err != nil {
		return nil, fmt.Errorf("salary history for %s: %w", empID, err)
	}
	highest, asOf := emp.MonthlySalary, generic.TimePoint{}
	for _, r := range history {
		if r.MonthlySalary.GreaterThan(highest) {
			highest, asOf = r.MonthlySalary, r.EffectiveDate
		}
	}

	factor := c.Factor
	if factor.IsZero() {
		factor = DefaultTLBFactor
	}
	res := &TLBResult{
		EmployeeID:        empID,
		LeaveCredits:      leaveCredits,
		HighestSalary:     highest,
		HighestSalaryAsOf: asOf,
		Factor:            factor,
		Amount:            CalculateTLB(leaveCredits, highest, factor),
	}
	res.RequiresReview = c.ReviewThreshold.IsPositive() && res.Amount.GreaterThan(c.ReviewThreshold)
	return res, nil
}
