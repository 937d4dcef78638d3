package payroll

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/rules"
)

// DefaultDivisor is the number of paid days in a month used to derive the
// daily rate from the monthly salary.
const DefaultDivisor = 22

// =============================================================================
// CALCULATION ENGINE
// =============================================================================

// Input is everything one employee's calculation depends on.
//
// Types is the allowance and deduction catalog; inactive entries are skipped.
// Overrides holds the employee's overrides keyed by kind, as returned by
// rules.Resolver.OverridesFor.
type Input struct {
	Employee    *generic.Employee
	Period      *Period
	WorkingDays decimal.Decimal
	Types       []rules.RuleType
	Overrides   map[rules.Kind][]rules.Override
}

// Result is the computed pay of one employee for one period.
type Result struct {
	EmployeeID      generic.EmployeeID
	WorkingDays     decimal.Decimal
	DailyRate       decimal.Decimal
	BasicPay        decimal.Decimal
	TotalAllowances decimal.Decimal
	TotalDeductions decimal.Decimal
	GrossPay        decimal.Decimal
	NetPay          decimal.Decimal
	Lines           []Line
}

// Calculator computes pay. It never touches storage.
type Calculator struct {
	Divisor decimal.Decimal
}

func NewCalculator(divisor int) Calculator {
	if divisor <= 0 {
		divisor = DefaultDivisor
	}
	return Calculator{Divisor: decimal.NewFromInt(int64(divisor))}
}

// Calculate computes one item.
//
// Overrides and defaults are resolved as of the period end date. A type is
// included only when its frequency applies to the period. Mandatory
// deductions always apply; optional deductions apply only to employees with
// an active override.
//
// A nil employee or period yields an error wrapping ErrEmployeeNotFound or
// ErrPeriodNotFound, which bulk processing records as a per-employee failure.
func (c Calculator) Calculate(in Input) (Result, error) {
	if in.Employee == nil {
		return Result{}, generic.ErrEmployeeNotFound
	}
	if in.Period == nil {
		return Result{}, generic.ErrPeriodNotFound
	}
	if in.WorkingDays.IsNegative() {
		ve := &generic.ValidationError{}
		ve.Add("working_days", "gte", "must not be negative")
		return Result{}, ve
	}
	divisor := c.Divisor
	if !divisor.IsPositive() {
		divisor = decimal.NewFromInt(DefaultDivisor)
	}

	emp, period := in.Employee, in.Period
	asOf := period.EndDate

	res := Result{EmployeeID: emp.ID, WorkingDays: in.WorkingDays}
	res.DailyRate = generic.Money(emp.MonthlySalary.Div(divisor))
	res.BasicPay = generic.Money(res.DailyRate.Mul(in.WorkingDays))

	inputs := rules.Inputs{
		MonthlySalary: emp.MonthlySalary,
		BasicPay:      res.BasicPay,
		DailyRate:     res.DailyRate,
		WorkingDays:   in.WorkingDays,
		ServiceMonths: generic.MonthsOfService(emp.HireDate, asOf),
	}

	res.TotalAllowances = decimal.Zero
	res.TotalDeductions = decimal.Zero
	for _, t := range in.Types {
		if !t.IsActive || !t.Frequency.AppliesTo(period.Month, period.PeriodNumber) {
			continue
		}
		overrides := in.Overrides[t.Kind]
		if t.Kind == rules.KindDeduction && !t.IsMandatory && !rules.HasOverride(overrides, t.ID, asOf) {
			continue
		}

		r, err := rules.ResolveWith(overrides, t, asOf, inputs)
		if err != nil {
			return Result{}, fmt.Errorf("employee %s: %w", emp.ID, err)
		}
		if r.Amount.IsZero() && r.Source == rules.SourceDefault {
			continue
		}

		res.Lines = append(res.Lines, Line{
			TypeID:     r.TypeID,
			Code:       r.Code,
			Kind:       r.Kind,
			Amount:     r.Amount,
			Source:     r.Source,
			OverrideID: r.OverrideID,
		})
		if t.Kind == rules.KindDeduction {
			res.TotalDeductions = res.TotalDeductions.Add(r.Amount)
		} else {
			res.TotalAllowances = res.TotalAllowances.Add(r.Amount)
		}
	}

	res.GrossPay = res.BasicPay.Add(res.TotalAllowances)
	res.NetPay = res.GrossPay.Sub(res.TotalDeductions)
	return res, nil
}

// Recompute re-derives gross and net from the stored parts of it.
func Recompute(it *Item) {
	it.GrossPay = it.BasicPay.Add(it.TotalAllowances)
	it.NetPay = it.GrossPay.Sub(it.TotalDeductions)
}
