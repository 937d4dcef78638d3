package rules

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// INPUTS
// =============================================================================

// Inputs are the values a strategy may compute from.
type Inputs struct {
	MonthlySalary decimal.Decimal
	BasicPay      decimal.Decimal
	DailyRate     decimal.Decimal
	WorkingDays   decimal.Decimal
	ServiceMonths int
}

func (in Inputs) celVars() map[string]any {
	f := func(d decimal.Decimal) float64 { v, _ := d.Float64(); return v }
	return map[string]any{
		"monthly_salary": f(in.MonthlySalary),
		"basic_pay":      f(in.BasicPay),
		"daily_rate":     f(in.DailyRate),
		"working_days":   f(in.WorkingDays),
		"service_months": float64(in.ServiceMonths),
	}
}

// =============================================================================
// STRATEGY
// =============================================================================

// Strategy computes a default amount for one calculation type.
type Strategy interface {
	Type() CalculationType
	Amount(in Inputs) (decimal.Decimal, error)
}

type FixedStrategy struct {
	Value decimal.Decimal
}

func (s FixedStrategy) Type() CalculationType { return CalcFixed }
func (s FixedStrategy) Amount(Inputs) (decimal.Decimal, error) {
	return generic.Money(s.Value), nil
}

// PercentageStrategy applies Rate percent (4.5 means 4.5%) to Base.
type PercentageStrategy struct {
	Rate decimal.Decimal
	Base PercentageBase
}

var hundred = decimal.NewFromInt(100)

func (s PercentageStrategy) Type() CalculationType { return CalcPercentage }
func (s PercentageStrategy) Amount(in Inputs) (decimal.Decimal, error) {
	base := in.MonthlySalary
	if s.Base == BaseBasicPay {
		base = in.BasicPay
	}
	return generic.Money(base.Mul(s.Rate).Div(hundred)), nil
}

// FormulaStrategy evaluates a compiled CEL expression returning a double.
type FormulaStrategy struct {
	Expr    string
	program cel.Program
}

func (s FormulaStrategy) Type() CalculationType { return CalcFormula }
func (s FormulaStrategy) Amount(in Inputs) (decimal.Decimal, error) {
	out, _, err := s.program.Eval(in.celVars())
	if err != nil {
		return decimal.Zero, fmt.Errorf("evaluate formula %q: %w", s.Expr, err)
	}
	v, ok := out.Value().(float64)
	if !ok {
		return decimal.Zero, fmt.Errorf("formula %q returned %T, want double", s.Expr, out.Value())
	}
	return generic.Money(decimal.NewFromFloat(v)), nil
}

// ManualStrategy has no default; only overrides supply an amount.
type ManualStrategy struct{}

func (ManualStrategy) Type() CalculationType                 { return CalcManual }
func (ManualStrategy) Amount(Inputs) (decimal.Decimal, error) { return decimal.Zero, nil }

// Strategy builds the strategy for c. Call Validate first; Strategy returns
// an error for configurations Validate would reject.
func (c Calculation) Strategy() (Strategy, error) {
	switch c.CalculationType {
	case CalcFixed:
		return FixedStrategy{Value: c.DefaultAmount}, nil
	case CalcPercentage:
		base := c.PercentageBase
		if base == "" {
			base = BaseMonthlySalary
		}
		return PercentageStrategy{Rate: c.Percentage, Base: base}, nil
	case CalcFormula:
		program, err := compileFormula(c.Formula)
		if err != nil {
			return nil, err
		}
		return FormulaStrategy{Expr: c.Formula, program: program}, nil
	case CalcManual:
		return ManualStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown calculation type %q", c.CalculationType)
	}
}

// Validate checks the fields each calculation type requires.
func (c Calculation) Validate() error {
	ve := &generic.ValidationError{}
	switch c.CalculationType {
	case CalcFixed:
		if c.DefaultAmount.IsNegative() {
			ve.Add("default_amount", "gte", "must not be negative")
		}
	case CalcPercentage:
		if !c.Percentage.IsPositive() || c.Percentage.GreaterThan(hundred) {
			ve.Add("percentage", "range", "must be greater than 0 and at most 100")
		}
	case CalcFormula:
		if strings.TrimSpace(c.Formula) == "" {
			ve.Add("formula", "required", "is required for formula calculation")
		} else if _, err := compileFormula(c.Formula); err != nil {
			ve.Add("formula", "compile", err.Error())
		}
	case CalcManual:
	default:
		ve.Add("calculation_type", "oneof", "must be one of: fixed percentage formula manual")
	}
	return ve.OrNil()
}

// =============================================================================
// CEL FORMULAS
// =============================================================================

var (
	formulaEnvOnce sync.Once
	formulaEnv     *cel.Env
	formulaEnvErr  error

	formulaProgramCache sync.Map
)

func newFormulaEnv() (*cel.Env, error) {
	formulaEnvOnce.Do(func() {
		formulaEnv, formulaEnvErr = cel.NewEnv(
			cel.Variable("monthly_salary", cel.DoubleType),
			cel.Variable("basic_pay", cel.DoubleType),
			cel.Variable("daily_rate", cel.DoubleType),
			cel.Variable("working_days", cel.DoubleType),
			cel.Variable("service_months", cel.DoubleType),
		)
	})
	return formulaEnv, formulaEnvErr
}

func compileFormula(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("expression required")
	}
	if cached, ok := formulaProgramCache.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	env, err := newFormulaEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.DoubleType) {
		return nil, fmt.Errorf("formula must return double, got %s", ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	formulaProgramCache.Store(expr, program)
	return program, nil
}
