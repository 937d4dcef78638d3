package payroll_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/rules"
)

func engineInput(period int) payroll.Input {
	w := generic.HalfMonth(2025, time.March, period)
	return payroll.Input{
		Employee: &generic.Employee{
			ID: "emp-1", MonthlySalary: dec("22000"), HireDate: date(2020, time.January, 6),
			Status: generic.EmploymentActive,
		},
		Period: &payroll.Period{
			ID: "per-1", Year: 2025, Month: time.March, PeriodNumber: period,
			StartDate: w.Start, EndDate: w.End, PayDate: w.End,
		},
		WorkingDays: dec("10"),
	}
}

func TestCalculate_FrequencyDecidesInclusion(t *testing.T) {
	// GIVEN: A monthly transport allowance (second half only)
	// WHEN: Calculating period 1 and period 2
	// THEN: Only period 2 includes it
	transport := rules.RuleType{
		ID: "alw-transport", Kind: rules.KindAllowance, Code: "TRANSPORT",
		Calculation: rules.Calculation{CalculationType: rules.CalcFixed, DefaultAmount: dec("800")},
		Frequency:   rules.FreqMonthly, IsActive: true,
	}
	calc := payroll.NewCalculator(0)

	in := engineInput(1)
	in.Types = []rules.RuleType{transport}
	first, err := calc.Calculate(in)
	require.NoError(t, err)

	in = engineInput(2)
	in.Types = []rules.RuleType{transport}
	second, err := calc.Calculate(in)
	require.NoError(t, err)

	assert.True(t, first.TotalAllowances.IsZero())
	assertDecimal(t, "800", second.TotalAllowances, "second half allowance")
}

func TestCalculate_PercentageOfBasicPay(t *testing.T) {
	tax := rules.RuleType{
		ID: "ded-wht", Kind: rules.KindDeduction, Code: "WHT",
		Calculation: rules.Calculation{
			CalculationType: rules.CalcPercentage, Percentage: dec("10"), PercentageBase: rules.BaseBasicPay,
		},
		Frequency: rules.FreqEveryPeriod, IsMandatory: true, IsActive: true,
	}
	in := engineInput(1)
	in.Types = []rules.RuleType{tax}

	res, err := payroll.NewCalculator(22).Calculate(in)

	require.NoError(t, err)
	assertDecimal(t, "10000", res.BasicPay, "1000 × 10")
	assertDecimal(t, "1000", res.TotalDeductions, "10% of basic")
	assertDecimal(t, "9000", res.NetPay, "net")
}

func TestCalculate_InactiveTypesSkipped(t *testing.T) {
	in := engineInput(1)
	in.Types = []rules.RuleType{{
		ID: "alw-old", Kind: rules.KindAllowance, Code: "OLD",
		Calculation: rules.Calculation{CalculationType: rules.CalcFixed, DefaultAmount: dec("999")},
		Frequency:   rules.FreqEveryPeriod,
	}}

	res, err := payroll.NewCalculator(22).Calculate(in)

	require.NoError(t, err)
	assert.Empty(t, res.Lines)
	assertDecimal(t, "10000", res.GrossPay, "gross is basic only")
}

func TestCalculate_RoundsDailyRateToCentavos(t *testing.T) {
	in := engineInput(1)
	in.Employee.MonthlySalary = dec("25000")
	in.WorkingDays = dec("3")

	res, err := payroll.NewCalculator(22).Calculate(in)

	require.NoError(t, err)
	assertDecimal(t, "1136.36", res.DailyRate, "25000 / 22")
	assertDecimal(t, "3409.08", res.BasicPay, "rounded rate × days")
}

func TestCalculate_RejectsMissingInputs(t *testing.T) {
	calc := payroll.NewCalculator(22)

	in := engineInput(1)
	in.Employee = nil
	_, err := calc.Calculate(in)
	assert.ErrorIs(t, err, generic.ErrEmployeeNotFound)

	in = engineInput(1)
	in.WorkingDays = dec("-1")
	_, err = calc.Calculate(in)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestRecompute_DerivesGrossAndNet(t *testing.T) {
	it := &payroll.Item{
		BasicPay: dec("10000"), TotalAllowances: dec("1500"), TotalDeductions: dec("700"),
		GrossPay: dec("1"), NetPay: dec("1"),
	}

	payroll.Recompute(it)

	assertDecimal(t, "11500", it.GrossPay, "gross")
	assertDecimal(t, "10800", it.NetPay, "net")
}
