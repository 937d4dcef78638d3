package benefits_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/benefits"
	"github.com/warp/payroll-engine/generic"
	memstore "github.com/warp/payroll-engine/generic/store"
	"github.com/warp/payroll-engine/rules"
)

// =============================================================================
// TERMINAL LEAVE BENEFIT
// =============================================================================

type fixedCredits decimal.Decimal

func (c fixedCredits) RemainingCredits(context.Context, generic.EmployeeID) (decimal.Decimal, error) {
	return decimal.Decimal(c), nil
}

func tlbDirectory() *memstore.Directory {
	d := memstore.NewDirectory(generic.Employee{
		ID: "emp-1", Name: "Ana Cruz", MonthlySalary: dec("18000"),
		HireDate: date(2010, time.June, 1), Status: generic.EmploymentSeparated,
	})
	d.AddSalary(generic.SalaryRecord{EmployeeID: "emp-1", EffectiveDate: date(2018, time.January, 1), MonthlySalary: dec("15000")})
	d.AddSalary(generic.SalaryRecord{EmployeeID: "emp-1", EffectiveDate: date(2022, time.January, 1), MonthlySalary: dec("20000")})
	return d
}

func TestCalculateTLB_Formula(t *testing.T) {
	assertDecimal(t, "600000", benefits.CalculateTLB(dec("30"), dec("20000"), dec("1.0")), "30 × 20000 × 1")
	assertDecimal(t, "12345.68", benefits.CalculateTLB(dec("1.234568"), dec("10000"), dec("1")), "rounded to centavos")
}

func TestTLBCalculator_UsesHighestSalaryOnRecord(t *testing.T) {
	// GIVEN: Current salary 18000, history peaking at 20000 in 2022
	// WHEN: TLB is computed for 30 credits
	// THEN: The 2022 salary is used: 30 × 20000 = 600000
	calc := &benefits.TLBCalculator{Directory: tlbDirectory()}

	res, err := calc.Calculate(context.Background(), "emp-1", generic.DecimalPtr(dec("30")))

	require.NoError(t, err)
	assertDecimal(t, "20000", res.HighestSalary, "highest salary")
	assert.Equal(t, "2022-01-01", res.HighestSalaryAsOf.String())
	assertDecimal(t, "1", res.Factor, "default factor")
	assertDecimal(t, "600000", res.Amount, "amount")
	assert.False(t, res.RequiresReview)
}

func TestTLBCalculator_FallsBackToCreditSource(t *testing.T) {
	calc := &benefits.TLBCalculator{
		Directory:       tlbDirectory(),
		Credits:         fixedCredits(dec("12.5")),
		Factor:          dec("0.5"),
		ReviewThreshold: dec("100000"),
	}

	res, err := calc.Calculate(context.Background(), "emp-1", nil)

	require.NoError(t, err)
	assertDecimal(t, "12.5", res.LeaveCredits, "credits from source")
	assertDecimal(t, "125000", res.Amount, "12.5 × 20000 × 0.5")
	assert.True(t, res.RequiresReview, "above the review threshold")
}

func TestTLBCalculator_RejectsBadCredits(t *testing.T) {
	calc := &benefits.TLBCalculator{Directory: tlbDirectory()}

	_, err := calc.Calculate(context.Background(), "emp-1", nil)
	assert.ErrorIs(t, err, generic.ErrValidation, "no credits and no source")

	_, err = calc.Calculate(context.Background(), "emp-1", generic.DecimalPtr(dec("-1")))
	assert.ErrorIs(t, err, generic.ErrValidation, "negative credits")

	_, err = calc.Calculate(context.Background(), "ghost", generic.DecimalPtr(dec("1")))
	assert.ErrorIs(t, err, generic.ErrEmployeeNotFound)
}

// =============================================================================
// CALCULATOR
// =============================================================================

func TestCalculate_FixedAmountNotProrated(t *testing.T) {
	bt := benefits.BenefitType{
		Code: "RICE-BONUS", Category: benefits.CategorySpecial,
		Calculation: rules.Calculation{CalculationType: rules.CalcFixed, DefaultAmount: dec("5000")},
	}
	emp := &generic.Employee{ID: "emp-1", MonthlySalary: dec("20000"), HireDate: date(2025, time.September, 1)}

	c, err := benefits.Calculate(bt, emp, date(2025, time.December, 31))

	require.NoError(t, err)
	assert.True(t, c.IsEligible)
	assert.Equal(t, 3, c.ServiceMonths)
	assertDecimal(t, "5000", c.Amount, "fixed amount")
}

func TestCalculate_FormulaUsesServiceMonths(t *testing.T) {
	bt := benefits.BenefitType{
		Code: "LOYALTY", Category: benefits.CategoryLoyalty,
		Calculation: rules.Calculation{CalculationType: rules.CalcFormula, Formula: "service_months * 100.0"},
	}
	emp := &generic.Employee{ID: "emp-1", MonthlySalary: dec("20000"), HireDate: date(2020, time.January, 1)}

	c, err := benefits.Calculate(bt, emp, date(2025, time.January, 1))

	require.NoError(t, err)
	assert.Equal(t, 60, c.ServiceMonths)
	assertDecimal(t, "6000", c.Amount, "60 months × 100")
}

func TestFlatRateTax_SkipsNonTaxable(t *testing.T) {
	tax := benefits.FlatRateTax{Rate: dec("0.2"), ExemptAmount: dec("1000")}

	assertDecimal(t, "0", tax.Tax(benefits.BenefitType{IsTaxable: false}, dec("5000")), "non-taxable")
	assertDecimal(t, "800", tax.Tax(benefits.BenefitType{IsTaxable: true}, dec("5000")), "20% of 4000")
	assertDecimal(t, "0", tax.Tax(benefits.BenefitType{IsTaxable: true}, dec("900")), "under exemption")
}
