package benefits

import (
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// TaxPolicy computes the tax withheld from a benefit's final amount.
// Government tables are rule data and plug in here.
type TaxPolicy interface {
	Tax(t BenefitType, amount decimal.Decimal) decimal.Decimal
}

// FlatRateTax withholds Rate (0.20 means 20%) of the amount above
// ExemptAmount. Non-taxable types and non-positive amounts pay nothing.
type FlatRateTax struct {
	Rate         decimal.Decimal
	ExemptAmount decimal.Decimal
}

func (f FlatRateTax) Tax(t BenefitType, amount decimal.Decimal) decimal.Decimal {
	if !t.IsTaxable || !amount.IsPositive() {
		return decimal.Zero
	}
	taxable := amount.Sub(f.ExemptAmount)
	if !taxable.IsPositive() {
		return decimal.Zero
	}
	return generic.Money(taxable.Mul(f.Rate))
}

// NoTax withholds nothing.
type NoTax struct{}

func (NoTax) Tax(BenefitType, decimal.Decimal) decimal.Decimal { return decimal.Zero }
