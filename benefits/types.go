/*
Package benefits runs periodic benefit cycles (bonuses, loyalty awards,
monetized leave) and the terminal leave benefit formula.

PURPOSE:
  A Cycle is one run of a BenefitType for a year, identified by
  (benefit_type_id, cycle_year, cycle_name). Processing the cycle computes one
  Item per employee; items can be adjusted by hand, approved and paid.

STATE MACHINES:

  Cycle:  draft ──process──► processing ──finalize──► completed ──release──► released
            │                    │
            └──────cancel────────┴──► cancelled (cascades to open items)

  Item:   draft ──► calculated ──approve──► approved ──pay──► paid
            │           │                      │
            └───────────┴───────cancel─────────┴──► cancelled

  Guards:
    - process only from draft; finalize only from processing
    - approve only when calculated AND eligible; pay only when approved
    - adjustments only while the item is draft or calculated

ARITHMETIC:
  final_amount = calculated_amount + adjustment_amount
  net_amount   = final_amount − tax_amount
  adjustment_amount is the running effect of the adjustment ledger. The ledger
  row and the item totals are written in the same transaction.

DUPLICATES:
  Benefit items are never upserted. A second item for the same
  (cycle, employee) is rejected with a *generic.DuplicateError and the first
  item is left untouched: paying a cash benefit twice is worse than a rejected
  request.

SEE ALSO:
  - calculator.go: amount, proration and eligibility
  - tax.go: pluggable tax policy
  - service.go: state machine and persistence
  - tlb.go: terminal leave benefit
*/
package benefits

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/rules"
)

// =============================================================================
// BENEFIT TYPE
// =============================================================================

type Category string

const (
	CategoryAnnual      Category = "annual"
	CategorySpecial     Category = "special"
	CategoryTerminal    Category = "terminal"
	CategoryPerformance Category = "performance"
	CategoryLoyalty     Category = "loyalty"
)

type BenefitType struct {
	ID       string   `json:"id" yaml:"id"`
	Code     string   `json:"code" yaml:"code" validate:"required,max=32"`
	Name     string   `json:"name" yaml:"name" validate:"required,max=120"`
	Category Category `json:"category" yaml:"category" validate:"required,oneof=annual special terminal performance loyalty"`

	rules.Calculation `yaml:",inline"`

	MinimumServiceMonths int       `json:"minimum_service_months" yaml:"minimum_service_months" validate:"gte=0"`
	IsTaxable            bool      `json:"is_taxable" yaml:"is_taxable"`
	IsProrated           bool      `json:"is_prorated" yaml:"is_prorated"`
	IsActive             bool      `json:"is_active" yaml:"is_active"`
	CreatedAt            time.Time `json:"created_at" yaml:"-"`
	UpdatedAt            time.Time `json:"updated_at" yaml:"-"`
}

// =============================================================================
// CYCLE
// =============================================================================

type CycleStatus string

const (
	CycleDraft      CycleStatus = "draft"
	CycleProcessing CycleStatus = "processing"
	CycleCompleted  CycleStatus = "completed"
	CycleReleased   CycleStatus = "released"
	CycleCancelled  CycleStatus = "cancelled"
)

// Cycle is one run of a benefit type. TotalAmount and EmployeeCount are
// derived from the items by RefreshTotals.
type Cycle struct {
	ID             string            `json:"id"`
	BenefitTypeID  string            `json:"benefit_type_id"`
	CycleYear      int               `json:"cycle_year"`
	CycleName      string            `json:"cycle_name"`
	CutoffDate     generic.TimePoint `json:"cutoff_date"`
	ApplicableDate generic.TimePoint `json:"applicable_date"`
	PaymentDate    generic.TimePoint `json:"payment_date"`
	Status         CycleStatus       `json:"status"`
	TotalAmount    decimal.Decimal   `json:"total_amount"`
	EmployeeCount  int               `json:"employee_count"`
	Notes          string            `json:"notes,omitempty"`
	CreatedBy      string            `json:"created_by,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ServiceDate is the date service months are measured to: the cutoff date,
// else the applicable date, else December 31 of the cycle year.
func (c Cycle) ServiceDate() generic.TimePoint {
	switch {
	case !c.CutoffDate.IsZero():
		return c.CutoffDate
	case !c.ApplicableDate.IsZero():
		return c.ApplicableDate
	default:
		return generic.NewTimePoint(c.CycleYear, time.December, 31)
	}
}

// AcceptsItems reports whether items may still be created in the cycle.
func (c Cycle) AcceptsItems() bool {
	return c.Status == CycleDraft || c.Status == CycleProcessing
}

// CycleInput is the operator-supplied part of a cycle.
type CycleInput struct {
	BenefitTypeID  string            `json:"benefit_type_id" validate:"required"`
	CycleYear      int               `json:"cycle_year" validate:"required,gte=2000,lte=2100"`
	CycleName      string            `json:"cycle_name" validate:"required,max=80"`
	CutoffDate     generic.TimePoint `json:"cutoff_date"`
	ApplicableDate generic.TimePoint `json:"applicable_date"`
	PaymentDate    generic.TimePoint `json:"payment_date"`
	Notes          string            `json:"notes" validate:"max=500"`
}

// Validate checks tags and cutoff ≤ applicable ≤ payment for the dates
// that are present.
func (in CycleInput) Validate() error {
	ve := &generic.ValidationError{}
	if err := generic.MergeValidation(ve, generic.ValidateStruct(in)); err != nil {
		return err
	}
	dates := []struct {
		field string
		d     generic.TimePoint
	}{
		{"cutoff_date", in.CutoffDate},
		{"applicable_date", in.ApplicableDate},
		{"payment_date", in.PaymentDate},
	}
	var (
		prevField string
		prev      generic.TimePoint
	)
	for _, d := range dates {
		if d.d.IsZero() {
			continue
		}
		if !prev.IsZero() && d.d.Before(prev) {
			ve.Add(d.field, "gtefield", "must not be before "+prevField)
		}
		prevField, prev = d.field, d.d
	}
	return ve.OrNil()
}

// CycleFilter narrows ListCycles. Zero fields match everything.
type CycleFilter struct {
	BenefitTypeID string
	Year          int
	Status        CycleStatus
}

// =============================================================================
// ITEM
// =============================================================================

type ItemStatus string

const (
	ItemDraft      ItemStatus = "draft"
	ItemCalculated ItemStatus = "calculated"
	ItemApproved   ItemStatus = "approved"
	ItemPaid       ItemStatus = "paid"
	ItemCancelled  ItemStatus = "cancelled"
)

// Modifiable reports whether adjustments are accepted.
func (s ItemStatus) Modifiable() bool {
	return s == ItemDraft || s == ItemCalculated
}

// Item is one employee's benefit within a cycle.
type Item struct {
	ID                string             `json:"id"`
	CycleID           string             `json:"cycle_id"`
	EmployeeID        generic.EmployeeID `json:"employee_id"`
	BaseSalary        decimal.Decimal    `json:"base_salary"`
	ServiceMonths     int                `json:"service_months"`
	CalculatedAmount  decimal.Decimal    `json:"calculated_amount"`
	AdjustmentAmount  decimal.Decimal    `json:"adjustment_amount"`
	FinalAmount       decimal.Decimal    `json:"final_amount"`
	TaxAmount         decimal.Decimal    `json:"tax_amount"`
	NetAmount         decimal.Decimal    `json:"net_amount"`
	IsEligible        bool               `json:"is_eligible"`
	EligibilityReason string             `json:"eligibility_reason,omitempty"`
	Status            ItemStatus         `json:"status"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Recompute derives final, tax and net from calculated + adjustment.
func (it *Item) Recompute(t BenefitType, tax TaxPolicy) {
	it.FinalAmount = it.CalculatedAmount.Add(it.AdjustmentAmount)
	it.TaxAmount = decimal.Zero
	if tax != nil {
		it.TaxAmount = tax.Tax(t, it.FinalAmount)
	}
	it.NetAmount = it.FinalAmount.Sub(it.TaxAmount)
}

// =============================================================================
// ADJUSTMENT LEDGER
// =============================================================================

type AdjustmentType string

const (
	AdjustIncrease AdjustmentType = "increase"
	AdjustDecrease AdjustmentType = "decrease"
	AdjustOverride AdjustmentType = "override"
)

// Adjustment is an append-only ledger row. Delta is its effect on the item's
// adjustment_amount at the time it was applied.
type Adjustment struct {
	ID        string          `json:"id"`
	ItemID    string          `json:"item_id"`
	Type      AdjustmentType  `json:"adjustment_type"`
	Amount    decimal.Decimal `json:"amount"`
	Delta     decimal.Decimal `json:"delta"`
	Reason    string          `json:"reason"`
	CreatedBy string          `json:"created_by,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AdjustmentInput is an operator's adjustment request. For override, Amount
// is the desired final amount.
type AdjustmentInput struct {
	Type   AdjustmentType  `json:"adjustment_type" validate:"required,oneof=increase decrease override"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"required,max=255"`
}

// Delta returns the change to adjustment_amount the input causes on it.
func (in AdjustmentInput) Delta(it Item) decimal.Decimal {
	switch in.Type {
	case AdjustIncrease:
		return in.Amount
	case AdjustDecrease:
		return in.Amount.Neg()
	default:
		return in.Amount.Sub(it.CalculatedAmount.Add(it.AdjustmentAmount))
	}
}

// =============================================================================
// RESULTS
// =============================================================================

type EntryStatus string

const (
	EntrySuccess EntryStatus = "success"
	EntryFailed  EntryStatus = "failed"
)

type BulkEntry struct {
	EmployeeID generic.EmployeeID `json:"employee_id"`
	Status     EntryStatus        `json:"status"`
	ItemID     string             `json:"item_id,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// BulkResult has the same shape as payroll bulk results.
type BulkResult struct {
	ProcessedCount int         `json:"processed_count"`
	FailedCount    int         `json:"failed_count"`
	Items          []BulkEntry `json:"items"`
}

func (r *BulkResult) succeed(id generic.EmployeeID, itemID string) {
	r.ProcessedCount++
	r.Items = append(r.Items, BulkEntry{EmployeeID: id, Status: EntrySuccess, ItemID: itemID})
}

func (r *BulkResult) fail(id generic.EmployeeID, err error) {
	r.FailedCount++
	r.Items = append(r.Items, BulkEntry{EmployeeID: id, Status: EntryFailed, Error: err.Error()})
}

// SetResult reports a set-based update. Affected < Requested means some rows
// were not in the required status and were left alone.
type SetResult struct {
	Requested int `json:"requested"`
	Affected  int `json:"affected"`
}

func (r SetResult) Partial() bool { return r.Affected < r.Requested }
