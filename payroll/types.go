/*
Package payroll implements half-month pay runs: the calculation engine and the
period/item state machine around it.

PURPOSE:
  A Period is one half-month pay run identified by (year, month,
  period_number). Processing a period computes one Item per employee from
  salary, working days and the allowance/deduction catalog, and stores it.
  Items then move through finalize and mark-paid before the period completes.

STATE MACHINES:

  Period:   draft ──start/process──► processing ──complete──► completed
              ▲                          │                        │
              └──────cancel-and-revert───┘                   archive (soft delete)

  Item:     draft/processing/processed ──finalize──► finalized ──mark-paid──► paid

  Guards:
    - processing (bulk or single) only while the period is draft or processing
    - finalize only from processed, mark-paid only from finalized
    - recalculation only while the item is draft, processing or processed
    - cancel-and-revert only from processing; deletes items, their lines and
      imported attendance, then resets the period to draft in one transaction
    - delete only from draft, archive only from completed

ARITHMETIC:
  daily_rate  = monthly_salary / divisor
  basic_pay   = daily_rate × working_days
  gross_pay   = basic_pay + total_allowances
  net_pay     = gross_pay − total_deductions
  Gross and net are always recomputed from the parts; stored values are never
  trusted as input.

SEE ALSO:
  - engine.go: pure calculation
  - service.go: state machine and persistence
  - rules package: catalog and override resolution
*/
package payroll

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/rules"
)

// =============================================================================
// STATUSES
// =============================================================================

type PeriodStatus string

const (
	PeriodDraft      PeriodStatus = "draft"
	PeriodProcessing PeriodStatus = "processing"
	PeriodCompleted  PeriodStatus = "completed"
)

type ItemStatus string

const (
	ItemDraft      ItemStatus = "draft"
	ItemProcessing ItemStatus = "processing"
	ItemProcessed  ItemStatus = "processed"
	ItemFinalized  ItemStatus = "finalized"
	ItemPaid       ItemStatus = "paid"
)

// Editable reports whether an item may still be recalculated.
func (s ItemStatus) Editable() bool {
	return s == ItemDraft || s == ItemProcessing || s == ItemProcessed
}

// =============================================================================
// PERIOD
// =============================================================================

type Period struct {
	ID           string            `json:"id"`
	Year         int               `json:"year"`
	Month        time.Month        `json:"month"`
	PeriodNumber int               `json:"period_number"`
	StartDate    generic.TimePoint `json:"start_date"`
	EndDate      generic.TimePoint `json:"end_date"`
	PayDate      generic.TimePoint `json:"pay_date"`
	Status       PeriodStatus      `json:"status"`
	Notes        string            `json:"notes,omitempty"`
	CreatedBy    string            `json:"created_by,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	DeletedAt    *time.Time        `json:"deleted_at,omitempty"`
}

// Window is the calendar range the period pays for.
func (p Period) Window() generic.Period {
	return generic.Period{Start: p.StartDate, End: p.EndDate}
}

// AcceptsEdits reports whether items may be created or recalculated.
func (p Period) AcceptsEdits() bool {
	return p.DeletedAt == nil && (p.Status == PeriodDraft || p.Status == PeriodProcessing)
}

// Key is the natural key "2025-03/1".
func (p Period) Key() string {
	return PeriodKey(p.Year, p.Month, p.PeriodNumber)
}

func PeriodKey(year int, month time.Month, number int) string {
	return fmt.Sprintf("%04d-%02d/%d", year, int(month), number)
}

// PeriodInput is the operator-supplied part of a period. Zero dates default
// to the half-month window; the pay date defaults to the end date.
type PeriodInput struct {
	Year         int               `json:"year" validate:"required,gte=2000,lte=2100"`
	Month        int               `json:"month" validate:"required,gte=1,lte=12"`
	PeriodNumber int               `json:"period_number" validate:"required,oneof=1 2"`
	StartDate    generic.TimePoint `json:"start_date"`
	EndDate      generic.TimePoint `json:"end_date"`
	PayDate      generic.TimePoint `json:"pay_date"`
	Notes        string            `json:"notes" validate:"max=500"`
}

// PeriodFilter narrows ListPeriods. Zero fields match everything.
type PeriodFilter struct {
	Year            int
	Month           time.Month
	Status          PeriodStatus
	IncludeArchived bool
}

// =============================================================================
// ITEM
// =============================================================================

// Item is one employee's computed pay within a period.
type Item struct {
	ID              string             `json:"id"`
	PeriodID        string             `json:"period_id"`
	EmployeeID      generic.EmployeeID `json:"employee_id"`
	WorkingDays     decimal.Decimal    `json:"working_days"`
	DailyRate       decimal.Decimal    `json:"daily_rate"`
	BasicPay        decimal.Decimal    `json:"basic_pay"`
	TotalAllowances decimal.Decimal    `json:"total_allowances"`
	TotalDeductions decimal.Decimal    `json:"total_deductions"`
	GrossPay        decimal.Decimal    `json:"gross_pay"`
	NetPay          decimal.Decimal    `json:"net_pay"`
	Status          ItemStatus         `json:"status"`
	Lines           []Line             `json:"lines,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Line is one resolved allowance or deduction of an item.
type Line struct {
	TypeID     string          `json:"type_id"`
	Code       string          `json:"code"`
	Kind       rules.Kind      `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	Source     rules.Source    `json:"source"`
	OverrideID string          `json:"override_id,omitempty"`
}

// ApplyResult copies computed values onto the item.
func (it *Item) ApplyResult(r Result) {
	it.WorkingDays = r.WorkingDays
	it.DailyRate = r.DailyRate
	it.BasicPay = r.BasicPay
	it.TotalAllowances = r.TotalAllowances
	it.TotalDeductions = r.TotalDeductions
	it.GrossPay = r.GrossPay
	it.NetPay = r.NetPay
	it.Lines = r.Lines
}

// =============================================================================
// ATTENDANCE
// =============================================================================

type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceHalfDay AttendanceStatus = "half_day"
	AttendanceAbsent  AttendanceStatus = "absent"
)

// Credit is the number of paid days a record counts for.
func (s AttendanceStatus) Credit() decimal.Decimal {
	switch s {
	case AttendancePresent:
		return decimal.NewFromInt(1)
	case AttendanceHalfDay:
		return decimal.NewFromFloat(0.5)
	default:
		return decimal.Zero
	}
}

// AttendanceRecord is one imported day for one employee, tied to a period so
// cancel-and-revert can remove the import with the items.
type AttendanceRecord struct {
	ID         string             `json:"id"`
	PeriodID   string             `json:"period_id"`
	EmployeeID generic.EmployeeID `json:"employee_id" validate:"required"`
	Date       generic.TimePoint  `json:"date"`
	Status     AttendanceStatus   `json:"status" validate:"required,oneof=present half_day absent"`
}

// =============================================================================
// BULK RESULTS
// =============================================================================

// BulkRequest selects employees for processing. Empty EmployeeIDs means every
// active employee. WorkingDays overrides the derived days per employee.
type BulkRequest struct {
	EmployeeIDs []generic.EmployeeID                   `json:"employee_ids"`
	WorkingDays map[generic.EmployeeID]decimal.Decimal `json:"working_days,omitempty"`
}

type EntryStatus string

const (
	EntrySuccess EntryStatus = "success"
	EntryFailed  EntryStatus = "failed"
)

// BulkEntry reports the outcome for one employee.
type BulkEntry struct {
	EmployeeID generic.EmployeeID `json:"employee_id"`
	Status     EntryStatus        `json:"status"`
	ItemID     string             `json:"item_id,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// BulkResult is the outcome of a bulk run. Failures never abort siblings.
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

// Failed returns the ids of employees that failed.
func (r BulkResult) Failed() []generic.EmployeeID {
	var out []generic.EmployeeID
	for _, e := range r.Items {
		if e.Status == EntryFailed {
			out = append(out, e.EmployeeID)
		}
	}
	return out
}

// SetResult reports a set-based update: how many of the requested rows were
// in the required status and changed.
type SetResult struct {
	Requested int `json:"requested"`
	Affected  int `json:"affected"`
}

// Partial reports whether some requested rows were skipped.
func (r SetResult) Partial() bool { return r.Affected < r.Requested }
