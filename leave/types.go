/*
Package leave keeps per-year leave balances and the monthly accrual ledger.

PURPOSE:
  Employees earn vacation and sick credits every month. The accrual job walks
  the active employees that already have a balance row for the year and adds
  one month of credit to each.

IDEMPOTENCY:
  Every credited month is a row in the accrual ledger, unique on
  (employee_id, year, month). Accrue checks the ledger and inserts the row in
  the same transaction as the balance update, so re-running a month is
  reported as SKIPPED instead of double-crediting. The unique index is the
  backstop when two writers race.

OVERLAPPING RUNS:
  A run holds an in-process flag and a persisted lease (job_leases) with an
  expiry. A second runner, in this process or another, gets ErrJobRunning.
  A crashed holder's lease expires after the TTL.

PRORATION:
  An employee hired on day d of the target month earns
  credit × (days_in_month − d + 1) / days_in_month. An employee hired after
  the month earns nothing and is skipped.

SEE ALSO:
  - service.go: balances, usage and Accrue
  - accrual_job.go: monthly batch with dry-run
  - retention.go: file retention sweep
*/
package leave

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// CreditPlaces is the precision kept for leave credits (days).
const CreditPlaces = 3

// =============================================================================
// BALANCE
// =============================================================================

type Kind string

const (
	KindVacation Kind = "vacation"
	KindSick     Kind = "sick"
)

// Balance is one employee's leave for one year.
type Balance struct {
	EmployeeID     generic.EmployeeID `json:"employee_id"`
	Year           int                `json:"year"`
	VacationEarned decimal.Decimal    `json:"vacation_earned"`
	SickEarned     decimal.Decimal    `json:"sick_earned"`
	VacationUsed   decimal.Decimal    `json:"vacation_used"`
	SickUsed       decimal.Decimal    `json:"sick_used"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

func (b Balance) VacationRemaining() decimal.Decimal { return b.VacationEarned.Sub(b.VacationUsed) }
func (b Balance) SickRemaining() decimal.Decimal     { return b.SickEarned.Sub(b.SickUsed) }

// Remaining is vacation plus sick credits not yet used.
func (b Balance) Remaining() decimal.Decimal {
	return b.VacationRemaining().Add(b.SickRemaining())
}

func (b Balance) remaining(k Kind) decimal.Decimal {
	if k == KindSick {
		return b.SickRemaining()
	}
	return b.VacationRemaining()
}

// =============================================================================
// ACCRUAL LEDGER
// =============================================================================

// Rate is the credit earned for one full month.
type Rate struct {
	Vacation decimal.Decimal `json:"vacation"`
	Sick     decimal.Decimal `json:"sick"`
}

// DefaultRate is 15 vacation and 15 sick days a year.
var DefaultRate = Rate{
	Vacation: decimal.RequireFromString("1.25"),
	Sick:     decimal.RequireFromString("1.25"),
}

func (r Rate) Total() decimal.Decimal { return r.Vacation.Add(r.Sick) }

// For returns the credit an employee hired on hire earns for (year, month).
// ok is false when the employee was hired after the month ended.
func (r Rate) For(hire generic.TimePoint, year int, month time.Month) (Rate, bool) {
	start := generic.StartOfMonth(year, month)
	end := generic.EndOfMonth(year, month)
	if hire.After(end) {
		return Rate{}, false
	}
	if hire.IsZero() || hire.BeforeOrEqual(start) {
		return r, true
	}
	days := decimal.NewFromInt(int64(generic.DaysInMonth(year, month)))
	worked := decimal.NewFromInt(int64(generic.DaysInMonth(year, month) - hire.Day() + 1))
	factor := worked.Div(days)
	return Rate{
		Vacation: r.Vacation.Mul(factor).Round(CreditPlaces),
		Sick:     r.Sick.Mul(factor).Round(CreditPlaces),
	}, true
}

// Accrual is one credited (employee, year, month).
type Accrual struct {
	ID             string             `json:"id"`
	EmployeeID     generic.EmployeeID `json:"employee_id"`
	Year           int                `json:"year"`
	Month          time.Month         `json:"month"`
	VacationCredit decimal.Decimal    `json:"vacation_credit"`
	SickCredit     decimal.Decimal    `json:"sick_credit"`
	RunID          string             `json:"run_id,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// =============================================================================
// JOB RUNS
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// JobRun is the persisted record of one scheduled or manual job execution.
type JobRun struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Year          int             `json:"year,omitempty"`
	Month         time.Month      `json:"month,omitempty"`
	Status        RunStatus       `json:"status"`
	Processed     int             `json:"processed"`
	Skipped       int             `json:"skipped"`
	Failed        int             `json:"failed"`
	TotalVacation decimal.Decimal `json:"total_vacation"`
	TotalSick     decimal.Decimal `json:"total_sick"`
	Error         string          `json:"error,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// Outcome classifies what happened to one employee in an accrual run.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeSkipped Outcome = "SKIPPED"
	OutcomeFailed  Outcome = "FAILED"
	OutcomeError   Outcome = "ERROR"
)

type EmployeeOutcome struct {
	EmployeeID generic.EmployeeID `json:"employee_id"`
	Outcome    Outcome            `json:"outcome"`
	Vacation   decimal.Decimal    `json:"vacation_credit"`
	Sick       decimal.Decimal    `json:"sick_credit"`
	Reason     string             `json:"reason,omitempty"`
}
