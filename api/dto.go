/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication that are not already
  carried by the domain types. Periods, items, cycles, adjustments, rule
  types and job reports travel as their domain structs (they carry json tags);
  the types here cover the directory, the audit trail, errors and the small
  request bodies of the action endpoints.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/benefits"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// DIRECTORY
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email,omitempty"`
	MonthlySalary  decimal.Decimal `json:"monthly_salary"`
	HireDate       string          `json:"hire_date"`
	SeparationDate string          `json:"separation_date,omitempty"`
	Status         string          `json:"status"`
}

func toEmployeeDTO(e generic.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:            string(e.ID),
		Name:          e.Name,
		Email:         e.Email,
		MonthlySalary: e.MonthlySalary,
		HireDate:      e.HireDate.String(),
		Status:        string(e.Status),
	}
	if e.SeparationDate != nil {
		dto.SeparationDate = e.SeparationDate.String()
	}
	return dto
}

// CreateEmployeeRequest adds or replaces a directory entry.
type CreateEmployeeRequest struct {
	ID             string             `json:"id" validate:"required,max=64"`
	Name           string             `json:"name" validate:"required,max=120"`
	Email          string             `json:"email" validate:"omitempty,email"`
	MonthlySalary  decimal.Decimal    `json:"monthly_salary"`
	HireDate       generic.TimePoint  `json:"hire_date"`
	SeparationDate *generic.TimePoint `json:"separation_date"`
	Status         string             `json:"status" validate:"omitempty,oneof=active inactive separated"`
}

// SalaryRequest appends a salary history entry.
type SalaryRequest struct {
	EffectiveDate generic.TimePoint `json:"effective_date"`
	MonthlySalary decimal.Decimal   `json:"monthly_salary"`
}

// =============================================================================
// PAYROLL
// =============================================================================

// ProcessEmployeeRequest processes one employee. WorkingDays overrides the
// attendance-derived days when set.
type ProcessEmployeeRequest struct {
	WorkingDays *decimal.Decimal `json:"working_days"`
}

// ItemIDsRequest selects items for set-based transitions. Empty means every
// item of the period or cycle in the source status.
type ItemIDsRequest struct {
	ItemIDs []string `json:"item_ids"`
}

// ImportAttendanceRequest stores attendance rows for a period. A row for a
// day already on record replaces it.
type ImportAttendanceRequest struct {
	Records []payroll.AttendanceRecord `json:"records"`
}

// ImportResponse reports how many rows were stored.
type ImportResponse struct {
	Imported int `json:"imported"`
}

// EndOverrideRequest closes an override.
type EndOverrideRequest struct {
	EndDate generic.TimePoint `json:"end_date"`
}

// =============================================================================
// BENEFITS
// =============================================================================

// ProcessCycleRequest lists employees to process; empty means every active
// employee.
type ProcessCycleRequest struct {
	EmployeeIDs []generic.EmployeeID `json:"employee_ids"`
}

type AddItemRequest struct {
	EmployeeID generic.EmployeeID `json:"employee_id" validate:"required"`
}

// CancelCycleResponse includes how many open items were cancelled with it.
type CancelCycleResponse struct {
	Cycle          *benefits.Cycle `json:"cycle"`
	ItemsCancelled int             `json:"items_cancelled"`
}

// AdjustItemResponse returns the updated item and the ledger row.
type AdjustItemResponse struct {
	Item       *benefits.Item       `json:"item"`
	Adjustment *benefits.Adjustment `json:"adjustment"`
}

// TLBRequest computes the terminal leave benefit. LeaveCredits defaults to
// the employee's remaining balance.
type TLBRequest struct {
	LeaveCredits *decimal.Decimal `json:"leave_credits"`
}

// =============================================================================
// LEAVE AND JOBS
// =============================================================================

type OpenBalanceRequest struct {
	Year     int             `json:"year"`
	Vacation decimal.Decimal `json:"vacation"`
	Sick     decimal.Decimal `json:"sick"`
}

type UsageRequest struct {
	Year int             `json:"year"`
	Kind leave.Kind      `json:"kind"`
	Days decimal.Decimal `json:"days"`
}

// RemainingDTO is the sum of unused credits across years.
type RemainingDTO struct {
	EmployeeID string          `json:"employee_id"`
	Remaining  decimal.Decimal `json:"remaining_credits"`
}

type RetentionRequest struct {
	DryRun bool `json:"dry_run"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID        string         `json:"id"`
	ActorID   string         `json:"actor_id"`
	Action    string         `json:"action"`
	Table     string         `json:"table"`
	RecordID  string         `json:"record_id"`
	OldValues map[string]any `json:"old_values,omitempty"`
	NewValues map[string]any `json:"new_values,omitempty"`
	Timestamp string         `json:"timestamp"`
}

func toAuditDTO(e generic.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:        e.ID,
		ActorID:   e.ActorID,
		Action:    string(e.Action),
		Table:     e.Table,
		RecordID:  e.RecordID,
		OldValues: e.OldValues,
		NewValues: e.NewValues,
		Timestamp: e.Timestamp.Format(time.RFC3339),
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string               `json:"error"`
	Details string               `json:"details,omitempty"`
	Fields  []generic.FieldError `json:"fields,omitempty"`
	Current string               `json:"current_status,omitempty"`
	Allowed []string             `json:"allowed_statuses,omitempty"`
}
