/*
store.go - Contracts of the external collaborators

PURPOSE:
  The engine reads employees from a directory it does not own and emits audit
  records to a log it does not own. Both are interfaces here so processing
  code never depends on a concrete database.

KEY INTERFACES:
  Directory: read-only employee lookup (salary, service dates, status)
  AuditLog:  append-only record of state transitions and bulk operations

AUDIT DELIVERY:
  Audit writes are fire-and-forget. RecordAudit logs a failed write and
  returns; it never propagates the error, so a broken audit sink cannot roll
  back a committed business transaction.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: employees, salary_history and audit_log tables
  - generic/store/memory.go: in-memory versions for tests
*/
package generic

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EMPLOYEE DIRECTORY
// =============================================================================

type EmploymentStatus string

const (
	EmploymentActive    EmploymentStatus = "active"
	EmploymentInactive  EmploymentStatus = "inactive"
	EmploymentSeparated EmploymentStatus = "separated"
)

// Employee is the directory's view of a person, as the engine needs it.
type Employee struct {
	ID             EmployeeID
	Name           string
	Email          string
	MonthlySalary  decimal.Decimal
	HireDate       TimePoint
	SeparationDate *TimePoint
	Status         EmploymentStatus
}

func (e Employee) IsActive() bool { return e.Status == EmploymentActive }

// SalaryRecord is one entry of an employee's salary history.
type SalaryRecord struct {
	EmployeeID    EmployeeID
	EffectiveDate TimePoint
	MonthlySalary decimal.Decimal
}

// Directory is the read-only employee lookup.
// GetEmployee returns an error wrapping ErrEmployeeNotFound for unknown ids.
type Directory interface {
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	ListActiveEmployees(ctx context.Context) ([]Employee, error)
	SalaryHistory(ctx context.Context, id EmployeeID) ([]SalaryRecord, error)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

type AuditAction string

const (
	AuditCreate         AuditAction = "create"
	AuditUpdate         AuditAction = "update"
	AuditDelete         AuditAction = "delete"
	AuditTransition     AuditAction = "transition"
	AuditBulkProcess    AuditAction = "bulk_process"
	AuditCancelRevert   AuditAction = "cancel_revert"
	AuditAdjustment     AuditAction = "adjustment"
	AuditAccrual        AuditAction = "leave_accrual"
	AuditRetentionSweep AuditAction = "retention_sweep"
)

// AuditEntry records who did what to which record.
type AuditEntry struct {
	ID        string
	ActorID   string
	Action    AuditAction
	Table     string
	RecordID  string
	OldValues map[string]any
	NewValues map[string]any
	Timestamp time.Time
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// RecordAudit appends entry to log without failing the caller. A nil log is
// a no-op. Missing ID and Timestamp are filled in.
func RecordAudit(ctx context.Context, log AuditLog, logger *slog.Logger, entry AuditEntry) {
	if log == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = NewID("aud")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := log.Append(ctx, entry); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("audit write failed",
			"action", entry.Action,
			"table", entry.Table,
			"record_id", entry.RecordID,
			"error", err)
	}
}

// SystemActor is the actor id used by scheduled jobs.
const SystemActor = "system"
