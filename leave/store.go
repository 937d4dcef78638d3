package leave

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// Store persists balances and the accrual ledger.
type Store interface {
	// CreateBalance returns a *generic.DuplicateError when the
	// (employee, year) row exists.
	CreateBalance(ctx context.Context, b *Balance) error
	// GetBalance wraps generic.ErrNotFound when there is no row.
	GetBalance(ctx context.Context, empID generic.EmployeeID, year int) (*Balance, error)
	ListBalances(ctx context.Context, empID generic.EmployeeID) ([]Balance, error)
	// BalanceHolders lists the employees with a balance row for year.
	BalanceHolders(ctx context.Context, year int) ([]generic.EmployeeID, error)
	AddCredits(ctx context.Context, empID generic.EmployeeID, year int, vacation, sick decimal.Decimal, at time.Time) error
	AddUsage(ctx context.Context, empID generic.EmployeeID, year int, kind Kind, days decimal.Decimal, at time.Time) error

	HasAccrual(ctx context.Context, empID generic.EmployeeID, year int, month time.Month) (bool, error)
	// RecordAccrual returns generic.ErrAlreadyAccrued when the ledger
	// already holds the (employee, year, month) row.
	RecordAccrual(ctx context.Context, a *Accrual) error
	ListAccruals(ctx context.Context, empID generic.EmployeeID, year int) ([]Accrual, error)

	WithTx(ctx context.Context, fn func(Store) error) error
}

// JobStore persists job leases and run records.
type JobStore interface {
	// AcquireLease takes the named lease for holder until now+ttl. It
	// succeeds when the lease is free, expired, or already held by holder.
	AcquireLease(ctx context.Context, name, holder string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error

	// SaveRun inserts or replaces a run record.
	SaveRun(ctx context.Context, r *JobRun) error
	ListRuns(ctx context.Context, name string, limit int) ([]JobRun, error)
	HasCompletedRun(ctx context.Context, name string, year int, month time.Month) (bool, error)
	// DeleteRunsBefore removes finished runs started before cutoff.
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error)
}
