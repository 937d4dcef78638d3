package payroll

import (
	"context"
	"time"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/rules"
)

// Store persists periods, items, item lines and attendance.
//
// Status writes are compare-and-set: Transition* only change rows whose
// current status is one of from, and report whether (or how many) rows
// changed. Callers re-read inside WithTx before writing so the guard check
// and the write see the same state.
type Store interface {
	CreatePeriod(ctx context.Context, p *Period) error
	// GetPeriod returns an error wrapping generic.ErrPeriodNotFound.
	GetPeriod(ctx context.Context, id string) (*Period, error)
	ListPeriods(ctx context.Context, f PeriodFilter) ([]Period, error)
	UpdatePeriod(ctx context.Context, p *Period) error
	DeletePeriod(ctx context.Context, id string) error
	TransitionPeriod(ctx context.Context, id string, to PeriodStatus, from []PeriodStatus, at time.Time) (bool, error)
	// ArchivePeriod sets deleted_at on a completed, not yet archived period.
	ArchivePeriod(ctx context.Context, id string, at time.Time) (bool, error)

	// UpsertItem inserts or overwrites the item for (PeriodID, EmployeeID)
	// together with its lines. On overwrite it.ID and it.CreatedAt are set
	// from the existing row.
	UpsertItem(ctx context.Context, it *Item) error
	// GetItem returns the item with lines, or an error wrapping
	// generic.ErrItemNotFound.
	GetItem(ctx context.Context, id string) (*Item, error)
	// FindItem returns nil, nil when the employee has no item in the period.
	FindItem(ctx context.Context, periodID string, employeeID generic.EmployeeID) (*Item, error)
	ListItems(ctx context.Context, periodID string) ([]Item, error)
	TransitionItem(ctx context.Context, id string, to ItemStatus, from []ItemStatus, at time.Time) (bool, error)
	// TransitionItems is the set-based form. Empty ids means every item of
	// the period. Returns the number of rows changed.
	TransitionItems(ctx context.Context, periodID string, ids []string, to ItemStatus, from ItemStatus, at time.Time) (int, error)
	// DeleteItems removes the period's items and their lines.
	DeleteItems(ctx context.Context, periodID string) (int, error)

	SaveAttendance(ctx context.Context, records []AttendanceRecord) error
	ListAttendance(ctx context.Context, periodID string) ([]AttendanceRecord, error)
	DeleteAttendance(ctx context.Context, periodID string) (int, error)

	// WithTx runs fn against a Store bound to one database transaction.
	// fn's error rolls everything back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Catalog is the part of the rules store processing reads.
type Catalog interface {
	rules.OverrideSource
	ListTypes(ctx context.Context, kind rules.Kind, activeOnly bool) ([]rules.RuleType, error)
}
