package benefits

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// Store persists benefit types, cycles, items and the adjustment ledger.
//
// Status writes are compare-and-set: they only change rows whose current
// status is one of from.
type Store interface {
	// SaveType inserts or updates a type; a code clash returns a
	// *generic.DuplicateError.
	SaveType(ctx context.Context, t *BenefitType) error
	GetType(ctx context.Context, id string) (*BenefitType, error)
	ListTypes(ctx context.Context, activeOnly bool) ([]BenefitType, error)

	// CreateCycle returns a *generic.DuplicateError when the
	// (benefit_type_id, cycle_year, cycle_name) triple exists.
	CreateCycle(ctx context.Context, c *Cycle) error
	GetCycle(ctx context.Context, id string) (*Cycle, error)
	ListCycles(ctx context.Context, f CycleFilter) ([]Cycle, error)
	TransitionCycle(ctx context.Context, id string, to CycleStatus, from []CycleStatus, at time.Time) (bool, error)
	SaveTotals(ctx context.Context, id string, total decimal.Decimal, count int, at time.Time) error

	// CreateItem never overwrites: an existing (cycle, employee) pair
	// returns a *generic.DuplicateError.
	CreateItem(ctx context.Context, it *Item) error
	GetItem(ctx context.Context, id string) (*Item, error)
	ListItems(ctx context.Context, cycleID string) ([]Item, error)
	// UpdateItemAmounts writes the adjustment, final, tax and net amounts
	// when the item's status is one of from.
	UpdateItemAmounts(ctx context.Context, it *Item, from []ItemStatus) (bool, error)
	TransitionItem(ctx context.Context, id string, to ItemStatus, from []ItemStatus, at time.Time) (bool, error)
	// TransitionItems is the set-based form. Empty ids means every item of
	// the cycle; eligibleOnly adds is_eligible to the predicate.
	TransitionItems(ctx context.Context, cycleID string, ids []string, to ItemStatus, from []ItemStatus, eligibleOnly bool, at time.Time) (int, error)

	AppendAdjustment(ctx context.Context, a *Adjustment) error
	ListAdjustments(ctx context.Context, itemID string) ([]Adjustment, error)

	WithTx(ctx context.Context, fn func(Store) error) error
}

// CreditSource reports an employee's remaining leave credits for the TLB.
type CreditSource interface {
	RemainingCredits(ctx context.Context, employeeID generic.EmployeeID) (decimal.Decimal, error)
}
