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
	"github.com/warp/payroll-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y int, m time.Month, d int) generic.TimePoint { return generic.NewTimePoint(y, m, d) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "%s: want %s, got %s", msg, want, got)
}

var testNow = time.Date(2025, time.December, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store *sqlite.Store
	svc   *benefits.Service
	audit *memstore.AuditLog
	typ   *benefits.BenefitType
}

// newFixture seeds a taxable, prorated 13th month pay (100% of monthly
// salary, 3 months minimum service) and three employees measured to a
// December 15 cutoff:
//
//	emp-1  30000  hired 2020-01-06  full year          30000
//	emp-2  24000  hired 2025-04-01  8 months prorated  16000
//	emp-3  20000  hired 2025-10-15  2 months           ineligible
//
// Tax is 20% above a 20000 exemption.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	for _, e := range []generic.Employee{
		{ID: "emp-1", Name: "Ana Cruz", MonthlySalary: dec("30000"), HireDate: date(2020, time.January, 6), Status: generic.EmploymentActive},
		{ID: "emp-2", Name: "Ben Reyes", MonthlySalary: dec("24000"), HireDate: date(2025, time.April, 1), Status: generic.EmploymentActive},
		{ID: "emp-3", Name: "Cora Lim", MonthlySalary: dec("20000"), HireDate: date(2025, time.October, 15), Status: generic.EmploymentActive},
	} {
		require.NoError(t, store.SaveEmployee(ctx, e))
	}

	audit := memstore.NewAuditLog()
	svc := &benefits.Service{
		Store:     store.Benefits(),
		Directory: store,
		Tax:       benefits.FlatRateTax{Rate: dec("0.20"), ExemptAmount: dec("20000")},
		Audit:     audit,
		Clock:     generic.FixedClock(testNow),
	}
	typ, err := svc.SaveType(ctx, "admin", benefits.BenefitType{
		Code: "13TH", Name: "13th Month Pay", Category: benefits.CategoryAnnual,
		Calculation: rules.Calculation{
			CalculationType: rules.CalcPercentage, Percentage: dec("100"), PercentageBase: rules.BaseMonthlySalary,
		},
		MinimumServiceMonths: 3, IsTaxable: true, IsProrated: true, IsActive: true,
	})
	require.NoError(t, err)
	return &fixture{store: store, svc: svc, audit: audit, typ: typ}
}

func (f *fixture) cycle(t *testing.T) *benefits.Cycle {
	t.Helper()
	c, err := f.svc.CreateCycle(context.Background(), "admin", benefits.CycleInput{
		BenefitTypeID: f.typ.ID, CycleYear: 2025, CycleName: "13th Month 2025",
		CutoffDate: date(2025, time.December, 15), PaymentDate: date(2025, time.December, 20),
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) processed(t *testing.T) (*benefits.Cycle, map[generic.EmployeeID]string) {
	t.Helper()
	c := f.cycle(t)
	res, err := f.svc.ProcessCycle(context.Background(), "admin", c.ID, nil)
	require.NoError(t, err)
	require.Zero(t, res.FailedCount)
	ids := make(map[generic.EmployeeID]string)
	for _, e := range res.Items {
		ids[e.EmployeeID] = e.ItemID
	}
	return c, ids
}

// =============================================================================
// CYCLES
// =============================================================================

func TestCreateCycle_DuplicateRejected(t *testing.T) {
	f := newFixture(t)
	f.cycle(t)

	_, err := f.svc.CreateCycle(context.Background(), "admin", benefits.CycleInput{
		BenefitTypeID: f.typ.ID, CycleYear: 2025, CycleName: "13th Month 2025",
	})

	assert.ErrorIs(t, err, generic.ErrDuplicate)
}

func TestCreateCycle_DatesMustBeOrdered(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateCycle(context.Background(), "admin", benefits.CycleInput{
		BenefitTypeID: f.typ.ID, CycleYear: 2025, CycleName: "Backwards",
		CutoffDate: date(2025, time.December, 15), PaymentDate: date(2025, time.December, 1),
	})

	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "payment_date", ve.Fields[0].Field)
}

func TestCreateCycle_InactiveTypeRejected(t *testing.T) {
	f := newFixture(t)
	inactive := *f.typ
	inactive.IsActive = false
	_, err := f.svc.SaveType(context.Background(), "admin", inactive)
	require.NoError(t, err)

	_, err = f.svc.CreateCycle(context.Background(), "admin", benefits.CycleInput{
		BenefitTypeID: f.typ.ID, CycleYear: 2026, CycleName: "13th Month 2026",
	})

	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestCycleTransitions_FollowStateMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.cycle(t)

	_, err := f.svc.FinalizeCycle(ctx, "admin", c.ID)
	require.True(t, generic.IsGuardViolation(err), "draft cannot be finalized")

	_, err = f.svc.ProcessCycle(ctx, "admin", c.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.ProcessCycle(ctx, "admin", c.ID, nil)
	require.True(t, generic.IsGuardViolation(err), "process runs once")

	done, err := f.svc.FinalizeCycle(ctx, "admin", c.ID)
	require.NoError(t, err)
	assert.Equal(t, benefits.CycleCompleted, done.Status)

	released, err := f.svc.ReleaseCycle(ctx, "admin", c.ID)
	require.NoError(t, err)
	assert.Equal(t, benefits.CycleReleased, released.Status)

	_, _, err = f.svc.CancelCycle(ctx, "admin", c.ID)
	assert.True(t, generic.IsGuardViolation(err), "released cycle cannot be cancelled")
}

// =============================================================================
// PROCESSING
// =============================================================================

func TestProcessCycle_ComputesAmountsAndTotals(t *testing.T) {
	// GIVEN: Three employees with full, partial and insufficient service
	// WHEN: The cycle is processed
	// THEN: Amounts are 30000, 16000 (8/12) and 0 (ineligible), tax applies
	//       above the exemption, and the cycle totals the final amounts
	f := newFixture(t)
	ctx := context.Background()
	c, ids := f.processed(t)

	full, err := f.svc.GetItem(ctx, ids["emp-1"])
	require.NoError(t, err)
	assertDecimal(t, "30000", full.CalculatedAmount, "full year")
	assertDecimal(t, "30000", full.FinalAmount, "final")
	assertDecimal(t, "2000", full.TaxAmount, "20% of 10000 above exemption")
	assertDecimal(t, "28000", full.NetAmount, "net")
	assert.Equal(t, benefits.ItemCalculated, full.Status)

	partial, err := f.svc.GetItem(ctx, ids["emp-2"])
	require.NoError(t, err)
	assert.Equal(t, 8, partial.ServiceMonths)
	assertDecimal(t, "16000", partial.CalculatedAmount, "24000 × 8 / 12")
	assertDecimal(t, "0", partial.TaxAmount, "below exemption")

	ineligible, err := f.svc.GetItem(ctx, ids["emp-3"])
	require.NoError(t, err)
	assert.False(t, ineligible.IsEligible)
	assert.NotEmpty(t, ineligible.EligibilityReason)
	assertDecimal(t, "0", ineligible.FinalAmount, "ineligible amount")

	cycle, err := f.svc.GetCycle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, benefits.CycleProcessing, cycle.Status)
	assertDecimal(t, "46000", cycle.TotalAmount, "cycle total")
	assert.Equal(t, 3, cycle.EmployeeCount)
}

func TestProcessCycle_UnknownEmployeeReportedPerEmployee(t *testing.T) {
	f := newFixture(t)
	c := f.cycle(t)

	res, err := f.svc.ProcessCycle(context.Background(), "admin", c.ID, []generic.EmployeeID{"emp-1", "ghost"})

	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, 1, res.FailedCount)
	assert.Equal(t, benefits.EntryFailed, res.Items[1].Status)
}

func TestAddItem_DuplicateLeavesExistingItemAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, ids := f.processed(t)
	_, _, err := f.svc.AdjustItem(ctx, "admin", ids["emp-1"], benefits.AdjustmentInput{
		Type: benefits.AdjustIncrease, Amount: dec("500"), Reason: "merit",
	})
	require.NoError(t, err)

	_, err = f.svc.AddItem(ctx, "admin", c.ID, "emp-1")

	assert.ErrorIs(t, err, generic.ErrDuplicate)
	it, err := f.svc.GetItem(ctx, ids["emp-1"])
	require.NoError(t, err)
	assertDecimal(t, "30500", it.FinalAmount, "adjusted amount kept")
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func TestAdjustItem_AppliesAndRecordsLedger(t *testing.T) {
	// GIVEN: emp-1's item of 30000
	// WHEN: +1000, then override to 25000
	// THEN: adjustment_amount tracks the deltas (+1000, −6000), tax and net
	//       follow the final amount, and the ledger has both rows
	f := newFixture(t)
	ctx := context.Background()
	c, ids := f.processed(t)
	id := ids["emp-1"]

	it, adj, err := f.svc.AdjustItem(ctx, "hr-1", id, benefits.AdjustmentInput{
		Type: benefits.AdjustIncrease, Amount: dec("1000"), Reason: "correction",
	})
	require.NoError(t, err)
	assertDecimal(t, "1000", adj.Delta, "increase delta")
	assertDecimal(t, "31000", it.FinalAmount, "final")
	assertDecimal(t, "2200", it.TaxAmount, "tax follows final")
	assertDecimal(t, "28800", it.NetAmount, "net")

	it, adj, err = f.svc.AdjustItem(ctx, "hr-1", id, benefits.AdjustmentInput{
		Type: benefits.AdjustOverride, Amount: dec("25000"), Reason: "board decision",
	})
	require.NoError(t, err)
	assertDecimal(t, "-6000", adj.Delta, "override delta")
	assertDecimal(t, "-5000", it.AdjustmentAmount, "net adjustment")
	assertDecimal(t, "25000", it.FinalAmount, "final equals override")

	ledger, err := f.svc.ListAdjustments(ctx, id)
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	assert.Equal(t, benefits.AdjustIncrease, ledger[0].Type)
	assert.Equal(t, "hr-1", ledger[1].CreatedBy)

	cycle, err := f.svc.GetCycle(ctx, c.ID)
	require.NoError(t, err)
	assertDecimal(t, "41000", cycle.TotalAmount, "25000 + 16000 + 0")
	assert.Len(t, f.audit.ByAction(generic.AuditAdjustment), 2)
}

func TestAdjustItem_NegativeFinalRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, ids := f.processed(t)

	_, _, err := f.svc.AdjustItem(ctx, "hr-1", ids["emp-2"], benefits.AdjustmentInput{
		Type: benefits.AdjustDecrease, Amount: dec("16000.01"), Reason: "too much",
	})

	assert.ErrorIs(t, err, generic.ErrValidation)
	ledger, err := f.svc.ListAdjustments(ctx, ids["emp-2"])
	require.NoError(t, err)
	assert.Empty(t, ledger, "rejected adjustment leaves no ledger row")
}

func TestAdjustItem_InputValidation(t *testing.T) {
	f := newFixture(t)
	_, ids := f.processed(t)

	_, _, err := f.svc.AdjustItem(context.Background(), "hr-1", ids["emp-1"], benefits.AdjustmentInput{
		Type: benefits.AdjustIncrease, Amount: dec("0"), Reason: "nothing",
	})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, _, err = f.svc.AdjustItem(context.Background(), "hr-1", ids["emp-1"], benefits.AdjustmentInput{
		Type: benefits.AdjustIncrease, Amount: dec("10"),
	})
	assert.ErrorIs(t, err, generic.ErrValidation, "reason is required")
}

func TestAdjustItem_ApprovedItemIsFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, ids := f.processed(t)
	_, err := f.svc.ApproveItem(ctx, "hr-1", ids["emp-1"])
	require.NoError(t, err)

	_, _, err = f.svc.AdjustItem(ctx, "hr-1", ids["emp-1"], benefits.AdjustmentInput{
		Type: benefits.AdjustIncrease, Amount: dec("100"), Reason: "late",
	})

	assert.True(t, generic.IsGuardViolation(err))
}

// =============================================================================
// APPROVAL AND PAYMENT
// =============================================================================

func TestApproveItem_IneligibleRejected(t *testing.T) {
	f := newFixture(t)
	_, ids := f.processed(t)

	_, err := f.svc.ApproveItem(context.Background(), "hr-1", ids["emp-3"])

	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestBulkApprove_SkipsIneligibleAndReportsCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, ids := f.processed(t)

	res, err := f.svc.BulkApprove(ctx, "hr-1", c.ID, nil)

	require.NoError(t, err)
	assert.Equal(t, benefits.SetResult{Requested: 3, Affected: 2}, res)
	assert.True(t, res.Partial())
	it, err := f.svc.GetItem(ctx, ids["emp-3"])
	require.NoError(t, err)
	assert.Equal(t, benefits.ItemCalculated, it.Status)

	paid, err := f.svc.BulkMarkPaid(ctx, "hr-1", c.ID, []string{ids["emp-1"], ids["emp-2"]})
	require.NoError(t, err)
	assert.Equal(t, 2, paid.Affected)
	assert.False(t, paid.Partial())
}

func TestPayItem_RequiresApproval(t *testing.T) {
	f := newFixture(t)
	_, ids := f.processed(t)

	_, err := f.svc.PayItem(context.Background(), "hr-1", ids["emp-1"])

	var guard *generic.GuardError
	require.ErrorAs(t, err, &guard)
	assert.Equal(t, "calculated", guard.Current)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestCancelCycle_CascadesToUnpaidItems(t *testing.T) {
	// GIVEN: A processing cycle where emp-1 is already paid
	// WHEN: The cycle is cancelled
	// THEN: The two unpaid items are cancelled, the paid one is kept, and the
	//       totals only count the paid item
	f := newFixture(t)
	ctx := context.Background()
	c, ids := f.processed(t)
	_, err := f.svc.ApproveItem(ctx, "hr-1", ids["emp-1"])
	require.NoError(t, err)
	_, err = f.svc.PayItem(ctx, "hr-1", ids["emp-1"])
	require.NoError(t, err)

	cycle, cancelled, err := f.svc.CancelCycle(ctx, "admin", c.ID)

	require.NoError(t, err)
	assert.Equal(t, 2, cancelled)
	assert.Equal(t, benefits.CycleCancelled, cycle.Status)
	assertDecimal(t, "30000", cycle.TotalAmount, "only the paid item counts")
	assert.Equal(t, 1, cycle.EmployeeCount)

	paid, err := f.svc.GetItem(ctx, ids["emp-1"])
	require.NoError(t, err)
	assert.Equal(t, benefits.ItemPaid, paid.Status)
	other, err := f.svc.GetItem(ctx, ids["emp-2"])
	require.NoError(t, err)
	assert.Equal(t, benefits.ItemCancelled, other.Status)
}

func TestCancelItem_UpdatesTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, ids := f.processed(t)

	_, err := f.svc.CancelItem(ctx, "hr-1", ids["emp-2"])
	require.NoError(t, err)

	cycle, err := f.svc.GetCycle(ctx, c.ID)
	require.NoError(t, err)
	assertDecimal(t, "30000", cycle.TotalAmount, "cancelled item excluded")
	assert.Equal(t, 2, cycle.EmployeeCount)
}

// =============================================================================
// CONCURRENT CYCLE CHANGES
// =============================================================================

// hookDirectory runs onReach the first time employee `at` is looked up.
type hookDirectory struct {
	generic.Directory
	at      generic.EmployeeID
	onReach func()
	fired   bool
}

func (d *hookDirectory) GetEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	if id == d.at && !d.fired {
		d.fired = true
		d.onReach()
	}
	return d.Directory.GetEmployee(ctx, id)
}

func TestProcessCycle_CancelMidRunStopsFurtherItems(t *testing.T) {
	// GIVEN: A cycle being processed for emp-1 and emp-2
	// WHEN: The cycle is cancelled after emp-1's item is created
	// THEN: emp-2 fails on the cycle guard, no item of the cycle is live, and
	//       the totals stay at zero
	f := newFixture(t)
	ctx := context.Background()
	c := f.cycle(t)
	var cancelErr error
	f.svc.Directory = &hookDirectory{
		Directory: f.store,
		at:        "emp-2",
		onReach: func() {
			_, _, cancelErr = f.svc.CancelCycle(ctx, "other-admin", c.ID)
		},
	}

	res, err := f.svc.ProcessCycle(ctx, "admin", c.ID, []generic.EmployeeID{"emp-1", "emp-2"})

	require.NoError(t, err)
	require.NoError(t, cancelErr)
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, 1, res.FailedCount)
	assert.Contains(t, res.Items[1].Error, "cancelled")

	items, err := f.svc.ListItems(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, benefits.ItemCancelled, items[0].Status)
	cycle, err := f.svc.GetCycle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, benefits.CycleCancelled, cycle.Status)
	assert.True(t, cycle.TotalAmount.IsZero())
	assert.Zero(t, cycle.EmployeeCount)
}

func TestAddItem_CycleCancelledMeanwhileRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.cycle(t)
	f.svc.Directory = &hookDirectory{
		Directory: f.store,
		at:        "emp-1",
		onReach: func() {
			_, _, err := f.svc.CancelCycle(ctx, "other-admin", c.ID)
			require.NoError(t, err)
		},
	}

	_, err := f.svc.AddItem(ctx, "admin", c.ID, "emp-1")

	assert.True(t, generic.IsGuardViolation(err))
	items, err := f.svc.ListItems(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestProcessCycle_RepeatedEmployeeProcessedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.cycle(t)

	res, err := f.svc.ProcessCycle(ctx, "admin", c.ID, []generic.EmployeeID{"emp-1", "emp-1"})

	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Zero(t, res.FailedCount)
	items, err := f.svc.ListItems(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
