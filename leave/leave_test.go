package leave_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/generic"
	memstore "github.com/warp/payroll-engine/generic/store"
	"github.com/warp/payroll-engine/leave"
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

var testNow = time.Date(2025, time.March, 1, 2, 0, 0, 0, time.UTC)

type fixture struct {
	store *sqlite.Store
	svc   *leave.Service
	job   *leave.AccrualJob
	audit *memstore.AuditLog
}

// newFixture seeds, for 2025:
//
//	emp-1  hired 2020-01-06  balance  full month
//	emp-2  hired 2025-02-15  balance  half of February
//	emp-3  hired 2025-03-10  balance  hired after February
//	emp-4  hired 2021-05-01  none     not a balance holder
//	emp-5  separated         balance  not active
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	employees := []generic.Employee{
		{ID: "emp-1", Name: "Ana Cruz", MonthlySalary: dec("30000"), HireDate: date(2020, time.January, 6), Status: generic.EmploymentActive},
		{ID: "emp-2", Name: "Ben Reyes", MonthlySalary: dec("24000"), HireDate: date(2025, time.February, 15), Status: generic.EmploymentActive},
		{ID: "emp-3", Name: "Cora Lim", MonthlySalary: dec("20000"), HireDate: date(2025, time.March, 10), Status: generic.EmploymentActive},
		{ID: "emp-4", Name: "Dan Tan", MonthlySalary: dec("20000"), HireDate: date(2021, time.May, 1), Status: generic.EmploymentActive},
		{ID: "emp-5", Name: "Eve Sy", MonthlySalary: dec("20000"), HireDate: date(2019, time.May, 1), Status: generic.EmploymentSeparated},
	}
	for _, e := range employees {
		require.NoError(t, store.SaveEmployee(ctx, e))
	}

	audit := memstore.NewAuditLog()
	svc := &leave.Service{
		Store:     store.Leave(),
		Directory: store,
		Audit:     audit,
		Clock:     generic.FixedClock(testNow),
	}
	for _, id := range []generic.EmployeeID{"emp-1", "emp-2", "emp-3", "emp-5"} {
		_, err := svc.OpenBalance(ctx, "admin", id, 2025, leave.Rate{})
		require.NoError(t, err)
	}

	return &fixture{
		store: store,
		svc:   svc,
		audit: audit,
		job: &leave.AccrualJob{
			Service: svc,
			Jobs:    store.Jobs(),
			Holder:  "test-runner",
			Clock:   generic.FixedClock(testNow),
		},
	}
}

func february(dryRun bool) leave.AccrualRequest {
	return leave.AccrualRequest{Year: 2025, Month: time.February, DryRun: dryRun}
}

func outcomes(r *leave.AccrualReport) map[generic.EmployeeID]leave.Outcome {
	out := make(map[generic.EmployeeID]leave.Outcome)
	for _, o := range r.Results {
		out[o.EmployeeID] = o.Outcome
	}
	return out
}

// =============================================================================
// ACCRUAL JOB
// =============================================================================

func TestAccrualJob_CreditsEligibleEmployees(t *testing.T) {
	// GIVEN: Three active balance holders, one hired after February
	// WHEN: February 2025 is accrued
	// THEN: emp-1 earns 1.25 + 1.25, emp-2 earns half, emp-3 is skipped and
	//       non-holders and separated employees are not considered
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.job.Run(ctx, february(false))

	require.NoError(t, err)
	assert.Equal(t, 3, report.Eligible)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, map[generic.EmployeeID]leave.Outcome{
		"emp-1": leave.OutcomeSuccess,
		"emp-2": leave.OutcomeSuccess,
		"emp-3": leave.OutcomeSkipped,
	}, outcomes(report))
	assertDecimal(t, "1.875", report.ProjectedVacation, "1.25 + 0.625")

	b, err := f.svc.GetBalance(ctx, "emp-2", 2025)
	require.NoError(t, err)
	assertDecimal(t, "0.625", b.VacationEarned, "14 of 28 days")
	assertDecimal(t, "0.625", b.SickEarned, "14 of 28 days")

	done, err := f.store.Jobs().HasCompletedRun(ctx, leave.AccrualJobName, 2025, time.February)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Len(t, f.audit.ByAction(generic.AuditAccrual), 3, "one audit entry per employee")
	assert.False(t, f.job.Running())
}

func TestAccrualJob_RerunIsSkippedNotDoubled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.job.Run(ctx, february(false))
	require.NoError(t, err)

	again, err := f.job.Run(ctx, february(false))

	require.NoError(t, err)
	assert.Zero(t, again.Succeeded)
	assert.Equal(t, 3, again.Skipped)
	b, err := f.svc.GetBalance(ctx, "emp-1", 2025)
	require.NoError(t, err)
	assertDecimal(t, "1.25", b.VacationEarned, "credited once")
	accruals, err := f.svc.ListAccruals(ctx, "emp-1", 2025)
	require.NoError(t, err)
	assert.Len(t, accruals, 1)
}

func TestAccrualJob_DryRunWritesNothing(t *testing.T) {
	// GIVEN: A fresh year
	// WHEN: February is previewed with dry_run
	// THEN: The report shows what would be credited, but no balance, ledger
	//       row, run record or audit entry changes
	f := newFixture(t)
	ctx := context.Background()
	before := len(f.audit.Entries())

	report, err := f.job.Run(ctx, february(true))

	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Empty(t, report.RunID)
	assert.Equal(t, 2, report.Succeeded)
	assertDecimal(t, "1.875", report.ProjectedSick, "projected sick")

	b, err := f.svc.GetBalance(ctx, "emp-1", 2025)
	require.NoError(t, err)
	assert.True(t, b.VacationEarned.IsZero())
	accruals, err := f.svc.ListAccruals(ctx, "emp-1", 2025)
	require.NoError(t, err)
	assert.Empty(t, accruals)
	runs, err := f.store.Jobs().ListRuns(ctx, leave.AccrualJobName, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Len(t, f.audit.Entries(), before)
}

func TestAccrualJob_DryRunAfterRealRunReportsSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.job.Run(ctx, february(false))
	require.NoError(t, err)

	preview, err := f.job.Run(ctx, february(true))

	require.NoError(t, err)
	assert.Zero(t, preview.Succeeded)
	assert.Equal(t, 3, preview.Skipped)
}

func TestAccrualJob_HeldLeaseRefusesRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ok, err := f.store.Jobs().AcquireLease(ctx, leave.AccrualJobName, "other-node", testNow, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.job.Run(ctx, february(false))

	assert.ErrorIs(t, err, generic.ErrJobRunning)
	assert.True(t, generic.IsRetryable(err))
	accruals, err := f.svc.ListAccruals(ctx, "emp-1", 2025)
	require.NoError(t, err)
	assert.Empty(t, accruals)
}

func TestAccrualJob_LeaseReleasedAfterRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.job.Run(ctx, february(false))
	require.NoError(t, err)

	ok, err := f.store.Jobs().AcquireLease(ctx, leave.AccrualJobName, "other-node", testNow, time.Hour)

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAccrualJob_ValidatesRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.job.Run(context.Background(), leave.AccrualRequest{Year: 2025, Month: 13})

	assert.ErrorIs(t, err, generic.ErrValidation)
}

// =============================================================================
// SERVICE
// =============================================================================

func TestAccrue_RequiresBalanceRow(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Accrue(context.Background(), "emp-4", 2025, time.February, leave.DefaultRate, "")

	assert.True(t, generic.IsNotFound(err))
}

func TestOpenBalance_DuplicateRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.OpenBalance(context.Background(), "admin", "emp-1", 2025, leave.Rate{})

	assert.ErrorIs(t, err, generic.ErrDuplicate)
}

func TestRecordUsage_CannotExceedRemaining(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.job.Run(ctx, february(false))
	require.NoError(t, err)

	_, err = f.svc.RecordUsage(ctx, "hr-1", "emp-1", 2025, leave.KindVacation, dec("2"))
	assert.ErrorIs(t, err, generic.ErrValidation)

	b, err := f.svc.RecordUsage(ctx, "hr-1", "emp-1", 2025, leave.KindVacation, dec("1"))
	require.NoError(t, err)
	assertDecimal(t, "0.25", b.VacationRemaining(), "1.25 − 1")
	assertDecimal(t, "1.25", b.SickRemaining(), "sick untouched")
}

func TestRemainingCredits_SumsAllYears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.OpenBalance(ctx, "admin", "emp-1", 2024, leave.Rate{Vacation: dec("3"), Sick: dec("2.5")})
	require.NoError(t, err)
	_, err = f.job.Run(ctx, february(false))
	require.NoError(t, err)

	total, err := f.svc.RemainingCredits(ctx, "emp-1")

	require.NoError(t, err)
	assertDecimal(t, "8", total, "5.5 from 2024 + 2.5 from February")
}

// =============================================================================
// PRORATION
// =============================================================================

func TestRateFor_Proration(t *testing.T) {
	tests := []struct {
		name     string
		hire     generic.TimePoint
		vacation string
		ok       bool
	}{
		{"hired before the month", date(2024, time.June, 1), "1.25", true},
		{"hired on the first", date(2025, time.April, 1), "1.25", true},
		{"hired on the 16th of 30", date(2025, time.April, 16), "0.625", true},
		{"hired on the last day", date(2025, time.April, 30), "0.042", true},
		{"hired after the month", date(2025, time.May, 1), "0", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, ok := leave.DefaultRate.For(tc.hire, 2025, time.April)
			assert.Equal(t, tc.ok, ok)
			if ok {
				assertDecimal(t, tc.vacation, r.Vacation, "vacation credit")
			}
		})
	}
}

// =============================================================================
// RETENTION
// =============================================================================

func TestRetentionJob_SweepsOldFilesAndRuns(t *testing.T) {
	// GIVEN: One 100-day-old payslip, one fresh export and an old run record
	// WHEN: A 30-day retention sweep runs, first as dry-run
	// THEN: The dry-run counts without deleting; the real run removes only the
	//       old file and the old run, and records an audit entry
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	dir := t.TempDir()
	oldFile := filepath.Join(dir, "payslips", "2024-11.pdf")
	newFile := filepath.Join(dir, "exports", "2025-03.csv")
	require.NoError(t, os.MkdirAll(filepath.Dir(oldFile), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Dir(newFile), 0o755))
	require.NoError(t, os.WriteFile(oldFile, []byte("old payslip"), 0o644))
	require.NoError(t, os.WriteFile(newFile, []byte("fresh"), 0o644))
	old := time.Now().Add(-100 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, old, old))

	finished := old.Add(time.Minute)
	require.NoError(t, store.Jobs().SaveRun(ctx, &leave.JobRun{
		ID: "run-old", Name: leave.AccrualJobName, Year: 2024, Month: time.October,
		Status: leave.RunCompleted, StartedAt: old, FinishedAt: &finished,
	}))

	audit := memstore.NewAuditLog()
	job := &leave.RetentionJob{Jobs: store.Jobs(), Dir: dir, MaxAge: 30 * 24 * time.Hour, Holder: "test", Audit: audit}

	preview, err := job.Run(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, preview.FilesDeleted)
	assert.Equal(t, int64(len("old payslip")), preview.BytesFreed)
	assert.FileExists(t, oldFile, "dry-run deletes nothing")

	report, err := job.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesDeleted)
	assert.Equal(t, 1, report.RunsDeleted)
	assert.NoFileExists(t, oldFile)
	assert.FileExists(t, newFile)
	require.Len(t, audit.ByAction(generic.AuditRetentionSweep), 1)

	runs, err := store.Jobs().ListRuns(ctx, leave.RetentionJobName, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].ID)
}

func TestRetentionJob_RequiresMaxAge(t *testing.T) {
	job := &leave.RetentionJob{Dir: t.TempDir()}

	_, err := job.Run(context.Background(), false)

	assert.ErrorIs(t, err, generic.ErrValidation)
}

// cancellingAudit cancels the run's context on the first audit entry.
type cancellingAudit struct {
	cancel context.CancelFunc
}

func (a cancellingAudit) Append(context.Context, generic.AuditEntry) error {
	a.cancel()
	return nil
}

func TestAccrualJob_CancelledRunStillRecordsCompletion(t *testing.T) {
	// GIVEN: A run whose context is cancelled after the first employee
	// WHEN: February is accrued
	// THEN: The run record is closed as completed and the lease is free
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.Audit = cancellingAudit{cancel: cancel}

	report, err := f.job.Run(ctx, february(false))

	require.NoError(t, err)
	require.NotEmpty(t, report.RunID)
	runs, err := f.store.Jobs().ListRuns(context.Background(), leave.AccrualJobName, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, leave.RunCompleted, runs[0].Status)
	assert.NotNil(t, runs[0].FinishedAt)

	ok, err := f.store.Jobs().AcquireLease(context.Background(), leave.AccrualJobName, "other-runner", testNow, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

// stuckLease fails every lease release.
type stuckLease struct{ leave.JobStore }

func (stuckLease) ReleaseLease(context.Context, string, string) error {
	return errors.New("database is locked")
}

func TestAccrualJob_LeaseReleaseFailureUsesJobLogger(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	f.job.Logger = slog.New(slog.NewTextHandler(&buf, nil))
	f.job.Jobs = stuckLease{f.store.Jobs()}

	_, err := f.job.Run(context.Background(), february(false))

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "release lease failed")
	assert.Contains(t, buf.String(), "database is locked")
}
