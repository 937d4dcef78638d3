package leave

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// AccrualJobName is the lease and job_runs name of the monthly accrual.
const AccrualJobName = "leave_accrual"

// DefaultLeaseTTL bounds how long a crashed runner blocks the next one.
const DefaultLeaseTTL = 30 * time.Minute

// AccrualRequest selects the month to credit.
type AccrualRequest struct {
	Year   int        `json:"year" validate:"required,gte=2000,lte=2100"`
	Month  time.Month `json:"month" validate:"required,gte=1,lte=12"`
	DryRun bool       `json:"dry_run"`
}

// AccrualReport is the outcome of one run. In a dry-run the totals are what
// a real run would credit and nothing is written.
type AccrualReport struct {
	RunID             string            `json:"run_id,omitempty"`
	Year              int               `json:"year"`
	Month             time.Month        `json:"month"`
	DryRun            bool              `json:"dry_run"`
	Eligible          int               `json:"eligible"`
	Succeeded         int               `json:"succeeded"`
	Skipped           int               `json:"skipped"`
	Failed            int               `json:"failed"`
	Errored           int               `json:"errored"`
	ProjectedVacation decimal.Decimal   `json:"projected_vacation"`
	ProjectedSick     decimal.Decimal   `json:"projected_sick"`
	Results           []EmployeeOutcome `json:"results"`
}

func (r *AccrualReport) add(o EmployeeOutcome) {
	r.Results = append(r.Results, o)
	switch o.Outcome {
	case OutcomeSuccess:
		r.Succeeded++
		r.ProjectedVacation = r.ProjectedVacation.Add(o.Vacation)
		r.ProjectedSick = r.ProjectedSick.Add(o.Sick)
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	default:
		r.Errored++
	}
}

// =============================================================================
// ACCRUAL JOB
// =============================================================================

// AccrualJob credits one month of leave to every eligible employee.
type AccrualJob struct {
	Service  *Service
	Jobs     JobStore
	Rate     Rate
	LeaseTTL time.Duration
	Holder   string // lease holder id; defaults to hostname:pid
	Logger   *slog.Logger
	Clock    generic.Clock

	running atomic.Bool
}

func (j *AccrualJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// Running reports whether this process is executing a run.
func (j *AccrualJob) Running() bool { return j.running.Load() }

// Run executes the accrual for req.Year/req.Month.
//
// Steps:
//  1. Refuse overlapping runs (in-process flag, then persisted lease)
//  2. Eligible = active employees ∩ balance holders for the year
//  3. Per employee: prorate, accrue, classify the outcome, audit
//  4. Persist the run record with counts and totals
func (j *AccrualJob) Run(ctx context.Context, req AccrualRequest) (*AccrualReport, error) {
	if err := generic.ValidateStruct(req); err != nil {
		return nil, err
	}

	// 1. Overlap protection
	if !j.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%s: %w", AccrualJobName, generic.ErrJobRunning)
	}
	defer j.running.Store(false)

	if !req.DryRun {
		release, err := acquireLease(ctx, j.logger(), j.Jobs, AccrualJobName, j.Holder, j.Clock.Now(), j.LeaseTTL)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	// 2. Eligible set
	eligible, err := j.eligible(ctx, req.Year)
	if err != nil {
		return nil, err
	}

	report := &AccrualReport{
		Year:              req.Year,
		Month:             req.Month,
		DryRun:            req.DryRun,
		Eligible:          len(eligible),
		ProjectedVacation: decimal.Zero,
		ProjectedSick:     decimal.Zero,
		Results:           make([]EmployeeOutcome, 0, len(eligible)),
	}

	var run *JobRun
	if !req.DryRun && j.Jobs != nil {
		run = &JobRun{
			ID:        generic.NewID("run"),
			Name:      AccrualJobName,
			Year:      req.Year,
			Month:     req.Month,
			Status:    RunRunning,
			StartedAt: j.Clock.Now(),
		}
		if err := j.Jobs.SaveRun(ctx, run); err != nil {
			return nil, fmt.Errorf("save job run: %w", err)
		}
		report.RunID = run.ID
	}

	j.logger().Info("leave accrual started",
		"year", req.Year, "month", int(req.Month), "dry_run", req.DryRun, "eligible", len(eligible))

	// 3. Per-employee accrual
	for _, emp := range eligible {
		o := j.accrueOne(ctx, emp, req, report.RunID)
		report.add(o)
		if o.Outcome == OutcomeError {
			j.logger().Error("leave accrual failed", "employee_id", emp.ID, "error", o.Reason)
		}
		if !req.DryRun {
			generic.RecordAudit(ctx, j.Service.Audit, j.logger(), generic.AuditEntry{
				ActorID:  generic.SystemActor,
				Action:   generic.AuditAccrual,
				Table:    "leave_accruals",
				RecordID: string(emp.ID),
				NewValues: map[string]any{
					"year":            req.Year,
					"month":           int(req.Month),
					"outcome":         o.Outcome,
					"vacation_credit": o.Vacation.String(),
					"sick_credit":     o.Sick.String(),
					"reason":          o.Reason,
					"run_id":          report.RunID,
				},
			})
		}
	}

	// 4. Run record
	if run != nil {
		finished := j.Clock.Now()
		run.Status = RunCompleted
		run.Processed = report.Succeeded
		run.Skipped = report.Skipped
		run.Failed = report.Failed + report.Errored
		run.TotalVacation = report.ProjectedVacation
		run.TotalSick = report.ProjectedSick
		run.FinishedAt = &finished
		// the run's context may already be cancelled
		if err := j.Jobs.SaveRun(context.WithoutCancel(ctx), run); err != nil {
			j.logger().Error("save job run failed", "run_id", run.ID, "error", err)
		}
	}

	j.logger().Info("leave accrual finished",
		"year", req.Year, "month", int(req.Month), "dry_run", req.DryRun,
		"succeeded", report.Succeeded, "skipped", report.Skipped,
		"failed", report.Failed, "errored", report.Errored)
	return report, nil
}

func (j *AccrualJob) eligible(ctx context.Context, year int) ([]generic.Employee, error) {
	active, err := j.Service.Directory.ListActiveEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active employees: %w", err)
	}
	holders, err := j.Service.Store.BalanceHolders(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("list balance holders: %w", err)
	}
	has := make(map[generic.EmployeeID]bool, len(holders))
	for _, id := range holders {
		has[id] = true
	}
	out := make([]generic.Employee, 0, len(active))
	for _, e := range active {
		if has[e.ID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *AccrualJob) accrueOne(ctx context.Context, emp generic.Employee, req AccrualRequest, runID string) EmployeeOutcome {
	o := EmployeeOutcome{EmployeeID: emp.ID, Vacation: decimal.Zero, Sick: decimal.Zero}
	rate := j.Rate
	if rate.Total().IsZero() {
		rate = DefaultRate
	}
	credit, ok := rate.For(emp.HireDate, req.Year, req.Month)
	if !ok {
		o.Outcome = OutcomeSkipped
		o.Reason = "hired after " + generic.EndOfMonth(req.Year, req.Month).String()
		return o
	}

	if req.DryRun {
		done, err := j.Service.Store.HasAccrual(ctx, emp.ID, req.Year, req.Month)
		switch {
		case err != nil:
			o.Outcome, o.Reason = OutcomeError, err.Error()
		case done:
			o.Outcome, o.Reason = OutcomeSkipped, generic.ErrAlreadyAccrued.Error()
		default:
			o.Outcome, o.Vacation, o.Sick = OutcomeSuccess, credit.Vacation, credit.Sick
		}
		return o
	}

	_, err := j.Service.Accrue(ctx, emp.ID, req.Year, req.Month, credit, runID)
	o.Outcome = classify(err)
	if err != nil {
		o.Reason = err.Error()
		return o
	}
	o.Vacation, o.Sick = credit.Vacation, credit.Sick
	return o
}

// =============================================================================
// LEASES
// =============================================================================

func defaultHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// acquireLease takes the named lease and returns its release function. A nil
// store means no cross-process coordination.
func acquireLease(ctx context.Context, logger *slog.Logger, jobs JobStore, name, holder string, now time.Time, ttl time.Duration) (func(), error) {
	if jobs == nil {
		return func() {}, nil
	}
	if holder == "" {
		holder = defaultHolder()
	}
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	ok, err := jobs.AcquireLease(ctx, name, holder, now, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, generic.ErrJobRunning)
	}
	return func() {
		// the run's context may already be cancelled
		if err := jobs.ReleaseLease(context.WithoutCancel(ctx), name, holder); err != nil {
			logger.Warn("release lease failed", "lease", name, "error", err)
		}
	}, nil
}
