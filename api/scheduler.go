/*
scheduler.go - Automated leave accrual and retention scheduler

PURPOSE:
  Periodically checks whether the monthly leave accrual or the retention
  sweep is due and runs it. The jobs themselves are idempotent and guarded
  by a lease, so an extra check is always harmless.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Accrual: credits the month that just ended once its job_runs record
    shows no completed run. A missed 1st is caught up on the next check.
  - Retention: runs when the last completed sweep is older than
    RetentionEvery, or there is none
  - A lease held by another runner (ErrJobRunning) is logged and skipped

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - RetentionEvery: Minimum gap between sweeps (default: 7 days)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewJobScheduler(services, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers_leave.go: manual job endpoints
  - leave/accrual_job.go: AccrualJob
  - leave/retention.go: RetentionJob
*/
package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
)

// DefaultRetentionEvery is the minimum gap between retention sweeps.
const DefaultRetentionEvery = 7 * 24 * time.Hour

// JobScheduler runs the monthly accrual and the retention sweep when due.
type JobScheduler struct {
	Accrual        *leave.AccrualJob
	Retention      *leave.RetentionJob // optional
	Jobs           leave.JobStore
	CheckInterval  time.Duration
	RetentionEvery time.Duration
	Enabled        bool
	Logger         *slog.Logger
	Clock          generic.Clock

	ticker    *time.Ticker
	stop      chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	lastCheck time.Time
}

// CheckResult reports what one check ran. A nil report means the job was
// not due.
type CheckResult struct {
	CheckedAt time.Time              `json:"checked_at"`
	Accrual   *leave.AccrualReport   `json:"accrual,omitempty"`
	Retention *leave.RetentionReport `json:"retention,omitempty"`
}

// SchedulerStatus is the scheduler's state as served by the API.
type SchedulerStatus struct {
	Enabled       bool      `json:"enabled"`
	Running       bool      `json:"running"`
	CheckInterval string    `json:"check_interval"`
	LastCheck     time.Time `json:"last_check,omitempty"`
	NextCheck     time.Time `json:"next_check,omitempty"`
}

// NewJobScheduler creates a scheduler over the wired jobs.
func NewJobScheduler(svc *Services, logger *slog.Logger) *JobScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobScheduler{
		Accrual:        svc.Accrual,
		Retention:      svc.Retention,
		Jobs:           svc.Store.Jobs(),
		CheckInterval:  time.Hour,
		RetentionEvery: DefaultRetentionEvery,
		Enabled:        true,
		Logger:         logger.With("component", "scheduler"),
		Clock:          svc.Accrual.Clock,
	}
}

// Start begins the scheduler.
func (s *JobScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info("scheduler started", "check_interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight check to finish.
func (s *JobScheduler) Stop() {
	s.mu.Lock()
	ticker, stop := s.ticker, s.stop
	s.ticker = nil
	s.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	s.wg.Wait()
	s.Logger.Info("scheduler stopped")
}

func (s *JobScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	s.checkAndProcess(ctx)

	for {
		select {
		case <-ticker.C:
			s.checkAndProcess(ctx)
		case <-stop:
			return
		}
	}
}

func (s *JobScheduler) checkAndProcess(ctx context.Context) {
	if _, err := s.RunNow(ctx); err != nil {
		s.Logger.Error("scheduled check failed", "error", err)
	}
}

// RunNow performs one check immediately and returns what it ran. A lease
// held elsewhere is not an error: the job is reported as not run.
func (s *JobScheduler) RunNow(ctx context.Context) (*CheckResult, error) {
	now := s.Clock.Now()
	s.mu.Lock()
	s.lastCheck = now
	s.mu.Unlock()

	result := &CheckResult{CheckedAt: now}
	var errs []error

	// 1. Accrual for the month that just ended
	year, month := previousMonth(now)
	done, err := s.Jobs.HasCompletedRun(ctx, leave.AccrualJobName, year, month)
	switch {
	case err != nil:
		errs = append(errs, err)
	case done:
		s.Logger.Debug("accrual already completed", "year", year, "month", int(month))
	default:
		report, err := s.Accrual.Run(ctx, leave.AccrualRequest{Year: year, Month: month})
		switch {
		case errors.Is(err, generic.ErrJobRunning):
			s.Logger.Info("accrual lease held elsewhere, skipping", "year", year, "month", int(month))
		case err != nil:
			errs = append(errs, err)
		default:
			result.Accrual = report
		}
	}

	// 2. Retention sweep
	if s.Retention != nil && s.Retention.MaxAge > 0 {
		due, err := s.retentionDue(ctx, now)
		switch {
		case err != nil:
			errs = append(errs, err)
		case due:
			report, err := s.Retention.Run(ctx, false)
			switch {
			case errors.Is(err, generic.ErrJobRunning):
				s.Logger.Info("retention lease held elsewhere, skipping")
			case err != nil:
				errs = append(errs, err)
			default:
				result.Retention = report
			}
		}
	}

	return result, errors.Join(errs...)
}

func (s *JobScheduler) retentionDue(ctx context.Context, now time.Time) (bool, error) {
	every := s.RetentionEvery
	if every <= 0 {
		every = DefaultRetentionEvery
	}
	runs, err := s.Jobs.ListRuns(ctx, leave.RetentionJobName, 1)
	if err != nil {
		return false, err
	}
	if len(runs) == 0 {
		return true, nil
	}
	return now.Sub(runs[0].StartedAt) >= every, nil
}

// Status returns the scheduler's current state.
func (s *JobScheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SchedulerStatus{
		Enabled:       s.Enabled,
		Running:       s.ticker != nil,
		CheckInterval: s.CheckInterval.String(),
		LastCheck:     s.lastCheck,
	}
	if st.Running && !s.lastCheck.IsZero() {
		st.NextCheck = s.lastCheck.Add(s.CheckInterval)
	}
	return st
}

// previousMonth returns the calendar month before now's.
func previousMonth(now time.Time) (int, time.Month) {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	prev := first.AddDate(0, -1, 0)
	return prev.Year(), prev.Month()
}
