package leave

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/warp/payroll-engine/generic"
)

// RetentionJobName is the lease and job_runs name of the retention sweep.
const RetentionJobName = "retention_sweep"

// RetentionReport summarizes one sweep.
type RetentionReport struct {
	RunID        string    `json:"run_id,omitempty"`
	Cutoff       time.Time `json:"cutoff"`
	DryRun       bool      `json:"dry_run"`
	FilesDeleted int       `json:"files_deleted"`
	BytesFreed   int64     `json:"bytes_freed"`
	RunsDeleted  int       `json:"runs_deleted"`
}

// RetentionJob deletes generated files (payslips, exports) older than MaxAge
// under Dir, and finished job run records older than the same cutoff.
type RetentionJob struct {
	Jobs     JobStore
	Dir      string
	MaxAge   time.Duration
	LeaseTTL time.Duration
	Holder   string
	Audit    generic.AuditLog
	Logger   *slog.Logger
	Clock    generic.Clock
}

func (j *RetentionJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// Run sweeps once. A dry-run counts what would be deleted.
func (j *RetentionJob) Run(ctx context.Context, dryRun bool) (*RetentionReport, error) {
	if j.MaxAge <= 0 {
		ve := &generic.ValidationError{}
		ve.Add("max_age", "gt", "must be greater than 0")
		return nil, ve
	}
	now := j.Clock.Now()
	report := &RetentionReport{Cutoff: now.Add(-j.MaxAge), DryRun: dryRun}

	if !dryRun {
		release, err := acquireLease(ctx, j.logger(), j.Jobs, RetentionJobName, j.Holder, now, j.LeaseTTL)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	if err := j.sweepFiles(ctx, report); err != nil {
		return nil, err
	}

	if !dryRun && j.Jobs != nil {
		n, err := j.Jobs.DeleteRunsBefore(ctx, report.Cutoff)
		if err != nil {
			return nil, fmt.Errorf("delete job runs: %w", err)
		}
		report.RunsDeleted = n

		finished := j.Clock.Now()
		run := &JobRun{
			ID:         generic.NewID("run"),
			Name:       RetentionJobName,
			Status:     RunCompleted,
			Processed:  report.FilesDeleted + report.RunsDeleted,
			StartedAt:  now,
			FinishedAt: &finished,
		}
		if err := j.Jobs.SaveRun(context.WithoutCancel(ctx), run); err != nil {
			j.logger().Error("save job run failed", "run_id", run.ID, "error", err)
		} else {
			report.RunID = run.ID
		}

		generic.RecordAudit(ctx, j.Audit, j.logger(), generic.AuditEntry{
			ActorID:  generic.SystemActor,
			Action:   generic.AuditRetentionSweep,
			Table:    "job_runs",
			RecordID: run.ID,
			NewValues: map[string]any{
				"cutoff":        report.Cutoff.Format(time.RFC3339),
				"files_deleted": report.FilesDeleted,
				"bytes_freed":   report.BytesFreed,
				"runs_deleted":  report.RunsDeleted,
			},
		})
	}

	j.logger().Info("retention sweep finished",
		"dry_run", dryRun, "files_deleted", report.FilesDeleted,
		"bytes_freed", report.BytesFreed, "runs_deleted", report.RunsDeleted)
	return report, nil
}

func (j *RetentionJob) sweepFiles(ctx context.Context, report *RetentionReport) error {
	if j.Dir == "" {
		return nil
	}
	if _, err := os.Stat(j.Dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return filepath.WalkDir(j.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().Before(report.Cutoff) {
			return nil
		}
		if !report.DryRun {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove %s: %w", path, err)
			}
		}
		report.FilesDeleted++
		report.BytesFreed += info.Size()
		return nil
	})
}
