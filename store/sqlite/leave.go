package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
)

// =============================================================================
// LEAVE STORE (leave.Store)
// =============================================================================

type leaveStore struct{ conn }

// Leave returns the balance and accrual ledger store.
func (s *Store) Leave() leave.Store { return leaveStore{newConn(s.db)} }

func (l leaveStore) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	return l.withTx(ctx, func(c conn) error { return fn(leaveStore{c}) })
}

func (l leaveStore) CreateBalance(ctx context.Context, b *leave.Balance) error {
	_, err := l.q.ExecContext(ctx, `
		INSERT INTO leave_balances
		(employee_id, year, vacation_earned, sick_earned, vacation_used, sick_used, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, b.EmployeeID, b.Year, b.VacationEarned, b.SickEarned, b.VacationUsed, b.SickUsed,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.DuplicateError{Entity: "leave balance", Key: fmt.Sprintf("%s/%d", b.EmployeeID, b.Year)}
		}
		return fmt.Errorf("failed to create leave balance: %w", err)
	}
	return nil
}

const balanceSelect = `
	SELECT employee_id, year, vacation_earned, sick_earned, vacation_used, sick_used, created_at, updated_at
	FROM leave_balances`

func scanBalance(row scanner) (leave.Balance, error) {
	var (
		b                    leave.Balance
		createdAt, updatedAt string
	)
	err := row.Scan(&b.EmployeeID, &b.Year, &b.VacationEarned, &b.SickEarned,
		&b.VacationUsed, &b.SickUsed, &createdAt, &updatedAt)
	if err != nil {
		return b, err
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

func (l leaveStore) GetBalance(ctx context.Context, empID generic.EmployeeID, year int) (*leave.Balance, error) {
	b, err := scanBalance(l.q.QueryRowContext(ctx, balanceSelect+" WHERE employee_id = ? AND year = ?", empID, year))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("leave balance %w: %s/%d", generic.ErrNotFound, empID, year)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (l leaveStore) ListBalances(ctx context.Context, empID generic.EmployeeID) ([]leave.Balance, error) {
	rows, err := l.q.QueryContext(ctx, balanceSelect+" WHERE employee_id = ? ORDER BY year", empID)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave balances: %w", err)
	}
	defer rows.Close()

	var out []leave.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leave balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (l leaveStore) BalanceHolders(ctx context.Context, year int) ([]generic.EmployeeID, error) {
	rows, err := l.q.QueryContext(ctx, "SELECT employee_id FROM leave_balances WHERE year = ? ORDER BY employee_id", year)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance holders: %w", err)
	}
	defer rows.Close()

	var out []generic.EmployeeID
	for rows.Next() {
		var id generic.EmployeeID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AddCredits and AddUsage read, add in decimal, and write back inside one
// transaction; SQLite arithmetic on text columns would go through float.
func (l leaveStore) AddCredits(ctx context.Context, empID generic.EmployeeID, year int, vacation, sick decimal.Decimal, at time.Time) error {
	return l.withTx(ctx, func(c conn) error {
		b, err := leaveStore{c}.GetBalance(ctx, empID, year)
		if err != nil {
			return err
		}
		_, err = c.q.ExecContext(ctx, `
			UPDATE leave_balances SET vacation_earned = ?, sick_earned = ?, updated_at = ?
			WHERE employee_id = ? AND year = ?
		`, b.VacationEarned.Add(vacation), b.SickEarned.Add(sick), formatTime(at), empID, year)
		if err != nil {
			return fmt.Errorf("failed to add leave credits: %w", err)
		}
		return nil
	})
}

func (l leaveStore) AddUsage(ctx context.Context, empID generic.EmployeeID, year int, kind leave.Kind, days decimal.Decimal, at time.Time) error {
	return l.withTx(ctx, func(c conn) error {
		b, err := leaveStore{c}.GetBalance(ctx, empID, year)
		if err != nil {
			return err
		}
		column, used := "vacation_used", b.VacationUsed
		if kind == leave.KindSick {
			column, used = "sick_used", b.SickUsed
		}
		_, err = c.q.ExecContext(ctx,
			"UPDATE leave_balances SET "+column+" = ?, updated_at = ? WHERE employee_id = ? AND year = ?",
			used.Add(days), formatTime(at), empID, year)
		if err != nil {
			return fmt.Errorf("failed to record leave usage: %w", err)
		}
		return nil
	})
}

// =============================================================================
// ACCRUAL LEDGER
// =============================================================================

func (l leaveStore) HasAccrual(ctx context.Context, empID generic.EmployeeID, year int, month time.Month) (bool, error) {
	var count int
	err := l.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM leave_accruals WHERE employee_id = ? AND year = ? AND month = ?",
		empID, year, int(month)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check accrual: %w", err)
	}
	return count > 0, nil
}

func (l leaveStore) RecordAccrual(ctx context.Context, a *leave.Accrual) error {
	_, err := l.q.ExecContext(ctx, `
		INSERT INTO leave_accruals (id, employee_id, year, month, vacation_credit, sick_credit, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.EmployeeID, a.Year, int(a.Month), a.VacationCredit, a.SickCredit,
		nullString(a.RunID), formatTime(a.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%s %04d-%02d: %w", a.EmployeeID, a.Year, int(a.Month), generic.ErrAlreadyAccrued)
		}
		return fmt.Errorf("failed to record accrual: %w", err)
	}
	return nil
}

func (l leaveStore) ListAccruals(ctx context.Context, empID generic.EmployeeID, year int) ([]leave.Accrual, error) {
	query := `
		SELECT id, employee_id, year, month, vacation_credit, sick_credit, run_id, created_at
		FROM leave_accruals
		WHERE employee_id = ?`
	args := []any{empID}
	if year != 0 {
		query += " AND year = ?"
		args = append(args, year)
	}
	query += " ORDER BY year, month"

	rows, err := l.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accruals: %w", err)
	}
	defer rows.Close()

	var out []leave.Accrual
	for rows.Next() {
		var (
			a         leave.Accrual
			month     int
			runID     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.Year, &month, &a.VacationCredit, &a.SickCredit, &runID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan accrual: %w", err)
		}
		a.Month = time.Month(month)
		a.RunID = runID.String
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// JOB STORE (leave.JobStore)
// =============================================================================

type jobStore struct{ conn }

// Jobs returns the job lease and run store.
func (s *Store) Jobs() leave.JobStore { return jobStore{newConn(s.db)} }

// AcquireLease is a single upsert: the row is taken over only when it is
// expired or already ours.
func (j jobStore) AcquireLease(ctx context.Context, name, holder string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := j.q.ExecContext(ctx, `
		INSERT INTO job_leases (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			holder = excluded.holder,
			expires_at = excluded.expires_at
		WHERE job_leases.expires_at <= ? OR job_leases.holder = excluded.holder
	`, name, holder, formatTime(now.Add(ttl)), formatTime(now))
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

func (j jobStore) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := j.q.ExecContext(ctx, "DELETE FROM job_leases WHERE name = ? AND holder = ?", name, holder)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

func (j jobStore) SaveRun(ctx context.Context, r *leave.JobRun) error {
	_, err := j.q.ExecContext(ctx, `
		INSERT INTO job_runs
		(id, name, year, month, status, processed, skipped, failed, total_vacation, total_sick,
		 error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			processed = excluded.processed,
			skipped = excluded.skipped,
			failed = excluded.failed,
			total_vacation = excluded.total_vacation,
			total_sick = excluded.total_sick,
			error = excluded.error,
			finished_at = excluded.finished_at
	`, r.ID, r.Name, r.Year, int(r.Month), r.Status, r.Processed, r.Skipped, r.Failed,
		r.TotalVacation, r.TotalSick, nullString(r.Error),
		formatTime(r.StartedAt), nullTime(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save job run: %w", err)
	}
	return nil
}

// ListRuns returns the newest runs first. An empty name lists every job.
func (j jobStore) ListRuns(ctx context.Context, name string, limit int) ([]leave.JobRun, error) {
	query := `
		SELECT id, name, year, month, status, processed, skipped, failed, total_vacation, total_sick,
		       error, started_at, finished_at
		FROM job_runs`
	var args []any
	if name != "" {
		query += " WHERE name = ?"
		args = append(args, name)
	}
	query += " ORDER BY started_at DESC, rowid DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job runs: %w", err)
	}
	defer rows.Close()

	var out []leave.JobRun
	for rows.Next() {
		var (
			r                 leave.JobRun
			year, month       sql.NullInt64
			errText, finished sql.NullString
			started           string
		)
		if err := rows.Scan(&r.ID, &r.Name, &year, &month, &r.Status, &r.Processed, &r.Skipped, &r.Failed,
			&r.TotalVacation, &r.TotalSick, &errText, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		r.Year = int(year.Int64)
		r.Month = time.Month(month.Int64)
		r.Error = errText.String
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseNullTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (j jobStore) HasCompletedRun(ctx context.Context, name string, year int, month time.Month) (bool, error) {
	var count int
	err := j.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM job_runs WHERE name = ? AND year = ? AND month = ? AND status = ?",
		name, year, int(month), leave.RunCompleted).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check job runs: %w", err)
	}
	return count > 0, nil
}

func (j jobStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := j.q.ExecContext(ctx,
		"DELETE FROM job_runs WHERE status != ? AND started_at < ?",
		leave.RunRunning, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete job runs: %w", err)
	}
	return rowsAffected(res)
}
