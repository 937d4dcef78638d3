package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// PAYROLL STORE (payroll.Store)
// =============================================================================

type payrollStore struct{ conn }

// Payroll returns the period, item and attendance store.
func (s *Store) Payroll() payroll.Store { return payrollStore{newConn(s.db)} }

func (p payrollStore) WithTx(ctx context.Context, fn func(payroll.Store) error) error {
	return p.withTx(ctx, func(c conn) error { return fn(payrollStore{c}) })
}

// =============================================================================
// PERIODS
// =============================================================================

func (p payrollStore) CreatePeriod(ctx context.Context, per *payroll.Period) error {
	query := `
		INSERT INTO payroll_periods
		(id, year, month, period_number, start_date, end_date, pay_date, status, notes,
		 created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := p.q.ExecContext(ctx, query,
		per.ID, per.Year, int(per.Month), per.PeriodNumber,
		formatDate(per.StartDate), formatDate(per.EndDate), formatDate(per.PayDate),
		per.Status, nullString(per.Notes), nullString(per.CreatedBy),
		formatTime(per.CreatedAt), formatTime(per.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.DuplicateError{Entity: "payroll period", Key: per.Key()}
		}
		return fmt.Errorf("failed to create period: %w", err)
	}
	return nil
}

const periodSelect = `
	SELECT id, year, month, period_number, start_date, end_date, pay_date, status, notes,
	       created_by, created_at, updated_at, deleted_at
	FROM payroll_periods`

func scanPeriod(row scanner) (payroll.Period, error) {
	var (
		per                  payroll.Period
		month                int
		start, end, pay      string
		notes, createdBy     sql.NullString
		createdAt, updatedAt string
		deletedAt            sql.NullString
	)
	err := row.Scan(&per.ID, &per.Year, &month, &per.PeriodNumber, &start, &end, &pay,
		&per.Status, &notes, &createdBy, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		return per, err
	}
	per.Month = time.Month(month)
	per.StartDate = parseDate(start)
	per.EndDate = parseDate(end)
	per.PayDate = parseDate(pay)
	per.Notes = notes.String
	per.CreatedBy = createdBy.String
	per.CreatedAt = parseTime(createdAt)
	per.UpdatedAt = parseTime(updatedAt)
	per.DeletedAt = parseNullTime(deletedAt)
	return per, nil
}

func (p payrollStore) GetPeriod(ctx context.Context, id string) (*payroll.Period, error) {
	per, err := scanPeriod(p.q.QueryRowContext(ctx, periodSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrPeriodNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &per, nil
}

func (p payrollStore) ListPeriods(ctx context.Context, f payroll.PeriodFilter) ([]payroll.Period, error) {
	query := periodSelect + " WHERE 1 = 1"
	var args []any
	if f.Year != 0 {
		query += " AND year = ?"
		args = append(args, f.Year)
	}
	if f.Month != 0 {
		query += " AND month = ?"
		args = append(args, int(f.Month))
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.IncludeArchived {
		query += " AND deleted_at IS NULL"
	}
	query += " ORDER BY year DESC, month DESC, period_number DESC"

	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	var out []payroll.Period
	for rows.Next() {
		per, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}
		out = append(out, per)
	}
	return out, rows.Err()
}

// UpdatePeriod writes the editable fields. The natural key and status are
// not touched.
func (p payrollStore) UpdatePeriod(ctx context.Context, per *payroll.Period) error {
	res, err := p.q.ExecContext(ctx, `
		UPDATE payroll_periods
		SET start_date = ?, end_date = ?, pay_date = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`, formatDate(per.StartDate), formatDate(per.EndDate), formatDate(per.PayDate),
		nullString(per.Notes), formatTime(per.UpdatedAt), per.ID)
	if err != nil {
		return fmt.Errorf("failed to update period: %w", err)
	}
	if n, _ := rowsAffected(res); n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrPeriodNotFound, per.ID)
	}
	return nil
}

func (p payrollStore) DeletePeriod(ctx context.Context, id string) error {
	res, err := p.q.ExecContext(ctx, "DELETE FROM payroll_periods WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete period: %w", err)
	}
	if n, _ := rowsAffected(res); n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrPeriodNotFound, id)
	}
	return nil
}

// TransitionPeriod is a compare-and-set on status.
func (p payrollStore) TransitionPeriod(ctx context.Context, id string, to payroll.PeriodStatus, from []payroll.PeriodStatus, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := append([]any{to, formatTime(at), id}, stringArgs(from)...)
	res, err := p.q.ExecContext(ctx,
		"UPDATE payroll_periods SET status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL AND status IN ("+placeholders(len(from))+")",
		args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition period: %w", err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

func (p payrollStore) ArchivePeriod(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := p.q.ExecContext(ctx, `
		UPDATE payroll_periods SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND deleted_at IS NULL
	`, formatTime(at), formatTime(at), id, payroll.PeriodCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to archive period: %w", err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

// =============================================================================
// ITEMS
// =============================================================================

// UpsertItem writes the item and replaces its lines in one transaction.
func (p payrollStore) UpsertItem(ctx context.Context, it *payroll.Item) error {
	return p.withTx(ctx, func(c conn) error {
		query := `
			INSERT INTO payroll_items
			(id, period_id, employee_id, working_days, daily_rate, basic_pay, total_allowances,
			 total_deductions, gross_pay, net_pay, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(period_id, employee_id) DO UPDATE SET
				working_days = excluded.working_days,
				daily_rate = excluded.daily_rate,
				basic_pay = excluded.basic_pay,
				total_allowances = excluded.total_allowances,
				total_deductions = excluded.total_deductions,
				gross_pay = excluded.gross_pay,
				net_pay = excluded.net_pay,
				status = excluded.status,
				updated_at = excluded.updated_at
		`
		_, err := c.q.ExecContext(ctx, query,
			it.ID, it.PeriodID, it.EmployeeID, it.WorkingDays, it.DailyRate, it.BasicPay,
			it.TotalAllowances, it.TotalDeductions, it.GrossPay, it.NetPay, it.Status,
			formatTime(it.CreatedAt), formatTime(it.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert item: %w", err)
		}

		// the row may predate this call; adopt its identity
		var createdAt string
		err = c.q.QueryRowContext(ctx,
			"SELECT id, created_at FROM payroll_items WHERE period_id = ? AND employee_id = ?",
			it.PeriodID, it.EmployeeID).Scan(&it.ID, &createdAt)
		if err != nil {
			return fmt.Errorf("failed to read upserted item: %w", err)
		}
		it.CreatedAt = parseTime(createdAt)

		if _, err := c.q.ExecContext(ctx, "DELETE FROM payroll_item_lines WHERE item_id = ?", it.ID); err != nil {
			return fmt.Errorf("failed to replace item lines: %w", err)
		}
		for i, l := range it.Lines {
			_, err := c.q.ExecContext(ctx, `
				INSERT INTO payroll_item_lines (item_id, position, type_id, code, kind, amount, source, override_id)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, it.ID, i, l.TypeID, l.Code, l.Kind, l.Amount, l.Source, nullString(l.OverrideID))
			if err != nil {
				return fmt.Errorf("failed to insert item line: %w", err)
			}
		}
		return nil
	})
}

const itemSelect = `
	SELECT id, period_id, employee_id, working_days, daily_rate, basic_pay, total_allowances,
	       total_deductions, gross_pay, net_pay, status, created_at, updated_at
	FROM payroll_items`

func scanItem(row scanner) (payroll.Item, error) {
	var (
		it                   payroll.Item
		createdAt, updatedAt string
	)
	err := row.Scan(&it.ID, &it.PeriodID, &it.EmployeeID, &it.WorkingDays, &it.DailyRate,
		&it.BasicPay, &it.TotalAllowances, &it.TotalDeductions, &it.GrossPay, &it.NetPay,
		&it.Status, &createdAt, &updatedAt)
	if err != nil {
		return it, err
	}
	it.CreatedAt = parseTime(createdAt)
	it.UpdatedAt = parseTime(updatedAt)
	return it, nil
}

func (p payrollStore) GetItem(ctx context.Context, id string) (*payroll.Item, error) {
	it, err := scanItem(p.q.QueryRowContext(ctx, itemSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrItemNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	lines, err := p.lines(ctx, "l.item_id = ?", id)
	if err != nil {
		return nil, err
	}
	it.Lines = lines[it.ID]
	return &it, nil
}

func (p payrollStore) FindItem(ctx context.Context, periodID string, employeeID generic.EmployeeID) (*payroll.Item, error) {
	it, err := scanItem(p.q.QueryRowContext(ctx,
		itemSelect+" WHERE period_id = ? AND employee_id = ?", periodID, employeeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lines, err := p.lines(ctx, "l.item_id = ?", it.ID)
	if err != nil {
		return nil, err
	}
	it.Lines = lines[it.ID]
	return &it, nil
}

// ListItems returns the period's items with their lines, ordered by
// employee.
func (p payrollStore) ListItems(ctx context.Context, periodID string) ([]payroll.Item, error) {
	rows, err := p.q.QueryContext(ctx, itemSelect+" WHERE period_id = ? ORDER BY employee_id", periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	var items []payroll.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	// one connection: lines are read after the item cursor is closed
	lines, err := p.lines(ctx, "i.period_id = ?", periodID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Lines = lines[items[i].ID]
	}
	return items, nil
}

func (p payrollStore) lines(ctx context.Context, where string, args ...any) (map[string][]payroll.Line, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT l.item_id, l.type_id, l.code, l.kind, l.amount, l.source, l.override_id
		FROM payroll_item_lines l
		JOIN payroll_items i ON i.id = l.item_id
		WHERE `+where+`
		ORDER BY l.item_id, l.position
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query item lines: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]payroll.Line)
	for rows.Next() {
		var (
			itemID     string
			l          payroll.Line
			overrideID sql.NullString
		)
		if err := rows.Scan(&itemID, &l.TypeID, &l.Code, &l.Kind, &l.Amount, &l.Source, &overrideID); err != nil {
			return nil, fmt.Errorf("failed to scan item line: %w", err)
		}
		l.OverrideID = overrideID.String
		out[itemID] = append(out[itemID], l)
	}
	return out, rows.Err()
}

func (p payrollStore) TransitionItem(ctx context.Context, id string, to payroll.ItemStatus, from []payroll.ItemStatus, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := append([]any{to, formatTime(at), id}, stringArgs(from)...)
	res, err := p.q.ExecContext(ctx,
		"UPDATE payroll_items SET status = ?, updated_at = ? WHERE id = ? AND status IN ("+placeholders(len(from))+")",
		args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition item: %w", err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

// TransitionItems updates every listed item (all when ids is empty) of the
// period that is currently in from. Rows in any other status are left alone.
func (p payrollStore) TransitionItems(ctx context.Context, periodID string, ids []string, to, from payroll.ItemStatus, at time.Time) (int, error) {
	query := "UPDATE payroll_items SET status = ?, updated_at = ? WHERE period_id = ? AND status = ?"
	args := []any{to, formatTime(at), periodID, from}
	if len(ids) > 0 {
		query += " AND id IN (" + placeholders(len(ids)) + ")"
		args = append(args, stringArgs(ids)...)
	}
	res, err := p.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to transition items: %w", err)
	}
	return rowsAffected(res)
}

func (p payrollStore) DeleteItems(ctx context.Context, periodID string) (int, error) {
	var n int
	err := p.withTx(ctx, func(c conn) error {
		if _, err := c.q.ExecContext(ctx,
			"DELETE FROM payroll_item_lines WHERE item_id IN (SELECT id FROM payroll_items WHERE period_id = ?)",
			periodID); err != nil {
			return fmt.Errorf("failed to delete item lines: %w", err)
		}
		res, err := c.q.ExecContext(ctx, "DELETE FROM payroll_items WHERE period_id = ?", periodID)
		if err != nil {
			return fmt.Errorf("failed to delete items: %w", err)
		}
		n, err = rowsAffected(res)
		return err
	})
	return n, err
}

// =============================================================================
// ATTENDANCE
// =============================================================================

// SaveAttendance inserts records; a second record for the same
// (period, employee, date) replaces the first.
func (p payrollStore) SaveAttendance(ctx context.Context, records []payroll.AttendanceRecord) error {
	return p.withTx(ctx, func(c conn) error {
		for _, r := range records {
			_, err := c.q.ExecContext(ctx, `
				INSERT INTO attendance_records (id, period_id, employee_id, date, status)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(period_id, employee_id, date) DO UPDATE SET status = excluded.status
			`, r.ID, r.PeriodID, r.EmployeeID, formatDate(r.Date), r.Status)
			if err != nil {
				return fmt.Errorf("failed to save attendance: %w", err)
			}
		}
		return nil
	})
}

func (p payrollStore) ListAttendance(ctx context.Context, periodID string) ([]payroll.AttendanceRecord, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, period_id, employee_id, date, status
		FROM attendance_records
		WHERE period_id = ?
		ORDER BY employee_id, date
	`, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer rows.Close()

	var out []payroll.AttendanceRecord
	for rows.Next() {
		var (
			r    payroll.AttendanceRecord
			date string
		)
		if err := rows.Scan(&r.ID, &r.PeriodID, &r.EmployeeID, &date, &r.Status); err != nil {
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		r.Date = parseDate(date)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p payrollStore) DeleteAttendance(ctx context.Context, periodID string) (int, error) {
	res, err := p.q.ExecContext(ctx, "DELETE FROM attendance_records WHERE period_id = ?", periodID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete attendance: %w", err)
	}
	return rowsAffected(res)
}
