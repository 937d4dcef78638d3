package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/benefits"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/rules"
)

// =============================================================================
// BENEFITS STORE (benefits.Store)
// =============================================================================

type benefitsStore struct{ conn }

// Benefits returns the benefit type, cycle, item and adjustment store.
func (s *Store) Benefits() benefits.Store { return benefitsStore{newConn(s.db)} }

func (b benefitsStore) WithTx(ctx context.Context, fn func(benefits.Store) error) error {
	return b.withTx(ctx, func(c conn) error { return fn(benefitsStore{c}) })
}

// =============================================================================
// TYPES
// =============================================================================

func (b benefitsStore) SaveType(ctx context.Context, t *benefits.BenefitType) error {
	query := `
		INSERT INTO benefit_types
		(id, code, name, category, calculation_type, default_amount, percentage, percentage_base,
		 formula, minimum_service_months, is_taxable, is_prorated, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			category = excluded.category,
			calculation_type = excluded.calculation_type,
			default_amount = excluded.default_amount,
			percentage = excluded.percentage,
			percentage_base = excluded.percentage_base,
			formula = excluded.formula,
			minimum_service_months = excluded.minimum_service_months,
			is_taxable = excluded.is_taxable,
			is_prorated = excluded.is_prorated,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`
	_, err := b.q.ExecContext(ctx, query,
		t.ID, t.Code, t.Name, t.Category, t.CalculationType,
		t.DefaultAmount, t.Percentage, nullString(string(t.PercentageBase)), nullString(t.Formula),
		t.MinimumServiceMonths, t.IsTaxable, t.IsProrated, t.IsActive,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.DuplicateError{Entity: "benefit type", Key: t.Code}
		}
		return fmt.Errorf("failed to save benefit type: %w", err)
	}
	return nil
}

const benefitTypeSelect = `
	SELECT id, code, name, category, calculation_type, default_amount, percentage, percentage_base,
	       formula, minimum_service_months, is_taxable, is_prorated, is_active, created_at, updated_at
	FROM benefit_types`

func scanBenefitType(row scanner) (benefits.BenefitType, error) {
	var (
		t                    benefits.BenefitType
		base, formula        sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Category, &t.CalculationType,
		&t.DefaultAmount, &t.Percentage, &base, &formula, &t.MinimumServiceMonths,
		&t.IsTaxable, &t.IsProrated, &t.IsActive, &createdAt, &updatedAt)
	if err != nil {
		return t, err
	}
	t.PercentageBase = rules.PercentageBase(base.String)
	t.Formula = formula.String
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return t, nil
}

func (b benefitsStore) GetType(ctx context.Context, id string) (*benefits.BenefitType, error) {
	t, err := scanBenefitType(b.q.QueryRowContext(ctx, benefitTypeSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("benefit %w: %s", generic.ErrTypeNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (b benefitsStore) ListTypes(ctx context.Context, activeOnly bool) ([]benefits.BenefitType, error) {
	query := benefitTypeSelect
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY code"

	rows, err := b.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query benefit types: %w", err)
	}
	defer rows.Close()

	var out []benefits.BenefitType
	for rows.Next() {
		t, err := scanBenefitType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan benefit type: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// CYCLES
// =============================================================================

func (b benefitsStore) CreateCycle(ctx context.Context, c *benefits.Cycle) error {
	query := `
		INSERT INTO benefit_cycles
		(id, benefit_type_id, cycle_year, cycle_name, cutoff_date, applicable_date, payment_date,
		 status, total_amount, employee_count, notes, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := b.q.ExecContext(ctx, query,
		c.ID, c.BenefitTypeID, c.CycleYear, c.CycleName,
		nullDate(c.CutoffDate), nullDate(c.ApplicableDate), nullDate(c.PaymentDate),
		c.Status, c.TotalAmount, c.EmployeeCount, nullString(c.Notes), nullString(c.CreatedBy),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.DuplicateError{
				Entity: "benefit cycle",
				Key:    fmt.Sprintf("%s/%d/%s", c.BenefitTypeID, c.CycleYear, c.CycleName),
			}
		}
		return fmt.Errorf("failed to create cycle: %w", err)
	}
	return nil
}

const cycleSelect = `
	SELECT id, benefit_type_id, cycle_year, cycle_name, cutoff_date, applicable_date, payment_date,
	       status, total_amount, employee_count, notes, created_by, created_at, updated_at
	FROM benefit_cycles`

func scanCycle(row scanner) (benefits.Cycle, error) {
	var (
		c                           benefits.Cycle
		cutoff, applicable, payment sql.NullString
		notes, createdBy            sql.NullString
		createdAt, updatedAt        string
	)
	err := row.Scan(&c.ID, &c.BenefitTypeID, &c.CycleYear, &c.CycleName,
		&cutoff, &applicable, &payment, &c.Status, &c.TotalAmount, &c.EmployeeCount,
		&notes, &createdBy, &createdAt, &updatedAt)
	if err != nil {
		return c, err
	}
	c.CutoffDate = parseNullDate(cutoff)
	c.ApplicableDate = parseNullDate(applicable)
	c.PaymentDate = parseNullDate(payment)
	c.Notes = notes.String
	c.CreatedBy = createdBy.String
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

func (b benefitsStore) GetCycle(ctx context.Context, id string) (*benefits.Cycle, error) {
	c, err := scanCycle(b.q.QueryRowContext(ctx, cycleSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrCycleNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (b benefitsStore) ListCycles(ctx context.Context, f benefits.CycleFilter) ([]benefits.Cycle, error) {
	query := cycleSelect + " WHERE 1 = 1"
	var args []any
	if f.BenefitTypeID != "" {
		query += " AND benefit_type_id = ?"
		args = append(args, f.BenefitTypeID)
	}
	if f.Year != 0 {
		query += " AND cycle_year = ?"
		args = append(args, f.Year)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	query += " ORDER BY cycle_year DESC, created_at DESC"

	rows, err := b.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var out []benefits.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (b benefitsStore) TransitionCycle(ctx context.Context, id string, to benefits.CycleStatus, from []benefits.CycleStatus, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := append([]any{to, formatTime(at), id}, stringArgs(from)...)
	res, err := b.q.ExecContext(ctx,
		"UPDATE benefit_cycles SET status = ?, updated_at = ? WHERE id = ? AND status IN ("+placeholders(len(from))+")",
		args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition cycle: %w", err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

func (b benefitsStore) SaveTotals(ctx context.Context, id string, total decimal.Decimal, count int, at time.Time) error {
	_, err := b.q.ExecContext(ctx,
		"UPDATE benefit_cycles SET total_amount = ?, employee_count = ?, updated_at = ? WHERE id = ?",
		total, count, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to save cycle totals: %w", err)
	}
	return nil
}

// =============================================================================
// ITEMS
// =============================================================================

// CreateItem inserts without ON CONFLICT: the (cycle, employee) unique index
// rejects a second item.
func (b benefitsStore) CreateItem(ctx context.Context, it *benefits.Item) error {
	query := `
		INSERT INTO benefit_items
		(id, cycle_id, employee_id, base_salary, service_months, calculated_amount, adjustment_amount,
		 final_amount, tax_amount, net_amount, is_eligible, eligibility_reason, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := b.q.ExecContext(ctx, query,
		it.ID, it.CycleID, it.EmployeeID, it.BaseSalary, it.ServiceMonths,
		it.CalculatedAmount, it.AdjustmentAmount, it.FinalAmount, it.TaxAmount, it.NetAmount,
		it.IsEligible, nullString(it.EligibilityReason), it.Status,
		formatTime(it.CreatedAt), formatTime(it.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.DuplicateError{Entity: "benefit item", Key: it.CycleID + "/" + string(it.EmployeeID)}
		}
		return fmt.Errorf("failed to create benefit item: %w", err)
	}
	return nil
}

const benefitItemSelect = `
	SELECT id, cycle_id, employee_id, base_salary, service_months, calculated_amount, adjustment_amount,
	       final_amount, tax_amount, net_amount, is_eligible, eligibility_reason, status, created_at, updated_at
	FROM benefit_items`

func scanBenefitItem(row scanner) (benefits.Item, error) {
	var (
		it                   benefits.Item
		reason               sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&it.ID, &it.CycleID, &it.EmployeeID, &it.BaseSalary, &it.ServiceMonths,
		&it.CalculatedAmount, &it.AdjustmentAmount, &it.FinalAmount, &it.TaxAmount, &it.NetAmount,
		&it.IsEligible, &reason, &it.Status, &createdAt, &updatedAt)
	if err != nil {
		return it, err
	}
	it.EligibilityReason = reason.String
	it.CreatedAt = parseTime(createdAt)
	it.UpdatedAt = parseTime(updatedAt)
	return it, nil
}

func (b benefitsStore) GetItem(ctx context.Context, id string) (*benefits.Item, error) {
	it, err := scanBenefitItem(b.q.QueryRowContext(ctx, benefitItemSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("benefit %w: %s", generic.ErrItemNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (b benefitsStore) ListItems(ctx context.Context, cycleID string) ([]benefits.Item, error) {
	rows, err := b.q.QueryContext(ctx, benefitItemSelect+" WHERE cycle_id = ? ORDER BY employee_id", cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query benefit items: %w", err)
	}
	defer rows.Close()

	var out []benefits.Item
	for rows.Next() {
		it, err := scanBenefitItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan benefit item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (b benefitsStore) UpdateItemAmounts(ctx context.Context, it *benefits.Item, from []benefits.ItemStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := append([]any{
		it.AdjustmentAmount, it.FinalAmount, it.TaxAmount, it.NetAmount, formatTime(it.UpdatedAt), it.ID,
	}, stringArgs(from)...)
	res, err := b.q.ExecContext(ctx, `
		UPDATE benefit_items
		SET adjustment_amount = ?, final_amount = ?, tax_amount = ?, net_amount = ?, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders(len(from))+`)`,
		args...)
	if err != nil {
		return false, fmt.Errorf("failed to update benefit item: %w", err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

func (b benefitsStore) TransitionItem(ctx context.Context, id string, to benefits.ItemStatus, from []benefits.ItemStatus, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := append([]any{to, formatTime(at), id}, stringArgs(from)...)
	res, err := b.q.ExecContext(ctx,
		"UPDATE benefit_items SET status = ?, updated_at = ? WHERE id = ? AND status IN ("+placeholders(len(from))+")",
		args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition benefit item: %w", err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

func (b benefitsStore) TransitionItems(ctx context.Context, cycleID string, ids []string, to benefits.ItemStatus, from []benefits.ItemStatus, eligibleOnly bool, at time.Time) (int, error) {
	if len(from) == 0 {
		return 0, nil
	}
	query := "UPDATE benefit_items SET status = ?, updated_at = ? WHERE cycle_id = ? AND status IN (" + placeholders(len(from)) + ")"
	args := append([]any{to, formatTime(at), cycleID}, stringArgs(from)...)
	if eligibleOnly {
		query += " AND is_eligible = 1"
	}
	if len(ids) > 0 {
		query += " AND id IN (" + placeholders(len(ids)) + ")"
		args = append(args, stringArgs(ids)...)
	}
	res, err := b.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to transition benefit items: %w", err)
	}
	return rowsAffected(res)
}

// =============================================================================
// ADJUSTMENT LEDGER (append-only)
// =============================================================================

func (b benefitsStore) AppendAdjustment(ctx context.Context, a *benefits.Adjustment) error {
	_, err := b.q.ExecContext(ctx, `
		INSERT INTO benefit_adjustments (id, item_id, adjustment_type, amount, delta, reason, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ItemID, a.Type, a.Amount, a.Delta, a.Reason, nullString(a.CreatedBy), formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append adjustment: %w", err)
	}
	return nil
}

func (b benefitsStore) ListAdjustments(ctx context.Context, itemID string) ([]benefits.Adjustment, error) {
	rows, err := b.q.QueryContext(ctx, `
		SELECT id, item_id, adjustment_type, amount, delta, reason, created_by, created_at
		FROM benefit_adjustments
		WHERE item_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	defer rows.Close()

	var out []benefits.Adjustment
	for rows.Next() {
		var (
			a         benefits.Adjustment
			createdBy sql.NullString
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.ItemID, &a.Type, &a.Amount, &a.Delta, &a.Reason, &createdBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		a.CreatedBy = createdBy.String
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
