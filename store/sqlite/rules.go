package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/rules"
)

// =============================================================================
// RULES STORE (rules.Store)
// =============================================================================

type rulesStore struct{ conn }

// Rules returns the allowance/deduction catalog and override store.
func (s *Store) Rules() rules.Store { return rulesStore{newConn(s.db)} }

func (r rulesStore) SaveType(ctx context.Context, t *rules.RuleType) error {
	query := `
		INSERT INTO rule_types
		(id, kind, code, name, calculation_type, default_amount, percentage, percentage_base,
		 formula, is_taxable, is_mandatory, frequency, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			calculation_type = excluded.calculation_type,
			default_amount = excluded.default_amount,
			percentage = excluded.percentage,
			percentage_base = excluded.percentage_base,
			formula = excluded.formula,
			is_taxable = excluded.is_taxable,
			is_mandatory = excluded.is_mandatory,
			frequency = excluded.frequency,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`
	_, err := r.q.ExecContext(ctx, query,
		t.ID, t.Kind, t.Code, t.Name, t.CalculationType,
		t.DefaultAmount, t.Percentage, nullString(string(t.PercentageBase)), nullString(t.Formula),
		t.IsTaxable, t.IsMandatory, t.Frequency, t.IsActive,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.DuplicateError{Entity: string(t.Kind) + " type", Key: t.Code}
		}
		return fmt.Errorf("failed to save rule type: %w", err)
	}
	return nil
}

const ruleTypeSelect = `
	SELECT id, kind, code, name, calculation_type, default_amount, percentage, percentage_base,
	       formula, is_taxable, is_mandatory, frequency, is_active, created_at, updated_at
	FROM rule_types`

func scanRuleType(row scanner) (rules.RuleType, error) {
	var (
		t                    rules.RuleType
		base, formula        sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&t.ID, &t.Kind, &t.Code, &t.Name, &t.CalculationType,
		&t.DefaultAmount, &t.Percentage, &base, &formula,
		&t.IsTaxable, &t.IsMandatory, &t.Frequency, &t.IsActive, &createdAt, &updatedAt)
	if err != nil {
		return t, err
	}
	t.PercentageBase = rules.PercentageBase(base.String)
	t.Formula = formula.String
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return t, nil
}

func (r rulesStore) GetType(ctx context.Context, id string) (*rules.RuleType, error) {
	t, err := scanRuleType(r.q.QueryRowContext(ctx, ruleTypeSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrTypeNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTypes returns the types of kind ordered by code. An empty kind lists
// both kinds.
func (r rulesStore) ListTypes(ctx context.Context, kind rules.Kind, activeOnly bool) ([]rules.RuleType, error) {
	query := ruleTypeSelect + " WHERE 1 = 1"
	var args []any
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	if activeOnly {
		query += " AND is_active = 1"
	}
	query += " ORDER BY kind, code"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule types: %w", err)
	}
	defer rows.Close()

	var out []rules.RuleType
	for rows.Next() {
		t, err := scanRuleType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule type: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// OVERRIDES
// =============================================================================

func (r rulesStore) SaveOverride(ctx context.Context, o *rules.Override) error {
	var end sql.NullString
	if o.EndDate != nil {
		end = nullDate(*o.EndDate)
	}
	query := `
		INSERT INTO employee_overrides
		(id, employee_id, type_id, kind, amount, effective_date, end_date, is_active, reason, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			end_date = excluded.end_date,
			is_active = excluded.is_active,
			reason = excluded.reason
	`
	_, err := r.q.ExecContext(ctx, query,
		o.ID, o.EmployeeID, o.TypeID, o.Kind, o.Amount,
		formatDate(o.EffectiveDate), end, o.IsActive,
		nullString(o.Reason), nullString(o.CreatedBy), formatTime(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save override: %w", err)
	}
	return nil
}

const overrideSelect = `
	SELECT id, employee_id, type_id, kind, amount, effective_date, end_date, is_active,
	       reason, created_by, created_at
	FROM employee_overrides`

func scanOverride(row scanner) (rules.Override, error) {
	var (
		o                 rules.Override
		effective         string
		end               sql.NullString
		reason, createdBy sql.NullString
		createdAt         string
	)
	err := row.Scan(&o.ID, &o.EmployeeID, &o.TypeID, &o.Kind, &o.Amount,
		&effective, &end, &o.IsActive, &reason, &createdBy, &createdAt)
	if err != nil {
		return o, err
	}
	o.EffectiveDate = parseDate(effective)
	if end.Valid {
		d := parseDate(end.String)
		o.EndDate = &d
	}
	o.Reason = reason.String
	o.CreatedBy = createdBy.String
	o.CreatedAt = parseTime(createdAt)
	return o, nil
}

func (r rulesStore) GetOverride(ctx context.Context, id string) (*rules.Override, error) {
	o, err := scanOverride(r.q.QueryRowContext(ctx, overrideSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("override %w: %s", generic.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOverrides returns every override of the employee and kind, newest
// first. Date filtering is the resolver's job.
func (r rulesStore) ListOverrides(ctx context.Context, employeeID generic.EmployeeID, kind rules.Kind) ([]rules.Override, error) {
	rows, err := r.q.QueryContext(ctx,
		overrideSelect+" WHERE employee_id = ? AND kind = ? ORDER BY created_at DESC, id DESC",
		employeeID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	var out []rules.Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
