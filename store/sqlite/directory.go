package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// EMPLOYEE DIRECTORY (generic.Directory)
// =============================================================================

// SaveEmployee inserts or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp generic.Employee) error {
	query := `
		INSERT INTO employees (id, name, email, monthly_salary, hire_date, separation_date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			monthly_salary = excluded.monthly_salary,
			hire_date = excluded.hire_date,
			separation_date = excluded.separation_date,
			status = excluded.status
	`
	var separation sql.NullString
	if emp.SeparationDate != nil {
		separation = nullDate(*emp.SeparationDate)
	}
	status := emp.Status
	if status == "" {
		status = generic.EmploymentActive
	}

	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.Name, nullString(emp.Email),
		emp.MonthlySalary,
		formatDate(emp.HireDate),
		separation,
		status,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// GetEmployee retrieves an employee by ID.
func (s *Store) GetEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	row := s.db.QueryRowContext(ctx, employeeSelect+" WHERE id = ?", id)
	emp, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrEmployeeNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &emp, nil
}

// ListEmployees returns all employees.
func (s *Store) ListEmployees(ctx context.Context) ([]generic.Employee, error) {
	return s.queryEmployees(ctx, employeeSelect+" ORDER BY name")
}

// ListActiveEmployees returns employees whose status is active.
func (s *Store) ListActiveEmployees(ctx context.Context) ([]generic.Employee, error) {
	return s.queryEmployees(ctx, employeeSelect+" WHERE status = ? ORDER BY id", generic.EmploymentActive)
}

// SaveSalary records a salary history entry; a second entry on the same date
// replaces the first.
func (s *Store) SaveSalary(ctx context.Context, r generic.SalaryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO salary_history (employee_id, effective_date, monthly_salary)
		VALUES (?, ?, ?)
		ON CONFLICT(employee_id, effective_date) DO UPDATE SET monthly_salary = excluded.monthly_salary
	`, r.EmployeeID, formatDate(r.EffectiveDate), r.MonthlySalary)
	if err != nil {
		return fmt.Errorf("failed to save salary: %w", err)
	}
	return nil
}

// SalaryHistory returns the employee's salary records, oldest first.
func (s *Store) SalaryHistory(ctx context.Context, id generic.EmployeeID) ([]generic.SalaryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, effective_date, monthly_salary
		FROM salary_history
		WHERE employee_id = ?
		ORDER BY effective_date ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query salary history: %w", err)
	}
	defer rows.Close()

	var out []generic.SalaryRecord
	for rows.Next() {
		var (
			r         generic.SalaryRecord
			effective string
		)
		if err := rows.Scan(&r.EmployeeID, &effective, &r.MonthlySalary); err != nil {
			return nil, err
		}
		r.EffectiveDate = parseDate(effective)
		out = append(out, r)
	}
	return out, rows.Err()
}

const employeeSelect = `
	SELECT id, name, email, monthly_salary, hire_date, separation_date, status
	FROM employees`

type scanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row scanner) (generic.Employee, error) {
	var (
		emp        generic.Employee
		email      sql.NullString
		hireDate   string
		separation sql.NullString
	)
	if err := row.Scan(&emp.ID, &emp.Name, &email, &emp.MonthlySalary, &hireDate, &separation, &emp.Status); err != nil {
		return emp, err
	}
	emp.Email = email.String
	emp.HireDate = parseDate(hireDate)
	if separation.Valid {
		d := parseDate(separation.String)
		emp.SeparationDate = &d
	}
	return emp, nil
}

func (s *Store) queryEmployees(ctx context.Context, query string, args ...any) ([]generic.Employee, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var employees []generic.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// =============================================================================
// AUDIT LOG (generic.AuditLog)
// =============================================================================

// Append stores an audit entry. It uses the pool, never a caller's
// transaction, and must not be called from inside WithTx.
func (s *Store) Append(ctx context.Context, e generic.AuditEntry) error {
	oldJSON, err := marshalValues(e.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := marshalValues(e.NewValues)
	if err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = generic.NewID("aud")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	actor := e.ActorID
	if actor == "" {
		actor = generic.SystemActor
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor_id, action, table_name, record_id, old_values, new_values, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, actor, e.Action, e.Table, e.RecordID, oldJSON, newJSON, formatTime(e.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// AuditFilter narrows ListAudit. Zero fields match everything.
type AuditFilter struct {
	Table    string
	RecordID string
	Action   generic.AuditAction
	Limit    int
}

// ListAudit returns audit entries, newest first.
func (s *Store) ListAudit(ctx context.Context, f AuditFilter) ([]generic.AuditEntry, error) {
	query := `
		SELECT id, actor_id, action, table_name, record_id, old_values, new_values, created_at
		FROM audit_log WHERE 1 = 1`
	var args []any
	if f.Table != "" {
		query += " AND table_name = ?"
		args = append(args, f.Table)
	}
	if f.RecordID != "" {
		query += " AND record_id = ?"
		args = append(args, f.RecordID)
	}
	if f.Action != "" {
		query += " AND action = ?"
		args = append(args, f.Action)
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []generic.AuditEntry
	for rows.Next() {
		var (
			e                generic.AuditEntry
			oldJSON, newJSON sql.NullString
			createdAt        string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Table, &e.RecordID, &oldJSON, &newJSON, &createdAt); err != nil {
			return nil, err
		}
		if oldJSON.Valid {
			json.Unmarshal([]byte(oldJSON.String), &e.OldValues)
		}
		if newJSON.Valid {
			json.Unmarshal([]byte(newJSON.String), &e.NewValues)
		}
		e.Timestamp = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalValues(v map[string]any) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode audit values: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
