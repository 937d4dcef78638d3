/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the engine using SQLite. In
  production the same patterns apply to PostgreSQL; only minor SQL dialect
  differences.

INTERFACES IMPLEMENTED:
  generic.Directory, generic.AuditLog: employees, salary_history, audit_log
  rules.Store:                         rule_types, employee_overrides
  payroll.Store:                       payroll_periods, payroll_items, payroll_item_lines, attendance_records
  benefits.Store:                      benefit_types, benefit_cycles, benefit_items, benefit_adjustments
  leave.Store, leave.JobStore:         leave_balances, leave_accruals, job_runs, job_leases

  Each domain store is an adapter over the same connection:
    store.Payroll(), store.Benefits(), store.Rules(), store.Leave(), store.Jobs()

TRANSACTIONS:
  An adapter's WithTx begins a database transaction and hands fn an adapter
  bound to it. Calling WithTx on a bound adapter joins the open transaction.
  The pool holds a single connection, so code running inside fn must only use
  the adapter it was given; the audit log is written after commit.

UNIQUENESS:
  The natural keys are unique indexes. Violations are translated to
  *generic.DuplicateError (or generic.ErrAlreadyAccrued for the accrual
  ledger), never surfaced as driver errors.

FORMATS:
  Dates are stored as "YYYY-MM-DD", timestamps as fixed-width UTC RFC 3339
  with nanoseconds (newest-override ordering and lease expiry compare them
  as text), decimals as text.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := &payroll.Service{Store: store.Payroll(), Directory: store, Catalog: store.Rules()}

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/payroll-engine/generic"
)

// Store owns the database handle. Domain stores are obtained from it.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer, and every connection to ":memory:" is a
	// separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Employee directory (owned by HR, read by the engine)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		monthly_salary TEXT NOT NULL,
		hire_date TEXT NOT NULL,
		separation_date TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS salary_history (
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		effective_date TEXT NOT NULL,
		monthly_salary TEXT NOT NULL,
		UNIQUE(employee_id, effective_date)
	);

	-- Allowance / deduction catalog
	CREATE TABLE IF NOT EXISTS rule_types (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		calculation_type TEXT NOT NULL,
		default_amount TEXT NOT NULL DEFAULT '0',
		percentage TEXT NOT NULL DEFAULT '0',
		percentage_base TEXT,
		formula TEXT,
		is_taxable INTEGER NOT NULL DEFAULT 0,
		is_mandatory INTEGER NOT NULL DEFAULT 0,
		frequency TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(kind, code)
	);

	CREATE TABLE IF NOT EXISTS employee_overrides (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		type_id TEXT NOT NULL REFERENCES rule_types(id),
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		end_date TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		reason TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	-- Resolution hot path: overrides of one employee and kind
	CREATE INDEX IF NOT EXISTS idx_overrides_employee_kind
		ON employee_overrides(employee_id, kind, created_at DESC);

	-- Payroll
	CREATE TABLE IF NOT EXISTS payroll_periods (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		period_number INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		pay_date TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT,
		UNIQUE(year, month, period_number)
	);

	CREATE TABLE IF NOT EXISTS payroll_items (
		id TEXT PRIMARY KEY,
		period_id TEXT NOT NULL REFERENCES payroll_periods(id),
		employee_id TEXT NOT NULL,
		working_days TEXT NOT NULL,
		daily_rate TEXT NOT NULL,
		basic_pay TEXT NOT NULL,
		total_allowances TEXT NOT NULL,
		total_deductions TEXT NOT NULL,
		gross_pay TEXT NOT NULL,
		net_pay TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(period_id, employee_id)
	);

	CREATE INDEX IF NOT EXISTS idx_payroll_items_period_status
		ON payroll_items(period_id, status);

	CREATE TABLE IF NOT EXISTS payroll_item_lines (
		item_id TEXT NOT NULL REFERENCES payroll_items(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		type_id TEXT NOT NULL,
		code TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		source TEXT NOT NULL,
		override_id TEXT,
		PRIMARY KEY(item_id, position)
	);

	CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		period_id TEXT NOT NULL REFERENCES payroll_periods(id),
		employee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		UNIQUE(period_id, employee_id, date)
	);

	-- Benefits
	CREATE TABLE IF NOT EXISTS benefit_types (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		calculation_type TEXT NOT NULL,
		default_amount TEXT NOT NULL DEFAULT '0',
		percentage TEXT NOT NULL DEFAULT '0',
		percentage_base TEXT,
		formula TEXT,
		minimum_service_months INTEGER NOT NULL DEFAULT 0,
		is_taxable INTEGER NOT NULL DEFAULT 0,
		is_prorated INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS benefit_cycles (
		id TEXT PRIMARY KEY,
		benefit_type_id TEXT NOT NULL REFERENCES benefit_types(id),
		cycle_year INTEGER NOT NULL,
		cycle_name TEXT NOT NULL,
		cutoff_date TEXT,
		applicable_date TEXT,
		payment_date TEXT,
		status TEXT NOT NULL,
		total_amount TEXT NOT NULL DEFAULT '0',
		employee_count INTEGER NOT NULL DEFAULT 0,
		notes TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(benefit_type_id, cycle_year, cycle_name)
	);

	CREATE TABLE IF NOT EXISTS benefit_items (
		id TEXT PRIMARY KEY,
		cycle_id TEXT NOT NULL REFERENCES benefit_cycles(id),
		employee_id TEXT NOT NULL,
		base_salary TEXT NOT NULL,
		service_months INTEGER NOT NULL,
		calculated_amount TEXT NOT NULL,
		adjustment_amount TEXT NOT NULL DEFAULT '0',
		final_amount TEXT NOT NULL,
		tax_amount TEXT NOT NULL DEFAULT '0',
		net_amount TEXT NOT NULL,
		is_eligible INTEGER NOT NULL,
		eligibility_reason TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(cycle_id, employee_id)
	);

	CREATE INDEX IF NOT EXISTS idx_benefit_items_cycle_status
		ON benefit_items(cycle_id, status);

	-- Append-only adjustment ledger
	CREATE TABLE IF NOT EXISTS benefit_adjustments (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL REFERENCES benefit_items(id),
		adjustment_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		delta TEXT NOT NULL,
		reason TEXT NOT NULL,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_benefit_adjustments_item
		ON benefit_adjustments(item_id, created_at);

	-- Leave
	CREATE TABLE IF NOT EXISTS leave_balances (
		employee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		vacation_earned TEXT NOT NULL DEFAULT '0',
		sick_earned TEXT NOT NULL DEFAULT '0',
		vacation_used TEXT NOT NULL DEFAULT '0',
		sick_used TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY(employee_id, year)
	);

	-- CRITICAL: one credited month per employee
	CREATE TABLE IF NOT EXISTS leave_accruals (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		vacation_credit TEXT NOT NULL,
		sick_credit TEXT NOT NULL,
		run_id TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(employee_id, year, month)
	);

	-- Jobs
	CREATE TABLE IF NOT EXISTS job_runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		year INTEGER,
		month INTEGER,
		status TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		total_vacation TEXT NOT NULL DEFAULT '0',
		total_sick TEXT NOT NULL DEFAULT '0',
		error TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_job_runs_name_month
		ON job_runs(name, year, month, status);

	CREATE TABLE IF NOT EXISTS job_leases (
		name TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);

	-- Audit trail
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		old_values TEXT,
		new_values TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_record
		ON audit_log(table_name, record_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CONNECTION - shared by the domain adapters
// =============================================================================

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn is the handle an adapter runs its statements on: the pool, or an
// open transaction.
type conn struct {
	db *sql.DB
	q  querier
}

func newConn(db *sql.DB) conn { return conn{db: db, q: db} }

func (c conn) inTx() bool {
	_, ok := c.q.(*sql.Tx)
	return ok
}

// withTx runs fn on a conn bound to a transaction, joining the current one
// when c is already bound.
func (c conn) withTx(ctx context.Context, fn func(conn) error) error {
	if c.inTx() {
		return fn(c)
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(conn{db: c.db, q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Reset deletes all engine data. Used by tests and the demo reset endpoint.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"payroll_item_lines", "payroll_items", "attendance_records", "payroll_periods",
		"benefit_adjustments", "benefit_items", "benefit_cycles", "benefit_types",
		"employee_overrides", "rule_types",
		"leave_accruals", "leave_balances", "job_runs", "job_leases",
		"audit_log", "salary_history", "employees",
	}
	return newConn(s.db).withTx(ctx, func(c conn) error {
		for _, t := range tables {
			if _, err := c.q.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("reset %s: %w", t, err)
			}
		}
		return nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed width so that text comparison orders timestamps.
const (
	dateLayout = "2006-01-02"
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func formatDate(tp generic.TimePoint) string { return tp.Time.Format(dateLayout) }

func parseDate(s string) generic.TimePoint {
	tp, _ := generic.ParseDate(s)
	return tp
}

// nullDate stores a zero date as NULL.
func nullDate(tp generic.TimePoint) sql.NullString {
	if tp.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(tp), Valid: true}
}

func parseNullDate(ns sql.NullString) generic.TimePoint {
	if !ns.Valid {
		return generic.TimePoint{}
	}
	return parseDate(ns.String)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs[S ~string](values []S) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func rowsAffected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	return int(n), err
}
