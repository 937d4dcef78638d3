package factory

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/payroll-engine/benefits"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
	"github.com/warp/payroll-engine/rules"
)

// EmployeeWriter stores roster entries. The directory itself is read-only to
// the engine; seeding is the one writer.
type EmployeeWriter interface {
	SaveEmployee(ctx context.Context, emp generic.Employee) error
	SaveSalary(ctx context.Context, r generic.SalaryRecord) error
}

// Targets receive a seeded catalog. A nil target skips its section.
type Targets struct {
	Rules     *rules.Catalog
	Benefits  *benefits.Service
	Employees EmployeeWriter
	Leave     *leave.Service
}

// SeedReport counts what Seed wrote.
type SeedReport struct {
	RuleTypes     int `json:"rule_types"`
	BenefitTypes  int `json:"benefit_types"`
	Employees     int `json:"employees"`
	LeaveBalances int `json:"leave_balances"`
}

// Seed writes cat through the services. Types and employees are upserted by
// ID and existing leave balances are left alone, so seeding the same catalog
// twice is harmless.
func Seed(ctx context.Context, actorID string, cat *Catalog, t Targets) (*SeedReport, error) {
	report := &SeedReport{}

	if t.Rules != nil {
		for _, rt := range cat.RuleTypes {
			if _, err := t.Rules.SaveType(ctx, actorID, rt); err != nil {
				return report, fmt.Errorf("seed %s type %s: %w", rt.Kind, rt.Code, err)
			}
			report.RuleTypes++
		}
	}

	if t.Benefits != nil {
		for _, bt := range cat.BenefitTypes {
			if _, err := t.Benefits.SaveType(ctx, actorID, bt); err != nil {
				return report, fmt.Errorf("seed benefit type %s: %w", bt.Code, err)
			}
			report.BenefitTypes++
		}
	}

	if t.Employees != nil {
		for _, e := range cat.Employees {
			if err := t.Employees.SaveEmployee(ctx, e.Employee); err != nil {
				return report, fmt.Errorf("seed employee %s: %w", e.Employee.ID, err)
			}
			for _, s := range e.SalaryHistory {
				if err := t.Employees.SaveSalary(ctx, s); err != nil {
					return report, fmt.Errorf("seed salary %s: %w", e.Employee.ID, err)
				}
			}
			report.Employees++
		}
	}

	if t.Leave != nil {
		for _, e := range cat.Employees {
			if e.LeaveYear == 0 {
				continue
			}
			_, err := t.Leave.OpenBalance(ctx, actorID, e.Employee.ID, e.LeaveYear, e.OpeningLeave)
			switch {
			case errors.Is(err, generic.ErrDuplicate):
				continue
			case err != nil:
				return report, fmt.Errorf("seed leave balance %s/%d: %w", e.Employee.ID, e.LeaveYear, err)
			}
			report.LeaveBalances++
		}
	}

	return report, nil
}
