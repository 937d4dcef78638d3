package leave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store     Store
	Directory generic.Directory
	Audit     generic.AuditLog
	Logger    *slog.Logger
	Clock     generic.Clock
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// OpenBalance creates the (employee, year) balance row with opening credits.
// Only employees with a row for the year are picked up by the accrual job.
func (s *Service) OpenBalance(ctx context.Context, actorID string, empID generic.EmployeeID, year int, opening Rate) (*Balance, error) {
	ve := &generic.ValidationError{}
	if year < 2000 || year > 2100 {
		ve.Add("year", "range", "must be between 2000 and 2100")
	}
	if opening.Vacation.IsNegative() {
		ve.Add("vacation", "gte", "must not be negative")
	}
	if opening.Sick.IsNegative() {
		ve.Add("sick", "gte", "must not be negative")
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}
	if _, err := s.Directory.GetEmployee(ctx, empID); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	b := &Balance{
		EmployeeID:     empID,
		Year:           year,
		VacationEarned: opening.Vacation,
		SickEarned:     opening.Sick,
		VacationUsed:   decimal.Zero,
		SickUsed:       decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Store.CreateBalance(ctx, b); err != nil {
		return nil, err
	}
	generic.RecordAudit(ctx, s.Audit, s.logger(), generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditCreate,
		Table:     "leave_balances",
		RecordID:  fmt.Sprintf("%s/%d", empID, year),
		NewValues: map[string]any{"vacation_earned": b.VacationEarned.String(), "sick_earned": b.SickEarned.String()},
	})
	return b, nil
}

func (s *Service) GetBalance(ctx context.Context, empID generic.EmployeeID, year int) (*Balance, error) {
	return s.Store.GetBalance(ctx, empID, year)
}

func (s *Service) ListBalances(ctx context.Context, empID generic.EmployeeID) ([]Balance, error) {
	return s.Store.ListBalances(ctx, empID)
}

func (s *Service) ListAccruals(ctx context.Context, empID generic.EmployeeID, year int) ([]Accrual, error) {
	return s.Store.ListAccruals(ctx, empID, year)
}

// RecordUsage consumes days of kind from the year's balance. Usage beyond the
// remaining credit is rejected.
func (s *Service) RecordUsage(ctx context.Context, actorID string, empID generic.EmployeeID, year int, kind Kind, days decimal.Decimal) (*Balance, error) {
	ve := &generic.ValidationError{}
	if kind != KindVacation && kind != KindSick {
		ve.Add("kind", "oneof", "must be one of: vacation sick")
	}
	if !days.IsPositive() {
		ve.Add("days", "gt", "must be greater than 0")
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	var b *Balance
	err := s.Store.WithTx(ctx, func(st Store) error {
		current, err := st.GetBalance(ctx, empID, year)
		if err != nil {
			return err
		}
		if current.remaining(kind).LessThan(days) {
			ve.Add("days", "balance", fmt.Sprintf("exceeds remaining %s credit of %s", kind, current.remaining(kind)))
			return ve
		}
		now := s.Clock.Now()
		if err := st.AddUsage(ctx, empID, year, kind, days, now); err != nil {
			return err
		}
		b, err = st.GetBalance(ctx, empID, year)
		return err
	})
	if err != nil {
		return nil, err
	}
	generic.RecordAudit(ctx, s.Audit, s.logger(), generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditUpdate,
		Table:     "leave_balances",
		RecordID:  fmt.Sprintf("%s/%d", empID, year),
		NewValues: map[string]any{"kind": kind, "days_used": days.String()},
	})
	return b, nil
}

// RemainingCredits sums unused vacation and sick credits over every year on
// record. It feeds the terminal leave benefit.
func (s *Service) RemainingCredits(ctx context.Context, empID generic.EmployeeID) (decimal.Decimal, error) {
	balances, err := s.Store.ListBalances(ctx, empID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, b := range balances {
		total = total.Add(b.Remaining())
	}
	return total, nil
}

// Accrue credits rate to (employee, year, month).
//
// This is one TRANSACTION:
//  1. The balance row for the year must exist
//  2. The ledger must not hold the month yet (ErrAlreadyAccrued)
//  3. Insert the ledger row
//  4. Add the credits to the balance
//
// Accrue does not write an audit entry; the job records one per employee
// with the outcome.
func (s *Service) Accrue(ctx context.Context, empID generic.EmployeeID, year int, month time.Month, rate Rate, runID string) (*Accrual, error) {
	if month < time.January || month > time.December {
		ve := &generic.ValidationError{}
		ve.Add("month", "range", "must be between 1 and 12")
		return nil, ve
	}
	a := &Accrual{
		ID:             generic.NewID("acr"),
		EmployeeID:     empID,
		Year:           year,
		Month:          month,
		VacationCredit: rate.Vacation,
		SickCredit:     rate.Sick,
		RunID:          runID,
		CreatedAt:      s.Clock.Now(),
	}
	err := s.Store.WithTx(ctx, func(st Store) error {
		if _, err := st.GetBalance(ctx, empID, year); err != nil {
			return err
		}
		done, err := st.HasAccrual(ctx, empID, year, month)
		if err != nil {
			return err
		}
		if done {
			return fmt.Errorf("%s %04d-%02d: %w", empID, year, month, generic.ErrAlreadyAccrued)
		}
		if err := st.RecordAccrual(ctx, a); err != nil {
			return err
		}
		return st.AddCredits(ctx, empID, year, rate.Vacation, rate.Sick, a.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// classify maps an Accrue error to a job outcome.
func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, generic.ErrAlreadyAccrued):
		return OutcomeSkipped
	case generic.IsNotFound(err), errors.Is(err, generic.ErrValidation):
		return OutcomeFailed
	default:
		return OutcomeError
	}
}
