package payroll

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/rules"
)

const (
	entityPeriod = "payroll period"
	entityItem   = "payroll item"
)

// =============================================================================
// SERVICE - Period and item state machine
// =============================================================================

type Service struct {
	Store      Store
	Directory  generic.Directory
	Catalog    Catalog
	Calculator Calculator
	Audit      generic.AuditLog // optional
	Logger     *slog.Logger
	Clock      generic.Clock
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) audit(ctx context.Context, e generic.AuditEntry) {
	generic.RecordAudit(ctx, s.Audit, s.logger(), e)
}

// =============================================================================
// PERIOD CRUD
// =============================================================================

// CreatePeriod validates in and creates a draft period. A second period with
// the same (year, month, period_number) returns a *generic.DuplicateError.
func (s *Service) CreatePeriod(ctx context.Context, actorID string, in PeriodInput) (*Period, error) {
	p, err := buildPeriod(in)
	if err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	p.ID = generic.NewID("per")
	p.Status = PeriodDraft
	p.CreatedBy = actorID
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.Store.CreatePeriod(ctx, p); err != nil {
		return nil, err
	}
	s.audit(ctx, generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditCreate,
		Table:     "payroll_periods",
		RecordID:  p.ID,
		NewValues: map[string]any{"period": p.Key(), "status": p.Status},
	})
	return p, nil
}

func buildPeriod(in PeriodInput) (*Period, error) {
	ve := &generic.ValidationError{}
	if err := generic.MergeValidation(ve, generic.ValidateStruct(in)); err != nil {
		return nil, err
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	month := time.Month(in.Month)
	window := generic.HalfMonth(in.Year, month, in.PeriodNumber)
	p := &Period{
		Year:         in.Year,
		Month:        month,
		PeriodNumber: in.PeriodNumber,
		StartDate:    in.StartDate,
		EndDate:      in.EndDate,
		PayDate:      in.PayDate,
		Notes:        in.Notes,
	}
	if p.StartDate.IsZero() {
		p.StartDate = window.Start
	}
	if p.EndDate.IsZero() {
		p.EndDate = window.End
	}
	if p.PayDate.IsZero() {
		p.PayDate = p.EndDate
	}
	if p.EndDate.Before(p.StartDate) {
		ve.Add("end_date", "gtefield", "must not be before start_date")
	}
	if p.PayDate.Before(p.EndDate) {
		ve.Add("pay_date", "gtefield", "must not be before end_date")
	}
	return p, ve.OrNil()
}

func (s *Service) GetPeriod(ctx context.Context, id string) (*Period, error) {
	return s.Store.GetPeriod(ctx, id)
}

func (s *Service) ListPeriods(ctx context.Context, f PeriodFilter) ([]Period, error) {
	return s.Store.ListPeriods(ctx, f)
}

// UpdatePeriod changes the dates and notes of a draft period. The natural
// key (year, month, period_number) is immutable.
func (s *Service) UpdatePeriod(ctx context.Context, actorID, id string, in PeriodInput) (*Period, error) {
	var updated *Period
	err := s.Store.WithTx(ctx, func(st Store) error {
		current, err := st.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != PeriodDraft || current.DeletedAt != nil {
			return generic.Guard(entityPeriod, id, "update", current.Status, PeriodDraft)
		}
		in.Year, in.Month, in.PeriodNumber = current.Year, int(current.Month), current.PeriodNumber
		p, err := buildPeriod(in)
		if err != nil {
			return err
		}
		p.ID = current.ID
		p.Status = current.Status
		p.CreatedBy = current.CreatedBy
		p.CreatedAt = current.CreatedAt
		p.UpdatedAt = s.Clock.Now()
		if err := st.UpdatePeriod(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditUpdate,
		Table:     "payroll_periods",
		RecordID:  id,
		NewValues: map[string]any{"start_date": updated.StartDate.String(), "end_date": updated.EndDate.String(), "pay_date": updated.PayDate.String()},
	})
	return updated, nil
}

// DeletePeriod hard-deletes a draft period and any attendance imported for it.
func (s *Service) DeletePeriod(ctx context.Context, actorID, id string) error {
	err := s.Store.WithTx(ctx, func(st Store) error {
		p, err := st.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != PeriodDraft {
			return generic.Guard(entityPeriod, id, "delete", p.Status, PeriodDraft)
		}
		if _, err := st.DeleteAttendance(ctx, id); err != nil {
			return fmt.Errorf("delete attendance: %w", err)
		}
		return st.DeletePeriod(ctx, id)
	})
	if err != nil {
		return err
	}
	s.audit(ctx, generic.AuditEntry{
		ActorID:  actorID,
		Action:   generic.AuditDelete,
		Table:    "payroll_periods",
		RecordID: id,
	})
	return nil
}

// ArchivePeriod soft-deletes a completed period.
func (s *Service) ArchivePeriod(ctx context.Context, actorID, id string) (*Period, error) {
	var archived *Period
	err := s.Store.WithTx(ctx, func(st Store) error {
		p, err := st.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != PeriodCompleted || p.DeletedAt != nil {
			return generic.Guard(entityPeriod, id, "archive", p.Status, PeriodCompleted)
		}
		now := s.Clock.Now()
		ok, err := st.ArchivePeriod(ctx, id, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("archive %s %s: %w", entityPeriod, id, generic.ErrStaleState)
		}
		p.DeletedAt = &now
		archived = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditDelete,
		Table:     "payroll_periods",
		RecordID:  id,
		NewValues: map[string]any{"deleted_at": archived.DeletedAt},
	})
	return archived, nil
}

// =============================================================================
// PERIOD TRANSITIONS
// =============================================================================

// transitionPeriod re-reads the period inside st, checks the guard and writes
// the new status with a compare-and-set. st must be a transactional store.
// Callers audit after commit.
func (s *Service) transitionPeriod(ctx context.Context, st Store, id, op string, to PeriodStatus, from ...PeriodStatus) (*Period, error) {
	p, err := st.GetPeriod(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.DeletedAt != nil || !slices.Contains(from, p.Status) {
		return nil, generic.Guard(entityPeriod, id, op, p.Status, from...)
	}
	now := s.Clock.Now()
	ok, err := st.TransitionPeriod(ctx, id, to, from, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s %s %s: %w", op, entityPeriod, id, generic.ErrStaleState)
	}
	p.Status = to
	p.UpdatedAt = now
	return p, nil
}

func (s *Service) auditPeriodTransition(ctx context.Context, actorID, id, op string, from, to PeriodStatus) {
	s.audit(ctx, generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditTransition,
		Table:     "payroll_periods",
		RecordID:  id,
		OldValues: map[string]any{"status": from},
		NewValues: map[string]any{"status": to, "operation": op},
	})
}

// StartProcessing moves a draft period to processing.
func (s *Service) StartProcessing(ctx context.Context, actorID, id string) (*Period, error) {
	var p *Period
	err := s.Store.WithTx(ctx, func(st Store) error {
		var err error
		p, err = s.transitionPeriod(ctx, st, id, "start processing", PeriodProcessing, PeriodDraft)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.auditPeriodTransition(ctx, actorID, id, "start processing", PeriodDraft, PeriodProcessing)
	return p, nil
}

// CompletePeriod moves a processing period to completed. Every item must be
// finalized or paid, and the period must have at least one item.
func (s *Service) CompletePeriod(ctx context.Context, actorID, id string) (*Period, error) {
	var p *Period
	err := s.Store.WithTx(ctx, func(st Store) error {
		items, err := st.ListItems(ctx, id)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("complete %s %s: no items: %w", entityPeriod, id, generic.ErrInvalidTransition)
		}
		pending := 0
		for _, it := range items {
			if it.Status != ItemFinalized && it.Status != ItemPaid {
				pending++
			}
		}
		if pending > 0 {
			return fmt.Errorf("complete %s %s: %d of %d items not finalized: %w",
				entityPeriod, id, pending, len(items), generic.ErrInvalidTransition)
		}
		p, err = s.transitionPeriod(ctx, st, id, "complete", PeriodCompleted, PeriodProcessing)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.auditPeriodTransition(ctx, actorID, id, "complete", PeriodProcessing, PeriodCompleted)
	return p, nil
}

// RevertResult reports what cancel-and-revert removed.
type RevertResult struct {
	Period            *Period `json:"period"`
	ItemsDeleted      int     `json:"items_deleted"`
	AttendanceDeleted int     `json:"attendance_deleted"`
}

// CancelAndRevert returns a processing period to draft so it can be
// reprocessed from scratch.
//
// This is one TRANSACTION:
//  1. Re-read the period and check it is processing
//  2. Delete every item and its lines
//  3. Delete the attendance imported for the period
//  4. Compare-and-set the status back to draft
//
// If any step fails nothing is deleted and the status is unchanged.
func (s *Service) CancelAndRevert(ctx context.Context, actorID, id string) (*RevertResult, error) {
	res := &RevertResult{}
	err := s.Store.WithTx(ctx, func(st Store) error {
		p, err := st.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != PeriodProcessing || p.DeletedAt != nil {
			return generic.Guard(entityPeriod, id, "cancel and revert", p.Status, PeriodProcessing)
		}

		if res.ItemsDeleted, err = st.DeleteItems(ctx, id); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		if res.AttendanceDeleted, err = st.DeleteAttendance(ctx, id); err != nil {
			return fmt.Errorf("delete attendance: %w", err)
		}

		now := s.Clock.Now()
		ok, err := st.TransitionPeriod(ctx, id, PeriodDraft, []PeriodStatus{PeriodProcessing}, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("cancel and revert %s %s: %w", entityPeriod, id, generic.ErrStaleState)
		}
		p.Status = PeriodDraft
		p.UpdatedAt = now
		res.Period = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger().Info("payroll period reverted to draft",
		"period_id", id, "items_deleted", res.ItemsDeleted, "attendance_deleted", res.AttendanceDeleted)
	s.audit(ctx, generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditCancelRevert,
		Table:     "payroll_periods",
		RecordID:  id,
		OldValues: map[string]any{"status": PeriodProcessing},
		NewValues: map[string]any{"status": PeriodDraft, "items_deleted": res.ItemsDeleted, "attendance_deleted": res.AttendanceDeleted},
	})
	return res, nil
}

// =============================================================================
// ATTENDANCE IMPORT
// =============================================================================

// ImportAttendance stores attendance records for a period that still accepts
// edits. Every record must fall inside the period window. Re-importing a day
// for the same employee replaces it.
func (s *Service) ImportAttendance(ctx context.Context, actorID, periodID string, records []AttendanceRecord) (int, error) {
	err := s.Store.WithTx(ctx, func(st Store) error {
		p, err := st.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		if !p.AcceptsEdits() {
			return generic.Guard(entityPeriod, periodID, "import attendance", p.Status, PeriodDraft, PeriodProcessing)
		}

		ve := &generic.ValidationError{}
		window := p.Window()
		for i := range records {
			r := &records[i]
			if err := generic.MergeValidation(ve, generic.ValidateStruct(r)); err != nil {
				return err
			}
			if !window.Contains(r.Date) {
				ve.Add(fmt.Sprintf("records[%d].date", i), "within", "must fall inside "+window.String())
			}
			r.PeriodID = periodID
			if r.ID == "" {
				r.ID = generic.NewID("att")
			}
		}
		if err := ve.OrNil(); err != nil {
			return err
		}
		return st.SaveAttendance(ctx, records)
	})
	if err != nil {
		return 0, err
	}
	s.audit(ctx, generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditCreate,
		Table:     "attendance_records",
		RecordID:  periodID,
		NewValues: map[string]any{"records": len(records)},
	})
	return len(records), nil
}

// =============================================================================
// PROCESSING
// =============================================================================

// run holds what every employee of one bulk run shares.
type run struct {
	period     *Period
	types      []rules.RuleType
	overrides  map[generic.EmployeeID]decimal.Decimal
	attendance map[generic.EmployeeID]decimal.Decimal
}

// ProcessBulk computes and upserts one item per employee.
//
// A draft period is moved to processing first. Each employee is written in
// its own transaction; a failure (unknown employee, calculation error, item
// no longer editable) is recorded in the result and the run continues.
//
// Working days come from req.WorkingDays, else the employee's imported
// attendance, else the workdays in the period window.
func (s *Service) ProcessBulk(ctx context.Context, actorID, periodID string, req BulkRequest) (*BulkResult, error) {
	r, err := s.prepareRun(ctx, actorID, periodID)
	if err != nil {
		return nil, err
	}
	r.overrides = req.WorkingDays

	ids := generic.UniqueIDs(req.EmployeeIDs)
	if len(ids) == 0 {
		active, err := s.Directory.ListActiveEmployees(ctx)
		if err != nil {
			return nil, fmt.Errorf("list employees: %w", err)
		}
		for _, e := range active {
			ids = append(ids, e.ID)
		}
	}

	result := &BulkResult{Items: make([]BulkEntry, 0, len(ids))}
	for _, empID := range ids {
		it, err := s.processOne(ctx, r, empID)
		if err != nil {
			s.logger().Warn("payroll item failed", "period_id", periodID, "employee_id", empID, "error", err)
			result.fail(empID, err)
			continue
		}
		result.succeed(empID, it.ID)
	}

	s.logger().Info("payroll bulk processing finished",
		"period_id", periodID, "processed", result.ProcessedCount, "failed", result.FailedCount)
	s.audit(ctx, generic.AuditEntry{
		ActorID:  actorID,
		Action:   generic.AuditBulkProcess,
		Table:    "payroll_items",
		RecordID: periodID,
		NewValues: map[string]any{
			"processed_count": result.ProcessedCount,
			"failed_count":    result.FailedCount,
			"failed":          result.Failed(),
		},
	})
	return result, nil
}

// ProcessSingle computes and upserts the item of one employee. workingDays
// overrides the derived value when set.
func (s *Service) ProcessSingle(ctx context.Context, actorID, periodID string, employeeID generic.EmployeeID, workingDays *decimal.Decimal) (*Item, error) {
	r, err := s.prepareRun(ctx, actorID, periodID)
	if err != nil {
		return nil, err
	}
	if workingDays != nil {
		r.overrides = map[generic.EmployeeID]decimal.Decimal{employeeID: *workingDays}
	}
	it, err := s.processOne(ctx, r, employeeID)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditUpdate,
		Table:     "payroll_items",
		RecordID:  it.ID,
		NewValues: itemValues(it),
	})
	return it, nil
}

// prepareRun checks the period accepts processing, moves it out of draft, and
// loads the catalog and attendance shared by every employee.
func (s *Service) prepareRun(ctx context.Context, actorID, periodID string) (*run, error) {
	var (
		period  *Period
		started bool
	)
	err := s.Store.WithTx(ctx, func(st Store) error {
		p, err := st.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		if !p.AcceptsEdits() {
			return generic.Guard(entityPeriod, periodID, "process", p.Status, PeriodDraft, PeriodProcessing)
		}
		if p.Status == PeriodDraft {
			if p, err = s.transitionPeriod(ctx, st, periodID, "start processing", PeriodProcessing, PeriodDraft); err != nil {
				return err
			}
			started = true
		}
		period = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if started {
		s.auditPeriodTransition(ctx, actorID, periodID, "start processing", PeriodDraft, PeriodProcessing)
	}

	r := &run{period: period}
	for _, k := range []rules.Kind{rules.KindAllowance, rules.KindDeduction} {
		types, err := s.Catalog.ListTypes(ctx, k, true)
		if err != nil {
			return nil, fmt.Errorf("load %s types: %w", k, err)
		}
		r.types = append(r.types, types...)
	}

	records, err := s.Store.ListAttendance(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("load attendance: %w", err)
	}
	r.attendance = make(map[generic.EmployeeID]decimal.Decimal)
	for _, rec := range records {
		r.attendance[rec.EmployeeID] = r.attendance[rec.EmployeeID].Add(rec.Status.Credit())
	}
	return r, nil
}

func (r *run) workingDays(id generic.EmployeeID) decimal.Decimal {
	if d, ok := r.overrides[id]; ok {
		return d
	}
	if d, ok := r.attendance[id]; ok {
		return d
	}
	return decimal.NewFromInt(int64(r.period.Window().Workdays()))
}

// processOne calculates and upserts one employee's item in one transaction.
func (s *Service) processOne(ctx context.Context, r *run, empID generic.EmployeeID) (*Item, error) {
	emp, err := s.Directory.GetEmployee(ctx, empID)
	if err != nil {
		return nil, err
	}
	overrides, err := rules.NewResolver(s.Catalog).OverridesFor(ctx, empID)
	if err != nil {
		return nil, err
	}
	result, err := s.Calculator.Calculate(Input{
		Employee:    emp,
		Period:      r.period,
		WorkingDays: r.workingDays(empID),
		Types:       r.types,
		Overrides:   overrides,
	})
	if err != nil {
		return nil, err
	}

	var item *Item
	err = s.Store.WithTx(ctx, func(st Store) error {
		// prepareRun left the period processing; a revert or completion since
		// then must not receive items
		p, err := st.GetPeriod(ctx, r.period.ID)
		if err != nil {
			return err
		}
		if p.Status != PeriodProcessing || p.DeletedAt != nil {
			return generic.Guard(entityPeriod, p.ID, "process", p.Status, PeriodProcessing)
		}
		existing, err := st.FindItem(ctx, r.period.ID, empID)
		if err != nil {
			return err
		}
		if existing != nil && !existing.Status.Editable() {
			return generic.Guard(entityItem, existing.ID, "process", existing.Status, ItemDraft, ItemProcessing, ItemProcessed)
		}
		now := s.Clock.Now()
		it := &Item{
			ID:         generic.NewID("itm"),
			PeriodID:   r.period.ID,
			EmployeeID: empID,
			Status:     ItemProcessed,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if existing != nil {
			it.ID = existing.ID
			it.CreatedAt = existing.CreatedAt
		}
		it.ApplyResult(result)
		if err := st.UpsertItem(ctx, it); err != nil {
			return err
		}
		item = it
		return nil
	})
	return item, err
}

// =============================================================================
// ITEM TRANSITIONS
// =============================================================================

func (s *Service) GetItem(ctx context.Context, id string) (*Item, error) {
	return s.Store.GetItem(ctx, id)
}

func (s *Service) ListItems(ctx context.Context, periodID string) ([]Item, error) {
	if _, err := s.Store.GetPeriod(ctx, periodID); err != nil {
		return nil, err
	}
	return s.Store.ListItems(ctx, periodID)
}

// RecalculateItem re-derives an item from current employee, catalog and
// override data, keeping its working days. Blocked once the item is
// finalized or the period no longer accepts edits.
func (s *Service) RecalculateItem(ctx context.Context, actorID, itemID string) (*Item, error) {
	it, err := s.Store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !it.Status.Editable() {
		return nil, generic.Guard(entityItem, itemID, "recalculate", it.Status, ItemDraft, ItemProcessing, ItemProcessed)
	}
	r, err := s.prepareRun(ctx, actorID, it.PeriodID)
	if err != nil {
		return nil, err
	}
	r.overrides = map[generic.EmployeeID]decimal.Decimal{it.EmployeeID: it.WorkingDays}

	updated, err := s.processOne(ctx, r, it.EmployeeID)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditUpdate,
		Table:     "payroll_items",
		RecordID:  itemID,
		OldValues: itemValues(it),
		NewValues: itemValues(updated),
	})
	return updated, nil
}

func (s *Service) transitionItem(ctx context.Context, actorID, id, op string, to ItemStatus, from ItemStatus) (*Item, error) {
	var it *Item
	err := s.Store.WithTx(ctx, func(st Store) error {
		current, err := st.GetItem(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != from {
			return generic.Guard(entityItem, id, op, current.Status, from)
		}
		now := s.Clock.Now()
		ok, err := st.TransitionItem(ctx, id, to, []ItemStatus{from}, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s %s %s: %w", op, entityItem, id, generic.ErrStaleState)
		}
		current.Status = to
		current.UpdatedAt = now
		it = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditTransition,
		Table:     "payroll_items",
		RecordID:  id,
		OldValues: map[string]any{"status": from},
		NewValues: map[string]any{"status": to},
	})
	return it, nil
}

// FinalizeItem moves a processed item to finalized.
func (s *Service) FinalizeItem(ctx context.Context, actorID, id string) (*Item, error) {
	return s.transitionItem(ctx, actorID, id, "finalize", ItemFinalized, ItemProcessed)
}

// MarkItemPaid moves a finalized item to paid.
func (s *Service) MarkItemPaid(ctx context.Context, actorID, id string) (*Item, error) {
	return s.transitionItem(ctx, actorID, id, "mark paid", ItemPaid, ItemFinalized)
}

// FinalizeItems finalizes the given items of a period (all when ids is
// empty) with one set-based update. Items not processed are skipped, not
// rejected; compare Affected with Requested.
func (s *Service) FinalizeItems(ctx context.Context, actorID, periodID string, ids []string) (SetResult, error) {
	return s.transitionItems(ctx, actorID, periodID, ids, "finalize", ItemFinalized, ItemProcessed)
}

// MarkItemsPaid is the set-based form of MarkItemPaid.
func (s *Service) MarkItemsPaid(ctx context.Context, actorID, periodID string, ids []string) (SetResult, error) {
	return s.transitionItems(ctx, actorID, periodID, ids, "mark paid", ItemPaid, ItemFinalized)
}

func (s *Service) transitionItems(ctx context.Context, actorID, periodID string, ids []string, op string, to, from ItemStatus) (SetResult, error) {
	res := SetResult{Requested: len(ids)}
	err := s.Store.WithTx(ctx, func(st Store) error {
		p, err := st.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		if p.DeletedAt != nil || p.Status != PeriodProcessing {
			return generic.Guard(entityPeriod, periodID, op+" items", p.Status, PeriodProcessing)
		}
		if len(ids) == 0 {
			items, err := st.ListItems(ctx, periodID)
			if err != nil {
				return err
			}
			res.Requested = len(items)
		}
		res.Affected, err = st.TransitionItems(ctx, periodID, ids, to, from, s.Clock.Now())
		return err
	})
	if err != nil {
		return SetResult{}, err
	}
	if res.Partial() {
		s.logger().Info("set-based item update skipped rows not in required status",
			"period_id", periodID, "operation", op, "requested", res.Requested, "affected", res.Affected)
	}
	s.audit(ctx, generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditTransition,
		Table:     "payroll_items",
		RecordID:  periodID,
		OldValues: map[string]any{"status": from},
		NewValues: map[string]any{"status": to, "requested": res.Requested, "affected": res.Affected},
	})
	return res, nil
}

func itemValues(it *Item) map[string]any {
	return map[string]any{
		"working_days":     it.WorkingDays.String(),
		"basic_pay":        it.BasicPay.String(),
		"total_allowances": it.TotalAllowances.String(),
		"total_deductions": it.TotalDeductions.String(),
		"gross_pay":        it.GrossPay.String(),
		"net_pay":          it.NetPay.String(),
		"status":           it.Status,
	}
}
