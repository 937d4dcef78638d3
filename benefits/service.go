package benefits

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

const (
	entityCycle = "benefit cycle"
	entityItem  = "benefit item"
)

// =============================================================================
// SERVICE - Cycle and item state machine
// =============================================================================

type Service struct {
	Store     Store
	Directory generic.Directory
	Tax       TaxPolicy
	Audit     generic.AuditLog // optional
	Logger    *slog.Logger
	Clock     generic.Clock
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) tax() TaxPolicy {
	if s.Tax == nil {
		return NoTax{}
	}
	return s.Tax
}

func (s *Service) audit(ctx context.Context, e generic.AuditEntry) {
	generic.RecordAudit(ctx, s.Audit, s.logger(), e)
}

// =============================================================================
// BENEFIT TYPES
// =============================================================================

// SaveType validates and stores t. An empty ID creates a new type; an
// unknown ID creates a type under that ID.
func (s *Service) SaveType(ctx context.Context, actorID string, t BenefitType) (*BenefitType, error) {
	if err := ValidateType(t); err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	action := generic.AuditUpdate
	if t.ID == "" {
		t.ID = generic.NewID("bnt")
	}
	existing, err := s.Store.GetType(ctx, t.ID)
	switch {
	case generic.IsNotFound(err):
		t.CreatedAt = now
		action = generic.AuditCreate
	case err != nil:
		return nil, err
	default:
		t.CreatedAt = existing.CreatedAt
	}
	t.UpdatedAt = now
	if err := s.Store.SaveType(ctx, &t); err != nil {
		return nil, err
	}
	s.audit(ctx, generic.AuditEntry{
		ActorID:   actorID,
		Action:    action,
		Table:     "benefit_types",
		RecordID:  t.ID,
		NewValues: map[string]any{"code": t.Code, "category": t.Category, "calculation_type": t.CalculationType},
	})
	return &t, nil
}

func (s *Service) GetType(ctx context.Context, id string) (*BenefitType, error) {
	return s.Store.GetType(ctx, id)
}

func (s *Service) ListTypes(ctx context.Context, activeOnly bool) ([]BenefitType, error) {
	return s.Store.ListTypes(ctx, activeOnly)
}

// =============================================================================
// CYCLES
// =============================================================================

// CreateCycle creates a draft cycle for an active benefit type.
func (s *Service) CreateCycle(ctx context.Context, actorID string, in CycleInput) (*Cycle, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	t, err := s.Store.GetType(ctx, in.BenefitTypeID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		ve := &generic.ValidationError{}
		ve.Add("benefit_type_id", "active", "benefit type "+t.Code+" is inactive")
		return nil, ve
	}

	now := s.Clock.Now()
	c := &Cycle{
		ID:             generic.NewID("cyc"),
		BenefitTypeID:  in.BenefitTypeID,
		CycleYear:      in.CycleYear,
		CycleName:      in.CycleName,
		CutoffDate:     in.CutoffDate,
		ApplicableDate: in.ApplicableDate,
		PaymentDate:    in.PaymentDate,
		Status:         CycleDraft,
		TotalAmount:    decimal.Zero,
		Notes:          in.Notes,
		CreatedBy:      actorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Store.CreateCycle(ctx, c); err != nil {
		return nil, err
	}
	s.audit(ctx, generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditCreate,
		Table:     "benefit_cycles",
		RecordID:  c.ID,
		NewValues: map[string]any{"benefit_type": t.Code, "cycle_year": c.CycleYear, "cycle_name": c.CycleName},
	})
	return c, nil
}

func (s *Service) GetCycle(ctx context.Context, id string) (*Cycle, error) {
	return s.Store.GetCycle(ctx, id)
}

func (s *Service) ListCycles(ctx context.Context, f CycleFilter) ([]Cycle, error) {
	return s.Store.ListCycles(ctx, f)
}

// transitionCycle re-reads the cycle inside st, checks the guard and writes
// the new status with a compare-and-set.
func (s *Service) transitionCycle(ctx context.Context, st Store, id, op string, to CycleStatus, from ...CycleStatus) (*Cycle, error) {
	c, err := st.GetCycle(ctx, id)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(from, c.Status) {
		return nil, generic.Guard(entityCycle, id, op, c.Status, from...)
	}
	now := s.Clock.Now()
	ok, err := st.TransitionCycle(ctx, id, to, from, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s %s %s: %w", op, entityCycle, id, generic.ErrStaleState)
	}
	c.Status = to
	c.UpdatedAt = now
	return c, nil
}

func (s *Service) auditCycleTransition(ctx context.Context, actorID, id, op string, from, to CycleStatus, extra map[string]any) {
	values := map[string]any{"status": to, "operation": op}
	for k, v := range extra {
		values[k] = v
	}
	s.audit(ctx, generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditTransition,
		Table:     "benefit_cycles",
		RecordID:  id,
		OldValues: map[string]any{"status": from},
		NewValues: values,
	})
}

// ProcessCycle moves a draft cycle to processing and creates one calculated
// item per employee (every active employee when ids is empty). Employees that
// already have an item, or fail to calculate, are reported as failures; the
// rest continue. Totals are refreshed at the end.
func (s *Service) ProcessCycle(ctx context.Context, actorID, cycleID string, ids []generic.EmployeeID) (*BulkResult, error) {
	var cycle *Cycle
	err := s.Store.WithTx(ctx, func(st Store) error {
		var err error
		cycle, err = s.transitionCycle(ctx, st, cycleID, "process", CycleProcessing, CycleDraft)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.auditCycleTransition(ctx, actorID, cycleID, "process", CycleDraft, CycleProcessing, nil)

	t, err := s.Store.GetType(ctx, cycle.BenefitTypeID)
	if err != nil {
		return nil, err
	}
	ids = generic.UniqueIDs(ids)
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
		it, err := s.createItem(ctx, cycle, *t, empID)
		if err != nil {
			s.logger().Warn("benefit item failed", "cycle_id", cycleID, "employee_id", empID, "error", err)
			result.fail(empID, err)
			continue
		}
		result.succeed(empID, it.ID)
	}

	if _, err := s.RefreshTotals(ctx, cycleID); err != nil {
		return nil, err
	}
	s.audit(ctx, generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditBulkProcess,
		Table:     "benefit_items",
		RecordID:  cycleID,
		NewValues: map[string]any{"processed_count": result.ProcessedCount, "failed_count": result.FailedCount},
	})
	return result, nil
}

// AddItem creates the item of one employee in a draft or processing cycle.
// An existing item for the employee is a *generic.DuplicateError and is not
// modified.
func (s *Service) AddItem(ctx context.Context, actorID, cycleID string, empID generic.EmployeeID) (*Item, error) {
	c, err := s.Store.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if !c.AcceptsItems() {
		return nil, generic.Guard(entityCycle, cycleID, "add item", c.Status, CycleDraft, CycleProcessing)
	}
	t, err := s.Store.GetType(ctx, c.BenefitTypeID)
	if err != nil {
		return nil, err
	}
	it, err := s.createItem(ctx, c, *t, empID)
	if err != nil {
		return nil, err
	}
	if _, err := s.RefreshTotals(ctx, cycleID); err != nil {
		return nil, err
	}
	s.audit(ctx, generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditCreate,
		Table:     "benefit_items",
		RecordID:  it.ID,
		NewValues: map[string]any{"employee_id": empID, "final_amount": it.FinalAmount.String()},
	})
	return it, nil
}

func (s *Service) createItem(ctx context.Context, c *Cycle, t BenefitType, empID generic.EmployeeID) (*Item, error) {
	emp, err := s.Directory.GetEmployee(ctx, empID)
	if err != nil {
		return nil, err
	}
	calc, err := Calculate(t, emp, c.ServiceDate())
	if err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	it := &Item{
		ID:                generic.NewID("bni"),
		CycleID:           c.ID,
		EmployeeID:        empID,
		BaseSalary:        calc.BaseSalary,
		ServiceMonths:     calc.ServiceMonths,
		CalculatedAmount:  calc.Amount,
		AdjustmentAmount:  decimal.Zero,
		IsEligible:        calc.IsEligible,
		EligibilityReason: calc.EligibilityReason,
		Status:            ItemCalculated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	it.Recompute(t, s.tax())
	err = s.Store.WithTx(ctx, func(st Store) error {
		// the cycle may have been cancelled or finalized since it was read
		cur, err := st.GetCycle(ctx, c.ID)
		if err != nil {
			return err
		}
		if !cur.AcceptsItems() {
			return generic.Guard(entityCycle, c.ID, "add item", cur.Status, CycleDraft, CycleProcessing)
		}
		return st.CreateItem(ctx, it)
	})
	if err != nil {
		return nil, err
	}
	return it, nil
}

// FinalizeCycle moves a processing cycle to completed.
func (s *Service) FinalizeCycle(ctx context.Context, actorID, id string) (*Cycle, error) {
	return s.simpleCycleTransition(ctx, actorID, id, "finalize", CycleCompleted, CycleProcessing)
}

// ReleaseCycle moves a completed cycle to released.
func (s *Service) ReleaseCycle(ctx context.Context, actorID, id string) (*Cycle, error) {
	return s.simpleCycleTransition(ctx, actorID, id, "release", CycleReleased, CycleCompleted)
}

func (s *Service) simpleCycleTransition(ctx context.Context, actorID, id, op string, to, from CycleStatus) (*Cycle, error) {
	var c *Cycle
	err := s.Store.WithTx(ctx, func(st Store) error {
		var err error
		c, err = s.transitionCycle(ctx, st, id, op, to, from)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.auditCycleTransition(ctx, actorID, id, op, from, to, nil)
	return c, nil
}

// CancelCycle cancels a draft or processing cycle and, in the same
// transaction, every item still draft, calculated or approved. Paid items
// are left as they are.
func (s *Service) CancelCycle(ctx context.Context, actorID, id string) (*Cycle, int, error) {
	var (
		c         *Cycle
		from      CycleStatus
		cancelled int
	)
	err := s.Store.WithTx(ctx, func(st Store) error {
		current, err := st.GetCycle(ctx, id)
		if err != nil {
			return err
		}
		from = current.Status
		if c, err = s.transitionCycle(ctx, st, id, "cancel", CycleCancelled, CycleDraft, CycleProcessing); err != nil {
			return err
		}
		cancelled, err = st.TransitionItems(ctx, id, nil, ItemCancelled,
			[]ItemStatus{ItemDraft, ItemCalculated, ItemApproved}, false, s.Clock.Now())
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	s.auditCycleTransition(ctx, actorID, id, "cancel", from, CycleCancelled, map[string]any{"items_cancelled": cancelled})
	if c, err = s.RefreshTotals(ctx, id); err != nil {
		return nil, 0, err
	}
	return c, cancelled, nil
}

// RefreshTotals recomputes total_amount (sum of final amounts) and
// employee_count over the cycle's items that are not cancelled.
func (s *Service) RefreshTotals(ctx context.Context, id string) (*Cycle, error) {
	var c *Cycle
	err := s.Store.WithTx(ctx, func(st Store) error {
		var err error
		if c, err = st.GetCycle(ctx, id); err != nil {
			return err
		}
		items, err := st.ListItems(ctx, id)
		if err != nil {
			return err
		}
		total, count := decimal.Zero, 0
		for _, it := range items {
			if it.Status == ItemCancelled {
				continue
			}
			total = total.Add(it.FinalAmount)
			count++
		}
		now := s.Clock.Now()
		if err := st.SaveTotals(ctx, id, total, count, now); err != nil {
			return err
		}
		c.TotalAmount, c.EmployeeCount, c.UpdatedAt = total, count, now
		return nil
	})
	return c, err
}

// =============================================================================
// ITEMS
// =============================================================================

func (s *Service) GetItem(ctx context.Context, id string) (*Item, error) {
	return s.Store.GetItem(ctx, id)
}

func (s *Service) ListItems(ctx context.Context, cycleID string) ([]Item, error) {
	if _, err := s.Store.GetCycle(ctx, cycleID); err != nil {
		return nil, err
	}
	return s.Store.ListItems(ctx, cycleID)
}

func (s *Service) ListAdjustments(ctx context.Context, itemID string) ([]Adjustment, error) {
	if _, err := s.Store.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.Store.ListAdjustments(ctx, itemID)
}

// AdjustItem appends an adjustment ledger row and applies it to the item.
//
// This is one TRANSACTION:
//  1. Re-read the item and check it is draft or calculated
//  2. Compute the delta (override: final becomes Amount)
//  3. Append the ledger row
//  4. Write the new adjustment, final, tax and net amounts (compare-and-set)
func (s *Service) AdjustItem(ctx context.Context, actorID, itemID string, in AdjustmentInput) (*Item, *Adjustment, error) {
	ve := &generic.ValidationError{}
	if err := generic.MergeValidation(ve, generic.ValidateStruct(in)); err != nil {
		return nil, nil, err
	}
	switch {
	case in.Type == AdjustOverride && in.Amount.IsNegative():
		ve.Add("amount", "gte", "must not be negative")
	case in.Type != AdjustOverride && !in.Amount.IsPositive():
		ve.Add("amount", "gt", "must be greater than 0")
	}
	if err := ve.OrNil(); err != nil {
		return nil, nil, err
	}

	var (
		item *Item
		adj  *Adjustment
	)
	err := s.Store.WithTx(ctx, func(st Store) error {
		it, err := st.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if !it.Status.Modifiable() {
			return generic.Guard(entityItem, itemID, "adjust", it.Status, ItemDraft, ItemCalculated)
		}
		c, err := st.GetCycle(ctx, it.CycleID)
		if err != nil {
			return err
		}
		t, err := st.GetType(ctx, c.BenefitTypeID)
		if err != nil {
			return err
		}

		delta := generic.Money(in.Delta(*it))
		it.AdjustmentAmount = it.AdjustmentAmount.Add(delta)
		it.Recompute(*t, s.tax())
		if it.FinalAmount.IsNegative() {
			ve.Add("amount", "final_amount", "would make the final amount negative")
			return ve
		}

		now := s.Clock.Now()
		a := &Adjustment{
			ID:        generic.NewID("adj"),
			ItemID:    itemID,
			Type:      in.Type,
			Amount:    generic.Money(in.Amount),
			Delta:     delta,
			Reason:    in.Reason,
			CreatedBy: actorID,
			CreatedAt: now,
		}
		if err := st.AppendAdjustment(ctx, a); err != nil {
			return fmt.Errorf("append adjustment: %w", err)
		}
		it.UpdatedAt = now
		ok, err := st.UpdateItemAmounts(ctx, it, []ItemStatus{ItemDraft, ItemCalculated})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("adjust %s %s: %w", entityItem, itemID, generic.ErrStaleState)
		}
		item, adj = it, a
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if _, err := s.RefreshTotals(ctx, item.CycleID); err != nil {
		return nil, nil, err
	}
	s.audit(ctx, generic.AuditEntry{
		ActorID:  actorID,
		Action:   generic.AuditAdjustment,
		Table:    "benefit_items",
		RecordID: itemID,
		NewValues: map[string]any{
			"adjustment_type":   adj.Type,
			"amount":            adj.Amount.String(),
			"delta":             adj.Delta.String(),
			"adjustment_amount": item.AdjustmentAmount.String(),
			"final_amount":      item.FinalAmount.String(),
		},
	})
	return item, adj, nil
}

func (s *Service) transitionItem(ctx context.Context, actorID, id, op string, check func(*Item) error, to ItemStatus, from ...ItemStatus) (*Item, error) {
	var (
		it  *Item
		old ItemStatus
	)
	err := s.Store.WithTx(ctx, func(st Store) error {
		current, err := st.GetItem(ctx, id)
		if err != nil {
			return err
		}
		if !slices.Contains(from, current.Status) {
			return generic.Guard(entityItem, id, op, current.Status, from...)
		}
		if check != nil {
			if err := check(current); err != nil {
				return err
			}
		}
		now := s.Clock.Now()
		ok, err := st.TransitionItem(ctx, id, to, from, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s %s %s: %w", op, entityItem, id, generic.ErrStaleState)
		}
		old = current.Status
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
		Table:     "benefit_items",
		RecordID:  id,
		OldValues: map[string]any{"status": old},
		NewValues: map[string]any{"status": to},
	})
	return it, nil
}

// ApproveItem approves a calculated item. Ineligible items cannot be
// approved.
func (s *Service) ApproveItem(ctx context.Context, actorID, id string) (*Item, error) {
	eligible := func(it *Item) error {
		if !it.IsEligible {
			return fmt.Errorf("approve %s %s: employee not eligible (%s): %w",
				entityItem, id, it.EligibilityReason, generic.ErrInvalidTransition)
		}
		return nil
	}
	return s.transitionItem(ctx, actorID, id, "approve", eligible, ItemApproved, ItemCalculated)
}

// PayItem marks an approved item paid.
func (s *Service) PayItem(ctx context.Context, actorID, id string) (*Item, error) {
	return s.transitionItem(ctx, actorID, id, "pay", nil, ItemPaid, ItemApproved)
}

// CancelItem cancels an item that is not yet paid.
func (s *Service) CancelItem(ctx context.Context, actorID, id string) (*Item, error) {
	it, err := s.transitionItem(ctx, actorID, id, "cancel", nil, ItemCancelled, ItemDraft, ItemCalculated, ItemApproved)
	if err != nil {
		return nil, err
	}
	if _, err := s.RefreshTotals(ctx, it.CycleID); err != nil {
		return nil, err
	}
	return it, nil
}

// BulkApprove approves the given items of a cycle (all when ids is empty)
// with one set-based update guarded by status = calculated AND eligible.
// Rows not matching are skipped silently; compare Affected with Requested.
func (s *Service) BulkApprove(ctx context.Context, actorID, cycleID string, ids []string) (SetResult, error) {
	return s.bulkTransition(ctx, actorID, cycleID, ids, "approve", ItemApproved, ItemCalculated, true)
}

// BulkMarkPaid marks approved items paid with one set-based update.
func (s *Service) BulkMarkPaid(ctx context.Context, actorID, cycleID string, ids []string) (SetResult, error) {
	return s.bulkTransition(ctx, actorID, cycleID, ids, "pay", ItemPaid, ItemApproved, false)
}

func (s *Service) bulkTransition(ctx context.Context, actorID, cycleID string, ids []string, op string, to, from ItemStatus, eligibleOnly bool) (SetResult, error) {
	res := SetResult{Requested: len(ids)}
	err := s.Store.WithTx(ctx, func(st Store) error {
		if _, err := st.GetCycle(ctx, cycleID); err != nil {
			return err
		}
		if len(ids) == 0 {
			items, err := st.ListItems(ctx, cycleID)
			if err != nil {
				return err
			}
			res.Requested = len(items)
		}
		var err error
		res.Affected, err = st.TransitionItems(ctx, cycleID, ids, to, []ItemStatus{from}, eligibleOnly, s.Clock.Now())
		return err
	})
	if err != nil {
		return SetResult{}, err
	}
	if res.Partial() {
		s.logger().Info("set-based item update skipped rows not in required status",
			"cycle_id", cycleID, "operation", op, "requested", res.Requested, "affected", res.Affected)
	}
	s.audit(ctx, generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditTransition,
		Table:     "benefit_items",
		RecordID:  cycleID,
		OldValues: map[string]any{"status": from},
		NewValues: map[string]any{"status": to, "requested": res.Requested, "affected": res.Affected},
	})
	return res, nil
}
