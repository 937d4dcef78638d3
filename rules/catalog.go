package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/warp/payroll-engine/generic"
)

// Store persists the catalog and overrides.
type Store interface {
	OverrideSource

	// SaveType inserts or updates a type. Returns a *generic.DuplicateError
	// when another type of the same kind already uses the code.
	SaveType(ctx context.Context, t *RuleType) error
	GetType(ctx context.Context, id string) (*RuleType, error)
	ListTypes(ctx context.Context, kind Kind, activeOnly bool) ([]RuleType, error)

	SaveOverride(ctx context.Context, o *Override) error
	GetOverride(ctx context.Context, id string) (*Override, error)
}

// Catalog validates and saves rule types and overrides.
type Catalog struct {
	Store  Store
	Audit  generic.AuditLog
	Logger *slog.Logger
	Clock  generic.Clock
}

func (c *Catalog) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// ValidateType runs tag validation plus the calculation-type checks.
func ValidateType(t RuleType) error {
	ve := &generic.ValidationError{}
	if err := generic.MergeValidation(ve, generic.ValidateStruct(t)); err != nil {
		return err
	}
	if t.CalculationType != "" {
		if err := generic.MergeValidation(ve, t.Calculation.Validate()); err != nil {
			return err
		}
	}
	return ve.OrNil()
}

// SaveType validates t and stores it. An empty ID creates a new type with a
// generated ID; an unknown ID creates a type under that ID.
func (c *Catalog) SaveType(ctx context.Context, actorID string, t RuleType) (*RuleType, error) {
	if err := ValidateType(t); err != nil {
		return nil, err
	}
	now := c.Clock.Now()
	action := generic.AuditUpdate
	var old map[string]any
	if t.ID == "" {
		t.ID = generic.NewID(string(t.Kind[:3]))
	}
	existing, err := c.Store.GetType(ctx, t.ID)
	switch {
	case generic.IsNotFound(err):
		t.CreatedAt = now
		action = generic.AuditCreate
	case err != nil:
		return nil, err
	default:
		if existing.Kind != t.Kind {
			ve := &generic.ValidationError{}
			ve.Add("kind", "immutable", "cannot change kind of an existing type")
			return nil, ve
		}
		t.CreatedAt = existing.CreatedAt
		old = typeValues(*existing)
	}
	t.UpdatedAt = now
	if err := c.Store.SaveType(ctx, &t); err != nil {
		return nil, err
	}

	generic.RecordAudit(ctx, c.Audit, c.logger(), generic.AuditEntry{
		ActorID:   actorID,
		Action:    action,
		Table:     tableFor(t.Kind) + "_types",
		RecordID:  t.ID,
		OldValues: old,
		NewValues: typeValues(t),
	})
	return &t, nil
}

// CreateOverride validates and stores an employee override. Overlapping
// active overrides for the same employee and type are accepted; resolution
// picks the newest. The overlap is logged so operators can clean it up.
func (c *Catalog) CreateOverride(ctx context.Context, actorID string, o Override) (*Override, error) {
	ve := &generic.ValidationError{}
	if err := generic.MergeValidation(ve, generic.ValidateStruct(o)); err != nil {
		return nil, err
	}
	if o.Amount.IsNegative() {
		ve.Add("amount", "gte", "must not be negative")
	}
	if o.EffectiveDate.IsZero() {
		ve.Add("effective_date", "required", "is required")
	}
	if o.EndDate != nil && o.EndDate.Before(o.EffectiveDate) {
		ve.Add("end_date", "gtefield", "must not be before effective_date")
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	t, err := c.Store.GetType(ctx, o.TypeID)
	if err != nil {
		return nil, err
	}
	if t.Kind != o.Kind {
		ve.Add("kind", "match", fmt.Sprintf("type %s is a %s", t.Code, t.Kind))
		return nil, ve
	}

	existing, err := c.Store.ListOverrides(ctx, o.EmployeeID, o.Kind)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}

	o.ID = generic.NewID("ovr")
	o.IsActive = true
	o.CreatedBy = actorID
	o.CreatedAt = c.Clock.Now()
	for _, e := range existing {
		if e.TypeID == o.TypeID && e.IsActive && e.Overlaps(o) {
			c.logger().Warn("overlapping override created; newest wins",
				"employee_id", o.EmployeeID, "type", t.Code, "existing_override", e.ID, "override", o.ID)
		}
	}
	if err := c.Store.SaveOverride(ctx, &o); err != nil {
		return nil, err
	}

	generic.RecordAudit(ctx, c.Audit, c.logger(), generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditCreate,
		Table:     "employee_" + tableFor(o.Kind) + "_overrides",
		RecordID:  o.ID,
		NewValues: map[string]any{"employee_id": o.EmployeeID, "type_id": o.TypeID, "amount": o.Amount.String()},
	})
	return &o, nil
}

// EndOverride closes an override on endDate, or deactivates it when endDate
// is before its effective date.
func (c *Catalog) EndOverride(ctx context.Context, actorID, id string, endDate generic.TimePoint) (*Override, error) {
	o, err := c.Store.GetOverride(ctx, id)
	if err != nil {
		return nil, err
	}
	if endDate.Before(o.EffectiveDate) {
		o.IsActive = false
	} else {
		o.EndDate = &endDate
	}
	if err := c.Store.SaveOverride(ctx, o); err != nil {
		return nil, err
	}
	generic.RecordAudit(ctx, c.Audit, c.logger(), generic.AuditEntry{
		ActorID:   actorID,
		Action:    generic.AuditUpdate,
		Table:     "employee_" + tableFor(o.Kind) + "_overrides",
		RecordID:  o.ID,
		NewValues: map[string]any{"end_date": endDate.String(), "is_active": o.IsActive},
	})
	return o, nil
}

func tableFor(k Kind) string {
	if k == KindDeduction {
		return "deduction"
	}
	return "allowance"
}

func typeValues(t RuleType) map[string]any {
	return map[string]any{
		"code":             t.Code,
		"name":             t.Name,
		"calculation_type": t.CalculationType,
		"default_amount":   t.DefaultAmount.String(),
		"percentage":       t.Percentage.String(),
		"formula":          t.Formula,
		"frequency":        t.Frequency,
		"is_mandatory":     t.IsMandatory,
		"is_active":        t.IsActive,
	}
}
