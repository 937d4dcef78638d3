package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// RESOLUTION
// =============================================================================

type Source string

const (
	SourceOverride Source = "override"
	SourceDefault  Source = "default"
)

// Resolution is a resolved amount and where it came from.
type Resolution struct {
	TypeID     string          `json:"type_id"`
	Code       string          `json:"code"`
	Kind       Kind            `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	Source     Source          `json:"source"`
	OverrideID string          `json:"override_id,omitempty"`
}

// SelectOverride returns the override that wins for typeID on asOf, or nil.
//
// Among rows with AppliesOn(asOf), the most recently created wins. Equal
// CreatedAt values fall back to the greater ID so the choice never depends on
// storage order.
func SelectOverride(overrides []Override, typeID string, asOf generic.TimePoint) *Override {
	var candidates []Override
	for _, o := range overrides {
		if o.TypeID == typeID && o.AppliesOn(asOf) {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
		}
		return candidates[i].ID > candidates[j].ID
	})
	return &candidates[0]
}

// ResolveWith resolves t for one employee from an already loaded override set.
func ResolveWith(overrides []Override, t RuleType, asOf generic.TimePoint, in Inputs) (Resolution, error) {
	res := Resolution{TypeID: t.ID, Code: t.Code, Kind: t.Kind}
	if o := SelectOverride(overrides, t.ID, asOf); o != nil {
		res.Amount = generic.Money(o.Amount)
		res.Source = SourceOverride
		res.OverrideID = o.ID
		return res, nil
	}
	strategy, err := t.Strategy()
	if err != nil {
		return res, fmt.Errorf("type %s: %w", t.Code, err)
	}
	amount, err := strategy.Amount(in)
	if err != nil {
		return res, fmt.Errorf("type %s: %w", t.Code, err)
	}
	res.Amount = amount
	res.Source = SourceDefault
	return res, nil
}

// HasOverride reports whether an override for typeID applies on asOf.
func HasOverride(overrides []Override, typeID string, asOf generic.TimePoint) bool {
	return SelectOverride(overrides, typeID, asOf) != nil
}

// =============================================================================
// RESOLVER - Store-backed lookup
// =============================================================================

// OverrideSource lists an employee's overrides of one kind.
type OverrideSource interface {
	ListOverrides(ctx context.Context, employeeID generic.EmployeeID, kind Kind) ([]Override, error)
}

type Resolver struct {
	Overrides OverrideSource
}

func NewResolver(src OverrideSource) *Resolver {
	return &Resolver{Overrides: src}
}

// Resolve loads the employee's overrides of t.Kind and resolves t on asOf.
func (r *Resolver) Resolve(ctx context.Context, employeeID generic.EmployeeID, t RuleType, asOf generic.TimePoint, in Inputs) (Resolution, error) {
	overrides, err := r.Overrides.ListOverrides(ctx, employeeID, t.Kind)
	if err != nil {
		return Resolution{}, fmt.Errorf("load overrides: %w", err)
	}
	return ResolveWith(overrides, t, asOf, in)
}

// OverridesFor loads both allowance and deduction overrides for an employee,
// keyed by kind, for callers resolving many types at once.
func (r *Resolver) OverridesFor(ctx context.Context, employeeID generic.EmployeeID) (map[Kind][]Override, error) {
	out := make(map[Kind][]Override, 2)
	for _, k := range []Kind{KindAllowance, KindDeduction} {
		list, err := r.Overrides.ListOverrides(ctx, employeeID, k)
		if err != nil {
			return nil, fmt.Errorf("load %s overrides: %w", k, err)
		}
		out[k] = list
	}
	return out, nil
}
