// Package calc implements the emission calculation engine: a closed
// dispatch table keyed by (scopeType, categoryName, activity, tier) mapping
// a canonical payload and a resolved factor set to per-gas emissions.
//
// Calculators are pure functions; adding a category is a matter of
// registering a new variant in NewTable.
package calc

import (
	"fmt"
	"math"

	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/factors"
)

// VariantKey identifies one calculation variant.
type VariantKey struct {
	ScopeType domain.ScopeType
	Category  string
	Activity  string
	Tier      domain.Tier
}

// CalcFunc maps a canonical payload and factor set to a per-gas emission
// vector in kilograms.
type CalcFunc func(values map[string]float64, factor domain.FactorValues) domain.GasVector

// Variant is one registered calculation: its canonical field set and the
// pure calculator, plus optional factor-lookup overrides.
type Variant struct {
	Key VariantKey

	// Fields is the canonical payload: unknown fields are dropped on
	// ingestion, missing fields default to zero.
	Fields []string

	// FactorActivity, when set, replaces the scope's activity in the
	// catalogue lookup (scope 3 tiers resolve against "spend"/"quantity"
	// rows regardless of the declared activity).
	FactorActivity string

	// FactorUnit, when set, replaces the scope's unit in the lookup.
	FactorUnit string

	Fn CalcFunc
}

// Table is the closed dispatch table.
type Table struct {
	variants map[VariantKey]Variant
}

// Lookup resolves a variant, first exactly, then falling back to the
// category-wide registration (empty activity) for the same tier.
func (t *Table) Lookup(key VariantKey) (Variant, bool) {
	if v, ok := t.variants[key]; ok {
		return v, true
	}

	key.Activity = ""

	v, ok := t.variants[key]

	return v, ok
}

// VariantFor resolves the variant for a scope descriptor.
func (t *Table) VariantFor(scope *domain.ScopeDescriptor) (Variant, error) {
	key := VariantKey{
		ScopeType: scope.ScopeType,
		Category:  scope.CategoryName,
		Activity:  scope.Activity,
		Tier:      scope.CalculationModel,
	}

	v, ok := t.Lookup(key)
	if !ok {
		return Variant{}, fmt.Errorf(
			"no calculator for %s/%s/%s tier %d: %w",
			scope.ScopeType, scope.CategoryName, scope.Activity,
			scope.CalculationModel, domain.ErrFactorUnresolved)
	}

	return v, nil
}

// CanonicalFields returns the payload field set for a scope, used by the
// ingestion normaliser.
func (t *Table) CanonicalFields(scope *domain.ScopeDescriptor) ([]string, error) {
	v, err := t.VariantFor(scope)
	if err != nil {
		return nil, err
	}

	return v.Fields, nil
}

func (t *Table) register(v Variant) {
	t.variants[v.Key] = v
}

// CombinedUncertainty propagates activity-data and factor uncertainty
// percentages: sqrt(UAD^2 + UEF^2).
func CombinedUncertainty(uad, uef float64) float64 {
	return math.Sqrt(uad*uad + uef*uef)
}

// vector builds a per-gas vector from quantity x factor. When the factor
// has no explicit CO2e, CO2e is derived through the GWP table.
func vector(quantity float64, f domain.FactorValues) domain.GasVector {
	v := domain.GasVector{
		CO2: quantity * f.CO2,
		CH4: quantity * f.CH4,
		N2O: quantity * f.N2O,
	}

	if f.CO2e != 0 {
		v.CO2e = quantity * f.CO2e
		return v
	}

	gwp := f.GWP
	if gwp == nil {
		gwp = factors.GWP
	}

	v.CO2e = v.CO2*gwp["CO2"] + v.CH4*gwp["CH4"] + v.N2O*gwp["N2O"]

	return v
}

// NewTable enumerates every supported calculation variant.
func NewTable() *Table {
	t := &Table{variants: make(map[VariantKey]Variant)}

	registerScope1(t)
	registerScope2(t)
	registerScope3(t)

	return t
}
