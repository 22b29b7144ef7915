package summary

import (
	"context"
	"time"

	"github.com/example/carbonplane/internal/domain"
)

// rawScope accumulates one scope identifier's unallocated contribution,
// feeding the allocation split of the process view.
type rawScope struct {
	Vector      domain.GasVector
	Uncertainty float64
	Count       int
}

// foldResult is everything one pass over a client's entries produces.
type foldResult struct {
	Totals domain.AxisTotals

	ByScope          map[string]*domain.AxisTotals
	ByCategory       map[string]*domain.CategoryTotals
	ByActivity       map[string]*domain.AxisTotals
	ByNode           map[string]*domain.AxisTotals
	ByDepartment     map[string]*domain.AxisTotals
	ByLocation       map[string]*domain.AxisTotals
	ByInputType      map[string]*domain.AxisTotals
	ByEmissionFactor map[string]*domain.AxisTotals

	// RawByScopeID keeps per-scope raw vectors for the process view.
	RawByScopeID map[string]*rawScope

	EntriesScanned int
	SkippedFailed  int
}

func newFoldResult() *foldResult {
	return &foldResult{
		ByScope:          map[string]*domain.AxisTotals{},
		ByCategory:       map[string]*domain.CategoryTotals{},
		ByActivity:       map[string]*domain.AxisTotals{},
		ByNode:           map[string]*domain.AxisTotals{},
		ByDepartment:     map[string]*domain.AxisTotals{},
		ByLocation:       map[string]*domain.AxisTotals{},
		ByInputType:      map[string]*domain.AxisTotals{},
		ByEmissionFactor: map[string]*domain.AxisTotals{},
		RawByScopeID:     map[string]*rawScope{},
	}
}

func cell(axis map[string]*domain.AxisTotals, key string) *domain.AxisTotals {
	if key == "" {
		key = domain.UnknownDimension
	}

	c, ok := axis[key]
	if !ok {
		c = &domain.AxisTotals{}
		axis[key] = c
	}

	return c
}

func categoryCell(axis map[string]*domain.CategoryTotals, key string) *domain.CategoryTotals {
	if key == "" {
		key = domain.UnknownDimension
	}

	c, ok := axis[key]
	if !ok {
		c = &domain.CategoryTotals{Activities: map[string]*domain.AxisTotals{}}
		axis[key] = c
	}

	return c
}

// fold runs one pass over every entry of the client inside the period
// bounds and accumulates all axes. Failed entries are skipped and counted;
// pending entries contribute a zero vector but still count as data points so
// the gap is visible in the totals.
func (m *Materialiser) fold(ctx context.Context, clientID string, period domain.Period, meta *metaIndex) (*foldResult, error) {
	result := newFoldResult()

	from, to := period.From, period.To
	if period.Type == domain.PeriodAllTime {
		from, to = time.Time{}, time.Time{}
	}

	err := m.stores.Entries.ForEachClientEntry(ctx, clientID, from, to, func(entry *domain.Entry) error {
		result.EntriesScanned++

		if entry.ProcessingStatus == domain.StatusFailed {
			result.SkippedFailed++

			return nil
		}

		vector := entry.EmissionVector()

		uncertainty := 0.0
		if ce := entry.CalculatedEmissions; ce != nil {
			uncertainty = ce.UncertaintyPct
		}

		dims := meta.lookup(entry)

		result.Totals.Accumulate(vector, uncertainty)
		cell(result.ByScope, string(dims.ScopeType)).Accumulate(vector, uncertainty)
		cell(result.ByActivity, dims.Activity).Accumulate(vector, uncertainty)
		cell(result.ByNode, dims.NodeLabel).Accumulate(vector, uncertainty)
		cell(result.ByDepartment, dims.Department).Accumulate(vector, uncertainty)
		cell(result.ByLocation, dims.Location).Accumulate(vector, uncertainty)
		cell(result.ByInputType, string(entry.InputType)).Accumulate(vector, uncertainty)
		cell(result.ByEmissionFactor, string(dims.FactorSource)).Accumulate(vector, uncertainty)

		category := categoryCell(result.ByCategory, dims.Category)
		category.Accumulate(vector, uncertainty)
		cell(category.Activities, dims.Activity).Accumulate(vector, uncertainty)

		raw, ok := result.RawByScopeID[entry.ScopeIdentifier]
		if !ok {
			raw = &rawScope{}
			result.RawByScopeID[entry.ScopeIdentifier] = raw
		}

		raw.Vector = raw.Vector.Add(vector)
		raw.Uncertainty += uncertainty
		raw.Count++

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// foldTotals is the light pass used for the trend baseline: only the grand
// total and the per-scope CO2e totals of the previous period.
func (m *Materialiser) foldTotals(ctx context.Context, clientID string, period domain.Period, meta *metaIndex) (float64, map[string]float64, error) {
	total := 0.0
	byScope := map[string]float64{}

	from, to := period.From, period.To
	if period.Type == domain.PeriodAllTime {
		from, to = time.Time{}, time.Time{}
	}

	err := m.stores.Entries.ForEachClientEntry(ctx, clientID, from, to, func(entry *domain.Entry) error {
		if entry.ProcessingStatus == domain.StatusFailed {
			return nil
		}

		co2e := entry.EmissionCO2e()
		total += co2e

		scope := string(meta.lookup(entry).ScopeType)
		byScope[scope] += co2e

		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	return total, byScope, nil
}
