package summary

import (
	"sort"

	"github.com/example/carbonplane/internal/allocation"
	"github.com/example/carbonplane/internal/domain"
)

// buildProcessView projects the folded raw scope contributions onto the
// active process flowchart, applying each node's declared allocation
// percentage. Scopes no process node references fold wholly into the
// unallocated residual, so the node shares plus the residual always add
// back up to the organisation totals.
func buildProcessView(chart *domain.Flowchart, fold *foldResult, meta *metaIndex) *domain.ProcessSummary {
	if chart == nil {
		return nil
	}

	view := &domain.ProcessSummary{
		ByNode:     map[string]*domain.AxisTotals{},
		ByScope:    map[string]*domain.AxisTotals{},
		ByCategory: map[string]*domain.CategoryTotals{},
	}

	// Deterministic scope order keeps warnings stable across recomputes.
	scopeIDs := make([]string, 0, len(fold.RawByScopeID))
	for scopeID := range fold.RawByScopeID {
		scopeIDs = append(scopeIDs, scopeID)
	}

	sort.Strings(scopeIDs)

	nodeLabels := map[string]string{}
	for i := range chart.Nodes {
		nodeLabels[chart.Nodes[i].ID] = chart.Nodes[i].Label
	}

	for _, scopeID := range scopeIDs {
		raw := fold.RawByScopeID[scopeID]

		shares := allocation.SharesForScope(chart, scopeID)

		// An unreferenced scope is wholly unallocated. No warning: absence
		// from the process chart is configuration, not an allocation gap.
		split := allocation.Split{Unallocated: raw.Vector, UnallocatedPct: 100}
		if len(shares) > 0 {
			split = allocation.Allocate(raw.Vector, shares)
		}

		if split.Shared {
			view.SharedScopes++
		}

		if split.Warning != "" {
			view.Warnings = append(view.Warnings, domain.AllocationWarning{
				ScopeIdentifier: scopeID,
				TotalPct:        split.TotalPct,
				UnallocatedPct:  split.UnallocatedPct,
				Message:         split.Warning,
			})
		}

		for _, share := range shares {
			allocated, ok := split.ByNode[share.NodeID]
			if !ok {
				continue
			}

			label := nodeLabels[share.NodeID]
			if label == "" {
				label = share.NodeID
			}

			addShare(cell(view.ByNode, label), allocated, raw.Uncertainty, share.Pct, raw.Count)
		}

		view.Unallocated.CO2e += split.Unallocated.CO2e
		view.Unallocated.CO2 += split.Unallocated.CO2
		view.Unallocated.CH4 += split.Unallocated.CH4
		view.Unallocated.N2O += split.Unallocated.N2O
		view.Unallocated.Uncertainty += raw.Uncertainty * split.UnallocatedPct / 100

		dims := metaForScope(meta, scopeID)

		scopeCell := cell(view.ByScope, string(dims.ScopeType))
		scopeCell.Accumulate(raw.Vector, raw.Uncertainty)
		scopeCell.DataPointCount += raw.Count - 1

		category := categoryCell(view.ByCategory, dims.Category)
		category.Accumulate(raw.Vector, raw.Uncertainty)
		category.DataPointCount += raw.Count - 1
		activityCell := cell(category.Activities, dims.Activity)
		activityCell.Accumulate(raw.Vector, raw.Uncertainty)
		activityCell.DataPointCount += raw.Count - 1

		view.Totals.Accumulate(raw.Vector, raw.Uncertainty)
		view.Totals.DataPointCount += raw.Count - 1
	}

	return view
}

// addShare folds an allocated vector into a node cell, scaling uncertainty
// by the share and counting the scope's data points once.
func addShare(c *domain.AxisTotals, v domain.GasVector, uncertainty, pct float64, count int) {
	c.CO2e += v.CO2e
	c.CO2 += v.CO2
	c.CH4 += v.CH4
	c.N2O += v.N2O
	c.Uncertainty += uncertainty * pct / 100
	c.DataPointCount += count
}

func metaForScope(meta *metaIndex, scopeID string) scopeMeta {
	if dims, ok := meta.byScope[scopeID]; ok {
		return dims
	}

	return scopeMeta{
		ScopeType: domain.ScopeType(domain.UnknownDimension),
		Category:  domain.UnknownDimension,
		Activity:  domain.UnknownDimension,
	}
}
