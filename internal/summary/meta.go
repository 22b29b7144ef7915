package summary

import (
	"context"
	"errors"

	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/storage"
)

// scopeMeta is the dimension metadata resolved from the active organisation
// chart for one scope, looked up once per recompute and reused for every
// entry of the scan.
type scopeMeta struct {
	ScopeType    domain.ScopeType
	Category     string
	Activity     string
	NodeLabel    string
	Department   string
	Location     string
	FactorSource domain.FactorSource
}

// metaIndex maps stream coordinates to scope metadata. Renamed scopes are
// additionally indexed under every previous identifier, so entries recorded
// before a rename roll up under the current name. Entries whose scope
// vanished from the chart resolve to the Unknown dimension instead of being
// dropped from the totals.
type metaIndex struct {
	byNodeScope map[string]scopeMeta
	byScope     map[string]scopeMeta
}

func buildMetaIndex(chart *domain.Flowchart) *metaIndex {
	idx := &metaIndex{
		byNodeScope: map[string]scopeMeta{},
		byScope:     map[string]scopeMeta{},
	}

	if chart == nil {
		return idx
	}

	for i := range chart.Nodes {
		node := &chart.Nodes[i]

		for j := range node.Scopes {
			scope := &node.Scopes[j]
			meta := scopeMetaFor(node, scope)

			idx.byNodeScope[node.ID+"/"+scope.ScopeIdentifier] = meta

			// First node wins for identifier-only lookups; shared scopes agree
			// on everything but the node dimensions.
			if _, seen := idx.byScope[scope.ScopeIdentifier]; !seen {
				idx.byScope[scope.ScopeIdentifier] = meta
			}
		}
	}

	// Lineage aliases resolve after every current identifier is placed, so
	// an identifier reused by another scope always means its current owner.
	for i := range chart.Nodes {
		node := &chart.Nodes[i]

		for j := range node.Scopes {
			scope := &node.Scopes[j]

			for _, prev := range scope.PreviousIdentifiers {
				meta := scopeMetaFor(node, scope)

				if _, seen := idx.byNodeScope[node.ID+"/"+prev]; !seen {
					idx.byNodeScope[node.ID+"/"+prev] = meta
				}

				if _, seen := idx.byScope[prev]; !seen {
					idx.byScope[prev] = meta
				}
			}
		}
	}

	return idx
}

func scopeMetaFor(node *domain.Node, scope *domain.ScopeDescriptor) scopeMeta {
	return scopeMeta{
		ScopeType:    scope.ScopeType,
		Category:     scope.CategoryName,
		Activity:     scope.Activity,
		NodeLabel:    node.Label,
		Department:   node.Department,
		Location:     node.Location,
		FactorSource: scope.EmissionFactor,
	}
}

// lookup resolves an entry's dimensions, preferring the exact (node, scope)
// coordinate and falling back to any node carrying the identifier. Missing
// scopes fall back to the entry's own fields and the Unknown dimension.
func (idx *metaIndex) lookup(entry *domain.Entry) scopeMeta {
	if meta, ok := idx.byNodeScope[entry.NodeID+"/"+entry.ScopeIdentifier]; ok {
		return meta
	}

	if meta, ok := idx.byScope[entry.ScopeIdentifier]; ok {
		return meta
	}

	meta := scopeMeta{
		ScopeType:    entry.ScopeType,
		Category:     domain.UnknownDimension,
		Activity:     domain.UnknownDimension,
		NodeLabel:    domain.UnknownDimension,
		Department:   domain.UnknownDimension,
		Location:     domain.UnknownDimension,
		FactorSource: entry.EmissionFactor,
	}

	if meta.ScopeType == "" {
		meta.ScopeType = domain.ScopeType(domain.UnknownDimension)
	}

	return meta
}

// activeChart loads a client's active chart of the given kind; a missing
// chart is an empty index, not an error.
func activeChart(ctx context.Context, charts storage.FlowchartStore, clientID string, kind domain.ChartKind) (*domain.Flowchart, error) {
	chart, err := charts.Active(ctx, clientID, kind)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return chart, nil
}
