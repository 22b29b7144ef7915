// Package allocation partitions a scope's raw emissions across the process
// nodes that reference it, by declared percentage. Allocation never mutates
// raw emissions; it only splits them for the process-view summary.
package allocation

import (
	"fmt"
	"math"

	"github.com/example/carbonplane/internal/domain"
)

// WarnThresholdPct is the unallocated percentage at or above which a
// warning is produced.
const WarnThresholdPct = 0.01

// pctPrecision rounds stored percentages to two decimals.
const pctPrecision = 100.0

// NodeShare is one process node's claim on a scope.
type NodeShare struct {
	NodeID string
	Pct    float64
}

// Split is the result of allocating one raw emission vector.
type Split struct {
	// ByNode maps node id to its allocated vector (raw x pct/100).
	ByNode map[string]domain.GasVector

	// Unallocated is the residual vector (raw x (100 - sum pct)/100).
	Unallocated domain.GasVector

	// TotalPct is the clamped sum of declared percentages.
	TotalPct float64

	// UnallocatedPct is 100 - TotalPct, rounded to two decimals.
	UnallocatedPct float64

	// Shared reports whether the scope appears in more than one node.
	Shared bool

	// Warning is non-empty when the unallocated share meets the threshold
	// or the declared percentages exceed the whole.
	Warning string
}

// RoundPct rounds a percentage to two decimal places.
func RoundPct(pct float64) float64 {
	return math.Round(pct*pctPrecision) / pctPrecision
}

// Allocate splits raw across shares. Declared percentages above 100 in
// total are stored as-is but the split is normalised so no more than the
// whole is distributed; the condition is surfaced as a warning, never an
// error.
func Allocate(raw domain.GasVector, shares []NodeShare) Split {
	split := Split{
		ByNode: make(map[string]domain.GasVector, len(shares)),
		Shared: len(shares) > 1,
	}

	total := 0.0
	for _, share := range shares {
		total += share.Pct
	}

	split.TotalPct = RoundPct(total)

	scale := 1.0
	if total > 100 {
		scale = 100 / total
	}

	for _, share := range shares {
		split.ByNode[share.NodeID] = raw.Scale(share.Pct * scale / 100)
	}

	unallocatedPct := 100 - total
	if unallocatedPct < 0 {
		unallocatedPct = 0
	}

	split.UnallocatedPct = RoundPct(unallocatedPct)
	split.Unallocated = raw.Scale(unallocatedPct / 100)

	switch {
	case total > 100:
		split.Warning = fmt.Sprintf(
			"allocation sum %.2f%% exceeds 100%%; shares normalised for the process view", total)
	case split.UnallocatedPct >= WarnThresholdPct:
		split.Warning = fmt.Sprintf(
			"%.2f%% of emissions unallocated across process nodes", split.UnallocatedPct)
	}

	return split
}

// SharesForScope collects the allocation shares of every process node
// referencing the scope identifier. Identifiers are matched through each
// scope's rename lineage, so entries recorded before a rename still
// allocate to the scope's current nodes.
func SharesForScope(chart *domain.Flowchart, scopeIdentifier string) []NodeShare {
	var shares []NodeShare

	for i := range chart.Nodes {
		node := &chart.Nodes[i]

		scope, ok := node.ScopeByIdentifier(scopeIdentifier)
		if !ok {
			scope, ok = scopeByLineage(node, scopeIdentifier)
		}

		if !ok {
			continue
		}

		// The registry defaults absent percentages to 100 at save time, so
		// the stored value is authoritative here, zero included.
		shares = append(shares, NodeShare{NodeID: node.ID, Pct: scope.AllocationPct})
	}

	return shares
}

// scopeByLineage matches a historical identifier against the rename
// lineage of each of the node's scopes. A current identifier always wins
// over a lineage match, which the caller enforces by trying
// ScopeByIdentifier first.
func scopeByLineage(node *domain.Node, identifier string) (*domain.ScopeDescriptor, bool) {
	for i := range node.Scopes {
		if node.Scopes[i].KnownAs(identifier) {
			return &node.Scopes[i], true
		}
	}

	return nil, false
}
