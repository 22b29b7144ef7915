package registry

import (
	"fmt"

	"github.com/example/carbonplane/internal/domain"
)

// ScopeUpdate is one incoming scope in a node update, optionally carrying
// the identifier it was previously saved under so renames stay linked.
type ScopeUpdate struct {
	domain.ScopeDescriptor

	// PreviousScopeIdentifier is a caller-supplied hint resolving a rename
	// when the ScopeUID is not known to the caller.
	PreviousScopeIdentifier string `json:"previousScopeIdentifier,omitempty"`
}

// MergeScopes folds incoming scope updates into a node's existing scopes.
//
// Each incoming scope resolves its existing counterpart by, in order:
// ScopeUID match, current ScopeIdentifier match, the caller-supplied
// PreviousScopeIdentifier, then a heuristic match on identical
// (scopeType, categoryName, activity) among still-unconsumed candidates.
// Matches merge by shallow overlay; unmatched incoming scopes are new;
// untouched existing scopes are carried forward. A resolved rename records
// the outgoing identifier in the scope's lineage, so historical entries
// saved under the old name keep resolving to the scope. The save is
// rejected when two resulting scopes share an identifier.
func MergeScopes(existing []domain.ScopeDescriptor, incoming []ScopeUpdate) ([]domain.ScopeDescriptor, error) {
	consumed := make([]bool, len(existing))
	merged := make([]domain.ScopeDescriptor, 0, len(existing)+len(incoming))

	resolve := func(in *ScopeUpdate) int {
		// 1. Stable UID.
		if in.ScopeUID != "" {
			for i := range existing {
				if !consumed[i] && existing[i].ScopeUID == in.ScopeUID {
					return i
				}
			}
		}

		// 2. Current identifier.
		for i := range existing {
			if !consumed[i] && existing[i].ScopeIdentifier == in.ScopeIdentifier {
				return i
			}
		}

		// 3. Caller-supplied previous identifier.
		if in.PreviousScopeIdentifier != "" {
			for i := range existing {
				if !consumed[i] && existing[i].ScopeIdentifier == in.PreviousScopeIdentifier {
					return i
				}
			}
		}

		// 4. Heuristic on the classification triple.
		for i := range existing {
			if consumed[i] {
				continue
			}

			if existing[i].ScopeType == in.ScopeType &&
				existing[i].CategoryName == in.CategoryName &&
				existing[i].Activity == in.Activity {
				return i
			}
		}

		return -1
	}

	for idx := range incoming {
		in := &incoming[idx]

		match := resolve(in)
		if match < 0 {
			merged = append(merged, in.ScopeDescriptor)
			continue
		}

		consumed[match] = true
		merged = append(merged, overlayScope(existing[match], in.ScopeDescriptor))
	}

	// Carry forward untouched previous scopes.
	for i := range existing {
		if !consumed[i] {
			merged = append(merged, existing[i])
		}
	}

	seen := make(map[string]struct{}, len(merged))

	for i := range merged {
		id := merged[i].ScopeIdentifier
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("scope %q: %w", id, domain.ErrDuplicateScope)
		}

		seen[id] = struct{}{}
	}

	return merged, nil
}

// overlayScope merges an update onto a base scope: non-zero update fields
// win, the stable ScopeUID is preserved, a rename extends the identifier
// lineage, and the allocation percentage defaults to 100 when neither side
// declares one.
func overlayScope(base, update domain.ScopeDescriptor) domain.ScopeDescriptor {
	out := base

	if update.ScopeIdentifier != "" && update.ScopeIdentifier != base.ScopeIdentifier {
		out.ScopeIdentifier = update.ScopeIdentifier
		out.PreviousIdentifiers = renameLineage(base, update.ScopeIdentifier)
	}

	if update.ScopeType != "" {
		out.ScopeType = update.ScopeType
	}

	if update.CategoryName != "" {
		out.CategoryName = update.CategoryName
	}

	if update.Activity != "" {
		out.Activity = update.Activity
	}

	if update.CalculationModel != 0 {
		out.CalculationModel = update.CalculationModel
	}

	if update.InputType != "" {
		out.InputType = update.InputType
	}

	if update.APIEndpoint != "" {
		out.APIEndpoint = update.APIEndpoint
	}

	if update.IOTDeviceID != "" {
		out.IOTDeviceID = update.IOTDeviceID
	}

	if update.EmissionFactor != "" {
		out.EmissionFactor = update.EmissionFactor
	}

	if update.CustomFactor != nil {
		out.CustomFactor = update.CustomFactor
	}

	if update.Country != "" {
		out.Country = update.Country
	}

	if update.Region != "" {
		out.Region = update.Region
	}

	if update.Fuel != "" {
		out.Fuel = update.Fuel
	}

	if update.Unit != "" {
		out.Unit = update.Unit
	}

	if update.UAD != 0 {
		out.UAD = update.UAD
	}

	if update.UEF != 0 {
		out.UEF = update.UEF
	}

	if update.AllocationPct != 0 {
		out.AllocationPct = update.AllocationPct
	}

	if update.CollectionFrequency != "" {
		out.CollectionFrequency = update.CollectionFrequency
	}

	if out.AllocationPct == 0 {
		out.AllocationPct = domain.DefaultAllocationPct
	}

	return out
}

// renameLineage extends the base scope's lineage with its outgoing
// identifier. The identifier being adopted is dropped from the lineage, so
// renaming back and forth never lists the current name as a previous one.
func renameLineage(base domain.ScopeDescriptor, next string) []string {
	lineage := make([]string, 0, len(base.PreviousIdentifiers)+1)

	for _, id := range base.PreviousIdentifiers {
		if id != next && id != base.ScopeIdentifier {
			lineage = append(lineage, id)
		}
	}

	return append(lineage, base.ScopeIdentifier)
}
