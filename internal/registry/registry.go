// Package registry maintains the durable flowchart model: clients, nodes,
// scopes and allocation percentages. Every mutation bumps the chart's
// monotone version; downstream caches key on that version.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/carbonplane/internal/allocation"
	"github.com/example/carbonplane/internal/bus"
	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/storage"
)

// Registry is the flowchart & scope registry service.
type Registry struct {
	charts storage.FlowchartStore
	bus    bus.Publisher
	logger *slog.Logger

	// onAllocationChange, when set, triggers targeted summary recomputation
	// after an allocation edit. Wired by the serve command.
	onAllocationChange func(ctx context.Context, clientID string)
}

// New creates a registry service.
func New(charts storage.FlowchartStore, publisher bus.Publisher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{charts: charts, bus: publisher, logger: logger}
}

// SetAllocationChangeHook registers the change-propagation callback.
func (r *Registry) SetAllocationChangeHook(fn func(ctx context.Context, clientID string)) {
	r.onAllocationChange = fn
}

// UpsertFlowchart validates and saves a chart. New charts get an id; saves
// over an existing chart merge node scopes through MergeScopes.
func (r *Registry) UpsertFlowchart(ctx context.Context, principal domain.Principal, chart *domain.Flowchart) (*domain.Flowchart, error) {
	if err := principal.RequireClient(chart.ClientID); err != nil {
		return nil, domain.E(domain.KindValidation, "registry.upsert", err)
	}

	if chart.Kind == "" {
		chart.Kind = domain.ChartOrganisation
	}

	if chart.ID == "" {
		chart.ID = uuid.NewString()
	}

	existing, err := r.charts.Get(ctx, chart.ClientID, chart.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load existing chart: %w", err)
	}

	if existing != nil {
		merged, mergeErr := r.mergeNodes(existing, chart)
		if mergeErr != nil {
			return nil, mergeErr
		}

		chart = merged
	} else {
		chart.Version = 0

		applyScopeDefaults(chart)
	}

	if err = validateChart(chart); err != nil {
		return nil, err
	}

	chart.UpdatedAt = time.Now().UTC()

	if err = r.charts.Put(ctx, chart); err != nil {
		return nil, fmt.Errorf("save chart: %w", err)
	}

	r.logger.Info("flowchart saved",
		"client", chart.ClientID,
		"chart", chart.ID,
		"kind", string(chart.Kind),
		"version", chart.Version,
	)

	return chart, nil
}

// mergeNodes overlays an incoming chart onto the stored one, running the
// scope merge per node.
func (r *Registry) mergeNodes(existing, incoming *domain.Flowchart) (*domain.Flowchart, error) {
	merged := *existing
	merged.Nodes = nil
	merged.Edges = incoming.Edges

	carried := make(map[string]bool, len(existing.Nodes))

	for i := range incoming.Nodes {
		in := incoming.Nodes[i]

		prev, ok := existing.NodeByID(in.ID)
		if !ok {
			for s := range in.Scopes {
				defaultScope(&in.Scopes[s])
			}

			merged.Nodes = append(merged.Nodes, in)

			continue
		}

		carried[prev.ID] = true

		updates := make([]ScopeUpdate, len(in.Scopes))
		for s := range in.Scopes {
			updates[s] = ScopeUpdate{ScopeDescriptor: in.Scopes[s]}
		}

		mergedScopes, err := MergeScopes(prev.Scopes, updates)
		if err != nil {
			return nil, domain.E(domain.KindConflict, "registry.upsert", err)
		}

		node := in
		node.Scopes = mergedScopes
		merged.Nodes = append(merged.Nodes, node)
	}

	return &merged, nil
}

// GetFlowchart loads a chart by id.
func (r *Registry) GetFlowchart(ctx context.Context, principal domain.Principal, clientID, chartID string) (*domain.Flowchart, error) {
	if err := principal.RequireClient(clientID); err != nil {
		return nil, domain.E(domain.KindValidation, "registry.get", err)
	}

	return r.charts.Get(ctx, clientID, chartID)
}

// Active loads the client's active (non-deleted) chart of the given kind.
func (r *Registry) Active(ctx context.Context, principal domain.Principal, clientID string, kind domain.ChartKind) (*domain.Flowchart, error) {
	if err := principal.RequireClient(clientID); err != nil {
		return nil, domain.E(domain.KindValidation, "registry.active", err)
	}

	return r.charts.Active(ctx, clientID, kind)
}

// SoftDelete marks a chart deleted. Entries and summaries are untouched.
func (r *Registry) SoftDelete(ctx context.Context, principal domain.Principal, clientID, chartID string) error {
	if err := principal.RequireClient(clientID); err != nil {
		return domain.E(domain.KindValidation, "registry.softdelete", err)
	}

	chart, err := r.charts.Get(ctx, clientID, chartID)
	if err != nil {
		return err
	}

	chart.Deleted = true
	chart.UpdatedAt = time.Now().UTC()

	return r.charts.Put(ctx, chart)
}

// Restore undeletes a chart. Restoration is rejected while another active
// chart of the same kind exists.
func (r *Registry) Restore(ctx context.Context, principal domain.Principal, clientID, chartID string) error {
	if err := principal.RequireClient(clientID); err != nil {
		return domain.E(domain.KindValidation, "registry.restore", err)
	}

	chart, err := r.charts.Get(ctx, clientID, chartID)
	if err != nil {
		return err
	}

	active, err := r.charts.Active(ctx, clientID, chart.Kind)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("check active chart: %w", err)
	}

	if active != nil && active.ID != chart.ID {
		return domain.E(domain.KindConflict, "registry.restore", domain.ErrActiveChartExists)
	}

	chart.Deleted = false
	chart.UpdatedAt = time.Now().UTC()

	return r.charts.Put(ctx, chart)
}

// UpdateNode merges scope updates into one node of the active chart.
func (r *Registry) UpdateNode(ctx context.Context, principal domain.Principal, clientID string, kind domain.ChartKind, nodeID string, label string, updates []ScopeUpdate) (*domain.Flowchart, error) {
	if err := principal.RequireClient(clientID); err != nil {
		return nil, domain.E(domain.KindValidation, "registry.updatenode", err)
	}

	chart, err := r.charts.Active(ctx, clientID, kind)
	if err != nil {
		return nil, err
	}

	node, ok := chart.NodeByID(nodeID)
	if !ok {
		return nil, domain.Errorf(domain.KindValidation, "registry.updatenode",
			"node %s not in chart %s", nodeID, chart.ID)
	}

	merged, err := MergeScopes(node.Scopes, updates)
	if err != nil {
		return nil, domain.E(domain.KindConflict, "registry.updatenode", err)
	}

	node.Scopes = merged

	if label != "" {
		node.Label = label
	}

	if err = validateChart(chart); err != nil {
		return nil, err
	}

	chart.UpdatedAt = time.Now().UTC()

	if err = r.charts.Put(ctx, chart); err != nil {
		return nil, fmt.Errorf("save chart: %w", err)
	}

	return chart, nil
}

// DeleteNode removes a node and every edge touching it.
func (r *Registry) DeleteNode(ctx context.Context, principal domain.Principal, clientID string, kind domain.ChartKind, nodeID string) error {
	if err := principal.RequireClient(clientID); err != nil {
		return domain.E(domain.KindValidation, "registry.deletenode", err)
	}

	chart, err := r.charts.Active(ctx, clientID, kind)
	if err != nil {
		return err
	}

	nodes := chart.Nodes[:0]
	for _, node := range chart.Nodes {
		if node.ID != nodeID {
			nodes = append(nodes, node)
		}
	}

	chart.Nodes = nodes

	edges := chart.Edges[:0]
	for _, edge := range chart.Edges {
		if edge.From != nodeID && edge.To != nodeID {
			edges = append(edges, edge)
		}
	}

	chart.Edges = edges
	chart.UpdatedAt = time.Now().UTC()

	return r.charts.Put(ctx, chart)
}

// AssignHead sets a node's assigned-head reference.
func (r *Registry) AssignHead(ctx context.Context, principal domain.Principal, clientID string, kind domain.ChartKind, nodeID, headRef string) error {
	if err := principal.RequireClient(clientID); err != nil {
		return domain.E(domain.KindValidation, "registry.assignhead", err)
	}

	chart, err := r.charts.Active(ctx, clientID, kind)
	if err != nil {
		return err
	}

	node, ok := chart.NodeByID(nodeID)
	if !ok {
		return domain.Errorf(domain.KindValidation, "registry.assignhead",
			"node %s not in chart %s", nodeID, chart.ID)
	}

	node.HeadRef = headRef
	chart.UpdatedAt = time.Now().UTC()

	return r.charts.Put(ctx, chart)
}

// SetAllocation updates one scope's allocation percentage on one node of
// the process chart, emits allocation-updated, and triggers targeted
// recomputation. An allocation sum above 100 is stored with a warning.
func (r *Registry) SetAllocation(ctx context.Context, principal domain.Principal, clientID, nodeID, scopeIdentifier string, pct float64) (warning string, err error) {
	if err = principal.RequireClient(clientID); err != nil {
		return "", domain.E(domain.KindValidation, "registry.setallocation", err)
	}

	if pct < 0 || pct > 100 {
		return "", domain.Errorf(domain.KindValidation, "registry.setallocation",
			"allocation %.2f outside [0,100]", pct)
	}

	chart, err := r.charts.Active(ctx, clientID, domain.ChartProcess)
	if err != nil {
		return "", err
	}

	node, ok := chart.NodeByID(nodeID)
	if !ok {
		return "", domain.Errorf(domain.KindValidation, "registry.setallocation",
			"node %s not in chart %s", nodeID, chart.ID)
	}

	scope, ok := node.ScopeByIdentifier(scopeIdentifier)
	if !ok {
		return "", domain.E(domain.KindValidation, "registry.setallocation", domain.ErrScopeNotFound)
	}

	scope.AllocationPct = allocation.RoundPct(pct)
	chart.UpdatedAt = time.Now().UTC()

	shares := allocation.SharesForScope(chart, scopeIdentifier)

	total := 0.0
	for _, share := range shares {
		total += share.Pct
	}

	if total > 100 {
		warning = fmt.Sprintf("allocation sum for %s is %.2f%%, above 100%%", scopeIdentifier, total)
		r.logger.Warn("allocation sum exceeds whole",
			"client", clientID,
			"scope", scopeIdentifier,
			"total", total,
		)
	}

	if err = r.charts.Put(ctx, chart); err != nil {
		return "", fmt.Errorf("save chart: %w", err)
	}

	_ = r.bus.Publish(ctx, domain.NewEvent(domain.EventAllocationUpdated, clientID, map[string]any{
		"nodeId":          nodeID,
		"scopeIdentifier": scopeIdentifier,
		"allocationPct":   pct,
		"totalPct":        total,
	}))

	if r.onAllocationChange != nil {
		r.onAllocationChange(ctx, clientID)
	}

	return warning, nil
}

// FindScope locates a scope by identifier in the client's active chart of
// the given kind.
func (r *Registry) FindScope(ctx context.Context, clientID string, kind domain.ChartKind, nodeID, scopeIdentifier string) (*domain.Flowchart, *domain.ScopeDescriptor, error) {
	chart, err := r.charts.Active(ctx, clientID, kind)
	if err != nil {
		return nil, nil, domain.E(domain.KindPrerequisite, "registry.findscope", err)
	}

	node, ok := chart.NodeByID(nodeID)
	if !ok {
		return nil, nil, domain.E(domain.KindPrerequisite, "registry.findscope", domain.ErrScopeNotFound)
	}

	scope, ok := node.ScopeByIdentifier(scopeIdentifier)
	if !ok {
		return nil, nil, domain.E(domain.KindPrerequisite, "registry.findscope", domain.ErrScopeNotFound)
	}

	return chart, scope, nil
}

func applyScopeDefaults(chart *domain.Flowchart) {
	for i := range chart.Nodes {
		for s := range chart.Nodes[i].Scopes {
			defaultScope(&chart.Nodes[i].Scopes[s])
		}
	}
}

func defaultScope(scope *domain.ScopeDescriptor) {
	if scope.ScopeUID == "" {
		scope.ScopeUID = uuid.NewString()
	}

	if scope.AllocationPct == 0 {
		scope.AllocationPct = domain.DefaultAllocationPct
	}

	if scope.CalculationModel == 0 {
		scope.CalculationModel = domain.Tier1
	}
}

// validateChart enforces the structural invariants: edges reference
// existing nodes, scope identifiers are unique per node, and every scope
// carries enough factor detail for its chosen standard.
func validateChart(chart *domain.Flowchart) error {
	ids := make(map[string]struct{}, len(chart.Nodes))
	for i := range chart.Nodes {
		ids[chart.Nodes[i].ID] = struct{}{}
	}

	for _, edge := range chart.Edges {
		if _, ok := ids[edge.From]; !ok {
			return domain.Errorf(domain.KindValidation, "registry.validate",
				"edge references missing node %s", edge.From)
		}

		if _, ok := ids[edge.To]; !ok {
			return domain.Errorf(domain.KindValidation, "registry.validate",
				"edge references missing node %s", edge.To)
		}
	}

	for i := range chart.Nodes {
		node := &chart.Nodes[i]

		seen := make(map[string]struct{}, len(node.Scopes))

		for s := range node.Scopes {
			scope := &node.Scopes[s]

			if _, dup := seen[scope.ScopeIdentifier]; dup {
				return domain.E(domain.KindConflict, "registry.validate",
					fmt.Errorf("node %s scope %q: %w", node.ID, scope.ScopeIdentifier, domain.ErrDuplicateScope))
			}

			seen[scope.ScopeIdentifier] = struct{}{}

			if err := validateFactorDetail(scope); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateFactorDetail rejects scopes whose chosen standard lacks the
// detail needed to resolve a factor.
func validateFactorDetail(scope *domain.ScopeDescriptor) error {
	if !scope.ScopeType.IsValid() {
		return domain.Errorf(domain.KindValidation, "registry.validate",
			"scope %s: invalid scope type %q", scope.ScopeIdentifier, scope.ScopeType)
	}

	switch scope.EmissionFactor {
	case domain.SourceCustom:
		if scope.CustomFactor == nil || !scope.CustomFactor.HasAnyGas() {
			return domain.Errorf(domain.KindValidation, "registry.validate",
				"scope %s: custom factor needs at least one of CO2/CH4/N2O/CO2e", scope.ScopeIdentifier)
		}
	case domain.SourceCountry:
		if scope.Country == "" {
			return domain.Errorf(domain.KindValidation, "registry.validate",
				"scope %s: country factor needs a country code", scope.ScopeIdentifier)
		}
	case "":
		return domain.Errorf(domain.KindValidation, "registry.validate",
			"scope %s: missing emission factor source", scope.ScopeIdentifier)
	}

	return nil
}
