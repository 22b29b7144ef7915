package registry_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/carbonplane/internal/bus"
	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/registry"
	"github.com/example/carbonplane/internal/storage"
)

func newRegistry(t *testing.T) (*registry.Registry, *bus.Memory) {
	t.Helper()

	stores, _ := storage.NewMemoryStores()
	publisher := bus.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return registry.New(stores.Flowcharts, publisher, logger), publisher
}

func admin() domain.Principal {
	return domain.Principal{ID: "u1", Role: domain.RoleAdmin, ClientID: "acme"}
}

func orgChart() *domain.Flowchart {
	return &domain.Flowchart{
		ClientID: "acme",
		Kind:     domain.ChartOrganisation,
		Nodes: []domain.Node{
			{
				ID:    "plant-1",
				Label: "Plant 1",
				Scopes: []domain.ScopeDescriptor{
					{
						ScopeIdentifier: "boiler",
						ScopeType:       domain.Scope1,
						CategoryName:    "stationary_combustion",
						Activity:        "fuel_combustion",
						InputType:       domain.InputManual,
						EmissionFactor:  domain.SourceCustom,
						CustomFactor:    &domain.FactorValues{CO2e: 2.0, Unit: "L"},
					},
				},
			},
		},
	}
}

func TestUpsertFlowchart_AppliesDefaults(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)

	saved, err := reg.UpsertFlowchart(context.Background(), admin(), orgChart())
	require.NoError(t, err)

	assert.NotEmpty(t, saved.ID)
	assert.EqualValues(t, 1, saved.Version)

	scope := saved.Nodes[0].Scopes[0]
	assert.NotEmpty(t, scope.ScopeUID)
	assert.InDelta(t, domain.DefaultAllocationPct, scope.AllocationPct, 1e-9)
	assert.Equal(t, domain.Tier1, scope.CalculationModel)
}

func TestUpsertFlowchart_RejectsForeignClient(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)

	other := domain.Principal{ID: "u2", Role: domain.RoleUser, ClientID: "rival"}

	_, err := reg.UpsertFlowchart(context.Background(), other, orgChart())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrClientMismatch)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestUpsertFlowchart_RejectsMissingFactorDetail(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)

	chart := orgChart()
	chart.Nodes[0].Scopes[0].EmissionFactor = domain.SourceCountry
	chart.Nodes[0].Scopes[0].Country = ""

	_, err := reg.UpsertFlowchart(context.Background(), admin(), chart)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestUpsertFlowchart_ScopeRenameKeepsUID(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	ctx := context.Background()

	saved, err := reg.UpsertFlowchart(ctx, admin(), orgChart())
	require.NoError(t, err)

	uid := saved.Nodes[0].Scopes[0].ScopeUID

	// A rename carrying the UID keeps the scope linked to its stream.
	update := *saved
	update.Nodes = []domain.Node{{
		ID:    "plant-1",
		Label: "Plant 1",
		Scopes: []domain.ScopeDescriptor{{
			ScopeUID:        uid,
			ScopeIdentifier: "main-boiler",
		}},
	}}

	renamed, err := reg.UpsertFlowchart(ctx, admin(), &update)
	require.NoError(t, err)

	require.Len(t, renamed.Nodes[0].Scopes, 1)
	scope := renamed.Nodes[0].Scopes[0]
	assert.Equal(t, uid, scope.ScopeUID)
	assert.Equal(t, "main-boiler", scope.ScopeIdentifier)
	assert.Equal(t, domain.SourceCustom, scope.EmissionFactor, "unset update fields keep previous values")
	assert.Equal(t, []string{"boiler"}, scope.PreviousIdentifiers,
		"the old identifier joins the lineage so historical entries keep resolving")
	assert.EqualValues(t, 2, renamed.Version)
}

func TestMergeScopes_RenameChainBuildsLineage(t *testing.T) {
	t.Parallel()

	existing := []domain.ScopeDescriptor{{
		ScopeUID:        "uid-1",
		ScopeIdentifier: "a",
		ScopeType:       domain.Scope1,
	}}

	merged, err := registry.MergeScopes(existing, []registry.ScopeUpdate{
		{ScopeDescriptor: domain.ScopeDescriptor{ScopeUID: "uid-1", ScopeIdentifier: "b"}},
	})
	require.NoError(t, err)

	merged, err = registry.MergeScopes(merged, []registry.ScopeUpdate{
		{ScopeDescriptor: domain.ScopeDescriptor{ScopeUID: "uid-1", ScopeIdentifier: "c"}},
	})
	require.NoError(t, err)

	require.Len(t, merged, 1)
	assert.Equal(t, "c", merged[0].ScopeIdentifier)
	assert.Equal(t, []string{"a", "b"}, merged[0].PreviousIdentifiers)
	assert.True(t, merged[0].KnownAs("a"))
	assert.True(t, merged[0].KnownAs("b"))

	// Renaming back to an earlier identifier drops it from the lineage.
	merged, err = registry.MergeScopes(merged, []registry.ScopeUpdate{
		{ScopeDescriptor: domain.ScopeDescriptor{ScopeUID: "uid-1", ScopeIdentifier: "a"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "a", merged[0].ScopeIdentifier)
	assert.Equal(t, []string{"b", "c"}, merged[0].PreviousIdentifiers)
	assert.False(t, merged[0].KnownAs("x"))
}

func TestSoftDeleteAndRestore(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	ctx := context.Background()

	first, err := reg.UpsertFlowchart(ctx, admin(), orgChart())
	require.NoError(t, err)

	require.NoError(t, reg.SoftDelete(ctx, admin(), "acme", first.ID))

	_, err = reg.Active(ctx, admin(), "acme", domain.ChartOrganisation)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// A second active chart blocks restoration of the first.
	second, err := reg.UpsertFlowchart(ctx, admin(), orgChart())
	require.NoError(t, err)

	err = reg.Restore(ctx, admin(), "acme", first.ID)
	assert.ErrorIs(t, err, domain.ErrActiveChartExists)

	require.NoError(t, reg.SoftDelete(ctx, admin(), "acme", second.ID))
	require.NoError(t, reg.Restore(ctx, admin(), "acme", first.ID))

	active, err := reg.Active(ctx, admin(), "acme", domain.ChartOrganisation)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)
}

func TestSetAllocation_PublishesAndHooks(t *testing.T) {
	t.Parallel()

	reg, publisher := newRegistry(t)
	ctx := context.Background()

	chart := orgChart()
	chart.Kind = domain.ChartProcess
	chart.Nodes = append(chart.Nodes, domain.Node{
		ID:    "plant-2",
		Label: "Plant 2",
		Scopes: []domain.ScopeDescriptor{{
			ScopeIdentifier: "boiler",
			ScopeType:       domain.Scope1,
			CategoryName:    "stationary_combustion",
			Activity:        "fuel_combustion",
			EmissionFactor:  domain.SourceCustom,
			CustomFactor:    &domain.FactorValues{CO2e: 2.0},
		}},
	})

	_, err := reg.UpsertFlowchart(ctx, admin(), chart)
	require.NoError(t, err)

	var hooked []string

	reg.SetAllocationChangeHook(func(_ context.Context, clientID string) {
		hooked = append(hooked, clientID)
	})

	warning, err := reg.SetAllocation(ctx, admin(), "acme", "plant-1", "boiler", 60)
	require.NoError(t, err)
	assert.NotEmpty(t, warning, "both nodes default to 100, 60+100 exceeds the whole")

	events := publisher.EventsOfType(domain.EventAllocationUpdated)
	require.Len(t, events, 1)
	assert.Equal(t, "acme", events[0].ClientID)
	assert.Equal(t, []string{"acme"}, hooked)

	_, err = reg.SetAllocation(ctx, admin(), "acme", "plant-1", "boiler", 140)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestFindScope(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	ctx := context.Background()

	_, _, err := reg.FindScope(ctx, "acme", domain.ChartOrganisation, "plant-1", "boiler")
	assert.True(t, domain.IsKind(err, domain.KindPrerequisite), "no chart yet")

	_, err = reg.UpsertFlowchart(ctx, admin(), orgChart())
	require.NoError(t, err)

	chart, scope, err := reg.FindScope(ctx, "acme", domain.ChartOrganisation, "plant-1", "boiler")
	require.NoError(t, err)
	assert.Equal(t, "acme", chart.ClientID)
	assert.Equal(t, "boiler", scope.ScopeIdentifier)

	_, _, err = reg.FindScope(ctx, "acme", domain.ChartOrganisation, "plant-1", "ghost")
	assert.ErrorIs(t, err, domain.ErrScopeNotFound)
}

func TestMergeScopes_HeuristicAndRenameCollision(t *testing.T) {
	t.Parallel()

	existing := []domain.ScopeDescriptor{
		{
			ScopeUID:        "uid-1",
			ScopeIdentifier: "boiler",
			ScopeType:       domain.Scope1,
			CategoryName:    "stationary_combustion",
			Activity:        "fuel_combustion",
			AllocationPct:   100,
		},
		{
			ScopeUID:        "uid-2",
			ScopeIdentifier: "fleet",
			ScopeType:       domain.Scope1,
			CategoryName:    "mobile_combustion",
			Activity:        "vehicle_fuel",
			AllocationPct:   100,
		},
	}

	// No UID, no identifier match: the classification triple links the
	// update to "boiler".
	merged, err := registry.MergeScopes(existing, []registry.ScopeUpdate{{
		ScopeDescriptor: domain.ScopeDescriptor{
			ScopeIdentifier: "boiler-renamed",
			ScopeType:       domain.Scope1,
			CategoryName:    "stationary_combustion",
			Activity:        "fuel_combustion",
		},
	}})
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, "uid-1", merged[0].ScopeUID)
	assert.Equal(t, "boiler-renamed", merged[0].ScopeIdentifier)
	assert.Equal(t, "fleet", merged[1].ScopeIdentifier, "untouched scopes carry forward")

	// A rename onto a surviving identifier is a conflict.
	_, err = registry.MergeScopes(existing, []registry.ScopeUpdate{{
		ScopeDescriptor: domain.ScopeDescriptor{ScopeUID: "uid-1", ScopeIdentifier: "fleet"},
	}})
	assert.ErrorIs(t, err, domain.ErrDuplicateScope)
}

func TestValidateDocument(t *testing.T) {
	t.Parallel()

	valid := []byte(`{
		"clientId": "acme",
		"kind": "organisation",
		"nodes": [
			{
				"id": "plant-1",
				"label": "Plant 1",
				"scopes": [
					{"scopeIdentifier": "boiler", "scopeType": "Scope 1"}
				]
			}
		]
	}`)
	assert.NoError(t, registry.ValidateDocument(valid))

	missingClient := []byte(`{"nodes": []}`)
	err := registry.ValidateDocument(missingClient)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	assert.Contains(t, err.Error(), "clientId")

	badScopeType := []byte(`{
		"clientId": "acme",
		"nodes": [
			{
				"id": "plant-1",
				"label": "Plant 1",
				"scopes": [
					{"scopeIdentifier": "boiler", "scopeType": "Scope 9"}
				]
			}
		]
	}`)
	err = registry.ValidateDocument(badScopeType)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestUpsertFlowchartJSON(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	ctx := context.Background()

	doc := []byte(`{
		"clientId": "acme",
		"kind": "organisation",
		"nodes": [
			{
				"id": "plant-1",
				"label": "Plant 1",
				"scopes": [
					{
						"scopeIdentifier": "boiler",
						"scopeType": "Scope 1",
						"categoryName": "stationary_combustion",
						"activity": "fuel_combustion",
						"emissionFactor": "Custom",
						"emissionFactorValues": {"co2e": 2.0, "unit": "L"}
					}
				]
			}
		]
	}`)

	chart, err := reg.UpsertFlowchartJSON(ctx, admin(), doc)
	require.NoError(t, err)
	assert.Equal(t, "acme", chart.ClientID)
	assert.NotEmpty(t, chart.Nodes[0].Scopes[0].ScopeUID, "defaults apply after decoding")

	// Shape errors are caught before any domain processing.
	_, err = reg.UpsertFlowchartJSON(ctx, admin(), []byte(`{"nodes": []}`))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	_, err = reg.UpsertFlowchartJSON(ctx, admin(), []byte(`not json`))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}
