package summary_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/storage"
	"github.com/example/carbonplane/internal/summary"
)

var clock = time.Date(2026, time.April, 5, 10, 0, 0, 0, time.UTC)

func newMaterialiser(t *testing.T, opts ...summary.Option) (*summary.Materialiser, *storage.Stores) {
	t.Helper()

	stores, _ := storage.NewMemoryStores()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts = append(opts, summary.WithClock(func() time.Time { return clock }))

	return summary.NewMaterialiser(stores, time.UTC, logger, opts...), stores
}

func seedOrgChart(t *testing.T, stores *storage.Stores) {
	t.Helper()

	require.NoError(t, stores.Flowcharts.Put(context.Background(), &domain.Flowchart{
		ID:       "org",
		ClientID: "acme",
		Kind:     domain.ChartOrganisation,
		Nodes: []domain.Node{
			{
				ID:         "plant-1",
				Label:      "Plant 1",
				Department: "Operations",
				Location:   "Pune",
				Scopes: []domain.ScopeDescriptor{
					{
						ScopeIdentifier: "boiler",
						ScopeType:       domain.Scope1,
						CategoryName:    "stationary_combustion",
						Activity:        "fuel_combustion",
						EmissionFactor:  domain.SourceCustom,
					},
					{
						ScopeIdentifier: "grid-power",
						ScopeType:       domain.Scope2,
						CategoryName:    "purchased_energy",
						Activity:        "purchased_electricity",
						EmissionFactor:  domain.SourceCountry,
					},
				},
			},
		},
	}))
}

func seedEntry(t *testing.T, stores *storage.Stores, id, scopeID string, ts time.Time, co2e float64, status domain.ProcessingStatus) {
	t.Helper()

	entry := &domain.Entry{
		ID:               id,
		ClientID:         "acme",
		NodeID:           "plant-1",
		ScopeIdentifier:  scopeID,
		InputType:        domain.InputManual,
		Timestamp:        ts,
		DataValues:       map[string]float64{"x": 1},
		ProcessingStatus: status,
	}

	if status == domain.StatusProcessed {
		entry.CalculatedEmissions = &domain.CalculatedEmissions{
			Incoming:         domain.GasVector{CO2e: co2e, CO2: co2e},
			TotalGHGEmission: co2e,
			UncertaintyPct:   5,
			CalculatedAt:     ts,
		}
	}

	require.NoError(t, stores.Entries.Put(context.Background(), entry))
}

func TestRecompute_FoldsAllAxes(t *testing.T) {
	t.Parallel()

	m, stores := newMaterialiser(t)
	seedOrgChart(t, stores)

	march := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	period := domain.MonthlyPeriod(march, time.UTC)

	seedEntry(t, stores, "e1", "boiler", march, 100, domain.StatusProcessed)
	seedEntry(t, stores, "e2", "grid-power", march.Add(time.Hour), 40, domain.StatusProcessed)
	seedEntry(t, stores, "e3", "boiler", march.Add(2*time.Hour), 0, domain.StatusFailed)
	seedEntry(t, stores, "e4", "boiler", march.Add(3*time.Hour), 0, domain.StatusPending)

	// Outside the period; must not contribute.
	seedEntry(t, stores, "e5", "boiler", march.AddDate(0, 1, 0), 999, domain.StatusProcessed)

	doc, err := m.Recompute(context.Background(), "acme", period, false)
	require.NoError(t, err)

	assert.InDelta(t, 140, doc.Totals.CO2e, 1e-9)

	// Failed entries are skipped; pending ones count with a zero vector.
	assert.Equal(t, 3, doc.Totals.DataPointCount)
	assert.Equal(t, 4, doc.Metadata.EntriesScanned)
	assert.Equal(t, 1, doc.Metadata.SkippedFailed)

	require.Contains(t, doc.ByScope, "Scope 1")
	require.Contains(t, doc.ByScope, "Scope 2")
	assert.InDelta(t, 100, doc.ByScope["Scope 1"].CO2e, 1e-9)
	assert.InDelta(t, 40, doc.ByScope["Scope 2"].CO2e, 1e-9)

	require.Contains(t, doc.ByCategory, "stationary_combustion")
	assert.InDelta(t, 100, doc.ByCategory["stationary_combustion"].CO2e, 1e-9)
	assert.Contains(t, doc.ByCategory["stationary_combustion"].Activities, "fuel_combustion")

	assert.InDelta(t, 140, doc.ByNode["Plant 1"].CO2e, 1e-9)
	assert.InDelta(t, 140, doc.ByDepartment["Operations"].CO2e, 1e-9)
	assert.InDelta(t, 140, doc.ByLocation["Pune"].CO2e, 1e-9)
	assert.InDelta(t, 140, doc.ByInputType["manual"].CO2e, 1e-9)
	assert.InDelta(t, 100, doc.ByEmissionFactor["Custom"].CO2e, 1e-9)

	assert.True(t, doc.Metadata.LastCalculated.Equal(clock))
}

func TestRecompute_VanishedScopeFallsBackToUnknown(t *testing.T) {
	t.Parallel()

	m, stores := newMaterialiser(t)
	seedOrgChart(t, stores)

	march := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	entry := &domain.Entry{
		ID:               "ghost-1",
		ClientID:         "acme",
		NodeID:           "plant-1",
		ScopeIdentifier:  "decommissioned",
		ScopeType:        domain.Scope1,
		Timestamp:        march,
		DataValues:       map[string]float64{"x": 1},
		ProcessingStatus: domain.StatusProcessed,
		CalculatedEmissions: &domain.CalculatedEmissions{
			Incoming:         domain.GasVector{CO2e: 25},
			TotalGHGEmission: 25,
		},
	}
	require.NoError(t, stores.Entries.Put(context.Background(), entry))

	doc, err := m.Recompute(context.Background(), "acme", domain.MonthlyPeriod(march, time.UTC), false)
	require.NoError(t, err)

	// The vector survives under the Unknown dimension; the total is intact.
	assert.InDelta(t, 25, doc.Totals.CO2e, 1e-9)
	assert.InDelta(t, 25, doc.ByScope["Scope 1"].CO2e, 1e-9)
	assert.InDelta(t, 25, doc.ByNode[domain.UnknownDimension].CO2e, 1e-9)
	assert.InDelta(t, 25, doc.ByCategory[domain.UnknownDimension].CO2e, 1e-9)
}

func TestRecompute_Trends(t *testing.T) {
	t.Parallel()

	m, stores := newMaterialiser(t)
	seedOrgChart(t, stores)

	feb := time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC)
	march := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	seedEntry(t, stores, "p1", "boiler", feb, 100, domain.StatusProcessed)
	seedEntry(t, stores, "p2", "grid-power", feb.Add(time.Hour), 30, domain.StatusProcessed)
	seedEntry(t, stores, "c1", "boiler", march, 150, domain.StatusProcessed)

	doc, err := m.Recompute(context.Background(), "acme", domain.MonthlyPeriod(march, time.UTC), false)
	require.NoError(t, err)

	total := doc.Trends["total"]
	assert.Equal(t, domain.TrendUp, total.Direction)
	assert.InDelta(t, 20, total.Value, 1e-9)
	assert.InDelta(t, 20.0/130*100, total.Percentage, 1e-6)

	scope1 := doc.Trends["Scope 1"]
	assert.Equal(t, domain.TrendUp, scope1.Direction)
	assert.InDelta(t, 50, scope1.Value, 1e-9)

	// Scope 2 vanished this period; the trend still reports the drop.
	scope2 := doc.Trends["Scope 2"]
	assert.Equal(t, domain.TrendDown, scope2.Direction)
	assert.InDelta(t, -30, scope2.Value, 1e-9)
}

func TestRecompute_ProtectionSkipsAutomaticPath(t *testing.T) {
	t.Parallel()

	m, stores := newMaterialiser(t)
	seedOrgChart(t, stores)

	march := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	period := domain.MonthlyPeriod(march, time.UTC)

	migrated := &domain.EmissionSummary{
		ClientID: "acme",
		Period:   period,
		Totals:   domain.AxisTotals{CO2e: 777},
		Metadata: domain.SummaryMetadata{MigratedData: true},
	}
	require.NoError(t, stores.Summaries.Put(context.Background(), migrated))

	seedEntry(t, stores, "e1", "boiler", march, 100, domain.StatusProcessed)

	// The automatic path returns the stored document untouched.
	doc, err := m.Recompute(context.Background(), "acme", period, false)
	require.NoError(t, err)
	assert.InDelta(t, 777, doc.Totals.CO2e, 1e-9)

	// Force rebuilds but preserves the protection flags.
	doc, err = m.Recompute(context.Background(), "acme", period, true)
	require.NoError(t, err)
	assert.InDelta(t, 100, doc.Totals.CO2e, 1e-9)
	assert.True(t, doc.Metadata.MigratedData)

	stored, err := stores.Summaries.Get(context.Background(), "acme", period)
	require.NoError(t, err)
	assert.InDelta(t, 100, stored.Totals.CO2e, 1e-9)
}

func TestSetProtection(t *testing.T) {
	t.Parallel()

	m, stores := newMaterialiser(t)
	seedOrgChart(t, stores)

	march := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	period := domain.MonthlyPeriod(march, time.UTC)

	seedEntry(t, stores, "e1", "boiler", march, 100, domain.StatusProcessed)

	_, err := m.Recompute(context.Background(), "acme", period, false)
	require.NoError(t, err)

	require.NoError(t, m.SetProtection(context.Background(), "acme", period, true))

	seedEntry(t, stores, "e2", "boiler", march.Add(time.Hour), 100, domain.StatusProcessed)

	doc, err := m.Recompute(context.Background(), "acme", period, false)
	require.NoError(t, err)
	assert.InDelta(t, 100, doc.Totals.CO2e, 1e-9, "protected summary keeps its old totals")
}

func TestRecompute_ProcessViewAppliesAllocation(t *testing.T) {
	t.Parallel()

	m, stores := newMaterialiser(t)
	seedOrgChart(t, stores)

	require.NoError(t, stores.Flowcharts.Put(context.Background(), &domain.Flowchart{
		ID:       "proc",
		ClientID: "acme",
		Kind:     domain.ChartProcess,
		Nodes: []domain.Node{
			{
				ID:    "cutting",
				Label: "Cutting",
				Scopes: []domain.ScopeDescriptor{
					{ScopeIdentifier: "boiler", ScopeType: domain.Scope1, AllocationPct: 60},
				},
			},
			{
				ID:    "assembly",
				Label: "Assembly",
				Scopes: []domain.ScopeDescriptor{
					{ScopeIdentifier: "boiler", ScopeType: domain.Scope1, AllocationPct: 30},
				},
			},
		},
	}))

	march := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	seedEntry(t, stores, "e1", "boiler", march, 100, domain.StatusProcessed)

	// Not in the process chart; folds wholly into the unallocated residual.
	seedEntry(t, stores, "e2", "grid-power", march.Add(time.Hour), 40, domain.StatusProcessed)

	doc, err := m.Recompute(context.Background(), "acme", domain.MonthlyPeriod(march, time.UTC), false)
	require.NoError(t, err)

	view := doc.ProcessView
	require.NotNil(t, view)

	assert.InDelta(t, 140, view.Totals.CO2e, 1e-9)
	assert.InDelta(t, 60, view.ByNode["Cutting"].CO2e, 1e-9)
	assert.InDelta(t, 30, view.ByNode["Assembly"].CO2e, 1e-9)
	assert.InDelta(t, 50, view.Unallocated.CO2e, 1e-9, "10% of boiler plus all of grid-power")
	assert.Equal(t, 1, view.SharedScopes)

	// The node shares and the residual reconcile with the organisation total.
	allocated := 0.0
	for _, cell := range view.ByNode {
		allocated += cell.CO2e
	}

	assert.InDelta(t, doc.Totals.CO2e, allocated+view.Unallocated.CO2e, 1e-9)

	// Only the under-allocated chart scope warns; the org-only scope is a
	// configuration choice, not an allocation gap.
	require.Len(t, view.Warnings, 1)
	assert.Equal(t, "boiler", view.Warnings[0].ScopeIdentifier)
	assert.InDelta(t, 10, view.Warnings[0].UnallocatedPct, 1e-9)
}

func TestRecompute_RenamedScopeKeepsHistoricalEntries(t *testing.T) {
	t.Parallel()

	m, stores := newMaterialiser(t)

	require.NoError(t, stores.Flowcharts.Put(context.Background(), &domain.Flowchart{
		ID:       "org",
		ClientID: "acme",
		Kind:     domain.ChartOrganisation,
		Nodes: []domain.Node{
			{
				ID:         "plant-1",
				Label:      "Plant 1",
				Department: "Operations",
				Scopes: []domain.ScopeDescriptor{
					{
						ScopeUID:            "uid-1",
						ScopeIdentifier:     "boiler-main",
						PreviousIdentifiers: []string{"boiler"},
						ScopeType:           domain.Scope1,
						CategoryName:        "stationary_combustion",
						Activity:            "fuel_combustion",
						EmissionFactor:      domain.SourceCustom,
					},
				},
			},
		},
	}))

	require.NoError(t, stores.Flowcharts.Put(context.Background(), &domain.Flowchart{
		ID:       "proc",
		ClientID: "acme",
		Kind:     domain.ChartProcess,
		Nodes: []domain.Node{
			{
				ID:    "cutting",
				Label: "Cutting",
				Scopes: []domain.ScopeDescriptor{
					{
						ScopeUID:            "uid-1",
						ScopeIdentifier:     "boiler-main",
						PreviousIdentifiers: []string{"boiler"},
						ScopeType:           domain.Scope1,
						AllocationPct:       100,
					},
				},
			},
		},
	}))

	march := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	// Recorded before the rename, still keyed on the old identifier.
	seedEntry(t, stores, "old-1", "boiler", march, 100, domain.StatusProcessed)
	seedEntry(t, stores, "new-1", "boiler-main", march.Add(time.Hour), 50, domain.StatusProcessed)

	doc, err := m.Recompute(context.Background(), "acme", domain.MonthlyPeriod(march, time.UTC), false)
	require.NoError(t, err)

	// Both generations of the stream roll up under the current dimensions.
	assert.InDelta(t, 150, doc.Totals.CO2e, 1e-9)
	require.Contains(t, doc.ByCategory, "stationary_combustion")
	assert.InDelta(t, 150, doc.ByCategory["stationary_combustion"].CO2e, 1e-9)
	assert.InDelta(t, 150, doc.ByNode["Plant 1"].CO2e, 1e-9)
	assert.NotContains(t, doc.ByCategory, domain.UnknownDimension)

	view := doc.ProcessView
	require.NotNil(t, view)
	assert.InDelta(t, 150, view.ByNode["Cutting"].CO2e, 1e-9)
	assert.InDelta(t, 0, view.Unallocated.CO2e, 1e-9)
}

func TestRecompute_NoProcessChartMeansNoView(t *testing.T) {
	t.Parallel()

	m, stores := newMaterialiser(t)
	seedOrgChart(t, stores)

	march := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	seedEntry(t, stores, "e1", "boiler", march, 100, domain.StatusProcessed)

	doc, err := m.Recompute(context.Background(), "acme", domain.MonthlyPeriod(march, time.UTC), false)
	require.NoError(t, err)
	assert.Nil(t, doc.ProcessView)
}

func TestInvalidate_WritesEveryContainingPeriod(t *testing.T) {
	t.Parallel()

	m, stores := newMaterialiser(t)
	seedOrgChart(t, stores)

	march := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	seedEntry(t, stores, "e1", "boiler", march, 100, domain.StatusProcessed)

	m.Invalidate(context.Background(), "acme", march)

	for _, period := range domain.PeriodsContaining(march, time.UTC) {
		doc, err := stores.Summaries.Get(context.Background(), "acme", period)
		require.NoError(t, err, period.Key())
		assert.InDelta(t, 100, doc.Totals.CO2e, 1e-9, period.Key())
	}
}

func TestInvalidate_ConcurrentBurstsCoalesce(t *testing.T) {
	t.Parallel()

	m, stores := newMaterialiser(t)
	seedOrgChart(t, stores)

	march := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	seedEntry(t, stores, "e1", "boiler", march, 100, domain.StatusProcessed)

	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			m.Invalidate(context.Background(), "acme", march)
		}()
	}

	wg.Wait()

	// Whatever interleaving happened, the final document is consistent.
	doc, err := stores.Summaries.Get(context.Background(), "acme", domain.MonthlyPeriod(march, time.UTC))
	require.NoError(t, err)
	assert.InDelta(t, 100, doc.Totals.CO2e, 1e-9)
}

type stubReduction struct {
	rollup *domain.ReductionSummary
}

func (s stubReduction) Summarise(context.Context, string, domain.Period) (*domain.ReductionSummary, error) {
	return s.rollup, nil
}

func TestRecompute_EmbedsReductionRollup(t *testing.T) {
	t.Parallel()

	rollup := &domain.ReductionSummary{TotalNetReduction: 12.5, EntryCount: 2}

	m, stores := newMaterialiser(t, summary.WithReduction(stubReduction{rollup: rollup}))
	seedOrgChart(t, stores)

	march := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	seedEntry(t, stores, "e1", "boiler", march, 100, domain.StatusProcessed)

	doc, err := m.Recompute(context.Background(), "acme", domain.MonthlyPeriod(march, time.UTC), false)
	require.NoError(t, err)

	require.NotNil(t, doc.Reduction)
	assert.InDelta(t, 12.5, doc.Reduction.TotalNetReduction, 1e-9)
}
