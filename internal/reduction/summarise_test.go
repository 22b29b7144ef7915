package reduction_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/reduction"
	"github.com/example/carbonplane/internal/storage"
)

func newFolder(t *testing.T) (*reduction.Folder, *storage.Stores) {
	t.Helper()

	stores, _ := storage.NewMemoryStores()

	return reduction.NewFolder(stores.Reductions, stores.Clients), stores
}

func appendReduction(t *testing.T, stores *storage.Stores, project string, ts time.Time, net float64, mutate func(*domain.ReductionEntry)) {
	t.Helper()

	entry := &domain.ReductionEntry{
		ID:           fmt.Sprintf("%s-%d", project, ts.UnixNano()),
		ClientID:     "acme",
		ProjectID:    project,
		Methodology:  domain.MethodologyM2,
		Mechanism:    domain.MechanismReduction,
		NetReduction: net,
		Timestamp:    ts,
	}

	if mutate != nil {
		mutate(entry)
	}

	require.NoError(t, stores.Reductions.Append(context.Background(), entry))
}

func TestSummarise(t *testing.T) {
	t.Parallel()

	folder, stores := newFolder(t)
	ctx := context.Background()

	require.NoError(t, stores.Clients.Put(ctx, &domain.Client{
		ID:                      "acme",
		DecarbonisationTargetKg: 1000,
	}))

	march := time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)
	period := domain.MonthlyPeriod(march, time.UTC)

	appendReduction(t, stores, "solar-roof", march, 300, func(e *domain.ReductionEntry) {
		e.Category = "energy"
		e.Scope = domain.Scope2
		e.Location = "Pune"
		e.Activity = "solar_generation"
	})
	appendReduction(t, stores, "fleet-ev", march.Add(time.Hour), 100, func(e *domain.ReductionEntry) {
		e.Category = "transport"
		e.Mechanism = domain.MechanismRemoval
	})

	// Previous month seeds the period comparison baseline.
	appendReduction(t, stores, "solar-roof", march.AddDate(0, -1, 0), 200, nil)

	out, err := folder.Summarise(ctx, "acme", period)
	require.NoError(t, err)

	assert.InDelta(t, 400, out.TotalNetReduction, 1e-9)
	assert.Equal(t, 2, out.EntryCount)
	assert.InDelta(t, 300, out.ByProject["solar-roof"], 1e-9)
	assert.InDelta(t, 100, out.ByProject["fleet-ev"], 1e-9)
	assert.InDelta(t, 400, out.ByMethodology["M2"], 1e-9)
	assert.InDelta(t, 300, out.ByCategory["energy"], 1e-9)
	assert.InDelta(t, 300, out.ByScope["Scope 2"], 1e-9)
	assert.InDelta(t, 300, out.ByLocation["Pune"], 1e-9)
	assert.InDelta(t, 300, out.ByActivity["solar_generation"], 1e-9)

	calc := out.Calculation
	require.NotNil(t, calc)

	assert.InDelta(t, 300, calc.MechanismSplit["reduction"], 1e-9)
	assert.InDelta(t, 100, calc.MechanismSplit["removal"], 1e-9)

	require.Len(t, calc.TopSources, 2)
	assert.Equal(t, "solar-roof", calc.TopSources[0].ProjectID)
	assert.InDelta(t, 75, calc.TopSources[0].SharePct, 1e-9)
	assert.Equal(t, "fleet-ev", calc.TopSources[1].ProjectID)
	assert.InDelta(t, 25, calc.TopSources[1].SharePct, 1e-9)

	assert.Equal(t, []string{"energy", "transport"}, calc.CategoryPriorities)

	require.Len(t, calc.MonthlyTrend, 1)
	assert.Equal(t, "2026-03", calc.MonthlyTrend[0].Label)
	assert.InDelta(t, 400, calc.MonthlyTrend[0].Value, 1e-9)
	require.Len(t, calc.QuarterlyTrend, 1)
	assert.Equal(t, "2026-Q1", calc.QuarterlyTrend[0].Label)

	assert.Equal(t, domain.TrendUp, calc.PeriodComparison.Direction)
	assert.InDelta(t, 200, calc.PeriodComparison.Value, 1e-9)

	assert.InDelta(t, 100, calc.DataCompletenessPct, 1e-9, "single-month period with data")
	assert.InDelta(t, 40, calc.AchievementPct, 1e-9, "400 of the 1000 kg target")
}

func TestSummarise_EmptyPeriod(t *testing.T) {
	t.Parallel()

	folder, _ := newFolder(t)

	out, err := folder.Summarise(context.Background(), "acme", domain.MonthlyPeriod(time.Now(), time.UTC))
	require.NoError(t, err)

	assert.Zero(t, out.TotalNetReduction)
	assert.Zero(t, out.EntryCount)
	assert.Nil(t, out.Calculation, "no analytics without data")
}

func TestSummarise_YearlyCompleteness(t *testing.T) {
	t.Parallel()

	folder, stores := newFolder(t)

	appendReduction(t, stores, "p1", time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC), 10, nil)
	appendReduction(t, stores, "p1", time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC), 20, nil)

	period := domain.YearlyPeriod(time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC), time.UTC)

	out, err := folder.Summarise(context.Background(), "acme", period)
	require.NoError(t, err)

	require.NotNil(t, out.Calculation)
	assert.InDelta(t, 2.0/12*100, out.Calculation.DataCompletenessPct, 1e-6)
}

func TestSummarise_TopSourcesCapped(t *testing.T) {
	t.Parallel()

	folder, stores := newFolder(t)

	march := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		appendReduction(t, stores, fmt.Sprintf("p%d", i), march.Add(time.Duration(i)*time.Hour), float64(i+1), nil)
	}

	out, err := folder.Summarise(context.Background(), "acme", domain.MonthlyPeriod(march, time.UTC))
	require.NoError(t, err)

	require.NotNil(t, out.Calculation)
	require.Len(t, out.Calculation.TopSources, 5)
	assert.Equal(t, "p6", out.Calculation.TopSources[0].ProjectID, "largest contributor first")
}
