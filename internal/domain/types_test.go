package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/carbonplane/internal/domain"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()

	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)

	return ts
}

func TestParseScopeType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want domain.ScopeType
	}{
		{"Scope 1", domain.Scope1},
		{"scope1", domain.Scope1},
		{"2", domain.Scope2},
		{"SCOPE_3", domain.Scope3},
		{" scope 3 ", domain.Scope3},
	}

	for _, tc := range cases {
		got, err := domain.ParseScopeType(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	_, err := domain.ParseScopeType("scope 4")
	assert.ErrorIs(t, err, domain.ErrInvalidScopeType)
}

func TestCanonicalInputType(t *testing.T) {
	t.Parallel()

	got, err := domain.CanonicalInputType(" IOT ")
	require.NoError(t, err)
	assert.Equal(t, domain.InputIOT, got)

	_, err = domain.CanonicalInputType("webhook")
	assert.ErrorIs(t, err, domain.ErrInvalidInputType)
}

func TestGasVector_AddScale(t *testing.T) {
	t.Parallel()

	a := domain.GasVector{CO2: 1, CH4: 2, N2O: 3, CO2e: 4}
	b := domain.GasVector{CO2: 10, CH4: 20, N2O: 30, CO2e: 40}

	sum := a.Add(b)
	assert.Equal(t, domain.GasVector{CO2: 11, CH4: 22, N2O: 33, CO2e: 44}, sum)

	half := b.Scale(0.5)
	assert.Equal(t, domain.GasVector{CO2: 5, CH4: 10, N2O: 15, CO2e: 20}, half)

	assert.True(t, domain.GasVector{}.IsZero())
	assert.False(t, a.IsZero())
}

func TestTrendBetween(t *testing.T) {
	t.Parallel()

	up := domain.TrendBetween(120, 100)
	assert.Equal(t, domain.TrendUp, up.Direction)
	assert.InDelta(t, 20, up.Percentage, 1e-9)

	down := domain.TrendBetween(80, 100)
	assert.Equal(t, domain.TrendDown, down.Direction)
	assert.InDelta(t, -20, down.Percentage, 1e-9)

	same := domain.TrendBetween(100, 100)
	assert.Equal(t, domain.TrendSame, same.Direction)
	assert.Zero(t, same.Value)
	assert.Zero(t, same.Percentage)

	// Previous zero yields a direction but no percentage.
	fromZero := domain.TrendBetween(5, 0)
	assert.Equal(t, domain.TrendUp, fromZero.Direction)
	assert.Zero(t, fromZero.Percentage)
}

func TestEntry_EmissionCO2ePreference(t *testing.T) {
	t.Parallel()

	entry := &domain.Entry{}
	assert.Zero(t, entry.EmissionCO2e())

	entry.CalculatedEmissions = &domain.CalculatedEmissions{
		Incoming:         domain.GasVector{CO2e: 7},
		Cumulative:       domain.GasVector{CO2e: 50},
		TotalGHGEmission: 9,
	}
	assert.Equal(t, 9.0, entry.EmissionCO2e())

	entry.CalculatedEmissions.TotalGHGEmission = 0
	assert.Equal(t, 7.0, entry.EmissionCO2e())

	entry.CalculatedEmissions.Incoming = domain.GasVector{}
	assert.Equal(t, 50.0, entry.EmissionCO2e())
}

func TestCollectionConfig_Overdue(t *testing.T) {
	t.Parallel()

	now := mustTime(t, "2026-08-10T12:00:00Z")

	cfg := &domain.CollectionConfig{}
	assert.False(t, cfg.Overdue(now), "zero NextDue never alerts")

	cfg.NextDue = mustTime(t, "2026-08-09T12:00:00Z")
	cfg.AlertThreshold = 48 * time.Hour
	assert.False(t, cfg.Overdue(now), "inside the grace window")

	cfg.AlertThreshold = 0
	assert.True(t, cfg.Overdue(now))
}

func TestSummaryMetadata_Protected(t *testing.T) {
	t.Parallel()

	assert.False(t, domain.SummaryMetadata{}.Protected())
	assert.True(t, domain.SummaryMetadata{MigratedData: true}.Protected())
	assert.True(t, domain.SummaryMetadata{PreventAutoRecalculation: true}.Protected())
}

func TestErrorKindPolicy(t *testing.T) {
	t.Parallel()

	err := domain.E(domain.KindPrerequisite, "ingest.lookup", domain.ErrScopeNotFound)

	assert.ErrorIs(t, err, domain.ErrScopeNotFound)
	assert.Equal(t, domain.KindPrerequisite, domain.KindOf(err))
	assert.True(t, domain.IsKind(err, domain.KindPrerequisite))

	// Unclassified errors default to transient so callers retry.
	assert.Equal(t, domain.KindTransient, domain.KindOf(assert.AnError))
}
