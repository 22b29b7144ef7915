package factors_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/factors"
)

func TestCatalogue_ReviseIsCopyOnWrite(t *testing.T) {
	t.Parallel()

	base := factors.NewCatalogue(factors.WithoutDefaults())
	require.EqualValues(t, 1, base.Version())

	key := factors.Key{
		Standard:  domain.SourceIPCC,
		ScopeType: domain.Scope1,
		Category:  factors.CategoryStationaryCombustion,
		Activity:  factors.ActivityFuelCombustion,
		Fuel:      "diesel",
		Unit:      "litre",
	}

	next := base.Revise(factors.Factor{
		Key:    key,
		Values: domain.FactorValues{CO2: 2.68, Unit: "litre"},
	})

	assert.EqualValues(t, 2, next.Version())

	_, ok := base.Lookup(key)
	assert.False(t, ok, "base catalogue must stay untouched")

	got, ok := next.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, 2.68, got.Values.CO2)
}

func TestCatalogue_LookupWidensRegionThenFuel(t *testing.T) {
	t.Parallel()

	key := factors.Key{
		Standard:  domain.SourceDEFRA,
		ScopeType: domain.Scope1,
		Category:  factors.CategoryMobileCombustion,
		Activity:  factors.ActivityVehicleFuel,
		Unit:      "litre",
	}

	c := factors.NewCatalogue(factors.WithoutDefaults()).Revise(factors.Factor{
		Key:    key,
		Values: domain.FactorValues{CO2e: 2.5, Unit: "litre"},
	})

	narrow := key
	narrow.Fuel = "petrol"
	narrow.Region = "scotland"

	got, ok := c.Lookup(narrow)
	require.True(t, ok, "lookup must fall through region and fuel")
	assert.Equal(t, 2.5, got.Values.CO2e)
}

func TestCatalogue_GridFactorYearFallback(t *testing.T) {
	t.Parallel()

	grid := factors.GridKey{Country: "India"}

	c := factors.NewCatalogue(factors.WithoutDefaults()).
		ReviseGrid(grid, 2022, 0.71).
		ReviseGrid(grid, 2024, 0.68)

	exact, ok := c.GridFactor(grid, 2024)
	require.True(t, ok)
	assert.Equal(t, 0.68, exact)

	// No 2023 publication: the latest earlier year applies.
	earlier, ok := c.GridFactor(grid, 2023)
	require.True(t, ok)
	assert.Equal(t, 0.71, earlier)

	// Queries before any publication take the earliest year.
	earliest, ok := c.GridFactor(grid, 2020)
	require.True(t, ok)
	assert.Equal(t, 0.71, earliest)

	_, ok = c.GridFactor(factors.GridKey{Country: "Atlantis"}, 2024)
	assert.False(t, ok)
}

func TestCatalogue_ResolveCustom(t *testing.T) {
	t.Parallel()

	c := factors.NewCatalogue(factors.WithoutDefaults())
	ctx := context.Background()
	now := time.Now()

	scope := &domain.ScopeDescriptor{
		ScopeIdentifier: "boiler-1",
		EmissionFactor:  domain.SourceCustom,
	}

	_, err := c.Resolve(ctx, scope, now)
	assert.ErrorIs(t, err, domain.ErrFactorUnresolved, "custom source without values")

	scope.CustomFactor = &domain.FactorValues{CO2e: 1.9, Unit: "litre"}

	values, err := c.Resolve(ctx, scope, now)
	require.NoError(t, err)
	assert.Equal(t, 1.9, values.CO2e)
	assert.NotNil(t, values.GWP, "missing GWP table defaults to AR5")
	assert.Equal(t, 28.0, values.GWP["CH4"])
}

func TestCatalogue_ResolveCountryIsTimeKeyed(t *testing.T) {
	t.Parallel()

	grid := factors.GridKey{Country: "Germany"}
	c := factors.NewCatalogue(factors.WithoutDefaults()).ReviseGrid(grid, 2025, 0.35)

	scope := &domain.ScopeDescriptor{
		ScopeIdentifier: "site-power",
		ScopeType:       domain.Scope2,
		EmissionFactor:  domain.SourceCountry,
		Country:         "Germany",
	}

	values, err := c.Resolve(context.Background(), scope, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0.35, values.CO2e)
	assert.Equal(t, "kWh", values.Unit)
	assert.Equal(t, 2026, values.Year)
}

func TestCatalogue_DefaultsAreResolvable(t *testing.T) {
	t.Parallel()

	c := factors.NewCatalogue()

	scope := &domain.ScopeDescriptor{
		ScopeIdentifier:  "fleet",
		ScopeType:        domain.Scope1,
		CategoryName:     factors.CategoryMobileCombustion,
		Activity:         factors.ActivityVehicleFuel,
		CalculationModel: domain.Tier1,
		EmissionFactor:   domain.SourceDEFRA,
		Fuel:             "diesel",
		Unit:             "L",
	}

	assert.True(t, c.Resolvable(context.Background(), scope, time.Now()))
}
