// Package factors provides the versioned emission-factor catalogue.
//
// Factors are keyed by (standard, scopeType, category, activity, fuel,
// region, unit) and carry per-gas values, a GWP table and a citation.
// A catalogue is immutable for the lifetime of a process; a factor revision
// allocates a new catalogue version instead of mutating in place.
package factors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/carbonplane/internal/domain"
)

// GWP is the AR5 100-year global warming potential table used to derive
// CO2e when a factor carries per-gas values only.
var GWP = map[string]float64{
	"CO2": 1,
	"CH4": 28,
	"N2O": 265,
	"SF6": 23500,
}

// GWPSF6 is the SF6 coefficient used directly by the fugitive-emission
// calculators.
const GWPSF6 = 23500.0

// Key identifies one factor in the catalogue. Empty Fuel/Region widen the
// match.
type Key struct {
	Standard  domain.FactorSource
	ScopeType domain.ScopeType
	Category  string
	Activity  string
	Fuel      string
	Region    string
	Unit      string
}

func (k Key) canonical() string {
	parts := []string{
		string(k.Standard), string(k.ScopeType),
		k.Category, k.Activity, k.Fuel, k.Region, k.Unit,
	}

	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}

	return strings.Join(parts, "|")
}

// Factor is one catalogue row.
type Factor struct {
	Key    Key
	Values domain.FactorValues

	// UpdatedAt is the last revision instant of the GWP/search metadata.
	UpdatedAt time.Time

	// Search is a free-text field the catalogue UI indexes on.
	Search string
}

// GridKey identifies a country electricity grid.
type GridKey struct {
	Country string
	Region  string
}

func (g GridKey) canonical() string {
	return strings.ToLower(strings.TrimSpace(g.Country)) + "|" +
		strings.ToLower(strings.TrimSpace(g.Region))
}

// Catalogue is the read-mostly factor store. It is immutable after
// construction; Revise returns a new version.
type Catalogue struct {
	version int64
	byKey   map[string]Factor

	// grids maps a country grid to its year-keyed kg CO2e/kWh factors.
	grids map[string]map[int]float64

	logger *slog.Logger
}

// Option customises catalogue construction.
type Option func(*Catalogue)

// WithLogger sets the catalogue logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalogue) { c.logger = logger }
}

// WithoutDefaults skips seeding the built-in factor tables.
func WithoutDefaults() Option {
	return func(c *Catalogue) {
		c.byKey = make(map[string]Factor)
		c.grids = make(map[string]map[int]float64)
	}
}

// NewCatalogue builds version 1 of the catalogue, seeded with the default
// factor tables unless WithoutDefaults is given.
func NewCatalogue(opts ...Option) *Catalogue {
	c := &Catalogue{
		version: 1,
		byKey:   seedDefaults(),
		grids:   seedGrids(),
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Version returns the catalogue version.
func (c *Catalogue) Version() int64 { return c.version }

// Revise returns a new catalogue version with the given factors overlaid.
// The receiver is left untouched.
func (c *Catalogue) Revise(updates ...Factor) *Catalogue {
	next := &Catalogue{
		version: c.version + 1,
		byKey:   make(map[string]Factor, len(c.byKey)+len(updates)),
		grids:   c.grids,
		logger:  c.logger,
	}

	for k, f := range c.byKey {
		next.byKey[k] = f
	}

	for _, f := range updates {
		next.byKey[f.Key.canonical()] = f
	}

	c.logger.Info("factor catalogue revised",
		"from", c.version,
		"to", next.version,
		"updates", len(updates),
	)

	return next
}

// ReviseGrid returns a new catalogue version with one grid year value set.
func (c *Catalogue) ReviseGrid(grid GridKey, year int, kgPerKWh float64) *Catalogue {
	next := &Catalogue{
		version: c.version + 1,
		byKey:   c.byKey,
		grids:   make(map[string]map[int]float64, len(c.grids)+1),
		logger:  c.logger,
	}

	for k, years := range c.grids {
		next.grids[k] = years
	}

	years := make(map[int]float64, len(next.grids[grid.canonical()])+1)
	for y, v := range c.grids[grid.canonical()] {
		years[y] = v
	}

	years[year] = kgPerKWh
	next.grids[grid.canonical()] = years

	return next
}

// Lookup finds a factor by key, widening the match by dropping region, then
// fuel, when no exact row exists.
func (c *Catalogue) Lookup(key Key) (Factor, bool) {
	if f, ok := c.byKey[key.canonical()]; ok {
		return f, true
	}

	wider := key
	wider.Region = ""

	if f, ok := c.byKey[wider.canonical()]; ok {
		return f, true
	}

	wider.Fuel = ""

	f, ok := c.byKey[wider.canonical()]

	return f, ok
}

// GridFactor returns the grid intensity for the given country/region and
// year. When the exact year is absent, the latest published earlier year
// applies; a zero return with false means the grid is unknown.
func (c *Catalogue) GridFactor(grid GridKey, year int) (float64, bool) {
	years, ok := c.grids[grid.canonical()]
	if !ok || len(years) == 0 {
		return 0, false
	}

	if v, found := years[year]; found {
		return v, true
	}

	best := 0
	value := 0.0

	for y, v := range years {
		if y <= year && y > best {
			best = y
			value = v
		}
	}

	if best == 0 {
		// Only future years published; take the earliest.
		for y, v := range years {
			if best == 0 || y < best {
				best = y
				value = v
			}
		}
	}

	return value, best != 0
}

// Resolve returns the effective factor values for a scope descriptor at the
// measurement instant. Custom factors come from the descriptor itself;
// Country factors are time-keyed on the grid publication year.
func (c *Catalogue) Resolve(ctx context.Context, scope *domain.ScopeDescriptor, ts time.Time) (domain.FactorValues, error) {
	switch scope.EmissionFactor {
	case domain.SourceCustom:
		if scope.CustomFactor == nil || !scope.CustomFactor.HasAnyGas() {
			return domain.FactorValues{}, fmt.Errorf(
				"scope %s custom factor: %w", scope.ScopeIdentifier, domain.ErrFactorUnresolved)
		}

		values := *scope.CustomFactor
		if values.GWP == nil {
			values.GWP = GWP
		}

		return values, nil

	case domain.SourceCountry:
		grid := GridKey{Country: scope.Country, Region: scope.Region}

		intensity, ok := c.GridFactor(grid, ts.Year())
		if !ok {
			return domain.FactorValues{}, fmt.Errorf(
				"scope %s grid %s/%s year %d: %w",
				scope.ScopeIdentifier, scope.Country, scope.Region, ts.Year(),
				domain.ErrFactorUnresolved)
		}

		return domain.FactorValues{
			CO2e: intensity,
			Unit: "kWh",
			GWP:  GWP,
			Year: ts.Year(),
		}, nil
	}

	key := Key{
		Standard:  scope.EmissionFactor,
		ScopeType: scope.ScopeType,
		Category:  scope.CategoryName,
		Activity:  scope.Activity,
		Fuel:      scope.Fuel,
		Region:    scope.Region,
		Unit:      scope.Unit,
	}

	factor, ok := c.Lookup(key)
	if !ok {
		return domain.FactorValues{}, fmt.Errorf(
			"scope %s standard %s activity %s: %w",
			scope.ScopeIdentifier, scope.EmissionFactor, scope.Activity,
			domain.ErrFactorUnresolved)
	}

	values := factor.Values
	if values.GWP == nil {
		values.GWP = GWP
	}

	return values, nil
}

// Resolvable reports whether Resolve would succeed, for ingestion
// prerequisite checks.
func (c *Catalogue) Resolvable(ctx context.Context, scope *domain.ScopeDescriptor, ts time.Time) bool {
	_, err := c.Resolve(ctx, scope, ts)
	return err == nil
}
