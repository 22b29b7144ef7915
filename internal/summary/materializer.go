// Package summary materialises the multi-dimensional emission rollups: one
// document per (client, period) folding the client's entries along scope,
// category, activity, node, department, location, input-type and factor
// axes, with period-over-period trends and an allocation-applied process
// view.
package summary

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/storage"
)

// ReductionFolder supplies the reduction rollup embedded in each summary.
type ReductionFolder interface {
	Summarise(ctx context.Context, clientID string, period domain.Period) (*domain.ReductionSummary, error)
}

// Materialiser recomputes emission summaries. Recomputation is serialised
// per summary document; bursts of invalidations for the same document
// coalesce into a single trailing recompute.
type Materialiser struct {
	stores    *storage.Stores
	reduction ReductionFolder
	logger    *slog.Logger
	timezone  *time.Location
	now       func() time.Time

	gates sync.Map // summary id -> *gate
}

// gate serialises recomputation of one summary document. The dirty counter
// collapses queued invalidations into one rerun.
type gate struct {
	mu    sync.Mutex
	dirty atomic.Int64
}

// Option configures a Materialiser.
type Option func(*Materialiser)

// WithReduction wires the reduction rollup source.
func WithReduction(folder ReductionFolder) Option {
	return func(m *Materialiser) { m.reduction = folder }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Materialiser) { m.now = now }
}

// NewMaterialiser creates a summary materialiser.
func NewMaterialiser(stores *storage.Stores, timezone *time.Location, logger *slog.Logger, opts ...Option) *Materialiser {
	if logger == nil {
		logger = slog.Default()
	}

	if timezone == nil {
		timezone = time.UTC
	}

	m := &Materialiser{
		stores:   stores,
		logger:   logger,
		timezone: timezone,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Invalidate recomputes every summary whose period contains ts. It is the
// ingestion pipeline's hook; errors are logged rather than returned so a
// summary hiccup never fails an ingest.
func (m *Materialiser) Invalidate(ctx context.Context, clientID string, ts time.Time) {
	for _, period := range domain.PeriodsContaining(ts, m.timezone) {
		m.recomputeCoalesced(ctx, clientID, period)
	}
}

func (m *Materialiser) gateFor(summaryID string) *gate {
	g, _ := m.gates.LoadOrStore(summaryID, &gate{})

	return g.(*gate)
}

// recomputeCoalesced serialises recomputation per document. When another
// goroutine already holds the gate it will observe the bumped dirty counter
// and rerun, so this caller returns immediately.
func (m *Materialiser) recomputeCoalesced(ctx context.Context, clientID string, period domain.Period) {
	g := m.gateFor(domain.SummaryID(clientID, period))

	g.dirty.Add(1)

	if !g.mu.TryLock() {
		return
	}
	defer g.mu.Unlock()

	for {
		stamp := g.dirty.Load()

		if _, err := m.Recompute(ctx, clientID, period, false); err != nil {
			m.logger.Error("summary recompute failed",
				"client", clientID, "period", period.Key(), "error", err)
		}

		if g.dirty.CompareAndSwap(stamp, 0) {
			return
		}
	}
}

// Recompute rebuilds one (client, period) summary from the entries. When the
// stored summary carries a protection flag the automatic path skips the
// write and returns the stored document; force overrides the protection but
// preserves the flags themselves.
func (m *Materialiser) Recompute(ctx context.Context, clientID string, period domain.Period, force bool) (*domain.EmissionSummary, error) {
	existing, err := m.stores.Summaries.Get(ctx, clientID, period)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if existing != nil && existing.Metadata.Protected() && !force {
		m.logger.Info("summary protected, recompute skipped",
			"client", clientID, "period", period.Key(),
			"migrated", existing.Metadata.MigratedData,
			"preventAuto", existing.Metadata.PreventAutoRecalculation)

		return existing, nil
	}

	built, err := m.build(ctx, clientID, period, existing)
	if err != nil {
		return nil, err
	}

	if err = m.stores.Summaries.Put(ctx, built); err == nil {
		return built, nil
	}

	if !errors.Is(err, domain.ErrVersionConflict) {
		return nil, err
	}

	// Lost a version race with a concurrent writer; rebuild once on top of
	// the winner.
	existing, err = m.stores.Summaries.Get(ctx, clientID, period)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if existing != nil && existing.Metadata.Protected() && !force {
		return existing, nil
	}

	built, err = m.build(ctx, clientID, period, existing)
	if err != nil {
		return nil, err
	}

	if err = m.stores.Summaries.Put(ctx, built); err != nil {
		return nil, err
	}

	return built, nil
}

// build assembles the summary document without writing it.
func (m *Materialiser) build(ctx context.Context, clientID string, period domain.Period, existing *domain.EmissionSummary) (*domain.EmissionSummary, error) {
	orgChart, err := activeChart(ctx, m.stores.Flowcharts, clientID, domain.ChartOrganisation)
	if err != nil {
		return nil, err
	}

	meta := buildMetaIndex(orgChart)

	fold, err := m.fold(ctx, clientID, period, meta)
	if err != nil {
		return nil, err
	}

	out := &domain.EmissionSummary{
		ID:               domain.SummaryID(clientID, period),
		ClientID:         clientID,
		Period:           period,
		Totals:           fold.Totals,
		ByScope:          fold.ByScope,
		ByCategory:       fold.ByCategory,
		ByActivity:       fold.ByActivity,
		ByNode:           fold.ByNode,
		ByDepartment:     fold.ByDepartment,
		ByLocation:       fold.ByLocation,
		ByInputType:      fold.ByInputType,
		ByEmissionFactor: fold.ByEmissionFactor,
		Metadata: domain.SummaryMetadata{
			LastCalculated: m.now().In(m.timezone),
			EntriesScanned: fold.EntriesScanned,
			SkippedFailed:  fold.SkippedFailed,
		},
	}

	if existing != nil {
		out.StorageVersion = existing.StorageVersion
		out.Metadata.MigratedData = existing.Metadata.MigratedData
		out.Metadata.PreventAutoRecalculation = existing.Metadata.PreventAutoRecalculation
	}

	if trends, trendErr := m.trends(ctx, clientID, period, fold, meta); trendErr != nil {
		m.logger.Warn("trend computation failed",
			"client", clientID, "period", period.Key(), "error", trendErr)
	} else {
		out.Trends = trends
	}

	processChart, err := activeChart(ctx, m.stores.Flowcharts, clientID, domain.ChartProcess)
	if err != nil {
		return nil, err
	}

	out.ProcessView = buildProcessView(processChart, fold, meta)

	if m.reduction != nil {
		reduction, redErr := m.reduction.Summarise(ctx, clientID, period)
		if redErr != nil {
			m.logger.Warn("reduction rollup failed",
				"client", clientID, "period", period.Key(), "error", redErr)
		} else {
			out.Reduction = reduction
		}
	}

	return out, nil
}

// trends compares this period against the equal-length preceding one for
// the grand total and every scope axis.
func (m *Materialiser) trends(ctx context.Context, clientID string, period domain.Period, fold *foldResult, meta *metaIndex) (map[string]domain.Trend, error) {
	previous, ok := period.Previous(m.timezone)
	if !ok {
		return nil, nil
	}

	prevTotal, prevByScope, err := m.foldTotals(ctx, clientID, previous, meta)
	if err != nil {
		return nil, err
	}

	trends := map[string]domain.Trend{
		"total": domain.TrendBetween(fold.Totals.CO2e, prevTotal),
	}

	for scope, totals := range fold.ByScope {
		trends[scope] = domain.TrendBetween(totals.CO2e, prevByScope[scope])
	}

	for scope, prev := range prevByScope {
		if _, seen := fold.ByScope[scope]; !seen {
			trends[scope] = domain.TrendBetween(0, prev)
		}
	}

	return trends, nil
}

// SetProtection flips the manual recalculation guard on a stored summary.
func (m *Materialiser) SetProtection(ctx context.Context, clientID string, period domain.Period, prevent bool) error {
	existing, err := m.stores.Summaries.Get(ctx, clientID, period)
	if err != nil {
		return err
	}

	existing.Metadata.PreventAutoRecalculation = prevent

	return m.stores.Summaries.Put(ctx, existing)
}

// RecomputeAll force-rebuilds every standard period containing ts, used by
// restore and by the monthly aggregation job after archival.
func (m *Materialiser) RecomputeAll(ctx context.Context, clientID string, ts time.Time, force bool) error {
	var firstErr error

	for _, period := range domain.PeriodsContaining(ts, m.timezone) {
		if _, err := m.Recompute(ctx, clientID, period, force); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
