package calc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/factors"
)

// Engine resolves factors and dispatches entries to the calculator table.
// Calculation is pure and non-suspending; the only suspension point is the
// catalogue lookup.
type Engine struct {
	table     *Table
	catalogue *factors.Catalogue
	logger    *slog.Logger
}

// NewEngine builds an engine over a catalogue.
func NewEngine(catalogue *factors.Catalogue, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		table:     NewTable(),
		catalogue: catalogue,
		logger:    logger,
	}
}

// Table exposes the dispatch table for the ingestion normaliser.
func (e *Engine) Table() *Table { return e.table }

// resolveFactor applies the variant's catalogue-lookup overrides before
// resolving.
func (e *Engine) resolveFactor(ctx context.Context, scope *domain.ScopeDescriptor, v Variant, ts time.Time) (domain.FactorValues, error) {
	lookup := *scope

	if v.FactorActivity != "" {
		lookup.Activity = v.FactorActivity
	}

	if v.FactorUnit != "" {
		lookup.Unit = v.FactorUnit
	}

	return e.catalogue.Resolve(ctx, &lookup, ts)
}

// Process computes a pending entry's emissions in place. prevCumulative is
// the per-gas running total of the stream strictly before this entry in
// timestamp order. On success the entry transitions to processed; a
// prerequisite failure leaves it pending and is returned for retry policy.
func (e *Engine) Process(ctx context.Context, entry *domain.Entry, scope *domain.ScopeDescriptor, prevCumulative domain.GasVector) error {
	if err := ctx.Err(); err != nil {
		// Deadline hit before any work: the entry stays pending.
		return fmt.Errorf("calculate entry %s: %w", entry.ID, err)
	}

	variant, err := e.table.VariantFor(scope)
	if err != nil {
		return domain.E(domain.KindPrerequisite, "calc.process", err)
	}

	factor, err := e.resolveFactor(ctx, scope, variant, entry.Timestamp)
	if err != nil {
		return domain.E(domain.KindPrerequisite, "calc.process", err)
	}

	incoming := variant.Fn(entry.DataValues, factor)

	if incoming.CO2e < 0 {
		entry.ProcessingStatus = domain.StatusFailed
		entry.FailureReason = "negative emission result"

		return domain.Errorf(domain.KindFatal, "calc.process",
			"entry %s produced negative CO2e %f", entry.ID, incoming.CO2e)
	}

	cumulative := prevCumulative.Add(incoming)

	entry.CalculatedEmissions = &domain.CalculatedEmissions{
		Incoming:         incoming,
		Cumulative:       cumulative,
		TotalGHGEmission: incoming.CO2e,
		UncertaintyPct:   CombinedUncertainty(scope.UAD, scope.UEF),
		FactorSource:     scope.EmissionFactor,
		FactorUnit:       factor.Unit,
		CalculatedAt:     time.Now().UTC(),
	}
	entry.ProcessingStatus = domain.StatusProcessed
	entry.FailureReason = ""

	e.logger.Debug("entry calculated",
		"entry", entry.ID,
		"stream", entry.Stream().String(),
		"co2e", incoming.CO2e,
		"cumulative", cumulative.CO2e,
	)

	return nil
}
