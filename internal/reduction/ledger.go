// Package reduction implements the append-only offset and reduction ledger:
// methodology-specific net-reduction calculation, per-stream running
// aggregates, and the per-period rollup embedded in emission summaries.
package reduction

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/carbonplane/internal/bus"
	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/storage"
)

// Ledger appends reduction entries and maintains the per-stream running
// aggregates under a stream-scoped critical section.
type Ledger struct {
	store     storage.ReductionStore
	publisher bus.Publisher
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewLedger creates a reduction ledger.
func NewLedger(store storage.ReductionStore, publisher bus.Publisher, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}

	return &Ledger{
		store:     store,
		publisher: publisher,
		logger:    logger,
		locks:     map[string]*sync.Mutex{},
		now:       time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

func (l *Ledger) lockFor(stream domain.ReductionStream) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := stream.String()

	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}

	return lock
}

// Record validates the entry, derives its net reduction per methodology,
// chains the stream's running aggregates, appends it and publishes the
// reduction-entry-saved event.
func (l *Ledger) Record(ctx context.Context, principal domain.Principal, entry *domain.ReductionEntry) error {
	if err := principal.RequireClient(entry.ClientID); err != nil {
		return domain.E(domain.KindValidation, "reduction.record", err)
	}

	if entry.ProjectID == "" {
		return domain.Errorf(domain.KindValidation, "reduction.record", "projectId is required")
	}

	if !entry.Methodology.IsValid() {
		return domain.Errorf(domain.KindValidation, "reduction.record",
			"unknown methodology %q", entry.Methodology)
	}

	if entry.Mechanism == "" {
		entry.Mechanism = domain.MechanismReduction
	}

	if entry.Mechanism != domain.MechanismReduction && entry.Mechanism != domain.MechanismRemoval {
		return domain.Errorf(domain.KindValidation, "reduction.record",
			"unknown mechanism %q", entry.Mechanism)
	}

	if err := deriveNetReduction(entry); err != nil {
		return err
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}

	stream := domain.ReductionStream{
		ClientID:    entry.ClientID,
		ProjectID:   entry.ProjectID,
		Methodology: entry.Methodology,
	}

	lock := l.lockFor(stream)
	lock.Lock()
	defer lock.Unlock()

	if err := l.chain(ctx, stream, entry); err != nil {
		return err
	}

	if err := l.store.Append(ctx, entry); err != nil {
		return err
	}

	_ = l.publisher.Publish(ctx, domain.NewEvent(domain.EventReductionEntrySaved, entry.ClientID, map[string]any{
		"projectId":    entry.ProjectID,
		"methodology":  string(entry.Methodology),
		"netReduction": entry.NetReduction,
	}))

	return nil
}

// chain extends the stream's cumulative, high and low aggregates from the
// latest stored entry. An empty stream starts the chain at the entry itself.
func (l *Ledger) chain(ctx context.Context, stream domain.ReductionStream, entry *domain.ReductionEntry) error {
	last, err := l.store.LastInStream(ctx, stream)

	switch {
	case errors.Is(err, domain.ErrNotFound):
		entry.CumulativeNetReduction = entry.NetReduction
		entry.HighNetReduction = entry.NetReduction
		entry.LowNetReduction = entry.NetReduction

		return nil
	case err != nil:
		return err
	}

	entry.CumulativeNetReduction = last.CumulativeNetReduction + entry.NetReduction

	entry.HighNetReduction = last.HighNetReduction
	if entry.NetReduction > entry.HighNetReduction {
		entry.HighNetReduction = entry.NetReduction
	}

	entry.LowNetReduction = last.LowNetReduction
	if entry.NetReduction < entry.LowNetReduction {
		entry.LowNetReduction = entry.NetReduction
	}

	return nil
}

// deriveNetReduction fills NetReduction per methodology:
//
//	M1: inputValue x emissionReductionRate
//	M2: caller-supplied net, taken as-is
//	M3: (BE - PE - LE) discounted by the buffer percentage
func deriveNetReduction(entry *domain.ReductionEntry) error {
	switch entry.Methodology {
	case domain.MethodologyM1:
		entry.NetReduction = entry.InputValue * entry.EmissionReductionRate

	case domain.MethodologyM2:
		// NetReduction arrives precomputed.

	case domain.MethodologyM3:
		breakdown := entry.Breakdown
		if breakdown == nil {
			return domain.Errorf(domain.KindValidation, "reduction.record",
				"methodology M3 requires a breakdown")
		}

		if len(breakdown.Baseline) > 0 {
			breakdown.BETotal = sum(breakdown.Baseline)
		}

		if len(breakdown.Project) > 0 {
			breakdown.PETotal = sum(breakdown.Project)
		}

		if len(breakdown.Leakage) > 0 {
			breakdown.LETotal = sum(breakdown.Leakage)
		}

		net := breakdown.BETotal - breakdown.PETotal - breakdown.LETotal
		net *= 1 - breakdown.BufferPercent/100

		breakdown.NetWithUncertainty = net
		entry.NetReduction = net
	}

	return nil
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}

	return total
}
