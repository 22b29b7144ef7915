package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/carbonplane/internal/domain"
)

// RunMonthlyAggregation replaces each manual stream's per-entry history of
// every fully elapsed month with a single summary row carrying the month's
// totals. API and IOT streams are left raw. Streams that missed earlier
// runs are caught up month by month, oldest first, so a skipped run never
// strands raw entries.
func (s *Scheduler) RunMonthlyAggregation(ctx context.Context) error {
	cutoff := s.currentMonthStart()

	touched := map[string]time.Time{}
	charts := map[string]*domain.Flowchart{}

	err := s.stores.Configs.ForEach(ctx, func(cfg *domain.CollectionConfig) error {
		if s.streamInputType(ctx, charts, cfg) != domain.InputManual {
			return nil
		}

		key := cfg.Stream

		for {
			oldest, err := s.stores.Entries.OldestUnsummarised(ctx, key)
			if err != nil {
				return fmt.Errorf("stream %s: %w", key.String(), err)
			}

			if oldest.IsZero() || !oldest.Before(cutoff) {
				return nil
			}

			local := oldest.In(s.timezone)

			archivedAt, err := s.archiveMonth(ctx, key, local.Month(), local.Year())
			if err != nil {
				return fmt.Errorf("stream %s %04d-%02d: %w",
					key.String(), local.Year(), local.Month(), err)
			}

			if last, seen := touched[key.ClientID]; !seen || archivedAt.After(last) {
				touched[key.ClientID] = archivedAt
			}
		}
	})
	if err != nil {
		return err
	}

	for clientID, ts := range touched {
		if recErr := s.summaries.RecomputeAll(ctx, clientID, ts, false); recErr != nil {
			s.logger.Error("post-archival recompute failed",
				"client", clientID, "error", recErr)
		}
	}

	return nil
}

// streamInputType resolves a stream's input channel, preferring the value
// recorded on the config and falling back to the active organisation chart
// for configs written before the channel was recorded. Streams that cannot
// be resolved count as manual; a decommissioned stream is safe to compact.
func (s *Scheduler) streamInputType(ctx context.Context, charts map[string]*domain.Flowchart, cfg *domain.CollectionConfig) domain.InputType {
	if cfg.InputType != "" {
		return cfg.InputType
	}

	clientID := cfg.Stream.ClientID

	chart, ok := charts[clientID]
	if !ok {
		chart, _ = s.stores.Flowcharts.Active(ctx, clientID, domain.ChartOrganisation)
		charts[clientID] = chart
	}

	if chart == nil {
		return domain.InputManual
	}

	node, ok := chart.NodeByID(cfg.Stream.NodeID)
	if !ok {
		return domain.InputManual
	}

	for i := range node.Scopes {
		if node.Scopes[i].KnownAs(cfg.Stream.ScopeIdentifier) {
			return node.Scopes[i].InputType
		}
	}

	return domain.InputManual
}

func (s *Scheduler) currentMonthStart() time.Time {
	local := s.now().In(s.timezone)

	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, s.timezone)
}

// archiveMonth folds one stream month into a summary entry and swaps it in
// atomically. Returns the summary row's timestamp.
func (s *Scheduler) archiveMonth(ctx context.Context, key domain.StreamKey, month time.Month, year int) (time.Time, error) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, s.timezone)
	to := from.AddDate(0, 1, 0)

	entries, err := s.stores.Entries.Stream(ctx, key, from, to)
	if err != nil {
		return time.Time{}, err
	}

	summary := buildMonthlySummary(key, entries, month, year)
	if summary == nil {
		// Only pre-existing summary rows in the month; nothing to fold.
		return from, nil
	}

	if err = s.stores.Entries.ArchiveMonth(ctx, key, summary, month, year); err != nil {
		return time.Time{}, err
	}

	_ = s.publisher.Publish(ctx, domain.NewEvent(domain.EventMonthlySummaryCreated, key.ClientID, map[string]any{
		"nodeId":          key.NodeID,
		"scopeIdentifier": key.ScopeIdentifier,
		"month":           int(month),
		"year":            year,
		"entriesFolded":   len(entries),
	}))

	s.logger.Info("stream month archived",
		"stream", key.String(), "month", int(month), "year", year,
		"entries", len(entries))

	return summary.Timestamp, nil
}

// buildMonthlySummary folds the month's non-summary entries into one summary
// row: summed data values, summed incoming emissions, and the running
// aggregates of the month's last entry so the stream chain stays intact.
func buildMonthlySummary(key domain.StreamKey, entries []*domain.Entry, month time.Month, year int) *domain.Entry {
	var (
		last       *domain.Entry
		values     = map[string]float64{}
		incoming   domain.GasVector
		totalUnc   float64
		scopeType  domain.ScopeType
		factorUsed domain.FactorSource
		folded     int
	)

	for _, entry := range entries {
		if entry.IsSummary {
			continue
		}

		folded++
		last = entry
		scopeType = entry.ScopeType
		factorUsed = entry.EmissionFactor

		for field, value := range entry.DataValues {
			values[field] += value
		}

		if ce := entry.CalculatedEmissions; ce != nil {
			incoming = incoming.Add(ce.Incoming)
			totalUnc += ce.UncertaintyPct
		}
	}

	if folded == 0 {
		return nil
	}

	summary := &domain.Entry{
		ID:              uuid.NewString(),
		ClientID:        key.ClientID,
		NodeID:          key.NodeID,
		ScopeIdentifier: key.ScopeIdentifier,
		ScopeType:       scopeType,
		InputType:       last.InputType,
		Date:            last.Date,
		Time:            last.Time,
		Timestamp:       last.Timestamp,
		DataValues:      values,
		EmissionFactor:  factorUsed,
		IsEditable:      false,
		IsSummary:       true,
		SummaryPeriod:   &domain.MonthYear{Month: month, Year: year},

		ProcessingStatus: domain.StatusProcessed,

		CumulativeValues: last.CumulativeValues,
		HighData:         last.HighData,
		LowData:          last.LowData,
		LastEnteredData:  last.LastEnteredData,
	}

	summary.CalculatedEmissions = &domain.CalculatedEmissions{
		Incoming:         incoming,
		TotalGHGEmission: incoming.CO2e,
		UncertaintyPct:   totalUnc,
		CalculatedAt:     last.Timestamp,
	}

	if lastCE := last.CalculatedEmissions; lastCE != nil {
		summary.CalculatedEmissions.Cumulative = lastCE.Cumulative
		summary.CalculatedEmissions.FactorSource = lastCE.FactorSource
		summary.CalculatedEmissions.FactorUnit = lastCE.FactorUnit
	}

	return summary
}
