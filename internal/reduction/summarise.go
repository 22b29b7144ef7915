package reduction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/storage"
)

// topSourceLimit caps the ranked source list in the calculation summary.
const topSourceLimit = 5

// Folder builds the per-period reduction rollup embedded in emission
// summaries, including the optional analytics block.
type Folder struct {
	store   storage.ReductionStore
	clients storage.ClientStore
}

// NewFolder creates a reduction summariser.
func NewFolder(store storage.ReductionStore, clients storage.ClientStore) *Folder {
	return &Folder{store: store, clients: clients}
}

// Summarise folds a client's reduction entries inside the period into the
// rollup document.
func (f *Folder) Summarise(ctx context.Context, clientID string, period domain.Period) (*domain.ReductionSummary, error) {
	from, to := period.From, period.To
	if period.Type == domain.PeriodAllTime {
		from, to = time.Time{}, time.Time{}
	}

	out := &domain.ReductionSummary{
		ByProject:     map[string]float64{},
		ByCategory:    map[string]float64{},
		ByScope:       map[string]float64{},
		ByLocation:    map[string]float64{},
		ByActivity:    map[string]float64{},
		ByMethodology: map[string]float64{},
	}

	calc := &domain.ReductionCalculationSummary{
		MechanismSplit: map[string]float64{},
	}

	monthly := map[string]float64{}
	quarterly := map[string]float64{}
	yearly := map[string]float64{}
	monthsSeen := map[string]struct{}{}

	err := f.store.ForEachClient(ctx, clientID, from, to, func(entry *domain.ReductionEntry) error {
		net := entry.NetReduction

		out.TotalNetReduction += net
		out.EntryCount++

		out.ByProject[entry.ProjectID] += net
		out.ByMethodology[string(entry.Methodology)] += net
		calc.MechanismSplit[string(entry.Mechanism)] += net

		if entry.Category != "" {
			out.ByCategory[entry.Category] += net
		}

		if entry.Scope != "" {
			out.ByScope[string(entry.Scope)] += net
		}

		if entry.Location != "" {
			out.ByLocation[entry.Location] += net
		}

		if entry.Activity != "" {
			out.ByActivity[entry.Activity] += net
		}

		ts := entry.Timestamp
		monthKey := ts.Format("2006-01")
		monthly[monthKey] += net
		quarterly[fmt.Sprintf("%04d-Q%d", ts.Year(), (int(ts.Month())-1)/3+1)] += net
		yearly[ts.Format("2006")] += net
		monthsSeen[monthKey] = struct{}{}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.EntryCount == 0 {
		return out, nil
	}

	calc.MonthlyTrend = trendSeries(monthly)
	calc.QuarterlyTrend = trendSeries(quarterly)
	calc.YearlyTrend = trendSeries(yearly)
	calc.TopSources = topSources(out.ByProject, out.TotalNetReduction)
	calc.CategoryPriorities = rankedKeys(out.ByCategory)
	calc.DataCompletenessPct = completeness(period, monthsSeen)

	if previous, ok := period.Previous(time.UTC); ok {
		prevTotal, prevErr := f.totalFor(ctx, clientID, previous)
		if prevErr != nil {
			return nil, prevErr
		}

		calc.PeriodComparison = domain.TrendBetween(out.TotalNetReduction, prevTotal)
	}

	if f.clients != nil {
		client, clientErr := f.clients.Get(ctx, clientID)
		if clientErr != nil && !errors.Is(clientErr, domain.ErrNotFound) {
			return nil, clientErr
		}

		if client != nil && client.DecarbonisationTargetKg > 0 {
			calc.AchievementPct = out.TotalNetReduction / client.DecarbonisationTargetKg * 100
		}
	}

	out.Calculation = calc

	return out, nil
}

func (f *Folder) totalFor(ctx context.Context, clientID string, period domain.Period) (float64, error) {
	total := 0.0

	err := f.store.ForEachClient(ctx, clientID, period.From, period.To, func(entry *domain.ReductionEntry) error {
		total += entry.NetReduction

		return nil
	})

	return total, err
}

// trendSeries sorts a keyed bucket map into an ordered point series; the
// keys are lexicographically ordered time labels.
func trendSeries(buckets map[string]float64) []domain.TrendPoint {
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	points := make([]domain.TrendPoint, 0, len(keys))
	for _, k := range keys {
		points = append(points, domain.TrendPoint{Label: k, Value: buckets[k]})
	}

	return points
}

func topSources(byProject map[string]float64, total float64) []domain.SourceContribution {
	ranked := make([]domain.SourceContribution, 0, len(byProject))

	for project, value := range byProject {
		contribution := domain.SourceContribution{ProjectID: project, Total: value}
		if total != 0 {
			contribution.SharePct = value / total * 100
		}

		ranked = append(ranked, contribution)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Total != ranked[j].Total {
			return ranked[i].Total > ranked[j].Total
		}

		return ranked[i].ProjectID < ranked[j].ProjectID
	})

	if len(ranked) > topSourceLimit {
		ranked = ranked[:topSourceLimit]
	}

	return ranked
}

func rankedKeys(buckets map[string]float64) []string {
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		if buckets[keys[i]] != buckets[keys[j]] {
			return buckets[keys[i]] > buckets[keys[j]]
		}

		return keys[i] < keys[j]
	})

	return keys
}

// completeness is the share of the period's months carrying at least one
// entry. Unbounded and sub-month periods report 100 when any data exists.
func completeness(period domain.Period, monthsSeen map[string]struct{}) float64 {
	if period.Type == domain.PeriodAllTime || period.Type == domain.PeriodDaily || period.Type == domain.PeriodWeekly {
		if len(monthsSeen) > 0 {
			return 100
		}

		return 0
	}

	expected := 0
	for cursor := period.From; cursor.Before(period.To); cursor = cursor.AddDate(0, 1, 0) {
		expected++
	}

	if expected == 0 {
		return 0
	}

	return float64(len(monthsSeen)) / float64(expected) * 100
}
