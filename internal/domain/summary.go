package domain

import (
	"math"
	"time"
)

// UnknownDimension is the fallback axis key for entries whose scope is no
// longer present in the active flowchart. Summaries still count them under
// the total; losing dimension metadata is a signal, not an error.
const UnknownDimension = "Unknown"

// TrendSameTolerance is the absolute delta below which a trend direction is
// reported as "same".
const TrendSameTolerance = 1e-6

// AxisTotals accumulates one cell of a summary axis.
type AxisTotals struct {
	CO2e           float64 `json:"co2e"`
	CO2            float64 `json:"co2"`
	CH4            float64 `json:"ch4"`
	N2O            float64 `json:"n2o"`
	Uncertainty    float64 `json:"uncertainty"`
	DataPointCount int     `json:"dataPointCount"`
}

// Accumulate folds one entry contribution into the cell.
func (a *AxisTotals) Accumulate(v GasVector, uncertainty float64) {
	a.CO2e += v.CO2e
	a.CO2 += v.CO2
	a.CH4 += v.CH4
	a.N2O += v.N2O
	a.Uncertainty += uncertainty
	a.DataPointCount++
}

// CategoryTotals is a byCategory cell with its nested per-activity split.
type CategoryTotals struct {
	AxisTotals
	Activities map[string]*AxisTotals `json:"activities,omitempty"`
}

// TrendDirection labels a period-over-period movement.
type TrendDirection string

const (
	TrendUp   TrendDirection = "up"
	TrendDown TrendDirection = "down"
	TrendSame TrendDirection = "same"
)

// Trend is one period-over-period delta.
type Trend struct {
	Value      float64        `json:"value"`
	Percentage float64        `json:"percentage"`
	Direction  TrendDirection `json:"direction"`
}

// TrendBetween computes the delta from previous to current.
func TrendBetween(current, previous float64) Trend {
	delta := current - previous

	t := Trend{Value: delta}

	switch {
	case math.Abs(delta) < TrendSameTolerance:
		t.Direction = TrendSame
		t.Value = 0
	case delta > 0:
		t.Direction = TrendUp
	default:
		t.Direction = TrendDown
	}

	if previous != 0 && t.Direction != TrendSame {
		t.Percentage = delta / previous * 100
	}

	return t
}

// AllocationWarning records an over- or under-allocated shared scope
// discovered while building the process view.
type AllocationWarning struct {
	ScopeIdentifier string  `json:"scopeIdentifier"`
	TotalPct        float64 `json:"totalPct"`
	UnallocatedPct  float64 `json:"unallocatedPct"`
	Message         string  `json:"message"`
}

// ProcessSummary is the process-flowchart-restricted mirror of a summary,
// with per-node allocation applied.
type ProcessSummary struct {
	Totals       AxisTotals                 `json:"totals"`
	ByNode       map[string]*AxisTotals     `json:"byNode,omitempty"`
	ByScope      map[string]*AxisTotals     `json:"byScope,omitempty"`
	ByCategory   map[string]*CategoryTotals `json:"byCategory,omitempty"`
	Unallocated  AxisTotals                 `json:"unallocated"`
	SharedScopes int                        `json:"sharedScopeCount"`
	Warnings     []AllocationWarning        `json:"allocationWarnings,omitempty"`
}

// SummaryMetadata carries bookkeeping and protection flags.
type SummaryMetadata struct {
	LastCalculated time.Time `json:"lastCalculated"`

	// MigratedData marks a summary imported from another system; the
	// automatic recompute path must leave it untouched.
	MigratedData bool `json:"migratedData,omitempty"`

	// PreventAutoRecalculation blocks the automatic recompute path; only an
	// explicit force call may replace the summary.
	PreventAutoRecalculation bool `json:"preventAutoRecalculation,omitempty"`

	EntriesScanned int `json:"entriesScanned,omitempty"`
	SkippedFailed  int `json:"skippedFailed,omitempty"`
}

// Protected reports whether the automatic recompute path must skip writes.
func (m SummaryMetadata) Protected() bool {
	return m.MigratedData || m.PreventAutoRecalculation
}

// EmissionSummary is the materialised multi-dimensional rollup for one
// (client, period). At most one document exists per key.
type EmissionSummary struct {
	ID       string `json:"id"`
	ClientID string `json:"clientId"`
	Period   Period `json:"period"`

	Totals AxisTotals `json:"totals"`

	ByScope          map[string]*AxisTotals     `json:"byScope,omitempty"`
	ByCategory       map[string]*CategoryTotals `json:"byCategory,omitempty"`
	ByActivity       map[string]*AxisTotals     `json:"byActivity,omitempty"`
	ByNode           map[string]*AxisTotals     `json:"byNode,omitempty"`
	ByDepartment     map[string]*AxisTotals     `json:"byDepartment,omitempty"`
	ByLocation       map[string]*AxisTotals     `json:"byLocation,omitempty"`
	ByInputType      map[string]*AxisTotals     `json:"byInputType,omitempty"`
	ByEmissionFactor map[string]*AxisTotals     `json:"byEmissionFactor,omitempty"`

	// Trends compares this period with the equal-length preceding one,
	// keyed by axis ("total", "Scope 1", ...).
	Trends map[string]Trend `json:"trends,omitempty"`

	ProcessView *ProcessSummary `json:"processEmissionSummary,omitempty"`

	Reduction *ReductionSummary `json:"reductionSummary,omitempty"`

	Metadata SummaryMetadata `json:"metadata"`

	StorageVersion int64 `json:"storageVersion,omitempty"`
}

// SummaryID derives the canonical document id for a (client, period) pair.
func SummaryID(clientID string, period Period) string {
	return clientID + ":" + period.Key()
}
