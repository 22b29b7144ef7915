package domain

import "time"

// Methodology identifies how a reduction entry's net reduction was derived.
type Methodology string

const (
	// MethodologyM1 computes netReduction = inputValue * emissionReductionRate.
	MethodologyM1 Methodology = "M1"
	// MethodologyM2 accepts a caller-computed net reduction.
	MethodologyM2 Methodology = "M2"
	// MethodologyM3 accepts a net reduction with an itemised baseline /
	// project / leakage breakdown and a buffer percentage.
	MethodologyM3 Methodology = "M3"
)

// IsValid reports whether the methodology is one of M1..M3.
func (m Methodology) IsValid() bool {
	return m == MethodologyM1 || m == MethodologyM2 || m == MethodologyM3
}

// Mechanism splits reduction projects into reductions and removals.
type Mechanism string

const (
	MechanismReduction Mechanism = "reduction"
	MechanismRemoval   Mechanism = "removal"
)

// M3Breakdown is the itemised methodology-3 calculation detail.
type M3Breakdown struct {
	Baseline []float64 `json:"baseline,omitempty"`
	Project  []float64 `json:"project,omitempty"`
	Leakage  []float64 `json:"leakage,omitempty"`

	BETotal float64 `json:"beTotal"`
	PETotal float64 `json:"peTotal"`
	LETotal float64 `json:"leTotal"`

	BufferPercent      float64 `json:"bufferPercent,omitempty"`
	NetWithUncertainty float64 `json:"netWithUncertainty,omitempty"`
}

// ReductionEntry is one append-only record in a (client, project,
// methodology) reduction stream.
type ReductionEntry struct {
	ID        string `json:"id"`
	ClientID  string `json:"clientId"`
	ProjectID string `json:"projectId"`

	Methodology Methodology `json:"calculationMethodology"`
	Mechanism   Mechanism   `json:"mechanism,omitempty"`

	// Category, Scope, Location and Activity dimension the reduction for
	// the summary breakdowns.
	Category string    `json:"category,omitempty"`
	Scope    ScopeType `json:"scope,omitempty"`
	Location string    `json:"location,omitempty"`
	Activity string    `json:"activity,omitempty"`

	InputValue            float64 `json:"inputValue,omitempty"`
	EmissionReductionRate float64 `json:"emissionReductionRate,omitempty"`

	NetReduction float64 `json:"netReduction"`

	// Running aggregates maintained under the stream's critical section.
	CumulativeNetReduction float64 `json:"cumulativeNetReduction"`
	HighNetReduction       float64 `json:"highNetReduction"`
	LowNetReduction        float64 `json:"lowNetReduction"`

	Breakdown *M3Breakdown `json:"breakdown,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`

	StorageVersion int64 `json:"storageVersion,omitempty"`
}

// ReductionStream identifies one append-only reduction stream.
type ReductionStream struct {
	ClientID    string      `json:"clientId"`
	ProjectID   string      `json:"projectId"`
	Methodology Methodology `json:"methodology"`
}

// String renders the stream key for lock registries and log fields.
func (s ReductionStream) String() string {
	return s.ClientID + "/" + s.ProjectID + "/" + string(s.Methodology)
}

// TrendPoint is one step of a reduction trend series.
type TrendPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// SourceContribution ranks a reduction source by contribution.
type SourceContribution struct {
	ProjectID string  `json:"projectId"`
	Total     float64 `json:"total"`
	SharePct  float64 `json:"sharePct"`
}

// ReductionCalculationSummary is the optional analytics block embedded in a
// reduction summary.
type ReductionCalculationSummary struct {
	MonthlyTrend   []TrendPoint `json:"monthlyTrend,omitempty"`
	QuarterlyTrend []TrendPoint `json:"quarterlyTrend,omitempty"`
	YearlyTrend    []TrendPoint `json:"yearlyTrend,omitempty"`

	// MechanismSplit maps reduction/removal to their totals.
	MechanismSplit map[string]float64 `json:"mechanismSplit,omitempty"`

	TopSources []SourceContribution `json:"topSources,omitempty"`

	// PeriodComparison is the trend against the preceding equal period.
	PeriodComparison Trend `json:"periodComparison"`

	// DataCompletenessPct is the share of expected months with at least one
	// entry inside the summary period.
	DataCompletenessPct float64 `json:"dataCompletenessPct,omitempty"`

	// CategoryPriorities orders categories by descending contribution.
	CategoryPriorities []string `json:"categoryPriorities,omitempty"`

	// AchievementPct measures cumulative net reduction against the client's
	// decarbonisation target.
	AchievementPct float64 `json:"achievementPct,omitempty"`
}

// ReductionSummary is the per-period reduction rollup embedded in an
// emission summary.
type ReductionSummary struct {
	TotalNetReduction float64 `json:"totalNetReduction"`

	ByProject     map[string]float64 `json:"byProject,omitempty"`
	ByCategory    map[string]float64 `json:"byCategory,omitempty"`
	ByScope       map[string]float64 `json:"byScope,omitempty"`
	ByLocation    map[string]float64 `json:"byLocation,omitempty"`
	ByActivity    map[string]float64 `json:"byActivity,omitempty"`
	ByMethodology map[string]float64 `json:"byMethodology,omitempty"`

	EntryCount int `json:"entryCount"`

	Calculation *ReductionCalculationSummary `json:"calculationSummary,omitempty"`
}
