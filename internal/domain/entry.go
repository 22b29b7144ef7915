package domain

import (
	"time"
)

// ProcessingStatus is the lifecycle state of a measurement entry.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusProcessed ProcessingStatus = "processed"
	StatusFailed    ProcessingStatus = "failed"
)

// MonthYear identifies the calendar month a monthly summary entry covers.
type MonthYear struct {
	Month time.Month `json:"month"`
	Year  int        `json:"year"`
}

// CalculatedEmissions is attached to an entry once the calculation engine
// has processed it.
type CalculatedEmissions struct {
	// Incoming is this entry's own per-gas contribution.
	Incoming GasVector `json:"incoming"`

	// Cumulative is the running per-gas total for the stream up to and
	// including this entry, in timestamp order.
	Cumulative GasVector `json:"cumulative"`

	// TotalGHGEmission mirrors Incoming.CO2e for callers that only want the
	// headline number. Summarisation prefers it when present.
	TotalGHGEmission float64 `json:"totalGHGEmission"`

	// UncertaintyPct is the combined sqrt(UAD^2+UEF^2) percentage.
	UncertaintyPct float64 `json:"uncertaintyPct"`

	// FactorSource and FactorUnit record the factor applied, for audit.
	FactorSource FactorSource `json:"factorSource,omitempty"`
	FactorUnit   string       `json:"factorUnit,omitempty"`

	CalculatedAt time.Time `json:"calculatedAt"`
}

// Entry is one immutable measurement record in a stream. Running aggregates
// and calculated emissions are appended by the pipeline; the original
// payload never changes.
type Entry struct {
	ID              string           `json:"id"`
	ClientID        string           `json:"clientId"`
	NodeID          string           `json:"nodeId"`
	ScopeIdentifier string           `json:"scopeIdentifier"`
	ScopeType       ScopeType        `json:"scopeType"`
	InputType       InputType        `json:"inputType"`
	Date            string           `json:"date"`
	Time            string           `json:"time"`
	Timestamp       time.Time        `json:"timestamp"`
	DataValues      map[string]float64 `json:"dataValues"`
	EmissionFactor  FactorSource     `json:"emissionFactor,omitempty"`
	SourceDetails   string           `json:"sourceDetails,omitempty"`
	IsEditable      bool             `json:"isEditable"`

	ProcessingStatus ProcessingStatus `json:"processingStatus"`
	FailureReason    string           `json:"failureReason,omitempty"`

	// IsSummary marks a monthly summary row created by archival; its
	// DataValues hold the month's totals and SummaryPeriod is set.
	IsSummary     bool       `json:"isSummary,omitempty"`
	SummaryPeriod *MonthYear `json:"summaryPeriod,omitempty"`

	CalculatedEmissions *CalculatedEmissions `json:"calculatedEmissions,omitempty"`

	// Running per-field aggregates maintained under the stream's critical
	// section: prefix sums, max-seen, min-seen and last value.
	CumulativeValues map[string]float64 `json:"cumulativeValues,omitempty"`
	HighData         map[string]float64 `json:"highData,omitempty"`
	LowData          map[string]float64 `json:"lowData,omitempty"`
	LastEnteredData  map[string]float64 `json:"lastEnteredData,omitempty"`

	// StorageVersion is the optimistic-concurrency token.
	StorageVersion int64 `json:"storageVersion,omitempty"`
}

// Stream returns the entry's stream key.
func (e *Entry) Stream() StreamKey {
	return StreamKey{ClientID: e.ClientID, NodeID: e.NodeID, ScopeIdentifier: e.ScopeIdentifier}
}

// EmissionCO2e extracts the entry's CO2e contribution for summarisation.
// Preference order: TotalGHGEmission, then the incoming vector, then the
// cumulative vector. Unprocessed or failed entries contribute zero.
func (e *Entry) EmissionCO2e() float64 {
	ce := e.CalculatedEmissions
	if ce == nil {
		return 0
	}

	if ce.TotalGHGEmission != 0 {
		return ce.TotalGHGEmission
	}

	if !ce.Incoming.IsZero() {
		return ce.Incoming.CO2e
	}

	return ce.Cumulative.CO2e
}

// EmissionVector extracts the full per-gas contribution with the same
// preference order as EmissionCO2e.
func (e *Entry) EmissionVector() GasVector {
	ce := e.CalculatedEmissions
	if ce == nil {
		return GasVector{}
	}

	if !ce.Incoming.IsZero() {
		return ce.Incoming
	}

	return ce.Cumulative
}

// InMonth reports whether the entry's timestamp falls in the given calendar
// month, evaluated in the timestamp's own location.
func (e *Entry) InMonth(month time.Month, year int) bool {
	return e.Timestamp.Month() == month && e.Timestamp.Year() == year
}

// CollectionConfig is the persisted per-stream cadence record driving the
// overdue detector.
type CollectionConfig struct {
	Stream StreamKey `json:"stream"`

	// InputType mirrors the scope's configured input channel. The monthly
	// archival job compacts manual streams only; API and IOT raw history
	// is kept.
	InputType InputType `json:"inputType,omitempty"`

	// Cadence is the expected interval between measurements.
	Cadence time.Duration `json:"cadence"`

	LastCollection time.Time `json:"lastCollection"`
	NextDue        time.Time `json:"nextDue"`

	// AlertThreshold is the grace period added to NextDue before an overdue
	// alert fires.
	AlertThreshold time.Duration `json:"alertThreshold,omitempty"`

	// LastAlertedDue is the NextDue value the most recent alert covered;
	// used to emit at most one alert per overdue window.
	LastAlertedDue time.Time `json:"lastAlertedDue,omitempty"`

	StorageVersion int64 `json:"storageVersion,omitempty"`
}

// Overdue reports whether the stream is past due at the given instant.
func (c *CollectionConfig) Overdue(now time.Time) bool {
	if c.NextDue.IsZero() {
		return false
	}

	return now.After(c.NextDue.Add(c.AlertThreshold))
}

// CadenceFromFrequency maps a collection-frequency word to a duration.
// Unknown frequencies default to monthly.
func CadenceFromFrequency(frequency string) time.Duration {
	const day = 24 * time.Hour

	switch frequency {
	case "daily":
		return day
	case "weekly":
		return 7 * day
	case "monthly", "":
		return 30 * day
	case "quarterly":
		return 91 * day
	case "yearly":
		return 365 * day
	}

	return 30 * day
}
