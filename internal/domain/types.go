// Package domain holds the shared model types of the carbon-accounting data
// plane: clients, flowcharts, scope descriptors, measurement entries,
// summaries, reduction entries, principals and bus events.
//
// The package implements the Greenhouse Gas Protocol scopes:
//   - Scope 1: direct emissions from owned or controlled sources
//   - Scope 2: indirect emissions from purchased energy
//   - Scope 3: all other indirect value-chain emissions
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ScopeType is the GHG Protocol scope classification of a scope descriptor.
type ScopeType string

const (
	// Scope1 covers direct emissions (combustion, process, fugitive).
	Scope1 ScopeType = "Scope 1"
	// Scope2 covers purchased-energy emissions.
	Scope2 ScopeType = "Scope 2"
	// Scope3 covers upstream and downstream value-chain emissions.
	Scope3 ScopeType = "Scope 3"
)

// IsValid reports whether the scope type is one of the three GHG scopes.
func (s ScopeType) IsValid() bool {
	return s == Scope1 || s == Scope2 || s == Scope3
}

// ParseScopeType normalises loose scope spellings ("scope 1", "SCOPE1", "1")
// to a canonical ScopeType.
func ParseScopeType(raw string) (ScopeType, error) {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	cleaned = strings.ReplaceAll(cleaned, "_", " ")

	switch cleaned {
	case "scope 1", "scope1", "1":
		return Scope1, nil
	case "scope 2", "scope2", "2":
		return Scope2, nil
	case "scope 3", "scope3", "3":
		return Scope3, nil
	}

	return "", fmt.Errorf("parse scope type %q: %w", raw, ErrInvalidScopeType)
}

// Tier is the calculation model detail level.
// Tier 1 is spend/default-factor based, tier 2 quantity based, tier 3
// site-specific measurement based.
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
)

// IsValid reports whether the tier is within the supported range.
func (t Tier) IsValid() bool {
	return t >= Tier1 && t <= Tier3
}

// InputType identifies how measurements reach a scope's stream.
type InputType string

const (
	InputManual InputType = "manual"
	InputAPI    InputType = "api"
	InputIOT    InputType = "iot"
)

// CanonicalInputType lowercases and trims an input-type spelling.
// The source data mixes cases ("Manual", "IOT"); ingestion canonicalises
// once so every downstream comparison is exact.
func CanonicalInputType(raw string) (InputType, error) {
	switch InputType(strings.ToLower(strings.TrimSpace(raw))) {
	case InputManual:
		return InputManual, nil
	case InputAPI:
		return InputAPI, nil
	case InputIOT:
		return InputIOT, nil
	}

	return "", fmt.Errorf("input type %q: %w", raw, ErrInvalidInputType)
}

// FactorSource names the emission-factor standard a scope resolves against.
type FactorSource string

const (
	SourceIPCC    FactorSource = "IPCC"
	SourceDEFRA   FactorSource = "DEFRA"
	SourceEPA     FactorSource = "EPA"
	SourceHub     FactorSource = "EmissionFactorHub"
	SourceCountry FactorSource = "Country"
	SourceCustom  FactorSource = "Custom"
)

// IsValid reports whether the factor source is a known standard.
func (f FactorSource) IsValid() bool {
	switch f {
	case SourceIPCC, SourceDEFRA, SourceEPA, SourceHub, SourceCountry, SourceCustom:
		return true
	}

	return false
}

// GasVector carries a per-gas emission mass in kilograms plus the derived
// CO2-equivalent. A zero GasVector is a valid "no contribution".
type GasVector struct {
	CO2  float64 `json:"co2"`
	CH4  float64 `json:"ch4"`
	N2O  float64 `json:"n2o"`
	CO2e float64 `json:"co2e"`
}

// Add returns the component-wise sum of v and other.
func (v GasVector) Add(other GasVector) GasVector {
	return GasVector{
		CO2:  v.CO2 + other.CO2,
		CH4:  v.CH4 + other.CH4,
		N2O:  v.N2O + other.N2O,
		CO2e: v.CO2e + other.CO2e,
	}
}

// Scale returns v multiplied by factor.
func (v GasVector) Scale(factor float64) GasVector {
	return GasVector{
		CO2:  v.CO2 * factor,
		CH4:  v.CH4 * factor,
		N2O:  v.N2O * factor,
		CO2e: v.CO2e * factor,
	}
}

// IsZero reports whether every component is exactly zero.
func (v GasVector) IsZero() bool {
	return v.CO2 == 0 && v.CH4 == 0 && v.N2O == 0 && v.CO2e == 0
}

// FactorValues is a resolved per-gas factor block attached to a scope
// descriptor (Custom source) or returned by the catalogue. Factors are
// expressed per activity unit (kg CO2e per litre, per kWh, per spend unit).
type FactorValues struct {
	CO2  float64 `json:"co2,omitempty"`
	CH4  float64 `json:"ch4,omitempty"`
	N2O  float64 `json:"n2o,omitempty"`
	CO2e float64 `json:"co2e,omitempty"`

	// Unit is the activity unit the factors are expressed against.
	Unit string `json:"unit,omitempty"`

	// GWP maps gas name to its global warming potential for deriving CO2e
	// when no explicit CO2e factor is present.
	GWP map[string]float64 `json:"gwp,omitempty"`

	// Citation records the publication the factor came from.
	Citation string `json:"citation,omitempty"`

	// Year is the publication year for time-keyed (Country grid) factors.
	Year int `json:"year,omitempty"`
}

// HasAnyGas reports whether at least one of the CO2/CH4/N2O/CO2e factors is
// set. Custom factors must satisfy this to be usable.
func (f FactorValues) HasAnyGas() bool {
	return f.CO2 != 0 || f.CH4 != 0 || f.N2O != 0 || f.CO2e != 0
}

// DefaultAllocationPct is the allocation percentage applied to a scope when
// the flowchart does not declare one.
const DefaultAllocationPct = 100.0

// ScopeDescriptor is the atomic configuration unit: one measurable emission
// source attached to a flowchart node.
type ScopeDescriptor struct {
	// ScopeUID is stable across renames of ScopeIdentifier.
	ScopeUID string `json:"scopeUid"`

	// ScopeIdentifier is the human-facing name; it may change over time.
	ScopeIdentifier string `json:"scopeIdentifier"`

	// PreviousIdentifiers is the rename lineage: every identifier this
	// scope was saved under before. Historical entries keyed on an old
	// identifier resolve through it.
	PreviousIdentifiers []string `json:"previousIdentifiers,omitempty"`

	ScopeType        ScopeType    `json:"scopeType"`
	CategoryName     string       `json:"categoryName"`
	Activity         string       `json:"activity"`
	CalculationModel Tier         `json:"calculationModel"`
	InputType        InputType    `json:"inputType"`
	APIEndpoint      string       `json:"apiEndpoint,omitempty"`
	IOTDeviceID      string       `json:"iotDeviceId,omitempty"`
	EmissionFactor   FactorSource `json:"emissionFactor"`

	// CustomFactor carries inline factor values when EmissionFactor is
	// SourceCustom; nil otherwise.
	CustomFactor *FactorValues `json:"emissionFactorValues,omitempty"`

	// Country and Region select the grid for SourceCountry factors.
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`

	// Fuel narrows the catalogue lookup for combustion activities.
	Fuel string `json:"fuel,omitempty"`

	// Unit is the activity unit measurements arrive in.
	Unit string `json:"unit,omitempty"`

	// UAD and UEF are activity-data and emission-factor uncertainty
	// percentages, combined as sqrt(UAD^2 + UEF^2) on calculation.
	UAD float64 `json:"uad,omitempty"`
	UEF float64 `json:"uef,omitempty"`

	// AllocationPct is the share of this scope's raw emission attributed to
	// the containing process node, in [0,100].
	AllocationPct float64 `json:"allocationPct"`

	// CollectionFrequency is the expected measurement cadence used by the
	// overdue detector ("daily", "weekly", "monthly").
	CollectionFrequency string `json:"collectionFrequency,omitempty"`
}

// Node is one process or organisational unit in a flowchart.
type Node struct {
	ID         string            `json:"id"`
	Label      string            `json:"label"`
	Department string            `json:"department,omitempty"`
	Location   string            `json:"location,omitempty"`
	Latitude   *float64          `json:"latitude,omitempty"`
	Longitude  *float64          `json:"longitude,omitempty"`
	HeadRef    string            `json:"assignedHead,omitempty"`
	Scopes     []ScopeDescriptor `json:"scopes"`
}

// ScopeByIdentifier returns the node's scope with the given identifier.
func (n *Node) ScopeByIdentifier(identifier string) (*ScopeDescriptor, bool) {
	for i := range n.Scopes {
		if n.Scopes[i].ScopeIdentifier == identifier {
			return &n.Scopes[i], true
		}
	}

	return nil, false
}

// KnownAs reports whether the scope is, or was before a rename, saved
// under the identifier.
func (s *ScopeDescriptor) KnownAs(identifier string) bool {
	if s.ScopeIdentifier == identifier {
		return true
	}

	for _, prev := range s.PreviousIdentifiers {
		if prev == identifier {
			return true
		}
	}

	return false
}

// Edge is a directed connection between two flowchart nodes.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ChartKind distinguishes the organisation chart from the process flowchart.
type ChartKind string

const (
	ChartOrganisation ChartKind = "organisation"
	ChartProcess      ChartKind = "process"
)

// Flowchart is the per-client, versioned, soft-deletable topology of nodes,
// edges and scope descriptors.
type Flowchart struct {
	ID       string    `json:"id"`
	ClientID string    `json:"clientId"`
	Kind     ChartKind `json:"kind"`

	// Version increases monotonically on every update. It doubles as the
	// optimistic-concurrency token for storage.
	Version int64 `json:"version"`

	// Deleted marks a logical soft delete; at most one non-deleted chart of
	// each kind exists per client.
	Deleted bool `json:"deleted"`

	Nodes     []Node    `json:"nodes"`
	Edges     []Edge    `json:"edges"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NodeByID returns the node with the given id.
func (f *Flowchart) NodeByID(id string) (*Node, bool) {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i], true
		}
	}

	return nil, false
}

// AssessmentLevel gates which downstream components are active for a client.
type AssessmentLevel string

const (
	AssessOrganisation    AssessmentLevel = "organisation"
	AssessProcess         AssessmentLevel = "process"
	AssessReduction       AssessmentLevel = "reduction"
	AssessDecarbonisation AssessmentLevel = "decarbonisation"
)

// Client is a tenant of the data plane.
type Client struct {
	ID     string            `json:"id"`
	Name   string            `json:"name,omitempty"`
	Levels []AssessmentLevel `json:"assessmentLevels,omitempty"`

	// DecarbonisationTargetKg is the reduction target used for achievement
	// percentage in the reduction calculation summary.
	DecarbonisationTargetKg float64 `json:"decarbonisationTarget,omitempty"`
}

// HasLevel reports whether the client carries the given assessment level.
func (c *Client) HasLevel(level AssessmentLevel) bool {
	for _, l := range c.Levels {
		if l == level {
			return true
		}
	}

	return false
}

// StreamKey identifies one measurement stream. All per-stream guarantees
// (serialised ingestion, prefix-sum cumulatives, archival atomicity) are
// scoped to this key.
type StreamKey struct {
	ClientID        string `json:"clientId"`
	NodeID          string `json:"nodeId"`
	ScopeIdentifier string `json:"scopeIdentifier"`
}

// String renders the key in "client/node/scope" form for lock registries,
// log fields and map keys.
func (k StreamKey) String() string {
	return k.ClientID + "/" + k.NodeID + "/" + k.ScopeIdentifier
}
