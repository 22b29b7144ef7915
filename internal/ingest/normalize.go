// Package ingest implements the measurement ingestion pipeline: prerequisite
// validation, payload normalisation, timestamping, per-stream serialised
// persistence with running aggregates, and hand-off to the calculation
// engine.
package ingest

import (
	"time"

	"github.com/example/carbonplane/internal/calc"
	"github.com/example/carbonplane/internal/domain"
)

// Accepted date layouts, tried in order.
var dateLayouts = []string{"02/01/2006", "2006-01-02"}

// timeLayout is the accepted time-of-day layout.
const timeLayout = "15:04:05"

// RawRow is one incoming measurement before normalisation. Values may carry
// fields outside the scope's canonical set; those are dropped.
type RawRow struct {
	Date          string             `json:"date,omitempty"`
	Time          string             `json:"time,omitempty"`
	Values        map[string]float64 `json:"values"`
	SourceDetails string             `json:"sourceDetails,omitempty"`
}

// ParseTimestamp combines a date and time string in the ingestion timezone.
// Empty date and time default to now; an empty time on a set date defaults
// to midnight.
func ParseTimestamp(date, timeOfDay string, now time.Time, loc *time.Location) (time.Time, error) {
	if date == "" && timeOfDay == "" {
		return now.In(loc), nil
	}

	var (
		day time.Time
		err error
	)

	if date == "" {
		local := now.In(loc)
		day = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	} else {
		day, err = parseDate(date, loc)
		if err != nil {
			return time.Time{}, err
		}
	}

	if timeOfDay == "" {
		return day, nil
	}

	clock, err := time.ParseInLocation(timeLayout, timeOfDay, loc)
	if err != nil {
		return time.Time{}, domain.Errorf(domain.KindValidation, "ingest.timestamp",
			"malformed time %q (want HH:mm:ss)", timeOfDay)
	}

	return time.Date(day.Year(), day.Month(), day.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0, loc), nil
}

func parseDate(date string, loc *time.Location) (time.Time, error) {
	for _, layout := range dateLayouts {
		parsed, err := time.ParseInLocation(layout, date, loc)
		if err == nil {
			return parsed, nil
		}
	}

	return time.Time{}, domain.Errorf(domain.KindValidation, "ingest.timestamp",
		"malformed date %q (want DD/MM/YYYY or YYYY-MM-DD)", date)
}

// Normalise projects raw values onto the scope's canonical field set.
// Unknown fields are dropped; missing fields default to zero and never fail
// ingestion.
func Normalise(table *calc.Table, scope *domain.ScopeDescriptor, values map[string]float64) (map[string]float64, error) {
	fields, err := table.CanonicalFields(scope)
	if err != nil {
		return nil, domain.E(domain.KindPrerequisite, "ingest.normalise", err)
	}

	out := make(map[string]float64, len(fields))
	for _, field := range fields {
		out[field] = values[field]
	}

	return out, nil
}

// FormatDate renders a timestamp back to the primary date layout, for
// entries whose date arrived empty.
func FormatDate(ts time.Time) string {
	return ts.Format(dateLayouts[0])
}

// FormatTime renders a timestamp's time-of-day.
func FormatTime(ts time.Time) string {
	return ts.Format(timeLayout)
}

// RowError locates one rejected row in a batch report.
type RowError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Report is the partial-success result of a batch ingest.
type Report struct {
	Accepted int        `json:"accepted"`
	Rejected []RowError `json:"rejected,omitempty"`
	EntryIDs []string   `json:"entryIds,omitempty"`
}

// Partial reports whether some rows failed while others were persisted.
func (r *Report) Partial() bool {
	return r.Accepted > 0 && len(r.Rejected) > 0
}

func (r *Report) reject(index int, reason string) {
	r.Rejected = append(r.Rejected, RowError{Index: index, Reason: reason})
}

// Err folds the report into an error: nil when everything was accepted, a
// partial-kind error when mixed, a validation-kind error when nothing made
// it through.
func (r *Report) Err() error {
	if len(r.Rejected) == 0 {
		return nil
	}

	kind := domain.KindValidation
	if r.Partial() {
		kind = domain.KindPartial
	}

	return domain.Errorf(kind, "ingest.batch",
		"%d of %d rows rejected", len(r.Rejected), r.Accepted+len(r.Rejected))
}

// groupDuplicates returns the indexes of rows sharing a (date,time) tuple
// with at least one other row. Duplicate groups are rejected together but
// do not fail the rest of the batch.
func groupDuplicates(rows []RawRow, stamps []time.Time) map[int]struct{} {
	counts := make(map[time.Time]int, len(rows))
	for i := range rows {
		if !stamps[i].IsZero() {
			counts[stamps[i]]++
		}
	}

	dups := make(map[int]struct{})

	for i := range rows {
		if !stamps[i].IsZero() && counts[stamps[i]] > 1 {
			dups[i] = struct{}{}
		}
	}

	return dups
}
