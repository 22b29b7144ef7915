package domain

import (
	"fmt"
	"time"
)

// PeriodType is the granularity of a materialised summary.
type PeriodType string

const (
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
	PeriodYearly  PeriodType = "yearly"
	PeriodAllTime PeriodType = "all-time"
)

// AllPeriodTypes lists every granularity an ingested entry invalidates.
var AllPeriodTypes = []PeriodType{
	PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodYearly, PeriodAllTime,
}

// Period identifies one summary window. Week numbering is ISO-8601: the week
// field carries the ISO week and the year field carries the ISO week-year,
// which near year boundaries can differ from the calendar year.
type Period struct {
	Type  PeriodType `json:"type"`
	Year  int        `json:"year,omitempty"`
	Month int        `json:"month,omitempty"`
	Week  int        `json:"week,omitempty"`
	Day   int        `json:"day,omitempty"`

	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Key renders a stable identifier for the period, used as part of the
// summary document key.
func (p Period) Key() string {
	switch p.Type {
	case PeriodDaily:
		return fmt.Sprintf("daily-%04d-%02d-%02d", p.Year, p.Month, p.Day)
	case PeriodWeekly:
		return fmt.Sprintf("weekly-%04d-W%02d", p.Year, p.Week)
	case PeriodMonthly:
		return fmt.Sprintf("monthly-%04d-%02d", p.Year, p.Month)
	case PeriodYearly:
		return fmt.Sprintf("yearly-%04d", p.Year)
	case PeriodAllTime:
		return "all-time"
	}

	return string(p.Type)
}

// Contains reports whether ts falls inside [From, To).
func (p Period) Contains(ts time.Time) bool {
	if p.Type == PeriodAllTime {
		return true
	}

	return !ts.Before(p.From) && ts.Before(p.To)
}

// Previous returns the equal-length period immediately preceding this one,
// used for trend comparison. The all-time period has no predecessor.
func (p Period) Previous(loc *time.Location) (Period, bool) {
	switch p.Type {
	case PeriodDaily:
		return DailyPeriod(p.From.AddDate(0, 0, -1), loc), true
	case PeriodWeekly:
		return WeeklyPeriod(p.From.AddDate(0, 0, -7), loc), true
	case PeriodMonthly:
		return MonthlyPeriod(p.From.AddDate(0, 0, -1), loc), true
	case PeriodYearly:
		return YearlyPeriod(p.From.AddDate(0, 0, -1), loc), true
	case PeriodAllTime:
		return Period{}, false
	}

	return Period{}, false
}

// DailyPeriod builds the daily period containing ts in loc.
func DailyPeriod(ts time.Time, loc *time.Location) Period {
	local := ts.In(loc)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	return Period{
		Type:  PeriodDaily,
		Year:  local.Year(),
		Month: int(local.Month()),
		Day:   local.Day(),
		From:  from,
		To:    from.AddDate(0, 0, 1),
	}
}

// WeeklyPeriod builds the ISO-week period containing ts in loc.
func WeeklyPeriod(ts time.Time, loc *time.Location) Period {
	local := ts.In(loc)

	// Walk back to Monday, the ISO week start.
	offset := (int(local.Weekday()) + 6) % 7
	monday := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).
		AddDate(0, 0, -offset)

	isoYear, isoWeek := monday.ISOWeek()

	return Period{
		Type: PeriodWeekly,
		Year: isoYear,
		Week: isoWeek,
		From: monday,
		To:   monday.AddDate(0, 0, 7),
	}
}

// MonthlyPeriod builds the calendar-month period containing ts in loc.
func MonthlyPeriod(ts time.Time, loc *time.Location) Period {
	local := ts.In(loc)
	from := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)

	return Period{
		Type:  PeriodMonthly,
		Year:  local.Year(),
		Month: int(local.Month()),
		From:  from,
		To:    from.AddDate(0, 1, 0),
	}
}

// YearlyPeriod builds the calendar-year period containing ts in loc.
func YearlyPeriod(ts time.Time, loc *time.Location) Period {
	local := ts.In(loc)
	from := time.Date(local.Year(), 1, 1, 0, 0, 0, 0, loc)

	return Period{
		Type: PeriodYearly,
		Year: local.Year(),
		From: from,
		To:   from.AddDate(1, 0, 0),
	}
}

// AllTimePeriod builds the unbounded period.
func AllTimePeriod() Period {
	return Period{Type: PeriodAllTime}
}

// PeriodsContaining returns one period of every granularity whose bounds
// contain ts; these are exactly the summaries an ingested entry invalidates.
func PeriodsContaining(ts time.Time, loc *time.Location) []Period {
	return []Period{
		DailyPeriod(ts, loc),
		WeeklyPeriod(ts, loc),
		MonthlyPeriod(ts, loc),
		YearlyPeriod(ts, loc),
		AllTimePeriod(),
	}
}
