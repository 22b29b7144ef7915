package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/carbonplane/internal/domain"
)

func TestDailyPeriod_Bounds(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, time.March, 15, 13, 45, 0, 0, time.UTC)
	p := domain.DailyPeriod(ts, time.UTC)

	assert.Equal(t, domain.PeriodDaily, p.Type)
	assert.Equal(t, "daily-2026-03-15", p.Key())
	assert.True(t, p.Contains(ts))
	assert.True(t, p.Contains(p.From))
	assert.False(t, p.Contains(p.To))
}

func TestWeeklyPeriod_ISOWeekYearBoundary(t *testing.T) {
	t.Parallel()

	// 2026-01-01 is a Thursday; it belongs to ISO week 1 of 2026, which
	// starts on Monday 2025-12-29.
	p := domain.WeeklyPeriod(time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), time.UTC)

	assert.Equal(t, 2026, p.Year)
	assert.Equal(t, 1, p.Week)
	assert.Equal(t, time.Date(2025, time.December, 29, 0, 0, 0, 0, time.UTC), p.From)
	assert.Equal(t, "weekly-2026-W01", p.Key())
}

func TestMonthlyPeriod_Previous(t *testing.T) {
	t.Parallel()

	p := domain.MonthlyPeriod(time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC), time.UTC)

	prev, ok := p.Previous(time.UTC)
	require.True(t, ok)
	assert.Equal(t, 2025, prev.Year)
	assert.Equal(t, 12, prev.Month)
	assert.Equal(t, "monthly-2025-12", prev.Key())
}

func TestAllTimePeriod(t *testing.T) {
	t.Parallel()

	p := domain.AllTimePeriod()

	assert.True(t, p.Contains(time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "all-time", p.Key())

	_, ok := p.Previous(time.UTC)
	assert.False(t, ok)
}

func TestPeriodsContaining_CoversEveryGranularity(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, time.June, 3, 9, 0, 0, 0, time.UTC)
	periods := domain.PeriodsContaining(ts, time.UTC)

	require.Len(t, periods, len(domain.AllPeriodTypes))

	seen := map[domain.PeriodType]bool{}
	for _, p := range periods {
		seen[p.Type] = true
		assert.True(t, p.Contains(ts), "period %s must contain the timestamp", p.Key())
	}

	for _, pt := range domain.AllPeriodTypes {
		assert.True(t, seen[pt], "missing period type %s", pt)
	}
}

func TestPeriodsContaining_TimezoneShiftsDailyBucket(t *testing.T) {
	t.Parallel()

	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	// 20:00 UTC on June 3rd is already June 4th in Kolkata.
	ts := time.Date(2026, time.June, 3, 20, 0, 0, 0, time.UTC)

	utcDay := domain.DailyPeriod(ts, time.UTC)
	localDay := domain.DailyPeriod(ts, kolkata)

	assert.Equal(t, 3, utcDay.Day)
	assert.Equal(t, 4, localDay.Day)
}
