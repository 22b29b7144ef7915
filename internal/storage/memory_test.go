package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/storage"
)

var testStream = domain.StreamKey{ClientID: "acme", NodeID: "plant-1", ScopeIdentifier: "boiler"}

func makeEntry(id string, ts time.Time) *domain.Entry {
	return &domain.Entry{
		ID:              id,
		ClientID:        testStream.ClientID,
		NodeID:          testStream.NodeID,
		ScopeIdentifier: testStream.ScopeIdentifier,
		Timestamp:       ts,
		DataValues:      map[string]float64{"fuelConsumption": 10},
	}
}

func TestMemory_EntryVersioning(t *testing.T) {
	t.Parallel()

	stores, _ := storage.NewMemoryStores()
	ctx := context.Background()

	entry := makeEntry("e1", time.Now().UTC())
	require.NoError(t, stores.Entries.Put(ctx, entry))
	assert.EqualValues(t, 1, entry.StorageVersion)

	// A stale version is rejected.
	stale := makeEntry("e1", entry.Timestamp)
	stale.StorageVersion = 0
	assert.ErrorIs(t, stores.Entries.Put(ctx, stale), domain.ErrVersionConflict)

	// The current version writes through and bumps.
	entry.DataValues["fuelConsumption"] = 20
	require.NoError(t, stores.Entries.Put(ctx, entry))
	assert.EqualValues(t, 2, entry.StorageVersion)
}

func TestMemory_StreamOrderAndBounds(t *testing.T) {
	t.Parallel()

	stores, _ := storage.NewMemoryStores()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// Inserted out of order on purpose.
	for _, spec := range []struct {
		id     string
		offset time.Duration
	}{
		{"e3", 48 * time.Hour},
		{"e1", 0},
		{"e2", 24 * time.Hour},
	} {
		require.NoError(t, stores.Entries.Put(ctx, makeEntry(spec.id, base.Add(spec.offset))))
	}

	all, err := stores.Entries.Stream(ctx, testStream, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "e1", all[0].ID)
	assert.Equal(t, "e3", all[2].ID)

	// [from, to) excludes the upper bound.
	window, err := stores.Entries.Stream(ctx, testStream, base, base.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "e2", window[1].ID)

	last, err := stores.Entries.LastInStream(ctx, testStream)
	require.NoError(t, err)
	assert.Equal(t, "e3", last.ID)
}

func TestMemory_ExistsAtIgnoresSummaryRows(t *testing.T) {
	t.Parallel()

	stores, _ := storage.NewMemoryStores()
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	summary := makeEntry("s1", ts)
	summary.IsSummary = true
	require.NoError(t, stores.Entries.Put(ctx, summary))

	exists, err := stores.Entries.ExistsAt(ctx, testStream, ts)
	require.NoError(t, err)
	assert.False(t, exists, "summary rows do not trigger duplicate detection")

	require.NoError(t, stores.Entries.Put(ctx, makeEntry("e1", ts)))

	exists, err = stores.Entries.ExistsAt(ctx, testStream, ts)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMemory_ArchiveMonthSwapsAtomically(t *testing.T) {
	t.Parallel()

	stores, _ := storage.NewMemoryStores()
	ctx := context.Background()

	march := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	april := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, stores.Entries.Put(ctx, makeEntry("m1", march)))
	require.NoError(t, stores.Entries.Put(ctx, makeEntry("m2", march.Add(time.Hour))))
	require.NoError(t, stores.Entries.Put(ctx, makeEntry("a1", april)))

	rollup := makeEntry("rollup", march.Add(time.Hour))
	rollup.IsSummary = true
	rollup.SummaryPeriod = &domain.MonthYear{Month: time.March, Year: 2026}

	require.NoError(t, stores.Entries.ArchiveMonth(ctx, testStream, rollup, time.March, 2026))

	all, err := stores.Entries.Stream(ctx, testStream, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].IsSummary)
	assert.Equal(t, "a1", all[1].ID)

	oldest, err := stores.Entries.OldestUnsummarised(ctx, testStream)
	require.NoError(t, err)
	assert.True(t, oldest.Equal(april), "the April raw entry is now the oldest unsummarised")
}

func TestMemory_SummaryRoundTripAndVersionConflict(t *testing.T) {
	t.Parallel()

	stores, _ := storage.NewMemoryStores()
	ctx := context.Background()

	period := domain.MonthlyPeriod(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.UTC)

	doc := &domain.EmissionSummary{
		ClientID: "acme",
		Period:   period,
		Totals:   domain.AxisTotals{CO2e: 42, DataPointCount: 3},
	}

	require.NoError(t, stores.Summaries.Put(ctx, doc))
	assert.Equal(t, domain.SummaryID("acme", period), doc.ID)

	got, err := stores.Summaries.Get(ctx, "acme", period)
	require.NoError(t, err)
	assert.Equal(t, 42.0, got.Totals.CO2e)

	_, err = stores.Summaries.Get(ctx, "other", period)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stale := &domain.EmissionSummary{ClientID: "acme", Period: period}
	assert.ErrorIs(t, stores.Summaries.Put(ctx, stale), domain.ErrVersionConflict)
}

func TestMemory_ActiveFlowchartSkipsDeleted(t *testing.T) {
	t.Parallel()

	stores, _ := storage.NewMemoryStores()
	ctx := context.Background()

	old := &domain.Flowchart{ID: "v1", ClientID: "acme", Kind: domain.ChartOrganisation, Deleted: true}
	require.NoError(t, stores.Flowcharts.Put(ctx, old))

	current := &domain.Flowchart{ID: "v2", ClientID: "acme", Kind: domain.ChartOrganisation}
	require.NoError(t, stores.Flowcharts.Put(ctx, current))

	active, err := stores.Flowcharts.Active(ctx, "acme", domain.ChartOrganisation)
	require.NoError(t, err)
	assert.Equal(t, "v2", active.ID)

	_, err = stores.Flowcharts.Active(ctx, "acme", domain.ChartProcess)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemory_ReductionStreamLast(t *testing.T) {
	t.Parallel()

	stores, _ := storage.NewMemoryStores()
	ctx := context.Background()

	stream := domain.ReductionStream{ClientID: "acme", ProjectID: "solar", Methodology: domain.MethodologyM1}

	_, err := stores.Reductions.LastInStream(ctx, stream)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2"} {
		require.NoError(t, stores.Reductions.Append(ctx, &domain.ReductionEntry{
			ID:          id,
			ClientID:    "acme",
			ProjectID:   "solar",
			Methodology: domain.MethodologyM1,
			Timestamp:   base.AddDate(0, i, 0),
		}))
	}

	last, err := stores.Reductions.LastInStream(ctx, stream)
	require.NoError(t, err)
	assert.Equal(t, "r2", last.ID)
}

func TestMemory_ReadsReturnIndependentCopies(t *testing.T) {
	t.Parallel()

	stores, _ := storage.NewMemoryStores()
	ctx := context.Background()

	entry := makeEntry("e1", time.Now().UTC())
	require.NoError(t, stores.Entries.Put(ctx, entry))

	first, err := stores.Entries.Get(ctx, "acme", "e1")
	require.NoError(t, err)

	first.DataValues["fuelConsumption"] = 999

	second, err := stores.Entries.Get(ctx, "acme", "e1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, second.DataValues["fuelConsumption"])
}
