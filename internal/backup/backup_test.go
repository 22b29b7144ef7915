package backup_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/carbonplane/internal/backup"
	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/storage"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	snapshot := &backup.Snapshot{
		Type:      "emission-summaries",
		Timestamp: time.Date(2026, time.March, 20, 12, 0, 0, 0, time.UTC),
		Version:   1,
		Count:     1,
		Data: []*domain.EmissionSummary{{
			ID:       "acme:monthly-2026-03",
			ClientID: "acme",
			Totals:   domain.AxisTotals{CO2e: 140, DataPointCount: 3},
		}},
	}

	for _, compression := range []backup.Compression{backup.CompressGzip, backup.CompressLZ4} {
		encoded, err := backup.Encode(snapshot, compression)
		require.NoError(t, err)

		decoded, err := backup.Decode(encoded, compression)
		require.NoError(t, err, compression)

		require.Len(t, decoded.Data, 1)
		assert.Equal(t, "acme", decoded.Data[0].ClientID)
		assert.InDelta(t, 140, decoded.Data[0].Totals.CO2e, 1e-9)
	}
}

func TestDecode_RejectsBrokenEnvelopes(t *testing.T) {
	t.Parallel()

	foreign, err := backup.Encode(&backup.Snapshot{Type: "measurements", Version: 1}, backup.CompressGzip)
	require.NoError(t, err)

	_, err = backup.Decode(foreign, backup.CompressGzip)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	badVersion, err := backup.Encode(&backup.Snapshot{Type: "emission-summaries", Version: 99}, backup.CompressGzip)
	require.NoError(t, err)

	_, err = backup.Decode(badVersion, backup.CompressGzip)
	require.Error(t, err)

	badCount, err := backup.Encode(&backup.Snapshot{
		Type: "emission-summaries", Version: 1, Count: 5,
	}, backup.CompressGzip)
	require.NoError(t, err)

	_, err = backup.Decode(badCount, backup.CompressGzip)
	require.Error(t, err)

	_, err = backup.Decode([]byte("not compressed"), backup.CompressGzip)
	require.Error(t, err)
}

func TestCompressionForKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, backup.CompressLZ4, backup.CompressionForKey("summaries-20260320T120000Z.json.lz4"))
	assert.Equal(t, backup.CompressGzip, backup.CompressionForKey("summaries-20260320T120000Z.json.gz"))
	assert.Equal(t, backup.CompressGzip, backup.CompressionForKey("weird-name"))
}

func TestFileSink(t *testing.T) {
	t.Parallel()

	sink := backup.NewFileSink(t.TempDir() + "/backups")
	ctx := context.Background()

	require.NoError(t, sink.Put(ctx, "snap.json.gz", []byte("payload")))

	data, err := sink.Get(ctx, "snap.json.gz")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	_, err = sink.Get(ctx, "missing.json.gz")
	assert.Error(t, err)
}

func newBackupService(t *testing.T) (*backup.Service, *storage.Stores) {
	t.Helper()

	stores, _ := storage.NewMemoryStores()
	sink := backup.NewFileSink(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := backup.NewService(stores.Summaries, sink, logger)
	svc.SetClock(func() time.Time {
		return time.Date(2026, time.March, 20, 12, 0, 0, 0, time.UTC)
	})

	return svc, stores
}

func TestBackupAndRestore(t *testing.T) {
	t.Parallel()

	svc, stores := newBackupService(t)
	ctx := context.Background()

	period := domain.MonthlyPeriod(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), time.UTC)

	require.NoError(t, stores.Summaries.Put(ctx, &domain.EmissionSummary{
		ClientID: "acme",
		Period:   period,
		Totals:   domain.AxisTotals{CO2e: 140},
		Metadata: domain.SummaryMetadata{
			LastCalculated: time.Date(2026, time.March, 19, 8, 0, 0, 0, time.UTC),
			MigratedData:   true,
		},
	}))

	key, err := svc.Backup(ctx, backup.CompressGzip)
	require.NoError(t, err)
	assert.Equal(t, "summaries-20260320T120000Z.json.gz", key)

	// Mutate, then restore over the top.
	current, err := stores.Summaries.Get(ctx, "acme", period)
	require.NoError(t, err)
	current.Totals.CO2e = 999
	current.Metadata.MigratedData = false
	require.NoError(t, stores.Summaries.Put(ctx, current))

	restored, err := svc.Restore(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	after, err := stores.Summaries.Get(ctx, "acme", period)
	require.NoError(t, err)
	assert.InDelta(t, 140, after.Totals.CO2e, 1e-9)
	assert.True(t, after.Metadata.MigratedData, "protection flags survive the round trip")
	assert.Equal(t, time.Date(2026, time.March, 19, 8, 0, 0, 0, time.UTC),
		after.Metadata.LastCalculated.UTC())
}

func TestRestore_IntoEmptyStore(t *testing.T) {
	t.Parallel()

	svc, stores := newBackupService(t)
	ctx := context.Background()

	period := domain.YearlyPeriod(time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC), time.UTC)

	require.NoError(t, stores.Summaries.Put(ctx, &domain.EmissionSummary{
		ClientID: "acme",
		Period:   period,
		Totals:   domain.AxisTotals{CO2e: 50},
	}))

	key, err := svc.Backup(ctx, backup.CompressLZ4)
	require.NoError(t, err)
	assert.Equal(t, "summaries-20260320T120000Z.json.lz4", key)

	require.NoError(t, stores.Summaries.DeleteAll(ctx, "acme"))

	restored, err := svc.Restore(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	after, err := stores.Summaries.Get(ctx, "acme", period)
	require.NoError(t, err)
	assert.InDelta(t, 50, after.Totals.CO2e, 1e-9)
}
