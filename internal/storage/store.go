// Package storage defines the document-store collaborator contract of the
// data plane and provides two implementations: an in-memory store for tests
// and development, and a PostgreSQL JSONB store on pgx for production.
//
// All implementations guarantee per-document atomic updates, optimistic
// version checks, and timestamp range scans over the compound keys the core
// relies on.
package storage

import (
	"context"
	"time"

	"github.com/example/carbonplane/internal/domain"
)

// EntryStore persists measurement entries.
type EntryStore interface {
	// Put upserts an entry by id. The stored StorageVersion is bumped; a
	// mismatch between the entry's version and the stored one returns
	// domain.ErrVersionConflict.
	Put(ctx context.Context, entry *domain.Entry) error

	// Get returns one entry by client and id.
	Get(ctx context.Context, clientID, id string) (*domain.Entry, error)

	// Stream returns all entries of one stream with timestamps in
	// [from, to), ascending by timestamp. Zero bounds mean unbounded.
	Stream(ctx context.Context, key domain.StreamKey, from, to time.Time) ([]*domain.Entry, error)

	// ForEachClientEntry cursors over every entry of a client in [from, to)
	// in timestamp order, invoking fn per entry. fn returning an error
	// stops the scan.
	ForEachClientEntry(ctx context.Context, clientID string, from, to time.Time, fn func(*domain.Entry) error) error

	// LastInStream returns the stream's latest entry by timestamp, or
	// domain.ErrNotFound for an empty stream.
	LastInStream(ctx context.Context, key domain.StreamKey) (*domain.Entry, error)

	// ExistsAt reports whether a non-summary entry with exactly this
	// timestamp exists in the stream. Used for duplicate detection.
	ExistsAt(ctx context.Context, key domain.StreamKey, ts time.Time) (bool, error)

	// ArchiveMonth atomically inserts the monthly summary entry and deletes
	// every non-summary entry of the stream inside the month. Partial
	// states are never observable.
	ArchiveMonth(ctx context.Context, key domain.StreamKey, summary *domain.Entry, month time.Month, year int) error

	// OldestUnsummarised returns the timestamp of the stream's oldest
	// non-summary entry, or the zero time when none exists.
	OldestUnsummarised(ctx context.Context, key domain.StreamKey) (time.Time, error)

	// Delete removes one entry by id.
	Delete(ctx context.Context, clientID, id string) error
}

// SummaryStore persists emission summaries, at most one per (client, period).
type SummaryStore interface {
	// Put upserts a summary with an optimistic version check on
	// StorageVersion.
	Put(ctx context.Context, summary *domain.EmissionSummary) error

	// Get returns the summary for (clientID, period) or domain.ErrNotFound.
	Get(ctx context.Context, clientID string, period domain.Period) (*domain.EmissionSummary, error)

	// List returns every summary of a client.
	List(ctx context.Context, clientID string) ([]*domain.EmissionSummary, error)

	// ForEach cursors over every summary in the collection.
	ForEach(ctx context.Context, fn func(*domain.EmissionSummary) error) error

	// DeleteAll removes every summary of a client.
	DeleteAll(ctx context.Context, clientID string) error
}

// FlowchartStore persists versioned, soft-deletable flowcharts.
type FlowchartStore interface {
	// Put upserts a flowchart; the Version field is the optimistic token.
	Put(ctx context.Context, chart *domain.Flowchart) error

	// Get returns one flowchart by client and id.
	Get(ctx context.Context, clientID, id string) (*domain.Flowchart, error)

	// Active returns the single non-deleted chart of the given kind, or
	// domain.ErrNotFound.
	Active(ctx context.Context, clientID string, kind domain.ChartKind) (*domain.Flowchart, error)

	// List returns every chart of a client, deleted included.
	List(ctx context.Context, clientID string) ([]*domain.Flowchart, error)
}

// ReductionStore persists the append-only reduction ledger.
type ReductionStore interface {
	// Append inserts a reduction entry.
	Append(ctx context.Context, entry *domain.ReductionEntry) error

	// LastInStream returns the stream's latest entry by timestamp, or
	// domain.ErrNotFound.
	LastInStream(ctx context.Context, stream domain.ReductionStream) (*domain.ReductionEntry, error)

	// ForEachClient cursors a client's reduction entries in [from, to) in
	// timestamp order.
	ForEachClient(ctx context.Context, clientID string, from, to time.Time, fn func(*domain.ReductionEntry) error) error
}

// CollectionConfigStore persists per-stream cadence documents.
type CollectionConfigStore interface {
	Put(ctx context.Context, cfg *domain.CollectionConfig) error
	Get(ctx context.Context, key domain.StreamKey) (*domain.CollectionConfig, error)
	ForEach(ctx context.Context, fn func(*domain.CollectionConfig) error) error
}

// ClientStore persists tenant records.
type ClientStore interface {
	Put(ctx context.Context, client *domain.Client) error
	Get(ctx context.Context, id string) (*domain.Client, error)
	List(ctx context.Context) ([]*domain.Client, error)
}

// Stores bundles every collection the core persists.
type Stores struct {
	Entries    EntryStore
	Summaries  SummaryStore
	Flowcharts FlowchartStore
	Reductions ReductionStore
	Configs    CollectionConfigStore
	Clients    ClientStore
}
