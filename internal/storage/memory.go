package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/carbonplane/internal/domain"
)

// Memory is an in-process document store. Documents are kept as serialised
// JSON so reads always return independent copies, matching the isolation a
// real document store provides. Used by tests and `serve --dev`.
type Memory struct {
	mu sync.RWMutex

	entries    map[string][]byte // id -> doc
	summaries  map[string][]byte // SummaryID -> doc
	flowcharts map[string][]byte // clientID/id -> doc
	reductions map[string][]byte // id -> doc
	configs    map[string][]byte // StreamKey.String() -> doc
	clients    map[string][]byte // id -> doc

	versions map[string]int64 // doc key -> stored version
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries:    make(map[string][]byte),
		summaries:  make(map[string][]byte),
		flowcharts: make(map[string][]byte),
		reductions: make(map[string][]byte),
		configs:    make(map[string][]byte),
		clients:    make(map[string][]byte),
		versions:   make(map[string]int64),
	}
}

// NewMemoryStores bundles one Memory behind every store interface.
func NewMemoryStores() (*Stores, *Memory) {
	m := NewMemory()

	return &Stores{
		Entries:    m,
		Summaries:  memorySummaries{m},
		Flowcharts: memoryFlowcharts{m},
		Reductions: memoryReductions{m},
		Configs:    memoryConfigs{m},
		Clients:    memoryClients{m},
	}, m
}

// Adapters bind the Memory methods to the per-collection interfaces; the
// shared method names (Put, Get, ForEach) would otherwise collide on one
// receiver type.

type memorySummaries struct{ m *Memory }

func (s memorySummaries) Put(ctx context.Context, summary *domain.EmissionSummary) error {
	return s.m.PutSummary(ctx, summary)
}

func (s memorySummaries) Get(ctx context.Context, clientID string, period domain.Period) (*domain.EmissionSummary, error) {
	return s.m.GetSummary(ctx, clientID, period)
}

func (s memorySummaries) List(ctx context.Context, clientID string) ([]*domain.EmissionSummary, error) {
	return s.m.ListSummaries(ctx, clientID)
}

func (s memorySummaries) ForEach(ctx context.Context, fn func(*domain.EmissionSummary) error) error {
	return s.m.ForEachSummary(ctx, fn)
}

func (s memorySummaries) DeleteAll(ctx context.Context, clientID string) error {
	return s.m.DeleteAllSummaries(ctx, clientID)
}

type memoryFlowcharts struct{ m *Memory }

func (s memoryFlowcharts) Put(ctx context.Context, chart *domain.Flowchart) error {
	return s.m.PutFlowchart(ctx, chart)
}

func (s memoryFlowcharts) Get(ctx context.Context, clientID, id string) (*domain.Flowchart, error) {
	return s.m.GetFlowchart(ctx, clientID, id)
}

func (s memoryFlowcharts) Active(ctx context.Context, clientID string, kind domain.ChartKind) (*domain.Flowchart, error) {
	return s.m.ActiveFlowchart(ctx, clientID, kind)
}

func (s memoryFlowcharts) List(ctx context.Context, clientID string) ([]*domain.Flowchart, error) {
	return s.m.ListFlowcharts(ctx, clientID)
}

type memoryReductions struct{ m *Memory }

func (s memoryReductions) Append(ctx context.Context, entry *domain.ReductionEntry) error {
	return s.m.Append(ctx, entry)
}

func (s memoryReductions) LastInStream(ctx context.Context, stream domain.ReductionStream) (*domain.ReductionEntry, error) {
	return s.m.LastInReductionStream(ctx, stream)
}

func (s memoryReductions) ForEachClient(ctx context.Context, clientID string, from, to time.Time, fn func(*domain.ReductionEntry) error) error {
	return s.m.ForEachClientReduction(ctx, clientID, from, to, fn)
}

type memoryConfigs struct{ m *Memory }

func (s memoryConfigs) Put(ctx context.Context, cfg *domain.CollectionConfig) error {
	return s.m.PutConfig(ctx, cfg)
}

func (s memoryConfigs) Get(ctx context.Context, key domain.StreamKey) (*domain.CollectionConfig, error) {
	return s.m.GetConfig(ctx, key)
}

func (s memoryConfigs) ForEach(ctx context.Context, fn func(*domain.CollectionConfig) error) error {
	return s.m.ForEachConfig(ctx, fn)
}

type memoryClients struct{ m *Memory }

func (s memoryClients) Put(ctx context.Context, client *domain.Client) error {
	return s.m.PutClient(ctx, client)
}

func (s memoryClients) Get(ctx context.Context, id string) (*domain.Client, error) {
	return s.m.GetClient(ctx, id)
}

func (s memoryClients) List(ctx context.Context) ([]*domain.Client, error) {
	return s.m.ListClients(ctx)
}

func encode(doc any) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	return raw, nil
}

func decode[T any](raw []byte) (*T, error) {
	var doc T

	err := json.Unmarshal(raw, &doc)
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	return &doc, nil
}

// --- EntryStore ---

// Put upserts an entry with an optimistic version check.
func (m *Memory) Put(ctx context.Context, entry *domain.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	versionKey := "entry:" + entry.ID
	stored := m.versions[versionKey]

	if _, exists := m.entries[entry.ID]; exists && entry.StorageVersion != stored {
		return fmt.Errorf("entry %s: %w", entry.ID, domain.ErrVersionConflict)
	}

	entry.StorageVersion = stored + 1

	raw, err := encode(entry)
	if err != nil {
		return err
	}

	m.entries[entry.ID] = raw
	m.versions[versionKey] = entry.StorageVersion

	return nil
}

// Get returns one entry by id.
func (m *Memory) Get(ctx context.Context, clientID, id string) (*domain.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", id, domain.ErrNotFound)
	}

	entry, err := decode[domain.Entry](raw)
	if err != nil {
		return nil, err
	}

	if entry.ClientID != clientID {
		return nil, fmt.Errorf("entry %s: %w", id, domain.ErrNotFound)
	}

	return entry, nil
}

func (m *Memory) streamEntriesLocked(key domain.StreamKey, from, to time.Time) ([]*domain.Entry, error) {
	var out []*domain.Entry

	for _, raw := range m.entries {
		entry, err := decode[domain.Entry](raw)
		if err != nil {
			return nil, err
		}

		if entry.Stream() != key {
			continue
		}

		if !inRange(entry.Timestamp, from, to) {
			continue
		}

		out = append(out, entry)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	return out, nil
}

// Stream returns a stream's entries in ascending timestamp order.
func (m *Memory) Stream(ctx context.Context, key domain.StreamKey, from, to time.Time) ([]*domain.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.streamEntriesLocked(key, from, to)
}

// ForEachClientEntry cursors a client's entries in timestamp order.
func (m *Memory) ForEachClientEntry(ctx context.Context, clientID string, from, to time.Time, fn func(*domain.Entry) error) error {
	m.mu.RLock()

	var batch []*domain.Entry

	for _, raw := range m.entries {
		entry, err := decode[domain.Entry](raw)
		if err != nil {
			m.mu.RUnlock()
			return err
		}

		if entry.ClientID != clientID || !inRange(entry.Timestamp, from, to) {
			continue
		}

		batch = append(batch, entry)
	}

	m.mu.RUnlock()

	sort.Slice(batch, func(i, j int) bool {
		return batch[i].Timestamp.Before(batch[j].Timestamp)
	})

	for _, entry := range batch {
		err := fn(entry)
		if err != nil {
			return err
		}
	}

	return nil
}

// LastInStream returns the latest entry of a stream.
func (m *Memory) LastInStream(ctx context.Context, key domain.StreamKey) (*domain.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := m.streamEntriesLocked(key, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("stream %s: %w", key, domain.ErrNotFound)
	}

	return entries[len(entries)-1], nil
}

// ExistsAt reports whether a non-summary entry exists at exactly ts.
func (m *Memory) ExistsAt(ctx context.Context, key domain.StreamKey, ts time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := m.streamEntriesLocked(key, time.Time{}, time.Time{})
	if err != nil {
		return false, err
	}

	for _, entry := range entries {
		if !entry.IsSummary && entry.Timestamp.Equal(ts) {
			return true, nil
		}
	}

	return false, nil
}

// ArchiveMonth swaps a month's raw entries for the summary row under one
// lock acquisition, so partial states are never observable.
func (m *Memory) ArchiveMonth(ctx context.Context, key domain.StreamKey, summary *domain.Entry, month time.Month, year int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.streamEntriesLocked(key, time.Time{}, time.Time{})
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsSummary && entry.InMonth(month, year) {
			delete(m.entries, entry.ID)
			delete(m.versions, "entry:"+entry.ID)
		}
	}

	raw, err := encode(summary)
	if err != nil {
		return err
	}

	m.entries[summary.ID] = raw
	m.versions["entry:"+summary.ID] = summary.StorageVersion

	return nil
}

// OldestUnsummarised returns the oldest non-summary entry timestamp.
func (m *Memory) OldestUnsummarised(ctx context.Context, key domain.StreamKey) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := m.streamEntriesLocked(key, time.Time{}, time.Time{})
	if err != nil {
		return time.Time{}, err
	}

	for _, entry := range entries {
		if !entry.IsSummary {
			return entry.Timestamp, nil
		}
	}

	return time.Time{}, nil
}

// Delete removes one entry.
func (m *Memory) Delete(ctx context.Context, clientID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("entry %s: %w", id, domain.ErrNotFound)
	}

	entry, err := decode[domain.Entry](raw)
	if err != nil {
		return err
	}

	if entry.ClientID != clientID {
		return fmt.Errorf("entry %s: %w", id, domain.ErrNotFound)
	}

	delete(m.entries, id)
	delete(m.versions, "entry:"+id)

	return nil
}

// --- SummaryStore ---

// Put upserts a summary with an optimistic version check.
func (m *Memory) PutSummary(ctx context.Context, summary *domain.EmissionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := domain.SummaryID(summary.ClientID, summary.Period)
	summary.ID = id

	versionKey := "summary:" + id
	stored := m.versions[versionKey]

	if _, exists := m.summaries[id]; exists && summary.StorageVersion != stored {
		return fmt.Errorf("summary %s: %w", id, domain.ErrVersionConflict)
	}

	summary.StorageVersion = stored + 1

	raw, err := encode(summary)
	if err != nil {
		return err
	}

	m.summaries[id] = raw
	m.versions[versionKey] = summary.StorageVersion

	return nil
}

// GetSummary returns the summary for (clientID, period).
func (m *Memory) GetSummary(ctx context.Context, clientID string, period domain.Period) (*domain.EmissionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id := domain.SummaryID(clientID, period)

	raw, ok := m.summaries[id]
	if !ok {
		return nil, fmt.Errorf("summary %s: %w", id, domain.ErrNotFound)
	}

	return decode[domain.EmissionSummary](raw)
}

// ListSummaries returns every summary of a client.
func (m *Memory) ListSummaries(ctx context.Context, clientID string) ([]*domain.EmissionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.EmissionSummary

	for _, raw := range m.summaries {
		summary, err := decode[domain.EmissionSummary](raw)
		if err != nil {
			return nil, err
		}

		if summary.ClientID == clientID {
			out = append(out, summary)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

// ForEachSummary cursors over every summary in the collection.
func (m *Memory) ForEachSummary(ctx context.Context, fn func(*domain.EmissionSummary) error) error {
	m.mu.RLock()

	var batch []*domain.EmissionSummary

	for _, raw := range m.summaries {
		summary, err := decode[domain.EmissionSummary](raw)
		if err != nil {
			m.mu.RUnlock()
			return err
		}

		batch = append(batch, summary)
	}

	m.mu.RUnlock()

	sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })

	for _, summary := range batch {
		err := fn(summary)
		if err != nil {
			return err
		}
	}

	return nil
}

// DeleteAllSummaries removes every summary of a client.
func (m *Memory) DeleteAllSummaries(ctx context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, raw := range m.summaries {
		summary, err := decode[domain.EmissionSummary](raw)
		if err != nil {
			return err
		}

		if summary.ClientID == clientID {
			delete(m.summaries, id)
			delete(m.versions, "summary:"+id)
		}
	}

	return nil
}

// --- FlowchartStore ---

// PutFlowchart upserts a flowchart; Version is the optimistic token.
func (m *Memory) PutFlowchart(ctx context.Context, chart *domain.Flowchart) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := chart.ClientID + "/" + chart.ID

	versionKey := "chart:" + key
	stored := m.versions[versionKey]

	if _, exists := m.flowcharts[key]; exists && chart.Version != stored {
		return fmt.Errorf("flowchart %s: %w", key, domain.ErrVersionConflict)
	}

	chart.Version = stored + 1

	raw, err := encode(chart)
	if err != nil {
		return err
	}

	m.flowcharts[key] = raw
	m.versions[versionKey] = chart.Version

	return nil
}

// GetFlowchart returns one flowchart by client and id.
func (m *Memory) GetFlowchart(ctx context.Context, clientID, id string) (*domain.Flowchart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.flowcharts[clientID+"/"+id]
	if !ok {
		return nil, fmt.Errorf("flowchart %s/%s: %w", clientID, id, domain.ErrNotFound)
	}

	return decode[domain.Flowchart](raw)
}

// ActiveFlowchart returns the single non-deleted chart of the given kind.
func (m *Memory) ActiveFlowchart(ctx context.Context, clientID string, kind domain.ChartKind) (*domain.Flowchart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, raw := range m.flowcharts {
		chart, err := decode[domain.Flowchart](raw)
		if err != nil {
			return nil, err
		}

		if chart.ClientID == clientID && chart.Kind == kind && !chart.Deleted {
			return chart, nil
		}
	}

	return nil, fmt.Errorf("active %s flowchart for %s: %w", kind, clientID, domain.ErrNotFound)
}

// ListFlowcharts returns every chart of a client, deleted included.
func (m *Memory) ListFlowcharts(ctx context.Context, clientID string) ([]*domain.Flowchart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Flowchart

	for _, raw := range m.flowcharts {
		chart, err := decode[domain.Flowchart](raw)
		if err != nil {
			return nil, err
		}

		if chart.ClientID == clientID {
			out = append(out, chart)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

// --- ReductionStore ---

// Append inserts a reduction entry.
func (m *Memory) Append(ctx context.Context, entry *domain.ReductionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := encode(entry)
	if err != nil {
		return err
	}

	m.reductions[entry.ID] = raw

	return nil
}

// LastInReductionStream returns the latest entry of a reduction stream.
func (m *Memory) LastInReductionStream(ctx context.Context, stream domain.ReductionStream) (*domain.ReductionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last *domain.ReductionEntry

	for _, raw := range m.reductions {
		entry, err := decode[domain.ReductionEntry](raw)
		if err != nil {
			return nil, err
		}

		if entry.ClientID != stream.ClientID || entry.ProjectID != stream.ProjectID ||
			entry.Methodology != stream.Methodology {
			continue
		}

		if last == nil || entry.Timestamp.After(last.Timestamp) {
			last = entry
		}
	}

	if last == nil {
		return nil, fmt.Errorf("reduction stream %s: %w", stream, domain.ErrNotFound)
	}

	return last, nil
}

// ForEachClientReduction cursors a client's reduction entries.
func (m *Memory) ForEachClientReduction(ctx context.Context, clientID string, from, to time.Time, fn func(*domain.ReductionEntry) error) error {
	m.mu.RLock()

	var batch []*domain.ReductionEntry

	for _, raw := range m.reductions {
		entry, err := decode[domain.ReductionEntry](raw)
		if err != nil {
			m.mu.RUnlock()
			return err
		}

		if entry.ClientID != clientID || !inRange(entry.Timestamp, from, to) {
			continue
		}

		batch = append(batch, entry)
	}

	m.mu.RUnlock()

	sort.Slice(batch, func(i, j int) bool {
		return batch[i].Timestamp.Before(batch[j].Timestamp)
	})

	for _, entry := range batch {
		err := fn(entry)
		if err != nil {
			return err
		}
	}

	return nil
}

// --- CollectionConfigStore ---

// PutConfig upserts a per-stream collection config.
func (m *Memory) PutConfig(ctx context.Context, cfg *domain.CollectionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := encode(cfg)
	if err != nil {
		return err
	}

	m.configs[cfg.Stream.String()] = raw

	return nil
}

// GetConfig returns the config for one stream.
func (m *Memory) GetConfig(ctx context.Context, key domain.StreamKey) (*domain.CollectionConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.configs[key.String()]
	if !ok {
		return nil, fmt.Errorf("collection config %s: %w", key, domain.ErrNotFound)
	}

	return decode[domain.CollectionConfig](raw)
}

// ForEachConfig cursors over every collection config.
func (m *Memory) ForEachConfig(ctx context.Context, fn func(*domain.CollectionConfig) error) error {
	m.mu.RLock()

	var batch []*domain.CollectionConfig

	for _, raw := range m.configs {
		cfg, err := decode[domain.CollectionConfig](raw)
		if err != nil {
			m.mu.RUnlock()
			return err
		}

		batch = append(batch, cfg)
	}

	m.mu.RUnlock()

	sort.Slice(batch, func(i, j int) bool {
		return batch[i].Stream.String() < batch[j].Stream.String()
	})

	for _, cfg := range batch {
		err := fn(cfg)
		if err != nil {
			return err
		}
	}

	return nil
}

// --- ClientStore ---

// PutClient upserts a tenant record.
func (m *Memory) PutClient(ctx context.Context, client *domain.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := encode(client)
	if err != nil {
		return err
	}

	m.clients[client.ID] = raw

	return nil
}

// GetClient returns one tenant record.
func (m *Memory) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.clients[id]
	if !ok {
		return nil, fmt.Errorf("client %s: %w", id, domain.ErrNotFound)
	}

	return decode[domain.Client](raw)
}

// ListClients returns every tenant.
func (m *Memory) ListClients(ctx context.Context) ([]*domain.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Client

	for _, raw := range m.clients {
		client, err := decode[domain.Client](raw)
		if err != nil {
			return nil, err
		}

		out = append(out, client)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func inRange(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}

	if !to.IsZero() && !ts.Before(to) {
		return false
	}

	return true
}
