package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/example/carbonplane/internal/bus"
	"github.com/example/carbonplane/internal/calc"
	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/factors"
	"github.com/example/carbonplane/internal/registry"
	"github.com/example/carbonplane/internal/storage"
)

// persistAttempts bounds the retry loop around storage writes before an
// entry is surfaced as failed.
const persistAttempts = 3

// persistBackoff is the base pause between persist attempts, doubled each
// retry.
const persistBackoff = 50 * time.Millisecond

// Input is the closed set of ingestion payload variants.
type Input interface {
	inputType() domain.InputType
	eventType() domain.EventType
}

// Manual carries one or more operator-entered rows.
type Manual struct {
	Rows []RawRow
}

func (Manual) inputType() domain.InputType { return domain.InputManual }
func (Manual) eventType() domain.EventType { return domain.EventManualDataSaved }

// CSVUpload carries a bulk file; rows are processed in ascending timestamp
// order for deterministic running aggregates.
type CSVUpload struct {
	Reader io.Reader
}

func (CSVUpload) inputType() domain.InputType { return domain.InputManual }
func (CSVUpload) eventType() domain.EventType { return domain.EventCSVDataUploaded }

// APIPoll carries one payload pulled from a configured HTTP source.
type APIPoll struct {
	Row RawRow
}

func (APIPoll) inputType() domain.InputType { return domain.InputAPI }
func (APIPoll) eventType() domain.EventType { return domain.EventAPIDataSaved }

// IOTPush carries one payload pushed by a streaming device.
type IOTPush struct {
	Row RawRow
}

func (IOTPush) inputType() domain.InputType { return domain.InputIOT }
func (IOTPush) eventType() domain.EventType { return domain.EventIOTDataSaved }

// Request addresses one stream for ingestion.
type Request struct {
	ClientID        string `validate:"required"`
	NodeID          string `validate:"required"`
	ScopeIdentifier string `validate:"required"`
	Input           Input  `validate:"required"`
}

// Invalidator is the summary materialiser hook: called with every distinct
// entry timestamp so exactly the containing periods recompute.
type Invalidator interface {
	Invalidate(ctx context.Context, clientID string, ts time.Time)
}

// Pipeline is the ingestion service. One instance serves all streams;
// per-stream work is serialised through the lock registry.
type Pipeline struct {
	stores    *storage.Stores
	registry  *registry.Registry
	engine    *calc.Engine
	catalogue *factors.Catalogue
	publisher bus.Publisher
	invalid   Invalidator

	locks    *streamLocks
	validate *validator.Validate
	logger   *slog.Logger
	timezone *time.Location

	now func() time.Time
}

// Config assembles a pipeline.
type Config struct {
	Stores    *storage.Stores
	Registry  *registry.Registry
	Engine    *calc.Engine
	Catalogue *factors.Catalogue
	Publisher bus.Publisher
	Invalid   Invalidator
	Logger    *slog.Logger
	Timezone  *time.Location

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates the ingestion pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tz := cfg.Timezone
	if tz == nil {
		tz = time.UTC
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Pipeline{
		stores:    cfg.Stores,
		registry:  cfg.Registry,
		engine:    cfg.Engine,
		catalogue: cfg.Catalogue,
		publisher: cfg.Publisher,
		invalid:   cfg.Invalid,
		locks:     newStreamLocks(),
		validate:  validator.New(),
		logger:    logger,
		timezone:  tz,
		now:       now,
	}
}

// Ingest is the single public ingestion operation. It validates
// prerequisites, normalises and timestamps the payload, persists entries
// under the stream's critical section, runs the calculation engine in
// timestamp order, and emits the variant's bus event. Bad rows are
// collected into the report; good rows always persist.
func (p *Pipeline) Ingest(ctx context.Context, principal domain.Principal, req Request) (*Report, error) {
	if err := p.validate.Struct(req); err != nil {
		return nil, domain.E(domain.KindValidation, "ingest", err)
	}

	if err := principal.RequireClient(req.ClientID); err != nil {
		return nil, domain.E(domain.KindValidation, "ingest", err)
	}

	scope, err := p.lookupScope(ctx, req)
	if err != nil {
		return nil, err
	}

	declared, err := domain.CanonicalInputType(string(scope.InputType))
	if err != nil {
		return nil, domain.E(domain.KindValidation, "ingest", err)
	}

	if declared != req.Input.inputType() {
		return nil, domain.E(domain.KindConflict, "ingest",
			fmt.Errorf("scope %s expects %s input: %w",
				req.ScopeIdentifier, declared, domain.ErrInputTypeMismatch))
	}

	rows, report, err := p.collectRows(req.Input)
	if err != nil {
		return nil, err
	}

	if !p.catalogue.Resolvable(ctx, scope, p.now().In(p.timezone)) {
		return nil, domain.E(domain.KindPrerequisite, "ingest", domain.ErrFactorUnresolved)
	}

	key := domain.StreamKey{
		ClientID:        req.ClientID,
		NodeID:          req.NodeID,
		ScopeIdentifier: req.ScopeIdentifier,
	}

	entries := p.buildEntries(key, scope, req.Input, rows, report)
	if len(entries) == 0 {
		return report, report.Err()
	}

	lock := p.locks.acquire(key)
	lock.Lock()
	err = p.persistAndProcess(ctx, key, scope, entries, report)
	lock.Unlock()

	if err != nil {
		return report, err
	}

	p.afterIngest(ctx, key, scope, entries, req.Input.eventType())

	return report, report.Err()
}

// lookupScope finds the scope in the active organisation chart, falling
// back to the process chart.
func (p *Pipeline) lookupScope(ctx context.Context, req Request) (*domain.ScopeDescriptor, error) {
	_, scope, err := p.registry.FindScope(ctx, req.ClientID, domain.ChartOrganisation, req.NodeID, req.ScopeIdentifier)
	if err == nil {
		return scope, nil
	}

	_, scope, procErr := p.registry.FindScope(ctx, req.ClientID, domain.ChartProcess, req.NodeID, req.ScopeIdentifier)
	if procErr == nil {
		return scope, nil
	}

	return nil, err
}

// collectRows extracts the raw rows from the input variant.
func (p *Pipeline) collectRows(input Input) ([]RawRow, *Report, error) {
	report := &Report{}

	switch in := input.(type) {
	case Manual:
		return in.Rows, report, nil
	case APIPoll:
		return []RawRow{in.Row}, report, nil
	case IOTPush:
		return []RawRow{in.Row}, report, nil
	case CSVUpload:
		rows, rowErrs, err := ParseCSV(in.Reader)
		if err != nil {
			return nil, nil, err
		}

		report.Rejected = append(report.Rejected, rowErrs...)

		return rows, report, nil
	}

	return nil, nil, domain.Errorf(domain.KindValidation, "ingest",
		"unknown input variant %T", input)
}

// buildEntries normalises, timestamps and deduplicates rows into pending
// entries, sorted ascending by timestamp.
func (p *Pipeline) buildEntries(key domain.StreamKey, scope *domain.ScopeDescriptor, input Input, rows []RawRow, report *Report) []*domain.Entry {
	now := p.now().In(p.timezone)
	stamps := make([]time.Time, len(rows))

	for i := range rows {
		ts, err := ParseTimestamp(rows[i].Date, rows[i].Time, now, p.timezone)
		if err != nil {
			report.reject(i, err.Error())
			continue
		}

		stamps[i] = ts
	}

	dups := groupDuplicates(rows, stamps)
	for i := range dups {
		report.reject(i, domain.ErrDuplicateEntry.Error())
	}

	var entries []*domain.Entry

	for i := range rows {
		if stamps[i].IsZero() {
			continue
		}

		if _, dup := dups[i]; dup {
			continue
		}

		values, err := Normalise(p.engine.Table(), scope, rows[i].Values)
		if err != nil {
			report.reject(i, err.Error())
			continue
		}

		ts := stamps[i]

		entries = append(entries, &domain.Entry{
			ID:               uuid.NewString(),
			ClientID:         key.ClientID,
			NodeID:           key.NodeID,
			ScopeIdentifier:  key.ScopeIdentifier,
			ScopeType:        scope.ScopeType,
			InputType:        input.inputType(),
			Date:             FormatDate(ts),
			Time:             FormatTime(ts),
			Timestamp:        ts,
			DataValues:       values,
			EmissionFactor:   scope.EmissionFactor,
			SourceDetails:    rows[i].SourceDetails,
			IsEditable:       input.inputType() == domain.InputManual,
			ProcessingStatus: domain.StatusPending,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	return entries
}

// persistAndProcess runs under the stream lock: store-level duplicate
// checks, persistence, aggregate chaining and calculation, all in timestamp
// order so the prefix-sum invariant holds even for out-of-order arrivals.
func (p *Pipeline) persistAndProcess(ctx context.Context, key domain.StreamKey, scope *domain.ScopeDescriptor, entries []*domain.Entry, report *Report) error {
	accepted := entries[:0]

	for _, entry := range entries {
		exists, err := p.stores.Entries.ExistsAt(ctx, key, entry.Timestamp)
		if err != nil {
			return fmt.Errorf("duplicate check: %w", err)
		}

		if exists {
			report.reject(-1, fmt.Sprintf("entry at %s: %s",
				entry.Timestamp.Format(time.RFC3339), domain.ErrDuplicateEntry))
			continue
		}

		if err = p.persistWithRetry(ctx, entry); err != nil {
			return err
		}

		accepted = append(accepted, entry)
		report.Accepted++
		report.EntryIDs = append(report.EntryIDs, entry.ID)
	}

	if len(accepted) == 0 {
		return nil
	}

	return p.resequenceLocked(ctx, key, scope)
}

// resequenceLocked reloads the whole stream, recomputes running aggregates
// and the calculated cumulative chain in timestamp order, processes any
// pending entries, and persists the changes. Caller holds the stream lock.
func (p *Pipeline) resequenceLocked(ctx context.Context, key domain.StreamKey, scope *domain.ScopeDescriptor) error {
	entries, err := p.stores.Entries.Stream(ctx, key, time.Time{}, time.Time{})
	if err != nil {
		return fmt.Errorf("load stream: %w", err)
	}

	chainAggregates(entries)

	running := domain.GasVector{}

	for _, entry := range entries {
		if entry.ProcessingStatus == domain.StatusPending && !entry.IsSummary {
			procErr := p.engine.Process(ctx, entry, scope, running)

			switch {
			case procErr == nil:
			case domain.IsKind(procErr, domain.KindPrerequisite):
				// Config gap: stays pending for retry after a fix.
				p.logger.Warn("entry left pending",
					"entry", entry.ID, "stream", key.String(), "error", procErr)
			case domain.IsKind(procErr, domain.KindFatal):
				return procErr
			case errors.Is(procErr, context.DeadlineExceeded) || errors.Is(procErr, context.Canceled):
				return procErr
			default:
				entry.ProcessingStatus = domain.StatusFailed
				entry.FailureReason = procErr.Error()
			}
		}

		if entry.CalculatedEmissions != nil {
			running = running.Add(entry.CalculatedEmissions.Incoming)
			entry.CalculatedEmissions.Cumulative = running
		}
	}

	for _, entry := range entries {
		if err = p.persistWithRetry(ctx, entry); err != nil {
			return err
		}
	}

	return nil
}

// persistWithRetry writes an entry with exponential backoff on transient
// storage failures.
func (p *Pipeline) persistWithRetry(ctx context.Context, entry *domain.Entry) error {
	backoff := persistBackoff

	var err error

	for attempt := 0; attempt < persistAttempts; attempt++ {
		err = p.stores.Entries.Put(ctx, entry)
		if err == nil {
			return nil
		}

		if errors.Is(err, domain.ErrVersionConflict) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	return domain.E(domain.KindTransient, "ingest.persist",
		fmt.Errorf("after %d attempts: %w", persistAttempts, err))
}

// afterIngest updates the collection config, invalidates the summaries
// whose bounds contain the new timestamps, and publishes the bus event.
func (p *Pipeline) afterIngest(ctx context.Context, key domain.StreamKey, scope *domain.ScopeDescriptor, entries []*domain.Entry, eventType domain.EventType) {
	latest := entries[len(entries)-1].Timestamp

	p.touchCollectionConfig(ctx, key, scope, latest)

	if p.invalid != nil {
		seen := map[string]struct{}{}

		for _, entry := range entries {
			day := entry.Timestamp.In(p.timezone).Format("2006-01-02")
			if _, done := seen[day]; done {
				continue
			}

			seen[day] = struct{}{}
			p.invalid.Invalidate(ctx, key.ClientID, entry.Timestamp)
		}
	}

	_ = p.publisher.Publish(ctx, domain.NewEvent(eventType, key.ClientID, map[string]any{
		"nodeId":          key.NodeID,
		"scopeIdentifier": key.ScopeIdentifier,
		"entries":         len(entries),
		"latestTimestamp": latest,
	}))
}

func (p *Pipeline) touchCollectionConfig(ctx context.Context, key domain.StreamKey, scope *domain.ScopeDescriptor, latest time.Time) {
	cfg, err := p.stores.Configs.Get(ctx, key)
	if err != nil {
		cfg = &domain.CollectionConfig{
			Stream:  key,
			Cadence: domain.CadenceFromFrequency(scope.CollectionFrequency),
		}
	}

	cfg.InputType = scope.InputType

	if latest.After(cfg.LastCollection) {
		cfg.LastCollection = latest
		cfg.NextDue = latest.Add(cfg.Cadence)
	}

	if err = p.stores.Configs.Put(ctx, cfg); err != nil {
		p.logger.Warn("collection config update failed",
			"stream", key.String(), "error", err)
	}
}

// UpdateManualEntry edits an editable manual entry's values and re-runs the
// stream's aggregate and calculation chain.
func (p *Pipeline) UpdateManualEntry(ctx context.Context, principal domain.Principal, clientID, entryID string, values map[string]float64) error {
	if err := principal.RequireClient(clientID); err != nil {
		return domain.E(domain.KindValidation, "ingest.update", err)
	}

	entry, err := p.stores.Entries.Get(ctx, clientID, entryID)
	if err != nil {
		return err
	}

	if !entry.IsEditable || entry.InputType != domain.InputManual || entry.IsSummary {
		return domain.Errorf(domain.KindConflict, "ingest.update",
			"entry %s is not editable", entryID)
	}

	key := entry.Stream()

	scope, err := p.lookupScope(ctx, Request{
		ClientID:        key.ClientID,
		NodeID:          key.NodeID,
		ScopeIdentifier: key.ScopeIdentifier,
	})
	if err != nil {
		return err
	}

	normalised, err := Normalise(p.engine.Table(), scope, values)
	if err != nil {
		return err
	}

	lock := p.locks.acquire(key)
	lock.Lock()
	defer lock.Unlock()

	entry.DataValues = normalised
	entry.ProcessingStatus = domain.StatusPending
	entry.CalculatedEmissions = nil

	if err = p.persistWithRetry(ctx, entry); err != nil {
		return err
	}

	if err = p.resequenceLocked(ctx, key, scope); err != nil {
		return err
	}

	if p.invalid != nil {
		p.invalid.Invalidate(ctx, clientID, entry.Timestamp)
	}

	_ = p.publisher.Publish(ctx, domain.NewEvent(domain.EventManualDataEdited, clientID, map[string]any{
		"entryId": entryID,
	}))

	return nil
}

// DeleteManualEntry removes an editable manual entry and re-sequences the
// stream.
func (p *Pipeline) DeleteManualEntry(ctx context.Context, principal domain.Principal, clientID, entryID string) error {
	if err := principal.RequireClient(clientID); err != nil {
		return domain.E(domain.KindValidation, "ingest.delete", err)
	}

	entry, err := p.stores.Entries.Get(ctx, clientID, entryID)
	if err != nil {
		return err
	}

	if !entry.IsEditable || entry.InputType != domain.InputManual || entry.IsSummary {
		return domain.Errorf(domain.KindConflict, "ingest.delete",
			"entry %s is not deletable", entryID)
	}

	key := entry.Stream()

	scope, err := p.lookupScope(ctx, Request{
		ClientID:        key.ClientID,
		NodeID:          key.NodeID,
		ScopeIdentifier: key.ScopeIdentifier,
	})
	if err != nil {
		return err
	}

	lock := p.locks.acquire(key)
	lock.Lock()
	defer lock.Unlock()

	if err = p.stores.Entries.Delete(ctx, clientID, entryID); err != nil {
		return err
	}

	if err = p.resequenceLocked(ctx, key, scope); err != nil {
		return err
	}

	if p.invalid != nil {
		p.invalid.Invalidate(ctx, clientID, entry.Timestamp)
	}

	_ = p.publisher.Publish(ctx, domain.NewEvent(domain.EventManualDataDeleted, clientID, map[string]any{
		"entryId": entryID,
	}))

	return nil
}

// Resequence re-runs the aggregate and calculation chain of one stream,
// used by the scheduler to retry streams whose entries stayed pending.
func (p *Pipeline) Resequence(ctx context.Context, key domain.StreamKey) error {
	scope, err := p.lookupScope(ctx, Request{
		ClientID:        key.ClientID,
		NodeID:          key.NodeID,
		ScopeIdentifier: key.ScopeIdentifier,
	})
	if err != nil {
		return err
	}

	lock := p.locks.acquire(key)
	lock.Lock()
	defer lock.Unlock()

	return p.resequenceLocked(ctx, key, scope)
}
