package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/carbonplane/internal/domain"
)

// Schema is the DDL for the document tables. Each collection is one JSONB
// table with the compound index columns extracted; documents round-trip
// through the doc column untouched.
const Schema = `
CREATE TABLE IF NOT EXISTS entries (
	id               TEXT PRIMARY KEY,
	client_id        TEXT NOT NULL,
	node_id          TEXT NOT NULL,
	scope_identifier TEXT NOT NULL,
	ts               TIMESTAMPTZ NOT NULL,
	is_summary       BOOLEAN NOT NULL DEFAULT FALSE,
	version          BIGINT NOT NULL,
	doc              JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_stream_ts
	ON entries (client_id, node_id, scope_identifier, ts);
CREATE INDEX IF NOT EXISTS entries_client_ts ON entries (client_id, ts);

CREATE TABLE IF NOT EXISTS summaries (
	id           TEXT PRIMARY KEY,
	client_id    TEXT NOT NULL,
	period_type  TEXT NOT NULL,
	period_year  INT NOT NULL DEFAULT 0,
	period_month INT NOT NULL DEFAULT 0,
	period_week  INT NOT NULL DEFAULT 0,
	period_day   INT NOT NULL DEFAULT 0,
	version      BIGINT NOT NULL,
	doc          JSONB NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS summaries_period
	ON summaries (client_id, period_type, period_year, period_month, period_week, period_day);

CREATE TABLE IF NOT EXISTS reductions (
	id          TEXT PRIMARY KEY,
	client_id   TEXT NOT NULL,
	project_id  TEXT NOT NULL,
	methodology TEXT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	doc         JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS reductions_stream_ts
	ON reductions (client_id, project_id, ts);

CREATE TABLE IF NOT EXISTS flowcharts (
	client_id TEXT NOT NULL,
	id        TEXT NOT NULL,
	kind      TEXT NOT NULL,
	deleted   BOOLEAN NOT NULL DEFAULT FALSE,
	version   BIGINT NOT NULL,
	doc       JSONB NOT NULL,
	PRIMARY KEY (client_id, id)
);

CREATE TABLE IF NOT EXISTS collection_configs (
	stream_key TEXT PRIMARY KEY,
	doc        JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS clients (
	id  TEXT PRIMARY KEY,
	doc JSONB NOT NULL
);
`

// Postgres is the production document store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool and applies the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	_, err = pool.Exec(ctx, Schema)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

// Ping verifies connectivity, for readiness checks.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// NewPostgresStores bundles one Postgres behind every store interface.
func NewPostgresStores(ctx context.Context, dsn string) (*Stores, *Postgres, error) {
	p, err := NewPostgres(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}

	return &Stores{
		Entries:    pgEntries{p},
		Summaries:  pgSummaries{p},
		Flowcharts: pgFlowcharts{p},
		Reductions: pgReductions{p},
		Configs:    pgConfigs{p},
		Clients:    pgClients{p},
	}, p, nil
}

// rangeClause appends optional timestamp bounds to a query.
func rangeClause(args []any, from, to time.Time) (string, []any) {
	clause := ""

	if !from.IsZero() {
		args = append(args, from)
		clause += fmt.Sprintf(" AND ts >= $%d", len(args))
	}

	if !to.IsZero() {
		args = append(args, to)
		clause += fmt.Sprintf(" AND ts < $%d", len(args))
	}

	return clause, args
}

type pgEntries struct{ p *Postgres }

func (s pgEntries) Put(ctx context.Context, entry *domain.Entry) error {
	next := entry.StorageVersion + 1

	doc := *entry
	doc.StorageVersion = next

	raw, err := json.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	var tag int64

	if entry.StorageVersion == 0 {
		ct, execErr := s.p.pool.Exec(ctx, `
			INSERT INTO entries (id, client_id, node_id, scope_identifier, ts, is_summary, version, doc)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			entry.ID, entry.ClientID, entry.NodeID, entry.ScopeIdentifier,
			entry.Timestamp, entry.IsSummary, next, raw)
		if execErr != nil {
			return fmt.Errorf("insert entry: %w", execErr)
		}

		tag = ct.RowsAffected()
	} else {
		ct, execErr := s.p.pool.Exec(ctx, `
			UPDATE entries SET ts = $2, is_summary = $3, version = $4, doc = $5
			WHERE id = $1 AND version = $6`,
			entry.ID, entry.Timestamp, entry.IsSummary, next, raw, entry.StorageVersion)
		if execErr != nil {
			return fmt.Errorf("update entry: %w", execErr)
		}

		tag = ct.RowsAffected()
	}

	if tag == 0 {
		return fmt.Errorf("entry %s: %w", entry.ID, domain.ErrVersionConflict)
	}

	entry.StorageVersion = next

	return nil
}

func (s pgEntries) Get(ctx context.Context, clientID, id string) (*domain.Entry, error) {
	return scanDoc[domain.Entry](ctx, s.p.pool,
		`SELECT doc FROM entries WHERE id = $1 AND client_id = $2`, id, clientID)
}

func (s pgEntries) Stream(ctx context.Context, key domain.StreamKey, from, to time.Time) ([]*domain.Entry, error) {
	args := []any{key.ClientID, key.NodeID, key.ScopeIdentifier}
	clause, args := rangeClause(args, from, to)

	rows, err := s.p.pool.Query(ctx, `
		SELECT doc FROM entries
		WHERE client_id = $1 AND node_id = $2 AND scope_identifier = $3`+clause+`
		ORDER BY ts ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("scan stream: %w", err)
	}

	return collectDocs[domain.Entry](rows)
}

func (s pgEntries) ForEachClientEntry(ctx context.Context, clientID string, from, to time.Time, fn func(*domain.Entry) error) error {
	args := []any{clientID}
	clause, args := rangeClause(args, from, to)

	rows, err := s.p.pool.Query(ctx, `
		SELECT doc FROM entries WHERE client_id = $1`+clause+` ORDER BY ts ASC`, args...)
	if err != nil {
		return fmt.Errorf("scan client entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte

		err = rows.Scan(&raw)
		if err != nil {
			return fmt.Errorf("scan row: %w", err)
		}

		var entry domain.Entry

		err = json.Unmarshal(raw, &entry)
		if err != nil {
			return fmt.Errorf("decode entry: %w", err)
		}

		err = fn(&entry)
		if err != nil {
			return err
		}
	}

	return rows.Err()
}

func (s pgEntries) LastInStream(ctx context.Context, key domain.StreamKey) (*domain.Entry, error) {
	return scanDoc[domain.Entry](ctx, s.p.pool, `
		SELECT doc FROM entries
		WHERE client_id = $1 AND node_id = $2 AND scope_identifier = $3
		ORDER BY ts DESC LIMIT 1`,
		key.ClientID, key.NodeID, key.ScopeIdentifier)
}

func (s pgEntries) ExistsAt(ctx context.Context, key domain.StreamKey, ts time.Time) (bool, error) {
	var exists bool

	err := s.p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM entries
			WHERE client_id = $1 AND node_id = $2 AND scope_identifier = $3
			  AND ts = $4 AND NOT is_summary
		)`, key.ClientID, key.NodeID, key.ScopeIdentifier, ts).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check duplicate: %w", err)
	}

	return exists, nil
}

func (s pgEntries) ArchiveMonth(ctx context.Context, key domain.StreamKey, summary *domain.Entry, month time.Month, year int) error {
	tx, err := s.p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	from := time.Date(year, month, 1, 0, 0, 0, 0, summary.Timestamp.Location())
	to := from.AddDate(0, 1, 0)

	_, err = tx.Exec(ctx, `
		DELETE FROM entries
		WHERE client_id = $1 AND node_id = $2 AND scope_identifier = $3
		  AND ts >= $4 AND ts < $5 AND NOT is_summary`,
		key.ClientID, key.NodeID, key.ScopeIdentifier, from, to)
	if err != nil {
		return fmt.Errorf("delete archived rows: %w", err)
	}

	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary entry: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO entries (id, client_id, node_id, scope_identifier, ts, is_summary, version, doc)
		VALUES ($1, $2, $3, $4, $5, TRUE, 1, $6)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
		summary.ID, key.ClientID, key.NodeID, key.ScopeIdentifier, summary.Timestamp, raw)
	if err != nil {
		return fmt.Errorf("insert summary entry: %w", err)
	}

	err = tx.Commit(ctx)
	if err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}

	return nil
}

func (s pgEntries) OldestUnsummarised(ctx context.Context, key domain.StreamKey) (time.Time, error) {
	var ts time.Time

	err := s.p.pool.QueryRow(ctx, `
		SELECT ts FROM entries
		WHERE client_id = $1 AND node_id = $2 AND scope_identifier = $3 AND NOT is_summary
		ORDER BY ts ASC LIMIT 1`,
		key.ClientID, key.NodeID, key.ScopeIdentifier).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}

	if err != nil {
		return time.Time{}, fmt.Errorf("oldest unsummarised: %w", err)
	}

	return ts, nil
}

func (s pgEntries) Delete(ctx context.Context, clientID, id string) error {
	ct, err := s.p.pool.Exec(ctx,
		`DELETE FROM entries WHERE id = $1 AND client_id = $2`, id, clientID)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return fmt.Errorf("entry %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

type pgSummaries struct{ p *Postgres }

func (s pgSummaries) Put(ctx context.Context, summary *domain.EmissionSummary) error {
	summary.ID = domain.SummaryID(summary.ClientID, summary.Period)
	next := summary.StorageVersion + 1

	doc := *summary
	doc.StorageVersion = next

	raw, err := json.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	per := summary.Period

	var affected int64

	if summary.StorageVersion == 0 {
		ct, execErr := s.p.pool.Exec(ctx, `
			INSERT INTO summaries (id, client_id, period_type, period_year, period_month, period_week, period_day, version, doc)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			summary.ID, summary.ClientID, string(per.Type), per.Year, per.Month, per.Week, per.Day, next, raw)
		if execErr != nil {
			return fmt.Errorf("insert summary: %w", execErr)
		}

		affected = ct.RowsAffected()
	} else {
		ct, execErr := s.p.pool.Exec(ctx, `
			UPDATE summaries SET version = $2, doc = $3 WHERE id = $1 AND version = $4`,
			summary.ID, next, raw, summary.StorageVersion)
		if execErr != nil {
			return fmt.Errorf("update summary: %w", execErr)
		}

		affected = ct.RowsAffected()
	}

	if affected == 0 {
		return fmt.Errorf("summary %s: %w", summary.ID, domain.ErrVersionConflict)
	}

	summary.StorageVersion = next

	return nil
}

func (s pgSummaries) Get(ctx context.Context, clientID string, period domain.Period) (*domain.EmissionSummary, error) {
	return scanDoc[domain.EmissionSummary](ctx, s.p.pool,
		`SELECT doc FROM summaries WHERE id = $1`, domain.SummaryID(clientID, period))
}

func (s pgSummaries) List(ctx context.Context, clientID string) ([]*domain.EmissionSummary, error) {
	rows, err := s.p.pool.Query(ctx,
		`SELECT doc FROM summaries WHERE client_id = $1 ORDER BY id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}

	return collectDocs[domain.EmissionSummary](rows)
}

func (s pgSummaries) ForEach(ctx context.Context, fn func(*domain.EmissionSummary) error) error {
	rows, err := s.p.pool.Query(ctx, `SELECT doc FROM summaries ORDER BY id`)
	if err != nil {
		return fmt.Errorf("scan summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte

		err = rows.Scan(&raw)
		if err != nil {
			return fmt.Errorf("scan row: %w", err)
		}

		var summary domain.EmissionSummary

		err = json.Unmarshal(raw, &summary)
		if err != nil {
			return fmt.Errorf("decode summary: %w", err)
		}

		err = fn(&summary)
		if err != nil {
			return err
		}
	}

	return rows.Err()
}

func (s pgSummaries) DeleteAll(ctx context.Context, clientID string) error {
	_, err := s.p.pool.Exec(ctx, `DELETE FROM summaries WHERE client_id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("delete summaries: %w", err)
	}

	return nil
}

type pgFlowcharts struct{ p *Postgres }

func (s pgFlowcharts) Put(ctx context.Context, chart *domain.Flowchart) error {
	next := chart.Version + 1

	doc := *chart
	doc.Version = next

	raw, err := json.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode flowchart: %w", err)
	}

	var affected int64

	if chart.Version == 0 {
		ct, execErr := s.p.pool.Exec(ctx, `
			INSERT INTO flowcharts (client_id, id, kind, deleted, version, doc)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (client_id, id) DO NOTHING`,
			chart.ClientID, chart.ID, string(chart.Kind), chart.Deleted, next, raw)
		if execErr != nil {
			return fmt.Errorf("insert flowchart: %w", execErr)
		}

		affected = ct.RowsAffected()
	} else {
		ct, execErr := s.p.pool.Exec(ctx, `
			UPDATE flowcharts SET deleted = $3, version = $4, doc = $5
			WHERE client_id = $1 AND id = $2 AND version = $6`,
			chart.ClientID, chart.ID, chart.Deleted, next, raw, chart.Version)
		if execErr != nil {
			return fmt.Errorf("update flowchart: %w", execErr)
		}

		affected = ct.RowsAffected()
	}

	if affected == 0 {
		return fmt.Errorf("flowchart %s/%s: %w", chart.ClientID, chart.ID, domain.ErrVersionConflict)
	}

	chart.Version = next

	return nil
}

func (s pgFlowcharts) Get(ctx context.Context, clientID, id string) (*domain.Flowchart, error) {
	return scanDoc[domain.Flowchart](ctx, s.p.pool,
		`SELECT doc FROM flowcharts WHERE client_id = $1 AND id = $2`, clientID, id)
}

func (s pgFlowcharts) Active(ctx context.Context, clientID string, kind domain.ChartKind) (*domain.Flowchart, error) {
	return scanDoc[domain.Flowchart](ctx, s.p.pool, `
		SELECT doc FROM flowcharts
		WHERE client_id = $1 AND kind = $2 AND NOT deleted
		LIMIT 1`, clientID, string(kind))
}

func (s pgFlowcharts) List(ctx context.Context, clientID string) ([]*domain.Flowchart, error) {
	rows, err := s.p.pool.Query(ctx,
		`SELECT doc FROM flowcharts WHERE client_id = $1 ORDER BY id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list flowcharts: %w", err)
	}

	return collectDocs[domain.Flowchart](rows)
}

type pgReductions struct{ p *Postgres }

func (s pgReductions) Append(ctx context.Context, entry *domain.ReductionEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode reduction: %w", err)
	}

	_, err = s.p.pool.Exec(ctx, `
		INSERT INTO reductions (id, client_id, project_id, methodology, ts, doc)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.ClientID, entry.ProjectID, string(entry.Methodology),
		entry.Timestamp, raw)
	if err != nil {
		return fmt.Errorf("append reduction: %w", err)
	}

	return nil
}

func (s pgReductions) LastInStream(ctx context.Context, stream domain.ReductionStream) (*domain.ReductionEntry, error) {
	return scanDoc[domain.ReductionEntry](ctx, s.p.pool, `
		SELECT doc FROM reductions
		WHERE client_id = $1 AND project_id = $2 AND methodology = $3
		ORDER BY ts DESC LIMIT 1`,
		stream.ClientID, stream.ProjectID, string(stream.Methodology))
}

func (s pgReductions) ForEachClient(ctx context.Context, clientID string, from, to time.Time, fn func(*domain.ReductionEntry) error) error {
	args := []any{clientID}
	clause, args := rangeClause(args, from, to)

	rows, err := s.p.pool.Query(ctx, `
		SELECT doc FROM reductions WHERE client_id = $1`+clause+` ORDER BY ts ASC`, args...)
	if err != nil {
		return fmt.Errorf("scan reductions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte

		err = rows.Scan(&raw)
		if err != nil {
			return fmt.Errorf("scan row: %w", err)
		}

		var entry domain.ReductionEntry

		err = json.Unmarshal(raw, &entry)
		if err != nil {
			return fmt.Errorf("decode reduction: %w", err)
		}

		err = fn(&entry)
		if err != nil {
			return err
		}
	}

	return rows.Err()
}

type pgConfigs struct{ p *Postgres }

func (s pgConfigs) Put(ctx context.Context, cfg *domain.CollectionConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	_, err = s.p.pool.Exec(ctx, `
		INSERT INTO collection_configs (stream_key, doc) VALUES ($1, $2)
		ON CONFLICT (stream_key) DO UPDATE SET doc = EXCLUDED.doc`,
		cfg.Stream.String(), raw)
	if err != nil {
		return fmt.Errorf("put config: %w", err)
	}

	return nil
}

func (s pgConfigs) Get(ctx context.Context, key domain.StreamKey) (*domain.CollectionConfig, error) {
	return scanDoc[domain.CollectionConfig](ctx, s.p.pool,
		`SELECT doc FROM collection_configs WHERE stream_key = $1`, key.String())
}

func (s pgConfigs) ForEach(ctx context.Context, fn func(*domain.CollectionConfig) error) error {
	rows, err := s.p.pool.Query(ctx, `SELECT doc FROM collection_configs ORDER BY stream_key`)
	if err != nil {
		return fmt.Errorf("scan configs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte

		err = rows.Scan(&raw)
		if err != nil {
			return fmt.Errorf("scan row: %w", err)
		}

		var cfg domain.CollectionConfig

		err = json.Unmarshal(raw, &cfg)
		if err != nil {
			return fmt.Errorf("decode config: %w", err)
		}

		err = fn(&cfg)
		if err != nil {
			return err
		}
	}

	return rows.Err()
}

type pgClients struct{ p *Postgres }

func (s pgClients) Put(ctx context.Context, client *domain.Client) error {
	raw, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("encode client: %w", err)
	}

	_, err = s.p.pool.Exec(ctx, `
		INSERT INTO clients (id, doc) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`, client.ID, raw)
	if err != nil {
		return fmt.Errorf("put client: %w", err)
	}

	return nil
}

func (s pgClients) Get(ctx context.Context, id string) (*domain.Client, error) {
	return scanDoc[domain.Client](ctx, s.p.pool,
		`SELECT doc FROM clients WHERE id = $1`, id)
}

func (s pgClients) List(ctx context.Context) ([]*domain.Client, error) {
	rows, err := s.p.pool.Query(ctx, `SELECT doc FROM clients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}

	return collectDocs[domain.Client](rows)
}

// scanDoc runs a single-document query and decodes the JSONB column.
func scanDoc[T any](ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) (*T, error) {
	var raw []byte

	err := pool.QueryRow(ctx, sql, args...).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}

	var doc T

	err = json.Unmarshal(raw, &doc)
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	return &doc, nil
}

// collectDocs drains a doc-column result set.
func collectDocs[T any](rows pgx.Rows) ([]*T, error) {
	defer rows.Close()

	var out []*T

	for rows.Next() {
		var raw []byte

		err := rows.Scan(&raw)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		var doc T

		err = json.Unmarshal(raw, &doc)
		if err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}

		out = append(out, &doc)
	}

	return out, rows.Err()
}
