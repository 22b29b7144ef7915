// Package observability provides the OTel metric instruments, Prometheus
// exposition and health endpoints of the carbonplane server.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names, grouped by subsystem.
const (
	metricEntriesIngested  = "carbonplane.ingest.entries"
	metricRowsRejected     = "carbonplane.ingest.rows.rejected"
	metricCalcDuration     = "carbonplane.calc.duration"
	metricCalcFailures     = "carbonplane.calc.failures"
	metricSummaryDuration  = "carbonplane.summary.recompute.duration"
	metricSummarySkipped   = "carbonplane.summary.recompute.skipped"
	metricEventsPublished  = "carbonplane.bus.events"
	metricJobRuns          = "carbonplane.scheduler.job.runs"
	metricStreamsArchived  = "carbonplane.scheduler.streams.archived"
	metricOverdueAlerts    = "carbonplane.scheduler.overdue.alerts"
	metricInflightRequests = "carbonplane.http.inflight"
)

// Latency histogram bounds in seconds, tuned for document-store round trips.
var durationBounds = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30}

// PipelineMetrics carries every instrument the data plane records.
type PipelineMetrics struct {
	entriesIngested  metric.Int64Counter
	rowsRejected     metric.Int64Counter
	calcDuration     metric.Float64Histogram
	calcFailures     metric.Int64Counter
	summaryDuration  metric.Float64Histogram
	summarySkipped   metric.Int64Counter
	eventsPublished  metric.Int64Counter
	jobRuns          metric.Int64Counter
	streamsArchived  metric.Int64Counter
	overdueAlerts    metric.Int64Counter
	inflightRequests metric.Int64UpDownCounter
}

// NewPipelineMetrics creates the data-plane instruments on the meter.
func NewPipelineMetrics(mt metric.Meter) (*PipelineMetrics, error) {
	b := newMetricBuilder(mt)

	pm := &PipelineMetrics{
		entriesIngested:  b.counter(metricEntriesIngested, "Measurement entries persisted", "{entry}"),
		rowsRejected:     b.counter(metricRowsRejected, "Ingestion rows rejected by validation", "{row}"),
		calcDuration:     b.histogram(metricCalcDuration, "Emission calculation latency per entry", "s", durationBounds...),
		calcFailures:     b.counter(metricCalcFailures, "Entries marked failed by the calculation engine", "{entry}"),
		summaryDuration:  b.histogram(metricSummaryDuration, "Summary recompute latency per document", "s", durationBounds...),
		summarySkipped:   b.counter(metricSummarySkipped, "Recomputes skipped by protection flags", "{summary}"),
		eventsPublished:  b.counter(metricEventsPublished, "Change-notification events published", "{event}"),
		jobRuns:          b.counter(metricJobRuns, "Scheduled job executions", "{run}"),
		streamsArchived:  b.counter(metricStreamsArchived, "Stream months folded into summary rows", "{month}"),
		overdueAlerts:    b.counter(metricOverdueAlerts, "Overdue collection alerts raised", "{alert}"),
		inflightRequests: b.upDownCounter(metricInflightRequests, "HTTP requests currently being served", "{request}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return pm, nil
}

// RecordIngest counts accepted and rejected rows of one ingest call.
func (pm *PipelineMetrics) RecordIngest(ctx context.Context, clientID string, accepted, rejected int) {
	attrs := metric.WithAttributes(attribute.String("client", clientID))

	if accepted > 0 {
		pm.entriesIngested.Add(ctx, int64(accepted), attrs)
	}

	if rejected > 0 {
		pm.rowsRejected.Add(ctx, int64(rejected), attrs)
	}
}

// RecordCalc observes one engine invocation.
func (pm *PipelineMetrics) RecordCalc(ctx context.Context, scopeType string, elapsed time.Duration, failed bool) {
	attrs := metric.WithAttributes(attribute.String("scope", scopeType))

	pm.calcDuration.Record(ctx, elapsed.Seconds(), attrs)

	if failed {
		pm.calcFailures.Add(ctx, 1, attrs)
	}
}

// RecordSummary observes one recompute; skipped marks a protection bail-out.
func (pm *PipelineMetrics) RecordSummary(ctx context.Context, periodType string, elapsed time.Duration, skipped bool) {
	attrs := metric.WithAttributes(attribute.String("period", periodType))

	if skipped {
		pm.summarySkipped.Add(ctx, 1, attrs)

		return
	}

	pm.summaryDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordEvent counts one published bus event.
func (pm *PipelineMetrics) RecordEvent(ctx context.Context, eventType string) {
	pm.eventsPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordJob counts one scheduled job run.
func (pm *PipelineMetrics) RecordJob(ctx context.Context, job string, success bool) {
	pm.jobRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job", job),
		attribute.Bool("success", success),
	))
}

// RecordArchived counts stream months folded by the monthly job.
func (pm *PipelineMetrics) RecordArchived(ctx context.Context, months int) {
	if months > 0 {
		pm.streamsArchived.Add(ctx, int64(months))
	}
}

// RecordOverdueAlert counts one raised overdue alert.
func (pm *PipelineMetrics) RecordOverdueAlert(ctx context.Context) {
	pm.overdueAlerts.Add(ctx, 1)
}

// RequestStarted marks one HTTP request in flight; the returned func ends it.
func (pm *PipelineMetrics) RequestStarted(ctx context.Context) func() {
	pm.inflightRequests.Add(ctx, 1)

	return func() { pm.inflightRequests.Add(ctx, -1) }
}
