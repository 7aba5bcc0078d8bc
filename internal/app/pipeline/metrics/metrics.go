// Package metrics provides the OTel-backed telemetry implementation shared
// by the pipeline's engines.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics defines the metrics operations the pipeline emits.
type PipelineMetrics interface {
	// Extraction metrics
	IncExtractionRuns(ctx context.Context)
	IncExtractionErrors(ctx context.Context)
	ObserveBatchSize(ctx context.Context, size int)
	ObserveExtractionDuration(ctx context.Context, d time.Duration)

	// Versioning metrics
	IncSnapshotApplies(ctx context.Context)
	AddVersionInserts(ctx context.Context, count int)
	AddVersionExpirations(ctx context.Context, count int)
	AddVersionNoOps(ctx context.Context, count int)

	// Layer transition metrics
	IncPromotions(ctx context.Context)
	AddQuarantinedRows(ctx context.Context, count int)
	IncGoldRefreshes(ctx context.Context)
}

// Pipeline implements PipelineMetrics.
type Pipeline struct {
	// Extraction metrics
	extractionRuns     metric.Int64Counter
	extractionErrors   metric.Int64Counter
	batchSize          metric.Int64Histogram
	extractionDuration metric.Float64Histogram

	// Versioning metrics
	snapshotApplies    metric.Int64Counter
	versionInserts     metric.Int64Counter
	versionExpirations metric.Int64Counter
	versionNoOps       metric.Int64Counter

	// Layer transition metrics
	promotions      metric.Int64Counter
	quarantinedRows metric.Int64Counter
	goldRefreshes   metric.Int64Counter
}

const namespace = "pipeline"

// New creates a new Pipeline metrics instance.
func New(mp metric.MeterProvider) (*Pipeline, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	p := new(Pipeline)
	var err error

	if p.extractionRuns, err = meter.Int64Counter(
		"extraction_runs_total",
		metric.WithDescription("Total number of extraction runs"),
	); err != nil {
		return nil, err
	}

	if p.extractionErrors, err = meter.Int64Counter(
		"extraction_errors_total",
		metric.WithDescription("Total number of failed extraction runs"),
	); err != nil {
		return nil, err
	}

	if p.batchSize, err = meter.Int64Histogram(
		"extraction_batch_size",
		metric.WithDescription("Rows pulled per extraction run"),
	); err != nil {
		return nil, err
	}

	if p.extractionDuration, err = meter.Float64Histogram(
		"extraction_duration_seconds",
		metric.WithDescription("Time taken to complete an extraction run"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if p.snapshotApplies, err = meter.Int64Counter(
		"snapshot_applies_total",
		metric.WithDescription("Total number of dimension snapshot applications"),
	); err != nil {
		return nil, err
	}

	if p.versionInserts, err = meter.Int64Counter(
		"version_inserts_total",
		metric.WithDescription("Total number of dimension versions inserted"),
	); err != nil {
		return nil, err
	}

	if p.versionExpirations, err = meter.Int64Counter(
		"version_expirations_total",
		metric.WithDescription("Total number of dimension versions expired"),
	); err != nil {
		return nil, err
	}

	if p.versionNoOps, err = meter.Int64Counter(
		"version_noops_total",
		metric.WithDescription("Total number of unchanged keys skipped during snapshot application"),
	); err != nil {
		return nil, err
	}

	if p.promotions, err = meter.Int64Counter(
		"promotions_total",
		metric.WithDescription("Total number of Bronze to Silver promotions"),
	); err != nil {
		return nil, err
	}

	if p.quarantinedRows, err = meter.Int64Counter(
		"quarantined_rows_total",
		metric.WithDescription("Total number of rows quarantined during promotion"),
	); err != nil {
		return nil, err
	}

	if p.goldRefreshes, err = meter.Int64Counter(
		"gold_refreshes_total",
		metric.WithDescription("Total number of Gold aggregation refreshes"),
	); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Pipeline) IncExtractionRuns(ctx context.Context)   { p.extractionRuns.Add(ctx, 1) }
func (p *Pipeline) IncExtractionErrors(ctx context.Context) { p.extractionErrors.Add(ctx, 1) }

func (p *Pipeline) ObserveBatchSize(ctx context.Context, size int) {
	p.batchSize.Record(ctx, int64(size))
}

func (p *Pipeline) ObserveExtractionDuration(ctx context.Context, d time.Duration) {
	p.extractionDuration.Record(ctx, d.Seconds())
}

func (p *Pipeline) IncSnapshotApplies(ctx context.Context) { p.snapshotApplies.Add(ctx, 1) }

func (p *Pipeline) AddVersionInserts(ctx context.Context, count int) {
	p.versionInserts.Add(ctx, int64(count))
}

func (p *Pipeline) AddVersionExpirations(ctx context.Context, count int) {
	p.versionExpirations.Add(ctx, int64(count))
}

func (p *Pipeline) AddVersionNoOps(ctx context.Context, count int) {
	p.versionNoOps.Add(ctx, int64(count))
}

func (p *Pipeline) IncPromotions(ctx context.Context) { p.promotions.Add(ctx, 1) }

func (p *Pipeline) AddQuarantinedRows(ctx context.Context, count int) {
	p.quarantinedRows.Add(ctx, int64(count))
}

func (p *Pipeline) IncGoldRefreshes(ctx context.Context) { p.goldRefreshes.Add(ctx, 1) }
