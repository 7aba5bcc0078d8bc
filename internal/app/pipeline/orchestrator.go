// Package pipeline orchestrates full pipeline runs: draining each source
// through the extraction engine into Bronze, promoting to Silver, applying
// dimension snapshots, and refreshing Gold aggregates. Pipelines run
// concurrently up to the configured parallelism; the engines themselves stay
// retry-free, so this layer owns the retry policies.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	dimensionsvc "github.com/ahrav/lakehouse/internal/app/dimension"
	extractionsvc "github.com/ahrav/lakehouse/internal/app/extraction"
	"github.com/ahrav/lakehouse/internal/app/medallion"
	"github.com/ahrav/lakehouse/internal/config"
	"github.com/ahrav/lakehouse/internal/domain/dimension"
	"github.com/ahrav/lakehouse/internal/domain/extraction"
	"github.com/ahrav/lakehouse/internal/domain/lakehouse"
	"github.com/ahrav/lakehouse/pkg/common/logger"
	"github.com/ahrav/lakehouse/pkg/common/retry"
)

const defaultBatchSize = 500

// metrics defines the telemetry the orchestrator emits beyond what the
// engines record themselves.
type metrics interface {
	IncPromotions(ctx context.Context)
	AddQuarantinedRows(ctx context.Context, count int)
	IncGoldRefreshes(ctx context.Context)
}

// Report summarizes one full run of a pipeline.
type Report struct {
	Pipeline      string
	Runs          int
	RowsExtracted int

	Promotion   *medallion.PromotionResult
	Versioning  *dimension.ApplyResult
	Aggregation *medallion.AggregationResult
}

// Orchestrator drives configured pipelines end to end. Sources are resolved
// by name; the table store backs all three layers.
type Orchestrator struct {
	cfg     *config.Config
	sources map[string]extraction.RowSource
	retries map[string]*retry.Policy

	extractor  *extractionsvc.Service
	versioner  *dimensionsvc.Service
	promoter   *medallion.SilverPromoter
	aggregator *medallion.GoldAggregator
	store      lakehouse.VersionedTableStore

	// lastRefresh tracks the previous Gold refresh per pipeline so
	// follow-up refreshes fold only newly ingested rows.
	mu          sync.Mutex
	lastRefresh map[string]time.Time

	logger  *logger.Logger
	metrics metrics
	tracer  trace.Tracer
}

// NewOrchestrator creates an orchestrator over the given engines and
// sources. Every source named by a pipeline must be present in sources.
func NewOrchestrator(
	cfg *config.Config,
	sources map[string]extraction.RowSource,
	extractor *extractionsvc.Service,
	versioner *dimensionsvc.Service,
	store lakehouse.VersionedTableStore,
	log *logger.Logger,
	m metrics,
	tracer trace.Tracer,
) *Orchestrator {
	retries := make(map[string]*retry.Policy, len(cfg.Sources))
	for _, src := range cfg.Sources {
		retries[src.Name] = policyFor(src.RetryConfig)
	}
	return &Orchestrator{
		cfg:         cfg,
		sources:     sources,
		retries:     retries,
		extractor:   extractor,
		versioner:   versioner,
		promoter:    medallion.NewSilverPromoter(store, log, tracer),
		aggregator:  medallion.NewGoldAggregator(store, log, tracer),
		store:       store,
		lastRefresh: make(map[string]time.Time),
		logger:      log.With("component", "orchestrator"),
		metrics:     m,
		tracer:      tracer,
	}
}

// policyFor builds a retry policy from config, falling back to defaults.
// Only error kinds the extraction engine marks retryable are replayed.
func policyFor(rc *config.RetryConfig) *retry.Policy {
	opts := []retry.Option{}
	if rc != nil {
		if rc.MaxAttempts > 0 {
			opts = append(opts, retry.WithMaxAttempts(uint64(rc.MaxAttempts)))
		}
		if rc.InitialWait > 0 {
			opts = append(opts, retry.WithInitialInterval(rc.InitialWait))
		}
		if rc.MaxWait > 0 {
			opts = append(opts, retry.WithMaxInterval(rc.MaxWait))
		}
	}
	return retry.NewPolicy(extraction.IsRetryable, opts...)
}

// Run executes every configured pipeline, at most Parallelism at a time.
// Reports come back in config order; the first pipeline failure cancels the
// remaining runs.
func (o *Orchestrator) Run(ctx context.Context) ([]*Report, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(attribute.Int("pipelines", len(o.cfg.Pipelines))))
	defer span.End()

	g, ctx := errgroup.WithContext(ctx)
	if o.cfg.Parallelism > 0 {
		g.SetLimit(o.cfg.Parallelism)
	}

	reports := make([]*Report, len(o.cfg.Pipelines))
	for i, spec := range o.cfg.Pipelines {
		g.Go(func() error {
			report, err := o.RunPipeline(ctx, spec)
			if err != nil {
				return fmt.Errorf("pipeline %s: %w", spec.Name, err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return reports, nil
}

// RunPipeline drives one pipeline through all its configured stages.
func (o *Orchestrator) RunPipeline(ctx context.Context, spec config.PipelineSpec) (*Report, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run_pipeline",
		trace.WithAttributes(attribute.String("pipeline", spec.Name)))
	defer span.End()

	source, ok := o.sources[spec.Source]
	if !ok {
		return nil, fmt.Errorf("unknown source %s", spec.Source)
	}

	report := &Report{Pipeline: spec.Name}
	sink := medallion.NewBronzeIngestor(o.store, spec.BronzeTable, o.logger, o.tracer)
	if err := o.drain(ctx, spec, source, sink, report); err != nil {
		return nil, err
	}

	promotion, err := o.promoter.Promote(ctx, spec.BronzeTable, spec.SilverTable, promotionSpec(spec))
	if err != nil {
		return nil, err
	}
	o.metrics.IncPromotions(ctx)
	o.metrics.AddQuarantinedRows(ctx, promotion.Quarantined)
	report.Promotion = promotion

	if spec.Dimension != nil {
		applied, err := o.applyDimension(ctx, spec)
		if err != nil {
			return nil, err
		}
		report.Versioning = applied
	}

	if spec.Aggregation != nil && spec.GoldTable != "" {
		refreshed, err := o.refreshGold(ctx, spec)
		if err != nil {
			return nil, err
		}
		o.metrics.IncGoldRefreshes(ctx)
		report.Aggregation = refreshed
	}

	o.logger.Info(ctx, "pipeline run complete",
		"pipeline", spec.Name,
		"runs", report.Runs,
		"rows_extracted", report.RowsExtracted)
	return report, nil
}

// drain repeatedly extracts bounded batches until the source reports no more
// data above the watermark. Each run is wrapped in the source's retry
// policy; a failed run leaves the watermark untouched so replays are safe.
func (o *Orchestrator) drain(
	ctx context.Context,
	spec config.PipelineSpec,
	source extraction.RowSource,
	sink extraction.BatchSink,
	report *Report,
) error {
	limit := spec.BatchSize
	if limit <= 0 {
		limit = defaultBatchSize
	}
	policy := o.retries[spec.Source]

	for {
		var result *extraction.Result
		err := policy.Do(ctx, func(ctx context.Context) error {
			var runErr error
			result, runErr = o.extractor.Extract(ctx, spec.Source, spec.BronzeTable, source, sink, limit)
			return runErr
		})
		if err != nil {
			return err
		}
		report.Runs++
		report.RowsExtracted += result.RowCount
		if result.NoNewData || !result.HasMore {
			return nil
		}
	}
}

// applyDimension builds the current-entity snapshot from the Silver table
// and hands it to the versioning engine.
func (o *Orchestrator) applyDimension(ctx context.Context, spec config.PipelineSpec) (*dimension.ApplyResult, error) {
	snapshot, err := o.silverSnapshot(ctx, spec)
	if err != nil {
		return nil, err
	}
	cfg := dimensionsvc.TableConfig{}
	if d := spec.Dimension; d != nil {
		cfg.DeleteDetection = dimension.DeleteDetectionPolicy(d.DeleteDetection)
		cfg.NullEquality = dimension.NullEqualityPolicy(d.NullEquality)
	}
	return o.versioner.Apply(ctx, spec.Dimension.Table, cfg, snapshot, time.Now().UTC())
}

// silverSnapshot reduces the Silver table to its latest promotable state per
// key, shaped as rows keyed on the dimension's business key columns.
func (o *Orchestrator) silverSnapshot(ctx context.Context, spec config.PipelineSpec) ([]extraction.Row, error) {
	records, err := o.store.Snapshot(ctx, spec.SilverTable)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]lakehouse.Record, len(records))
	order := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.QualityFlag == lakehouse.QualityQuarantined {
			continue
		}
		if _, seen := latest[rec.KeyFingerprint]; !seen {
			order = append(order, rec.KeyFingerprint)
		}
		// Snapshot rows arrive in ingestion order, so the last record
		// per key is the current one.
		latest[rec.KeyFingerprint] = rec
	}

	rows := make([]extraction.Row, 0, len(order))
	for _, fp := range order {
		rec := latest[fp]
		key := make(map[string]string, len(spec.Dimension.BusinessKeys))
		attrs := rec.Attributes()
		for _, col := range spec.Dimension.BusinessKeys {
			if v, ok := rec.BusinessKey[col]; ok {
				key[col] = v
				continue
			}
			key[col] = fmt.Sprint(attrs[col])
		}
		rows = append(rows, extraction.Row{
			BusinessKey: key,
			Attributes:  attrs,
			ChangeKind:  rec.ChangeKind,
			Position:    rec.Position,
		})
	}
	return rows, nil
}

// refreshGold folds rows ingested since the pipeline's previous refresh into
// the Gold table.
func (o *Orchestrator) refreshGold(ctx context.Context, spec config.PipelineSpec) (*medallion.AggregationResult, error) {
	o.mu.Lock()
	since := o.lastRefresh[spec.Name]
	o.mu.Unlock()

	result, err := o.aggregator.Refresh(ctx, spec.SilverTable, spec.GoldTable, aggregationSpec(spec.Aggregation), since)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.lastRefresh[spec.Name] = result.RefreshedAt
	o.mu.Unlock()
	return result, nil
}

func promotionSpec(spec config.PipelineSpec) medallion.PromotionSpec {
	rules := make([]medallion.ValidationRule, 0, len(spec.Validations))
	for _, r := range spec.Validations {
		rules = append(rules, medallion.ValidationRule{Column: r.Column, Rule: medallion.RuleKind(r.Rule)})
	}
	return medallion.PromotionSpec{DedupKeys: spec.DedupKeys, Rules: rules}
}

func aggregationSpec(a *config.AggregationSpec) medallion.AggregationSpec {
	out := medallion.AggregationSpec{
		GroupBy: a.GroupBy,
		Metrics: make(map[string]medallion.MetricSpec, len(a.Metrics)),
	}
	for name, m := range a.Metrics {
		out.Metrics[name] = medallion.MetricSpec{Column: m.Column, Op: medallion.AggregateOp(m.Operator)}
	}
	return out
}
