package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dimensionsvc "github.com/ahrav/lakehouse/internal/app/dimension"
	extractionsvc "github.com/ahrav/lakehouse/internal/app/extraction"
	"github.com/ahrav/lakehouse/internal/config"
	"github.com/ahrav/lakehouse/internal/domain/extraction"
	sourcemem "github.com/ahrav/lakehouse/internal/infra/source/memory"
	"github.com/ahrav/lakehouse/internal/infra/storage"
	dimensionmem "github.com/ahrav/lakehouse/internal/infra/storage/dimension/memory"
	tablemem "github.com/ahrav/lakehouse/internal/infra/storage/tablestore/memory"
	watermarkmem "github.com/ahrav/lakehouse/internal/infra/storage/watermark/memory"
	"github.com/ahrav/lakehouse/pkg/common/logger"
)

// noopMetrics satisfies every metrics interface in the app layer.
type noopMetrics struct{}

func (noopMetrics) IncExtractionRuns(context.Context)                        {}
func (noopMetrics) IncExtractionErrors(context.Context)                      {}
func (noopMetrics) ObserveBatchSize(context.Context, int)                    {}
func (noopMetrics) ObserveExtractionDuration(context.Context, time.Duration) {}
func (noopMetrics) IncSnapshotApplies(context.Context)                       {}
func (noopMetrics) AddVersionInserts(context.Context, int)                   {}
func (noopMetrics) AddVersionExpirations(context.Context, int)               {}
func (noopMetrics) AddVersionNoOps(context.Context, int)                     {}
func (noopMetrics) IncPromotions(context.Context)                            {}
func (noopMetrics) AddQuarantinedRows(context.Context, int)                  {}
func (noopMetrics) IncGoldRefreshes(context.Context)                         {}

func customerRow(id string, seq int64, attrs map[string]any) extraction.Row {
	return extraction.Row{
		BusinessKey: map[string]string{"id": id},
		Attributes:  attrs,
		ChangeKind:  extraction.ChangeKindUpdate,
		Position:    extraction.NewSequencePosition(seq),
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Sources: []config.SourceSpec{
			{Name: "customers_db", SourceType: config.SourceTypeMemory},
		},
		Pipelines: []config.PipelineSpec{{
			Name:        "customers",
			Source:      "customers_db",
			BronzeTable: "bronze_customers",
			SilverTable: "silver_customers",
			GoldTable:   "gold_customers_by_region",
			BatchSize:   2,
			DedupKeys:   []string{"id"},
			Validations: []config.ValidationRule{
				{Column: "email", Rule: "not_null"},
			},
			Dimension: &config.DimensionSpec{
				Table:        "dim_customers",
				BusinessKeys: []string{"id"},
			},
			Aggregation: &config.AggregationSpec{
				GroupBy: []string{"region"},
				Metrics: map[string]config.MetricSpec{
					"customers": {Column: "id", Operator: "count"},
					"spend":     {Column: "total_spend", Operator: "sum"},
				},
			},
		}},
		Parallelism: 2,
	}
}

type harness struct {
	orchestrator *Orchestrator
	source       *sourcemem.RowSource
	tables       *tablemem.TableStore
	versioner    *dimensionsvc.Service
}

func newHarness(t *testing.T, cfg *config.Config, rows []extraction.Row) *harness {
	t.Helper()
	log := logger.Noop()
	tracer := storage.NoOpTracer()

	source := sourcemem.NewRowSource("customers_db", rows)
	tables := tablemem.NewTableStore()
	extractor := extractionsvc.NewService(watermarkmem.NewWatermarkStore(), log, noopMetrics{}, tracer)
	versioner := dimensionsvc.NewService(dimensionmem.NewDimensionStore(), log, noopMetrics{}, tracer)

	orch := NewOrchestrator(cfg,
		map[string]extraction.RowSource{"customers_db": source},
		extractor, versioner, tables, log, noopMetrics{}, tracer)
	return &harness{orchestrator: orch, source: source, tables: tables, versioner: versioner}
}

// TestRunFullPipeline drives one pipeline end to end: extraction across
// multiple bounded runs, promotion with validation, dimension versioning,
// and Gold aggregation.
func TestRunFullPipeline(t *testing.T) {
	ctx := context.Background()
	rows := []extraction.Row{
		customerRow("1", 10, map[string]any{"id": "1", "email": "a@x.io", "region": "emea", "total_spend": 100}),
		customerRow("2", 11, map[string]any{"id": "2", "email": "b@x.io", "region": "emea", "total_spend": 50}),
		customerRow("3", 12, map[string]any{"id": "3", "email": nil, "region": "apac", "total_spend": 10}),
		customerRow("1", 13, map[string]any{"id": "1", "email": "a@x.io", "region": "emea", "total_spend": 120}),
	}
	h := newHarness(t, testConfig(), rows)

	reports, err := h.orchestrator.Run(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	report := reports[0]

	// Batch size 2 over 4 rows takes two full runs plus the empty
	// confirming run.
	assert.Equal(t, 4, report.RowsExtracted)
	assert.GreaterOrEqual(t, report.Runs, 2)

	bronze, err := h.tables.Snapshot(ctx, "bronze_customers")
	require.NoError(t, err)
	assert.Len(t, bronze, 4)

	require.NotNil(t, report.Promotion)
	assert.Equal(t, 2, report.Promotion.Promoted)
	assert.Equal(t, 1, report.Promotion.Quarantined)
	assert.Equal(t, 1, report.Promotion.Deduplicated)

	// The duplicate key collapsed to its latest extracted state.
	silver, err := h.tables.ReadCurrent(ctx, "silver_customers", extraction.FingerprintKey(map[string]string{"id": "1"}))
	require.NoError(t, err)
	require.NotNil(t, silver)
	assert.Equal(t, 120, silver.Attributes()["total_spend"])

	require.NotNil(t, report.Versioning)
	assert.Equal(t, 2, report.Versioning.Inserted)
	current, err := h.versioner.Current(ctx, "dim_customers", map[string]string{"id": "1"})
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, 120, current.Attributes()["total_spend"])

	require.NotNil(t, report.Aggregation)
	gold, err := h.tables.ReadCurrent(ctx, "gold_customers_by_region", extraction.FingerprintKey(map[string]string{"region": "emea"}))
	require.NoError(t, err)
	require.NotNil(t, gold)
	assert.Equal(t, int64(2), gold.Attributes()["customers"])
	assert.Equal(t, float64(170), gold.Attributes()["spend"])
}

// TestRunTwiceAdvancesIncrementally verifies a second run extracts only new
// rows, versions only changed entities, and folds only new rows into Gold.
func TestRunTwiceAdvancesIncrementally(t *testing.T) {
	ctx := context.Background()
	rows := []extraction.Row{
		customerRow("1", 10, map[string]any{"id": "1", "email": "a@x.io", "region": "emea", "total_spend": 100}),
		customerRow("2", 11, map[string]any{"id": "2", "email": "b@x.io", "region": "apac", "total_spend": 50}),
	}
	h := newHarness(t, testConfig(), rows)

	reports, err := h.orchestrator.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, reports[0].RowsExtracted)

	h.source.Append(
		customerRow("1", 12, map[string]any{"id": "1", "email": "a@x.io", "region": "emea", "total_spend": 150}),
		customerRow("3", 13, map[string]any{"id": "3", "email": "c@x.io", "region": "emea", "total_spend": 30}),
	)

	reports, err = h.orchestrator.Run(ctx)
	require.NoError(t, err)
	report := reports[0]
	assert.Equal(t, 2, report.RowsExtracted)

	// Customer 1 changed and customer 3 is new; customer 2 is a no-op.
	require.NotNil(t, report.Versioning)
	assert.Equal(t, 2, report.Versioning.Inserted)
	assert.Equal(t, 1, report.Versioning.Expired)
	assert.Equal(t, 1, report.Versioning.Unchanged)

	history, err := h.versioner.History(ctx, "dim_customers", map[string]string{"id": "1"})
	require.NoError(t, err)
	assert.Len(t, history, 2)

	gold, err := h.tables.ReadCurrent(ctx, "gold_customers_by_region", extraction.FingerprintKey(map[string]string{"region": "emea"}))
	require.NoError(t, err)
	require.NotNil(t, gold)
	// Versioned writes accumulate: 100 from run one, 150 and 30 from run
	// two. Silver keeps every accepted version, so the sum covers all
	// emea rows ingested so far.
	assert.Equal(t, float64(280), gold.Attributes()["spend"])
	assert.Equal(t, int64(3), gold.Attributes()["customers"])
}

// TestRunRetriesTransientSourceFailures verifies the per-source retry policy
// replays a transient failure and the run still completes.
func TestRunRetriesTransientSourceFailures(t *testing.T) {
	cfg := testConfig()
	cfg.Sources[0].RetryConfig = &config.RetryConfig{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     2 * time.Millisecond,
	}
	rows := []extraction.Row{
		customerRow("1", 10, map[string]any{"id": "1", "email": "a@x.io", "region": "emea", "total_spend": 100}),
	}
	h := newHarness(t, cfg, rows)
	h.source.FailNext(extraction.NewSourceUnavailableError("customers_db", errors.New("connection reset")))

	reports, err := h.orchestrator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reports[0].RowsExtracted)
}

// TestRunUnknownSourceFails verifies a pipeline naming an unwired source
// fails rather than silently skipping.
func TestRunUnknownSourceFails(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg, nil)
	delete(h.orchestrator.sources, "customers_db")

	_, err := h.orchestrator.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source")
}
