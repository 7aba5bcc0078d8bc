package extraction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/lakehouse/internal/domain/extraction"
	sourcemem "github.com/ahrav/lakehouse/internal/infra/source/memory"
	"github.com/ahrav/lakehouse/internal/infra/storage"
	watermarkmem "github.com/ahrav/lakehouse/internal/infra/storage/watermark/memory"
	"github.com/ahrav/lakehouse/pkg/common/logger"
)

type noopMetrics struct{}

func (noopMetrics) IncExtractionRuns(context.Context)                      {}
func (noopMetrics) IncExtractionErrors(context.Context)                    {}
func (noopMetrics) ObserveBatchSize(context.Context, int)                  {}
func (noopMetrics) ObserveExtractionDuration(context.Context, time.Duration) {}

// captureSink records committed batches and can be scripted to fail or block.
type captureSink struct {
	mu       sync.Mutex
	batches  []*extraction.ExtractedBatch
	failNext error
	block    chan struct{}
}

func (c *captureSink) CommitBatch(ctx context.Context, batch *extraction.ExtractedBatch) (uuid.UUID, error) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext != nil {
		err := c.failNext
		c.failNext = nil
		return uuid.Nil, err
	}
	c.batches = append(c.batches, batch)
	return uuid.New(), nil
}

func (c *captureSink) rowCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += b.RowCount()
	}
	return n
}

func row(seq int64, id, val string) extraction.Row {
	return extraction.Row{
		BusinessKey: map[string]string{"id": id},
		Attributes:  map[string]any{"val": val},
		ChangeKind:  extraction.ChangeKindUpdate,
		Position:    extraction.NewSequencePosition(seq),
	}
}

func newTestService() (*Service, *watermarkmem.WatermarkStore) {
	store := watermarkmem.NewWatermarkStore()
	svc := NewService(store, logger.Noop(), noopMetrics{}, storage.NoOpTracer())
	return svc, store
}

// TestExtractFirstRunAndIdempotence covers the canonical run pair: a first
// run pulls everything and commits a watermark, a second run with no new
// rows reports no new data and leaves the watermark alone.
func TestExtractFirstRunAndIdempotence(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	src := sourcemem.NewRowSource("orders-db", []extraction.Row{
		row(10, "1", "a"),
		row(20, "2", "b"),
	})
	sink := &captureSink{}

	result, err := svc.Extract(ctx, "orders-db", "bronze.orders", src, sink, 100)
	require.NoError(t, err)
	require.Equal(t, 2, result.RowCount)
	require.False(t, result.HasMore)
	require.Equal(t, int64(20), result.NewPosition.Sequence())

	wm, err := store.Get(ctx, "orders-db", "bronze.orders")
	require.NoError(t, err)
	require.Equal(t, int64(20), wm.Position().Sequence())

	// Second run with nothing new.
	result, err = svc.Extract(ctx, "orders-db", "bronze.orders", src, sink, 100)
	require.NoError(t, err)
	require.True(t, result.NoNewData)
	require.Equal(t, 0, result.RowCount)
	require.Equal(t, int64(20), result.NewPosition.Sequence())

	wm, err = store.Get(ctx, "orders-db", "bronze.orders")
	require.NoError(t, err)
	require.Equal(t, int64(20), wm.Position().Sequence())
	require.Equal(t, 2, sink.rowCount(), "second run must not re-commit rows")
}

// TestExtractNoLossAcrossBatchSplits verifies any batching split yields the
// full source set exactly once.
func TestExtractNoLossAcrossBatchSplits(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	rows := []extraction.Row{
		row(1, "a", "1"), row(3, "b", "2"), row(5, "c", "3"),
		row(7, "d", "4"), row(9, "e", "5"),
	}
	src := sourcemem.NewRowSource("orders-db", rows)
	sink := &captureSink{}

	seen := make(map[int64]int)
	for {
		result, err := svc.Extract(ctx, "orders-db", "bronze.orders", src, sink, 2)
		require.NoError(t, err)
		if result.NoNewData {
			break
		}
		for _, r := range result.Batch.Rows() {
			seen[r.Position.Sequence()]++
		}
	}

	require.Len(t, seen, len(rows))
	for pos, count := range seen {
		require.Equal(t, 1, count, "row at position %d extracted more than once", pos)
	}
}

// TestExtractWriteFailureLeavesWatermark verifies a failed commit does not
// advance the watermark, and a retry replays the same rows.
func TestExtractWriteFailureLeavesWatermark(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	src := sourcemem.NewRowSource("orders-db", []extraction.Row{row(10, "1", "a")})
	sink := &captureSink{failNext: errors.New("disk full")}

	_, err := svc.Extract(ctx, "orders-db", "bronze.orders", src, sink, 100)
	require.Error(t, err)
	require.True(t, extraction.IsRetryable(err))

	wm, err := store.Get(ctx, "orders-db", "bronze.orders")
	require.NoError(t, err)
	require.Nil(t, wm, "watermark must not advance on write failure")

	// Retry with unchanged state succeeds and commits the same rows.
	result, err := svc.Extract(ctx, "orders-db", "bronze.orders", src, sink, 100)
	require.NoError(t, err)
	require.Equal(t, 1, result.RowCount)
	require.Equal(t, int64(10), result.NewPosition.Sequence())
}

// TestExtractOrderingViolationIsFatal verifies out-of-order rows fail the
// run without touching the watermark.
func TestExtractOrderingViolationIsFatal(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	src := sourcemem.NewRowSource("orders-db", []extraction.Row{
		row(10, "1", "a"),
		row(30, "2", "b"),
		row(20, "3", "c"),
	})
	sink := &captureSink{}

	_, err := svc.Extract(ctx, "orders-db", "bronze.orders", src, sink, 100)
	require.Error(t, err)
	require.False(t, extraction.IsRetryable(err), "ordering violations need operator intervention")

	wm, err := store.Get(ctx, "orders-db", "bronze.orders")
	require.NoError(t, err)
	require.Nil(t, wm)
	require.Zero(t, sink.rowCount())
}

// TestExtractSourceUnavailable verifies transient source failures are
// classified retryable and leave no side effects.
func TestExtractSourceUnavailable(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	src := sourcemem.NewRowSource("orders-db", []extraction.Row{row(10, "1", "a")})
	src.FailNext(errors.New("connection refused"))
	sink := &captureSink{}

	_, err := svc.Extract(ctx, "orders-db", "bronze.orders", src, sink, 100)
	require.Error(t, err)
	require.True(t, extraction.IsRetryable(err))

	wm, err := store.Get(ctx, "orders-db", "bronze.orders")
	require.NoError(t, err)
	require.Nil(t, wm)
}

// TestExtractConcurrentRunFailsFast verifies the per-pair run lock: a second
// run for the same pair fails with ExtractionInProgress while a run for a
// different pair proceeds.
func TestExtractConcurrentRunFailsFast(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	blocked := make(chan struct{})
	sink := &captureSink{block: blocked}
	src := sourcemem.NewRowSource("orders-db", []extraction.Row{row(10, "1", "a")})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Extract(ctx, "orders-db", "bronze.orders", src, sink, 100)
		done <- err
	}()

	// Wait for the first run to hold the pair lock inside CommitBatch.
	require.Eventually(t, func() bool {
		_, err := svc.Extract(ctx, "orders-db", "bronze.orders", src, &captureSink{}, 100)
		return errors.Is(err, extraction.NewExtractionInProgressError("orders-db", "bronze.orders"))
	}, time.Second, 5*time.Millisecond)

	// A different pair is unaffected.
	other := sourcemem.NewRowSource("users-db", []extraction.Row{row(1, "u", "x")})
	_, err := svc.Extract(ctx, "users-db", "bronze.users", other, &captureSink{}, 100)
	require.NoError(t, err)

	close(blocked)
	require.NoError(t, <-done)
}

// TestResetWatermark verifies the admin reset forces a re-read from the
// start of history.
func TestResetWatermark(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	src := sourcemem.NewRowSource("orders-db", []extraction.Row{row(10, "1", "a")})
	sink := &captureSink{}

	_, err := svc.Extract(ctx, "orders-db", "bronze.orders", src, sink, 100)
	require.NoError(t, err)

	require.NoError(t, svc.ResetWatermark(ctx, "orders-db", "bronze.orders"))

	wm, err := store.Get(ctx, "orders-db", "bronze.orders")
	require.NoError(t, err)
	require.Nil(t, wm)

	result, err := svc.Extract(ctx, "orders-db", "bronze.orders", src, sink, 100)
	require.NoError(t, err)
	require.Equal(t, 1, result.RowCount, "reset run re-reads from the start")
}

// TestWatermarksStatus verifies the status listing surface.
func TestWatermarksStatus(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	sink := &captureSink{}

	_, err := svc.Extract(ctx, "orders-db", "bronze.orders",
		sourcemem.NewRowSource("orders-db", []extraction.Row{row(10, "1", "a")}), sink, 100)
	require.NoError(t, err)
	_, err = svc.Extract(ctx, "users-db", "bronze.users",
		sourcemem.NewRowSource("users-db", []extraction.Row{row(5, "u", "x")}), sink, 100)
	require.NoError(t, err)

	all, err := svc.Watermarks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}
