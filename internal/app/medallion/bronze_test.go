package medallion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/lakehouse/internal/domain/extraction"
	"github.com/ahrav/lakehouse/internal/domain/lakehouse"
	"github.com/ahrav/lakehouse/internal/infra/storage"
	tablemem "github.com/ahrav/lakehouse/internal/infra/storage/tablestore/memory"
	"github.com/ahrav/lakehouse/pkg/common/logger"
)

var ingestT = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func bronzeRow(id string, seq int64, attrs map[string]any) extraction.Row {
	return extraction.Row{
		BusinessKey: map[string]string{"id": id},
		Attributes:  attrs,
		ChangeKind:  extraction.ChangeKindUpdate,
		Position:    extraction.NewSequencePosition(seq),
	}
}

func mustBatch(t *testing.T, rows []extraction.Row) *extraction.ExtractedBatch {
	t.Helper()
	batch, err := extraction.NewExtractedBatch("orders_db", "bronze_orders", rows,
		extraction.WithExtractedAt(ingestT))
	require.NoError(t, err)
	return batch
}

// TestCommitBatchTagsProvenance verifies every stored row carries its source,
// batch, ingestion time, and quality flag.
func TestCommitBatchTagsProvenance(t *testing.T) {
	store := tablemem.NewTableStore()
	ingestor := NewBronzeIngestor(store, "bronze_orders", logger.Noop(), storage.NoOpTracer())

	batch := mustBatch(t, []extraction.Row{
		bronzeRow("1", 10, map[string]any{"amount": 5}),
		bronzeRow("2", 11, map[string]any{"amount": 7}),
	})
	_, err := ingestor.CommitBatch(context.Background(), batch)
	require.NoError(t, err)

	snapshot, err := store.Snapshot(context.Background(), "bronze_orders")
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	for _, rec := range snapshot {
		assert.Equal(t, "orders_db", rec.SourceID)
		assert.Equal(t, batch.BatchID(), rec.BatchID)
		assert.Equal(t, ingestT, rec.IngestedAt)
		assert.Equal(t, lakehouse.QualityValid, rec.QualityFlag)
		assert.True(t, rec.IsPromotable())
	}
}

// TestCommitBatchKeepsInvalidRows verifies malformed rows are stored tagged
// invalid instead of failing the batch.
func TestCommitBatchKeepsInvalidRows(t *testing.T) {
	store := tablemem.NewTableStore()
	ingestor := NewBronzeIngestor(store, "bronze_orders", logger.Noop(), storage.NoOpTracer())

	batch := mustBatch(t, []extraction.Row{
		bronzeRow("1", 10, map[string]any{"amount": 5}),
		bronzeRow("2", 11, nil),
	})
	_, err := ingestor.CommitBatch(context.Background(), batch)
	require.NoError(t, err)

	rec, err := store.ReadCurrent(context.Background(), "bronze_orders", extraction.FingerprintKey(map[string]string{"id": "2"}))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, lakehouse.QualityInvalid, rec.QualityFlag)
	assert.Equal(t, "row has no attributes", rec.QuarantineReason)
	assert.False(t, rec.IsPromotable())
}

// TestCommitBatchDeleteRowsAreValid verifies tombstones are not flagged
// invalid for their lack of attributes.
func TestCommitBatchDeleteRowsAreValid(t *testing.T) {
	store := tablemem.NewTableStore()
	ingestor := NewBronzeIngestor(store, "bronze_orders", logger.Noop(), storage.NoOpTracer())

	row := bronzeRow("1", 10, nil)
	row.ChangeKind = extraction.ChangeKindDelete
	_, err := ingestor.CommitBatch(context.Background(), mustBatch(t, []extraction.Row{row}))
	require.NoError(t, err)

	rec, err := store.ReadCurrent(context.Background(), "bronze_orders", row.KeyFingerprint())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, lakehouse.QualityValid, rec.QualityFlag)
}

// TestCommitBatchReplayIsIdempotent verifies committing the same rows twice
// leaves a single copy per (key, position).
func TestCommitBatchReplayIsIdempotent(t *testing.T) {
	store := tablemem.NewTableStore()
	ingestor := NewBronzeIngestor(store, "bronze_orders", logger.Noop(), storage.NoOpTracer())

	rows := []extraction.Row{
		bronzeRow("1", 10, map[string]any{"amount": 5}),
		bronzeRow("2", 11, map[string]any{"amount": 7}),
	}
	_, err := ingestor.CommitBatch(context.Background(), mustBatch(t, rows))
	require.NoError(t, err)
	_, err = ingestor.CommitBatch(context.Background(), mustBatch(t, rows))
	require.NoError(t, err)

	snapshot, err := store.Snapshot(context.Background(), "bronze_orders")
	require.NoError(t, err)
	assert.Len(t, snapshot, 2)
}

// TestIngestPayload verifies non-tabular payloads land at Bronze with
// provenance and that empty payloads are tagged invalid.
func TestIngestPayload(t *testing.T) {
	store := tablemem.NewTableStore()
	ingestor := NewBronzeIngestor(store, "bronze_docs", logger.Noop(), storage.NoOpTracer())

	payload := lakehouse.NewUnstructuredPayload([]byte("%PDF-1.7"), "application/pdf")
	_, err := ingestor.IngestPayload(context.Background(), "doc_store", payload, extraction.NewSequencePosition(1))
	require.NoError(t, err)

	_, err = ingestor.IngestPayload(context.Background(), "doc_store", lakehouse.Payload{}, extraction.NewSequencePosition(2))
	require.NoError(t, err)

	snapshot, err := store.Snapshot(context.Background(), "bronze_docs")
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	assert.Equal(t, lakehouse.QualityValid, snapshot[0].QualityFlag)
	assert.Equal(t, lakehouse.PayloadUnstructured, snapshot[0].Payload.Kind())
	assert.Equal(t, lakehouse.QualityInvalid, snapshot[1].QualityFlag)
}
