// Package medallion implements the layer transition contract: Bronze
// ingestion of raw tagged rows, Bronze to Silver promotion with
// deduplication and validation, and Silver to Gold incremental aggregation.
package medallion

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/lakehouse/internal/domain/extraction"
	"github.com/ahrav/lakehouse/internal/domain/lakehouse"
	"github.com/ahrav/lakehouse/pkg/common/logger"
)

var _ extraction.BatchSink = (*BronzeIngestor)(nil)

// BronzeIngestor is the extraction engine's write path. Every row is stored,
// tagged with its source, batch, ingestion time, and a quality flag; content
// problems never fail ingestion, they mark the row invalid so promotion
// skips it until repaired.
type BronzeIngestor struct {
	store lakehouse.VersionedTableStore
	table string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewBronzeIngestor creates an ingestor appending to the given Bronze table.
func NewBronzeIngestor(store lakehouse.VersionedTableStore, table string, log *logger.Logger, tracer trace.Tracer) *BronzeIngestor {
	return &BronzeIngestor{
		store:  store,
		table:  table,
		logger: log.With("component", "bronze_ingestor", "table", table),
		tracer: tracer,
	}
}

// CommitBatch atomically appends an extracted batch to the Bronze table and
// returns the storage commit ID. Replays are absorbed by the store's
// (key fingerprint, position) dedup.
func (b *BronzeIngestor) CommitBatch(ctx context.Context, batch *extraction.ExtractedBatch) (uuid.UUID, error) {
	ctx, span := b.tracer.Start(ctx, "bronze_ingestor.commit_batch",
		trace.WithAttributes(
			attribute.String("batch_id", batch.BatchID().String()),
			attribute.Int("row_count", batch.RowCount()),
		))
	defer span.End()

	records := make([]lakehouse.Record, 0, batch.RowCount())
	invalid := 0
	for _, row := range batch.Rows() {
		rec := lakehouse.Record{
			KeyFingerprint: row.KeyFingerprint(),
			BusinessKey:    row.BusinessKey,
			Payload:        lakehouse.NewStructuredPayload(row.Attributes),
			ChangeKind:     row.ChangeKind,
			Position:       row.Position,
			SourceID:       batch.SourceID(),
			BatchID:        batch.BatchID(),
			IngestedAt:     batch.ExtractedAt(),
			QualityFlag:    lakehouse.QualityValid,
		}
		if reason := contentProblem(row); reason != "" {
			rec.QualityFlag = lakehouse.QualityInvalid
			rec.QuarantineReason = reason
			invalid++
		}
		records = append(records, rec)
	}

	commitID, err := b.store.Append(ctx, b.table, records)
	if err != nil {
		span.RecordError(err)
		return uuid.Nil, extraction.NewWriteCommitFailedError(b.table, err)
	}

	if invalid > 0 {
		b.logger.Warn(ctx, "batch contained invalid rows",
			"batch_id", batch.BatchID().String(), "invalid", invalid)
	}
	return commitID, nil
}

// IngestPayload stores a single non-tabular payload at Bronze, tagged with
// its source and ingestion time. Used for semi-structured and unstructured
// content that bypasses the extraction engine.
func (b *BronzeIngestor) IngestPayload(ctx context.Context, sourceID string, payload lakehouse.Payload, position extraction.Position) (uuid.UUID, error) {
	rec := lakehouse.Record{
		Payload:     payload,
		Position:    position,
		SourceID:    sourceID,
		BatchID:     uuid.New(),
		IngestedAt:  time.Now().UTC(),
		QualityFlag: lakehouse.QualityValid,
	}
	if payload.IsZero() {
		rec.QualityFlag = lakehouse.QualityInvalid
		rec.QuarantineReason = "empty payload"
	}

	commitID, err := b.store.Append(ctx, b.table, []lakehouse.Record{rec})
	if err != nil {
		return uuid.Nil, extraction.NewWriteCommitFailedError(b.table, err)
	}
	return commitID, nil
}

// contentProblem reports why a row's content is unusable downstream, empty
// when the row is fine. Deletes legitimately carry no attributes.
func contentProblem(row extraction.Row) string {
	if row.ChangeKind == extraction.ChangeKindDelete {
		return ""
	}
	if len(row.Attributes) == 0 {
		return "row has no attributes"
	}
	if _, err := json.Marshal(row.Attributes); err != nil {
		return "attributes are not serializable: " + err.Error()
	}
	return ""
}
