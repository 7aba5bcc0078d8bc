package extraction

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BatchOption defines functional options for configuring a new ExtractedBatch.
type BatchOption func(*ExtractedBatch)

// WithExtractedAt overrides the extraction timestamp, primarily for tests.
func WithExtractedAt(ts time.Time) BatchOption {
	return func(b *ExtractedBatch) { b.extractedAt = ts }
}

// ExtractedBatch is an entity holding the rows pulled by one extraction run.
// It is immutable after creation and owned exclusively by the run until handed
// to the write path; its max position becomes the candidate next watermark
// only once the corresponding write commits.
type ExtractedBatch struct {
	batchID     uuid.UUID
	sourceID    string
	targetID    string
	rows        []Row
	maxPosition Position
	extractedAt time.Time
}

// NewExtractedBatch creates a batch from rows already verified to be in
// non-decreasing position order. The batch's max position is taken from the
// final row. An empty row set is rejected; runs with no new data never
// construct a batch.
func NewExtractedBatch(sourceID, targetID string, rows []Row, opts ...BatchOption) (*ExtractedBatch, error) {
	if sourceID == "" || targetID == "" {
		return nil, errors.New("sourceID and targetID must be provided")
	}
	if len(rows) == 0 {
		return nil, errors.New("cannot create a batch with zero rows")
	}

	copied := make([]Row, len(rows))
	copy(copied, rows)

	batch := &ExtractedBatch{
		batchID:     uuid.New(),
		sourceID:    sourceID,
		targetID:    targetID,
		rows:        copied,
		maxPosition: copied[len(copied)-1].Position,
		extractedAt: time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(batch)
	}

	return batch, nil
}

// ReconstructBatch creates an ExtractedBatch from persisted data.
func ReconstructBatch(
	batchID uuid.UUID,
	sourceID string,
	targetID string,
	rows []Row,
	maxPosition Position,
	extractedAt time.Time,
) *ExtractedBatch {
	return &ExtractedBatch{
		batchID:     batchID,
		sourceID:    sourceID,
		targetID:    targetID,
		rows:        rows,
		maxPosition: maxPosition,
		extractedAt: extractedAt,
	}
}

// Getters
func (b *ExtractedBatch) BatchID() uuid.UUID     { return b.batchID }
func (b *ExtractedBatch) SourceID() string       { return b.sourceID }
func (b *ExtractedBatch) TargetID() string       { return b.targetID }
func (b *ExtractedBatch) MaxPosition() Position  { return b.maxPosition }
func (b *ExtractedBatch) RowCount() int          { return len(b.rows) }
func (b *ExtractedBatch) ExtractedAt() time.Time { return b.extractedAt }

// Rows returns the batch's rows. The slice must be treated as read-only.
func (b *ExtractedBatch) Rows() []Row { return b.rows }

// VerifyOrdering confirms the first row's position is strictly greater than
// the floor (the committed watermark) and that the rows are in non-decreasing
// order among themselves. It returns an OrderingViolation error describing
// the first offending row otherwise.
func VerifyOrdering(rows []Row, floor Position) error {
	prev := floor
	// The floor has already been processed, so the first row must clear it
	// strictly; later rows may tie with their predecessor.
	strict := !floor.IsZero()
	for i, row := range rows {
		cmp, err := row.Position.Compare(prev)
		if err != nil {
			return NewOrderingViolationError(prev, row.Position, fmt.Sprintf("row %d: %v", i, err))
		}
		if cmp < 0 || (cmp == 0 && strict) {
			return NewOrderingViolationError(prev, row.Position, fmt.Sprintf("row %d out of order", i))
		}
		prev = row.Position
		strict = false
	}
	return nil
}
