package extraction

import (
	"context"

	"github.com/google/uuid"
)

// RowSource yields a lazy, ordered stream of typed rows from an external
// system. Implementations wrap a database query, a message-queue consumer, or
// an in-memory script; the engine only depends on the ordering contract.
type RowSource interface {
	// Open establishes a session with the source. Positions are guaranteed
	// monotonic only within a single session.
	Open(ctx context.Context) (RowSourceSession, error)
}

// RowSourceSession is a live connection to a row source.
type RowSourceSession interface {
	// Poll returns up to limit rows with positions strictly greater than
	// after, in non-decreasing position order, plus a flag indicating whether
	// more rows remain beyond the returned set.
	Poll(ctx context.Context, after Position, limit int) ([]Row, bool, error)

	// Close releases the session.
	Close() error
}

// WatermarkRepository provides persistent storage for extraction watermarks.
// Mutation happens exclusively through compare-and-set so two runs can never
// both believe they advanced the same watermark.
type WatermarkRepository interface {
	// Get retrieves the watermark for a (source, target) pair.
	// Returns nil if no extraction has ever succeeded for the pair.
	Get(ctx context.Context, sourceID, targetID string) (*Watermark, error)

	// CompareAndSet replaces the pair's watermark with next if and only if
	// the stored value still equals expected (nil expected means "no
	// watermark exists yet"). Returns false without mutating on mismatch.
	CompareAndSet(ctx context.Context, expected, next *Watermark) (bool, error)

	// List returns all known watermarks for status reporting.
	List(ctx context.Context) ([]*Watermark, error)

	// Delete removes the watermark for a pair, forcing the next run to start
	// from the beginning of history. It is not an error if none exists.
	Delete(ctx context.Context, sourceID, targetID string) error
}

// BatchSink is the write path an extraction run hands its batch to. The
// commit must be atomic and idempotent keyed on (business key, position) so
// a replayed batch cannot duplicate rows.
type BatchSink interface {
	// CommitBatch durably writes the batch and returns the storage commit ID.
	CommitBatch(ctx context.Context, batch *ExtractedBatch) (uuid.UUID, error)
}
