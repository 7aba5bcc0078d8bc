package extraction

import "time"

// Result summarizes a single extraction run. It reports where the run
// started, where the watermark landed, and whether the source signaled that
// additional rows remain for a follow-up run.
type Result struct {
	// SourceID and TargetID identify the extraction pair.
	SourceID string
	TargetID string

	// Batch is the committed batch, nil when the run found no new rows.
	Batch *ExtractedBatch

	// PreviousPosition is the watermark the run started from. Zero when the
	// pair had no watermark yet.
	PreviousPosition Position

	// NewPosition is the watermark after the run. Equal to PreviousPosition
	// when no rows were extracted.
	NewPosition Position

	// RowCount is the number of rows committed by this run.
	RowCount int

	// HasMore reports whether the source indicated rows remain beyond this
	// batch. Callers decide whether to schedule a follow-up run.
	HasMore bool

	// NoNewData is true when the source returned an empty batch.
	NoNewData bool

	// Timeline bounds the run.
	Timeline *Timeline
}

// Duration returns the wall-clock time the run took.
func (r *Result) Duration() time.Duration {
	if r.Timeline == nil {
		return 0
	}
	return r.Timeline.Duration()
}
