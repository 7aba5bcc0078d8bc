// Package extraction implements the incremental extraction engine: it pulls
// rows strictly above the committed watermark, verifies the source's ordering
// contract, hands the batch to the write path, and advances the watermark
// only after the write commits.
package extraction

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/lakehouse/internal/domain/extraction"
	"github.com/ahrav/lakehouse/pkg/common/logger"
)

// metrics defines the telemetry the engine emits at points of use.
type metrics interface {
	IncExtractionRuns(ctx context.Context)
	IncExtractionErrors(ctx context.Context)
	ObserveBatchSize(ctx context.Context, size int)
	ObserveExtractionDuration(ctx context.Context, d time.Duration)
}

type pairKey struct{ sourceID, targetID string }

// Service coordinates extraction runs. Runs for distinct (source, target)
// pairs proceed in parallel; a second run for a pair already in flight fails
// fast rather than racing to advance the same watermark.
type Service struct {
	watermarks extraction.WatermarkRepository

	mu       sync.Mutex
	inFlight map[pairKey]struct{}

	logger  *logger.Logger
	metrics metrics
	tracer  trace.Tracer
}

// NewService creates an extraction engine backed by the given watermark
// repository.
func NewService(
	watermarks extraction.WatermarkRepository,
	log *logger.Logger,
	m metrics,
	tracer trace.Tracer,
) *Service {
	return &Service{
		watermarks: watermarks,
		inFlight:   make(map[pairKey]struct{}),
		logger:     log.With("component", "extraction_service"),
		metrics:    m,
		tracer:     tracer,
	}
}

// Extract performs one bounded extraction run for a (source, target) pair.
// At most limit rows are pulled; the result's HasMore flag tells the caller
// whether to schedule a follow-up run. The engine never retries internally:
// a failed run leaves the watermark untouched, so retrying with unchanged
// state is always safe.
func (s *Service) Extract(
	ctx context.Context,
	sourceID, targetID string,
	source extraction.RowSource,
	sink extraction.BatchSink,
	limit int,
) (*extraction.Result, error) {
	ctx, span := s.tracer.Start(ctx, "extraction_service.extract",
		trace.WithAttributes(
			attribute.String("source_id", sourceID),
			attribute.String("target_id", targetID),
			attribute.Int("limit", limit),
		))
	defer span.End()

	if !s.acquire(sourceID, targetID) {
		s.metrics.IncExtractionErrors(ctx)
		return nil, extraction.NewExtractionInProgressError(sourceID, targetID)
	}
	defer s.release(sourceID, targetID)

	s.metrics.IncExtractionRuns(ctx)
	timeline := extraction.NewTimeline(extraction.SystemClock())

	result, err := s.run(ctx, sourceID, targetID, source, sink, limit, timeline)
	if err != nil {
		s.metrics.IncExtractionErrors(ctx)
		span.RecordError(err)
		s.logger.Error(ctx, "extraction run failed",
			"source_id", sourceID, "target_id", targetID, "error", err)
		return nil, err
	}

	s.metrics.ObserveExtractionDuration(ctx, result.Duration())
	return result, nil
}

func (s *Service) run(
	ctx context.Context,
	sourceID, targetID string,
	source extraction.RowSource,
	sink extraction.BatchSink,
	limit int,
	timeline *extraction.Timeline,
) (*extraction.Result, error) {
	prior, err := s.watermarks.Get(ctx, sourceID, targetID)
	if err != nil {
		return nil, extraction.NewSourceUnavailableError(sourceID, err)
	}

	// Absence of a prior watermark means start of history, not an error.
	var floor extraction.Position
	if prior != nil {
		floor = prior.Position()
	}

	sess, err := source.Open(ctx)
	if err != nil {
		return nil, asSourceError(sourceID, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			s.logger.Warn(ctx, "failed to close row source session",
				"source_id", sourceID, "error", cerr)
		}
	}()

	rows, hasMore, err := sess.Poll(ctx, floor, limit)
	if err != nil {
		return nil, asSourceError(sourceID, err)
	}

	if len(rows) == 0 {
		s.logger.Debug(ctx, "no new data",
			"source_id", sourceID, "target_id", targetID, "watermark", floor.String())
		timeline.MarkCompleted()
		return &extraction.Result{
			SourceID:         sourceID,
			TargetID:         targetID,
			PreviousPosition: floor,
			NewPosition:      floor,
			NoNewData:        true,
			Timeline:         timeline,
		}, nil
	}

	for _, row := range rows {
		if err := row.Validate(); err != nil {
			return nil, extraction.NewSourceUnavailableError(sourceID, err)
		}
	}
	if err := extraction.VerifyOrdering(rows, floor); err != nil {
		return nil, err
	}

	batch, err := extraction.NewExtractedBatch(sourceID, targetID, rows)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveBatchSize(ctx, batch.RowCount())

	if _, err := sink.CommitBatch(ctx, batch); err != nil {
		return nil, asWriteError(targetID, err)
	}

	// The batch is durable; advancing the watermark completes the logical
	// transaction. A lost compare-and-set leaves the watermark behind the
	// committed rows, which a retry repairs idempotently.
	next := extraction.NewWatermark(sourceID, targetID, batch.MaxPosition())
	swapped, err := s.watermarks.CompareAndSet(ctx, prior, next)
	if err != nil {
		return nil, extraction.NewWriteCommitFailedError(targetID, err)
	}
	if !swapped {
		return nil, extraction.NewWriteCommitFailedError(targetID,
			errors.New("watermark advancement lost compare-and-set"))
	}

	s.logger.Info(ctx, "extraction run committed",
		"source_id", sourceID,
		"target_id", targetID,
		"rows", batch.RowCount(),
		"watermark", batch.MaxPosition().String(),
		"has_more", hasMore)

	timeline.MarkCompleted()
	return &extraction.Result{
		SourceID:         sourceID,
		TargetID:         targetID,
		Batch:            batch,
		PreviousPosition: floor,
		NewPosition:      batch.MaxPosition(),
		RowCount:         batch.RowCount(),
		HasMore:          hasMore,
		Timeline:         timeline,
	}, nil
}

// Watermarks returns every committed watermark for status reporting.
func (s *Service) Watermarks(ctx context.Context) ([]*extraction.Watermark, error) {
	return s.watermarks.List(ctx)
}

// ResetWatermark removes the watermark for a pair so the next run re-reads
// from the start of history. Safe because the write path is idempotent.
func (s *Service) ResetWatermark(ctx context.Context, sourceID, targetID string) error {
	if !s.acquire(sourceID, targetID) {
		return extraction.NewExtractionInProgressError(sourceID, targetID)
	}
	defer s.release(sourceID, targetID)

	s.logger.Warn(ctx, "resetting watermark", "source_id", sourceID, "target_id", targetID)
	return s.watermarks.Delete(ctx, sourceID, targetID)
}

func (s *Service) acquire(sourceID, targetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{sourceID, targetID}
	if _, held := s.inFlight[key]; held {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *Service) release(sourceID, targetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, pairKey{sourceID, targetID})
}

// asSourceError classifies collaborator failures as transient unless the
// domain already assigned a kind.
func asSourceError(sourceID string, err error) error {
	var domainErr *extraction.Error
	if errors.As(err, &domainErr) {
		return err
	}
	return extraction.NewSourceUnavailableError(sourceID, err)
}

func asWriteError(targetID string, err error) error {
	var domainErr *extraction.Error
	if errors.As(err, &domainErr) {
		return err
	}
	return extraction.NewWriteCommitFailedError(targetID, err)
}
