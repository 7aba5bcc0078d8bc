// Package postgres provides a PostgreSQL-backed watermark repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/lakehouse/internal/db"
	"github.com/ahrav/lakehouse/internal/domain/extraction"
	"github.com/ahrav/lakehouse/internal/infra/storage"
)

var defaultDBAttributes = []attribute.KeyValue{attribute.String("db.system", "postgresql")}

var _ extraction.WatermarkRepository = (*watermarkStore)(nil)

// watermarkStore provides a PostgreSQL implementation of WatermarkRepository.
// Compare-and-set is implemented as a conditional UPDATE on the stored
// position, so two racing runs can never both advance the same watermark.
type watermarkStore struct {
	q      *db.Queries
	tracer trace.Tracer
}

// NewWatermarkStore creates a new PostgreSQL-backed watermark storage using
// the provided database connection.
func NewWatermarkStore(dbConn *pgxpool.Pool, tracer trace.Tracer) *watermarkStore {
	return &watermarkStore{q: db.New(dbConn), tracer: tracer}
}

// Get retrieves the watermark for a (source, target) pair. Returns nil if no
// extraction has ever succeeded for the pair.
func (s *watermarkStore) Get(ctx context.Context, sourceID, targetID string) (*extraction.Watermark, error) {
	var wm *extraction.Watermark
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("source_id", sourceID),
		attribute.String("target_id", targetID),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_watermark", dbAttrs, func(ctx context.Context) error {
		row, err := s.q.GetWatermark(ctx, db.GetWatermarkParams{SourceID: sourceID, TargetID: targetID})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to get watermark: %w", err)
		}

		wm, err = fromDBWatermark(row)
		return err
	})
	return wm, err
}

// CompareAndSet replaces the pair's watermark with next if and only if the
// stored value still equals expected. A nil expected means "no watermark
// exists yet" and maps to a conflict-free insert.
func (s *watermarkStore) CompareAndSet(ctx context.Context, expected, next *extraction.Watermark) (bool, error) {
	var swapped bool
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("source_id", next.SourceID()),
		attribute.String("target_id", next.TargetID()),
		attribute.String("position", next.Position().String()),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.cas_watermark", dbAttrs, func(ctx context.Context) error {
		kind, value := extraction.EncodePosition(next.Position())
		committedAt := pgtype.Timestamptz{Time: next.CommittedAt(), Valid: true}

		if expected == nil {
			affected, err := s.q.CreateWatermark(ctx, db.CreateWatermarkParams{
				SourceID:      next.SourceID(),
				TargetID:      next.TargetID(),
				PositionKind:  string(kind),
				PositionValue: value,
				CommittedAt:   committedAt,
			})
			if err != nil {
				return fmt.Errorf("failed to create watermark: %w", err)
			}
			swapped = affected == 1
			return nil
		}

		expKind, expValue := extraction.EncodePosition(expected.Position())
		affected, err := s.q.AdvanceWatermark(ctx, db.AdvanceWatermarkParams{
			SourceID:              next.SourceID(),
			TargetID:              next.TargetID(),
			PositionKind:          string(kind),
			PositionValue:         value,
			CommittedAt:           committedAt,
			ExpectedPositionKind:  string(expKind),
			ExpectedPositionValue: expValue,
		})
		if err != nil {
			return fmt.Errorf("failed to advance watermark: %w", err)
		}
		swapped = affected == 1
		return nil
	})
	return swapped, err
}

// List returns all known watermarks ordered by (source, target).
func (s *watermarkStore) List(ctx context.Context) ([]*extraction.Watermark, error) {
	var watermarks []*extraction.Watermark
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_watermarks", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := s.q.ListWatermarks(ctx)
		if err != nil {
			return fmt.Errorf("failed to list watermarks: %w", err)
		}

		watermarks = make([]*extraction.Watermark, 0, len(rows))
		for _, row := range rows {
			wm, err := fromDBWatermark(row)
			if err != nil {
				return err
			}
			watermarks = append(watermarks, wm)
		}
		return nil
	})
	return watermarks, err
}

// Delete removes the watermark for a pair. It is not an error if none exists.
func (s *watermarkStore) Delete(ctx context.Context, sourceID, targetID string) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("source_id", sourceID),
		attribute.String("target_id", targetID),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.delete_watermark", dbAttrs, func(ctx context.Context) error {
		if err := s.q.DeleteWatermark(ctx, db.DeleteWatermarkParams{SourceID: sourceID, TargetID: targetID}); err != nil {
			return fmt.Errorf("failed to delete watermark: %w", err)
		}
		return nil
	})
}

func fromDBWatermark(row db.Watermark) (*extraction.Watermark, error) {
	pos, err := extraction.DecodePosition(extraction.PositionKind(row.PositionKind), row.PositionValue)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored position: %w", err)
	}
	return extraction.ReconstructWatermark(row.SourceID, row.TargetID, pos, row.CommittedAt.Time), nil
}
