// Package postgres provides a PostgreSQL-backed dimension history repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/lakehouse/internal/db"
	"github.com/ahrav/lakehouse/internal/domain/dimension"
	"github.com/ahrav/lakehouse/internal/infra/storage"
)

var defaultDBAttributes = []attribute.KeyValue{attribute.String("db.system", "postgresql")}

var _ dimension.Repository = (*dimensionStore)(nil)

// dimensionStore provides a PostgreSQL implementation of the dimension
// Repository. Version transitions run in one transaction; the as-of query
// resolves through the (table, key, valid_from) index.
type dimensionStore struct {
	pool   *pgxpool.Pool
	q      *db.Queries
	tracer trace.Tracer
}

// NewDimensionStore creates a new PostgreSQL-backed dimension storage using
// the provided database connection.
func NewDimensionStore(dbConn *pgxpool.Pool, tracer trace.Tracer) *dimensionStore {
	return &dimensionStore{pool: dbConn, q: db.New(dbConn), tracer: tracer}
}

// GetCurrent returns the open, current version for a key fingerprint, nil
// when the key has no open version.
func (s *dimensionStore) GetCurrent(ctx context.Context, table, keyFingerprint string) (*dimension.Record, error) {
	var rec *dimension.Record
	dbAttrs := append(defaultDBAttributes, attribute.String("table", table))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_current_version", dbAttrs, func(ctx context.Context) error {
		row, err := s.q.GetCurrentDimensionRecord(ctx, db.GetCurrentDimensionRecordParams{
			TableName:      table,
			KeyFingerprint: keyFingerprint,
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to get current version: %w", err)
		}
		rec, err = fromDBDimensionRecord(row)
		return err
	})
	return rec, err
}

// GetAsOf returns the version whose validity interval contains the instant.
func (s *dimensionStore) GetAsOf(ctx context.Context, table, keyFingerprint string, at time.Time) (*dimension.Record, error) {
	var rec *dimension.Record
	dbAttrs := append(defaultDBAttributes, attribute.String("table", table))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_version_as_of", dbAttrs, func(ctx context.Context) error {
		row, err := s.q.GetDimensionRecordAsOf(ctx, db.GetDimensionRecordAsOfParams{
			TableName:      table,
			KeyFingerprint: keyFingerprint,
			ValidFrom:      pgtype.Timestamptz{Time: at, Valid: true},
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to get version as of %s: %w", at, err)
		}
		rec, err = fromDBDimensionRecord(row)
		return err
	})
	return rec, err
}

// History returns every version for a key fingerprint ordered by version.
func (s *dimensionStore) History(ctx context.Context, table, keyFingerprint string) ([]*dimension.Record, error) {
	var records []*dimension.Record
	dbAttrs := append(defaultDBAttributes, attribute.String("table", table))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_version_history", dbAttrs, func(ctx context.Context) error {
		rows, err := s.q.ListDimensionHistory(ctx, db.ListDimensionHistoryParams{
			TableName:      table,
			KeyFingerprint: keyFingerprint,
		})
		if err != nil {
			return fmt.Errorf("failed to list version history: %w", err)
		}

		records = make([]*dimension.Record, 0, len(rows))
		for _, row := range rows {
			rec, err := fromDBDimensionRecord(row)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// ListCurrentKeys returns the fingerprints of every key with an open,
// current version.
func (s *dimensionStore) ListCurrentKeys(ctx context.Context, table string) ([]string, error) {
	var keys []string
	dbAttrs := append(defaultDBAttributes, attribute.String("table", table))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_current_keys", dbAttrs, func(ctx context.Context) error {
		var err error
		keys, err = s.q.ListCurrentDimensionKeys(ctx, table)
		if err != nil {
			return fmt.Errorf("failed to list current keys: %w", err)
		}
		return nil
	})
	return keys, err
}

// ApplyTransition atomically expires the given versions and inserts their
// replacements in one transaction. Expiring a version that is no longer
// current aborts the whole transition.
func (s *dimensionStore) ApplyTransition(ctx context.Context, table string, expire, insert []*dimension.Record) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("table", table),
		attribute.Int("expire_count", len(expire)),
		attribute.Int("insert_count", len(insert)),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.apply_version_transition", dbAttrs, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			qtx := s.q.WithTx(tx)

			for _, rec := range expire {
				affected, err := qtx.ExpireDimensionRecord(ctx, db.ExpireDimensionRecordParams{
					TableName:      table,
					KeyFingerprint: rec.KeyFingerprint(),
					Version:        int32(rec.Version()),
					ValidTo:        pgtype.Timestamptz{Time: rec.ValidTo(), Valid: true},
				})
				if err != nil {
					return fmt.Errorf("failed to expire version: %w", err)
				}
				if affected != 1 {
					return fmt.Errorf("version %d of key %s is no longer current", rec.Version(), rec.KeyFingerprint())
				}
			}

			for _, rec := range insert {
				params, err := toInsertParams(table, rec)
				if err != nil {
					return err
				}
				if err := qtx.InsertDimensionRecord(ctx, params); err != nil {
					return fmt.Errorf("failed to insert version: %w", err)
				}
			}
			return nil
		})
	})
}

func toInsertParams(table string, rec *dimension.Record) (db.InsertDimensionRecordParams, error) {
	businessKey, err := json.Marshal(rec.BusinessKey())
	if err != nil {
		return db.InsertDimensionRecordParams{}, fmt.Errorf("failed to marshal business key: %w", err)
	}

	var attributes []byte
	if len(rec.Attributes()) > 0 {
		if attributes, err = json.Marshal(rec.Attributes()); err != nil {
			return db.InsertDimensionRecordParams{}, fmt.Errorf("failed to marshal attributes: %w", err)
		}
	}

	return db.InsertDimensionRecordParams{
		TableName:      table,
		KeyFingerprint: rec.KeyFingerprint(),
		BusinessKey:    businessKey,
		Version:        int32(rec.Version()),
		Attributes:     attributes,
		ValidFrom:      pgtype.Timestamptz{Time: rec.ValidFrom(), Valid: true},
		ValidTo:        pgtype.Timestamptz{Time: rec.ValidTo(), Valid: !rec.IsOpen()},
		IsCurrent:      rec.IsCurrent(),
	}, nil
}

func fromDBDimensionRecord(row db.DimensionRecord) (*dimension.Record, error) {
	var businessKey map[string]string
	if err := json.Unmarshal(row.BusinessKey, &businessKey); err != nil {
		return nil, fmt.Errorf("failed to unmarshal business key: %w", err)
	}

	var attributes map[string]any
	if len(row.Attributes) > 0 {
		if err := json.Unmarshal(row.Attributes, &attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
		}
	}

	var validTo time.Time
	if row.ValidTo.Valid {
		validTo = row.ValidTo.Time
	}

	return dimension.ReconstructRecord(
		businessKey,
		int(row.Version),
		attributes,
		row.ValidFrom.Time,
		validTo,
		row.IsCurrent,
	), nil
}
