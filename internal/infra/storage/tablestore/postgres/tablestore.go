// Package postgres provides a PostgreSQL-backed versioned table store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/lakehouse/internal/db"
	"github.com/ahrav/lakehouse/internal/domain/extraction"
	"github.com/ahrav/lakehouse/internal/domain/lakehouse"
	"github.com/ahrav/lakehouse/internal/infra/storage"
)

var defaultDBAttributes = []attribute.KeyValue{attribute.String("db.system", "postgresql")}

var _ lakehouse.VersionedTableStore = (*tableStore)(nil)

// tableStore provides a PostgreSQL implementation of VersionedTableStore.
// Appends run in one transaction so a batch commits all-or-nothing, and the
// unique index on (table, key fingerprint, position) makes replays no-ops.
type tableStore struct {
	pool   *pgxpool.Pool
	q      *db.Queries
	tracer trace.Tracer
}

// NewTableStore creates a new PostgreSQL-backed table store using the
// provided database connection.
func NewTableStore(dbConn *pgxpool.Pool, tracer trace.Tracer) *tableStore {
	return &tableStore{pool: dbConn, q: db.New(dbConn), tracer: tracer}
}

// Append durably writes records to a table in one all-or-nothing commit.
func (s *tableStore) Append(ctx context.Context, table string, records []lakehouse.Record) (uuid.UUID, error) {
	commitID := uuid.New()
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("table", table),
		attribute.Int("record_count", len(records)),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.append_records", dbAttrs, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			qtx := s.q.WithTx(tx)
			for _, rec := range records {
				params, err := toInsertParams(table, rec)
				if err != nil {
					return err
				}
				if _, err := qtx.InsertLakeRecord(ctx, params); err != nil {
					return fmt.Errorf("failed to insert record: %w", err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return uuid.Nil, err
	}
	return commitID, nil
}

// ReadCurrent returns the latest record for a key fingerprint, nil when the
// key has never been written.
func (s *tableStore) ReadCurrent(ctx context.Context, table, keyFingerprint string) (*lakehouse.Record, error) {
	var rec *lakehouse.Record
	dbAttrs := append(defaultDBAttributes, attribute.String("table", table))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.read_current_record", dbAttrs, func(ctx context.Context) error {
		row, err := s.q.GetCurrentLakeRecord(ctx, db.GetCurrentLakeRecordParams{
			TableName:      table,
			KeyFingerprint: keyFingerprint,
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to read current record: %w", err)
		}
		rec, err = fromDBRecord(row)
		return err
	})
	return rec, err
}

// ReadAsOf returns the latest record for a key fingerprint ingested at or
// before the given instant, nil when none.
func (s *tableStore) ReadAsOf(ctx context.Context, table, keyFingerprint string, at time.Time) (*lakehouse.Record, error) {
	var rec *lakehouse.Record
	dbAttrs := append(defaultDBAttributes, attribute.String("table", table))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.read_record_as_of", dbAttrs, func(ctx context.Context) error {
		row, err := s.q.GetLakeRecordAsOf(ctx, db.GetLakeRecordAsOfParams{
			TableName:      table,
			KeyFingerprint: keyFingerprint,
			IngestedAt:     pgtype.Timestamptz{Time: at, Valid: true},
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to read record as of %s: %w", at, err)
		}
		rec, err = fromDBRecord(row)
		return err
	})
	return rec, err
}

// Snapshot returns every record in the table ordered by ingestion time.
func (s *tableStore) Snapshot(ctx context.Context, table string) ([]lakehouse.Record, error) {
	var records []lakehouse.Record
	dbAttrs := append(defaultDBAttributes, attribute.String("table", table))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.snapshot_table", dbAttrs, func(ctx context.Context) error {
		rows, err := s.q.SnapshotLakeRecords(ctx, table)
		if err != nil {
			return fmt.Errorf("failed to snapshot table: %w", err)
		}

		records = make([]lakehouse.Record, 0, len(rows))
		for _, row := range rows {
			rec, err := fromDBRecord(row)
			if err != nil {
				return err
			}
			records = append(records, *rec)
		}
		return nil
	})
	return records, err
}

func toInsertParams(table string, rec lakehouse.Record) (db.InsertLakeRecordParams, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return db.InsertLakeRecordParams{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	var businessKey []byte
	if len(rec.BusinessKey) > 0 {
		if businessKey, err = json.Marshal(rec.BusinessKey); err != nil {
			return db.InsertLakeRecordParams{}, fmt.Errorf("failed to marshal business key: %w", err)
		}
	}

	kind, value := extraction.EncodePosition(rec.Position)

	return db.InsertLakeRecordParams{
		TableName:        table,
		KeyFingerprint:   rec.KeyFingerprint,
		BusinessKey:      businessKey,
		Payload:          payload,
		ChangeKind:       pgtype.Text{String: string(rec.ChangeKind), Valid: rec.ChangeKind != ""},
		PositionKind:     string(kind),
		PositionValue:    value,
		SourceID:         rec.SourceID,
		BatchID:          pgtype.UUID{Bytes: rec.BatchID, Valid: true},
		IngestedAt:       pgtype.Timestamptz{Time: rec.IngestedAt, Valid: true},
		QualityFlag:      string(rec.QualityFlag),
		QuarantineReason: pgtype.Text{String: rec.QuarantineReason, Valid: rec.QuarantineReason != ""},
	}, nil
}

func fromDBRecord(row db.LakeRecord) (*lakehouse.Record, error) {
	var payload lakehouse.Payload
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	var businessKey map[string]string
	if len(row.BusinessKey) > 0 {
		if err := json.Unmarshal(row.BusinessKey, &businessKey); err != nil {
			return nil, fmt.Errorf("failed to unmarshal business key: %w", err)
		}
	}

	pos, err := extraction.DecodePosition(extraction.PositionKind(row.PositionKind), row.PositionValue)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored position: %w", err)
	}

	return &lakehouse.Record{
		KeyFingerprint:   row.KeyFingerprint,
		BusinessKey:      businessKey,
		Payload:          payload,
		ChangeKind:       extraction.ChangeKind(row.ChangeKind.String),
		Position:         pos,
		SourceID:         row.SourceID,
		BatchID:          uuid.UUID(row.BatchID.Bytes),
		IngestedAt:       row.IngestedAt.Time,
		QualityFlag:      lakehouse.QualityFlag(row.QualityFlag),
		QuarantineReason: row.QuarantineReason.String,
	}, nil
}
