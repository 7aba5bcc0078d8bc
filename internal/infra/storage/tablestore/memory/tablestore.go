// Package memory provides an in-memory versioned table store for tests and
// single-process pipelines.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/lakehouse/internal/domain/extraction"
	"github.com/ahrav/lakehouse/internal/domain/lakehouse"
)

var _ lakehouse.VersionedTableStore = (*TableStore)(nil)

// TableStore provides a thread-safe in-memory implementation of
// VersionedTableStore. Appends are atomic under the store mutex and
// idempotent on the (key fingerprint, position) pair, matching the unique
// index the Postgres implementation relies on.
type TableStore struct {
	mu     sync.Mutex
	tables map[string]*table
}

type table struct {
	rows []storedRecord
	seen map[rowIdentity]struct{}
}

type storedRecord struct {
	rec lakehouse.Record
	seq int
}

type rowIdentity struct {
	fingerprint   string
	positionKind  extraction.PositionKind
	positionValue string
}

// NewTableStore creates an empty in-memory table store.
func NewTableStore() *TableStore {
	return &TableStore{tables: make(map[string]*table)}
}

// Append writes records in one atomic step, skipping any whose identity the
// table has already stored, and returns the commit ID.
func (s *TableStore) Append(ctx context.Context, tableName string, records []lakehouse.Record) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tbl, ok := s.tables[tableName]
	if !ok {
		tbl = &table{seen: make(map[rowIdentity]struct{})}
		s.tables[tableName] = tbl
	}

	for _, rec := range records {
		id := identityOf(rec)
		if _, dup := tbl.seen[id]; dup {
			continue
		}
		tbl.seen[id] = struct{}{}
		tbl.rows = append(tbl.rows, storedRecord{rec: rec, seq: len(tbl.rows)})
	}

	return uuid.New(), nil
}

// ReadCurrent returns the latest record for a key fingerprint, nil when the
// key has never been written.
func (s *TableStore) ReadCurrent(ctx context.Context, tableName, keyFingerprint string) (*lakehouse.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *storedRecord
	if tbl, ok := s.tables[tableName]; ok {
		for i := range tbl.rows {
			sr := &tbl.rows[i]
			if sr.rec.KeyFingerprint != keyFingerprint {
				continue
			}
			if latest == nil || newer(sr, latest) {
				latest = sr
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	rec := latest.rec
	return &rec, nil
}

// ReadAsOf returns the latest record for a key fingerprint ingested at or
// before the given instant, nil when none.
func (s *TableStore) ReadAsOf(ctx context.Context, tableName, keyFingerprint string, at time.Time) (*lakehouse.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *storedRecord
	if tbl, ok := s.tables[tableName]; ok {
		for i := range tbl.rows {
			sr := &tbl.rows[i]
			if sr.rec.KeyFingerprint != keyFingerprint || sr.rec.IngestedAt.After(at) {
				continue
			}
			if latest == nil || newer(sr, latest) {
				latest = sr
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	rec := latest.rec
	return &rec, nil
}

// Snapshot returns a copy of every record in the table ordered by ingestion
// time then append order.
func (s *TableStore) Snapshot(ctx context.Context, tableName string) ([]lakehouse.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tbl, ok := s.tables[tableName]
	if !ok {
		return nil, nil
	}

	out := make([]storedRecord, len(tbl.rows))
	copy(out, tbl.rows)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].rec.IngestedAt.Equal(out[j].rec.IngestedAt) {
			return out[i].rec.IngestedAt.Before(out[j].rec.IngestedAt)
		}
		return out[i].seq < out[j].seq
	})

	records := make([]lakehouse.Record, len(out))
	for i, sr := range out {
		records[i] = sr.rec
	}
	return records, nil
}

func identityOf(rec lakehouse.Record) rowIdentity {
	kind, value := extraction.EncodePosition(rec.Position)
	return rowIdentity{fingerprint: rec.KeyFingerprint, positionKind: kind, positionValue: value}
}

func newer(a, b *storedRecord) bool {
	if !a.rec.IngestedAt.Equal(b.rec.IngestedAt) {
		return a.rec.IngestedAt.After(b.rec.IngestedAt)
	}
	return a.seq > b.seq
}
