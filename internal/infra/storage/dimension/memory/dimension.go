// Package memory provides an in-memory dimension history repository for
// tests and single-process pipelines.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ahrav/lakehouse/internal/domain/dimension"
)

var _ dimension.Repository = (*DimensionStore)(nil)

// DimensionStore provides a thread-safe in-memory implementation of the
// dimension Repository. History per key is kept sorted by validFrom so as-of
// lookups binary-search rather than scan.
type DimensionStore struct {
	mu     sync.Mutex
	tables map[string]map[string][]*dimension.Record
}

// NewDimensionStore creates an empty in-memory dimension store.
func NewDimensionStore() *DimensionStore {
	return &DimensionStore{tables: make(map[string]map[string][]*dimension.Record)}
}

// GetCurrent returns the open, current version for a key fingerprint, nil
// when the key has no open version.
func (s *DimensionStore) GetCurrent(ctx context.Context, table, keyFingerprint string) (*dimension.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.history(table, keyFingerprint) {
		if rec.IsCurrent() {
			return copyRecord(rec), nil
		}
	}
	return nil, nil
}

// GetAsOf returns the version whose validity interval contains the instant,
// located by binary search on validFrom.
func (s *DimensionStore) GetAsOf(ctx context.Context, table, keyFingerprint string, at time.Time) (*dimension.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.history(table, keyFingerprint)
	if len(versions) == 0 {
		return nil, nil
	}

	// Index of the first version starting after the instant; the candidate
	// is its predecessor.
	idx := sort.Search(len(versions), func(i int) bool {
		return versions[i].ValidFrom().After(at)
	})
	if idx == 0 {
		return nil, nil
	}
	candidate := versions[idx-1]
	if !candidate.ContainsTime(at) {
		return nil, nil
	}
	return copyRecord(candidate), nil
}

// History returns every version for a key fingerprint ordered by version.
func (s *DimensionStore) History(ctx context.Context, table, keyFingerprint string) ([]*dimension.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.history(table, keyFingerprint)
	out := make([]*dimension.Record, len(versions))
	for i, rec := range versions {
		out[i] = copyRecord(rec)
	}
	return out, nil
}

// ListCurrentKeys returns the fingerprints of every key with an open,
// current version, in sorted order.
func (s *DimensionStore) ListCurrentKeys(ctx context.Context, table string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for fp, versions := range s.tables[table] {
		for _, rec := range versions {
			if rec.IsCurrent() {
				keys = append(keys, fp)
				break
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ApplyTransition atomically replaces the expired versions and appends the
// inserted ones. The whole transition applies under one lock acquisition; a
// failed precondition leaves the table untouched.
func (s *DimensionStore) ApplyTransition(ctx context.Context, table string, expire, insert []*dimension.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate preconditions before mutating anything.
	for _, rec := range expire {
		versions := s.history(table, rec.KeyFingerprint())
		if findVersion(versions, rec.Version()) == -1 {
			return fmt.Errorf("cannot expire missing version %d of key %s", rec.Version(), rec.KeyFingerprint())
		}
	}

	for _, rec := range expire {
		versions := s.history(table, rec.KeyFingerprint())
		versions[findVersion(versions, rec.Version())] = copyRecord(rec)
	}

	for _, rec := range insert {
		tbl, ok := s.tables[table]
		if !ok {
			tbl = make(map[string][]*dimension.Record)
			s.tables[table] = tbl
		}
		fp := rec.KeyFingerprint()
		tbl[fp] = append(tbl[fp], copyRecord(rec))
		sort.Slice(tbl[fp], func(i, j int) bool {
			return tbl[fp][i].ValidFrom().Before(tbl[fp][j].ValidFrom())
		})
	}

	return nil
}

func (s *DimensionStore) history(table, keyFingerprint string) []*dimension.Record {
	tbl, ok := s.tables[table]
	if !ok {
		return nil
	}
	return tbl[keyFingerprint]
}

func findVersion(versions []*dimension.Record, version int) int {
	for i, rec := range versions {
		if rec.Version() == version {
			return i
		}
	}
	return -1
}

func copyRecord(rec *dimension.Record) *dimension.Record {
	return dimension.ReconstructRecord(
		rec.BusinessKey(),
		rec.Version(),
		rec.Attributes(),
		rec.ValidFrom(),
		rec.ValidTo(),
		rec.IsCurrent(),
	)
}
