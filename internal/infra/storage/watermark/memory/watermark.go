// Package memory provides an in-memory watermark repository for tests and
// single-process pipelines.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ahrav/lakehouse/internal/domain/extraction"
)

var _ extraction.WatermarkRepository = (*WatermarkStore)(nil)

// WatermarkStore provides a thread-safe in-memory implementation of
// WatermarkRepository. Compare-and-set runs under the store mutex, giving it
// the same atomicity the Postgres implementation gets from a conditional
// UPDATE.
type WatermarkStore struct {
	mu         sync.Mutex
	watermarks map[pairKey]*extraction.Watermark
}

type pairKey struct{ sourceID, targetID string }

// NewWatermarkStore creates an empty in-memory watermark store.
func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{watermarks: make(map[pairKey]*extraction.Watermark)}
}

// Get retrieves the watermark for a (source, target) pair, nil when absent.
func (s *WatermarkStore) Get(ctx context.Context, sourceID, targetID string) (*extraction.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wm, ok := s.watermarks[pairKey{sourceID, targetID}]
	if !ok {
		return nil, nil
	}
	return copyWatermark(wm), nil
}

// CompareAndSet replaces the pair's watermark with next when the stored value
// still matches expected (nil expected means the pair must be absent).
func (s *WatermarkStore) CompareAndSet(ctx context.Context, expected, next *extraction.Watermark) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{next.SourceID(), next.TargetID()}
	stored, exists := s.watermarks[key]

	if expected == nil {
		if exists {
			return false, nil
		}
		s.watermarks[key] = copyWatermark(next)
		return true, nil
	}

	if !exists {
		return false, nil
	}
	cmp, err := stored.Position().Compare(expected.Position())
	if err != nil || cmp != 0 {
		return false, err
	}

	s.watermarks[key] = copyWatermark(next)
	return true, nil
}

// List returns all known watermarks ordered by (source, target).
func (s *WatermarkStore) List(ctx context.Context) ([]*extraction.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*extraction.Watermark, 0, len(s.watermarks))
	for _, wm := range s.watermarks {
		out = append(out, copyWatermark(wm))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID() != out[j].SourceID() {
			return out[i].SourceID() < out[j].SourceID()
		}
		return out[i].TargetID() < out[j].TargetID()
	})
	return out, nil
}

// Delete removes the watermark for a pair. It is not an error if none exists.
func (s *WatermarkStore) Delete(ctx context.Context, sourceID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.watermarks, pairKey{sourceID, targetID})
	return nil
}

func copyWatermark(wm *extraction.Watermark) *extraction.Watermark {
	return extraction.ReconstructWatermark(wm.SourceID(), wm.TargetID(), wm.Position(), wm.CommittedAt())
}
