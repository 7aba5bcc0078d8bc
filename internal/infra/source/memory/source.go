// Package memory provides an in-memory row source backed by a scripted row
// slice. It serves the memory source type in config and the extraction
// engine's tests.
package memory

import (
	"context"
	"sync"

	"github.com/ahrav/lakehouse/internal/domain/extraction"
)

var _ extraction.RowSource = (*RowSource)(nil)

// RowSource holds an ordered script of rows. Rows may be appended between
// polls to simulate a live change stream.
type RowSource struct {
	mu   sync.Mutex
	name string
	rows []extraction.Row

	// failNext forces the next Open or Poll to fail, for transient error
	// testing.
	failNext error
}

// NewRowSource creates a row source over the given rows. The rows must
// already be in non-decreasing position order; the source replays them
// as-is, including any deliberate ordering violations a test scripts.
func NewRowSource(name string, rows []extraction.Row) *RowSource {
	return &RowSource{name: name, rows: append([]extraction.Row(nil), rows...)}
}

// Append adds rows to the end of the script.
func (s *RowSource) Append(rows ...extraction.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
}

// FailNext makes the next Open or Poll return the given error once.
func (s *RowSource) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Open establishes a session over the current script.
func (s *RowSource) Open(ctx context.Context) (extraction.RowSourceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return nil, err
	}
	return &session{src: s}, nil
}

type session struct {
	src    *RowSource
	closed bool
}

// Poll returns up to limit rows with positions strictly greater than after,
// plus a flag indicating whether more remain.
func (s *session) Poll(ctx context.Context, after extraction.Position, limit int) ([]extraction.Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.src.mu.Lock()
	defer s.src.mu.Unlock()

	if s.src.failNext != nil {
		err := s.src.failNext
		s.src.failNext = nil
		return nil, false, err
	}

	var out []extraction.Row
	remaining := false
	for _, row := range s.src.rows {
		keep, err := row.Position.After(after)
		if err != nil {
			return nil, false, err
		}
		if !keep {
			continue
		}
		if limit > 0 && len(out) == limit {
			remaining = true
			break
		}
		out = append(out, row)
	}
	return out, remaining, nil
}

// Close releases the session.
func (s *session) Close() error {
	s.closed = true
	return nil
}
