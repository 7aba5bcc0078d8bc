// Package extraction provides domain types and interfaces for incremental
// change extraction. It defines the core abstractions for pulling only
// new or changed rows out of a source across repeated runs: totally ordered
// change positions, durable watermarks, extracted batches, and the ports the
// extraction engine depends on. The package enables loss-free, duplicate-free
// ingestion by pairing strict position ordering with atomic watermark
// advancement.
package extraction

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// PositionKind identifies how a change position is ordered. Positions of
// different kinds are never comparable; each source commits to one kind for
// its entire change stream.
type PositionKind string

const (
	// PositionKindSequence orders positions by a monotonic integer such as a
	// log sequence number or Kafka offset.
	PositionKindSequence PositionKind = "sequence"
	// PositionKindTimestamp orders positions by a source-side modification time.
	PositionKindTimestamp PositionKind = "timestamp"
	// PositionKindKey orders positions lexicographically by a primary-key cursor.
	PositionKindKey PositionKind = "key"
)

// Position is a value object identifying a row's place in a source's change
// stream. It is opaque to callers apart from comparison: positions from the
// same source form a total order, positions from different sources (or of
// different kinds) must never be compared.
type Position struct {
	kind PositionKind
	seq  int64
	ts   time.Time
	key  string
}

// NewSequencePosition creates a sequence-ordered position.
func NewSequencePosition(seq int64) Position {
	return Position{kind: PositionKindSequence, seq: seq}
}

// NewTimestampPosition creates a timestamp-ordered position.
func NewTimestampPosition(ts time.Time) Position {
	return Position{kind: PositionKindTimestamp, ts: ts.UTC()}
}

// NewKeyPosition creates a key-cursor position ordered lexicographically.
func NewKeyPosition(key string) Position {
	return Position{kind: PositionKindKey, key: key}
}

// Kind returns the ordering kind of the position.
func (p Position) Kind() PositionKind { return p.kind }

// IsZero reports whether the position is the zero value, which sorts before
// every real position and stands for "start of history".
func (p Position) IsZero() bool { return p.kind == "" }

// Sequence returns the sequence value for sequence-kind positions.
func (p Position) Sequence() int64 { return p.seq }

// Timestamp returns the time value for timestamp-kind positions.
func (p Position) Timestamp() time.Time { return p.ts }

// Key returns the cursor value for key-kind positions.
func (p Position) Key() string { return p.key }

// Compare orders p against other, returning -1, 0, or +1. The zero position
// compares before every non-zero position. Comparing positions of different
// non-zero kinds is a contract violation and returns an error.
func (p Position) Compare(other Position) (int, error) {
	switch {
	case p.IsZero() && other.IsZero():
		return 0, nil
	case p.IsZero():
		return -1, nil
	case other.IsZero():
		return 1, nil
	}

	if p.kind != other.kind {
		return 0, fmt.Errorf("cannot compare %s position against %s position", p.kind, other.kind)
	}

	switch p.kind {
	case PositionKindSequence:
		switch {
		case p.seq < other.seq:
			return -1, nil
		case p.seq > other.seq:
			return 1, nil
		}
		return 0, nil
	case PositionKindTimestamp:
		switch {
		case p.ts.Before(other.ts):
			return -1, nil
		case p.ts.After(other.ts):
			return 1, nil
		}
		return 0, nil
	case PositionKindKey:
		switch {
		case p.key < other.key:
			return -1, nil
		case p.key > other.key:
			return 1, nil
		}
		return 0, nil
	}

	return 0, fmt.Errorf("unknown position kind: %s", p.kind)
}

// After reports whether p is strictly greater than other.
func (p Position) After(other Position) (bool, error) {
	cmp, err := p.Compare(other)
	if err != nil {
		return false, err
	}
	return cmp > 0, nil
}

// String renders the position for logs and error messages.
func (p Position) String() string {
	switch p.kind {
	case PositionKindSequence:
		return fmt.Sprintf("seq:%d", p.seq)
	case PositionKindTimestamp:
		return "ts:" + p.ts.Format(time.RFC3339Nano)
	case PositionKindKey:
		return "key:" + p.key
	}
	return "<start>"
}

// MarshalJSON serializes the Position into a JSON byte array.
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		Kind  PositionKind `json:"kind"`
		Value string       `json:"value"`
	}{
		Kind:  p.kind,
		Value: p.encodeValue(),
	})
}

// UnmarshalJSON deserializes JSON data into a Position.
func (p *Position) UnmarshalJSON(data []byte) error {
	aux := &struct {
		Kind  PositionKind `json:"kind"`
		Value string       `json:"value"`
	}{}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	pos, err := DecodePosition(aux.Kind, aux.Value)
	if err != nil {
		return err
	}
	*p = pos

	return nil
}

func (p Position) encodeValue() string {
	switch p.kind {
	case PositionKindSequence:
		return strconv.FormatInt(p.seq, 10)
	case PositionKindTimestamp:
		return p.ts.Format(time.RFC3339Nano)
	case PositionKindKey:
		return p.key
	}
	return ""
}

// DecodePosition reconstructs a Position from its persisted kind and value.
// This is the inverse of the encoding used by MarshalJSON and the watermark
// store.
func DecodePosition(kind PositionKind, value string) (Position, error) {
	switch kind {
	case "":
		return Position{}, nil
	case PositionKindSequence:
		seq, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return Position{}, fmt.Errorf("invalid sequence position %q: %w", value, err)
		}
		return NewSequencePosition(seq), nil
	case PositionKindTimestamp:
		ts, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return Position{}, fmt.Errorf("invalid timestamp position %q: %w", value, err)
		}
		return NewTimestampPosition(ts), nil
	case PositionKindKey:
		return NewKeyPosition(value), nil
	}
	return Position{}, fmt.Errorf("unknown position kind: %s", kind)
}

// EncodePosition returns the persisted (kind, value) pair for a Position.
func EncodePosition(p Position) (PositionKind, string) {
	return p.kind, p.encodeValue()
}
