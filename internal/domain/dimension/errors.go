package dimension

import (
	"fmt"
	"time"
)

// ErrorKind identifies specific types of errors raised by the versioning
// engine. All are caller or data errors raised before any mutation; a failed
// apply leaves the table untouched.
type ErrorKind int

const (
	// ErrKindInvalidSnapshotTime indicates a snapshot time at or before the
	// validFrom of the record it would expire. Rejected to prevent
	// zero-length validity intervals.
	ErrKindInvalidSnapshotTime ErrorKind = iota

	// ErrKindUnexpectedDeletion indicates a business key vanished from a
	// snapshot while the table's delete-detection policy treats deletions
	// as anomalous.
	ErrKindUnexpectedDeletion

	// ErrKindTimelineCorrupted indicates stored history that violates the
	// timeline invariant. Requires operator repair.
	ErrKindTimelineCorrupted
)

// Error represents a domain-specific versioning failure.
type Error struct {
	msg  string
	kind ErrorKind
	key  string
}

// Error returns the error message. This implements the error interface.
func (e *Error) Error() string { return e.msg }

// Kind returns the classification of the error.
func (e *Error) Kind() ErrorKind { return e.kind }

// KeyFingerprint returns the business key involved, if known.
func (e *Error) KeyFingerprint() string { return e.key }

// Is enables error matching by comparing error kinds.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.kind == t.kind
}

// NewInvalidSnapshotTimeError creates an error for a snapshot time that does
// not strictly follow the validFrom of the current record.
func NewInvalidSnapshotTimeError(key string, validFrom, snapshotTime time.Time) error {
	return &Error{
		msg: fmt.Sprintf("snapshot time %s must be strictly after valid_from %s for key %s",
			snapshotTime.Format(time.RFC3339Nano), validFrom.Format(time.RFC3339Nano), key),
		kind: ErrKindInvalidSnapshotTime,
		key:  key,
	}
}

// NewUnexpectedDeletionError creates an error for a key missing from a
// snapshot on a table where deletions are anomalous.
func NewUnexpectedDeletionError(key string) error {
	return &Error{
		msg:  fmt.Sprintf("business key %s absent from snapshot but deletions are not permitted for this table", key),
		kind: ErrKindUnexpectedDeletion,
		key:  key,
	}
}

// NewTimelineCorruptedError creates an error for stored history violating
// the timeline invariant.
func NewTimelineCorruptedError(key, detail string) error {
	return &Error{
		msg:  fmt.Sprintf("version timeline for key %s is corrupted: %s", key, detail),
		kind: ErrKindTimelineCorrupted,
		key:  key,
	}
}
