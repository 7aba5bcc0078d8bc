package extraction

import (
	"errors"
	"fmt"
)

// ErrorKind identifies specific types of errors that can occur during
// extraction. This enables callers to decide retryability without string
// matching: a retry with unchanged state is always safe because the watermark
// never advances on failure.
type ErrorKind int

const (
	// ErrKindSourceUnavailable indicates a transient source failure. The
	// watermark is unchanged, so the caller may retry the same run safely.
	ErrKindSourceUnavailable ErrorKind = iota

	// ErrKindOrderingViolation indicates the source broke its monotonic
	// ordering guarantee. Fatal; requires operator intervention.
	ErrKindOrderingViolation

	// ErrKindWriteCommitFailed indicates the batch write did not commit.
	// Retryable: replaying the batch is idempotent at the table store via
	// (business key, position) dedup.
	ErrKindWriteCommitFailed

	// ErrKindExtractionInProgress indicates a concurrent run was attempted
	// for the same (source, target) pair. Caller error.
	ErrKindExtractionInProgress
)

// Error represents a domain-specific extraction failure. It carries the
// error kind, the (source, target) pair, and the underlying cause when one
// exists.
type Error struct {
	msg      string
	kind     ErrorKind
	sourceID string
	targetID string
	cause    error
}

// Error returns the error message. This implements the error interface.
func (e *Error) Error() string { return e.msg }

// Kind returns the classification of the error.
func (e *Error) Kind() ErrorKind { return e.kind }

// SourceID returns the source involved in the failed run, if known.
func (e *Error) SourceID() string { return e.sourceID }

// TargetID returns the target involved in the failed run, if known.
func (e *Error) TargetID() string { return e.targetID }

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Is enables error matching by comparing error kinds.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.kind == t.kind
}

// NewSourceUnavailableError creates a transient error for a source that could
// not be reached or timed out.
func NewSourceUnavailableError(sourceID string, cause error) error {
	return &Error{
		msg:      fmt.Sprintf("source %s unavailable: %v", sourceID, cause),
		kind:     ErrKindSourceUnavailable,
		sourceID: sourceID,
		cause:    cause,
	}
}

// NewOrderingViolationError creates a fatal error for a source that yielded a
// position below the last emitted position within the same run.
func NewOrderingViolationError(prev, got Position, detail string) error {
	return &Error{
		msg:  fmt.Sprintf("ordering violation: position %s after %s (%s)", got, prev, detail),
		kind: ErrKindOrderingViolation,
	}
}

// NewWriteCommitFailedError creates an error for a batch write that did not
// commit. The watermark has not advanced, so the batch can be replayed.
func NewWriteCommitFailedError(targetID string, cause error) error {
	return &Error{
		msg:      fmt.Sprintf("write to %s did not commit: %v", targetID, cause),
		kind:     ErrKindWriteCommitFailed,
		targetID: targetID,
		cause:    cause,
	}
}

// NewExtractionInProgressError creates an error for a second run attempted on
// a (source, target) pair that already has a run in flight.
func NewExtractionInProgressError(sourceID, targetID string) error {
	return &Error{
		msg:      fmt.Sprintf("extraction already in progress for %s -> %s", sourceID, targetID),
		kind:     ErrKindExtractionInProgress,
		sourceID: sourceID,
		targetID: targetID,
	}
}

// IsRetryable reports whether an extraction error is safe to retry with
// unchanged state. Ordering violations and concurrent-run errors are not.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.kind == ErrKindSourceUnavailable || e.kind == ErrKindWriteCommitFailed
}
