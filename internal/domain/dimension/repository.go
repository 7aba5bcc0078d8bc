package dimension

import (
	"context"
	"time"
)

// Repository provides persistent storage for dimension version history.
// Implementations index history on (key fingerprint, validFrom) so as-of
// lookups avoid full scans, and commit ApplyTransition atomically.
type Repository interface {
	// GetCurrent returns the open, current version for a key fingerprint,
	// nil if the key has no open version (never seen or tombstoned).
	GetCurrent(ctx context.Context, table, keyFingerprint string) (*Record, error)

	// GetAsOf returns the version whose validity interval contains the
	// given instant, nil when the entity did not exist at that time.
	GetAsOf(ctx context.Context, table, keyFingerprint string, at time.Time) (*Record, error)

	// History returns every version for a key fingerprint ordered by
	// version number, empty when the key was never seen.
	History(ctx context.Context, table, keyFingerprint string) ([]*Record, error)

	// ListCurrentKeys returns the fingerprints of every key with an open,
	// current version. Used by delete detection against the current record
	// set.
	ListCurrentKeys(ctx context.Context, table string) ([]string, error)

	// ApplyTransition atomically replaces each expired record's stored
	// version and inserts the new versions. Either every write commits or
	// none does.
	ApplyTransition(ctx context.Context, table string, expire, insert []*Record) error
}

// ValidateTimeline checks the timeline invariant over one key's versions,
// which must arrive ordered by version number: validity intervals never
// overlap, at most the final version is open, and open implies current. A
// successor may start after its predecessor ends; that gap is the interval
// during which the entity was deleted.
func ValidateTimeline(records []*Record) error {
	for i, rec := range records {
		if rec.Version() != i+1 {
			return NewTimelineCorruptedError(rec.KeyFingerprint(),
				"version numbers are not consecutive from 1")
		}
		last := i == len(records)-1
		if !last {
			if rec.IsOpen() {
				return NewTimelineCorruptedError(rec.KeyFingerprint(),
					"non-final version has no end time")
			}
			if rec.IsCurrent() {
				return NewTimelineCorruptedError(rec.KeyFingerprint(),
					"non-final version is marked current")
			}
			if records[i+1].ValidFrom().Before(rec.ValidTo()) {
				return NewTimelineCorruptedError(rec.KeyFingerprint(),
					"validity intervals overlap")
			}
		}
		if rec.IsOpen() && !rec.IsCurrent() {
			return NewTimelineCorruptedError(rec.KeyFingerprint(),
				"open version is not marked current")
		}
		if rec.IsCurrent() && !rec.IsOpen() {
			return NewTimelineCorruptedError(rec.KeyFingerprint(),
				"current version has an end time")
		}
	}
	return nil
}
