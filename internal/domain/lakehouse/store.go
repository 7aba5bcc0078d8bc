package lakehouse

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// VersionedTableStore is the append-only, snapshot-isolated storage port all
// layers write through. Appends are atomic per call and idempotent on the
// (key fingerprint, position) pair so replayed batches never duplicate rows.
type VersionedTableStore interface {
	// Append durably writes records to a table in one all-or-nothing commit
	// and returns the commit ID. Records whose (key fingerprint, position)
	// pair already exists in the table are skipped.
	Append(ctx context.Context, table string, records []Record) (uuid.UUID, error)

	// ReadCurrent returns the latest record for a key fingerprint, nil when
	// the key has never been written.
	ReadCurrent(ctx context.Context, table, keyFingerprint string) (*Record, error)

	// ReadAsOf returns the latest record for a key fingerprint whose
	// ingestion time is at or before the given instant, nil when none.
	ReadAsOf(ctx context.Context, table, keyFingerprint string, at time.Time) (*Record, error)

	// Snapshot returns an immutable copy of every record in the table,
	// ordered by ingestion time then position.
	Snapshot(ctx context.Context, table string) ([]Record, error)
}
