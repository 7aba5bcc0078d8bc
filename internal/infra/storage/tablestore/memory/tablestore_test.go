package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/lakehouse/internal/domain/extraction"
	"github.com/ahrav/lakehouse/internal/domain/lakehouse"
)

func record(id string, seq int64, ingestedAt time.Time) lakehouse.Record {
	key := map[string]string{"id": id}
	return lakehouse.Record{
		KeyFingerprint: extraction.FingerprintKey(key),
		BusinessKey:    key,
		Payload:        lakehouse.NewStructuredPayload(map[string]any{"id": id, "seq": seq}),
		ChangeKind:     extraction.ChangeKindUpdate,
		Position:       extraction.NewSequencePosition(seq),
		SourceID:       "src",
		BatchID:        uuid.New(),
		IngestedAt:     ingestedAt,
		QualityFlag:    lakehouse.QualityValid,
	}
}

// TestTableStoreAppendIdempotence verifies replayed batches do not duplicate
// rows: identity is the (key fingerprint, position) pair.
func TestTableStoreAppendIdempotence(t *testing.T) {
	ctx := context.Background()
	store := NewTableStore()
	now := time.Now().UTC()

	batch := []lakehouse.Record{record("1", 10, now), record("2", 20, now)}

	_, err := store.Append(ctx, "bronze.orders", batch)
	require.NoError(t, err)

	// Replay the same batch, as a retry after WriteCommitFailed would.
	_, err = store.Append(ctx, "bronze.orders", batch)
	require.NoError(t, err)

	rows, err := store.Snapshot(ctx, "bronze.orders")
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

// TestTableStoreReadCurrent verifies the latest row wins per key.
func TestTableStoreReadCurrent(t *testing.T) {
	ctx := context.Background()
	store := NewTableStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.Append(ctx, "bronze.orders", []lakehouse.Record{
		record("1", 10, base),
		record("1", 15, base.Add(time.Hour)),
	})
	require.NoError(t, err)

	cur, err := store.ReadCurrent(ctx, "bronze.orders", extraction.FingerprintKey(map[string]string{"id": "1"}))
	require.NoError(t, err)
	require.NotNil(t, cur)
	require.Equal(t, int64(15), cur.Position.Sequence())

	missing, err := store.ReadCurrent(ctx, "bronze.orders", "id=9")
	require.NoError(t, err)
	require.Nil(t, missing)
}

// TestTableStoreReadAsOf verifies point-in-time reads against ingestion time.
func TestTableStoreReadAsOf(t *testing.T) {
	ctx := context.Background()
	store := NewTableStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fp := extraction.FingerprintKey(map[string]string{"id": "1"})

	_, err := store.Append(ctx, "bronze.orders", []lakehouse.Record{
		record("1", 10, base),
		record("1", 15, base.Add(2*time.Hour)),
	})
	require.NoError(t, err)

	got, err := store.ReadAsOf(ctx, "bronze.orders", fp, base.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, int64(10), got.Position.Sequence())

	got, err = store.ReadAsOf(ctx, "bronze.orders", fp, base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(15), got.Position.Sequence())

	got, err = store.ReadAsOf(ctx, "bronze.orders", fp, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Nil(t, got, "nothing existed before first ingestion")
}

// TestTableStoreSnapshotOrdering verifies snapshots come back in ingestion
// order so promotions are deterministic.
func TestTableStoreSnapshotOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewTableStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.Append(ctx, "bronze.orders", []lakehouse.Record{
		record("3", 30, base.Add(2*time.Hour)),
		record("1", 10, base),
		record("2", 20, base.Add(time.Hour)),
	})
	require.NoError(t, err)

	rows, err := store.Snapshot(ctx, "bronze.orders")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, int64(10), rows[0].Position.Sequence())
	require.Equal(t, int64(20), rows[1].Position.Sequence())
	require.Equal(t, int64(30), rows[2].Position.Sequence())

	empty, err := store.Snapshot(ctx, "bronze.unknown")
	require.NoError(t, err)
	require.Empty(t, empty)
}
