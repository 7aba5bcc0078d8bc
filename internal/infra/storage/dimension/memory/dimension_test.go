package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/lakehouse/internal/domain/dimension"
)

var (
	t1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
)

func mustInitial(t *testing.T, id string, attrs map[string]any, from time.Time) *dimension.Record {
	t.Helper()
	rec, err := dimension.NewInitialRecord(map[string]string{"id": id}, attrs, from)
	require.NoError(t, err)
	return rec
}

// TestDimensionStoreApplyTransition verifies the expire-and-insert pair
// commits as a unit and later reads observe the new history.
func TestDimensionStoreApplyTransition(t *testing.T) {
	ctx := context.Background()
	store := NewDimensionStore()

	v1 := mustInitial(t, "1", map[string]any{"name": "Alice"}, t1)
	require.NoError(t, store.ApplyTransition(ctx, "dim.customers", nil, []*dimension.Record{v1}))

	cur, err := store.GetCurrent(ctx, "dim.customers", v1.KeyFingerprint())
	require.NoError(t, err)
	require.Equal(t, 1, cur.Version())

	expired, err := cur.Expired(t2)
	require.NoError(t, err)
	v2 := cur.Succeeded(map[string]any{"name": "Alicia"}, t2)
	require.NoError(t, store.ApplyTransition(ctx, "dim.customers",
		[]*dimension.Record{expired}, []*dimension.Record{v2}))

	cur, err = store.GetCurrent(ctx, "dim.customers", v1.KeyFingerprint())
	require.NoError(t, err)
	require.Equal(t, 2, cur.Version())
	require.Equal(t, "Alicia", cur.Attributes()["name"])

	history, err := store.History(ctx, "dim.customers", v1.KeyFingerprint())
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.NoError(t, dimension.ValidateTimeline(history))
}

// TestDimensionStoreApplyTransitionRejectsMissingVersion verifies a failed
// precondition leaves the table untouched.
func TestDimensionStoreApplyTransitionRejectsMissingVersion(t *testing.T) {
	ctx := context.Background()
	store := NewDimensionStore()

	v1 := mustInitial(t, "1", nil, t1)
	phantom := dimension.ReconstructRecord(map[string]string{"id": "9"}, 3, nil, t1, t2, false)

	err := store.ApplyTransition(ctx, "dim.customers",
		[]*dimension.Record{phantom}, []*dimension.Record{v1})
	require.Error(t, err)

	cur, err := store.GetCurrent(ctx, "dim.customers", v1.KeyFingerprint())
	require.NoError(t, err)
	require.Nil(t, cur, "insert should not apply when expire fails")
}

// TestDimensionStoreGetAsOf verifies point-in-time resolution across a
// multi-version history.
func TestDimensionStoreGetAsOf(t *testing.T) {
	ctx := context.Background()
	store := NewDimensionStore()

	v1 := mustInitial(t, "1", map[string]any{"name": "Alice"}, t1)
	require.NoError(t, store.ApplyTransition(ctx, "dim.customers", nil, []*dimension.Record{v1}))

	expired, err := v1.Expired(t2)
	require.NoError(t, err)
	v2 := v1.Succeeded(map[string]any{"name": "Alicia"}, t2)
	require.NoError(t, store.ApplyTransition(ctx, "dim.customers",
		[]*dimension.Record{expired}, []*dimension.Record{v2}))

	fp := v1.KeyFingerprint()

	got, err := store.GetAsOf(ctx, "dim.customers", fp, t1.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Equal(t, 1, got.Version())

	got, err = store.GetAsOf(ctx, "dim.customers", fp, t2)
	require.NoError(t, err)
	require.Equal(t, 2, got.Version(), "boundary belongs to the successor")

	got, err = store.GetAsOf(ctx, "dim.customers", fp, t1.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Nil(t, got, "entity did not exist yet")
}

// TestDimensionStoreListCurrentKeys verifies tombstoned keys drop out of the
// current set.
func TestDimensionStoreListCurrentKeys(t *testing.T) {
	ctx := context.Background()
	store := NewDimensionStore()

	a := mustInitial(t, "a", nil, t1)
	b := mustInitial(t, "b", nil, t1)
	require.NoError(t, store.ApplyTransition(ctx, "dim.customers", nil, []*dimension.Record{a, b}))

	keys, err := store.ListCurrentKeys(ctx, "dim.customers")
	require.NoError(t, err)
	require.Equal(t, []string{a.KeyFingerprint(), b.KeyFingerprint()}, keys)

	expired, err := a.Expired(t2)
	require.NoError(t, err)
	require.NoError(t, store.ApplyTransition(ctx, "dim.customers", []*dimension.Record{expired}, nil))

	keys, err = store.ListCurrentKeys(ctx, "dim.customers")
	require.NoError(t, err)
	require.Equal(t, []string{b.KeyFingerprint()}, keys)
}
