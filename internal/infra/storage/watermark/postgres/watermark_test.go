package postgres

import (
	"context"
	"testing"
	"time"

	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/lakehouse/internal/domain/extraction"
	"github.com/ahrav/lakehouse/internal/infra/storage"
)

func setupWatermarkTest(t *testing.T) (context.Context, *watermarkStore, func()) {
	t.Helper()

	db, cleanup := storage.SetupTestContainer(t)
	store := NewWatermarkStore(db, storage.NoOpTracer())
	ctx := context.Background()

	return ctx, store, cleanup
}

func TestPGWatermarkStorage_CreateAndGet(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupWatermarkTest(t)
	defer cleanup()

	wm := extraction.NewWatermark("orders-db", "bronze.orders", extraction.NewSequencePosition(20))
	ok, err := store.CompareAndSet(ctx, nil, wm)
	require.NoError(t, err)
	require.True(t, ok)

	loaded, err := store.Get(ctx, "orders-db", "bronze.orders")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, "orders-db", loaded.SourceID())
	assert.Equal(t, "bronze.orders", loaded.TargetID())
	assert.Equal(t, int64(20), loaded.Position().Sequence())
	assert.False(t, loaded.CommittedAt().IsZero(), "CommittedAt should be set")
}

func TestPGWatermarkStorage_GetNonExistent(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupWatermarkTest(t)
	defer cleanup()

	loaded, err := store.Get(ctx, "missing", "pair")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestPGWatermarkStorage_CompareAndSetRaces(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupWatermarkTest(t)
	defer cleanup()

	first := extraction.NewWatermark("orders-db", "bronze.orders", extraction.NewSequencePosition(20))
	ok, err := store.CompareAndSet(ctx, nil, first)
	require.NoError(t, err)
	require.True(t, ok)

	// A second first-run commit must lose.
	ok, err = store.CompareAndSet(ctx, nil,
		extraction.NewWatermark("orders-db", "bronze.orders", extraction.NewSequencePosition(99)))
	require.NoError(t, err)
	assert.False(t, ok)

	// Advancing from the stored position wins.
	ok, err = store.CompareAndSet(ctx, first,
		extraction.NewWatermark("orders-db", "bronze.orders", extraction.NewSequencePosition(30)))
	require.NoError(t, err)
	assert.True(t, ok)

	// Advancing from the stale position loses and leaves the stored value.
	ok, err = store.CompareAndSet(ctx, first,
		extraction.NewWatermark("orders-db", "bronze.orders", extraction.NewSequencePosition(40)))
	require.NoError(t, err)
	assert.False(t, ok)

	loaded, err := store.Get(ctx, "orders-db", "bronze.orders")
	require.NoError(t, err)
	assert.Equal(t, int64(30), loaded.Position().Sequence())
}

func TestPGWatermarkStorage_ListAndDelete(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupWatermarkTest(t)
	defer cleanup()

	pairs := []struct{ source, target string }{
		{"a-src", "bronze.a"},
		{"b-src", "bronze.b"},
	}
	for i, p := range pairs {
		ok, err := store.CompareAndSet(ctx, nil,
			extraction.NewWatermark(p.source, p.target, extraction.NewSequencePosition(int64(i+1))))
		require.NoError(t, err)
		require.True(t, ok)
	}

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a-src", all[0].SourceID())

	require.NoError(t, store.Delete(ctx, "a-src", "bronze.a"))
	require.NoError(t, store.Delete(ctx, "a-src", "bronze.a"), "double delete is not an error")

	all, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b-src", all[0].SourceID())
}

func TestPGWatermarkStorage_TimestampPositionRoundTrip(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupWatermarkTest(t)
	defer cleanup()

	pos := extraction.NewTimestampPosition(mustParseTime(t, "2025-03-04T05:06:07.89Z"))
	ok, err := store.CompareAndSet(ctx, nil, extraction.NewWatermark("orders-db", "bronze.orders", pos))
	require.NoError(t, err)
	require.True(t, ok)

	loaded, err := store.Get(ctx, "orders-db", "bronze.orders")
	require.NoError(t, err)

	cmp, err := loaded.Position().Compare(pos)
	require.NoError(t, err)
	assert.Zero(t, cmp)
}

func mustParseTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339Nano, value)
	require.NoError(t, err)
	return ts
}
