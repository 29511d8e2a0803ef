package preferences

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MIRChain/mir-control-center/internal/infrastructure/database"
	"github.com/MIRChain/mir-control-center/internal/release"
	_ "github.com/MIRChain/mir-control-center/migrations"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	require.NoError(t, db.Migrate(ctx))

	return map[string]Store{
		"sqlite": NewSQLiteStore(db.DB),
		"memory": NewMemoryStore(),
	}
}

func TestStore_GetSetItem(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var got map[string]int
			ok, err := store.GetItem(ctx, "missing", &got)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.SetItem(ctx, "counts", map[string]int{"a": 1}))
			require.NoError(t, store.SetItem(ctx, "counts", map[string]int{"a": 2, "b": 3}))

			ok, err = store.GetItem(ctx, "counts", &got)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, map[string]int{"a": 2, "b": 3}, got)
		})
	}
}

func TestSelectedReleases(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sel := NewSelectedReleases(store)

			got, err := sel.Get(ctx, "geth")
			require.NoError(t, err)
			assert.Nil(t, got)

			geth := release.Release{Name: "geth-1.2.3.tar.gz", Version: "1.2.3", Location: "/cache/geth-1.2.3.tar.gz"}
			mir := release.Release{Name: "mir-0.9.0", Version: "0.9.0", Location: "/cache/mir-0.9.0", IsBinary: true}
			require.NoError(t, sel.Set(ctx, "geth", geth))
			require.NoError(t, sel.Set(ctx, "mir", mir))

			got, err = sel.Get(ctx, "geth")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, geth.Location, got.Location)

			all, err := sel.All(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)
			assert.True(t, all["mir"].IsBinary)

			require.NoError(t, sel.Clear(ctx, "geth"))
			require.NoError(t, sel.Clear(ctx, "unknown"))
			all, err = sel.All(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}
