package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MIRChain/mir-control-center/internal/infrastructure/database"
	_ "github.com/MIRChain/mir-control-center/migrations"
)

func newRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	require.NoError(t, db.Migrate(ctx))
	return NewSQLiteRepository(db.DB)
}

func TestSQLiteRepository_CreateAndList(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []*AuditLog{
		{Action: ActionStartRequested, EntityType: EntityPlugin, EntityID: "mir", Source: "api", CreatedAt: base},
		{Action: ActionStart, EntityType: EntityPlugin, EntityID: "mir", Source: "api", CreatedAt: base.Add(time.Second),
			Details: map[string]any{"version": "1.2.2"}},
		{Action: ActionStop, EntityType: EntityPlugin, EntityID: "geth", Source: "cli", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		require.NoError(t, repo.Create(ctx, e))
		assert.NotEmpty(t, e.ID)
	}

	all, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, 50, all.Limit)
	require.Len(t, all.Logs, 3)
	assert.Equal(t, ActionStop, all.Logs[0].Action, "most recent first")

	mir, err := repo.List(ctx, Filter{EntityID: "mir", Action: ActionStart})
	require.NoError(t, err)
	require.Len(t, mir.Logs, 1)
	assert.Equal(t, "1.2.2", mir.Logs[0].Details["version"])
	assert.True(t, mir.Logs[0].CreatedAt.Equal(base.Add(time.Second)))
}

func TestSQLiteRepository_ListClampsLimit(t *testing.T) {
	repo := newRepo(t)

	res, err := repo.List(context.Background(), Filter{Limit: 10_000, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, 200, res.Limit)
	assert.Equal(t, 0, res.Offset)
	assert.Empty(t, res.Logs)
}

type failingRepo struct{ Repository }

func (failingRepo) Create(context.Context, *AuditLog) error { return errors.New("disk full") }

func TestRecorder(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	rec := NewRecorder(repo, "mqtt")
	rec.Plugin(ctx, ActionReleaseSelected, "mir", map[string]any{"version": "1.0.0"})

	res, err := repo.List(ctx, Filter{EntityType: EntityPlugin})
	require.NoError(t, err)
	require.Len(t, res.Logs, 1)
	assert.Equal(t, "mqtt", res.Logs[0].Source)

	var reported error
	bad := NewRecorder(failingRepo{}, "api")
	bad.OnError = func(err error) { reported = err }
	bad.WithSource("cli").Plugin(ctx, ActionStop, "mir", nil)
	assert.EqualError(t, reported, "disk full")

	var nilRec *Recorder
	assert.NotPanics(t, func() { nilRec.Plugin(ctx, ActionStop, "mir", nil) })
}
