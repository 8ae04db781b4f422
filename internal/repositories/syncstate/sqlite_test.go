package syncstate

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personalizedrefrigerator/notesync/internal/common"
	"github.com/personalizedrefrigerator/notesync/internal/models"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE sync_state (
  item_id TEXT PRIMARY KEY,
  revision_token TEXT NOT NULL,
  last_synced_time INTEGER NOT NULL
);
`)
	require.NoError(t, err)

	return db
}

func TestSetAndGet(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, &models.SyncState{ItemID: "a", RevisionToken: "r1", LastSyncedTime: 100}))

	got, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RevisionToken)
	assert.Equal(t, int64(100), got.LastSyncedTime)

	// a second Set replaces the marker
	require.NoError(t, r.Set(ctx, &models.SyncState{ItemID: "a", RevisionToken: "r2", LastSyncedTime: 200}))

	got, err = r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "r2", got.RevisionToken)
	assert.Equal(t, int64(200), got.LastSyncedTime)
}

func TestGet_NeverSynced(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	_, err := r.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetAll(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, &models.SyncState{ItemID: "a", RevisionToken: "r1", LastSyncedTime: 1}))
	require.NoError(t, r.Set(ctx, &models.SyncState{ItemID: "b", RevisionToken: "r2", LastSyncedTime: 2}))

	all, err := r.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r1", all["a"].RevisionToken)
	assert.Equal(t, "r2", all["b"].RevisionToken)
}

func TestDelete(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, &models.SyncState{ItemID: "a", RevisionToken: "r1", LastSyncedTime: 1}))
	require.NoError(t, r.Delete(ctx, "a"))

	_, err := r.Get(ctx, "a")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
