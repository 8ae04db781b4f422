package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personalizedrefrigerator/notesync/internal/common"
	"github.com/personalizedrefrigerator/notesync/internal/logging"
	"github.com/personalizedrefrigerator/notesync/internal/models"
	"github.com/personalizedrefrigerator/notesync/internal/repositories/changes"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE items (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  created_time INTEGER NOT NULL,
  updated_time INTEGER NOT NULL,
  encryption_applied INTEGER NOT NULL DEFAULT 0,
  pending_decryption INTEGER NOT NULL DEFAULT 0,
  content BLOB,
  sync_blob BLOB
);
CREATE TABLE item_changes (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  item_id TEXT NOT NULL,
  item_type TEXT NOT NULL,
  change_type TEXT NOT NULL,
  created_time INTEGER NOT NULL
);
`)
	require.NoError(t, err)

	return db
}

func TestCreate_WritesItemAndChangeTogether(t *testing.T) {
	db := setupDB(t)
	s := NewItemService(db, logging.NewNopLogger())
	ctx := context.Background()

	item, err := s.Create(ctx, models.Note{Title: "hello", Body: "world"})
	require.NoError(t, err)
	require.NotEmpty(t, item.ID)
	assert.Equal(t, models.ItemTypeNote, item.Type)

	got, err := s.Get(ctx, item.ID)
	require.NoError(t, err)
	var note models.Note
	require.NoError(t, got.ContentAs(&note))
	assert.Equal(t, "hello", note.Title)

	log, err := changes.NewSQLiteRepository(db).ListThrough(ctx, 100)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, item.ID, log[0].ItemID)
	assert.Equal(t, models.ChangeTypeCreate, log[0].Type)
}

func TestUpdate_BumpsUpdatedTimeAndAppendsChange(t *testing.T) {
	db := setupDB(t)
	s := NewItemService(db, logging.NewNopLogger())
	ctx := context.Background()

	item, err := s.Create(ctx, models.Note{Title: "v1"})
	require.NoError(t, err)

	updated, err := s.Update(ctx, item.ID, models.Note{Title: "v2"})
	require.NoError(t, err)
	assert.Greater(t, updated.UpdatedTime, item.UpdatedTime)

	log, err := changes.NewSQLiteRepository(db).ListThrough(ctx, 100)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, models.ChangeTypeUpdate, log[1].Type)
}

func TestUpdate_TypeMismatch(t *testing.T) {
	db := setupDB(t)
	s := NewItemService(db, logging.NewNopLogger())
	ctx := context.Background()

	item, err := s.Create(ctx, models.Note{Title: "a note"})
	require.NoError(t, err)

	_, err = s.Update(ctx, item.ID, models.Folder{Title: "not a note"})
	require.Error(t, err)

	// the failed transaction left no change entry behind
	log, err := changes.NewSQLiteRepository(db).ListThrough(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

func TestDelete_RemovesItemAndRecordsChange(t *testing.T) {
	db := setupDB(t)
	s := NewItemService(db, logging.NewNopLogger())
	ctx := context.Background()

	item, err := s.Create(ctx, models.Note{Title: "doomed"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, item.ID))

	_, err = s.Get(ctx, item.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	log, err := changes.NewSQLiteRepository(db).ListThrough(ctx, 100)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, models.ChangeTypeDelete, log[1].Type)
}

func TestDelete_UnknownItem(t *testing.T) {
	db := setupDB(t)
	s := NewItemService(db, logging.NewNopLogger())

	err := s.Delete(context.Background(), "ghost")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestList_FiltersByType(t *testing.T) {
	db := setupDB(t)
	s := NewItemService(db, logging.NewNopLogger())
	ctx := context.Background()

	_, err := s.Create(ctx, models.Note{Title: "n"})
	require.NoError(t, err)
	_, err = s.Create(ctx, models.Folder{Title: "f"})
	require.NoError(t, err)

	notes, err := s.List(ctx, models.ItemTypeNote)
	require.NoError(t, err)
	require.Len(t, notes, 1)

	folders, err := s.List(ctx, models.ItemTypeFolder)
	require.NoError(t, err)
	require.Len(t, folders, 1)
}
