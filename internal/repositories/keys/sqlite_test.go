package keys

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
CREATE TABLE master_keys (
  id TEXT PRIMARY KEY,
  created_time INTEGER NOT NULL,
  updated_time INTEGER NOT NULL,
  encryption_method INTEGER NOT NULL,
  checksum TEXT NOT NULL,
  salt BLOB,
  nonce BLOB,
  content BLOB NOT NULL,
  has_been_used INTEGER NOT NULL DEFAULT 0
);
`)
	require.NoError(t, err)

	return db
}

func sampleKey(id string) *models.MasterKey {
	return &models.MasterKey{
		ID:               id,
		CreatedTime:      100,
		UpdatedTime:      100,
		EncryptionMethod: models.EncryptionMethodAES256GCM,
		Checksum:         "abc123",
		Salt:             []byte("salt"),
		Nonce:            []byte("nonce"),
		Content:          []byte("wrapped-key-material"),
	}
}

func TestUpsert_InsertAndReplace(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	key := sampleKey("k1")
	require.NoError(t, r.Upsert(ctx, key))

	got, err := r.GetByID(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.Checksum)
	assert.Equal(t, []byte("wrapped-key-material"), got.Content)
	assert.False(t, got.HasBeenUsed)

	key.UpdatedTime = 200
	key.Content = []byte("rewrapped")
	key.Checksum = "def456"
	require.NoError(t, r.Upsert(ctx, key))

	got, err = r.GetByID(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.UpdatedTime)
	assert.Equal(t, []byte("rewrapped"), got.Content)
	assert.Equal(t, "def456", got.Checksum)
}

func TestGetByID_NotFound(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	_, err := r.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestList_OrderedByCreation(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	older := sampleKey("k-old")
	older.CreatedTime = 50
	newer := sampleKey("k-new")
	newer.CreatedTime = 150

	require.NoError(t, r.Upsert(ctx, newer))
	require.NoError(t, r.Upsert(ctx, older))

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "k-old", list[0].ID)
	assert.Equal(t, "k-new", list[1].ID)
}

func TestMarkUsed(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, sampleKey("k1")))
	require.NoError(t, r.MarkUsed(ctx, "k1"))

	got, err := r.GetByID(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, got.HasBeenUsed)

	err = r.MarkUsed(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrKeyNotFound)
}
