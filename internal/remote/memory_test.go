package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personalizedrefrigerator/notesync/internal/common"
)

func TestMemoryStore_PutGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rev, err := s.Put(ctx, "a", []byte("blob-1"), "")
	require.NoError(t, err)
	require.NotEmpty(t, rev)

	blob, gotRev, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-1"), blob)
	assert.Equal(t, rev, gotRev)
}

func TestMemoryStore_PutRevisionMismatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rev, err := s.Put(ctx, "a", []byte("v1"), "")
	require.NoError(t, err)

	// create asserts absence
	_, err = s.Put(ctx, "a", []byte("v2"), "")
	assert.ErrorIs(t, err, common.ErrVersionConflict)

	// stale revision
	_, err = s.Put(ctx, "a", []byte("v2"), "999")
	assert.ErrorIs(t, err, common.ErrVersionConflict)

	// current revision succeeds
	rev2, err := s.Put(ctx, "a", []byte("v2"), rev)
	require.NoError(t, err)
	assert.NotEqual(t, rev, rev2)
}

func TestMemoryStore_DeleteAndTombstoneListing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rev, err := s.Put(ctx, "a", []byte("v1"), "")
	require.NoError(t, err)

	page, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.False(t, page.Items[0].Deleted)
	cursor := page.Cursor

	require.NoError(t, s.Delete(ctx, "a", rev))

	_, _, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// deleting again is a no-op
	require.NoError(t, s.Delete(ctx, "a", ""))

	// the deletion shows up as a tombstone past the old cursor
	page, err = s.List(ctx, cursor)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "a", page.Items[0].ID)
	assert.True(t, page.Items[0].Deleted)
}

func TestMemoryStore_ListDeltaSemantics(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Put(ctx, "a", []byte("v1"), "")
	require.NoError(t, err)
	_, err = s.Put(ctx, "b", []byte("v1"), "")
	require.NoError(t, err)

	page, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.False(t, page.Snapshot)

	// nothing changed since the cursor
	again, err := s.List(ctx, page.Cursor)
	require.NoError(t, err)
	assert.Empty(t, again.Items)
	assert.Equal(t, page.Cursor, again.Cursor)
}

func TestMemoryStore_FailNext(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	boom := errors.New("boom")
	s.FailNext(boom)

	_, err := s.List(ctx, "")
	assert.ErrorIs(t, err, boom)

	// only the next call fails
	_, err = s.List(ctx, "")
	assert.NoError(t, err)
}
