package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_PopulatesIDAndTimes(t *testing.T) {
	item, err := New(ItemTypeNote, Note{Title: "x", Body: "y"})
	require.NoError(t, err)

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, ItemTypeNote, item.Type)
	assert.Greater(t, item.CreatedTime, int64(0))
	assert.Equal(t, item.CreatedTime, item.UpdatedTime)
}

func TestContentRoundTrip(t *testing.T) {
	item, err := New(ItemTypeNote, Note{Title: "shopping", Body: "milk", ParentID: "f1"})
	require.NoError(t, err)

	var got Note
	require.NoError(t, item.ContentAs(&got))
	assert.Equal(t, Note{Title: "shopping", Body: "milk", ParentID: "f1"}, got)
}

func TestUnwrap_TypedContents(t *testing.T) {
	tests := []struct {
		name    string
		t       ItemType
		content any
	}{
		{"note", ItemTypeNote, Note{Title: "n"}},
		{"folder", ItemTypeFolder, Folder{Title: "f"}},
		{"tag", ItemTypeTag, Tag{Title: "t"}},
		{"resource", ItemTypeResource, Resource{Title: "r", Mime: "image/png", Size: 3, Blob: []byte{1, 2, 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := New(tt.t, tt.content)
			require.NoError(t, err)
			v, err := item.Unwrap()
			require.NoError(t, err)
			assert.Equal(t, tt.content, v)
		})
	}
}

func TestTouch_StrictlyIncreases(t *testing.T) {
	item, err := New(ItemTypeNote, Note{})
	require.NoError(t, err)

	prev := item.UpdatedTime
	for range 5 {
		item.Touch()
		assert.Greater(t, item.UpdatedTime, prev)
		prev = item.UpdatedTime
	}
}

func TestTouchPast_PostdatesBothSides(t *testing.T) {
	item, err := New(ItemTypeNote, Note{})
	require.NoError(t, err)

	remote := item.UpdatedTime + 10_000
	item.TouchPast(remote)
	assert.Greater(t, item.UpdatedTime, remote)
}
