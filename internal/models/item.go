// Package models defines the synchronizable item types and their fields.
package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/personalizedrefrigerator/notesync/internal/common"
)

// ItemType classifies an item kind.
type ItemType string

const (
	ItemTypeNote      ItemType = "note"
	ItemTypeFolder    ItemType = "folder"
	ItemTypeTag       ItemType = "tag"
	ItemTypeResource  ItemType = "resource"
	ItemTypeMasterKey ItemType = "master_key"
)

// Item is the unit of synchronization: a typed record identified by a stable
// id, carrying millisecond timestamps and a type-specific content payload.
//
// The id never changes for the item's lifetime, and UpdatedTime strictly
// increases on every local or merged mutation (see Touch). Content holds the
// serialized type-specific fields; it is what the codec encrypts.
type Item struct {
	ID                string          `json:"id"`
	Type              ItemType        `json:"type"`
	CreatedTime       int64           `json:"created_time"`
	UpdatedTime       int64           `json:"updated_time"`
	EncryptionApplied bool            `json:"encryption_applied"`
	Content           json.RawMessage `json:"content,omitempty"`

	// Local-only state, never serialized to the remote.
	// PendingDecryption marks an item pulled before its master key was
	// available; EncryptedBlob keeps the raw remote blob for later retries.
	PendingDecryption bool   `json:"-"`
	EncryptedBlob     []byte `json:"-"`
}

// New creates an item of the given type with a fresh id and current
// timestamps, serializing content into the item.
func New(t ItemType, content any) (*Item, error) {
	now := common.NowMilliseconds()
	item := &Item{
		ID:          uuid.NewString(),
		Type:        t,
		CreatedTime: now,
		UpdatedTime: now,
	}
	if err := item.SetContent(content); err != nil {
		return nil, err
	}
	return item, nil
}

// SetContent serializes v as the item's content.
func (i *Item) SetContent(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("serializing %s content: %w", i.Type, err)
	}
	i.Content = b
	return nil
}

// ContentAs deserializes the item's content into v.
func (i *Item) ContentAs(v any) error {
	if len(i.Content) == 0 {
		return fmt.Errorf("item %s has no content: %w", i.ID, common.ErrNotFound)
	}
	return json.Unmarshal(i.Content, v)
}

// Unwrap returns the typed content value for the item's type, or a generic
// map for types this build does not know about.
func (i *Item) Unwrap() (any, error) {
	switch i.Type {
	case ItemTypeNote:
		var v Note
		return v, i.ContentAs(&v)
	case ItemTypeFolder:
		var v Folder
		return v, i.ContentAs(&v)
	case ItemTypeTag:
		var v Tag
		return v, i.ContentAs(&v)
	case ItemTypeResource:
		var v Resource
		return v, i.ContentAs(&v)
	case ItemTypeMasterKey:
		var v MasterKey
		return v, i.ContentAs(&v)
	default:
		var m map[string]any
		if err := i.ContentAs(&m); err != nil {
			return nil, err
		}
		return m, nil
	}
}

// Touch advances UpdatedTime. Wall clocks can stall or run backwards, so the
// new value is forced strictly past the previous one.
func (i *Item) Touch() {
	now := common.NowMilliseconds()
	if now <= i.UpdatedTime {
		now = i.UpdatedTime + 1
	}
	i.UpdatedTime = now
}

// TouchPast advances UpdatedTime strictly past both the item's own time and
// the given one. Used after merge resolution so the canonical item postdates
// both divergent versions.
func (i *Item) TouchPast(other int64) {
	if other > i.UpdatedTime {
		i.UpdatedTime = other
	}
	i.Touch()
}

// TypedContent is implemented by the concrete content types.
type TypedContent interface {
	ItemType() ItemType
}

// Note is free-form text belonging to a folder.
type Note struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	ParentID string `json:"parent_id,omitempty"`
}

func (Note) ItemType() ItemType { return ItemTypeNote }

// Folder groups notes and other folders.
type Folder struct {
	Title    string `json:"title"`
	ParentID string `json:"parent_id,omitempty"`
}

func (Folder) ItemType() ItemType { return ItemTypeFolder }

// Tag is a label attachable to notes.
type Tag struct {
	Title string `json:"title"`
}

func (Tag) ItemType() ItemType { return ItemTypeTag }

// Resource is a binary attachment referenced from a note body.
type Resource struct {
	Title    string `json:"title"`
	Mime     string `json:"mime"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Blob     []byte `json:"blob,omitempty"`
}

func (Resource) ItemType() ItemType { return ItemTypeResource }
