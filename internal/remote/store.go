// Package remote defines the sync target contract and its backends. A store
// holds opaque item blobs keyed by id, tagged with opaque revision tokens
// used for optimistic concurrency. Stores never see plaintext content or key
// material.
package remote

import (
	"context"
)

// SchemaVersion is the remote data layout version this client speaks. Check
// fails with common.ErrIncompatibleRemote when the target reports another.
const SchemaVersion = 1

// InfoFileName is the marker object holding the target's schema version, for
// backends laid out as a plain object namespace (filesystem, S3).
const InfoFileName = ".sync-info.json"

// Info is the content of the schema marker.
type Info struct {
	SchemaVersion int `json:"schema_version"`
}

// ItemInfo describes one remote item without its content.
type ItemInfo struct {
	ID          string
	Revision    string
	UpdatedTime int64
	Deleted     bool
}

// Page is one listing page.
type Page struct {
	Items  []ItemInfo
	Cursor string
	// HasMore signals the caller should list again with Cursor before
	// treating the listing as finished.
	HasMore bool
	// Snapshot reports the listing style. A snapshot store enumerates every
	// live item on each full listing, so the engine detects remote deletions
	// by absence. A delta store returns only entries changed since the
	// cursor and reports deletions as tombstoned ItemInfos.
	Snapshot bool
}

// Store is a sync target.
//
// Revision tokens are opaque. Put and Delete take the revision the caller
// believes is current; a mismatch fails with common.ErrVersionConflict and
// must leave the remote untouched. An empty revision on Put asserts the item
// does not exist yet.
type Store interface {
	// Check verifies the target is reachable and speaks SchemaVersion.
	// An unversioned empty target is initialized instead.
	Check(ctx context.Context) error

	// List returns a page of item listings starting at cursor ("" for the
	// beginning).
	List(ctx context.Context, cursor string) (*Page, error)

	// Get returns an item's blob and current revision, or common.ErrNotFound.
	Get(ctx context.Context, id string) ([]byte, string, error)

	// Put writes the blob and returns the new revision.
	Put(ctx context.Context, id string, blob []byte, ifRevision string) (string, error)

	// Delete removes the item. Deleting an absent item is not an error.
	Delete(ctx context.Context, id string, ifRevision string) error
}
