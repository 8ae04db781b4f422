package models

// ChangeType classifies a local mutation recorded in the change log.
type ChangeType string

const (
	ChangeTypeCreate ChangeType = "create"
	ChangeTypeUpdate ChangeType = "update"
	ChangeTypeDelete ChangeType = "delete"
)

// ItemChange is one entry of the local append-only change log. Seq is
// assigned by the database, strictly increasing and never reused; a sync pass
// snapshots the log at a Seq boundary and only pushes entries below it.
type ItemChange struct {
	Seq         int64
	ItemID      string
	ItemType    ItemType
	Type        ChangeType
	CreatedTime int64
}

// SyncState records, per item and per sync target, the last remote revision
// token observed and when the item was last synced. An item with no SyncState
// row has never been pushed to that target.
type SyncState struct {
	ItemID         string
	RevisionToken  string
	LastSyncedTime int64
}
