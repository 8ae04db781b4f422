// Package changes implements the local change tracker: an append-only log of
// every mutation to a synchronizable item, keyed by a monotonic sequence
// number. It is the source of truth for "what changed since last sync".
package changes

import (
	"context"

	"github.com/personalizedrefrigerator/notesync/internal/models"
)

// Repository persists the append-only change log.
type Repository interface {
	// Append records one change. Seq is assigned by the store.
	Append(ctx context.Context, change *models.ItemChange) error

	// MaxSeq returns the highest sequence number currently in the log, or 0
	// for an empty log. A sync pass uses it as a snapshot boundary so entries
	// appended mid-pass are left for the next one.
	MaxSeq(ctx context.Context) (int64, error)

	// ListThrough returns, ordered by seq, every entry with seq <= boundary.
	ListThrough(ctx context.Context, boundary int64) ([]models.ItemChange, error)

	// DeleteForItemThrough drops an item's entries with seq <= boundary,
	// after a successful push of its collapsed change.
	DeleteForItemThrough(ctx context.Context, itemID string, boundary int64) error

	// HasChangesForItem reports whether any entry exists for the item with
	// seq <= boundary.
	HasChangesForItem(ctx context.Context, itemID string, boundary int64) (bool, error)
}
