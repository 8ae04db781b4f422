package syncstate

import (
	"context"

	"github.com/personalizedrefrigerator/notesync/internal/models"
)

// Repository persists per-item remote revision markers for one sync target.
type Repository interface {
	// Get returns the state for one item, or common.ErrNotFound if the item
	// has never been pushed to the target.
	Get(ctx context.Context, itemID string) (*models.SyncState, error)

	// GetAll returns the full marker map, keyed by item id.
	GetAll(ctx context.Context) (map[string]models.SyncState, error)

	// Set records the revision token observed for an item.
	Set(ctx context.Context, state *models.SyncState) error

	// Delete removes an item's marker after its remote deletion.
	Delete(ctx context.Context, itemID string) error
}
