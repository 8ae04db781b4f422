package items

import (
	"context"

	"github.com/personalizedrefrigerator/notesync/internal/models"
)

// Repository stores the current local state of synchronizable items.
// Implementations are backed by the local SQLite profile database.
type Repository interface {
	// Upsert writes an item's decrypted state, clearing any pending
	// decryption marker it may have carried.
	Upsert(ctx context.Context, item *models.Item) error

	// GetByID returns one item, or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Item, error)

	// List returns every stored item.
	List(ctx context.Context) ([]models.Item, error)

	// ListByType returns items of one type.
	ListByType(ctx context.Context, t models.ItemType) ([]models.Item, error)

	// Delete removes an item row. Tombstoning for sync purposes lives in the
	// change log, not here.
	Delete(ctx context.Context, id string) error

	// SaveEncrypted stores an item that could not be decrypted yet: its
	// plaintext metadata plus the raw remote blob, flagged pending.
	SaveEncrypted(ctx context.Context, item *models.Item) error

	// ListPendingDecryption returns items parked by SaveEncrypted.
	ListPendingDecryption(ctx context.Context) ([]models.Item, error)
}
