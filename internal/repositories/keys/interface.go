// Package keys persists master key records in the profile database.
package keys

import (
	"context"

	"github.com/personalizedrefrigerator/notesync/internal/models"
)

// Repository stores wrapped master keys. Key content is always the wrapped
// (passphrase-encrypted) form; plaintext key material never touches disk.
type Repository interface {
	// Upsert inserts the key or replaces an existing row with the same id.
	Upsert(ctx context.Context, key *models.MasterKey) error
	// GetByID returns the key or common.ErrKeyNotFound.
	GetByID(ctx context.Context, id string) (*models.MasterKey, error)
	// List returns all keys ordered by creation time.
	List(ctx context.Context) ([]*models.MasterKey, error)
	// MarkUsed flags the key as having encrypted at least one item.
	MarkUsed(ctx context.Context, id string) error
}
