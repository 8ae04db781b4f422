// Package services holds the application-facing operations on local data.
package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/personalizedrefrigerator/notesync/internal/common"
	"github.com/personalizedrefrigerator/notesync/internal/dbx"
	"github.com/personalizedrefrigerator/notesync/internal/logging"
	"github.com/personalizedrefrigerator/notesync/internal/models"
	"github.com/personalizedrefrigerator/notesync/internal/repositories/changes"
	"github.com/personalizedrefrigerator/notesync/internal/repositories/items"
)

// ItemService is the mutation path for local items. Every write lands the
// item row and its change-log entry in one transaction, so the change
// tracker can never disagree with the item table.
type ItemService struct {
	db     *sql.DB
	logger logging.Logger
}

func NewItemService(db *sql.DB, logger logging.Logger) *ItemService {
	return &ItemService{db: db, logger: logger}
}

// Create stores a new item built from content (a models.Note, Folder, Tag or
// Resource) and records a create change.
func (s *ItemService) Create(ctx context.Context, content models.TypedContent) (*models.Item, error) {
	item, err := models.New(content.ItemType(), content)
	if err != nil {
		return nil, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := items.NewSQLiteRepository(tx).Upsert(ctx, item); err != nil {
			return err
		}
		return changes.NewSQLiteRepository(tx).Append(ctx, &models.ItemChange{
			ItemID:      item.ID,
			ItemType:    item.Type,
			Type:        models.ChangeTypeCreate,
			CreatedTime: common.NowMilliseconds(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", item.Type, err)
	}

	s.logger.Debug(ctx, "item created", "item_id", item.ID, "type", item.Type)
	return item, nil
}

// Update replaces an item's content, bumps its updated_time and records an
// update change.
func (s *ItemService) Update(ctx context.Context, id string, content models.TypedContent) (*models.Item, error) {
	var updated *models.Item
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := items.NewSQLiteRepository(tx)

		item, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if item.Type != content.ItemType() {
			return fmt.Errorf("item %s is %s, got %s content", id, item.Type, content.ItemType())
		}
		if err := item.SetContent(content); err != nil {
			return err
		}
		item.Touch()

		if err := repo.Upsert(ctx, item); err != nil {
			return err
		}
		updated = item
		return changes.NewSQLiteRepository(tx).Append(ctx, &models.ItemChange{
			ItemID:      item.ID,
			ItemType:    item.Type,
			Type:        models.ChangeTypeUpdate,
			CreatedTime: common.NowMilliseconds(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("updating item %s: %w", id, err)
	}

	s.logger.Debug(ctx, "item updated", "item_id", id)
	return updated, nil
}

// Delete removes the item locally and records a delete change for the next
// sync pass. Deleting an unknown item fails with common.ErrNotFound.
func (s *ItemService) Delete(ctx context.Context, id string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := items.NewSQLiteRepository(tx)

		item, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := repo.Delete(ctx, id); err != nil {
			return err
		}
		return changes.NewSQLiteRepository(tx).Append(ctx, &models.ItemChange{
			ItemID:      item.ID,
			ItemType:    item.Type,
			Type:        models.ChangeTypeDelete,
			CreatedTime: common.NowMilliseconds(),
		})
	})
	if err != nil {
		return fmt.Errorf("deleting item %s: %w", id, err)
	}

	s.logger.Debug(ctx, "item deleted", "item_id", id)
	return nil
}

// Get returns one item.
func (s *ItemService) Get(ctx context.Context, id string) (*models.Item, error) {
	return items.NewSQLiteRepository(s.db).GetByID(ctx, id)
}

// List returns all items of one type.
func (s *ItemService) List(ctx context.Context, t models.ItemType) ([]models.Item, error) {
	return items.NewSQLiteRepository(s.db).ListByType(ctx, t)
}
