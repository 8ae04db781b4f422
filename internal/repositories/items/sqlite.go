package items

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/personalizedrefrigerator/notesync/internal/common"
	"github.com/personalizedrefrigerator/notesync/internal/dbx"
	"github.com/personalizedrefrigerator/notesync/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, item *models.Item) error {
	query := `INSERT INTO items (id, type, created_time, updated_time, encryption_applied, pending_decryption, content, sync_blob)
			VALUES (?, ?, ?, ?, ?, 0, ?, NULL)
			ON CONFLICT(id) DO UPDATE SET
				type = excluded.type,
				created_time = excluded.created_time,
				updated_time = excluded.updated_time,
				encryption_applied = excluded.encryption_applied,
				pending_decryption = 0,
				content = excluded.content,
				sync_blob = NULL
	`
	_, err := r.db.ExecContext(ctx, query,
		item.ID, item.Type, item.CreatedTime, item.UpdatedTime, item.EncryptionApplied, []byte(item.Content))
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Item, error) {
	query := `SELECT id, type, created_time, updated_time, encryption_applied, pending_decryption, content, sync_blob
			FROM items WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)

	item, err := scanItem(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return item, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.Item, error) {
	return r.list(ctx, `SELECT id, type, created_time, updated_time, encryption_applied, pending_decryption, content, sync_blob FROM items`)
}

func (r *SQLiteRepository) ListByType(ctx context.Context, t models.ItemType) ([]models.Item, error) {
	return r.list(ctx, `SELECT id, type, created_time, updated_time, encryption_applied, pending_decryption, content, sync_blob FROM items WHERE type = ?`, t)
}

func (r *SQLiteRepository) ListPendingDecryption(ctx context.Context) ([]models.Item, error) {
	return r.list(ctx, `SELECT id, type, created_time, updated_time, encryption_applied, pending_decryption, content, sync_blob FROM items WHERE pending_decryption = 1`)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SaveEncrypted(ctx context.Context, item *models.Item) error {
	query := `INSERT INTO items (id, type, created_time, updated_time, encryption_applied, pending_decryption, content, sync_blob)
			VALUES (?, ?, ?, ?, 1, 1, NULL, ?)
			ON CONFLICT(id) DO UPDATE SET
				type = excluded.type,
				created_time = excluded.created_time,
				updated_time = excluded.updated_time,
				encryption_applied = 1,
				pending_decryption = 1,
				content = NULL,
				sync_blob = excluded.sync_blob
	`
	_, err := r.db.ExecContext(ctx, query,
		item.ID, item.Type, item.CreatedTime, item.UpdatedTime, item.EncryptedBlob)
	if err != nil {
		return fmt.Errorf("failed to save encrypted item: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select items: %w", err)
	}
	defer rows.Close()

	var result []models.Item
	for rows.Next() {
		item, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanItem(scan func(dest ...any) error) (*models.Item, error) {
	var item models.Item
	var encrypted, pending int
	var content, syncBlob []byte
	if err := scan(&item.ID, &item.Type, &item.CreatedTime, &item.UpdatedTime, &encrypted, &pending, &content, &syncBlob); err != nil {
		return nil, err
	}
	item.EncryptionApplied = encrypted == 1
	item.PendingDecryption = pending == 1
	item.Content = content
	item.EncryptedBlob = syncBlob
	return &item, nil
}
