// Package settings is a small key/value store inside the profile database,
// used for sync cursors and encryption flags that must persist across runs.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/personalizedrefrigerator/notesync/internal/common"
	"github.com/personalizedrefrigerator/notesync/internal/dbx"
)

// Well-known setting names.
const (
	KeySyncCursor       = "sync.cursor"
	KeyEncryptionActive = "encryption.enabled"
	KeyActiveMasterKey  = "encryption.active_master_key_id"
	KeyConflictFolderID = "sync.conflict_folder_id"
)

// Repository reads and writes named settings.
type Repository interface {
	Get(ctx context.Context, name string) (string, error)
	Set(ctx context.Context, name, value string) error
	Delete(ctx context.Context, name string) error
}

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, name string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %s: %w", name, common.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("query row scan failed: %w", err)
	}
	return value, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, name, value string) error {
	query := `INSERT INTO settings (name, value) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value`
	if _, err := r.db.ExecContext(ctx, query, name, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", name, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}
