package syncstate

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

func (r *SQLiteRepository) Get(ctx context.Context, itemID string) (*models.SyncState, error) {
	query := `SELECT item_id, revision_token, last_synced_time FROM sync_state WHERE item_id = ?`
	row := r.db.QueryRowContext(ctx, query, itemID)

	var s models.SyncState
	if err := row.Scan(&s.ItemID, &s.RevisionToken, &s.LastSyncedTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sync state for %s: %w", itemID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return &s, nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context) (map[string]models.SyncState, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT item_id, revision_token, last_synced_time FROM sync_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to select sync state: %w", err)
	}
	defer rows.Close()

	result := make(map[string]models.SyncState)
	for rows.Next() {
		var s models.SyncState
		if err := rows.Scan(&s.ItemID, &s.RevisionToken, &s.LastSyncedTime); err != nil {
			return nil, err
		}
		result[s.ItemID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, state *models.SyncState) error {
	query := `INSERT INTO sync_state (item_id, revision_token, last_synced_time)
			VALUES (?, ?, ?)
			ON CONFLICT(item_id) DO UPDATE SET
				revision_token = excluded.revision_token,
				last_synced_time = excluded.last_synced_time
	`
	_, err := r.db.ExecContext(ctx, query, state.ItemID, state.RevisionToken, state.LastSyncedTime)
	if err != nil {
		return fmt.Errorf("failed to upsert sync state: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, itemID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_state WHERE item_id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("failed to delete sync state: %w", err)
	}
	return nil
}
