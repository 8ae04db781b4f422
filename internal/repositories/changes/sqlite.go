package changes

import (
	"context"
	"fmt"

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

func (r *SQLiteRepository) Append(ctx context.Context, change *models.ItemChange) error {
	query := `INSERT INTO item_changes (item_id, item_type, change_type, created_time) VALUES (?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, change.ItemID, change.ItemType, change.Type, change.CreatedTime)
	if err != nil {
		return fmt.Errorf("failed to append change: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MaxSeq(ctx context.Context) (int64, error) {
	var max int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM item_changes`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read max seq: %w", err)
	}
	return max, nil
}

func (r *SQLiteRepository) ListThrough(ctx context.Context, boundary int64) ([]models.ItemChange, error) {
	query := `SELECT seq, item_id, item_type, change_type, created_time FROM item_changes WHERE seq <= ? ORDER BY seq`
	rows, err := r.db.QueryContext(ctx, query, boundary)
	if err != nil {
		return nil, fmt.Errorf("failed to select changes: %w", err)
	}
	defer rows.Close()

	var result []models.ItemChange
	for rows.Next() {
		var c models.ItemChange
		if err := rows.Scan(&c.Seq, &c.ItemID, &c.ItemType, &c.Type, &c.CreatedTime); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) DeleteForItemThrough(ctx context.Context, itemID string, boundary int64) error {
	query := `DELETE FROM item_changes WHERE item_id = ? AND seq <= ?`
	_, err := r.db.ExecContext(ctx, query, itemID, boundary)
	if err != nil {
		return fmt.Errorf("failed to purge changes: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) HasChangesForItem(ctx context.Context, itemID string, boundary int64) (bool, error) {
	var n int
	query := `SELECT COUNT(1) FROM item_changes WHERE item_id = ? AND seq <= ?`
	if err := r.db.QueryRowContext(ctx, query, itemID, boundary).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to count changes: %w", err)
	}
	return n > 0, nil
}
