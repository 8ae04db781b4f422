package keys

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

func (r *SQLiteRepository) Upsert(ctx context.Context, key *models.MasterKey) error {
	query := `INSERT INTO master_keys
			(id, created_time, updated_time, encryption_method, checksum, salt, nonce, content, has_been_used)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			updated_time = excluded.updated_time,
			encryption_method = excluded.encryption_method,
			checksum = excluded.checksum,
			salt = excluded.salt,
			nonce = excluded.nonce,
			content = excluded.content,
			has_been_used = excluded.has_been_used`
	_, err := r.db.ExecContext(ctx, query,
		key.ID, key.CreatedTime, key.UpdatedTime, key.EncryptionMethod,
		key.Checksum, key.Salt, key.Nonce, key.Content, key.HasBeenUsed)
	if err != nil {
		return fmt.Errorf("failed to upsert master key: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.MasterKey, error) {
	query := `SELECT id, created_time, updated_time, encryption_method, checksum, salt, nonce, content, has_been_used
			FROM master_keys WHERE id = ?`
	key, err := scanKey(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("master key %s: %w", id, common.ErrKeyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return key, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.MasterKey, error) {
	query := `SELECT id, created_time, updated_time, encryption_method, checksum, salt, nonce, content, has_been_used
			FROM master_keys ORDER BY created_time`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var result []*models.MasterKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("row scan failed: %w", err)
		}
		result = append(result, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) MarkUsed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE master_keys SET has_been_used = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark key used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("master key %s: %w", id, common.ErrKeyNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*models.MasterKey, error) {
	var key models.MasterKey
	err := row.Scan(&key.ID, &key.CreatedTime, &key.UpdatedTime, &key.EncryptionMethod,
		&key.Checksum, &key.Salt, &key.Nonce, &key.Content, &key.HasBeenUsed)
	if err != nil {
		return nil, err
	}
	return &key, nil
}
