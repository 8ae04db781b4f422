package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/personalizedrefrigerator/notesync/internal/common"
)

// PostgresStore keeps items in a single table with a bigint revision counter
// per row and a global changestamp sequence, so List can return a cheap delta
// since the caller's cursor. Deletions stay behind as tombstoned rows.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open database handle. Schema setup is the
// caller's job (goose migrations, see internal/migrations/postgres).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore opens a connection with the pgx stdlib driver.
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres target: %w", err)
	}
	return NewPostgresStore(db), nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Check(ctx context.Context) error {
	var version string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sync_info WHERE name = 'schema_version'`).Scan(&version)
	if err != nil {
		return fmt.Errorf("reading target schema version: %w", err)
	}
	if version != strconv.Itoa(SchemaVersion) {
		return fmt.Errorf("target schema %s, client speaks %d: %w",
			version, SchemaVersion, common.ErrIncompatibleRemote)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, cursor string) (*Page, error) {
	var since int64
	if cursor != "" {
		v, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q: %w", cursor, err)
		}
		since = v
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, revision, updated_time, deleted, changestamp
		 FROM remote_items WHERE changestamp > $1 ORDER BY changestamp`, since)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	page := &Page{Cursor: cursor}
	for rows.Next() {
		var (
			info     ItemInfo
			revision int64
			stamp    int64
		)
		if err := rows.Scan(&info.ID, &revision, &info.UpdatedTime, &info.Deleted, &stamp); err != nil {
			return nil, err
		}
		info.Revision = strconv.FormatInt(revision, 10)
		page.Items = append(page.Items, info)
		page.Cursor = strconv.FormatInt(stamp, 10)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) ([]byte, string, error) {
	var (
		blob     []byte
		revision int64
		deleted  bool
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT blob, revision, deleted FROM remote_items WHERE id = $1`, id).
		Scan(&blob, &revision, &deleted)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deleted) {
		return nil, "", fmt.Errorf("item %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting item %s: %w", id, err)
	}
	return blob, strconv.FormatInt(revision, 10), nil
}

func (s *PostgresStore) Put(ctx context.Context, id string, blob []byte, ifRevision string) (string, error) {
	if ifRevision == "" {
		var revision int64
		err := s.db.QueryRowContext(ctx,
			`INSERT INTO remote_items (id, blob, revision, updated_time, deleted, changestamp)
			 VALUES ($1, $2, 1, 0, FALSE, nextval('remote_items_changestamp_seq'))
			 ON CONFLICT (id) DO UPDATE SET
			   blob = excluded.blob,
			   revision = remote_items.revision + 1,
			   deleted = FALSE,
			   changestamp = nextval('remote_items_changestamp_seq')
			 WHERE remote_items.deleted
			 RETURNING revision`, id, blob).Scan(&revision)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("item %s exists: %w", id, common.ErrVersionConflict)
		}
		if err != nil {
			return "", fmt.Errorf("creating item %s: %w", id, err)
		}
		return strconv.FormatInt(revision, 10), nil
	}

	want, err := strconv.ParseInt(ifRevision, 10, 64)
	if err != nil {
		return "", fmt.Errorf("bad revision %q: %w", ifRevision, err)
	}

	var revision int64
	err = s.db.QueryRowContext(ctx,
		`UPDATE remote_items SET
		   blob = $2,
		   revision = revision + 1,
		   deleted = FALSE,
		   changestamp = nextval('remote_items_changestamp_seq')
		 WHERE id = $1 AND revision = $3 AND NOT deleted
		 RETURNING revision`, id, blob, want).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("item %s: %w", id, common.ErrVersionConflict)
	}
	if err != nil {
		return "", fmt.Errorf("updating item %s: %w", id, err)
	}
	return strconv.FormatInt(revision, 10), nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string, ifRevision string) error {
	query := `UPDATE remote_items SET
		   blob = NULL,
		   revision = revision + 1,
		   deleted = TRUE,
		   changestamp = nextval('remote_items_changestamp_seq')
		 WHERE id = $1 AND NOT deleted`
	args := []any{id}

	if ifRevision != "" {
		want, err := strconv.ParseInt(ifRevision, 10, 64)
		if err != nil {
			return fmt.Errorf("bad revision %q: %w", ifRevision, err)
		}
		query += ` AND revision = $2`
		args = append(args, want)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 && ifRevision != "" {
		// either absent (fine) or a revision mismatch
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`SELECT NOT deleted FROM remote_items WHERE id = $1`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("item %s: %w", id, common.ErrVersionConflict)
		}
	}
	return nil
}
