// Package chunks persists chunk bookkeeping rows. Chunk bytes live in the
// storage package; rows only carry the storage key.
package chunks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"github.com/dmitrijs2005/chunkkeeper/internal/dbx"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
)

// PostgresRepository implements chunk storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert relies on the (session_id, chunk_number) unique constraint so that
// concurrent writers of the same chunk end up with one row. The persisted
// id and created_at are written back into c.
func (r *PostgresRepository) Upsert(ctx context.Context, c *models.Chunk) error {
	query := `
		INSERT INTO upload_chunks (id, session_id, chunk_number, size, checksum, status, storage_key,
			security_metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (session_id, chunk_number)
		DO UPDATE SET
			size = EXCLUDED.size,
			checksum = EXCLUDED.checksum,
			status = EXCLUDED.status,
			storage_key = EXCLUDED.storage_key,
			security_metadata = EXCLUDED.security_metadata,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	var sec any
	if c.SecurityMetadata != nil {
		sec = c.SecurityMetadata
	}
	err := r.db.QueryRowContext(ctx, query,
		c.ID, c.SessionID, c.ChunkNumber, c.Size, c.Checksum, string(c.Status), c.StorageKey, sec, c.UpdatedAt).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if dbx.IsForeignKeyViolation(err) {
			return fmt.Errorf("session %s: %w", c.SessionID, common.ErrorNotFound)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const chunkColumns = `id, session_id, chunk_number, size, checksum, status, storage_key, security_metadata,
		created_at, updated_at`

func (r *PostgresRepository) Get(ctx context.Context, sessionID string, chunkNumber int) (*models.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM upload_chunks WHERE session_id=$1 AND chunk_number=$2`
	c, err := scanChunk(r.db.QueryRowContext(ctx, query, sessionID, chunkNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	return c, err
}

func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string) ([]*models.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM upload_chunks WHERE session_id=$1 ORDER BY chunk_number`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to select chunks: %w", err)
	}
	defer rows.Close()

	var result []*models.Chunk
	for rows.Next() {
		item, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CountCompleted counts completed chunk rows. Called inside the ingest
// transaction after the upsert, so it sees the current persisted set.
func (r *PostgresRepository) CountCompleted(ctx context.Context, sessionID string) (int, error) {
	query := `SELECT count(*) FROM upload_chunks WHERE session_id=$1 AND status='completed'`
	var n int
	if err := r.db.QueryRowContext(ctx, query, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(row scanner) (*models.Chunk, error) {
	var (
		item   models.Chunk
		status string
		sec    []byte
	)
	if err := row.Scan(&item.ID, &item.SessionID, &item.ChunkNumber, &item.Size, &item.Checksum, &status,
		&item.StorageKey, &sec, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.Status = models.ChunkStatus(status)
	if len(sec) > 0 {
		item.SecurityMetadata = &models.SecurityReport{}
		if err := json.Unmarshal(sec, item.SecurityMetadata); err != nil {
			return nil, fmt.Errorf("bad security metadata for chunk %d: %w", item.ChunkNumber, err)
		}
	}
	return &item, nil
}

func (r *PostgresRepository) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM upload_chunks WHERE session_id=$1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}
