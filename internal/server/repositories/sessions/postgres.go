// Package sessions persists upload sessions.
package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"github.com/dmitrijs2005/chunkkeeper/internal/dbx"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
)

const sessionColumns = `id, filename, content_type, total_size, chunks_count, status, container_id,
	workspace_id, owner_user_id, metadata, assembled_file_path, assembled_checksum, failure_reason,
	virus_scan_queued_at, created_at, updated_at, assembly_lease_id, assembly_lease_until`

// PostgresRepository implements session storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a pending session. A live session with the same
// destination yields a validation error matching common.ErrorAlreadyExists.
func (r *PostgresRepository) Create(ctx context.Context, s *models.UploadSession) error {
	query := `
		INSERT INTO upload_sessions (id, filename, content_type, total_size, chunks_count, status,
			container_id, workspace_id, owner_user_id, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.Filename, s.ContentType, s.TotalSize, s.ChunksCount, string(s.Status),
		nullString(s.ContainerID), s.WorkspaceID, s.OwnerUserID, s.Metadata, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, DestinationConstraint) {
			return &common.ValidationError{
				Kind:   common.ErrorAlreadyExists,
				Detail: fmt.Sprintf("an upload of %q is already in progress in this location", s.Filename),
			}
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.UploadSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions WHERE id=$1`
	return scanSession(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.UploadSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions WHERE id=$1 FOR UPDATE`
	return scanSession(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) CompareAndSwapStatus(ctx context.Context, id string, from []models.Status, to models.Status) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	in, args := statusIn(3, from)
	query := `UPDATE upload_sessions SET status=$2, updated_at=now() WHERE id=$1 AND status IN (` + in + `)`
	res, err := r.db.ExecContext(ctx, query, append([]any{id, string(to)}, args...)...)
	if err != nil {
		return false, fmt.Errorf("failed to update status: %w", err)
	}
	return oneRow(res)
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id string, from []models.Status, reason string) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	in, args := statusIn(4, from)
	query := `UPDATE upload_sessions SET status=$2, failure_reason=$3, updated_at=now()
		WHERE id=$1 AND status IN (` + in + `)`
	res, err := r.db.ExecContext(ctx, query, append([]any{id, string(models.StatusFailed), reason}, args...)...)
	if err != nil {
		return false, fmt.Errorf("failed to mark failed: %w", err)
	}
	return oneRow(res)
}

func (r *PostgresRepository) ClaimAssembly(ctx context.Context, id, lease string, now, until time.Time) (bool, error) {
	query := `UPDATE upload_sessions SET assembly_lease_id=$2, assembly_lease_until=$3, updated_at=now()
		WHERE id=$1 AND status='assembling' AND (assembly_lease_until IS NULL OR assembly_lease_until <= $4)`
	res, err := r.db.ExecContext(ctx, query, id, lease, until, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim assembly: %w", err)
	}
	return oneRow(res)
}

func (r *PostgresRepository) RenewAssembly(ctx context.Context, id, lease string, until time.Time) (bool, error) {
	query := `UPDATE upload_sessions SET assembly_lease_until=$3, updated_at=now()
		WHERE id=$1 AND assembly_lease_id=$2 AND status='assembling'`
	res, err := r.db.ExecContext(ctx, query, id, lease, until)
	if err != nil {
		return false, fmt.Errorf("failed to renew assembly lease: %w", err)
	}
	return oneRow(res)
}

func (r *PostgresRepository) ReleaseAssembly(ctx context.Context, id, lease string) error {
	query := `UPDATE upload_sessions SET assembly_lease_id='', assembly_lease_until=NULL
		WHERE id=$1 AND assembly_lease_id=$2`
	if _, err := r.db.ExecContext(ctx, query, id, lease); err != nil {
		return fmt.Errorf("failed to release assembly lease: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetAssembled(ctx context.Context, id, path, checksum string) error {
	query := `UPDATE upload_sessions SET assembled_file_path=$2, assembled_checksum=$3, updated_at=now() WHERE id=$1`
	return r.execOne(ctx, "set assembled", query, id, path, checksum)
}

func (r *PostgresRepository) SetScanQueued(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE upload_sessions SET virus_scan_queued_at=$2, updated_at=now() WHERE id=$1`
	return r.execOne(ctx, "set scan queued", query, id, at)
}

func (r *PostgresRepository) UpdateMetadata(ctx context.Context, id string, md models.Metadata) error {
	query := `UPDATE upload_sessions SET metadata=$2, updated_at=now() WHERE id=$1`
	return r.execOne(ctx, "update metadata", query, id, md)
}

func (r *PostgresRepository) ListStale(ctx context.Context, statuses []models.Status, before time.Time, limit int) ([]*models.UploadSession, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	in, args := statusIn(3, statuses)
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions
		WHERE updated_at < $1 AND status IN (` + in + `)
		ORDER BY updated_at LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, append([]any{before, limit}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to select stale sessions: %w", err)
	}
	defer rows.Close()

	var result []*models.UploadSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes the session; chunk rows go with it (ON DELETE CASCADE).
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, "delete session", `DELETE FROM upload_sessions WHERE id=$1`, id)
}

func (r *PostgresRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	ok, err := oneRow(res)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrorNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*models.UploadSession, error) {
	var (
		s         models.UploadSession
		status    string
		container  sql.NullString
		queuedAt   sql.NullTime
		leaseUntil sql.NullTime
	)
	err := row.Scan(&s.ID, &s.Filename, &s.ContentType, &s.TotalSize, &s.ChunksCount, &status, &container,
		&s.WorkspaceID, &s.OwnerUserID, &s.Metadata, &s.AssembledFilePath, &s.AssembledChecksum, &s.FailureReason,
		&queuedAt, &s.CreatedAt, &s.UpdatedAt, &s.AssemblyLeaseID, &leaseUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	s.Status = models.Status(status)
	s.ContainerID = container.String
	if queuedAt.Valid {
		t := queuedAt.Time
		s.VirusScanQueuedAt = &t
	}
	if leaseUntil.Valid {
		t := leaseUntil.Time
		s.AssemblyLeaseUntil = &t
	}
	return &s, nil
}

// statusIn renders "$n, $n+1, ..." placeholders for statuses.
func statusIn(first int, statuses []models.Status) (string, []any) {
	ph := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		ph[i] = fmt.Sprintf("$%d", first+i)
		args[i] = string(st)
	}
	return strings.Join(ph, ", "), args
}

func oneRow(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
