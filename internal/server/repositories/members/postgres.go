// Package members answers the single authorization question the upload
// core needs: may this user upload into this workspace.
package members

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/chunkkeeper/internal/dbx"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CanUpload(ctx context.Context, workspaceID, userID string) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM workspace_members
		WHERE workspace_id=$1 AND user_id=$2 AND role IN ('owner', 'collaborator')
	)`
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, workspaceID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return ok, nil
}

// Add inserts or re-roles a membership.
func (r *PostgresRepository) Add(ctx context.Context, workspaceID, userID string, role models.Role) error {
	query := `
		INSERT INTO workspace_members (workspace_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, user_id)
		DO UPDATE SET role = EXCLUDED.role
	`
	if _, err := r.db.ExecContext(ctx, query, workspaceID, userID, string(role)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
