package members

import (
	"context"

	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
)

type Repository interface {
	// CanUpload reports whether userID is an owner or collaborator of workspaceID.
	CanUpload(ctx context.Context, workspaceID, userID string) (bool, error)
	Add(ctx context.Context, workspaceID, userID string, role models.Role) error
}
