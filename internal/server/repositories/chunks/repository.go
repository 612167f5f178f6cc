package chunks

import (
	"context"

	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
)

type Repository interface {
	// Upsert writes the row for (SessionID, ChunkNumber), replacing an
	// existing one in place.
	Upsert(ctx context.Context, c *models.Chunk) error
	// Get returns the row for one chunk number or common.ErrorNotFound.
	Get(ctx context.Context, sessionID string, chunkNumber int) (*models.Chunk, error)
	// ListBySession returns the session's chunks ordered by chunk number.
	ListBySession(ctx context.Context, sessionID string) ([]*models.Chunk, error)
	CountCompleted(ctx context.Context, sessionID string) (int, error)
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
}
