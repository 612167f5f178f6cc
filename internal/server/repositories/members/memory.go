package members

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
)

type MemoryRepository struct {
	mu    sync.RWMutex
	roles map[[2]string]models.Role
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{roles: map[[2]string]models.Role{}}
}

func (r *MemoryRepository) CanUpload(ctx context.Context, workspaceID, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[[2]string{workspaceID, userID}].CanUpload(), nil
}

func (r *MemoryRepository) Add(ctx context.Context, workspaceID, userID string, role models.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[[2]string{workspaceID, userID}] = role
	return nil
}
