package chunks

import (
	"context"
	"sort"
	"sync"

	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
)

type key struct {
	session string
	number  int
}

// MemoryRepository keeps chunk rows keyed by (session, chunk number).
type MemoryRepository struct {
	mu     sync.RWMutex
	chunks map[key]*models.Chunk
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{chunks: map[key]*models.Chunk{}}
}

func (r *MemoryRepository) Upsert(ctx context.Context, c *models.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{c.SessionID, c.ChunkNumber}
	if prev, ok := r.chunks[k]; ok {
		c.ID = prev.ID
		c.CreatedAt = prev.CreatedAt
	} else {
		c.CreatedAt = c.UpdatedAt
	}
	cp := *c
	r.chunks[k] = &cp
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, sessionID string, chunkNumber int) (*models.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chunks[key{sessionID, chunkNumber}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) ListBySession(ctx context.Context, sessionID string) ([]*models.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Chunk
	for k, c := range r.chunks {
		if k.session == sessionID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkNumber < out[j].ChunkNumber })
	return out, nil
}

func (r *MemoryRepository) CountCompleted(ctx context.Context, sessionID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for k, c := range r.chunks {
		if k.session == sessionID && c.Status == models.ChunkStatusCompleted {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k := range r.chunks {
		if k.session == sessionID {
			delete(r.chunks, k)
			n++
		}
	}
	return n, nil
}
