package sessions

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
)

// MemoryRepository keeps sessions in a map. It enforces the same
// destination uniqueness as the Postgres index. GetForUpdate does not lock;
// callers serialize through dbx.LockingTxRunner.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*models.UploadSession
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: map[string]*models.UploadSession{}, now: time.Now}
}

func (r *MemoryRepository) Create(ctx context.Context, s *models.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; ok {
		return fmt.Errorf("duplicate session id %s", s.ID)
	}
	for _, other := range r.sessions {
		if other.Status == models.StatusFailed || other.Status == models.StatusCancelled {
			continue
		}
		if other.WorkspaceID == s.WorkspaceID && other.ContainerID == s.ContainerID && other.Filename == s.Filename {
			return &common.ValidationError{
				Kind:   common.ErrorAlreadyExists,
				Detail: fmt.Sprintf("an upload of %q is already in progress in this location", s.Filename),
			}
		}
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*models.UploadSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, id string) (*models.UploadSession, error) {
	return r.Get(ctx, id)
}

func (r *MemoryRepository) CompareAndSwapStatus(ctx context.Context, id string, from []models.Status, to models.Status) (bool, error) {
	return r.update(id, func(s *models.UploadSession) bool {
		if !slices.Contains(from, s.Status) {
			return false
		}
		s.Status = to
		return true
	})
}

func (r *MemoryRepository) MarkFailed(ctx context.Context, id string, from []models.Status, reason string) (bool, error) {
	return r.update(id, func(s *models.UploadSession) bool {
		if !slices.Contains(from, s.Status) {
			return false
		}
		s.Status = models.StatusFailed
		s.FailureReason = reason
		return true
	})
}

func (r *MemoryRepository) ClaimAssembly(ctx context.Context, id, lease string, now, until time.Time) (bool, error) {
	return r.update(id, func(s *models.UploadSession) bool {
		if s.Status != models.StatusAssembling || s.AssemblyLeaseLive(now) {
			return false
		}
		s.AssemblyLeaseID = lease
		s.AssemblyLeaseUntil = &until
		return true
	})
}

func (r *MemoryRepository) RenewAssembly(ctx context.Context, id, lease string, until time.Time) (bool, error) {
	return r.update(id, func(s *models.UploadSession) bool {
		if s.Status != models.StatusAssembling || s.AssemblyLeaseID != lease {
			return false
		}
		s.AssemblyLeaseUntil = &until
		return true
	})
}

func (r *MemoryRepository) ReleaseAssembly(ctx context.Context, id, lease string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && s.AssemblyLeaseID == lease {
		s.AssemblyLeaseID = ""
		s.AssemblyLeaseUntil = nil
	}
	return nil
}

func (r *MemoryRepository) SetAssembled(ctx context.Context, id, path, checksum string) error {
	return r.mustUpdate(id, func(s *models.UploadSession) {
		s.AssembledFilePath = path
		s.AssembledChecksum = checksum
	})
}

func (r *MemoryRepository) SetScanQueued(ctx context.Context, id string, at time.Time) error {
	return r.mustUpdate(id, func(s *models.UploadSession) {
		s.VirusScanQueuedAt = &at
	})
}

func (r *MemoryRepository) UpdateMetadata(ctx context.Context, id string, md models.Metadata) error {
	return r.mustUpdate(id, func(s *models.UploadSession) {
		s.Metadata = md
	})
}

func (r *MemoryRepository) ListStale(ctx context.Context, statuses []models.Status, before time.Time, limit int) ([]*models.UploadSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.UploadSession
	for _, s := range r.sessions {
		if slices.Contains(statuses, s.Status) && s.UpdatedAt.Before(before) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *MemoryRepository) update(id string, fn func(s *models.UploadSession) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false, nil
	}
	if !fn(s) {
		return false, nil
	}
	s.UpdatedAt = r.now()
	return true, nil
}

func (r *MemoryRepository) mustUpdate(id string, fn func(s *models.UploadSession)) error {
	ok, _ := r.update(id, func(s *models.UploadSession) bool {
		fn(s)
		return true
	})
	if !ok {
		return common.ErrorNotFound
	}
	return nil
}
