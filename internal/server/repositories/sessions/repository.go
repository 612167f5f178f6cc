package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
)

// DestinationConstraint is the partial unique index guarding
// (workspace, container, filename) among live sessions.
const DestinationConstraint = "upload_sessions_destination_key"

type Repository interface {
	Create(ctx context.Context, s *models.UploadSession) error
	Get(ctx context.Context, id string) (*models.UploadSession, error)
	// GetForUpdate loads the session and locks its row until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (*models.UploadSession, error)
	// CompareAndSwapStatus moves the session to "to" only if its current
	// status is one of "from". It reports whether the swap happened.
	CompareAndSwapStatus(ctx context.Context, id string, from []models.Status, to models.Status) (bool, error)
	// MarkFailed is CompareAndSwapStatus to failed that also records the reason.
	MarkFailed(ctx context.Context, id string, from []models.Status, reason string) (bool, error)
	// ClaimAssembly hands the assembly lease to lease if the session is
	// assembling and no lease is live at now. It reports whether it did.
	ClaimAssembly(ctx context.Context, id, lease string, now, until time.Time) (bool, error)
	// RenewAssembly extends a lease that its holder still owns.
	RenewAssembly(ctx context.Context, id, lease string, until time.Time) (bool, error)
	// ReleaseAssembly drops lease so that a retry can claim it at once.
	ReleaseAssembly(ctx context.Context, id, lease string) error
	SetAssembled(ctx context.Context, id, path, checksum string) error
	SetScanQueued(ctx context.Context, id string, at time.Time) error
	UpdateMetadata(ctx context.Context, id string, md models.Metadata) error
	// ListStale returns sessions in one of statuses not updated since before.
	ListStale(ctx context.Context, statuses []models.Status, before time.Time, limit int) ([]*models.UploadSession, error)
	Delete(ctx context.Context, id string) error
}
