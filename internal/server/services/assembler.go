package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"github.com/dmitrijs2005/chunkkeeper/internal/dbx"
	"github.com/dmitrijs2005/chunkkeeper/internal/filex"
	"github.com/dmitrijs2005/chunkkeeper/internal/logging"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/scanning"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/storage"
	"github.com/google/uuid"
)

// AssemblyResult describes a successfully assembled file.
type AssemblyResult struct {
	Path     string
	Checksum string
	Size     int64
	Status   models.Status
}

// DefaultAssemblyLease is how long an assembly attempt owns a session
// without renewing its claim.
const DefaultAssemblyLease = 2 * time.Minute

// Assembler concatenates the chunks of a session into one file.
type Assembler struct {
	tx        dbx.TxRunner
	rm        repomanager.RepositoryManager
	store     storage.ChunkStore
	queue     scanning.Queue
	lifecycle models.Lifecycle
	dir       string
	leaseTTL  time.Duration
	logger    logging.Logger
	now       func() time.Time
}

// NewAssembler writes assembled files under dir. A nil queue disables virus
// scanning: sessions go straight to completed.
func NewAssembler(tx dbx.TxRunner, rm repomanager.RepositoryManager, store storage.ChunkStore,
	queue scanning.Queue, dir string, logger logging.Logger) *Assembler {
	return &Assembler{
		tx:        tx,
		rm:        rm,
		store:     store,
		queue:     queue,
		lifecycle: models.Lifecycle{ScanEnabled: queue != nil},
		dir:       dir,
		leaseTTL:  DefaultAssemblyLease,
		logger:    logger.With("module", "assembler"),
		now:       time.Now,
	}
}

// OutputPath is where the assembled file of s is written.
func (a *Assembler) OutputPath(s *models.UploadSession) string {
	return filepath.Join(a.sessionDir(s), s.Filename)
}

func (a *Assembler) sessionDir(s *models.UploadSession) string {
	return filepath.Join(a.dir, s.WorkspaceID, s.ID)
}

// attemptPath is private to one lease. Only the lease holder renames it to
// the output path, under the session row lock.
func attemptPath(path, lease string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+lease+".part")
}

// Assemble requires the session to be in assembling with every chunk
// present. Chunks are read strictly in chunk number order.
//
// An attempt first claims the session's assembly lease and keeps renewing
// it while it copies. A session whose lease is held elsewhere yields
// ErrAssemblyInProgress.
func (a *Assembler) Assemble(ctx context.Context, sessionID string) (*AssemblyResult, error) {
	lease := uuid.NewString()
	sess, err := a.claim(ctx, sessionID, lease)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := a.rm.Sessions(a.tx.Conn()).ReleaseAssembly(context.WithoutCancel(ctx), sessionID, lease); err != nil {
			a.logger.Warn(ctx, "releasing assembly lease failed", "session_id", sessionID, "error", err)
		}
	}()

	actx, stop := context.WithCancelCause(ctx)
	renewed := a.keepLease(actx, stop, sessionID, lease)
	res, err := a.assemble(actx, sess, lease)
	stop(nil)
	<-renewed
	if err != nil {
		if cause := context.Cause(actx); errors.Is(cause, common.ErrAssemblyInProgress) {
			return nil, cause
		}
		return nil, err
	}

	log := a.logger.With("session_id", sessionID)
	if res.Status == models.StatusVirusScanning {
		a.enqueueScan(ctx, sessionID, res.Path)
	}
	if n, err := a.store.Cleanup(ctx, sessionID); err != nil {
		log.Warn(ctx, "chunk cleanup failed", "error", err)
	} else {
		log.Debug(ctx, "chunk bytes released", "objects", n)
	}
	return res, nil
}

func (a *Assembler) claim(ctx context.Context, sessionID, lease string) (*models.UploadSession, error) {
	var sess *models.UploadSession
	err := a.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := a.rm.Sessions(tx)
		locked, err := repo.GetForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if locked.Status != models.StatusAssembling {
			return &models.InvalidTransitionError{From: locked.Status, Event: models.EventComplete}
		}
		now := a.now()
		ok, err := repo.ClaimAssembly(ctx, sessionID, lease, now, now.Add(a.leaseTTL))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("session %s: %w", sessionID, common.ErrAssemblyInProgress)
		}
		sess = locked
		return nil
	})
	return sess, err
}

// keepLease renews the lease every third of its TTL until ctx is done. A
// failed renewal cancels ctx with ErrAssemblyInProgress as the cause.
func (a *Assembler) keepLease(ctx context.Context, cancel context.CancelCauseFunc, sessionID, lease string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(a.leaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			ok, err := a.rm.Sessions(a.tx.Conn()).RenewAssembly(ctx, sessionID, lease, a.now().Add(a.leaseTTL))
			if err == nil && ok {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn(ctx, "assembly lease lost", "session_id", sessionID, "error", err)
			cancel(fmt.Errorf("session %s: %w", sessionID, common.ErrAssemblyInProgress))
			return
		}
	}()
	return done
}

// underLease runs fn inside a transaction that holds the session row lock,
// provided the lease is still the live claim on the session.
func (a *Assembler) underLease(ctx context.Context, sessionID, lease string, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return a.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		locked, err := a.rm.Sessions(tx).GetForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if !locked.HoldsAssembly(lease, a.now()) {
			if locked.Status != models.StatusAssembling {
				return &models.InvalidTransitionError{From: locked.Status, Event: models.EventComplete}
			}
			return fmt.Errorf("session %s: %w", sessionID, common.ErrAssemblyInProgress)
		}
		return fn(ctx, tx)
	})
}

func (a *Assembler) assemble(ctx context.Context, sess *models.UploadSession, lease string) (*AssemblyResult, error) {
	chunkRows, err := a.rm.Chunks(a.tx.Conn()).ListBySession(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	keys, err := orderedKeys(sess, chunkRows)
	if err != nil {
		return nil, err
	}

	log := a.logger.With("session_id", sess.ID)
	log.Info(ctx, "assembly started", "chunks", len(keys), "total_size", sess.TotalSize)
	started := a.now()

	path := a.OutputPath(sess)
	rel, err := filepath.Rel(a.dir, path)
	if err != nil || !filepath.IsLocal(rel) {
		return nil, common.NewValidationError(common.ErrInvalidFilename, "output path escapes assembly directory")
	}
	part := attemptPath(path, lease)
	defer os.Remove(part)

	h := sha256.New()
	src := storage.Concat(ctx, a.store, keys)
	written, err := filex.WriteFileAtomic(part, io.TeeReader(src, h))
	_ = src.Close()
	if err != nil {
		if errors.Is(err, storage.ErrChunkMissing) {
			return nil, a.fail(ctx, sess, lease, "chunk bytes lost before assembly", &IntegrityError{Expected: sess.TotalSize, Actual: written})
		}
		log.Error(ctx, "assembly write failed", "error", err)
		if errors.Is(err, common.ErrStorage) {
			return nil, err
		}
		return nil, &storage.Error{Op: "assemble", Err: err}
	}

	if written != sess.TotalSize {
		ierr := &IntegrityError{Expected: sess.TotalSize, Actual: written}
		return nil, a.fail(ctx, sess, lease, ierr.Error(), ierr)
	}
	checksum := hex.EncodeToString(h.Sum(nil))

	next, err := a.lifecycle.Next(models.StatusAssembling, models.EventComplete)
	if err != nil {
		return nil, err
	}
	err = a.underLease(ctx, sess.ID, lease, func(ctx context.Context, tx dbx.DBTX) error {
		if err := os.Rename(part, path); err != nil {
			return &storage.Error{Op: "assemble", Err: err}
		}
		repo := a.rm.Sessions(tx)
		if err := repo.SetAssembled(ctx, sess.ID, path, checksum); err != nil {
			return err
		}
		ok, err := repo.CompareAndSwapStatus(ctx, sess.ID, []models.Status{models.StatusAssembling}, next)
		if err != nil {
			return err
		}
		if !ok {
			return &models.InvalidTransitionError{From: models.StatusAssembling, Event: models.EventComplete}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info(ctx, "assembly finished", "size", written, "status", next,
		"duration", a.now().Sub(started).String())
	return &AssemblyResult{Path: path, Checksum: checksum, Size: written, Status: next}, nil
}

// enqueueScan hands the file to the scanning collaborator. A failure leaves
// virus_scan_queued_at empty so the sweeper can retry.
func (a *Assembler) enqueueScan(ctx context.Context, sessionID, path string) {
	now := a.now()
	job := scanning.Job{SessionID: sessionID, FilePath: path, EnqueuedAt: now}
	if err := a.queue.Enqueue(ctx, job); err != nil {
		a.logger.Error(ctx, "scan enqueue failed", "session_id", sessionID, "error", err)
		return
	}
	if err := a.rm.Sessions(a.tx.Conn()).SetScanQueued(ctx, sessionID, now); err != nil {
		a.logger.Warn(ctx, "recording scan enqueue failed", "session_id", sessionID, "error", err)
	}
	a.logger.Info(ctx, "virus scan queued", "session_id", sessionID)
}

// fail marks the session failed, but only while this attempt still holds
// the lease. A superseded attempt reports the lost claim instead.
func (a *Assembler) fail(ctx context.Context, sess *models.UploadSession, lease, reason string, cause error) error {
	err := a.underLease(ctx, sess.ID, lease, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := a.rm.Sessions(tx).MarkFailed(ctx, sess.ID, []models.Status{models.StatusAssembling}, reason)
		return err
	})
	if errors.Is(err, common.ErrAssemblyInProgress) || errors.Is(err, common.ErrInvalidTransition) {
		return err
	}
	a.logger.Error(ctx, "assembly integrity failure", "session_id", sess.ID, "reason", reason)
	if err != nil {
		return fmt.Errorf("%w (marking session failed: %v)", cause, err)
	}
	return cause
}

// orderedKeys returns storage keys for chunks 1..ChunksCount.
func orderedKeys(sess *models.UploadSession, chunkRows []*models.Chunk) ([]string, error) {
	byNumber := make(map[int]string, len(chunkRows))
	completed := make([]int, 0, len(chunkRows))
	for _, c := range chunkRows {
		if c.Status != models.ChunkStatusCompleted {
			continue
		}
		byNumber[c.ChunkNumber] = c.StorageKey
		completed = append(completed, c.ChunkNumber)
	}
	if missing := sess.MissingChunks(completed); len(missing) > 0 {
		return nil, &NotReadyError{Missing: missing}
	}
	keys := make([]string, sess.ChunksCount)
	for n := 1; n <= sess.ChunksCount; n++ {
		keys[n-1] = byNumber[n]
	}
	return keys, nil
}
