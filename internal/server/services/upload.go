// Package services contains the server-side business logic: the upload
// session orchestrator, the assembler and the stale session sweeper.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"github.com/dmitrijs2005/chunkkeeper/internal/cryptox"
	"github.com/dmitrijs2005/chunkkeeper/internal/dbx"
	"github.com/dmitrijs2005/chunkkeeper/internal/logging"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/config"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/security"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/signedurl"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/storage"
	"github.com/google/uuid"
)

// Metadata keys written by the scan callbacks.
const (
	MetaScanResult = "scan_result"
	MetaScanReason = "scan_reason"
)

// ChunkPath is the HTTP path of the chunk upload endpoint.
func ChunkPath(sessionID string, chunkNumber int) string {
	return "/v1/uploads/" + url.PathEscape(sessionID) + "/chunks/" + strconv.Itoa(chunkNumber)
}

// CreateUploadRequest asks for a new session in the pending state.
type CreateUploadRequest struct {
	WorkspaceID string
	ContainerID string
	UserID      string
	Filename    string
	ContentType string
	TotalSize   int64
	ChunksCount int
	Metadata    map[string]any
}

// IngestRequest carries one chunk. UserID must already be authenticated,
// either by a bearer token or by a verified signed URL.
type IngestRequest struct {
	SessionID   string
	ChunkNumber int
	UserID      string
	Data        []byte
	Checksum    string
}

// IngestResult is returned for every accepted chunk.
type IngestResult struct {
	Chunk    *models.Chunk
	Session  *models.UploadSession
	Progress float64
	// Security is set when the scanner flagged the chunk without blocking it.
	Security *models.SecurityReport
	Assembly *AssemblyResult
}

// ChunkURL is a signed upload location for one chunk.
type ChunkURL struct {
	ChunkNumber int
	URL         string
	ExpiresAt   time.Time
}

// UploadService drives the upload session state machine.
type UploadService struct {
	tx        dbx.TxRunner
	rm        repomanager.RepositoryManager
	store     storage.ChunkStore
	scanner   *security.Scanner
	signer    *signedurl.Signer
	assembler *Assembler
	logger    logging.Logger

	maxUploadSize    int64
	maxChunkSize     int64
	requireChecksums bool
	publicURL        string
	urlTTL           time.Duration
	now              func() time.Time
}

// NewUploadService wires the orchestrator. Limits and switches are taken
// from cfg once, at construction.
func NewUploadService(cfg *config.Config, tx dbx.TxRunner, rm repomanager.RepositoryManager,
	store storage.ChunkStore, signer *signedurl.Signer, assembler *Assembler, logger logging.Logger) *UploadService {
	maxUpload := cfg.MaxUploadSize
	if maxUpload <= 0 {
		maxUpload = common.DefaultMaxUploadSize
	}
	maxChunk := cfg.MaxChunkSize
	if maxChunk <= 0 {
		maxChunk = common.DefaultMaxChunkSize
	}
	return &UploadService{
		tx:               tx,
		rm:               rm,
		store:            store,
		scanner:          security.NewScanner(security.DefaultPrefixSize),
		signer:           signer,
		assembler:        assembler,
		logger:           logger.With("module", "uploads"),
		maxUploadSize:    maxUpload,
		maxChunkSize:     maxChunk,
		requireChecksums: cfg.RequireChecksums,
		publicURL:        cfg.PublicHTTPURL,
		urlTTL:           cfg.SignedURLTTL,
		now:              time.Now,
	}
}

// CreateUpload validates naming, size and permission and inserts a pending
// session. A live session for the same destination makes it fail with
// ErrorAlreadyExists.
func (s *UploadService) CreateUpload(ctx context.Context, req CreateUploadRequest) (*models.UploadSession, error) {
	if err := validateID("workspace_id", req.WorkspaceID); err != nil {
		return nil, err
	}
	if req.ContainerID != "" {
		if err := validateID("container_id", req.ContainerID); err != nil {
			return nil, err
		}
	}
	if err := ValidateFilename(req.Filename); err != nil {
		return nil, err
	}
	if req.TotalSize <= 0 || req.TotalSize > s.maxUploadSize {
		return nil, common.NewValidationError(common.ErrInvalidSize,
			"total size %d must be between 1 and %d bytes", req.TotalSize, s.maxUploadSize)
	}
	if req.ChunksCount < 1 || int64(req.ChunksCount) > req.TotalSize {
		return nil, common.NewValidationError(common.ErrInvalidSize,
			"chunks count %d must be between 1 and %d", req.ChunksCount, req.TotalSize)
	}
	if minChunk := (req.TotalSize + int64(req.ChunksCount) - 1) / int64(req.ChunksCount); minChunk > s.maxChunkSize {
		return nil, common.NewValidationError(common.ErrChunkTooLarge,
			"%d chunks of at most %d bytes cannot hold %d bytes", req.ChunksCount, s.maxChunkSize, req.TotalSize)
	}
	md, err := models.NewMetadata(req.Metadata)
	if err != nil {
		return nil, common.NewValidationError(common.ErrValidation, "%v", err)
	}

	ok, err := s.rm.Members(s.tx.Conn()).CanUpload(ctx, req.WorkspaceID, req.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("workspace %s: %w", req.WorkspaceID, common.ErrorNotFound)
	}

	now := s.now()
	sess := &models.UploadSession{
		ID:          uuid.NewString(),
		Filename:    req.Filename,
		ContentType: req.ContentType,
		TotalSize:   req.TotalSize,
		ChunksCount: req.ChunksCount,
		Status:      models.StatusPending,
		ContainerID: req.ContainerID,
		WorkspaceID: req.WorkspaceID,
		OwnerUserID: req.UserID,
		Metadata:    md,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.rm.Sessions(s.tx.Conn()).Create(ctx, sess); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "upload session created", "session_id", sess.ID, "workspace_id", sess.WorkspaceID,
		"filename", sess.Filename, "total_size", sess.TotalSize, "chunks", sess.ChunksCount)
	return sess, nil
}

// authorizedSession loads the session and checks the user may upload into
// its workspace. A denial is indistinguishable from a missing session.
func (s *UploadService) authorizedSession(ctx context.Context, sessionID, userID string) (*models.UploadSession, error) {
	if sessionID == "" || userID == "" {
		return nil, errSessionNotFound(sessionID)
	}
	sess, err := s.rm.Sessions(s.tx.Conn()).Get(ctx, sessionID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, errSessionNotFound(sessionID)
	}
	if err != nil {
		return nil, err
	}
	ok, err := s.rm.Members(s.tx.Conn()).CanUpload(ctx, sess.WorkspaceID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Warn(ctx, "access to upload session denied", "session_id", sessionID, "user_id", userID)
		return nil, errSessionNotFound(sessionID)
	}
	return sess, nil
}

// IngestChunk validates, scans and stores one chunk, then records it. When
// it completes the set, the session is assembled before IngestChunk returns.
//
// Every attempt is stored under its own key; the chunk row is repointed
// under the session row lock and the bytes it replaced are deleted. A chunk
// that repeats a recorded one while the session is stuck in assembling
// retries the assembly instead of being rejected.
func (s *UploadService) IngestChunk(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	sess, err := s.authorizedSession(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With("session_id", sess.ID, "chunk_number", req.ChunkNumber)

	if !sess.ValidChunkNumber(req.ChunkNumber) {
		return nil, common.NewValidationError(common.ErrInvalidChunkNumber,
			"chunk number %d is outside 1..%d", req.ChunkNumber, sess.ChunksCount)
	}
	if !sess.AcceptsChunks() && sess.Status != models.StatusAssembling {
		return nil, notAccepting(sess.Status)
	}
	if len(req.Data) == 0 {
		return nil, common.NewValidationError(common.ErrEmptyChunk, "chunk %d has no content", req.ChunkNumber)
	}
	if int64(len(req.Data)) > s.maxChunkSize {
		return nil, common.NewValidationError(common.ErrChunkTooLarge,
			"chunk %d is %d bytes, limit is %d", req.ChunkNumber, len(req.Data), s.maxChunkSize)
	}
	if s.requireChecksums {
		if _, ok := cryptox.DetectAlgorithm(req.Checksum); !ok {
			return nil, common.NewValidationError(common.ErrChecksumRequired,
				"chunk %d needs a SHA-256 or MD5 hex checksum", req.ChunkNumber)
		}
	}

	computed, checked, err := cryptox.VerifyChecksum(req.Data, req.Checksum)
	var mismatch *cryptox.MismatchError
	if errors.As(err, &mismatch) {
		log.Warn(ctx, "chunk checksum mismatch", "algorithm", mismatch.Algorithm)
		return nil, common.NewValidationError(common.ErrChecksumMismatch, "chunk %d: %s", req.ChunkNumber, mismatch.Error())
	}
	if err != nil {
		return nil, err
	}
	if !checked && req.Checksum != "" {
		log.Debug(ctx, "declared checksum has an unrecognised shape, ignoring it")
	}
	if sess.Status == models.StatusAssembling {
		return s.resumeAssembly(ctx, sess, req.ChunkNumber, computed)
	}

	report := s.scanner.Scan(security.Input{
		Filename:    sess.Filename,
		ContentType: sess.ContentType,
		ChunkNumber: req.ChunkNumber,
		Data:        req.Data,
	})
	if report.Blocked {
		log.Warn(ctx, "chunk blocked by security scan", "risk", report.RiskLevel, "threats", report.Threats)
		return nil, &security.BlockedError{Report: report}
	}
	if report.NeedsAttention() {
		log.Warn(ctx, "chunk flagged by security scan", "risk", report.RiskLevel,
			"warnings", report.Warnings, "threats", report.Threats)
	}

	key, err := s.store.Store(ctx, sess.ID, req.ChunkNumber, req.Data)
	if err != nil {
		log.Error(ctx, "chunk store failed", "error", err)
		return nil, err
	}

	now := s.now()
	chunk := &models.Chunk{
		ID:               uuid.NewString(),
		SessionID:        sess.ID,
		ChunkNumber:      req.ChunkNumber,
		Size:             int64(len(req.Data)),
		Checksum:         computed,
		Status:           models.ChunkStatusCompleted,
		StorageKey:       key,
		SecurityMetadata: report,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var (
		current    *models.UploadSession
		completed  int
		assemble   bool
		superseded string
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		sessions := s.rm.Sessions(tx)
		chunks := s.rm.Chunks(tx)

		locked, err := sessions.GetForUpdate(ctx, sess.ID)
		if err != nil {
			return err
		}
		if !locked.AcceptsChunks() {
			return notAccepting(locked.Status)
		}
		prev, err := chunks.Get(ctx, sess.ID, req.ChunkNumber)
		switch {
		case err == nil:
			superseded = prev.StorageKey
		case !errors.Is(err, common.ErrorNotFound):
			return err
		}
		if err := chunks.Upsert(ctx, chunk); err != nil {
			return err
		}

		if locked.Status == models.StatusPending {
			if _, err := sessions.CompareAndSwapStatus(ctx, sess.ID,
				[]models.Status{models.StatusPending}, models.StatusUploading); err != nil {
				return err
			}
			locked.Status = models.StatusUploading
		}

		completed, err = chunks.CountCompleted(ctx, sess.ID)
		if err != nil {
			return err
		}
		if completed >= locked.ChunksCount {
			ok, err := sessions.CompareAndSwapStatus(ctx, sess.ID,
				[]models.Status{models.StatusUploading}, models.StatusAssembling)
			if err != nil {
				return err
			}
			if ok {
				assemble = true
				locked.Status = models.StatusAssembling
			}
		}
		current = locked
		return nil
	})
	if err != nil {
		s.discard(ctx, sess.ID, key)
		return nil, err
	}
	if superseded != "" && superseded != key {
		s.discard(ctx, sess.ID, superseded)
	}

	log.Info(ctx, "chunk stored", "size", chunk.Size, "completed", completed, "of", current.ChunksCount)

	res := &IngestResult{
		Chunk:    chunk,
		Session:  current,
		Progress: current.Progress(completed),
	}
	if report.NeedsAttention() {
		res.Security = report
	}
	if !assemble {
		return res, nil
	}

	log.Info(ctx, "all chunks received, assembling")
	res.Assembly, err = s.assembler.Assemble(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	current.Status = res.Assembly.Status
	current.AssembledFilePath = res.Assembly.Path
	current.AssembledChecksum = res.Assembly.Checksum
	return res, nil
}

// resumeAssembly answers a repeated chunk for a session left in assembling.
// Only a chunk identical to the recorded one restarts the assembly.
func (s *UploadService) resumeAssembly(ctx context.Context, sess *models.UploadSession, chunkNumber int, checksum string) (*IngestResult, error) {
	row, err := s.rm.Chunks(s.tx.Conn()).Get(ctx, sess.ID, chunkNumber)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, notAccepting(sess.Status)
	}
	if err != nil {
		return nil, err
	}
	if row.Checksum != checksum {
		return nil, notAccepting(sess.Status)
	}

	s.logger.Info(ctx, "chunk repeated during assembly, retrying assembly",
		"session_id", sess.ID, "chunk_number", chunkNumber)
	asm, err := s.assembler.Assemble(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	sess.Status = asm.Status
	sess.AssembledFilePath = asm.Path
	sess.AssembledChecksum = asm.Checksum
	res := &IngestResult{
		Chunk:    row,
		Session:  sess,
		Progress: sess.Progress(sess.ChunksCount),
		Assembly: asm,
	}
	if row.SecurityMetadata.NeedsAttention() {
		res.Security = row.SecurityMetadata
	}
	return res, nil
}

// discard deletes bytes no chunk row points at.
func (s *UploadService) discard(ctx context.Context, sessionID, key string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn(ctx, "deleting unreferenced chunk bytes failed", "session_id", sessionID, "key", key, "error", err)
	}
}

func notAccepting(st models.Status) error {
	return common.NewValidationError(common.ErrSessionNotAcceptingChunks,
		"session is %s, chunks are accepted only while pending or uploading", st)
}

// GetStatus returns the read model for a session.
func (s *UploadService) GetStatus(ctx context.Context, sessionID, userID string) (*models.UploadStatus, error) {
	sess, err := s.authorizedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.rm.Chunks(s.tx.Conn()).ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return models.NewUploadStatus(sess, chunks), nil
}

// CancelUpload moves a live session to cancelled and releases its bytes.
// Only the owner may cancel.
func (s *UploadService) CancelUpload(ctx context.Context, sessionID, userID string) (*models.UploadSession, error) {
	sess, err := s.authorizedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if sess.OwnerUserID != userID {
		return nil, fmt.Errorf("only the owner may cancel an upload: %w", common.ErrorUnauthorized)
	}

	lc := models.Lifecycle{}
	if _, err := lc.Next(sess.Status, models.EventCancel); err != nil {
		return nil, err
	}
	sessions := s.rm.Sessions(s.tx.Conn())
	ok, err := sessions.CompareAndSwapStatus(ctx, sessionID, lc.Sources(models.EventCancel), models.StatusCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		cur, err := sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return nil, &models.InvalidTransitionError{From: cur.Status, Event: models.EventCancel}
	}

	s.release(ctx, sess)
	s.logger.Info(ctx, "upload cancelled", "session_id", sessionID)
	sess.Status = models.StatusCancelled
	return sess, nil
}

// DeleteUpload removes the session, its chunk rows and all stored bytes.
func (s *UploadService) DeleteUpload(ctx context.Context, sessionID, userID string) error {
	sess, err := s.authorizedSession(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if sess.OwnerUserID != userID {
		return fmt.Errorf("only the owner may delete an upload: %w", common.ErrorUnauthorized)
	}
	if sess.Status == models.StatusAssembling {
		return common.NewValidationError(common.ErrInvalidTransition, "session is being assembled, retry later")
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.rm.Chunks(tx).DeleteBySession(ctx, sessionID); err != nil {
			return err
		}
		return s.rm.Sessions(tx).Delete(ctx, sessionID)
	})
	if err != nil {
		return err
	}

	s.release(ctx, sess)
	s.logger.Info(ctx, "upload deleted", "session_id", sessionID)
	return nil
}

// release drops chunk bytes, the assembled file and any partial assembly
// attempts. Failures are logged.
func (s *UploadService) release(ctx context.Context, sess *models.UploadSession) {
	if n, err := s.store.Cleanup(ctx, sess.ID); err != nil {
		s.logger.Warn(ctx, "chunk cleanup failed", "session_id", sess.ID, "error", err)
	} else if n > 0 {
		s.logger.Debug(ctx, "chunk bytes released", "session_id", sess.ID, "objects", n)
	}
	if err := os.RemoveAll(s.assembler.sessionDir(sess)); err != nil {
		s.logger.Warn(ctx, "removing assembled file failed", "session_id", sess.ID, "error", err)
	}
}

// GenerateChunkURLs signs one upload URL per chunk number. An empty list
// means every missing chunk. ttl of zero uses the configured default.
func (s *UploadService) GenerateChunkURLs(ctx context.Context, sessionID, userID string, numbers []int, ttl time.Duration) ([]ChunkURL, error) {
	sess, err := s.authorizedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !sess.AcceptsChunks() {
		return nil, notAccepting(sess.Status)
	}

	if len(numbers) == 0 {
		chunks, err := s.rm.Chunks(s.tx.Conn()).ListBySession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		numbers = sess.MissingChunks(models.CompletedNumbers(chunks))
	}
	for _, n := range numbers {
		if !sess.ValidChunkNumber(n) {
			return nil, common.NewValidationError(common.ErrInvalidChunkNumber,
				"chunk number %d is outside 1..%d", n, sess.ChunksCount)
		}
	}
	if ttl == 0 {
		ttl = s.urlTTL
	}

	grants := s.signer.GenerateBatch(sessionID, numbers, userID, ttl)
	out := make([]ChunkURL, 0, len(grants))
	for _, g := range grants {
		out = append(out, ChunkURL{
			ChunkNumber: g.ChunkNumber,
			URL:         s.publicURL + ChunkPath(sessionID, g.ChunkNumber) + "?" + g.Query().Encode(),
			ExpiresAt:   g.ExpiresAt,
		})
	}
	return out, nil
}

// ScanClean is called by the scan worker when the assembled file is clean.
func (s *UploadService) ScanClean(ctx context.Context, sessionID string) error {
	return s.finishScan(ctx, sessionID, models.EventScanClean, "")
}

// ScanDirty fails the session and deletes the assembled file.
func (s *UploadService) ScanDirty(ctx context.Context, sessionID, reason string) error {
	return s.finishScan(ctx, sessionID, models.EventScanDirty, reason)
}

func (s *UploadService) finishScan(ctx context.Context, sessionID string, ev models.Event, reason string) error {
	var sess *models.UploadSession
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.rm.Sessions(tx)
		locked, err := repo.GetForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		next, err := models.Lifecycle{ScanEnabled: true}.Next(locked.Status, ev)
		if err != nil {
			return err
		}

		md, err := models.NewMetadata(locked.Metadata.AsMap())
		if err != nil {
			return err
		}
		result := "clean"
		if ev == models.EventScanDirty {
			result = "infected"
			if err := md.Set(MetaScanReason, reason); err != nil {
				return err
			}
		}
		if err := md.Set(MetaScanResult, result); err != nil {
			return err
		}
		if err := repo.UpdateMetadata(ctx, sessionID, md); err != nil {
			return err
		}

		from := []models.Status{models.StatusVirusScanning}
		var ok bool
		if next == models.StatusFailed {
			ok, err = repo.MarkFailed(ctx, sessionID, from, "virus scan: "+reason)
		} else {
			ok, err = repo.CompareAndSwapStatus(ctx, sessionID, from, next)
		}
		if err != nil {
			return err
		}
		if !ok {
			return &models.InvalidTransitionError{From: locked.Status, Event: ev}
		}
		locked.Status = next
		sess = locked
		return nil
	})
	if err != nil {
		s.logger.Warn(ctx, "scan result not applied", "session_id", sessionID, "event", ev, "error", err)
		return err
	}

	if ev == models.EventScanDirty {
		s.logger.Warn(ctx, "assembled file failed virus scan", "session_id", sessionID, "reason", reason)
		if err := os.Remove(sess.AssembledFilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Error(ctx, "removing infected file failed", "session_id", sessionID, "error", err)
		}
		return nil
	}
	s.logger.Info(ctx, "upload completed", "session_id", sessionID, "path", sess.AssembledFilePath)
	return nil
}
