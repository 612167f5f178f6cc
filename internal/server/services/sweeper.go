package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"github.com/dmitrijs2005/chunkkeeper/internal/logging"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
)

// scanRequeueGrace is how long a session may sit in virus_scanning without
// a queued job before the sweeper enqueues it again.
const scanRequeueGrace = 5 * time.Minute

const sweepBatch = 100

// SweepReport counts what one sweep did.
type SweepReport struct {
	Expired     int
	Reassembled int
	Requeued    int
}

// Sweeper periodically expires abandoned uploads, retries assemblies that
// were interrupted by a storage failure and re-enqueues scans that never
// reached the queue.
type Sweeper struct {
	svc      *UploadService
	interval time.Duration
	ttl      time.Duration
	logger   logging.Logger
}

func NewSweeper(svc *UploadService, interval, ttl time.Duration, logger logging.Logger) *Sweeper {
	return &Sweeper{svc: svc, interval: interval, ttl: ttl, logger: logger.With("module", "sweeper")}
}

// Run sweeps once immediately, then on every tick until ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	if w.interval <= 0 || w.ttl <= 0 {
		w.logger.Info(ctx, "sweeper disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error(ctx, "sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass.
func (w *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	now := w.svc.now()
	sessions := w.svc.rm.Sessions(w.svc.tx.Conn())

	stale, err := sessions.ListStale(ctx, []models.Status{models.StatusPending, models.StatusUploading}, now.Add(-w.ttl), sweepBatch)
	if err != nil {
		return rep, err
	}
	for _, s := range stale {
		if w.expire(ctx, s, "upload expired before all chunks arrived") {
			rep.Expired++
		}
	}

	// Lease renewals touch updated_at, so only sessions whose assembly lease
	// has lapsed are listed here.
	stuck, err := sessions.ListStale(ctx, []models.Status{models.StatusAssembling}, now.Add(-w.svc.assembler.leaseTTL), sweepBatch)
	if err != nil {
		return rep, err
	}
	for _, s := range stuck {
		if s.UpdatedAt.Before(now.Add(-w.ttl)) {
			if w.expire(ctx, s, "assembly did not complete") {
				rep.Expired++
			}
			continue
		}
		if _, err := w.svc.assembler.Assemble(ctx, s.ID); err != nil {
			if errors.Is(err, common.ErrAssemblyInProgress) {
				continue
			}
			if errors.Is(err, common.ErrIntegrity) {
				rep.Expired++
			}
			w.logger.Warn(ctx, "assembly retry failed", "session_id", s.ID, "error", err)
			continue
		}
		rep.Reassembled++
	}

	scanning, err := sessions.ListStale(ctx, []models.Status{models.StatusVirusScanning}, now.Add(-scanRequeueGrace), sweepBatch)
	if err != nil {
		return rep, err
	}
	for _, s := range scanning {
		if s.VirusScanQueuedAt != nil || w.svc.assembler.queue == nil {
			continue
		}
		w.svc.assembler.enqueueScan(ctx, s.ID, s.AssembledFilePath)
		rep.Requeued++
	}

	if rep != (SweepReport{}) {
		w.logger.Info(ctx, "sweep finished", "expired", rep.Expired, "reassembled", rep.Reassembled, "requeued", rep.Requeued)
	}
	return rep, nil
}

func (w *Sweeper) expire(ctx context.Context, s *models.UploadSession, reason string) bool {
	ok, err := w.svc.rm.Sessions(w.svc.tx.Conn()).MarkFailed(ctx, s.ID, []models.Status{s.Status}, reason)
	if err != nil {
		w.logger.Warn(ctx, "expiring session failed", "session_id", s.ID, "error", err)
		return false
	}
	if !ok {
		return false
	}
	w.svc.release(ctx, s)
	w.logger.Info(ctx, "session expired", "session_id", s.ID, "status", s.Status, "reason", reason)
	return true
}
