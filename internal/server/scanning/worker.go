package scanning

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/logging"
	"golang.org/x/sync/errgroup"
)

// Callbacks receives scan verdicts. The upload service implements it.
type Callbacks interface {
	ScanClean(ctx context.Context, sessionID string) error
	ScanDirty(ctx context.Context, sessionID, reason string) error
}

// Worker pulls jobs from a Queue and scans them with an Engine.
type Worker struct {
	queue       Queue
	engine      Engine
	callbacks   Callbacks
	logger      logging.Logger
	concurrency int
	maxAttempts int
	backoff     time.Duration
}

func NewWorker(q Queue, e Engine, cb Callbacks, logger logging.Logger, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       q,
		engine:      e,
		callbacks:   cb,
		logger:      logger.With("module", "scan-worker"),
		concurrency: concurrency,
		maxAttempts: 3,
		backoff:     time.Second,
	}
}

// Run blocks until ctx is done or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	var g errgroup.Group
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			w.pollLoop(ctx, i)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) pollLoop(ctx context.Context, id int) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			var poison *PoisonError
			if errors.As(err, &poison) {
				w.logger.Error(ctx, "dropping undecodable scan job", "error", err)
				continue
			}
			w.logger.Warn(ctx, "dequeue failed", "worker", id, "error", err)
			if !sleep(ctx, w.backoff) {
				return
			}
			continue
		}
		w.handle(ctx, job)
	}
}

func (w *Worker) handle(ctx context.Context, job Job) {
	log := w.logger.With("session_id", job.SessionID, "attempt", job.Attempt)

	verdict, err := w.engine.Scan(ctx, job.FilePath)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		job.Attempt++
		if job.Attempt < w.maxAttempts {
			log.Warn(ctx, "scan failed, requeueing", "error", err)
			if err := w.queue.Enqueue(ctx, job); err != nil {
				log.Error(ctx, "requeue failed", "error", err)
			}
			return
		}
		log.Error(ctx, "scan failed, giving up", "error", err)
		verdict = Verdict{Clean: false, Reason: "virus scan could not be completed"}
	}

	if verdict.Clean {
		err = w.callbacks.ScanClean(ctx, job.SessionID)
	} else {
		err = w.callbacks.ScanDirty(ctx, job.SessionID, verdict.Reason)
	}
	if err != nil {
		log.Error(ctx, "scan callback failed", "clean", verdict.Clean, "error", err)
		return
	}
	log.Info(ctx, "scan finished", "clean", verdict.Clean, "reason", verdict.Reason,
		"latency", time.Since(job.EnqueuedAt).String())
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
