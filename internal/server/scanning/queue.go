// Package scanning is the asynchronous virus-scanning collaborator: the
// assembler enqueues a job per assembled file, a worker scans it and calls
// back into the upload service with the verdict.
package scanning

import (
	"context"
	"errors"
	"time"
)

// Job asks for one assembled file to be scanned.
type Job struct {
	SessionID  string    `json:"session_id"`
	FilePath   string    `json:"file_path"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempt    int       `json:"attempt"`
}

// Queue is a FIFO of scan jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (Job, error)
	Close() error
}

var ErrQueueClosed = errors.New("scan queue closed")

// MemoryQueue is an in-process queue for single-node deployments and tests.
type MemoryQueue struct {
	jobs   chan Job
	closed chan struct{}
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{jobs: make(chan Job, capacity), closed: make(chan struct{})}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-q.closed:
		return Job{}, ErrQueueClosed
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Len reports queued jobs.
func (q *MemoryQueue) Len() int { return len(q.jobs) }

func (q *MemoryQueue) Close() error {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
	return nil
}
