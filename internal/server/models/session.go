// Package models contains the server-side domain types: upload sessions,
// their chunks, the session lifecycle and security scan reports.
package models

import (
	"sort"
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/common"
)

// UploadSession is one file being uploaded as a sequence of chunks.
type UploadSession struct {
	ID                string
	Filename          string
	ContentType       string
	TotalSize         int64
	ChunksCount       int
	Status            Status
	ContainerID       string // empty means the workspace root
	WorkspaceID       string
	OwnerUserID       string
	Metadata          Metadata
	AssembledFilePath string
	AssembledChecksum string
	FailureReason     string
	VirusScanQueuedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// AssemblyLeaseID names the assembler currently allowed to build the
	// output file. The lease is live until AssemblyLeaseUntil.
	AssemblyLeaseID    string
	AssemblyLeaseUntil *time.Time
}

// HoldsAssembly reports whether lease is the live assembly lease at now.
func (s *UploadSession) HoldsAssembly(lease string, now time.Time) bool {
	return s.Status == StatusAssembling && lease != "" && s.AssemblyLeaseID == lease &&
		s.AssemblyLeaseUntil != nil && now.Before(*s.AssemblyLeaseUntil)
}

// AssemblyLeaseLive reports whether some assembler holds an unexpired lease.
func (s *UploadSession) AssemblyLeaseLive(now time.Time) bool {
	return s.AssemblyLeaseUntil != nil && now.Before(*s.AssemblyLeaseUntil)
}

// AcceptsChunks reports whether chunk ingestion is allowed in the current status.
func (s *UploadSession) AcceptsChunks() bool {
	return s.Status == StatusPending || s.Status == StatusUploading
}

// ValidChunkNumber reports whether n is inside [1, ChunksCount].
func (s *UploadSession) ValidChunkNumber(n int) bool {
	return n >= 1 && n <= s.ChunksCount
}

// Progress returns completed/ChunksCount as a percentage with two decimals.
func (s *UploadSession) Progress(completed int) float64 {
	return common.Percent(completed, s.ChunksCount)
}

// MissingChunks returns, in ascending order, every chunk number in
// [1, ChunksCount] that is not in completed.
func (s *UploadSession) MissingChunks(completed []int) []int {
	have := make(map[int]struct{}, len(completed))
	for _, n := range completed {
		have[n] = struct{}{}
	}
	missing := make([]int, 0, max(s.ChunksCount-len(have), 0))
	for n := 1; n <= s.ChunksCount; n++ {
		if _, ok := have[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

// UploadStatus is the read model returned to clients.
type UploadStatus struct {
	Session         *UploadSession
	CompletedChunks []int
	MissingChunks   []int
	Progress        float64
}

// NewUploadStatus builds the read model from a session and its chunk rows.
func NewUploadStatus(s *UploadSession, chunks []*Chunk) *UploadStatus {
	completed := CompletedNumbers(chunks)
	return &UploadStatus{
		Session:         s,
		CompletedChunks: completed,
		MissingChunks:   s.MissingChunks(completed),
		Progress:        s.Progress(len(completed)),
	}
}

// CompletedNumbers extracts the sorted chunk numbers of completed chunks.
func CompletedNumbers(chunks []*Chunk) []int {
	out := make([]int, 0, len(chunks))
	for _, c := range chunks {
		if c.Status == ChunkStatusCompleted {
			out = append(out, c.ChunkNumber)
		}
	}
	sort.Ints(out)
	return out
}
