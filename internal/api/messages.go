package api

import (
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
)

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

type CreateUploadRequest struct {
	WorkspaceID string         `json:"workspace_id"`
	ContainerID string         `json:"container_id,omitempty"`
	Filename    string         `json:"filename"`
	ContentType string         `json:"content_type,omitempty"`
	TotalSize   int64          `json:"total_size"`
	ChunksCount int            `json:"chunks_count"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type CreateUploadResponse struct {
	Session Session `json:"session"`
}

type GetStatusRequest struct {
	SessionID string `json:"session_id"`
}

type GenerateChunkURLsRequest struct {
	SessionID string `json:"session_id"`
	// ChunkNumbers empty means every missing chunk.
	ChunkNumbers []int `json:"chunk_numbers,omitempty"`
	TTLSeconds   int64 `json:"ttl_seconds,omitempty"`
}

type GenerateChunkURLsResponse struct {
	URLs []ChunkURL `json:"urls"`
}

type ChunkURL struct {
	ChunkNumber int       `json:"chunk_number"`
	URL         string    `json:"url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type CancelUploadRequest struct {
	SessionID string `json:"session_id"`
}

type CancelUploadResponse struct {
	Session Session `json:"session"`
}

type DeleteUploadRequest struct {
	SessionID string `json:"session_id"`
}

type DeleteUploadResponse struct{}

// Session is the wire form of an upload session.
type Session struct {
	ID                string          `json:"id"`
	Filename          string          `json:"filename"`
	ContentType       string          `json:"content_type,omitempty"`
	TotalSize         int64           `json:"total_size"`
	ChunksCount       int             `json:"chunks_count"`
	Status            models.Status   `json:"status"`
	ContainerID       string          `json:"container_id,omitempty"`
	WorkspaceID       string          `json:"workspace_id"`
	OwnerUserID       string          `json:"owner_user_id"`
	Metadata          models.Metadata `json:"metadata"`
	AssembledFilePath string          `json:"assembled_file_path,omitempty"`
	AssembledChecksum string          `json:"assembled_checksum,omitempty"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	VirusScanQueuedAt *time.Time      `json:"virus_scan_queued_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// UploadStatus is returned by GetStatus and by the HTTP status endpoint.
type UploadStatus struct {
	Session         Session `json:"session"`
	CompletedChunks []int   `json:"completed_chunks"`
	MissingChunks   []int   `json:"missing_chunks"`
	Progress        float64 `json:"progress"`
}

// ChunkResponse is the body of a successful chunk upload.
type ChunkResponse struct {
	Chunk    Chunk                  `json:"chunk"`
	Session  SessionProgress        `json:"session"`
	Security *models.SecurityReport `json:"security,omitempty"`
}

type Chunk struct {
	ID          string             `json:"id"`
	ChunkNumber int                `json:"chunk_number"`
	Size        int64              `json:"size"`
	Checksum    string             `json:"checksum"`
	Status      models.ChunkStatus `json:"status"`
}

type SessionProgress struct {
	ID                string        `json:"id"`
	Status            models.Status `json:"status"`
	Progress          float64       `json:"progress"`
	AssembledChecksum string        `json:"assembled_checksum,omitempty"`
}

// ErrorResponse is the body of every failed HTTP request.
type ErrorResponse struct {
	Error    string                 `json:"error"`
	Code     string                 `json:"code"`
	Security *models.SecurityReport `json:"security,omitempty"`
}

func FromSession(s *models.UploadSession) Session {
	return Session{
		ID:                s.ID,
		Filename:          s.Filename,
		ContentType:       s.ContentType,
		TotalSize:         s.TotalSize,
		ChunksCount:       s.ChunksCount,
		Status:            s.Status,
		ContainerID:       s.ContainerID,
		WorkspaceID:       s.WorkspaceID,
		OwnerUserID:       s.OwnerUserID,
		Metadata:          s.Metadata,
		AssembledFilePath: s.AssembledFilePath,
		AssembledChecksum: s.AssembledChecksum,
		FailureReason:     s.FailureReason,
		VirusScanQueuedAt: s.VirusScanQueuedAt,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func FromUploadStatus(st *models.UploadStatus) UploadStatus {
	return UploadStatus{
		Session:         FromSession(st.Session),
		CompletedChunks: st.CompletedChunks,
		MissingChunks:   st.MissingChunks,
		Progress:        st.Progress,
	}
}
