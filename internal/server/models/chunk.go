package models

import "time"

type ChunkStatus string

const (
	ChunkStatusPending   ChunkStatus = "pending"
	ChunkStatusCompleted ChunkStatus = "completed"
)

// Chunk is one numbered slice of an upload session. (SessionID, ChunkNumber)
// is unique; re-uploads update the row in place.
type Chunk struct {
	ID               string
	SessionID        string
	ChunkNumber      int
	Size             int64
	Checksum         string
	Status           ChunkStatus
	StorageKey       string
	SecurityMetadata *SecurityReport
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
