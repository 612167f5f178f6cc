package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// Upload limits applied when the configuration leaves them unset.
const (
	DefaultMaxUploadSize int64 = 5 << 30
	DefaultMaxChunkSize  int64 = 64 << 20
	MaxFilenameLength          = 255
)

// ChunkChecksumHeader carries the declared digest of an uploaded chunk.
const ChunkChecksumHeader = "X-Chunk-Checksum"
