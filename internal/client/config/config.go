// Package config loads runtime configuration for the chunkkeeper uploader.
//
// Sources, later overriding earlier:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c / -config or $CHUNKKEEPER_CONFIG.
//  3. $CHUNKKEEPER_TOKEN for the access token.
//  4. Command-line flags.
//
// JSON durations accept "3s" style strings or integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "workspace_id": "ws-1",
//	  "chunk_size": 8388608,
//	  "concurrency": 4,
//	  "request_timeout": "30s"
//	}
package config

import (
	"os"
	"time"
)

// TokenEnvVar is consulted for the access token before flags are parsed.
const TokenEnvVar = "CHUNKKEEPER_TOKEN"

// Config holds runtime settings for the uploader.
//
// Fields:
//   - ServerEndpointAddr: host:port of the gRPC control API.
//   - AccessToken: JWT sent with every call and with unsigned chunk uploads.
//   - WorkspaceID / ContainerID: upload destination.
//   - ChunkSize: bytes per chunk; the last chunk may be shorter.
//   - Concurrency: chunks in flight at once.
//   - Retries: extra attempts for a chunk after a retryable failure.
//   - URLTTL: requested signed URL lifetime, zero for the server default.
//   - RequestTimeout: per-request deadline for control calls and chunk POSTs.
type Config struct {
	ServerEndpointAddr string
	AccessToken        string
	WorkspaceID        string
	ContainerID        string
	ChunkSize          int64
	Concurrency        int
	Retries            int
	URLTTL             time.Duration
	RequestTimeout     time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.ChunkSize = 8 << 20
	c.Concurrency = 4
	c.Retries = 3
	c.URLTTL = 0
	c.RequestTimeout = 30 * time.Second
}

// LoadConfig applies defaults, then JSON, the token environment variable
// and finally command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	if tok := os.Getenv(TokenEnvVar); tok != "" {
		cfg.AccessToken = tok
	}
	parseFlags(cfg)
	return cfg
}
