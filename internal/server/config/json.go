package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/flagx"
	"github.com/dmitrijs2005/chunkkeeper/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
type JsonConfig struct {
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc"`
	EndpointAddrHTTP            string         `json:"endpoint_addr_http"`
	PublicHTTPURL               string         `json:"public_http_url"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	S3RootUser                  string         `json:"s3_root_user"`
	S3RootPassword              string         `json:"s3_root_password"`
	S3Bucket                    string         `json:"s3_bucket"`
	S3Region                    string         `json:"s3_region"`
	S3BaseEndpoint              string         `json:"s3_base_endpoint"`
	ChunkBackend                string         `json:"chunk_backend"`
	ChunkDir                    string         `json:"chunk_dir"`
	AssembledDir                string         `json:"assembled_dir"`
	MaxUploadSize               int64          `json:"max_upload_size"`
	MaxChunkSize                int64          `json:"max_chunk_size"`
	SignedURLTTL                timex.Duration `json:"signed_url_ttl"`
	RequireSignedURLs           bool           `json:"require_signed_urls"`
	RequireChecksums            bool           `json:"require_checksums"`
	ScannerEnabled              bool           `json:"scanner_enabled"`
	RedisAddr                   string         `json:"redis_addr"`
	ScanQueueName               string         `json:"scan_queue_name"`
	StaleSessionTTL             timex.Duration `json:"stale_session_ttl"`
	SweepInterval               timex.Duration `json:"sweep_interval"`
	LogLevel                    string         `json:"log_level"`
	Members                     []Member       `json:"members"`
}

func fromConfig(c *Config) *JsonConfig {
	return &JsonConfig{
		EndpointAddrGRPC:            c.EndpointAddrGRPC,
		EndpointAddrHTTP:            c.EndpointAddrHTTP,
		PublicHTTPURL:               c.PublicHTTPURL,
		DatabaseDSN:                 c.DatabaseDSN,
		SecretKey:                   c.SecretKey,
		AccessTokenValidityDuration: timex.Duration{Duration: c.AccessTokenValidityDuration},
		S3RootUser:                  c.S3RootUser,
		S3RootPassword:              c.S3RootPassword,
		S3Bucket:                    c.S3Bucket,
		S3Region:                    c.S3Region,
		S3BaseEndpoint:              c.S3BaseEndpoint,
		ChunkBackend:                c.ChunkBackend,
		ChunkDir:                    c.ChunkDir,
		AssembledDir:                c.AssembledDir,
		MaxUploadSize:               c.MaxUploadSize,
		MaxChunkSize:                c.MaxChunkSize,
		SignedURLTTL:                timex.Duration{Duration: c.SignedURLTTL},
		RequireSignedURLs:           c.RequireSignedURLs,
		RequireChecksums:            c.RequireChecksums,
		ScannerEnabled:              c.ScannerEnabled,
		RedisAddr:                   c.RedisAddr,
		ScanQueueName:               c.ScanQueueName,
		StaleSessionTTL:             timex.Duration{Duration: c.StaleSessionTTL},
		SweepInterval:               timex.Duration{Duration: c.SweepInterval},
		LogLevel:                    c.LogLevel,
		Members:                     c.Members,
	}
}

func (j *JsonConfig) apply(c *Config) {
	c.EndpointAddrGRPC = j.EndpointAddrGRPC
	c.EndpointAddrHTTP = j.EndpointAddrHTTP
	c.PublicHTTPURL = j.PublicHTTPURL
	c.DatabaseDSN = j.DatabaseDSN
	c.SecretKey = j.SecretKey
	c.AccessTokenValidityDuration = time.Duration(j.AccessTokenValidityDuration.Duration)
	c.S3RootUser = j.S3RootUser
	c.S3RootPassword = j.S3RootPassword
	c.S3Bucket = j.S3Bucket
	c.S3Region = j.S3Region
	c.S3BaseEndpoint = j.S3BaseEndpoint
	c.ChunkBackend = j.ChunkBackend
	c.ChunkDir = j.ChunkDir
	c.AssembledDir = j.AssembledDir
	c.MaxUploadSize = j.MaxUploadSize
	c.MaxChunkSize = j.MaxChunkSize
	c.SignedURLTTL = time.Duration(j.SignedURLTTL.Duration)
	c.RequireSignedURLs = j.RequireSignedURLs
	c.RequireChecksums = j.RequireChecksums
	c.ScannerEnabled = j.ScannerEnabled
	c.RedisAddr = j.RedisAddr
	c.ScanQueueName = j.ScanQueueName
	c.StaleSessionTTL = time.Duration(j.StaleSessionTTL.Duration)
	c.SweepInterval = time.Duration(j.SweepInterval.Duration)
	c.LogLevel = j.LogLevel
	c.Members = j.Members
}

// parseJson overlays values from a JSON file onto config. The file path
// comes from -c/-config or $CHUNKKEEPER_CONFIG; without one nothing is
// loaded. Keys absent from the file keep their current values. An
// unreadable file or invalid JSON panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := fromConfig(config)
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}
