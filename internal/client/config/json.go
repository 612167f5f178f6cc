package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/chunkkeeper/internal/flagx"
	"github.com/dmitrijs2005/chunkkeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Keys absent
// from the file keep the values already in Config.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	AccessToken        string         `json:"access_token"`
	WorkspaceID        string         `json:"workspace_id"`
	ContainerID        string         `json:"container_id"`
	ChunkSize          int64          `json:"chunk_size"`
	Concurrency        int            `json:"concurrency"`
	Retries            int            `json:"retries"`
	URLTTL             timex.Duration `json:"url_ttl"`
	RequestTimeout     timex.Duration `json:"request_timeout"`
}

// parseJson overlays cfg with the file named by -c / -config or
// $CHUNKKEEPER_CONFIG. Read and decode errors panic.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	jc := JsonConfig{
		ServerEndpointAddr: cfg.ServerEndpointAddr,
		AccessToken:        cfg.AccessToken,
		WorkspaceID:        cfg.WorkspaceID,
		ContainerID:        cfg.ContainerID,
		ChunkSize:          cfg.ChunkSize,
		Concurrency:        cfg.Concurrency,
		Retries:            cfg.Retries,
		URLTTL:             timex.Duration{Duration: cfg.URLTTL},
		RequestTimeout:     timex.Duration{Duration: cfg.RequestTimeout},
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	cfg.AccessToken = jc.AccessToken
	cfg.WorkspaceID = jc.WorkspaceID
	cfg.ContainerID = jc.ContainerID
	cfg.ChunkSize = jc.ChunkSize
	cfg.Concurrency = jc.Concurrency
	cfg.Retries = jc.Retries
	cfg.URLTTL = jc.URLTTL.Duration
	cfg.RequestTimeout = jc.RequestTimeout.Duration
}
