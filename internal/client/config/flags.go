package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/chunkkeeper/internal/flagx"
)

// ValueFlags are the flags parseFlags consumes together with their value.
// Everything else on the command line is left to the caller.
var ValueFlags = []string{"-a", "-token", "-w", "-container", "-chunk-size", "-n", "-retries", "-url-ttl", "-timeout", "-c", "-config"}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string          address and port of the gRPC server
//	-token string      access token
//	-w string          workspace id
//	-container string  container id (empty for the workspace root)
//	-chunk-size int    chunk size in bytes
//	-n int             concurrent chunk uploads
//	-retries int       retries per chunk
//	-url-ttl duration  signed URL lifetime
//	-timeout duration  per-request timeout
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], ValueFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.AccessToken, "token", cfg.AccessToken, "access token")
	fs.StringVar(&cfg.WorkspaceID, "w", cfg.WorkspaceID, "workspace id")
	fs.StringVar(&cfg.ContainerID, "container", cfg.ContainerID, "container id")
	fs.Int64Var(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "chunk size in bytes")
	fs.IntVar(&cfg.Concurrency, "n", cfg.Concurrency, "concurrent chunk uploads")
	fs.IntVar(&cfg.Retries, "retries", cfg.Retries, "retries per chunk")
	fs.DurationVar(&cfg.URLTTL, "url-ttl", cfg.URLTTL, "signed URL lifetime")
	fs.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "per-request timeout")
	// parsed by flagx.JsonConfigFlags
	fs.String("c", "", "path to config file")
	fs.String("config", "", "path to config file")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
