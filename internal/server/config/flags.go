package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/flagx"
)

var (
	valueFlags = []string{"-a", "-l", "-w", "-d", "-s", "-t", "-u", "-p", "-b", "-g", "-e",
		"-chunk-backend", "-chunk-dir", "-assembled-dir", "-max-upload-size", "-max-chunk-size",
		"-url-ttl", "-redis", "-scan-queue", "-stale-ttl", "-sweep-interval", "-log-level", "-issue-token"}
	boolFlags = []string{"-require-signed-urls", "-require-checksums", "-scanner"}
)

// parseFlags populates server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-l string   HTTP chunk endpoint bind address (e.g., ":8080")
//	-w string   public base URL of the chunk endpoint
//	-d string   PostgreSQL DSN, or "memory"
//	-s string   JWT / signed URL secret key
//	-t int      access token validity, minutes
//	-u, -p, -b, -g, -e   S3 user, password, bucket, region, base endpoint
//	-chunk-backend s3|local, -chunk-dir, -assembled-dir
//	-max-upload-size, -max-chunk-size (bytes)
//	-url-ttl, -stale-ttl, -sweep-interval (Go durations)
//	-require-signed-urls, -require-checksums, -scanner (booleans; use -flag=false to disable)
//	-redis addr, -scan-queue name, -log-level level
//	-issue-token user   print an access token for user and exit
//
// os.Args is first filtered with flagx.FilterArgsWithBools so flags meant
// for other components do not break parsing.
func parseFlags(config *Config) {
	args := flagx.FilterArgsWithBools(os.Args[1:], valueFlags, boolFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run gRPC server")
	fs.StringVar(&config.EndpointAddrHTTP, "l", config.EndpointAddrHTTP, "address and port to run chunk HTTP server")
	fs.StringVar(&config.PublicHTTPURL, "w", config.PublicHTTPURL, "public base URL of the chunk endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN or \"memory\"")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.ChunkBackend, "chunk-backend", config.ChunkBackend, "chunk storage backend: s3 or local")
	fs.StringVar(&config.ChunkDir, "chunk-dir", config.ChunkDir, "root directory of the local chunk backend")
	fs.StringVar(&config.AssembledDir, "assembled-dir", config.AssembledDir, "directory for assembled files")
	fs.Int64Var(&config.MaxUploadSize, "max-upload-size", config.MaxUploadSize, "maximum file size in bytes")
	fs.Int64Var(&config.MaxChunkSize, "max-chunk-size", config.MaxChunkSize, "maximum chunk size in bytes")
	fs.DurationVar(&config.SignedURLTTL, "url-ttl", config.SignedURLTTL, "signed chunk URL lifetime")
	fs.BoolVar(&config.RequireSignedURLs, "require-signed-urls", config.RequireSignedURLs, "require signed chunk URLs")
	fs.BoolVar(&config.RequireChecksums, "require-checksums", config.RequireChecksums, "require chunk checksums")
	fs.BoolVar(&config.ScannerEnabled, "scanner", config.ScannerEnabled, "virus scan assembled files")
	fs.StringVar(&config.RedisAddr, "redis", config.RedisAddr, "redis address for the scan queue")
	fs.StringVar(&config.ScanQueueName, "scan-queue", config.ScanQueueName, "scan queue name")
	fs.DurationVar(&config.StaleSessionTTL, "stale-ttl", config.StaleSessionTTL, "fail sessions idle longer than this")
	fs.DurationVar(&config.SweepInterval, "sweep-interval", config.SweepInterval, "stale session sweep interval")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "debug, info, warn or error")
	fs.StringVar(&config.IssueTokenFor, "issue-token", config.IssueTokenFor, "print an access token for this user id and exit")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// only an explicit -t overrides; minute granularity would truncate a JSON "30s"
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "t" {
			config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
		}
	})
}
