// Package client is the uploader's gRPC connection to the chunkkeeper
// control API. Every call carries the access token as metadata and
// transport failures are folded into a few sentinel errors.
package client
