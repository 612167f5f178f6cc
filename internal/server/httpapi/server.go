// Package httpapi serves the chunk upload endpoint and a status read over
// plain HTTP. Chunk bodies are raw bytes.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/logging"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/services"
)

// Uploads is what the HTTP API needs from services.UploadService.
type Uploads interface {
	IngestChunk(ctx context.Context, req services.IngestRequest) (*services.IngestResult, error)
	GetStatus(ctx context.Context, sessionID, userID string) (*models.UploadStatus, error)
}

// Verifier checks signed chunk URLs and returns the user they were issued to.
type Verifier interface {
	VerifyQuery(sessionID string, chunkNumber int, q url.Values) (string, error)
}

// Options are the deployment switches of the endpoint.
type Options struct {
	JWTSecret         string
	RequireSignedURLs bool
	MaxChunkSize      int64
}

type Server struct {
	address string
	uploads Uploads
	signer  Verifier
	opts    Options
	logger  logging.Logger
}

func NewServer(address string, uploads Uploads, signer Verifier, opts Options, logger logging.Logger) *Server {
	return &Server{
		address: address,
		uploads: uploads,
		signer:  signer,
		opts:    opts,
		logger:  logger.With("module", "http_server"),
	}
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health)
	mux.HandleFunc("POST /v1/uploads/{session}/chunks/{number}", s.uploadChunk)
	mux.HandleFunc("PUT /v1/uploads/{session}/chunks/{number}", s.uploadChunk)
	mux.HandleFunc("GET /v1/uploads/{session}", s.status)
	return s.logRequests(mux)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
