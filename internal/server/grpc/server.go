package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/api"
	"github.com/dmitrijs2005/chunkkeeper/internal/logging"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/services"
	"google.golang.org/grpc"
)

// Uploads is the part of services.UploadService the control API exposes.
type Uploads interface {
	CreateUpload(ctx context.Context, req services.CreateUploadRequest) (*models.UploadSession, error)
	GetStatus(ctx context.Context, sessionID, userID string) (*models.UploadStatus, error)
	GenerateChunkURLs(ctx context.Context, sessionID, userID string, numbers []int, ttl time.Duration) ([]services.ChunkURL, error)
	CancelUpload(ctx context.Context, sessionID, userID string) (*models.UploadSession, error)
	DeleteUpload(ctx context.Context, sessionID, userID string) error
}

type GRPCServer struct {
	address   string
	uploads   Uploads
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, uploads Uploads, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		uploads:   uploads,
		jwtSecret: []byte(secretKey),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.recoveryInterceptor, s.accessTokenInterceptor))
	api.RegisterUploadServiceServer(srv, s)
	return srv
}

// Run listens on the configured address until ctx is cancelled.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis and stops gracefully when ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}
