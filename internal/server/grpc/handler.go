package grpc

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/api"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *GRPCServer) Ping(ctx context.Context, req *api.PingRequest) (*api.PingResponse, error) {
	return &api.PingResponse{Status: "OK"}, nil
}

func (s *GRPCServer) CreateUpload(ctx context.Context, req *api.CreateUploadRequest) (*api.CreateUploadResponse, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	sess, err := s.uploads.CreateUpload(ctx, services.CreateUploadRequest{
		WorkspaceID: req.WorkspaceID,
		ContainerID: req.ContainerID,
		UserID:      userID,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		TotalSize:   req.TotalSize,
		ChunksCount: req.ChunksCount,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, s.fail(ctx, "create upload", err)
	}

	return &api.CreateUploadResponse{Session: api.FromSession(sess)}, nil
}

func (s *GRPCServer) GetStatus(ctx context.Context, req *api.GetStatusRequest) (*api.UploadStatus, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	st, err := s.uploads.GetStatus(ctx, req.SessionID, userID)
	if err != nil {
		return nil, s.fail(ctx, "get status", err)
	}

	out := api.FromUploadStatus(st)
	return &out, nil
}

func (s *GRPCServer) GenerateChunkURLs(ctx context.Context, req *api.GenerateChunkURLsRequest) (*api.GenerateChunkURLsResponse, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	urls, err := s.uploads.GenerateChunkURLs(ctx, req.SessionID, userID, req.ChunkNumbers, ttl)
	if err != nil {
		return nil, s.fail(ctx, "generate chunk urls", err)
	}

	resp := &api.GenerateChunkURLsResponse{URLs: make([]api.ChunkURL, 0, len(urls))}
	for _, u := range urls {
		resp.URLs = append(resp.URLs, api.ChunkURL{ChunkNumber: u.ChunkNumber, URL: u.URL, ExpiresAt: u.ExpiresAt})
	}
	return resp, nil
}

func (s *GRPCServer) CancelUpload(ctx context.Context, req *api.CancelUploadRequest) (*api.CancelUploadResponse, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	sess, err := s.uploads.CancelUpload(ctx, req.SessionID, userID)
	if err != nil {
		return nil, s.fail(ctx, "cancel upload", err)
	}

	return &api.CancelUploadResponse{Session: api.FromSession(sess)}, nil
}

func (s *GRPCServer) DeleteUpload(ctx context.Context, req *api.DeleteUploadRequest) (*api.DeleteUploadResponse, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.uploads.DeleteUpload(ctx, req.SessionID, userID); err != nil {
		return nil, s.fail(ctx, "delete upload", err)
	}

	return &api.DeleteUploadResponse{}, nil
}

// fail logs server-side failures and converts err to a status.
func (s *GRPCServer) fail(ctx context.Context, op string, err error) error {
	st := toStatus(err)
	switch status.Code(st) {
	case codes.Internal, codes.Unavailable, codes.DataLoss:
		s.logger.Error(ctx, op+" failed", "error", err)
	default:
		s.logger.Debug(ctx, op+" rejected", "error", err)
	}
	return st
}
