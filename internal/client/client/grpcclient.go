package client

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/api"
	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      *api.UploadServiceClient
	accessToken string
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if s.accessToken != "" {
		ctx = withAccessToken(ctx, s.accessToken)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// NewGRPCClient connects lazily to endpointURL. Extra dial options are
// appended after the defaults (plaintext transport, token interceptor).
func NewGRPCClient(endpointURL, accessToken string, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, accessToken: accessToken}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpointURL, dialOpts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.client = api.NewUploadServiceClient(conn)
	return c, nil
}

// AccessToken is the token attached to calls. The uploader reuses it for
// chunk POSTs when URLs are not signed.
func (s *GRPCClient) AccessToken() string { return s.accessToken }

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	_, err := s.client.Ping(ctx, &api.PingRequest{})
	return s.mapError(err)
}

func (s *GRPCClient) CreateUpload(ctx context.Context, req *api.CreateUploadRequest) (*api.Session, error) {
	res, err := s.client.CreateUpload(ctx, req)
	if err != nil {
		return nil, s.mapError(err)
	}
	return &res.Session, nil
}

func (s *GRPCClient) GetStatus(ctx context.Context, sessionID string) (*api.UploadStatus, error) {
	res, err := s.client.GetStatus(ctx, &api.GetStatusRequest{SessionID: sessionID})
	if err != nil {
		return nil, s.mapError(err)
	}
	return res, nil
}

// GenerateChunkURLs asks for signed URLs. Empty numbers means every chunk
// the server has not received yet.
func (s *GRPCClient) GenerateChunkURLs(ctx context.Context, sessionID string, numbers []int, ttl time.Duration) ([]api.ChunkURL, error) {
	res, err := s.client.GenerateChunkURLs(ctx, &api.GenerateChunkURLsRequest{
		SessionID:    sessionID,
		ChunkNumbers: numbers,
		TTLSeconds:   int64(ttl / time.Second),
	})
	if err != nil {
		return nil, s.mapError(err)
	}
	return res.URLs, nil
}

func (s *GRPCClient) CancelUpload(ctx context.Context, sessionID string) (*api.Session, error) {
	res, err := s.client.CancelUpload(ctx, &api.CancelUploadRequest{SessionID: sessionID})
	if err != nil {
		return nil, s.mapError(err)
	}
	return &res.Session, nil
}

func (s *GRPCClient) DeleteUpload(ctx context.Context, sessionID string) error {
	_, err := s.client.DeleteUpload(ctx, &api.DeleteUploadRequest{SessionID: sessionID})
	return s.mapError(err)
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrForbidden, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	case codes.NotFound:
		return fmt.Errorf("%w: %s", common.ErrorNotFound, st.Message())
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", common.ErrorAlreadyExists, st.Message())
	case codes.InvalidArgument, codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", common.ErrValidation, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
