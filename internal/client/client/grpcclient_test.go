package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/api"
	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeServer struct {
	tokens []string
	last   any
	err    error
}

func (f *fakeServer) record(ctx context.Context, req any) {
	md, _ := metadata.FromIncomingContext(ctx)
	f.tokens = append(f.tokens, md.Get(common.AccessTokenHeaderName)...)
	f.last = req
}

func (f *fakeServer) Ping(ctx context.Context, in *api.PingRequest) (*api.PingResponse, error) {
	f.record(ctx, in)
	return &api.PingResponse{Status: "OK"}, f.err
}

func (f *fakeServer) CreateUpload(ctx context.Context, in *api.CreateUploadRequest) (*api.CreateUploadResponse, error) {
	f.record(ctx, in)
	if f.err != nil {
		return nil, f.err
	}
	return &api.CreateUploadResponse{Session: api.Session{ID: "s-1", Filename: in.Filename, ChunksCount: in.ChunksCount}}, nil
}

func (f *fakeServer) GetStatus(ctx context.Context, in *api.GetStatusRequest) (*api.UploadStatus, error) {
	f.record(ctx, in)
	if f.err != nil {
		return nil, f.err
	}
	return &api.UploadStatus{Session: api.Session{ID: in.SessionID}, MissingChunks: []int{2}}, nil
}

func (f *fakeServer) GenerateChunkURLs(ctx context.Context, in *api.GenerateChunkURLsRequest) (*api.GenerateChunkURLsResponse, error) {
	f.record(ctx, in)
	if f.err != nil {
		return nil, f.err
	}
	return &api.GenerateChunkURLsResponse{URLs: []api.ChunkURL{{ChunkNumber: 1, URL: "http://x/1"}}}, nil
}

func (f *fakeServer) CancelUpload(ctx context.Context, in *api.CancelUploadRequest) (*api.CancelUploadResponse, error) {
	f.record(ctx, in)
	if f.err != nil {
		return nil, f.err
	}
	return &api.CancelUploadResponse{Session: api.Session{ID: in.SessionID, Status: "cancelled"}}, nil
}

func (f *fakeServer) DeleteUpload(ctx context.Context, in *api.DeleteUploadRequest) (*api.DeleteUploadResponse, error) {
	f.record(ctx, in)
	return &api.DeleteUploadResponse{}, f.err
}

func newTestClient(t *testing.T, fake *fakeServer, token string) *GRPCClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	api.RegisterUploadServiceServer(srv, fake)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := NewGRPCClient("passthrough:///bufnet", token,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGRPCClient_CallsCarryToken(t *testing.T) {
	fake := &fakeServer{}
	c := newTestClient(t, fake, "tok-1")
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	sess, err := c.CreateUpload(ctx, &api.CreateUploadRequest{WorkspaceID: "ws-1", Filename: "a.bin", TotalSize: 10, ChunksCount: 2})
	require.NoError(t, err)
	assert.Equal(t, "s-1", sess.ID)
	assert.Equal(t, 2, sess.ChunksCount)

	urls, err := c.GenerateChunkURLs(ctx, "s-1", []int{1}, 90*time.Second)
	require.NoError(t, err)
	require.Len(t, urls, 1)
	req := fake.last.(*api.GenerateChunkURLsRequest)
	assert.Equal(t, int64(90), req.TTLSeconds)
	assert.Equal(t, []int{1}, req.ChunkNumbers)

	st, err := c.GetStatus(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, st.MissingChunks)

	cancelled, err := c.CancelUpload(ctx, "s-1")
	require.NoError(t, err)
	assert.EqualValues(t, "cancelled", cancelled.Status)

	require.NoError(t, c.DeleteUpload(ctx, "s-1"))

	require.Len(t, fake.tokens, 6)
	for _, tok := range fake.tokens {
		assert.Equal(t, "tok-1", tok)
	}
	assert.Equal(t, "tok-1", c.AccessToken())
}

func TestGRPCClient_NoTokenSendsNoMetadata(t *testing.T) {
	fake := &fakeServer{}
	c := newTestClient(t, fake, "")

	require.NoError(t, c.Ping(context.Background()))
	assert.Empty(t, fake.tokens)
}

func TestGRPCClient_MapError(t *testing.T) {
	tests := []struct {
		name string
		code codes.Code
		want error
	}{
		{"unauthenticated", codes.Unauthenticated, ErrUnauthorized},
		{"permission", codes.PermissionDenied, ErrForbidden},
		{"unavailable", codes.Unavailable, ErrUnavailable},
		{"deadline", codes.DeadlineExceeded, ErrUnavailable},
		{"not found", codes.NotFound, common.ErrorNotFound},
		{"exists", codes.AlreadyExists, common.ErrorAlreadyExists},
		{"invalid", codes.InvalidArgument, common.ErrValidation},
		{"precondition", codes.FailedPrecondition, common.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &fakeServer{err: status.Error(tt.code, "nope")}, "tok")
			_, err := c.GetStatus(context.Background(), "s-1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	c := &GRPCClient{}
	assert.NoError(t, c.mapError(nil))
	err := c.mapError(status.Error(codes.Internal, "boom"))
	assert.Contains(t, err.Error(), "rpc error")
}
