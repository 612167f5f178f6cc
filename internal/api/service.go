package api

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "chunkkeeper.v1.UploadService"

const (
	MethodPing              = "Ping"
	MethodCreateUpload      = "CreateUpload"
	MethodGetStatus         = "GetStatus"
	MethodGenerateChunkURLs = "GenerateChunkURLs"
	MethodCancelUpload      = "CancelUpload"
	MethodDeleteUpload      = "DeleteUpload"
)

// FullMethod returns "/<service>/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

type UploadServiceServer interface {
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	CreateUpload(context.Context, *CreateUploadRequest) (*CreateUploadResponse, error)
	GetStatus(context.Context, *GetStatusRequest) (*UploadStatus, error)
	GenerateChunkURLs(context.Context, *GenerateChunkURLsRequest) (*GenerateChunkURLsResponse, error)
	CancelUpload(context.Context, *CancelUploadRequest) (*CancelUploadResponse, error)
	DeleteUpload(context.Context, *DeleteUploadRequest) (*DeleteUploadResponse, error)
}

func RegisterUploadServiceServer(s grpc.ServiceRegistrar, srv UploadServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req, Resp any](method string, call func(UploadServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(UploadServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(UploadServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*UploadServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodPing, UploadServiceServer.Ping),
		unary(MethodCreateUpload, UploadServiceServer.CreateUpload),
		unary(MethodGetStatus, UploadServiceServer.GetStatus),
		unary(MethodGenerateChunkURLs, UploadServiceServer.GenerateChunkURLs),
		unary(MethodCancelUpload, UploadServiceServer.CancelUpload),
		unary(MethodDeleteUpload, UploadServiceServer.DeleteUpload),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chunkkeeper/v1/upload",
}

// UploadServiceClient calls the control API with the JSON codec.
type UploadServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewUploadServiceClient(cc grpc.ClientConnInterface) *UploadServiceClient {
	return &UploadServiceClient{cc: cc}
}

func invoke[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in *Req, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *UploadServiceClient) Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	return invoke[PingRequest, PingResponse](ctx, c.cc, MethodPing, in, opts)
}

func (c *UploadServiceClient) CreateUpload(ctx context.Context, in *CreateUploadRequest, opts ...grpc.CallOption) (*CreateUploadResponse, error) {
	return invoke[CreateUploadRequest, CreateUploadResponse](ctx, c.cc, MethodCreateUpload, in, opts)
}

func (c *UploadServiceClient) GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*UploadStatus, error) {
	return invoke[GetStatusRequest, UploadStatus](ctx, c.cc, MethodGetStatus, in, opts)
}

func (c *UploadServiceClient) GenerateChunkURLs(ctx context.Context, in *GenerateChunkURLsRequest, opts ...grpc.CallOption) (*GenerateChunkURLsResponse, error) {
	return invoke[GenerateChunkURLsRequest, GenerateChunkURLsResponse](ctx, c.cc, MethodGenerateChunkURLs, in, opts)
}

func (c *UploadServiceClient) CancelUpload(ctx context.Context, in *CancelUploadRequest, opts ...grpc.CallOption) (*CancelUploadResponse, error) {
	return invoke[CancelUploadRequest, CancelUploadResponse](ctx, c.cc, MethodCancelUpload, in, opts)
}

func (c *UploadServiceClient) DeleteUpload(ctx context.Context, in *DeleteUploadRequest, opts ...grpc.CallOption) (*DeleteUploadResponse, error) {
	return invoke[DeleteUploadRequest, DeleteUploadResponse](ctx, c.cc, MethodDeleteUpload, in, opts)
}
