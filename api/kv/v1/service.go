package kvv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const serviceName = "kvdb.v1.KV"

// Full method names.
const (
	KV_Get_FullMethodName      = "/kvdb.v1.KV/Get"
	KV_GetBatch_FullMethodName = "/kvdb.v1.KV/GetBatch"
	KV_Range_FullMethodName    = "/kvdb.v1.KV/Range"
	KV_Put_FullMethodName      = "/kvdb.v1.KV/Put"
	KV_Delete_FullMethodName   = "/kvdb.v1.KV/Delete"
	KV_Stats_FullMethodName    = "/kvdb.v1.KV/Stats"
	KV_Backup_FullMethodName   = "/kvdb.v1.KV/Backup"
	KV_Watch_FullMethodName    = "/kvdb.v1.KV/Watch"
)

// KVServer is the server API for the KV service.
type KVServer interface {
	Get(context.Context, *GetRequest) (*GetResponse, error)
	GetBatch(context.Context, *GetBatchRequest) (*GetBatchResponse, error)
	Range(context.Context, *RangeRequest) (*RangeResponse, error)
	Put(context.Context, *PutRequest) (*PutResponse, error)
	Delete(context.Context, *DeleteRequest) (*DeleteResponse, error)
	Stats(context.Context, *StatsRequest) (*StatsResponse, error)
	Backup(context.Context, *BackupRequest) (*BackupResponse, error)
	Watch(*WatchRequest, KV_WatchServer) error
}

// UnimplementedKVServer can be embedded to satisfy KVServer.
type UnimplementedKVServer struct{}

func (UnimplementedKVServer) Get(context.Context, *GetRequest) (*GetResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Get not implemented")
}
func (UnimplementedKVServer) GetBatch(context.Context, *GetBatchRequest) (*GetBatchResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetBatch not implemented")
}
func (UnimplementedKVServer) Range(context.Context, *RangeRequest) (*RangeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Range not implemented")
}
func (UnimplementedKVServer) Put(context.Context, *PutRequest) (*PutResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Put not implemented")
}
func (UnimplementedKVServer) Delete(context.Context, *DeleteRequest) (*DeleteResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Delete not implemented")
}
func (UnimplementedKVServer) Stats(context.Context, *StatsRequest) (*StatsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Stats not implemented")
}
func (UnimplementedKVServer) Backup(context.Context, *BackupRequest) (*BackupResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Backup not implemented")
}
func (UnimplementedKVServer) Watch(*WatchRequest, KV_WatchServer) error {
	return status.Error(codes.Unimplemented, "method Watch not implemented")
}

// KV_WatchServer is the server side of a Watch stream.
type KV_WatchServer interface {
	Send(*WatchEvent) error
	grpc.ServerStream
}

type kvWatchServer struct {
	grpc.ServerStream
}

func (x *kvWatchServer) Send(m *WatchEvent) error { return x.ServerStream.SendMsg(m) }

// RegisterKVServer registers srv on s.
func RegisterKVServer(s grpc.ServiceRegistrar, srv KVServer) {
	s.RegisterService(&KV_ServiceDesc, srv)
}

// unary builds a method handler for a request type Req.
func unary[Req any, Resp any](method string, call func(KVServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(KVServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(KVServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	m := new(WatchRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(KVServer).Watch(m, &kvWatchServer{stream})
}

// KV_ServiceDesc is the grpc.ServiceDesc for the KV service.
var KV_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*KVServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: unary(KV_Get_FullMethodName, KVServer.Get)},
		{MethodName: "GetBatch", Handler: unary(KV_GetBatch_FullMethodName, KVServer.GetBatch)},
		{MethodName: "Range", Handler: unary(KV_Range_FullMethodName, KVServer.Range)},
		{MethodName: "Put", Handler: unary(KV_Put_FullMethodName, KVServer.Put)},
		{MethodName: "Delete", Handler: unary(KV_Delete_FullMethodName, KVServer.Delete)},
		{MethodName: "Stats", Handler: unary(KV_Stats_FullMethodName, KVServer.Stats)},
		{MethodName: "Backup", Handler: unary(KV_Backup_FullMethodName, KVServer.Backup)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "kvdb/v1/kv.json",
}

// KVClient is the client API for the KV service.
type KVClient interface {
	Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error)
	GetBatch(ctx context.Context, in *GetBatchRequest, opts ...grpc.CallOption) (*GetBatchResponse, error)
	Range(ctx context.Context, in *RangeRequest, opts ...grpc.CallOption) (*RangeResponse, error)
	Put(ctx context.Context, in *PutRequest, opts ...grpc.CallOption) (*PutResponse, error)
	Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteResponse, error)
	Stats(ctx context.Context, in *StatsRequest, opts ...grpc.CallOption) (*StatsResponse, error)
	Backup(ctx context.Context, in *BackupRequest, opts ...grpc.CallOption) (*BackupResponse, error)
	Watch(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (KV_WatchClient, error)
}

type kvClient struct {
	cc grpc.ClientConnInterface
}

// NewKVClient returns a client for cc. Every call carries the JSON content
// subtype, so callers need no extra dial options.
func NewKVClient(cc grpc.ClientConnInterface) KVClient {
	return &kvClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append(CallOptions(), opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *kvClient) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error) {
	return invoke[GetResponse](ctx, c.cc, KV_Get_FullMethodName, in, opts)
}

func (c *kvClient) GetBatch(ctx context.Context, in *GetBatchRequest, opts ...grpc.CallOption) (*GetBatchResponse, error) {
	return invoke[GetBatchResponse](ctx, c.cc, KV_GetBatch_FullMethodName, in, opts)
}

func (c *kvClient) Range(ctx context.Context, in *RangeRequest, opts ...grpc.CallOption) (*RangeResponse, error) {
	return invoke[RangeResponse](ctx, c.cc, KV_Range_FullMethodName, in, opts)
}

func (c *kvClient) Put(ctx context.Context, in *PutRequest, opts ...grpc.CallOption) (*PutResponse, error) {
	return invoke[PutResponse](ctx, c.cc, KV_Put_FullMethodName, in, opts)
}

func (c *kvClient) Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteResponse, error) {
	return invoke[DeleteResponse](ctx, c.cc, KV_Delete_FullMethodName, in, opts)
}

func (c *kvClient) Stats(ctx context.Context, in *StatsRequest, opts ...grpc.CallOption) (*StatsResponse, error) {
	return invoke[StatsResponse](ctx, c.cc, KV_Stats_FullMethodName, in, opts)
}

func (c *kvClient) Backup(ctx context.Context, in *BackupRequest, opts ...grpc.CallOption) (*BackupResponse, error) {
	return invoke[BackupResponse](ctx, c.cc, KV_Backup_FullMethodName, in, opts)
}

// KV_WatchClient is the client side of a Watch stream.
type KV_WatchClient interface {
	Recv() (*WatchEvent, error)
	grpc.ClientStream
}

type kvWatchClient struct {
	grpc.ClientStream
}

func (x *kvWatchClient) Recv() (*WatchEvent, error) {
	m := new(WatchEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *kvClient) Watch(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (KV_WatchClient, error) {
	opts = append(CallOptions(), opts...)
	stream, err := c.cc.NewStream(ctx, &KV_ServiceDesc.Streams[0], KV_Watch_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &kvWatchClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
