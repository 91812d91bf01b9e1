package nbi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Fully-qualified method names of the intercept.v1.Control service.
const (
	ControlServiceName                 = "intercept.v1.Control"
	Control_Configure_FullMethodName   = "/intercept.v1.Control/Configure"
	Control_Start_FullMethodName       = "/intercept.v1.Control/Start"
	Control_Replay_FullMethodName      = "/intercept.v1.Control/Replay"
	Control_GetSnapshot_FullMethodName = "/intercept.v1.Control/GetSnapshot"
	Control_GetConfig_FullMethodName   = "/intercept.v1.Control/GetConfig"
	Control_Watch_FullMethodName       = "/intercept.v1.Control/WatchSnapshots"
)

// ControlServer is the server API for the intercept.v1.Control service.
// Configure takes a partial configuration; every other call returns the
// resulting snapshot as a Struct.
type ControlServer interface {
	Configure(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Start(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Replay(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetSnapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetConfig(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	WatchSnapshots(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&Control_ServiceDesc, srv)
}

func unaryHandler[Req any](method string, call func(ControlServer, context.Context, *Req) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchSnapshotsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).WatchSnapshots(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// Control_ServiceDesc is the grpc.ServiceDesc for the Control service.
var Control_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ControlServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Configure",
			Handler:    unaryHandler(Control_Configure_FullMethodName, ControlServer.Configure),
		},
		{
			MethodName: "Start",
			Handler:    unaryHandler(Control_Start_FullMethodName, ControlServer.Start),
		},
		{
			MethodName: "Replay",
			Handler:    unaryHandler(Control_Replay_FullMethodName, ControlServer.Replay),
		},
		{
			MethodName: "GetSnapshot",
			Handler:    unaryHandler(Control_GetSnapshot_FullMethodName, ControlServer.GetSnapshot),
		},
		{
			MethodName: "GetConfig",
			Handler:    unaryHandler(Control_GetConfig_FullMethodName, ControlServer.GetConfig),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchSnapshots",
			Handler:       watchSnapshotsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "intercept/v1/control.proto",
}

// ControlClient is the client API for the Control service.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

// NewControlClient wraps cc.
func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func (c *ControlClient) invoke(ctx context.Context, method string, in any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) Configure(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, Control_Configure_FullMethodName, in, opts...)
}

func (c *ControlClient) Start(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, Control_Start_FullMethodName, in, opts...)
}

func (c *ControlClient) Replay(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, Control_Replay_FullMethodName, in, opts...)
}

func (c *ControlClient) GetSnapshot(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, Control_GetSnapshot_FullMethodName, in, opts...)
}

func (c *ControlClient) GetConfig(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, Control_GetConfig_FullMethodName, in, opts...)
}

func (c *ControlClient) WatchSnapshots(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &Control_ServiceDesc.Streams[0], Control_Watch_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
