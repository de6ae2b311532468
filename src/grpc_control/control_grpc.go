package grpc_control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// The control plane carries well-known Struct/Empty messages, so the service
// descriptor is declared by hand instead of generated from a .proto file.

const controlServiceName = "quoteaggregator.control.v1.Control"

// ControlServer is the server API for the control service.
type ControlServer interface {
	ListProviders(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetProviderEnabled(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&Control_ServiceDesc, srv)
}

// -----------------------------------------------------------------------------

var Control_ServiceDesc = grpc.ServiceDesc{
	ServiceName: controlServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListProviders", Handler: emptyHandler("ListProviders", ControlServer.ListProviders)},
		{MethodName: "SetProviderEnabled", Handler: structHandler("SetProviderEnabled", ControlServer.SetProviderEnabled)},
		{MethodName: "GetRequest", Handler: structHandler("GetRequest", ControlServer.GetRequest)},
		{MethodName: "CancelRequest", Handler: structHandler("CancelRequest", ControlServer.CancelRequest)},
		{MethodName: "GetStats", Handler: emptyHandler("GetStats", ControlServer.GetStats)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "control.proto",
}

func fullMethod(name string) string {
	return "/" + controlServiceName + "/" + name
}

func emptyHandler(name string, call func(ControlServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ControlServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func structHandler(name string, call func(ControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ControlServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// ControlClient is the client API for the control service.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func (c *ControlClient) ListProviders(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, fullMethod("ListProviders"), &emptypb.Empty{}, out, opts...)
	return out, err
}

func (c *ControlClient) SetProviderEnabled(ctx context.Context, id string, enabled bool, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"id": id, "enabled": enabled})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = c.cc.Invoke(ctx, fullMethod("SetProviderEnabled"), in, out, opts...)
	return out, err
}

func (c *ControlClient) GetRequest(ctx context.Context, requestID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.byRequestID(ctx, "GetRequest", requestID, opts...)
}

func (c *ControlClient) CancelRequest(ctx context.Context, requestID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.byRequestID(ctx, "CancelRequest", requestID, opts...)
}

func (c *ControlClient) GetStats(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, fullMethod("GetStats"), &emptypb.Empty{}, out, opts...)
	return out, err
}

func (c *ControlClient) byRequestID(ctx context.Context, method, requestID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"requestId": requestID})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = c.cc.Invoke(ctx, fullMethod(method), in, out, opts...)
	return out, err
}
