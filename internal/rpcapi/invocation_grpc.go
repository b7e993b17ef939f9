package rpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// The invocation service carries google.protobuf.Struct messages so the
// schema-free payload needs no generated message types. This file mirrors
// the layout of protoc-gen-go-grpc output.

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "inferd.invocation.v1.InvocationService"
	// InvokeFullMethodName is the full method name of Invoke.
	InvokeFullMethodName = "/" + ServiceName + "/Invoke"
)

// InvocationServiceClient is the client API for InvocationService.
type InvocationServiceClient interface {
	Invoke(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type invocationServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewInvocationServiceClient(cc grpc.ClientConnInterface) InvocationServiceClient {
	return &invocationServiceClient{cc}
}

func (c *invocationServiceClient) Invoke(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, InvokeFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// InvocationServiceServer is the server API for InvocationService.
type InvocationServiceServer interface {
	Invoke(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedInvocationServiceServer can be embedded for forward compatibility.
type UnimplementedInvocationServiceServer struct{}

func (UnimplementedInvocationServiceServer) Invoke(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Invoke not implemented")
}

func RegisterInvocationServiceServer(s grpc.ServiceRegistrar, srv InvocationServiceServer) {
	s.RegisterService(&InvocationService_ServiceDesc, srv)
}

func _InvocationService_Invoke_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InvocationServiceServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: InvokeFullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(InvocationServiceServer).Invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// InvocationService_ServiceDesc is the grpc.ServiceDesc for InvocationService.
var InvocationService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InvocationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Invoke",
			Handler:    _InvocationService_Invoke_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inferd/invocation/v1/invocation.proto",
}
