package control

import (
	"context"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Full method names.
const (
	ListSessionsMethod = "/" + ServiceName + "/ListSessions"
	GetSessionMethod   = "/" + ServiceName + "/GetSession"
	StopSessionMethod  = "/" + ServiceName + "/StopSession"
	ListRoundsMethod   = "/" + ServiceName + "/ListRounds"
)

// ControlServer is the server API of the control service.
type ControlServer interface {
	ListSessions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopSession(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ListRounds(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Register installs srv on a gRPC server.
func Register(s gogrpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the control service for grpc.Server.
var ServiceDesc = gogrpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []gogrpc.MethodDesc{
		{
			MethodName: "ListSessions",
			Handler: unaryHandler(ListSessionsMethod, func(srv ControlServer, ctx context.Context, in *structpb.Struct) (any, error) {
				return srv.ListSessions(ctx, in)
			}),
		},
		{
			MethodName: "GetSession",
			Handler: unaryHandler(GetSessionMethod, func(srv ControlServer, ctx context.Context, in *structpb.Struct) (any, error) {
				return srv.GetSession(ctx, in)
			}),
		},
		{
			MethodName: "StopSession",
			Handler: unaryHandler(StopSessionMethod, func(srv ControlServer, ctx context.Context, in *structpb.Struct) (any, error) {
				return srv.StopSession(ctx, in)
			}),
		},
		{
			MethodName: "ListRounds",
			Handler: unaryHandler(ListRoundsMethod, func(srv ControlServer, ctx context.Context, in *structpb.Struct) (any, error) {
				return srv.ListRounds(ctx, in)
			}),
		},
	},
	Streams:  []gogrpc.StreamDesc{},
	Metadata: "mindtrain/trainer/v1/control.proto",
}

type unaryCall func(srv ControlServer, ctx context.Context, in *structpb.Struct) (any, error)

func unaryHandler(fullMethod string, call unaryCall) gogrpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor gogrpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &gogrpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Client calls the control service.
type Client struct {
	cc gogrpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc gogrpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// ListSessions calls ListSessions.
func (c *Client) ListSessions(ctx context.Context, in *structpb.Struct, opts ...gogrpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ListSessionsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession calls GetSession.
func (c *Client) GetSession(ctx context.Context, in *structpb.Struct, opts ...gogrpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetSessionMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// StopSession calls StopSession.
func (c *Client) StopSession(ctx context.Context, in *structpb.Struct, opts ...gogrpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, StopSessionMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListRounds calls ListRounds.
func (c *Client) ListRounds(ctx context.Context, in *structpb.Struct, opts ...gogrpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ListRoundsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
