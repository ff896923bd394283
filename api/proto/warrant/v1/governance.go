// Package governancev1 implements the warrant.v1.Governance gRPC service
// declared in governance.proto. Messages are google.protobuf.Struct
// values carrying the JSON forms of the request and response types in
// messages.go.
package governancev1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "warrant.v1.Governance"

const (
	DecideFullMethodName        = "/warrant.v1.Governance/Decide"
	VerifyTokenFullMethodName   = "/warrant.v1.Governance/VerifyToken"
	VerifyLedgerFullMethodName  = "/warrant.v1.Governance/VerifyLedger"
	PolicyVersionFullMethodName = "/warrant.v1.Governance/PolicyVersion"
)

// GovernanceServer is the server API for the Governance service.
type GovernanceServer interface {
	Decide(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyLedger(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PolicyVersion(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedGovernanceServer answers every method with Unimplemented.
type UnimplementedGovernanceServer struct{}

func (UnimplementedGovernanceServer) Decide(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Decide not implemented")
}

func (UnimplementedGovernanceServer) VerifyToken(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method VerifyToken not implemented")
}

func (UnimplementedGovernanceServer) VerifyLedger(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method VerifyLedger not implemented")
}

func (UnimplementedGovernanceServer) PolicyVersion(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method PolicyVersion not implemented")
}

// RegisterGovernanceServer registers srv on s.
func RegisterGovernanceServer(s grpc.ServiceRegistrar, srv GovernanceServer) {
	s.RegisterService(&Governance_ServiceDesc, srv)
}

type unaryMethod func(GovernanceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GovernanceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(GovernanceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Governance_ServiceDesc is the grpc.ServiceDesc for the Governance service.
var Governance_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GovernanceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Decide", Handler: unaryHandler(DecideFullMethodName, GovernanceServer.Decide)},
		{MethodName: "VerifyToken", Handler: unaryHandler(VerifyTokenFullMethodName, GovernanceServer.VerifyToken)},
		{MethodName: "VerifyLedger", Handler: unaryHandler(VerifyLedgerFullMethodName, GovernanceServer.VerifyLedger)},
		{MethodName: "PolicyVersion", Handler: unaryHandler(PolicyVersionFullMethodName, GovernanceServer.PolicyVersion)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "warrant/v1/governance.proto",
}

// GovernanceClient is the client API for the Governance service.
type GovernanceClient interface {
	Decide(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	VerifyToken(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	VerifyLedger(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	PolicyVersion(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type governanceClient struct {
	cc grpc.ClientConnInterface
}

// NewGovernanceClient returns a client using cc.
func NewGovernanceClient(cc grpc.ClientConnInterface) GovernanceClient {
	return &governanceClient{cc}
}

func (c *governanceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *governanceClient) Decide(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, DecideFullMethodName, in, opts)
}

func (c *governanceClient) VerifyToken(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, VerifyTokenFullMethodName, in, opts)
}

func (c *governanceClient) VerifyLedger(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, VerifyLedgerFullMethodName, in, opts)
}

func (c *governanceClient) PolicyVersion(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, PolicyVersionFullMethodName, in, opts)
}
