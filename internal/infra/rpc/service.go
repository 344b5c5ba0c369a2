// internal/infra/rpc/service.go
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName   = "matmul.v1.JobChannel"
	sendMethod    = "/" + serviceName + "/Send"
	receiveMethod = "/" + serviceName + "/Receive"
)

// JobChannelServer is the broker side of the job channel. Send takes an
// encoded message; Receive takes a message type and returns an encoded message.
type JobChannelServer interface {
	Send(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error)
	Receive(ctx context.Context, in *wrapperspb.UInt32Value) (*wrapperspb.BytesValue, error)
}

// RegisterJobChannelServer registers srv on s.
func RegisterJobChannelServer(s grpc.ServiceRegistrar, srv JobChannelServer) {
	s.RegisterService(&jobChannelServiceDesc, srv)
}

var jobChannelServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*JobChannelServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Send", Handler: sendHandler},
		{MethodName: "Receive", Handler: receiveHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "matmul/v1/job_channel.proto",
}

func sendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(JobChannelServer).Send(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: sendMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(JobChannelServer).Send(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func receiveHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.UInt32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(JobChannelServer).Receive(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: receiveMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(JobChannelServer).Receive(ctx, req.(*wrapperspb.UInt32Value))
	}
	return interceptor(ctx, in, info, handler)
}
