// Package grpcapi exposes the identification endpoints over gRPC for
// scanners and camera gateways that keep a long-lived connection. Messages
// are google.protobuf.Struct values carrying the same fields as the JSON
// API, so no generated code is needed.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "attendly.v1.Identification"

// IdentificationServer is implemented by Server.
type IdentificationServer interface {
	SubmitQR(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	SubmitFace(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IdentificationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitQR", Handler: submitQRHandler},
		{MethodName: "SubmitFace", Handler: submitFaceHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "attendly/v1/identification.proto",
}

func submitQRHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IdentificationServer).SubmitQR(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/SubmitQR"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IdentificationServer).SubmitQR(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func submitFaceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IdentificationServer).SubmitFace(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/SubmitFace"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IdentificationServer).SubmitFace(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
