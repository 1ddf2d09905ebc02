package grpcapi

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/service"
	"github.com/attendly/server/internal/attendance/types"
	"github.com/attendly/server/internal/wire"
)

type Server struct {
	router *service.Router
	logger *slog.Logger
}

var _ IdentificationServer = (*Server)(nil)

func NewServer(router *service.Router, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{router: router, logger: logger}
}

// NewGRPCServer builds a grpc.Server with the identification service and
// request logging installed.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(loggingInterceptor(s.logger)))
	g := grpc.NewServer(opts...)
	g.RegisterService(&ServiceDesc, s)
	return g
}

func (s *Server) SubmitQR(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.QRScanRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	o, err := s.router.HandleQR(ctx, req.Scan())
	if err != nil {
		return nil, s.toStatus("qr scan", err)
	}
	return encode(types.NewOutcome(o))
}

func (s *Server) SubmitFace(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.FaceDetectionRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	frame, err := req.Frame()
	if err != nil {
		return nil, s.toStatus("face detection", err)
	}
	outcomes, err := s.router.HandleFaceBatch(ctx, frame)
	if err != nil {
		return nil, s.toStatus("face detection", err)
	}
	return encode(types.NewFaceOutcomes(outcomes))
}

func decode(in *structpb.Struct, v any) error {
	if err := wire.FromStruct(in, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := types.Validate(v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	out, err := wire.ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

func (s *Server) toStatus(op string, err error) error {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	case domain.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case domain.KindConflict:
		return status.Error(codes.AlreadyExists, err.Error())
	case domain.KindState:
		return status.Error(codes.FailedPrecondition, err.Error())
	case domain.KindDependency:
		return status.Error(codes.Unavailable, err.Error())
	}
	s.logger.Error(op+" failed", "err", err)
	return status.Error(codes.Internal, "unexpected server error")
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now().UTC()
		resp, err := handler(ctx, req)
		logger.Info("grpc request",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"dur", time.Since(start),
		)
		return resp, err
	}
}
