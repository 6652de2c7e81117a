package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*wire.Connection)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "helenus.json",
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	backend := srv.(wire.Connection)
	if interceptor == nil {
		return handle(ctx, backend, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return handle(ctx, backend, req.(*Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

// handle runs one envelope against backend. Failures of the command itself are
// returned inside the Reply; only cancellation becomes a gRPC status.
func handle(ctx context.Context, backend wire.Connection, in *Envelope) (*Reply, error) {
	req, err := wire.NewRequest(in.Command)
	if err != nil {
		return exceptionReply(err), nil
	}
	if len(in.Payload) > 0 {
		if err := json.Unmarshal(in.Payload, req); err != nil {
			return &Reply{Exception: &Exception{Kind: wire.InvalidRequest, Message: fmt.Sprintf("decoding %s: %v", in.Command, err)}}, nil
		}
	}

	reply := wire.NewReply(in.Command)
	if err := backend.Execute(ctx, req, reply); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		return exceptionReply(err), nil
	}
	if reply == nil {
		return &Reply{}, nil
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding %s reply: %v", in.Command, err)
	}
	return &Reply{Payload: payload}, nil
}

func exceptionReply(err error) *Reply {
	var pe *wire.ProtocolError
	if errors.As(err, &pe) {
		return &Reply{Exception: &Exception{Kind: pe.Kind, Message: pe.Message}}
	}
	var nf *wire.NotFoundError
	if errors.As(err, &nf) {
		return &Reply{Exception: &Exception{Kind: wire.NotFound, Message: nf.Error()}}
	}
	return &Reply{Exception: &Exception{Kind: wire.Application, Message: err.Error()}}
}

// Server exposes a wire.Connection over gRPC.
type Server struct {
	inner   *grpc.Server
	logger  *zap.Logger
	metrics *grpcprom.ServerMetrics
}

type ServerOption func(*Server)

func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithServerMetrics records per-method gRPC metrics. The caller registers m
// with its Prometheus registry.
func WithServerMetrics(m *grpcprom.ServerMetrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

func NewServer(backend wire.Connection, opts ...ServerOption) *Server {
	s := &Server{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	panicked := func(p any) error {
		s.logger.Error("panic while handling request", zap.Any("panic", p))
		return status.Errorf(codes.Internal, "%v", p)
	}
	var interceptors []grpc.UnaryServerInterceptor
	if s.metrics != nil {
		interceptors = append(interceptors, s.metrics.UnaryServerInterceptor())
	}
	interceptors = append(interceptors,
		logging.UnaryServerInterceptor(InterceptorLogger(s.logger)),
		recovery.UnaryServerInterceptor(recovery.WithRecoveryHandler(panicked)),
	)

	s.inner = grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	s.inner.RegisterService(&serviceDesc, backend)
	if s.metrics != nil {
		s.metrics.InitializeMetrics(s.inner)
	}
	return s
}

// Serve accepts connections on lis until Stop or GracefulStop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("serving", zap.String("address", lis.Addr().String()))
	return s.inner.Serve(lis)
}

func (s *Server) GracefulStop() { s.inner.GracefulStop() }

func (s *Server) Stop() { s.inner.Stop() }
