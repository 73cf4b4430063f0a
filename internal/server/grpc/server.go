package grpcserver

import (
	"context"
	"crypto/subtle"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	kvv1 "github.com/rzbill/kvdb/api/kv/v1"
	"github.com/rzbill/kvdb/internal/runtime"
	logpkg "github.com/rzbill/kvdb/pkg/log"
)

// Server owns the gRPC server instance and runtime.
type Server struct {
	rt     *runtime.Runtime
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
	logger logpkg.Logger
}

// New constructs a gRPC server and registers the KV and health services.
// When auth is enabled every KV call must carry "authorization: Bearer <key>".
func New(rt *runtime.Runtime, logger logpkg.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	logger = logger.WithComponent("grpc")
	cfg := rt.Config()
	if cfg.EnableAuth {
		opts = append(opts,
			grpc.ChainUnaryInterceptor(unaryAuth(cfg.APIKey)),
			grpc.ChainStreamInterceptor(streamAuth(cfg.APIKey)))
	}
	s := &Server{rt: rt, grpc: grpc.NewServer(opts...), health: health.NewServer(), logger: logger}
	kvv1.RegisterKVServer(s.grpc, &kvSvc{rt: rt, logger: logger})
	healthpb.RegisterHealthServer(s.grpc, &healthSvc{rt: rt, Server: s.health})
	return s
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve accepts on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.lis = l
	s.logger.Info("grpc listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	if s.grpc != nil {
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func authorized(ctx context.Context, apiKey string) error {
	md, _ := metadata.FromIncomingContext(ctx)
	for _, v := range md.Get("authorization") {
		got, ok := strings.CutPrefix(v, "Bearer ")
		if ok && subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(apiKey)) == 1 {
			return nil
		}
	}
	return status.Error(codes.PermissionDenied, "forbidden")
}

// health checks stay open so orchestrators can probe without the key.
func exempt(method string) bool {
	return strings.HasPrefix(method, "/grpc.health.v1.Health/")
}

func unaryAuth(apiKey string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !exempt(info.FullMethod) {
			if err := authorized(ctx, apiKey); err != nil {
				return nil, err
			}
		}
		return handler(ctx, req)
	}
}

func streamAuth(apiKey string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !exempt(info.FullMethod) {
			if err := authorized(ss.Context(), apiKey); err != nil {
				return err
			}
		}
		return handler(srv, ss)
	}
}
