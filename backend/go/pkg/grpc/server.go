package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/pkg/circuitbreaker"
	"DocSage/backend/go/pkg/grpcinterceptor"
	"DocSage/backend/go/pkg/logger"
	"DocSage/backend/go/pkg/ratelimiter"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server 封装标准的 grpc.Server，内置标准健康检查服务和按配置启用的拦截器。
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	address    string
	log        *logger.Logger
}

// ServerOption 定义了用于配置 Server 的函数。
type ServerOption func(*Server)

// WithAddress 设置服务器监听的地址。
func WithAddress(addr string) ServerOption {
	return func(s *Server) {
		s.address = addr
	}
}

// WithLogger 设置日志记录器。
func WithLogger(log *logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// NewServer 根据配置创建 Server，并注册 grpc.health.v1 服务。
func NewServer(cfg *config.AppConfig, opts ...ServerOption) (*Server, error) {
	srv := &Server{log: logger.Discard()}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.address == "" {
		srv.address = ":9090"
	}

	var (
		interceptors []grpc.UnaryServerInterceptor
		streams      []grpc.StreamServerInterceptor
	)

	if cfg.Middleware.RateLimiter.Enabled {
		limiter, err := ratelimiter.FromConfig(cfg.Middleware.RateLimiter)
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		interceptors = append(interceptors, grpcinterceptor.RateLimitUnaryInterceptor(limiter))
		streams = append(streams, grpcinterceptor.RateLimitStreamInterceptor(limiter))
	}

	if cfg.Middleware.CircuitBreaker.Enabled {
		breaker, err := circuitbreaker.FromConfig(cfg.Middleware.CircuitBreaker)
		if err != nil {
			return nil, fmt.Errorf("failed to create circuit breaker: %w", err)
		}
		interceptors = append(interceptors, grpcinterceptor.CircuitBreakUnaryInterceptor(breaker))
		streams = append(streams, grpcinterceptor.CircuitBreakStreamInterceptor(breaker))
	}

	srv.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptors...),
		grpc.ChainStreamInterceptor(streams...),
	)
	srv.health = health.NewServer()
	healthpb.RegisterHealthServer(srv.grpcServer, srv.health)
	return srv, nil
}

// RegisterService 暴露底层的 gRPC RegisterService 方法，用于注册服务实现。
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	s.grpcServer.RegisterService(desc, impl)
}

// SetServing 设置某个服务名的健康状态，空服务名代表整个进程。
func (s *Server) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// Health 返回健康检查服务，主要供测试直接调用 Check。
func (s *Server) Health() healthpb.HealthServer {
	return s.health
}

// Watch 按 every 周期调用 probe，并把结果写入 service 的健康状态，直到 ctx 结束。
func (s *Server) Watch(ctx context.Context, service string, probe func() bool, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	last := probe()
	s.SetServing(service, last)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if now := probe(); now != last {
				s.log.WithField("service", service).WithField("serving", now).Info("Health status changed")
				s.SetServing(service, now)
				last = now
			}
		}
	}
}

// ListenAndServe 开始监听并提供 gRPC 服务。
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	s.log.WithField("address", s.address).Info("Starting gRPC server")
	return s.grpcServer.Serve(lis)
}

// GracefulStop 把所有服务标记为 NOT_SERVING 后优雅停止。
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// GetGRPCServer 返回底层的 *grpc.Server 实例。
func (s *Server) GetGRPCServer() *grpc.Server {
	return s.grpcServer
}
