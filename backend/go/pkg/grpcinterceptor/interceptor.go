package grpcinterceptor

import (
	"context"
	"errors"
	"strings"

	"DocSage/backend/go/pkg/circuitbreaker"
	"DocSage/backend/go/pkg/ratelimiter"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const healthService = "/grpc.health.v1.Health/"

// RateLimitUnaryInterceptor 返回一个 gRPC 一元拦截器，用于限流。
func RateLimitUnaryInterceptor(limiter ratelimiter.RateLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !limiter.Allow() {
			return nil, errRateLimited()
		}
		return handler(ctx, req)
	}
}

// RateLimitStreamInterceptor 在建立流之前限流。
func RateLimitStreamInterceptor(limiter ratelimiter.RateLimiter) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !limiter.Allow() {
			return errRateLimited()
		}
		return handler(srv, ss)
	}
}

// CircuitBreakUnaryInterceptor 返回一个 gRPC 一元拦截器，用于熔断。
// 健康检查不经过熔断器，否则熔断期间无法探测状态。
// 只有服务端错误计入失败，参数错误之类的客户端错误原样返回。
func CircuitBreakUnaryInterceptor(breaker circuitbreaker.CircuitBreaker) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if info != nil && strings.HasPrefix(info.FullMethod, healthService) {
			return handler(ctx, req)
		}
		var clientErr error
		resp, err := breaker.Execute(func() (interface{}, error) {
			resp, err := handler(ctx, req)
			if err != nil && !serverFault(err) {
				clientErr = err
				return resp, nil
			}
			return resp, err
		})
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return nil, errCircuitOpen()
		}
		if clientErr != nil {
			return resp, clientErr
		}
		return resp, err
	}
}

// CircuitBreakStreamInterceptor 是流式调用的熔断拦截器，健康检查的 Watch 同样跳过。
func CircuitBreakStreamInterceptor(breaker circuitbreaker.CircuitBreaker) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if info != nil && strings.HasPrefix(info.FullMethod, healthService) {
			return handler(srv, ss)
		}
		var clientErr error
		_, err := breaker.Execute(func() (interface{}, error) {
			err := handler(srv, ss)
			if err != nil && !serverFault(err) {
				clientErr = err
				return nil, nil
			}
			return nil, err
		})
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return errCircuitOpen()
		}
		if clientErr != nil {
			return clientErr
		}
		return err
	}
}

// serverFault 判断错误是否应当计入熔断器的失败次数。
func serverFault(err error) bool {
	switch status.Code(err) {
	case codes.Internal, codes.Unknown, codes.Unavailable, codes.DeadlineExceeded, codes.DataLoss:
		return true
	}
	return false
}

func errRateLimited() error {
	return status.Errorf(codes.ResourceExhausted, "request rejected due to rate limiting")
}

func errCircuitOpen() error {
	return status.Errorf(codes.Unavailable, "service unavailable: circuit breaker is open")
}
