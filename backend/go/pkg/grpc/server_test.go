package grpc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"DocSage/backend/go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func check(t *testing.T, s *Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		// 尚未设置状态的服务返回 NotFound
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	}
	return resp.GetStatus()
}

func TestWatchTracksProbe(t *testing.T) {
	s, err := NewServer(&config.AppConfig{}, WithAddress(":0"))
	require.NoError(t, err)

	var serving atomic.Bool
	serving.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Watch(ctx, "rag.embedding", serving.Load, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return check(t, s, "rag.embedding") == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)

	serving.Store(false)
	assert.Eventually(t, func() bool {
		return check(t, s, "rag.embedding") == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestNewServerRejectsBadLimiter(t *testing.T) {
	cfg := &config.AppConfig{}
	cfg.Middleware.RateLimiter.Enabled = true
	cfg.Middleware.RateLimiter.Algorithm = "fixedWindow"
	_, err := NewServer(cfg)
	assert.Error(t, err)
}
