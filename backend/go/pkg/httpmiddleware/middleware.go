package httpmiddleware

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/pkg/circuitbreaker"
	"DocSage/backend/go/pkg/logger"
	"DocSage/backend/go/pkg/ratelimiter"
)

// RateLimit 对整个 HTTP Handler 做限流，超限时返回 429。
func RateLimit(limiter ratelimiter.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter 包装 http.ResponseWriter 以记录状态码。
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// CircuitBreak 用熔断器包裹 Handler，状态码 >= 500 计为失败。
// 503 不计入，避免检索降级本身把入口熔断。
func CircuitBreak(breaker circuitbreaker.CircuitBreaker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			_, err := breaker.Execute(func() (interface{}, error) {
				next.ServeHTTP(rw, r)
				if rw.statusCode >= http.StatusInternalServerError && rw.statusCode != http.StatusServiceUnavailable {
					return nil, fmt.Errorf("server error: status code %d", rw.statusCode)
				}
				return nil, nil
			})

			if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
				http.Error(w, "Service Unavailable: Circuit Breaker is open", http.StatusServiceUnavailable)
			}
		})
	}
}

// RequestLog 以结构化日志记录每个请求的方法、路径、状态码和耗时。
func RequestLog(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			entry := log.WithRequest(models.RequestInfo{
				Method:     r.Method,
				Path:       r.URL.Path,
				RemoteAddr: r.RemoteAddr,
				UserAgent:  r.UserAgent(),
			}).WithField("status", rw.statusCode).WithField("duration_ms", time.Since(start).Milliseconds())
			if rw.statusCode >= http.StatusInternalServerError {
				entry.Warn("Request completed with server error")
				return
			}
			entry.Debug("Request completed")
		})
	}
}
