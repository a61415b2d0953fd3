package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"DocSage/backend/go/internal/config"
)

// helper function to create a mock config for testing
func newTestConfig() *config.AppConfig {
	return &config.AppConfig{
		Middleware: config.MiddlewareConfig{
			RateLimiter: config.RateLimiterConfig{
				Enabled:   true,
				Algorithm: "tokenBucket",
				TokenBucket: config.TokenBucketConfig{
					Rate:     10,
					Capacity: 5,
				},
			},
			CircuitBreaker: config.CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 2, // Open after 2 consecutive failures
				SuccessThreshold: 2,
				Timeout:          "10s",
			},
		},
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestNewServer_WithAddress(t *testing.T) {
	srv, err := NewServer(newTestConfig(), okHandler(), WithAddress(":9999"))
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if srv.Addr() != ":9999" {
		t.Errorf("Expected server address to be :9999, but got %s", srv.Addr())
	}

	srv, err = NewServer(&config.AppConfig{}, okHandler())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if srv.Addr() != ":8080" {
		t.Errorf("Expected default address :8080, got %s", srv.Addr())
	}
}

func TestNewServer_InvalidMiddlewareConfig(t *testing.T) {
	cfg := newTestConfig()
	cfg.Middleware.CircuitBreaker.Timeout = "later"
	if _, err := NewServer(cfg, okHandler()); err == nil {
		t.Fatal("Expected an error for an invalid breaker timeout")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	cfg := newTestConfig()
	cfg.Middleware.RateLimiter.TokenBucket.Capacity = 2
	cfg.Middleware.RateLimiter.TokenBucket.Rate = 1

	srv, err := NewServer(cfg, okHandler())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	testServer := httptest.NewServer(srv.Handler())
	defer testServer.Close()

	// First 2 requests should pass (equal to capacity)
	for i := 0; i < 2; i++ {
		resp, err := http.Get(testServer.URL)
		if err != nil {
			t.Fatalf("Request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected status OK on request %d, got %d", i+1, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp, err := http.Get(testServer.URL)
	if err != nil {
		t.Fatalf("Request 3 failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected status TooManyRequests on request 3, got %d", resp.StatusCode)
	}
}

func TestCircuitBreakerMiddleware(t *testing.T) {
	cfg := newTestConfig()
	cfg.Middleware.RateLimiter.Enabled = false

	mux := http.NewServeMux()
	mux.HandleFunc("/fail", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	})
	mux.HandleFunc("/degraded", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	srv, err := NewServer(cfg, mux)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	testServer := httptest.NewServer(srv.Handler())
	defer testServer.Close()

	// 503 from the application must not count as a failure
	for i := 0; i < 3; i++ {
		resp, err := http.Get(testServer.URL + "/degraded")
		if err != nil {
			t.Fatalf("Degraded request %d failed: %v", i+1, err)
		}
		resp.Body.Close()
	}

	// First 2 requests should fail and trip the circuit
	for i := 0; i < 2; i++ {
		resp, err := http.Get(testServer.URL + "/fail")
		if err != nil {
			t.Fatalf("Request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("Expected status InternalServerError on request %d, got %d", i+1, resp.StatusCode)
		}
		resp.Body.Close()
	}

	// The 3rd request should be blocked by the open circuit breaker
	resp, err := http.Get(testServer.URL + "/fail")
	if err != nil {
		t.Fatalf("Request 3 failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status ServiceUnavailable on request 3, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Circuit Breaker is open") {
		t.Errorf("Expected body to contain 'Circuit Breaker is open', got '%s'", string(body))
	}
}
