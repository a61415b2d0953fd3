package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientDoJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "acme", r.Header.Get("X-Company-ID"))
			_, _ = w.Write([]byte(`{"answer":"yes"}`))
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"answer":"partial"}`))
		}
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL+"/", config.CircuitBreakerConfig{}, WithHeader("X-Company-ID", "acme"))
	require.NoError(t, err)

	var out struct {
		Answer string `json:"answer"`
	}
	require.NoError(t, c.DoJSON(context.Background(), http.MethodPost, "/ok", map[string]string{"q": "x"}, &out))
	assert.Equal(t, "yes", out.Answer)

	err = c.DoJSON(context.Background(), http.MethodGet, "/missing", nil, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "not found", se.Message)

	out.Answer = ""
	err = c.DoJSON(context.Background(), http.MethodGet, "/degraded", nil, &out)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "partial", out.Answer)
}

func TestClientBreakerOpens(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, config.CircuitBreakerConfig{
		Enabled: true, FailureThreshold: 2, SuccessThreshold: 1, Timeout: "1m",
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		err := c.DoJSON(context.Background(), http.MethodGet, "/", nil, nil)
		var se *StatusError
		require.ErrorAs(t, err, &se)
	}
	err = c.DoJSON(context.Background(), http.MethodGet, "/", nil, nil)
	assert.True(t, errors.Is(err, circuitbreaker.ErrCircuitOpen))
}
