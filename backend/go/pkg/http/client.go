package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/pkg/circuitbreaker"
)

// StatusError is returned by DoJSON for responses with a status >= 400.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Message)
}

// Client calls a JSON API behind an optional circuit breaker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    circuitbreaker.CircuitBreaker
	header     http.Header
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		if value != "" {
			c.header.Set(key, value)
		}
	}
}

// NewClient creates a Client for baseURL. The breaker is only used when cfg.Enabled.
func NewClient(baseURL string, cfg config.CircuitBreakerConfig, opts ...ClientOption) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		header:     http.Header{},
	}
	if cfg.Enabled {
		breaker, err := circuitbreaker.FromConfig(cfg)
		if err != nil {
			return nil, err
		}
		c.breaker = breaker
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do executes an HTTP request with circuit breaker protection. Status codes
// >= 500 count as breaker failures but the response is still returned.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for k, v := range c.header {
		if req.Header.Get(k) == "" {
			req.Header[k] = v
		}
	}
	if c.breaker == nil {
		return c.httpClient.Do(req)
	}

	var resp *http.Response
	_, err := c.breaker.Execute(func() (interface{}, error) {
		var err error
		resp, err = c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("server error: received status code %d", resp.StatusCode)
		}
		return resp, nil
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || resp == nil {
		return nil, err
	}
	return resp, nil
}

// DoJSON sends in as the JSON body of method path and decodes the response
// into out. The body is decoded even for error statuses, so a partial result
// comes back together with a *StatusError.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if out != nil && len(data) > 0 {
		if derr := json.Unmarshal(data, out); derr != nil && resp.StatusCode < http.StatusBadRequest {
			return fmt.Errorf("decode response: %w", derr)
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}
	return nil
}
