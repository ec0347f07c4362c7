// Package httpx is the outbound HTTP layer shared by provider adapters:
// per-call timeouts and a per-provider circuit breaker so one provider outage
// cannot pile up goroutines waiting on a dead API.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// Client wraps an http.Client with a circuit breaker for one provider.
type Client struct {
	provider string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// breakerNotify observes open transitions. Set once at startup, before any
// adapter is built.
var breakerNotify func(provider string)

func SetBreakerNotify(fn func(provider string)) {
	breakerNotify = fn
}

// New builds a breaker-wrapped client. A non-nil override replaces the
// underlying http.Client (used by tests and sandbox stubs).
func New(provider string, timeout time.Duration, override *http.Client) *Client {
	hc := override
	if hc == nil {
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen && breakerNotify != nil {
				breakerNotify(name)
			}
		},
	})

	return &Client{provider: provider, http: hc, breaker: breaker}
}

// Do executes the request through the circuit breaker. Server errors (5xx)
// count as failures; client errors do not, since a 4xx means the provider is
// alive and talking.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			resp.Body = io.NopCloser(bytes.NewReader(body))
			return resp, fmt.Errorf("%s: server error %d", c.provider, resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		if resp, ok := result.(*http.Response); ok && resp != nil {
			return resp, err
		}
		return nil, fmt.Errorf("%s: %w", c.provider, err)
	}
	return result.(*http.Response), nil
}

// Request describes one provider API call for DoJSON.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	// BasicUser/BasicPass set HTTP Basic auth when BasicUser is non-empty.
	BasicUser string
	BasicPass string
	// Body is JSON-encoded when non-nil; RawBody wins when set.
	Body    any
	RawBody []byte
}

// DoJSON performs the call and decodes a JSON response body into out when out
// is non-nil. It returns the status code and raw body either way.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) (int, []byte, error) {
	var bodyReader io.Reader
	switch {
	case req.RawBody != nil:
		bodyReader = bytes.NewReader(req.RawBody)
	case req.Body != nil:
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return 0, nil, fmt.Errorf("%s: encode request: %w", c.provider, err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: build request: %w", c.provider, err)
	}
	if req.Body != nil && req.RawBody == nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if req.BasicUser != "" {
		httpReq.SetBasicAuth(req.BasicUser, req.BasicPass)
	}

	resp, err := c.Do(httpReq)
	if err != nil && resp == nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return resp.StatusCode, nil, fmt.Errorf("%s: read response: %w", c.provider, readErr)
	}
	if err != nil {
		return resp.StatusCode, raw, err
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, raw, fmt.Errorf("%s: decode response: %w", c.provider, err)
		}
	}
	return resp.StatusCode, raw, nil
}
