// Package rpc provides a minimal Solana JSON-RPC 2.0 client and a transaction
// broadcaster built on it.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mrz1836/tessera/internal/chain"
	"github.com/mrz1836/tessera/internal/metrics"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// maxResponseBody bounds RPC response bodies.
const maxResponseBody int64 = 4 << 20

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Client is a minimal Solana JSON-RPC client. When fallback endpoints are
// set, a call that fails at the transport or is rate limited moves on to the
// next endpoint.
type Client struct {
	url        string
	fallbacks  []string
	httpClient *http.Client
	idCounter  atomic.Uint64
	limiter    *chain.RateLimiter
	metrics    *metrics.Metrics
	logger     LogWriter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithFallbacks adds endpoints tried in order after the primary.
func WithFallbacks(urls ...string) Option {
	return func(c *Client) {
		for _, u := range urls {
			if u != "" && u != c.url {
				c.fallbacks = append(c.fallbacks, u)
			}
		}
	}
}

// WithRateLimiter sets the per-host rate limiter. A nil limiter disables limiting.
func WithRateLimiter(rl *chain.RateLimiter) Option {
	return func(c *Client) { c.limiter = rl }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l LogWriter) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a new RPC client for the endpoint URL.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		metrics:    metrics.Global,
		logger:     nopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the primary endpoint URL.
func (c *Client) URL() string {
	return c.url
}

// Endpoints returns the primary endpoint followed by the fallbacks.
func (c *Client) Endpoints() []string {
	return append([]string{c.url}, c.fallbacks...)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by a reachable RPC node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Call performs a JSON-RPC call. Transport failures are returned as
// ErrNetworkError; node error objects are returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	start := time.Now()
	result, err := c.call(ctx, method, params)
	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, time.Since(start), err)
	}
	return result, err
}

func (c *Client) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}

	var lastErr error
	for _, endpoint := range c.Endpoints() {
		result, err := c.callEndpoint(ctx, endpoint, method, params)
		if err == nil || !failover(err) || ctx.Err() != nil {
			return result, err
		}
		c.logger.Debug("rpc %s failed on %s: %v", method, endpoint, err)
		lastErr = err
	}
	return nil, lastErr
}

// failover reports whether another endpoint may succeed where this one did
// not. Error objects from a reachable node are final.
func failover(err error) bool {
	return errors.Is(err, tserr.ErrNetworkError) || errors.Is(err, chain.ErrRateLimited)
}

func (c *Client) callEndpoint(ctx context.Context, endpoint, method string, params []any) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, endpoint); err != nil {
			return nil, err
		}
	}

	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.idCounter.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Debug("rpc %s transport error: %v", method, err)
		return nil, tserr.WithCause(tserr.ErrNetworkError, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, tserr.WithCause(tserr.ErrNetworkError, fmt.Errorf("reading response body: %w", err))
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, tserr.WithDetails(chain.ErrRateLimited, map[string]string{"method": method})
	}

	var resp response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, tserr.WithDetails(tserr.ErrRPC, map[string]string{
			"method": method,
			"status": fmt.Sprintf("%d", httpResp.StatusCode),
		})
	}

	if resp.Error != nil {
		return nil, resp.Error
	}

	return resp.Result, nil
}
