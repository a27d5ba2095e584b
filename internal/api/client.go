// Package api is the client for the Tessera backend REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mrz1836/tessera/internal/embedded"
)

const (
	// DefaultTimeout bounds each request.
	DefaultTimeout = 30 * time.Second
	// HeaderRequestID carries the per-request correlation ID.
	HeaderRequestID = "X-Request-Id"

	maxResponseBody int64 = 1 << 20
)

// Envelope is the response wrapper every endpoint returns.
type Envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *EnvelopeError  `json:"error,omitempty"`
	Meta      map[string]any  `json:"meta,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// EnvelopeError is the error member of an Envelope.
type EnvelopeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// AuthInitResponse is returned by POST /auth/init.
type AuthInitResponse struct {
	UserID    string `json:"userId"`
	IsNewUser bool   `json:"isNewUser"`
}

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Client calls the backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     LogWriter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. Use it to install an AuthTransport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger sets the logger.
func WithLogger(l LogWriter) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for baseURL, e.g. https://api.tessera.app/v1.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  "tessera",
		logger:     nopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InitAuth registers the signed-in user with the backend.
func (c *Client) InitAuth(ctx context.Context, info embedded.AuthInitInfo) (*AuthInitResponse, error) {
	var out AuthInitResponse
	if err := c.Post(ctx, "/auth/init", info, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get calls GET path and decodes the envelope data into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post calls POST path with a JSON body and decodes the envelope data into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(HeaderRequestID, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Code: CodeNetworkError, Message: err.Error(), RequestID: requestID}
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("api: %s %s -> %d (request %s)", method, path, resp.StatusCode, requestID)

	// These statuses are decided before the body is looked at.
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &Error{Status: resp.StatusCode, Code: CodeAuthRequired, Message: "authentication required", RequestID: requestID}
	case http.StatusTooManyRequests:
		apiErr := &Error{Status: resp.StatusCode, Code: CodeRateLimited, Message: "rate limited", RequestID: requestID}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			apiErr.Details = map[string]any{"retryAfter": ra}
		}
		return apiErr
	case http.StatusNotFound:
		return &Error{Status: resp.StatusCode, Code: CodeNotFound, Message: "not found", RequestID: requestID}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &Error{Status: resp.StatusCode, Code: CodeNetworkError, Message: err.Error(), RequestID: requestID}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		code := CodeUnknown
		if resp.StatusCode >= http.StatusInternalServerError {
			code = CodeServerError
		}
		return &Error{Status: resp.StatusCode, Code: code, Message: "malformed response body", RequestID: requestID}
	}
	if env.RequestID != "" {
		requestID = env.RequestID
	}

	if env.Error != nil || !env.Success {
		apiErr := &Error{Status: resp.StatusCode, Code: CodeUnknown, RequestID: requestID}
		if env.Error != nil {
			apiErr.Code = ParseErrorCode(env.Error.Code)
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		if apiErr.Code == CodeUnknown && resp.StatusCode >= http.StatusInternalServerError {
			apiErr.Code = CodeServerError
		}
		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{Status: resp.StatusCode, Code: CodeUnknown, Message: "malformed response data", RequestID: requestID}
	}
	return nil
}
