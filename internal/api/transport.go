package api

import (
	"context"
	"io"
	"net/http"

	"golang.org/x/sync/singleflight"
)

// TokenSource supplies and refreshes the bearer token.
type TokenSource interface {
	AccessToken() string
	RefreshAccessToken(ctx context.Context) (string, error)
}

// AuthTransport adds the bearer token to each request. On a 401 it waits
// for one shared refresh and retries the request once.
type AuthTransport struct {
	Base   http.RoundTripper
	Tokens TokenSource
	Logger LogWriter

	refresh singleflight.Group
}

// NewAuthTransport wraps base, or http.DefaultTransport when base is nil.
func NewAuthTransport(base http.RoundTripper, tokens TokenSource, logger LogWriter) *AuthTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &AuthTransport{Base: base, Tokens: tokens, Logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	used := t.Tokens.AccessToken()
	resp, err := t.Base.RoundTrip(withBearer(req, used))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Body != nil && req.GetBody == nil {
		// The body was consumed and cannot be replayed.
		return resp, nil
	}

	token, err := t.freshToken(req.Context(), used)
	if err != nil || token == "" || token == used {
		t.Logger.Debug("api: token refresh after 401 failed: %v", err)
		return resp, nil
	}

	retry := withBearer(req, token)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return t.Base.RoundTrip(retry)
}

// freshToken returns a token newer than used. When another request already
// refreshed, its token is reused; otherwise concurrent callers share one refresh.
func (t *AuthTransport) freshToken(ctx context.Context, used string) (string, error) {
	if cur := t.Tokens.AccessToken(); cur != "" && cur != used {
		return cur, nil
	}
	v, err, _ := t.refresh.Do("refresh", func() (any, error) {
		return t.Tokens.RefreshAccessToken(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	token, _ := v.(string)
	return token, nil
}

func withBearer(req *http.Request, token string) *http.Request {
	r := req.Clone(req.Context())
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	} else {
		r.Header.Del("Authorization")
	}
	return r
}
