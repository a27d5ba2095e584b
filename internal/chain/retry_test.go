package chain_test

import (
	"context"
	"errors"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/tessera/internal/chain"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

var (
	errNonRetryable = errors.New("non-retryable error")
	errSomeError    = errors.New("some error")
)

func fastConfig(attempts int) chain.RetryConfig {
	return chain.RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetry_SuccessFirstAttempt(t *testing.T) {
	t.Parallel()
	attempts := 0
	result, err := chain.Retry(context.Background(), func() (string, error) {
		attempts++
		return "success", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, 1, attempts)
}

func TestRetry_SuccessAfterRetry(t *testing.T) {
	t.Parallel()
	attempts := 0
	result, err := chain.RetryWithConfig(context.Background(), fastConfig(4), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", chain.ErrRetryable
		}
		return "success", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonRetryableError(t *testing.T) {
	t.Parallel()
	attempts := 0
	_, err := chain.RetryWithConfig(context.Background(), fastConfig(4), func() (string, error) {
		attempts++
		return "", errNonRetryable
	})

	require.ErrorIs(t, err, errNonRetryable)
	assert.Equal(t, 1, attempts)
}

func TestRetry_MaxAttempts(t *testing.T) {
	t.Parallel()
	attempts := 0
	_, err := chain.RetryWithConfig(context.Background(), fastConfig(4), func() (string, error) {
		attempts++
		return "", chain.ErrRetryable
	})

	require.ErrorIs(t, err, chain.ErrRetryable)
	assert.Equal(t, 4, attempts)
}

func TestRetry_ContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := chain.Retry(ctx, func() (string, error) {
		attempts++
		return "", chain.ErrRetryable
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, attempts, 4)
}

func TestRetry_FixedDelayAndHooks(t *testing.T) {
	t.Parallel()
	cfg := chain.BroadcastRetryConfig(5 * time.Millisecond)

	var retried []int
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	attempts := 0
	start := time.Now()
	_, err := chain.RetryWithConfig(context.Background(), cfg, func() (int, error) {
		attempts++
		return 0, &net.DNSError{Err: "no such host", Name: "rpc.invalid"}
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestRetry_BroadcastPolicyIgnoresServerErrors(t *testing.T) {
	t.Parallel()
	attempts := 0
	_, err := chain.RetryWithConfig(context.Background(), chain.BroadcastRetryConfig(time.Millisecond), func() (int, error) {
		attempts++
		return 0, tserr.ErrRPC
	})

	require.ErrorIs(t, err, tserr.ErrRPC)
	assert.Equal(t, 1, attempts)
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	assert.True(t, chain.IsRetryable(chain.ErrRetryable))
	assert.True(t, chain.IsRetryable(tserr.ErrTimeout))
	assert.True(t, chain.IsRetryable(chain.ErrRateLimited))
	assert.True(t, chain.IsRetryable(context.DeadlineExceeded))

	assert.False(t, chain.IsRetryable(errSomeError))
	assert.False(t, chain.IsRetryable(nil))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsNetworkError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"dns", &net.DNSError{Err: "no such host", Name: "x"}, true},
		{"op error", &net.OpError{Op: "dial", Err: errSomeError}, true},
		{"refused", syscall.ECONNREFUSED, true},
		{"url timeout", &url.Error{Op: "Post", URL: "https://x", Err: timeoutErr{}}, true},
		{"tessera network", tserr.WithCause(tserr.ErrNetworkError, errSomeError), true},
		{"rpc error", tserr.ErrRPC, false},
		{"plain", errSomeError, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, chain.IsNetworkError(tt.err))
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		header   string
		expected time.Duration
	}{
		{"5", 5 * time.Second},
		{"120", 120 * time.Second},
		{"0", 0},
		{"", 0},
		{"invalid", 0},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, chain.ParseRetryAfter(tt.header))
		})
	}
}

func TestWrapRetryable(t *testing.T) {
	t.Parallel()
	require.NoError(t, chain.WrapRetryable(nil))
	err := chain.WrapRetryable(errSomeError)
	assert.True(t, chain.IsRetryable(err))
	require.ErrorIs(t, err, errSomeError)
}
