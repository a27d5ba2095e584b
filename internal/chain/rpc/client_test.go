package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/tessera/internal/chain"
	"github.com/mrz1836/tessera/internal/metrics"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

const testAddress = "11111111111111111111111111111111"

// rpcServer answers every call with handler(method, params).
func rpcServer(t *testing.T, handler func(method string, params []any) (any, *RPCError)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCall_Result(t *testing.T) {
	t.Parallel()
	server := rpcServer(t, func(method string, _ []any) (any, *RPCError) {
		assert.Equal(t, "getHealth", method)
		return "ok", nil
	})

	client := NewClient(server.URL, WithMetrics(metrics.New()))
	result, err := client.Call(context.Background(), "getHealth")
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(result))
}

func TestCall_RPCError(t *testing.T) {
	t.Parallel()
	server := rpcServer(t, func(string, []any) (any, *RPCError) {
		return nil, &RPCError{Code: -32602, Message: "Invalid params"}
	})

	_, err := NewClient(server.URL).Call(context.Background(), "getBalance")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32602, rpcErr.Code)
	assert.False(t, chain.IsNetworkError(err))
}

func TestCall_TransportErrorIsNetworkError(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(url).Call(context.Background(), "getHealth")
	require.ErrorIs(t, err, tserr.ErrNetworkError)
	assert.True(t, chain.IsNetworkError(err))
}

func TestCall_NonJSONBody(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Call(context.Background(), "getHealth")
	require.ErrorIs(t, err, tserr.ErrRPC)
}

func TestCall_TooManyRequests(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Call(context.Background(), "getHealth")
	require.ErrorIs(t, err, chain.ErrRateLimited)
}

func TestCall_FailsOver(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		primary func() string
	}{
		{"unreachable", func() string {
			dead := httptest.NewServer(http.NotFoundHandler())
			dead.Close()
			return dead.URL
		}},
		{"rate limited", func() string {
			limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			}))
			t.Cleanup(limited.Close)
			return limited.URL
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			backup := rpcServer(t, func(string, []any) (any, *RPCError) { return "ok", nil })

			client := NewClient(tt.primary(), WithFallbacks(backup.URL))
			result, err := client.Call(context.Background(), "getHealth")
			require.NoError(t, err)
			assert.JSONEq(t, `"ok"`, string(result))
		})
	}
}

func TestCall_NodeErrorDoesNotFailOver(t *testing.T) {
	t.Parallel()
	primary := rpcServer(t, func(string, []any) (any, *RPCError) {
		return nil, &RPCError{Code: -32602, Message: "invalid params"}
	})
	var backupCalls atomic.Int32
	backup := rpcServer(t, func(string, []any) (any, *RPCError) {
		backupCalls.Add(1)
		return "ok", nil
	})

	_, err := NewClient(primary.URL, WithFallbacks(backup.URL)).Call(context.Background(), "getHealth")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int32(0), backupCalls.Load())
}

func TestEndpoints_SkipsDuplicates(t *testing.T) {
	t.Parallel()
	client := NewClient("https://a.example", WithFallbacks("", "https://a.example", "https://b.example"))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, client.Endpoints())
}

func TestCall_RateLimited(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	server := rpcServer(t, func(string, []any) (any, *RPCError) {
		calls.Add(1)
		return "ok", nil
	})

	client := NewClient(server.URL, WithRateLimiter(chain.NewRateLimiter(1, 1)))
	_, err := client.Call(context.Background(), "getHealth")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Call(ctx, "getHealth")
	require.Error(t, err, "second call must wait for the limiter and hit the deadline")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetSignatureStatuses(t *testing.T) {
	t.Parallel()
	server := rpcServer(t, func(method string, params []any) (any, *RPCError) {
		assert.Equal(t, "getSignatureStatuses", method)
		assert.Len(t, params, 2)
		return map[string]any{
			"context": map[string]any{"slot": 100},
			"value": []any{
				map[string]any{"slot": 99, "confirmations": 3, "err": nil, "confirmationStatus": "confirmed"},
				nil,
			},
		}, nil
	})

	statuses, err := NewClient(server.URL).GetSignatureStatuses(context.Background(), "sig1", "sig2")
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	require.NotNil(t, statuses[0])
	assert.Equal(t, "confirmed", statuses[0].ConfirmationStatus)
	assert.False(t, statuses[0].Failed())
	assert.Nil(t, statuses[1])
}

func TestGetBalance(t *testing.T) {
	t.Parallel()
	server := rpcServer(t, func(method string, _ []any) (any, *RPCError) {
		assert.Equal(t, "getBalance", method)
		return map[string]any{"context": map[string]any{"slot": 1}, "value": 1_500_000_000}, nil
	})

	balance, err := NewClient(server.URL).GetBalance(context.Background(), testAddress, chain.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), balance)
}

func TestGetBalance_InvalidAddress(t *testing.T) {
	t.Parallel()
	_, err := NewClient("http://127.0.0.1:0").GetBalance(context.Background(), "not-base58-0OIl", chain.CommitmentConfirmed)
	require.Error(t, err)
}

func TestGetLatestBlockhash(t *testing.T) {
	t.Parallel()
	server := rpcServer(t, func(method string, _ []any) (any, *RPCError) {
		assert.Equal(t, "getLatestBlockhash", method)
		return map[string]any{
			"context": map[string]any{"slot": 1},
			"value":   map[string]any{"blockhash": "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N", "lastValidBlockHeight": 3090},
		}, nil
	})

	bh, err := NewClient(server.URL).GetLatestBlockhash(context.Background(), chain.CommitmentFinalized)
	require.NoError(t, err)
	assert.Equal(t, "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N", bh.Blockhash.String())
	assert.Equal(t, uint64(3090), bh.LastValidBlockHeight)
}
