package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/tessera/internal/chain"
	"github.com/mrz1836/tessera/internal/output"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

const testAddress = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

func TestReadTransactionArg(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		arg     string
		stdin   string
		want    string
		wantErr bool
	}{
		{name: "inline", arg: "  AQAB  ", want: "AQAB"},
		{name: "stdin", arg: "-", stdin: "AQID\n", want: "AQID"},
		{name: "empty stdin", arg: "-", stdin: "  \n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := readTransactionArg(strings.NewReader(tt.stdin), tt.arg)
			if tt.wantErr {
				require.ErrorIs(t, err, tserr.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// NOT parallel: the following tests use package-level globals.

func TestCommitment(t *testing.T) {
	_, cleanup := setupTestEnv(t)
	defer cleanup()
	defer func() { txCommitment = "" }()

	cfg.Broadcast.Commitment = "finalized"
	txCommitment = ""
	assert.Equal(t, chain.CommitmentFinalized, commitment())

	txCommitment = "processed"
	assert.Equal(t, chain.CommitmentProcessed, commitment(), "the flag wins over config")

	txCommitment = "bogus"
	assert.Equal(t, chain.CommitmentConfirmed, commitment())
}

func TestWarnWalletSelection(t *testing.T) {
	_, cleanup := setupTestEnv(t)
	defer cleanup()
	openTestAuth(t, cmdCtx)
	seedWallets(t)
	cmdCtx.openTx()

	cmd, _ := newTestCmd()
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)

	assert.False(t, warnWalletSelection(cmd), "a remembered app signs directly")
	assert.Empty(t, stderr.String())

	require.NoError(t, runWalletPicker(cmd, nil))
	assert.True(t, warnWalletSelection(cmd))
	assert.Contains(t, stderr.String(), "tessera wallet use")
}

// balanceNode answers getBalance with lamports and counts calls.
func balanceNode(t *testing.T, lamports uint64, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "getBalance", req.Method)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]any{"context": map[string]any{"slot": 1}, "value": lamports},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runBalanceJSON(t *testing.T) (balanceReport, error) {
	t.Helper()
	cmd, buf := newTestCmd()
	if err := runBalance(cmd, []string{testAddress}); err != nil {
		return balanceReport{}, err
	}
	var report balanceReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	return report, nil
}

func TestRunBalance_CachesAndFallsBack(t *testing.T) {
	_, cleanup := setupTestEnv(t)
	defer cleanup()
	formatter = output.NewFormatter(output.FormatJSON, nil)

	var calls atomic.Int32
	srv := balanceNode(t, 2_500_000_000, &calls)
	cfg.Network.Cluster = "devnet"
	cfg.Network.RPC = srv.URL

	report, err := runBalanceJSON(t)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_500_000_000), report.Lamports)
	assert.Equal(t, "2.5", report.SOL)
	assert.False(t, report.Cached)

	// The node goes away. A fresh context sees the outage.
	srv.Close()
	cmdCtx = NewCommandContext(cfg, logger, formatter)

	report, err = runBalanceJSON(t)
	require.NoError(t, err)
	assert.True(t, report.Cached)
	assert.Equal(t, uint64(2_500_000_000), report.Lamports)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunBalance_CachedFlag(t *testing.T) {
	_, cleanup := setupTestEnv(t)
	defer cleanup()
	defer func() { balanceCached = false }()
	formatter = output.NewFormatter(output.FormatJSON, nil)

	var calls atomic.Int32
	cfg.Network.RPC = balanceNode(t, 42, &calls).URL

	_, err := runBalanceJSON(t)
	require.NoError(t, err)

	balanceCached = true
	report, err := runBalanceJSON(t)
	require.NoError(t, err)
	assert.True(t, report.Cached)
	assert.Equal(t, uint64(42), report.Lamports)
	assert.Equal(t, int32(1), calls.Load(), "a fresh cached balance skips the node")
}

func TestRunBalance_NoCacheNoNode(t *testing.T) {
	_, cleanup := setupTestEnv(t)
	defer cleanup()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	cfg.Network.RPC = srv.URL

	cmd, _ := newTestCmd()
	err := runBalance(cmd, []string{testAddress})
	require.ErrorIs(t, err, tserr.ErrNetworkError)
}

func TestRunBalance_TextOutput(t *testing.T) {
	_, cleanup := setupTestEnv(t)
	defer cleanup()

	var calls atomic.Int32
	cfg.Network.Cluster = "devnet"
	cfg.Network.RPC = balanceNode(t, 1_000_000_000, &calls).URL

	cmd, buf := newTestCmd()
	require.NoError(t, runBalance(cmd, []string{testAddress}))
	assert.Equal(t, "1.0 SOL  "+testAddress+" (devnet)\n", buf.String())
}
