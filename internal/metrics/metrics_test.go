package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tserr "github.com/mrz1836/tessera/pkg/errors"
)

func TestMetrics_RecordRPCCall(t *testing.T) {
	t.Parallel()
	m := New()

	m.RecordRPCCall("sendTransaction", 100*time.Millisecond, nil)
	m.RecordRPCCall("sendTransaction", 50*time.Millisecond, tserr.ErrBlockhashExpired)

	assert.InDelta(t, 2.0, testutil.ToFloat64(m.rpcCalls.WithLabelValues("sendTransaction")), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.rpcErrors.WithLabelValues("sendTransaction", "BLOCKHASH_EXPIRED")), 0.001)
}

func TestMetrics_RecordRPCRetry(t *testing.T) {
	t.Parallel()
	m := New()
	m.RecordRPCRetry("sendTransaction")
	m.RecordRPCRetry("sendTransaction")
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.rpcRetries.WithLabelValues("sendTransaction")), 0.001)
}

func TestMetrics_RecordSignOp(t *testing.T) {
	t.Parallel()
	m := New()

	m.RecordSignOp("embedded", nil)
	m.RecordSignOp("mwa", tserr.ErrUserCancelled)
	m.RecordSignOp("mwa", tserr.ErrWalletRejected)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.signOps.WithLabelValues("embedded", OutcomeSuccess)), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.signOps.WithLabelValues("mwa", OutcomeCancelled)), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.signOps.WithLabelValues("mwa", OutcomeError)), 0.001)
}

func TestMetrics_AuthAndFallback(t *testing.T) {
	t.Parallel()
	m := New()

	m.RecordAuthFlow("siws", nil)
	m.RecordFallback("two_step")

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.authFlows.WithLabelValues("siws", OutcomeSuccess)), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("two_step")), 0.001)
}

func TestMetrics_RegistryGathers(t *testing.T) {
	t.Parallel()
	m := New()
	m.RecordAuthFlow("email", nil)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
