package embedded

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tserr "github.com/mrz1836/tessera/pkg/errors"
)

func TestStateHub_LatestWins(t *testing.T) {
	t.Parallel()
	h := newStateHub()
	ch, cancel := h.subscribe()

	h.set(AuthState{Kind: StateLoading})
	h.set(AuthState{Kind: StateUnauthenticated})

	got := <-ch
	assert.Equal(t, StateUnauthenticated, got.Kind)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Setting after cancel must not panic.
	h.set(AuthState{Kind: StateLoading})
}

func TestSiwsCell(t *testing.T) {
	t.Parallel()
	var c siwsCell
	p := PendingSiwsParams{Domain: "d", URI: "u", WalletAddress: "a"}

	_, err := c.consume("x")
	require.ErrorIs(t, err, tserr.ErrNoPendingChallenge)

	c.set(p)
	_, err = c.consume("x")
	require.ErrorIs(t, err, tserr.ErrNoPendingChallenge, "params without message are not consumable")

	c.set(p)
	require.True(t, c.setMessage(p, "msg"))
	got, err := c.consume("msg")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	c.set(p)
	other := PendingSiwsParams{Domain: "d", URI: "u", WalletAddress: "b"}
	assert.False(t, c.setMessage(other, "msg"))
}

func TestStateKind_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "unknown", StateKind(99).String())
}
