package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const addr = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func TestBalanceCache_GetSet(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewBalanceCache()
	c.now = fixedClock(&now)

	_, ok, _ := c.Get("devnet", addr)
	assert.False(t, ok)

	c.Set("devnet", addr, 1_500_000_000)
	now = now.Add(90 * time.Second)

	entry, ok, age := c.Get("devnet", addr)
	require.True(t, ok)
	assert.Equal(t, uint64(1_500_000_000), entry.Lamports)
	assert.Equal(t, 90*time.Second, age)

	_, ok, _ = c.Get("mainnet-beta", addr)
	assert.False(t, ok, "entries are per cluster")
}

func TestBalanceCache_DeleteAndPrune(t *testing.T) {
	t.Parallel()
	now := time.Now()
	c := NewBalanceCache()
	c.now = fixedClock(&now)

	c.Set("devnet", addr, 1)
	c.Set("testnet", addr, 2)
	c.Set("devnet", "other", 3)
	require.Equal(t, 3, c.Size())

	c.Delete(addr)
	assert.Equal(t, 1, c.Size())

	now = now.Add(time.Hour)
	c.Set("devnet", addr, 4)
	assert.Equal(t, 1, c.Prune(30*time.Minute))
	assert.Equal(t, 1, c.Size())
}
