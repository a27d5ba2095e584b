// Package cache remembers the last balance fetched for each address so the
// CLI can answer while the RPC endpoint is unreachable.
package cache

import (
	"sync"
	"time"
)

// DefaultStaleness is how long an entry is served without a refresh.
const DefaultStaleness = 5 * time.Minute

// DefaultRetention is how long an entry is kept as an offline fallback.
const DefaultRetention = 30 * 24 * time.Hour

// Entry is one cached balance.
type Entry struct {
	Cluster   string    `json:"cluster"`
	Address   string    `json:"address"`
	Lamports  uint64    `json:"lamports"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BalanceCache maps cluster and address to the last known balance.
type BalanceCache struct {
	mu      sync.RWMutex     `json:"-"`
	Entries map[string]Entry `json:"entries"`

	now func() time.Time
}

// NewBalanceCache creates an empty cache.
func NewBalanceCache() *BalanceCache {
	return &BalanceCache{Entries: make(map[string]Entry)}
}

// Key is the map key for cluster and address.
func Key(cluster, address string) string {
	return cluster + ":" + address
}

func (c *BalanceCache) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Get returns the entry for cluster and address and its age.
func (c *BalanceCache) Get(cluster, address string) (Entry, bool, time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.Entries[Key(cluster, address)]
	if !ok {
		return Entry{}, false, 0
	}
	return entry, true, c.clock().Sub(entry.UpdatedAt)
}

// Set records lamports for cluster and address, stamped with the current time.
func (c *BalanceCache) Set(cluster, address string, lamports uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Entries[Key(cluster, address)] = Entry{
		Cluster:   cluster,
		Address:   address,
		Lamports:  lamports,
		UpdatedAt: c.clock(),
	}
}

// Delete removes every cluster's entry for address.
func (c *BalanceCache) Delete(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.Entries {
		if entry.Address == address {
			delete(c.Entries, key)
		}
	}
}

// Prune removes entries older than maxAge and returns how many went.
func (c *BalanceCache) Prune(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.clock().Add(-maxAge)
	removed := 0
	for key, entry := range c.Entries {
		if entry.UpdatedAt.Before(cutoff) {
			delete(c.Entries, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of entries.
func (c *BalanceCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Entries)
}
